// Package payment implements the pay-per-request challenge protocol: an
// unauthenticated order becomes a priced challenge (HTTP 402), and a retry
// carrying a payment proof becomes an authorized, settled spend. The
// challenge leg has no side effects; the proof leg reserves budget, records
// the spend, and dispatches settlement, compensating on every failure after
// the deduct.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/KayaSend/remit-backend/internal/audit"
	"github.com/KayaSend/remit-backend/internal/catalog"
	"github.com/KayaSend/remit-backend/internal/ledger"
	"github.com/KayaSend/remit-backend/internal/models"
	"github.com/KayaSend/remit-backend/internal/settle"
)

var (
	ErrNotFound     = errors.New("unknown merchant or item")
	ErrInvalidProof = errors.New("malformed payment proof")
)

// DispatchError reports a settlement failure after compensation was
// applied. The transaction id lets the caller trace the failed, refunded
// audit row.
type DispatchError struct {
	TxID string
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("settlement dispatch failed for tx %s: %v", e.TxID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Terms are the payment rails quoted in every challenge.
type Terms struct {
	Network string
	Asset   string
	PayTo   string
}

// OrderRequest is one agent order against a catalog item.
type OrderRequest struct {
	MerchantID  string
	ItemID      string
	AgentWallet string
	Category    string
	Resource    string
}

// Challenge is the 402 payment-required body: what payment would satisfy
// this order. Idempotent on retry, carries no side effect.
type Challenge struct {
	Version int      `json:"version"`
	Accepts []Accept `json:"accepts"`
}

// Accept quotes one acceptable payment scheme.
type Accept struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	Asset             string `json:"asset"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	PayTo             string `json:"payTo"`
	Resource          string `json:"resource"`
	Description       string `json:"description"`
}

// Receipt is the terminal success response: merchant, item, settlement and
// remaining-budget snapshots.
type Receipt struct {
	TransactionID   string                   `json:"tx_id"`
	Merchant        string                   `json:"merchant"`
	MerchantID      string                   `json:"merchant_id"`
	Item            string                   `json:"item"`
	AmountUSD       int64                    `json:"amount_usd"`
	AmountLocal     int64                    `json:"amount_local"`
	Settlement      models.TransactionStatus `json:"settlement"`
	ExternalCode    string                   `json:"external_code,omitempty"`
	SpentToday      int64                    `json:"spent_today"`
	RemainingBudget int64                    `json:"remaining_budget"`
}

type Protocol struct {
	catalog    catalog.Directory
	ledger     ledger.Ledger
	log        audit.Log
	dispatcher settle.Dispatcher
	terms      Terms
}

func NewProtocol(dir catalog.Directory, l ledger.Ledger, auditLog audit.Log, d settle.Dispatcher, terms Terms) *Protocol {
	return &Protocol{catalog: dir, ledger: l, log: auditLog, dispatcher: d, terms: terms}
}

// Challenge prices an order without moving anything. Unknown merchant or
// item is ErrNotFound.
func (p *Protocol) Challenge(req OrderRequest) (*Challenge, error) {
	merchant, item, err := p.resolve(req)
	if err != nil {
		return nil, err
	}
	return &Challenge{
		Version: 1,
		Accepts: []Accept{{
			Scheme:            "exact",
			Network:           p.terms.Network,
			Asset:             p.terms.Asset,
			MaxAmountRequired: strconv.FormatInt(item.PriceUSD, 10),
			PayTo:             p.terms.PayTo,
			Resource:          req.Resource,
			Description:       fmt.Sprintf("%s from %s", item.Name, merchant.Name),
		}},
	}, nil
}

// Spend runs the proof leg: validate, deduct, record, dispatch. The proof
// must already be parsed; the budget ledger's verdicts pass through
// verbatim so the caller can surface their reason strings.
func (p *Protocol) Spend(ctx context.Context, req OrderRequest, proof *Proof) (*Receipt, error) {
	merchant, item, err := p.resolve(req)
	if err != nil {
		return nil, err
	}

	auth, err := p.ledger.Validate(ctx, req.AgentWallet, req.Category, item.PriceUSD)
	if err != nil {
		return nil, err
	}

	entry, err := p.ledger.Deduct(ctx, auth.ID, item.PriceUSD)
	if err != nil {
		return nil, err
	}

	tx := models.SpendTransaction{
		ID:              "tx-" + uuid.NewString(),
		AuthorizationID: auth.ID,
		MerchantID:      merchant.ID,
		MerchantName:    merchant.Name,
		ItemID:          item.ID,
		AmountUSD:       item.PriceUSD,
		AmountLocal:     item.PriceLocal,
		Status:          models.TxPending,
	}
	if err := p.log.Record(ctx, &tx); err != nil {
		// Budget is reserved but nothing records it: refund before erroring
		// or the deduct leaks.
		if _, rerr := p.ledger.Refund(ctx, auth.ID, item.PriceUSD); rerr != nil {
			return nil, fmt.Errorf("audit record failed (%v) and refund failed: %w", err, rerr)
		}
		return nil, fmt.Errorf("audit record failed (refunded): %w", err)
	}

	if err := p.log.Transition(ctx, tx.ID, models.TxAuthorized, "", ""); err != nil {
		if _, rerr := p.ledger.Refund(ctx, auth.ID, item.PriceUSD); rerr != nil {
			return nil, fmt.Errorf("authorize transition failed (%v) and refund failed: %w", err, rerr)
		}
		return nil, fmt.Errorf("authorize transition failed (refunded): %w", err)
	}
	tx.Status = models.TxAuthorized

	outcome, err := p.dispatcher.Dispatch(ctx, settle.Job{
		Transaction:      tx,
		PayoutMSISDN:     merchant.PayoutMSISDN,
		CorrelationToken: tx.ID,
	})
	if err != nil {
		// The dispatcher already compensated (failed row + refund).
		return nil, &DispatchError{TxID: tx.ID, Err: err}
	}

	return &Receipt{
		TransactionID:   tx.ID,
		Merchant:        merchant.Name,
		MerchantID:      merchant.ID,
		Item:            item.Name,
		AmountUSD:       item.PriceUSD,
		AmountLocal:     item.PriceLocal,
		Settlement:      outcome.Status,
		ExternalCode:    outcome.ExternalCode,
		SpentToday:      entry.NewSpent,
		RemainingBudget: entry.Remaining,
	}, nil
}

func (p *Protocol) resolve(req OrderRequest) (*models.Merchant, *models.Item, error) {
	merchant, ok := p.catalog.GetMerchant(req.MerchantID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: merchant %s", ErrNotFound, req.MerchantID)
	}
	item, ok := p.catalog.GetItem(req.MerchantID, req.ItemID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: item %s", ErrNotFound, req.ItemID)
	}
	return merchant, item, nil
}
