// Package onramp initiates mobile-money collections that will fund an
// escrow once the provider's webhook confirms them. The funding intent is
// written before any escrow exists; the reconciler creates the escrow
// lazily from the confirmed intent.
package onramp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/KayaSend/remit-backend/internal/models"
	"github.com/KayaSend/remit-backend/internal/store"
)

var ErrBadRequest = errors.New("invalid funding request")

// InitiateResult is the provider's acceptance of a collection request.
type InitiateResult struct {
	ExternalCode string `json:"external_code"`
}

// Channel starts a mobile-money collection from the sender's phone.
type Channel interface {
	Initiate(ctx context.Context, phone string, amount int64) (*InitiateResult, error)
}

// HTTPChannel calls a real on-ramp provider; base URL from config.
type HTTPChannel struct {
	baseURL string
	client  *http.Client
}

func NewHTTPChannel(baseURL string, timeout time.Duration) *HTTPChannel {
	return &HTTPChannel{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

func (c *HTTPChannel) Initiate(ctx context.Context, phone string, amount int64) (*InitiateResult, error) {
	body, err := json.Marshal(map[string]interface{}{"phone": phone, "amount": amount})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/collections", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("onramp request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("onramp rejected: status %d: %s", resp.StatusCode, b)
	}

	var result InitiateResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("onramp response decode failed: %w", err)
	}
	if result.ExternalCode == "" {
		return nil, fmt.Errorf("onramp response missing external code")
	}
	return &result, nil
}

// SimulatedChannel accepts every collection; used when no provider endpoint
// is configured.
type SimulatedChannel struct{}

func (SimulatedChannel) Initiate(ctx context.Context, phone string, amount int64) (*InitiateResult, error) {
	return &InitiateResult{ExternalCode: "ONR-" + uuid.NewString()}, nil
}

// Request describes a sender funding an escrow-to-be.
type Request struct {
	SenderID    string                      `json:"sender_id"`
	Recipient   string                      `json:"recipient"`
	Total       int64                       `json:"total"`
	Phone       string                      `json:"phone"`
	Allocations []models.CategoryAllocation `json:"allocations"`
}

// Service writes funding intents backed by an on-ramp collection.
type Service struct {
	channel Channel
	store   *store.Store
	rate    decimal.Decimal
}

func NewService(channel Channel, st *store.Store, rate decimal.Decimal) *Service {
	return &Service{channel: channel, store: st, rate: rate}
}

// Initiate validates the request, computes the FX-adjusted expected
// settlement, starts the collection and records the pending intent.
func (s *Service) Initiate(ctx context.Context, req Request) (*models.FundingIntent, error) {
	expected := expectedSettlement(req.Total, s.rate)
	if err := validateRequest(req, expected); err != nil {
		return nil, err
	}

	result, err := s.channel.Initiate(ctx, req.Phone, req.Total)
	if err != nil {
		return nil, fmt.Errorf("onramp initiate failed: %w", err)
	}

	intent := &models.FundingIntent{
		SenderID:       req.SenderID,
		Recipient:      req.Recipient,
		TotalRequested: req.Total,
		Allocations:    req.Allocations,
		OnRampPhone:    req.Phone,
		FXRate:         s.rate,
		ExpectedAmount: expected,
		ExternalCode:   result.ExternalCode,
		Status:         models.IntentPending,
	}
	id, err := s.store.CreateFundingIntent(ctx, intent)
	if err != nil {
		return nil, fmt.Errorf("intent insert failed: %w", err)
	}
	intent.ID = id
	return intent, nil
}

// expectedSettlement converts the requested total to local minor units at
// the snapshot rate, truncating toward zero so we never expect more than
// the provider can deliver.
func expectedSettlement(total int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(total).Mul(rate).Truncate(0).IntPart()
}

func validateRequest(req Request, expected int64) error {
	if req.Total <= 0 {
		return fmt.Errorf("%w: total must be positive", ErrBadRequest)
	}
	if req.SenderID == "" || req.Phone == "" {
		return fmt.Errorf("%w: sender and phone are required", ErrBadRequest)
	}
	if len(req.Allocations) == 0 {
		return fmt.Errorf("%w: at least one category allocation", ErrBadRequest)
	}
	var sum int64
	for _, a := range req.Allocations {
		if a.Name == "" || a.Amount <= 0 {
			return fmt.Errorf("%w: allocation %q must be named with a positive amount", ErrBadRequest, a.Name)
		}
		sum += a.Amount
	}
	if sum > expected {
		return fmt.Errorf("%w: allocations (%d) exceed expected settlement (%d)", ErrBadRequest, sum, expected)
	}
	return nil
}
