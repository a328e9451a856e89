package settle

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/KayaSend/remit-backend/internal/audit"
	"github.com/KayaSend/remit-backend/internal/ledger"
	"github.com/KayaSend/remit-backend/internal/models"
)

var settlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "remit_settlements_total",
	Help: "Settlement dispatch outcomes",
}, []string{"outcome"})

var refundsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "remit_refunds_total",
	Help: "Compensating refunds issued after failed dispatch",
})

// ErrDispatchFailed marks a settlement that failed after the budget deduct;
// the refund compensation has already been applied when this is returned.
var ErrDispatchFailed = errors.New("settlement dispatch failed")

// Job carries an authorized transaction to the disbursement channel.
type Job struct {
	Transaction      models.SpendTransaction
	PayoutMSISDN     string
	CorrelationToken string
}

// Outcome is the dispatcher's answer: where the transaction rests now.
type Outcome struct {
	Status       models.TransactionStatus
	ExternalCode string
}

// Dispatcher is an injected capability: the challenge protocol never
// assumes whether settlement is synchronous or queued.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) (*Outcome, error)
}

// InlineDispatcher settles synchronously and treats a successful payout as
// terminal (completed). This matches a provider with no confirmation
// callback for agent spends.
type InlineDispatcher struct {
	channel PayoutChannel
	log     audit.Log
	ledger  ledger.Ledger
}

func NewInlineDispatcher(channel PayoutChannel, auditLog audit.Log, l ledger.Ledger) *InlineDispatcher {
	return &InlineDispatcher{channel: channel, log: auditLog, ledger: l}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, job Job) (*Outcome, error) {
	return settleOnce(ctx, d.channel, d.log, d.ledger, job, true)
}

// settleOnce runs one payout attempt with its bookkeeping. The budget
// deduct committed before we got here, so every failure path must refund.
func settleOnce(ctx context.Context, channel PayoutChannel, auditLog audit.Log, l ledger.Ledger, job Job, terminalOnSuccess bool) (*Outcome, error) {
	tx := job.Transaction

	result, err := channel.Payout(ctx, job.PayoutMSISDN, tx.AmountLocal, job.CorrelationToken)
	if err != nil {
		compensate(ctx, auditLog, l, tx, err.Error())
		settlementsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	if err := auditLog.Transition(ctx, tx.ID, models.TxSettling, result.ExternalCode, ""); err != nil {
		// Money moved but the audit write failed. Do not refund: the payout
		// is out the door. Surface for reconciliation instead.
		log.Printf("audit update failed for settled tx %s (code %s): %v", tx.ID, result.ExternalCode, err)
		settlementsTotal.WithLabelValues("unrecorded").Inc()
		return &Outcome{Status: models.TxSettling, ExternalCode: result.ExternalCode}, nil
	}

	status := models.TxSettling
	if terminalOnSuccess {
		if err := auditLog.Transition(ctx, tx.ID, models.TxCompleted, "", ""); err != nil {
			log.Printf("completion update failed for tx %s: %v", tx.ID, err)
		} else {
			status = models.TxCompleted
		}
	}

	settlementsTotal.WithLabelValues(string(status)).Inc()
	return &Outcome{Status: status, ExternalCode: result.ExternalCode}, nil
}

// compensate marks the transaction failed and returns the reserved budget.
// A refund failure here is a budget leak and is logged loudly; the failed
// audit row keeps it traceable.
func compensate(ctx context.Context, auditLog audit.Log, l ledger.Ledger, tx models.SpendTransaction, reason string) {
	if err := auditLog.Transition(ctx, tx.ID, models.TxFailed, "", reason); err != nil {
		log.Printf("failed-status update error for tx %s: %v", tx.ID, err)
	}
	if _, err := l.Refund(ctx, tx.AuthorizationID, tx.AmountUSD); err != nil {
		log.Printf("BUDGET LEAK: refund of %d for authorization %d failed: %v", tx.AmountUSD, tx.AuthorizationID, err)
		return
	}
	refundsTotal.Inc()
}
