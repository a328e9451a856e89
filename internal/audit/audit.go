// Package audit keeps the append-and-update record of every attempted
// spend, independent of the budget ledger. Reconciliation and receipts read
// from here; a failed settlement stays visible as a failed row so its
// refund is traceable.
package audit

import (
	"context"
	"errors"

	"github.com/KayaSend/remit-backend/internal/models"
)

var ErrNotFound = errors.New("transaction not found")

// Log records spend transactions and their monotonic status advances.
type Log interface {
	// Record inserts a new transaction. The caller sets everything except
	// timestamps; status is normally pending.
	Record(ctx context.Context, tx *models.SpendTransaction) error
	// Transition advances a transaction's status. Illegal transitions per
	// the models transition table are rejected without a write. External
	// code and reason are stored when non-empty.
	Transition(ctx context.Context, id string, to models.TransactionStatus, externalCode, reason string) error
	Get(ctx context.Context, id string) (*models.SpendTransaction, error)
}
