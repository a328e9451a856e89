// Package ledger owns agent authorizations: atomic check-and-deduct against
// a capped daily budget, and the compensating refund. All contention is
// resolved by row-level locks in the backing store; deduct and refund share
// one locking primitive and one daily-reset rule so a refund issued after
// midnight cannot resurrect yesterday's spend.
package ledger

import (
	"context"
	"errors"

	"github.com/KayaSend/remit-backend/internal/models"
)

var (
	ErrNoAuthorization  = errors.New("no active authorization for agent")
	ErrCategoryMismatch = errors.New("category not permitted by authorization")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrBudgetExceeded   = errors.New("daily budget exceeded")
	ErrNotActive        = errors.New("authorization is not active")
	ErrNotFound         = errors.New("authorization not found")
)

// Reason maps a ledger error to its machine-checkable reason string.
// Unknown errors map to "Internal".
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNoAuthorization):
		return "NoAuthorization"
	case errors.Is(err, ErrCategoryMismatch):
		return "CategoryMismatch"
	case errors.Is(err, ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, ErrBudgetExceeded):
		return "BudgetExceeded"
	case errors.Is(err, ErrNotActive):
		return "NotActive"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	}
	return "Internal"
}

// Entry is the post-operation budget snapshot returned by Deduct and Refund.
type Entry struct {
	AuthorizationID int64 `json:"authorization_id"`
	NewSpent        int64 `json:"new_spent"`
	Remaining       int64 `json:"remaining"`
}

// Ledger is the budget authority. Validate is read-only; Deduct and Refund
// mutate spent-today under an exclusive lock on the authorization.
type Ledger interface {
	Validate(ctx context.Context, agentWallet, category string, amount int64) (*models.AgentAuthorization, error)
	Deduct(ctx context.Context, authorizationID, amount int64) (*Entry, error)
	Refund(ctx context.Context, authorizationID, amount int64) (*Entry, error)
}
