package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KayaSend/remit-backend/internal/models"
)

// PostgresLedger resolves concurrent spend attempts with SELECT ... FOR
// UPDATE on the authorization row. Locks are held only for the duration of
// one transaction and never across an external call.
type PostgresLedger struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db, now: time.Now}
}

// Validate checks whether the agent may spend amount in category. Read-only.
func (l *PostgresLedger) Validate(ctx context.Context, agentWallet, category string, amount int64) (*models.AgentAuthorization, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var a models.AgentAuthorization
	err := l.db.QueryRow(ctx,
		`SELECT id, escrow_id, agent_wallet, category, max_daily_budget, spent_today, status, created_at, updated_at
		 FROM agent_authorizations
		 WHERE agent_wallet = $1 AND status = 'active'
		 ORDER BY id DESC LIMIT 1`, agentWallet,
	).Scan(&a.ID, &a.EscrowID, &a.AgentWallet, &a.Category, &a.MaxDailyBudget, &a.SpentToday, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNoAuthorization
	}
	if err != nil {
		return nil, fmt.Errorf("authorization lookup failed: %w", err)
	}

	if a.Category != category {
		return nil, ErrCategoryMismatch
	}

	spent := rolloverSpent(a.SpentToday, a.UpdatedAt, l.now())
	if spent+amount > a.MaxDailyBudget {
		return nil, ErrBudgetExceeded
	}
	a.SpentToday = spent
	return &a, nil
}

// Deduct reserves amount against the authorization's daily budget.
func (l *PostgresLedger) Deduct(ctx context.Context, authorizationID, amount int64) (*Entry, error) {
	return l.mutate(ctx, authorizationID, amount, true)
}

// Refund compensates a deduct whose downstream settlement failed.
func (l *PostgresLedger) Refund(ctx context.Context, authorizationID, amount int64) (*Entry, error) {
	return l.mutate(ctx, authorizationID, amount, false)
}

// mutate is the single lock-holding path shared by Deduct and Refund, so
// both observe the same daily-reset rule.
func (l *PostgresLedger) mutate(ctx context.Context, authorizationID, amount int64, deduct bool) (*Entry, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var spent, cap int64
	var status models.AuthorizationStatus
	var updatedAt time.Time
	err = tx.QueryRow(ctx,
		`SELECT spent_today, max_daily_budget, status, updated_at
		 FROM agent_authorizations WHERE id = $1 FOR UPDATE`, authorizationID,
	).Scan(&spent, &cap, &status, &updatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}

	now := l.now()
	spent = rolloverSpent(spent, updatedAt, now)

	var newSpent int64
	if deduct {
		if status != models.AuthActive {
			return nil, ErrNotActive
		}
		newSpent, err = applyDeduct(spent, cap, amount)
	} else {
		newSpent, err = applyRefund(spent, amount)
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		"UPDATE agent_authorizations SET spent_today = $1, updated_at = $2 WHERE id = $3",
		newSpent, now, authorizationID)
	if err != nil {
		return nil, fmt.Errorf("budget update failed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	return &Entry{AuthorizationID: authorizationID, NewSpent: newSpent, Remaining: cap - newSpent}, nil
}
