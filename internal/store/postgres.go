package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KayaSend/remit-backend/internal/models"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// GetAuthorization retrieves an authorization snapshot without locking.
func (s *Store) GetAuthorization(ctx context.Context, id int64) (*models.AgentAuthorization, error) {
	var a models.AgentAuthorization
	err := s.Db.QueryRow(ctx,
		`SELECT id, escrow_id, agent_wallet, category, max_daily_budget, spent_today, status, created_at, updated_at
		 FROM agent_authorizations WHERE id = $1`, id,
	).Scan(&a.ID, &a.EscrowID, &a.AgentWallet, &a.Category, &a.MaxDailyBudget, &a.SpentToday, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAuthorization grants an agent a capped daily budget against an
// existing escrow. The escrow must be active.
func (s *Store) CreateAuthorization(ctx context.Context, escrowID int64, wallet, category string, maxDaily int64) (int64, error) {
	var status models.EscrowStatus
	err := s.Db.QueryRow(ctx, "SELECT status FROM escrows WHERE id = $1", escrowID).Scan(&status)
	if err == pgx.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	if status != models.EscrowActive {
		return 0, fmt.Errorf("escrow %d is %s, not active", escrowID, status)
	}

	var id int64
	err = s.Db.QueryRow(ctx,
		`INSERT INTO agent_authorizations (escrow_id, agent_wallet, category, max_daily_budget, spent_today, status)
		 VALUES ($1, $2, $3, $4, 0, 'active') RETURNING id`,
		escrowID, wallet, category, maxDaily,
	).Scan(&id)
	return id, err
}

// GetEscrow retrieves an escrow with its categories.
func (s *Store) GetEscrow(ctx context.Context, id int64) (*models.Escrow, []models.SpendingCategory, error) {
	var e models.Escrow
	err := s.Db.QueryRow(ctx,
		`SELECT id, sender_id, recipient, total, remaining, spent, status, created_at
		 FROM escrows WHERE id = $1`, id,
	).Scan(&e.ID, &e.SenderID, &e.Recipient, &e.Total, &e.Remaining, &e.Spent, &e.Status, &e.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.Db.Query(ctx,
		`SELECT id, escrow_id, name, allocated, spent, remaining
		 FROM spending_categories WHERE escrow_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var cats []models.SpendingCategory
	for rows.Next() {
		var c models.SpendingCategory
		if err := rows.Scan(&c.ID, &c.EscrowID, &c.Name, &c.Allocated, &c.Spent, &c.Remaining); err != nil {
			return nil, nil, err
		}
		cats = append(cats, c)
	}
	return &e, cats, rows.Err()
}

// CreateFundingIntent records an on-ramp request before any escrow exists.
// The external code carries a unique constraint; a duplicate is a caller bug.
func (s *Store) CreateFundingIntent(ctx context.Context, in *models.FundingIntent) (int64, error) {
	allocs, err := json.Marshal(in.Allocations)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.Db.QueryRow(ctx,
		`INSERT INTO funding_intents
		   (sender_id, recipient, total_requested, allocations, onramp_phone, fx_rate, expected_amount, external_code, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending') RETURNING id`,
		in.SenderID, in.Recipient, in.TotalRequested, allocs, in.OnRampPhone,
		in.FXRate.String(), in.ExpectedAmount, in.ExternalCode,
	).Scan(&id)
	return id, err
}

// CountStuckSettling reports transactions that have sat in settling for
// longer than the given interval. Used by the daily audit sweep.
func (s *Store) CountStuckSettling(ctx context.Context, interval string) (int, error) {
	var n int
	err := s.Db.QueryRow(ctx,
		"SELECT COUNT(*) FROM spend_transactions WHERE status = 'settling' AND created_at < now() - $1::interval",
		interval,
	).Scan(&n)
	return n, err
}
