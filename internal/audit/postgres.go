package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KayaSend/remit-backend/internal/models"
)

type PostgresLog struct {
	db *pgxpool.Pool
}

func NewPostgresLog(db *pgxpool.Pool) *PostgresLog {
	return &PostgresLog{db: db}
}

func (l *PostgresLog) Record(ctx context.Context, t *models.SpendTransaction) error {
	if t.Status == "" {
		t.Status = models.TxPending
	}
	_, err := l.db.Exec(ctx,
		`INSERT INTO spend_transactions
		   (id, authorization_id, merchant_id, merchant_name, item_id, amount_usd, amount_local, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.AuthorizationID, t.MerchantID, t.MerchantName, t.ItemID, t.AmountUSD, t.AmountLocal, t.Status)
	if err != nil {
		return fmt.Errorf("transaction insert failed: %w", err)
	}
	return nil
}

func (l *PostgresLog) Transition(ctx context.Context, id string, to models.TransactionStatus, externalCode, reason string) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var from models.TransactionStatus
	err = tx.QueryRow(ctx,
		"SELECT status FROM spend_transactions WHERE id = $1 FOR UPDATE", id,
	).Scan(&from)
	if err == pgx.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("transaction lookup failed: %w", err)
	}

	if !from.CanTransition(to) {
		return &models.ErrIllegalTransition{Entity: "transaction", From: string(from), To: string(to)}
	}

	var completedAt *time.Time
	if to.Terminal() {
		now := time.Now()
		completedAt = &now
	}

	_, err = tx.Exec(ctx,
		`UPDATE spend_transactions
		 SET status = $1,
		     external_code = COALESCE(NULLIF($2, ''), external_code),
		     failure_reason = COALESCE(NULLIF($3, ''), failure_reason),
		     completed_at = COALESCE($4, completed_at)
		 WHERE id = $5`,
		to, externalCode, reason, completedAt, id)
	if err != nil {
		return fmt.Errorf("transaction update failed: %w", err)
	}

	return tx.Commit(ctx)
}

func (l *PostgresLog) Get(ctx context.Context, id string) (*models.SpendTransaction, error) {
	var t models.SpendTransaction
	var externalCode, reason *string
	err := l.db.QueryRow(ctx,
		`SELECT id, authorization_id, merchant_id, merchant_name, item_id, amount_usd, amount_local,
		        external_code, status, failure_reason, created_at, completed_at
		 FROM spend_transactions WHERE id = $1`, id,
	).Scan(&t.ID, &t.AuthorizationID, &t.MerchantID, &t.MerchantName, &t.ItemID, &t.AmountUSD, &t.AmountLocal,
		&externalCode, &t.Status, &reason, &t.CreatedAt, &t.CompletedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if externalCode != nil {
		t.ExternalCode = *externalCode
	}
	if reason != nil {
		t.FailureReason = *reason
	}
	return &t, nil
}
