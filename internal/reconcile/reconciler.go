// Package reconcile consumes asynchronous funding webhooks and turns them
// into exactly-once escrow effects. A confirmation matches either a funding
// intent (escrow does not exist yet, create it) or a legacy top-up (escrow
// exists pending_deposit, activate it); anything else is an unknown
// transaction and must surface as an error, never a silent acknowledgement.
//
// The whole handler runs in one row-locked transaction: even if two
// deliveries slip past a degraded idempotency gate, the second one finds
// the intent already terminal and becomes a no-op.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KayaSend/remit-backend/internal/models"
)

var (
	ErrUnderfunded        = errors.New("confirmed amount below expected")
	ErrUnknownTransaction = errors.New("no pending record for transaction code")
)

type Reconciler struct {
	db *pgxpool.Pool
}

func NewReconciler(db *pgxpool.Pool) *Reconciler {
	return &Reconciler{db: db}
}

// Reconcile applies one confirmation. Exactly one of escrow-creation,
// escrow-activation, intent-marked-failed or top-up-marked-failed happens
// per unique external code; every error rolls the whole unit back.
func (r *Reconciler) Reconcile(ctx context.Context, conf *Confirmation) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	matched, err := r.reconcileIntent(ctx, tx, conf)
	if err != nil {
		return err
	}
	if !matched {
		matched, err = r.reconcileTopUp(ctx, tx, conf)
		if err != nil {
			return err
		}
	}
	if !matched {
		return fmt.Errorf("%w: %s/%s", ErrUnknownTransaction, conf.Provider, conf.ExternalCode)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// reconcileIntent handles the funding-intent path: lazily create the escrow
// and its categories from the intent's stored allocation.
func (r *Reconciler) reconcileIntent(ctx context.Context, tx pgx.Tx, conf *Confirmation) (bool, error) {
	var intentID, expected int64
	var status models.IntentStatus
	var senderID, recipient string
	var allocsRaw []byte
	err := tx.QueryRow(ctx,
		`SELECT id, expected_amount, status, sender_id, recipient, allocations
		 FROM funding_intents WHERE external_code = $1 FOR UPDATE`,
		conf.ExternalCode,
	).Scan(&intentID, &expected, &status, &senderID, &recipient, &allocsRaw)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("intent lookup failed: %w", err)
	}

	if status != models.IntentPending {
		// Second delivery past a failed-open gate: the row lock serialized
		// us behind the first, which already made the intent terminal.
		return true, nil
	}

	switch decide(conf.Succeeded, conf.AmountReceived, expected) {
	case verdictFail:
		_, err = tx.Exec(ctx,
			`UPDATE funding_intents
			 SET status = 'failed', failure_reason = $1, last_payload = $2 WHERE id = $3`,
			nonEmpty(conf.Reason, "provider reported failure"), conf.Raw, intentID)
		if err != nil {
			return false, fmt.Errorf("intent fail update: %w", err)
		}
		return true, nil

	case verdictUnderfunded:
		return false, fmt.Errorf("%w: intent %d expected %d, received %d",
			ErrUnderfunded, intentID, expected, conf.AmountReceived)
	}

	var allocations []models.CategoryAllocation
	if err := json.Unmarshal(allocsRaw, &allocations); err != nil {
		return false, fmt.Errorf("intent %d allocations corrupt: %w", intentID, err)
	}

	var escrowID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO escrows (sender_id, recipient, total, remaining, spent, status)
		 VALUES ($1, $2, $3, $3, 0, 'active') RETURNING id`,
		senderID, recipient, expected,
	).Scan(&escrowID)
	if err != nil {
		return false, fmt.Errorf("escrow insert failed: %w", err)
	}

	for _, a := range allocations {
		_, err = tx.Exec(ctx,
			`INSERT INTO spending_categories (escrow_id, name, allocated, spent, remaining)
			 VALUES ($1, $2, $3, 0, $3)`,
			escrowID, a.Name, a.Amount)
		if err != nil {
			return false, fmt.Errorf("category %q insert failed: %w", a.Name, err)
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE funding_intents
		 SET status = 'confirmed', escrow_id = $1, last_payload = $2 WHERE id = $3`,
		escrowID, conf.Raw, intentID)
	if err != nil {
		return false, fmt.Errorf("intent confirm update: %w", err)
	}
	return true, nil
}

// reconcileTopUp handles the legacy direct-escrow path: the escrow already
// exists pending_deposit and is activated in place.
func (r *Reconciler) reconcileTopUp(ctx context.Context, tx pgx.Tx, conf *Confirmation) (bool, error) {
	var topupID, escrowID, expected int64
	var status models.IntentStatus
	err := tx.QueryRow(ctx,
		`SELECT id, escrow_id, expected_amount, status
		 FROM escrow_topups WHERE external_code = $1 FOR UPDATE`,
		conf.ExternalCode,
	).Scan(&topupID, &escrowID, &expected, &status)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("topup lookup failed: %w", err)
	}

	if status != models.IntentPending {
		return true, nil
	}

	switch decide(conf.Succeeded, conf.AmountReceived, expected) {
	case verdictFail:
		_, err = tx.Exec(ctx,
			"UPDATE escrow_topups SET status = 'failed', failure_reason = $1 WHERE id = $2",
			nonEmpty(conf.Reason, "provider reported failure"), topupID)
		if err != nil {
			return false, fmt.Errorf("topup fail update: %w", err)
		}
		return true, nil

	case verdictUnderfunded:
		return false, fmt.Errorf("%w: topup %d expected %d, received %d",
			ErrUnderfunded, topupID, expected, conf.AmountReceived)
	}

	var escrowStatus models.EscrowStatus
	err = tx.QueryRow(ctx,
		"SELECT status FROM escrows WHERE id = $1 FOR UPDATE", escrowID,
	).Scan(&escrowStatus)
	if err != nil {
		return false, fmt.Errorf("escrow lookup failed: %w", err)
	}
	if !escrowStatus.CanTransition(models.EscrowActive) {
		return false, &models.ErrIllegalTransition{
			Entity: "escrow", From: string(escrowStatus), To: string(models.EscrowActive),
		}
	}

	_, err = tx.Exec(ctx, "UPDATE escrows SET status = 'active' WHERE id = $1", escrowID)
	if err != nil {
		return false, fmt.Errorf("escrow activate failed: %w", err)
	}
	_, err = tx.Exec(ctx, "UPDATE escrow_topups SET status = 'confirmed' WHERE id = $1", topupID)
	if err != nil {
		return false, fmt.Errorf("topup confirm update: %w", err)
	}
	return true, nil
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
