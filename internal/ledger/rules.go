package ledger

import (
	"time"

	"github.com/KayaSend/remit-backend/internal/models"
)

// rolloverSpent applies the lazy daily reset: spend accumulated on a
// calendar day strictly before "now" counts as zero. The reset is only
// persisted as a side effect of the update that observes it.
func rolloverSpent(spent int64, lastUpdated, now time.Time) int64 {
	ly, lm, ld := lastUpdated.UTC().Date()
	ny, nm, nd := now.UTC().Date()
	if ly < ny || (ly == ny && (lm < nm || (lm == nm && ld < nd))) {
		return 0
	}
	return spent
}

// Snapshot returns a read-path copy of the authorization with the daily
// reset applied, so a morning read does not report yesterday's spend. The
// stored row is untouched; persistence of the reset stays with the next
// deduct or refund.
func Snapshot(a *models.AgentAuthorization, now time.Time) *models.AgentAuthorization {
	s := *a
	s.SpentToday = rolloverSpent(a.SpentToday, a.UpdatedAt, now)
	return &s
}

// applyDeduct checks a deduction against the cap and returns the new
// spent-today value. spent must already be rolled over.
func applyDeduct(spent, cap, amount int64) (int64, error) {
	if amount <= 0 {
		return spent, ErrInvalidAmount
	}
	newSpent := spent + amount
	if newSpent > cap {
		return spent, ErrBudgetExceeded
	}
	return newSpent, nil
}

// applyRefund returns spent-today after a compensating refund, clamped at
// zero. spent must already be rolled over.
func applyRefund(spent, amount int64) (int64, error) {
	if amount <= 0 {
		return spent, ErrInvalidAmount
	}
	newSpent := spent - amount
	if newSpent < 0 {
		newSpent = 0
	}
	return newSpent, nil
}
