package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KayaSend/remit-backend/internal/models"
)

func newTestLedger(t *testing.T, cap int64, category string) (*MemoryLedger, int64) {
	t.Helper()
	l := NewMemoryLedger()
	id := l.Grant(models.AgentAuthorization{
		EscrowID:       1,
		AgentWallet:    "0xAGENT",
		Category:       category,
		MaxDailyBudget: cap,
	})
	return l, id
}

func TestDeductWithinBudget(t *testing.T) {
	l, id := newTestLedger(t, 5000, "utilities")

	auth, err := l.Validate(context.Background(), "0xAGENT", "utilities", 385)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if auth.ID != id {
		t.Fatalf("validate returned authorization %d, want %d", auth.ID, id)
	}

	entry, err := l.Deduct(context.Background(), id, 385)
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if entry.NewSpent != 385 {
		t.Errorf("spent = %d, want 385", entry.NewSpent)
	}
	if entry.Remaining != 4615 {
		t.Errorf("remaining = %d, want 4615", entry.Remaining)
	}
}

func TestDeductBudgetExceededLeavesStateUnchanged(t *testing.T) {
	l, id := newTestLedger(t, 5000, "utilities")

	if _, err := l.Deduct(context.Background(), id, 385); err != nil {
		t.Fatalf("first deduct: %v", err)
	}

	_, err := l.Deduct(context.Background(), id, 5000)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("err = %v, want ErrBudgetExceeded", err)
	}

	entry, err := l.Deduct(context.Background(), id, 100)
	if err != nil {
		t.Fatalf("follow-up deduct: %v", err)
	}
	if entry.NewSpent != 485 {
		t.Errorf("spent = %d, want 485 (rejected deduct must not mutate)", entry.NewSpent)
	}
}

func TestValidateCategoryMismatch(t *testing.T) {
	l, _ := newTestLedger(t, 5000, "utilities")

	_, err := l.Validate(context.Background(), "0xAGENT", "food", 100)
	if !errors.Is(err, ErrCategoryMismatch) {
		t.Fatalf("err = %v, want ErrCategoryMismatch", err)
	}
}

func TestValidateNoAuthorization(t *testing.T) {
	l := NewMemoryLedger()
	_, err := l.Validate(context.Background(), "0xNOBODY", "utilities", 100)
	if !errors.Is(err, ErrNoAuthorization) {
		t.Fatalf("err = %v, want ErrNoAuthorization", err)
	}
}

func TestValidateInvalidAmount(t *testing.T) {
	l, _ := newTestLedger(t, 5000, "utilities")
	for _, amount := range []int64{0, -5} {
		if _, err := l.Validate(context.Background(), "0xAGENT", "utilities", amount); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %d: err = %v, want ErrInvalidAmount", amount, err)
		}
	}
}

func TestDeductNotActive(t *testing.T) {
	l := NewMemoryLedger()
	id := l.Grant(models.AgentAuthorization{
		AgentWallet:    "0xAGENT",
		Category:       "utilities",
		MaxDailyBudget: 5000,
		Status:         models.AuthPaused,
	})
	if _, err := l.Deduct(context.Background(), id, 100); !errors.Is(err, ErrNotActive) {
		t.Fatalf("err = %v, want ErrNotActive", err)
	}
}

func TestRefundNotFound(t *testing.T) {
	l := NewMemoryLedger()
	if _, err := l.Refund(context.Background(), 99, 100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestBudgetMonotonicity(t *testing.T) {
	l, id := newTestLedger(t, 5000, "utilities")
	ctx := context.Background()

	ops := []struct {
		deduct bool
		amount int64
	}{
		{true, 1000}, {true, 2000}, {false, 500}, {true, 1500}, {false, 4000}, {true, 800},
	}

	var want int64
	for i, op := range ops {
		var entry *Entry
		var err error
		if op.deduct {
			entry, err = l.Deduct(ctx, id, op.amount)
			want += op.amount
		} else {
			entry, err = l.Refund(ctx, id, op.amount)
			want -= op.amount
		}
		if want < 0 {
			want = 0
		}
		if err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
		if entry.NewSpent != want {
			t.Fatalf("op %d: spent = %d, want %d", i, entry.NewSpent, want)
		}
		if entry.NewSpent > 5000 {
			t.Fatalf("op %d: spent %d exceeds cap", i, entry.NewSpent)
		}
	}
}

func TestDailyResetOnDeduct(t *testing.T) {
	l, id := newTestLedger(t, 5000, "utilities")
	ctx := context.Background()

	day1 := time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC)
	l.Now = func() time.Time { return day1 }
	if _, err := l.Deduct(ctx, id, 4800); err != nil {
		t.Fatalf("day 1 deduct: %v", err)
	}

	// A deduct on the next calendar day ignores day-1 spend.
	l.Now = func() time.Time { return day1.Add(3 * time.Hour) } // 01:00 day 2
	entry, err := l.Deduct(ctx, id, 4800)
	if err != nil {
		t.Fatalf("day 2 deduct: %v", err)
	}
	if entry.NewSpent != 4800 {
		t.Errorf("spent = %d, want 4800 after reset", entry.NewSpent)
	}
}

func TestRefundAfterMidnightDoesNotResurrectSpend(t *testing.T) {
	l, id := newTestLedger(t, 5000, "utilities")
	ctx := context.Background()

	day1 := time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC)
	l.Now = func() time.Time { return day1 }
	if _, err := l.Deduct(ctx, id, 3000); err != nil {
		t.Fatalf("deduct: %v", err)
	}

	// Refund lands after midnight: yesterday's spend is already zeroed, so
	// the refund clamps at zero instead of going negative.
	l.Now = func() time.Time { return day1.Add(time.Hour) }
	entry, err := l.Refund(ctx, id, 3000)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if entry.NewSpent != 0 {
		t.Errorf("spent = %d, want 0", entry.NewSpent)
	}
	if entry.Remaining != 5000 {
		t.Errorf("remaining = %d, want 5000", entry.Remaining)
	}
}

func TestCompensationRestoresPreDeductSpend(t *testing.T) {
	l, id := newTestLedger(t, 5000, "utilities")
	ctx := context.Background()

	if _, err := l.Deduct(ctx, id, 1200); err != nil {
		t.Fatal(err)
	}
	before, err := l.Deduct(ctx, id, 700)
	if err != nil {
		t.Fatal(err)
	}
	after, err := l.Refund(ctx, id, 700)
	if err != nil {
		t.Fatal(err)
	}
	if after.NewSpent != before.NewSpent-700 {
		t.Errorf("spent = %d, want %d", after.NewSpent, before.NewSpent-700)
	}
}

func TestRolloverSpent(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name        string
		lastUpdated time.Time
		now         time.Time
		want        int64
	}{
		{"same day", base, base.Add(6 * time.Hour), 900},
		{"next day", base, base.Add(24 * time.Hour), 0},
		{"next month", base, base.AddDate(0, 1, 0), 0},
		{"clock skew backwards", base, base.Add(-time.Hour), 900},
	}
	for _, tc := range cases {
		if got := rolloverSpent(900, tc.lastUpdated, tc.now); got != tc.want {
			t.Errorf("%s: rolloverSpent = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestReason(t *testing.T) {
	cases := map[string]error{
		"NoAuthorization":  ErrNoAuthorization,
		"CategoryMismatch": ErrCategoryMismatch,
		"InvalidAmount":    ErrInvalidAmount,
		"BudgetExceeded":   ErrBudgetExceeded,
		"NotActive":        ErrNotActive,
		"NotFound":         ErrNotFound,
		"Internal":         errors.New("boom"),
	}
	for want, err := range cases {
		if got := Reason(err); got != want {
			t.Errorf("Reason(%v) = %q, want %q", err, got, want)
		}
	}
}
