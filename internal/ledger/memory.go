package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/KayaSend/remit-backend/internal/models"
)

// MemoryLedger applies the same rules as PostgresLedger with a mutex in
// place of row locks. Used by tests and by embedders that bring their own
// persistence.
type MemoryLedger struct {
	mu     sync.Mutex
	auths  map[int64]*models.AgentAuthorization
	nextID int64
	Now    func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{auths: make(map[int64]*models.AgentAuthorization), Now: time.Now}
}

// Grant registers an authorization and returns its id.
func (l *MemoryLedger) Grant(a models.AgentAuthorization) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	a.ID = l.nextID
	if a.Status == "" {
		a.Status = models.AuthActive
	}
	a.UpdatedAt = l.Now()
	l.auths[a.ID] = &a
	return a.ID
}

func (l *MemoryLedger) Validate(ctx context.Context, agentWallet, category string, amount int64) (*models.AgentAuthorization, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var found *models.AgentAuthorization
	for _, a := range l.auths {
		if a.AgentWallet == agentWallet && a.Status == models.AuthActive {
			if found == nil || a.ID > found.ID {
				found = a
			}
		}
	}
	if found == nil {
		return nil, ErrNoAuthorization
	}
	if found.Category != category {
		return nil, ErrCategoryMismatch
	}

	spent := rolloverSpent(found.SpentToday, found.UpdatedAt, l.Now())
	if spent+amount > found.MaxDailyBudget {
		return nil, ErrBudgetExceeded
	}
	snapshot := *found
	snapshot.SpentToday = spent
	return &snapshot, nil
}

func (l *MemoryLedger) Deduct(ctx context.Context, authorizationID, amount int64) (*Entry, error) {
	return l.mutate(authorizationID, amount, true)
}

func (l *MemoryLedger) Refund(ctx context.Context, authorizationID, amount int64) (*Entry, error) {
	return l.mutate(authorizationID, amount, false)
}

func (l *MemoryLedger) mutate(authorizationID, amount int64, deduct bool) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.auths[authorizationID]
	if !ok {
		return nil, ErrNotFound
	}

	now := l.Now()
	spent := rolloverSpent(a.SpentToday, a.UpdatedAt, now)

	var newSpent int64
	var err error
	if deduct {
		if a.Status != models.AuthActive {
			return nil, ErrNotActive
		}
		newSpent, err = applyDeduct(spent, a.MaxDailyBudget, amount)
	} else {
		newSpent, err = applyRefund(spent, amount)
	}
	if err != nil {
		return nil, err
	}

	a.SpentToday = newSpent
	a.UpdatedAt = now
	return &Entry{AuthorizationID: authorizationID, NewSpent: newSpent, Remaining: a.MaxDailyBudget - newSpent}, nil
}
