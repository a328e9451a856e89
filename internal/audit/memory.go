package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KayaSend/remit-backend/internal/models"
)

// MemoryLog mirrors PostgresLog semantics for tests and embedding.
type MemoryLog struct {
	mu  sync.Mutex
	txs map[string]*models.SpendTransaction

	// FailRecord forces the next Record call to fail; used to exercise the
	// refund-on-log-failure compensation path.
	FailRecord bool
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{txs: make(map[string]*models.SpendTransaction)}
}

func (l *MemoryLog) Record(ctx context.Context, t *models.SpendTransaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailRecord {
		return fmt.Errorf("transaction insert failed: store unavailable")
	}
	if t.Status == "" {
		t.Status = models.TxPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	cp := *t
	l.txs[t.ID] = &cp
	return nil
}

func (l *MemoryLog) Transition(ctx context.Context, id string, to models.TransactionStatus, externalCode, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.txs[id]
	if !ok {
		return ErrNotFound
	}
	if !t.Status.CanTransition(to) {
		return &models.ErrIllegalTransition{Entity: "transaction", From: string(t.Status), To: string(to)}
	}
	t.Status = to
	if externalCode != "" {
		t.ExternalCode = externalCode
	}
	if reason != "" {
		t.FailureReason = reason
	}
	if to.Terminal() {
		now := time.Now()
		t.CompletedAt = &now
	}
	return nil
}

func (l *MemoryLog) Get(ctx context.Context, id string) (*models.SpendTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.txs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}
