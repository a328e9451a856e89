package idem

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded mark store for tests and embedding.
type MemoryStore struct {
	mu    sync.Mutex
	marks map[string]time.Time

	// Err, when set, makes every store call fail. Exercises fail-open.
	Err error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{marks: make(map[string]time.Time)}
}

func (s *MemoryStore) CheckAndSet(ctx context.Context, provider, code string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	key := provider + "/" + code
	if exp, ok := s.marks[key]; ok && time.Now().Before(exp) {
		return false, nil
	}
	s.marks[key] = time.Now().Add(ttl)
	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, provider, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.marks, provider+"/"+code)
	return nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	now := time.Now()
	for k, exp := range s.marks {
		if exp.Before(now) {
			delete(s.marks, k)
			n++
		}
	}
	return n, nil
}
