package idem

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGuardRunsHandlerOnce(t *testing.T) {
	g := NewGate(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	var calls int
	handler := func(context.Context) error { calls++; return nil }

	dup, err := g.Guard(ctx, "flutterwave", "FLW-123", handler)
	if err != nil || dup {
		t.Fatalf("first delivery: dup=%v err=%v", dup, err)
	}
	dup, err = g.Guard(ctx, "flutterwave", "FLW-123", handler)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if !dup {
		t.Error("second delivery not flagged as duplicate")
	}
	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}
}

func TestGuardKeysByProviderAndCode(t *testing.T) {
	g := NewGate(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	var calls int
	handler := func(context.Context) error { calls++; return nil }

	g.Guard(ctx, "flutterwave", "X", handler)
	g.Guard(ctx, "paystack", "X", handler)
	g.Guard(ctx, "flutterwave", "Y", handler)

	if calls != 3 {
		t.Errorf("handler ran %d times, want 3 (distinct keys)", calls)
	}
}

func TestGuardReleasesMarkOnHandlerError(t *testing.T) {
	g := NewGate(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	// The first handler fails and rolls back. The mark must be released so
	// the provider's retry re-runs the work instead of being suppressed for
	// the full retention window.
	_, err := g.Guard(ctx, "flutterwave", "FLW-RETRY", func(context.Context) error {
		return errors.New("tx begin failed")
	})
	if err == nil {
		t.Fatal("expected handler error to propagate")
	}

	var reran bool
	dup, err := g.Guard(ctx, "flutterwave", "FLW-RETRY", func(context.Context) error {
		reran = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if dup || !reran {
		t.Errorf("retry after handler error: dup=%v reran=%v, want re-run", dup, reran)
	}

	// Once the retry succeeds the mark stands again.
	dup, _ = g.Guard(ctx, "flutterwave", "FLW-RETRY", func(context.Context) error {
		t.Error("handler ran after successful retry")
		return nil
	})
	if !dup {
		t.Error("delivery after successful retry not flagged as duplicate")
	}
}

func TestGuardFailsOpenOnStoreError(t *testing.T) {
	store := NewMemoryStore()
	store.Err = errors.New("store down")
	g := NewGate(store, time.Hour)

	var calls int
	for i := 0; i < 2; i++ {
		dup, err := g.Guard(context.Background(), "flutterwave", "FLW-1", func(context.Context) error {
			calls++
			return nil
		})
		if err != nil || dup {
			t.Fatalf("delivery %d: dup=%v err=%v", i, dup, err)
		}
	}
	if calls != 2 {
		t.Errorf("handler ran %d times, want 2 (fail-open admits duplicates)", calls)
	}
}

func TestExpiredMarkIsReclaimed(t *testing.T) {
	store := NewMemoryStore()
	g := NewGate(store, time.Millisecond)
	ctx := context.Background()

	var calls int
	handler := func(context.Context) error { calls++; return nil }

	g.Guard(ctx, "flutterwave", "FLW-TTL", handler)
	time.Sleep(5 * time.Millisecond)
	dup, _ := g.Guard(ctx, "flutterwave", "FLW-TTL", handler)
	if dup {
		t.Error("expired mark still suppressing")
	}
	if calls != 2 {
		t.Errorf("handler ran %d times, want 2", calls)
	}
}

func TestPurgeExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.CheckAndSet(ctx, "flutterwave", "old", -time.Minute)
	store.CheckAndSet(ctx, "flutterwave", "live", time.Hour)

	n, err := store.PurgeExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
}
