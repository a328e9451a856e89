// Package idem deduplicates externally delivered events by (provider,
// external transaction code). It is a guard, not a business entity: a
// bounded-retention mark that a code was already handled.
package idem

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var dedupHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "remit_webhook_dedup_hits_total",
	Help: "Webhook deliveries suppressed by the idempotency gate",
}, []string{"provider"})

var gateFailOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "remit_idempotency_fail_open_total",
	Help: "Gate store errors where the handler ran anyway",
})

// DefaultTTL bounds retention of handled marks.
const DefaultTTL = 24 * time.Hour

// Store is the key/value backing of the gate.
type Store interface {
	// CheckAndSet atomically marks (provider, code) handled until expiry.
	// It returns true when this call created the mark, false when a live
	// mark already existed.
	CheckAndSet(ctx context.Context, provider, code string, ttl time.Duration) (bool, error)
	// Delete releases a mark so the next delivery of the code runs again.
	Delete(ctx context.Context, provider, code string) error
	// PurgeExpired removes marks past their expiry, returning the count.
	PurgeExpired(ctx context.Context) (int64, error)
}

type Gate struct {
	store Store
	ttl   time.Duration
}

func NewGate(store Store, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gate{store: store, ttl: ttl}
}

// Guard runs handler at most once per (provider, code) within the retention
// window. The mark is set before the handler runs, so a crash mid-handler
// suppresses the replay instead of redoing partially-applied work; the
// audit sweep catches the incomplete state. A handler that returns an error
// has rolled its work back, so the mark is released and the provider's
// retry runs it again.
//
// If the store is unavailable the gate fails open and runs the handler: a
// dropped webhook is worse than an occasional duplicate here, and the row
// locks downstream make the duplicate safe.
func (g *Gate) Guard(ctx context.Context, provider, code string, handler func(context.Context) error) (duplicate bool, err error) {
	first, storeErr := g.store.CheckAndSet(ctx, provider, code, g.ttl)
	if storeErr != nil {
		log.Printf("idempotency store unavailable, failing open for %s/%s: %v", provider, code, storeErr)
		gateFailOpenTotal.Inc()
		return false, handler(ctx)
	}
	if !first {
		dedupHitsTotal.WithLabelValues(provider).Inc()
		return true, nil
	}
	if err := handler(ctx); err != nil {
		if delErr := g.store.Delete(ctx, provider, code); delErr != nil {
			log.Printf("could not release idempotency mark %s/%s: %v", provider, code, delErr)
		}
		return false, err
	}
	return false, nil
}

// Purge removes expired marks. Wired to an hourly cron in cmd/api.
func (g *Gate) Purge(ctx context.Context) {
	n, err := g.store.PurgeExpired(ctx)
	if err != nil {
		log.Printf("idempotency purge failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("purged %d expired idempotency records", n)
	}
}
