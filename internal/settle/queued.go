package settle

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/KayaSend/remit-backend/internal/models"
)

// QueuedDispatcher hands payouts to a background worker and answers
// "settling" immediately. Transactions complete when the worker's payout
// succeeds; they stay settling until then, which is the honest state for an
// asynchronous disbursement.
type QueuedDispatcher struct {
	inline  *InlineDispatcher
	jobs    chan Job
	timeout time.Duration

	wg   sync.WaitGroup
	once sync.Once
}

func NewQueuedDispatcher(inline *InlineDispatcher, queueSize int, timeout time.Duration) *QueuedDispatcher {
	return &QueuedDispatcher{
		inline:  inline,
		jobs:    make(chan Job, queueSize),
		timeout: timeout,
	}
}

// Start launches the worker. Stop by cancelling ctx; Wait drains in-flight
// work.
func (d *QueuedDispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-d.jobs:
				if !ok {
					return
				}
				jobCtx, cancel := context.WithTimeout(context.Background(), d.timeout)
				if _, err := settleOnce(jobCtx, d.inline.channel, d.inline.log, d.inline.ledger, job, false); err != nil {
					log.Printf("queued settlement for tx %s failed (compensated): %v", job.Transaction.ID, err)
				}
				cancel()
			}
		}
	}()
}

func (d *QueuedDispatcher) Wait() {
	d.once.Do(func() { close(d.jobs) })
	d.wg.Wait()
}

// Dispatch enqueues the job. A full queue is a dispatch failure and is
// compensated immediately rather than blocking the caller's request.
func (d *QueuedDispatcher) Dispatch(ctx context.Context, job Job) (*Outcome, error) {
	select {
	case d.jobs <- job:
		// The audit row advances to settling when the worker picks the job
		// up; the caller-visible answer is settling either way.
		return &Outcome{Status: models.TxSettling}, nil
	default:
		compensate(ctx, d.inline.log, d.inline.ledger, job.Transaction, "settlement queue full")
		settlementsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: settlement queue full", ErrDispatchFailed)
	}
}
