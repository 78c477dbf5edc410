package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ignite/notification-dispatch/internal/notification"
	"github.com/ignite/notification-dispatch/internal/pkg/logger"
	"github.com/ignite/notification-dispatch/internal/rabbit"
	"github.com/ignite/notification-dispatch/internal/storage"
)

// Audit is the outcome record of one batch sweep.
type Audit struct {
	OK             bool      `json:"ok"`
	ProcessedCount int       `json:"processed_count"`
	Types          []string  `json:"notification_types"`
	Timestamp      time.Time `json:"timestamp"`
	Error          string    `json:"error,omitempty"`
}

// Triggers runs the scheduled maintenance jobs on a small worker pool,
// off the dispatcher loop: the weekly summary fan-out and the
// aged-batch sweep.
type Triggers struct {
	store     Store
	publisher rabbit.Publisher
	handlers  *Handlers
	registry  *notification.Registry

	numWorkers int
	jobs       chan func()

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewTriggers creates the trigger pool. Fewer than two workers would
// let one long sweep starve the summary fan-out, so the count is
// clamped.
func NewTriggers(store Store, publisher rabbit.Publisher, handlers *Handlers, registry *notification.Registry, numWorkers int) *Triggers {
	if numWorkers < 2 {
		numWorkers = 2
	}
	return &Triggers{
		store:      store,
		publisher:  publisher,
		handlers:   handlers,
		registry:   registry,
		numWorkers: numWorkers,
		jobs:       make(chan func(), 16),
	}
}

// Start launches the workers.
func (t *Triggers) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.mu.Unlock()

	log.Printf("[Triggers] Starting %d workers", t.numWorkers)
	for i := 0; i < t.numWorkers; i++ {
		t.wg.Add(1)
		go t.worker()
	}
}

// Stop cancels running jobs and waits for the workers. Queued jobs
// that have not started are dropped.
func (t *Triggers) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.cancel()
	t.mu.Unlock()

	log.Println("[Triggers] Stopping workers...")
	t.wg.Wait()
	log.Println("[Triggers] Stopped")
}

func (t *Triggers) worker() {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case job := <-t.jobs:
			job()
		}
	}
}

// submit hands a job to the pool. False when the pool is stopped.
func (t *Triggers) submit(job func()) bool {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return false
	}
	ctx := t.ctx
	t.mu.Unlock()

	select {
	case t.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

// QueueWeeklySummary enqueues the weekly fan-out: one WEEKLY_SUMMARY
// event per user active in the trailing seven days. Fire and forget;
// the outcome lands in the logs.
func (t *Triggers) QueueWeeklySummary() bool {
	return t.submit(func() {
		t.runWeeklySummary(t.ctx)
	})
}

func (t *Triggers) runWeeklySummary(ctx context.Context) {
	if t.publisher == nil {
		logger.Error("Weekly summary fan-out skipped, broker offline")
		return
	}
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -7)

	users, err := t.store.ActiveUserIDs(ctx, start, end)
	if err != nil {
		logger.Error("Weekly summary fan-out failed", "error", err)
		return
	}

	queued := 0
	for _, userID := range users {
		event := notification.NewEvent(userID, notification.TypeWeeklySummary, &notification.WeeklySummaryParams{
			StartDate: start,
			EndDate:   end,
		})
		if res := t.publisher.Publish(ctx, event); !res.Ok {
			logger.Error("Weekly summary publish failed", "user_id", userID, "message", res.Message)
			continue
		}
		queued++
	}

	log.Printf("[Triggers] Queued weekly summaries for %d/%d active users (%s to %s)",
		queued, len(users), start.Format(time.RFC3339), end.Format(time.RFC3339))
}

// ProcessExistingBatches sweeps aged batches of the given kinds on the
// pool and waits for the audit record. A nil or empty type list means
// every kind whose effective strategy is BATCH. The wait is bounded by
// the caller's context; the sweep itself keeps running to completion.
func (t *Triggers) ProcessExistingBatches(ctx context.Context, types []notification.Type) Audit {
	if len(types) == 0 {
		types = t.registry.BatchTypes()
	}

	result := make(chan Audit, 1)
	ok := t.submit(func() {
		result <- t.sweep(t.ctx, types)
	})
	if !ok {
		return Audit{OK: false, Error: "trigger pool not running", Types: typeNames(types), Timestamp: time.Now().UTC()}
	}

	select {
	case audit := <-result:
		return audit
	case <-ctx.Done():
		return Audit{OK: false, Error: ctx.Err().Error(), Types: typeNames(types), Timestamp: time.Now().UTC()}
	}
}

// sweep flushes every batch of the given kinds whose oldest row aged
// past the coalescing window. Per-batch failures are logged and
// skipped; a listing failure aborts the sweep.
func (t *Triggers) sweep(ctx context.Context, types []notification.Type) Audit {
	audit := Audit{Types: typeNames(types), Timestamp: time.Now().UTC()}
	now := time.Now().UTC()
	processed := 0

	for _, nt := range types {
		users, err := t.store.BatchUserIDs(ctx, nt)
		if err != nil {
			audit.Error = fmt.Sprintf("list batches for %s: %v", nt, err)
			logger.Error("Batch sweep aborted", "type", nt, "error", err)
			return audit
		}

		for _, userID := range users {
			flushed, err := t.flushAged(ctx, userID, nt, now)
			if err != nil {
				logger.Error("Batch sweep flush failed", "user_id", userID, "type", nt, "error", err)
				continue
			}
			if flushed {
				processed++
			}
		}
	}

	audit.OK = true
	audit.ProcessedCount = processed
	log.Printf("[Triggers] Processed %d aged batches", processed)
	return audit
}

// flushAged flushes one (user, type) batch if its deadline has passed.
// Users without an address and ineligible users get their batch
// emptied so it cannot sit in the store forever.
func (t *Triggers) flushAged(ctx context.Context, userID string, nt notification.Type, now time.Time) (bool, error) {
	oldest, err := t.store.BatchOldest(ctx, userID, nt)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil // emptied since listing
		}
		return false, err
	}
	if now.Before(oldest.Add(t.registry.MaxDelay(nt))) {
		return false, nil
	}

	lock := t.handlers.locks(flushKey(userID, nt))
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return false, err
	}
	if !acquired {
		// The dispatcher owns this flush.
		logger.Debug("Sweep skipping locked batch", "user_id", userID, "type", nt)
		return false, nil
	}
	defer lock.Release(ctx)

	recipient, err := t.store.UserEmail(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn("Emptying batch for user without email", "user_id", userID, "type", nt)
			return false, t.store.EmptyBatch(ctx, userID, nt)
		}
		return false, err
	}

	eligible, err := t.store.IsEligible(ctx, userID, nt)
	if err != nil {
		return false, err
	}
	if !eligible {
		return false, t.store.EmptyBatch(ctx, userID, nt)
	}

	if !t.handlers.flushLocked(ctx, recipient, userID, nt) {
		return false, fmt.Errorf("flush failed")
	}
	return true, nil
}

func typeNames(types []notification.Type) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}
