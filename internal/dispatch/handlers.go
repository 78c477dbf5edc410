package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/notification-dispatch/internal/email"
	"github.com/ignite/notification-dispatch/internal/notification"
	"github.com/ignite/notification-dispatch/internal/pkg/distlock"
	"github.com/ignite/notification-dispatch/internal/pkg/logger"
	"github.com/ignite/notification-dispatch/internal/storage"
)

// Store is the slice of the storage layer the handlers use.
type Store interface {
	UserEmail(ctx context.Context, userID string) (string, error)
	IsEligible(ctx context.Context, userID string, t notification.Type) (bool, error)
	AppendToBatch(ctx context.Context, event *notification.Event) error
	BatchOldest(ctx context.Context, userID string, t notification.Type) (time.Time, error)
	GetBatch(ctx context.Context, userID string, t notification.Type) ([]storage.BatchEvent, error)
	EmptyBatch(ctx context.Context, userID string, t notification.Type) error
	EmptyBatchThrough(ctx context.Context, userID string, t notification.Type, maxID int64) error
	BatchUserIDs(ctx context.Context, t notification.Type) ([]string, error)
	ActiveUserIDs(ctx context.Context, start, end time.Time) ([]string, error)
	ExecutionStatsInWindow(ctx context.Context, userID string, start, end time.Time) (storage.ExecutionStats, error)
	MostUsedAgentInWindow(ctx context.Context, userID string, start, end time.Time) (string, error)
	CostBreakdownInWindow(ctx context.Context, userID string, start, end time.Time) (map[string]float64, error)
}

var _ Store = (*storage.Store)(nil)

// LockFactory creates the per-key distributed lock that serializes
// concurrent flushes of the same batch between the dispatcher and the
// sweep.
type LockFactory func(key string) distlock.DistLock

// Handlers implements the delivery strategy behind each working queue.
// Every method returns processed: true acks the message, false sends
// it to the dead letter exchange.
type Handlers struct {
	store      Store
	sender     email.Sender
	signer     *email.LinkSigner
	registry   *notification.Registry
	locks      LockFactory
	adminEmail string
}

// NewHandlers wires the handler set. The registry decides coalescing
// windows, so configuration overrides reach the batch logic.
func NewHandlers(store Store, sender email.Sender, signer *email.LinkSigner, registry *notification.Registry, locks LockFactory, adminEmail string) *Handlers {
	return &Handlers{
		store:      store,
		sender:     sender,
		signer:     signer,
		registry:   registry,
		locks:      locks,
		adminEmail: adminEmail,
	}
}

// Immediate sends one email per event as it arrives.
func (h *Handlers) Immediate(ctx context.Context, event *notification.Event) bool {
	recipient, eligible, ok := h.recipientFor(ctx, event)
	if !ok {
		return false
	}
	if !eligible {
		logger.Debug("Notification skipped, user ineligible",
			"user_id", event.UserID, "type", event.Type)
		return true
	}

	if err := h.sender.SendTemplated(ctx, event.Type, recipient, event.Data, h.signer.Link(event.UserID)); err != nil {
		logger.Error("Send failed", "user_id", event.UserID, "type", event.Type, "error", err)
		return false
	}
	return true
}

// Admin fans the event out to the configured admin address. User
// preferences and unsubscribe links do not apply; the admin owns the
// inbox.
func (h *Handlers) Admin(ctx context.Context, event *notification.Event) bool {
	if h.adminEmail == "" {
		logger.Error("Admin notification dropped, no admin email configured", "type", event.Type)
		return false
	}

	if err := h.sender.SendTemplated(ctx, event.Type, h.adminEmail, event.Data, ""); err != nil {
		logger.Error("Admin send failed", "type", event.Type, "error", err)
		return false
	}
	return true
}

// Batch appends the event to the (user, type) batch and flushes once
// the oldest member has aged past the coalescing window. The store is
// the source of truth: a not-ready event is rejected after the append,
// and its dead-lettered copy is an already-stored duplicate.
func (h *Handlers) Batch(ctx context.Context, event *notification.Event) bool {
	recipient, eligible, ok := h.recipientFor(ctx, event)
	if !ok {
		return false
	}
	if !eligible {
		if err := h.store.EmptyBatch(ctx, event.UserID, event.Type); err != nil {
			logger.Error("Empty batch failed", "user_id", event.UserID, "type", event.Type, "error", err)
			return false
		}
		return true
	}

	if err := h.store.AppendToBatch(ctx, event); err != nil {
		logger.Error("Batch append failed", "user_id", event.UserID, "type", event.Type, "error", err)
		return false
	}

	oldest, err := h.store.BatchOldest(ctx, event.UserID, event.Type)
	if err != nil {
		// The row appended a moment ago has to be there.
		logger.Error("Batch has no oldest row after append",
			"user_id", event.UserID, "type", event.Type, "error", err)
		return false
	}

	deadline := oldest.Add(h.registry.MaxDelay(event.Type))
	now := time.Now().UTC()
	if now.Before(deadline) {
		logger.Debug("Batch not ready",
			"user_id", event.UserID, "type", event.Type,
			"oldest", oldest.Format(time.RFC3339),
			"flush_after", deadline.Format(time.RFC3339))
		return false
	}

	lock := h.locks(flushKey(event.UserID, event.Type))
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		logger.Error("Flush lock error", "user_id", event.UserID, "type", event.Type, "error", err)
		return false
	}
	if !acquired {
		logger.Debug("Flush lock busy", "user_id", event.UserID, "type", event.Type)
		return false
	}
	defer lock.Release(ctx)

	return h.flushLocked(ctx, recipient, event.UserID, event.Type)
}

// flushKey names the distributed lock for one (user, type) batch.
func flushKey(userID string, t notification.Type) string {
	return fmt.Sprintf("flush:%s:%s", userID, t)
}

// flushLocked loads, renders and sends one batch, then clears exactly
// the rows that were sent. Rows appended while the send is in flight
// survive for the next flush. Caller holds the flush lock.
func (h *Handlers) flushLocked(ctx context.Context, recipient, userID string, t notification.Type) bool {
	rows, err := h.store.GetBatch(ctx, userID, t)
	if err != nil {
		logger.Error("Load batch failed", "user_id", userID, "type", t, "error", err)
		return false
	}
	if len(rows) == 0 {
		// A concurrent flush took the rows, this event included.
		return true
	}

	var maxID int64
	events := make([]*notification.Event, 0, len(rows))
	for _, row := range rows {
		if row.ID > maxID {
			maxID = row.ID
		}
		data, err := notification.DecodePayload(row.Type, row.Data)
		if err != nil {
			logger.Warn("Skipping undecodable batch row",
				"user_id", userID, "type", row.Type, "row_id", row.ID, "error", err)
			continue
		}
		events = append(events, &notification.Event{
			UserID:    userID,
			Type:      row.Type,
			Data:      data,
			CreatedAt: row.CreatedAt,
		})
	}

	if len(events) > 0 {
		if err := h.sender.SendTemplated(ctx, t, recipient, events, h.signer.Link(userID)); err != nil {
			logger.Error("Batch send failed",
				"user_id", userID, "type", t, "count", len(events), "error", err)
			return false
		}
	}

	if err := h.store.EmptyBatchThrough(ctx, userID, t, maxID); err != nil {
		logger.Error("Empty batch failed", "user_id", userID, "type", t, "error", err)
		return false
	}

	logger.Info("Flushed batch", "user_id", userID, "type", t, "count", len(events))
	return true
}

// recipientFor resolves the user's address and eligibility. ok=false
// is a lookup failure the caller turns into a reject.
func (h *Handlers) recipientFor(ctx context.Context, event *notification.Event) (recipient string, eligible, ok bool) {
	recipient, err := h.store.UserEmail(ctx, event.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Warn("No email for user", "user_id", event.UserID, "type", event.Type)
		} else {
			logger.Error("User email lookup failed", "user_id", event.UserID, "error", err)
		}
		return "", false, false
	}

	eligible, err = h.store.IsEligible(ctx, event.UserID, event.Type)
	if err != nil {
		logger.Error("Eligibility lookup failed", "user_id", event.UserID, "error", err)
		return "", false, false
	}
	return recipient, eligible, true
}
