package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/ignite/notification-dispatch/internal/email"
	"github.com/ignite/notification-dispatch/internal/notification"
	"github.com/ignite/notification-dispatch/internal/pkg/distlock"
	"github.com/ignite/notification-dispatch/internal/rabbit"
	"github.com/ignite/notification-dispatch/internal/storage"
)

// memStore is an in-memory Store for handler tests.
type memStore struct {
	mu              sync.Mutex
	emails          map[string]string
	eligible        map[string]bool // "user|TYPE"
	defaultEligible bool

	rows   []storage.BatchEvent
	nextID int64

	active   []string
	stats    storage.ExecutionStats
	mostUsed string
	costs    map[string]float64

	lastWindowStart time.Time
	lastWindowEnd   time.Time

	failAppend bool
	failOldest bool
	failList   bool
}

func newMemStore() *memStore {
	return &memStore{
		emails:          map[string]string{},
		eligible:        map[string]bool{},
		defaultEligible: true,
	}
}

func eligKey(userID string, t notification.Type) string {
	return userID + "|" + string(t)
}

func (s *memStore) UserEmail(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.emails[userID]
	if !ok || addr == "" {
		return "", fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
	}
	return addr, nil
}

func (s *memStore) IsEligible(ctx context.Context, userID string, t notification.Type) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.emails[userID]; !ok {
		return false, nil
	}
	if v, ok := s.eligible[eligKey(userID, t)]; ok {
		return v, nil
	}
	return s.defaultEligible, nil
}

func (s *memStore) AppendToBatch(ctx context.Context, event *notification.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAppend {
		return errors.New("insert failed")
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return err
	}
	s.nextID++
	s.rows = append(s.rows, storage.BatchEvent{
		ID:        s.nextID,
		UserID:    event.UserID,
		Type:      event.Type,
		Data:      data,
		CreatedAt: event.CreatedAt,
	})
	return nil
}

func (s *memStore) seedRow(t *testing.T, userID string, nt notification.Type, data interface{}, createdAt time.Time) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.rows = append(s.rows, storage.BatchEvent{
		ID:        s.nextID,
		UserID:    userID,
		Type:      nt,
		Data:      raw,
		CreatedAt: createdAt,
	})
}

func (s *memStore) BatchOldest(ctx context.Context, userID string, t notification.Type) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOldest {
		return time.Time{}, errors.New("query failed")
	}
	var oldest time.Time
	found := false
	for _, row := range s.rows {
		if row.UserID == userID && row.Type == t {
			if !found || row.CreatedAt.Before(oldest) {
				oldest = row.CreatedAt
			}
			found = true
		}
	}
	if !found {
		return time.Time{}, fmt.Errorf("batch %s/%s: %w", userID, t, storage.ErrNotFound)
	}
	return oldest.UTC(), nil
}

func (s *memStore) GetBatch(ctx context.Context, userID string, t notification.Type) ([]storage.BatchEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.BatchEvent
	for _, row := range s.rows {
		if row.UserID == userID && row.Type == t {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) EmptyBatch(ctx context.Context, userID string, t notification.Type) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []storage.BatchEvent
	for _, row := range s.rows {
		if row.UserID == userID && row.Type == t {
			continue
		}
		kept = append(kept, row)
	}
	s.rows = kept
	return nil
}

func (s *memStore) EmptyBatchThrough(ctx context.Context, userID string, t notification.Type, maxID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []storage.BatchEvent
	for _, row := range s.rows {
		if row.UserID == userID && row.Type == t && row.ID <= maxID {
			continue
		}
		kept = append(kept, row)
	}
	s.rows = kept
	return nil
}

func (s *memStore) BatchUserIDs(ctx context.Context, t notification.Type) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failList {
		return nil, errors.New("query failed")
	}
	seen := map[string]bool{}
	var out []string
	for _, row := range s.rows {
		if row.Type == t && !seen[row.UserID] {
			seen[row.UserID] = true
			out = append(out, row.UserID)
		}
	}
	return out, nil
}

func (s *memStore) ActiveUserIDs(ctx context.Context, start, end time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastWindowStart, s.lastWindowEnd = start, end
	return s.active, nil
}

func (s *memStore) ExecutionStatsInWindow(ctx context.Context, userID string, start, end time.Time) (storage.ExecutionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastWindowStart, s.lastWindowEnd = start, end
	return s.stats, nil
}

func (s *memStore) MostUsedAgentInWindow(ctx context.Context, userID string, start, end time.Time) (string, error) {
	return s.mostUsed, nil
}

func (s *memStore) CostBreakdownInWindow(ctx context.Context, userID string, start, end time.Time) (map[string]float64, error) {
	return s.costs, nil
}

func (s *memStore) batchSize(userID string, t notification.Type) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, row := range s.rows {
		if row.UserID == userID && row.Type == t {
			n++
		}
	}
	return n
}

var _ Store = (*memStore)(nil)

// fakeSender records rendered send requests.
type sendCall struct {
	t         notification.Type
	recipient string
	data      interface{}
	link      string
}

type fakeSender struct {
	mu     sync.Mutex
	calls  []sendCall
	fail   bool
	onSend func()
}

func (f *fakeSender) SendTemplated(ctx context.Context, t notification.Type, recipient string, data interface{}, link string) error {
	f.mu.Lock()
	if f.onSend != nil {
		f.mu.Unlock()
		f.onSend()
		f.mu.Lock()
	}
	f.calls = append(f.calls, sendCall{t: t, recipient: recipient, data: data, link: link})
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errors.New("transport down")
	}
	return nil
}

func (f *fakeSender) sent() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sendCall, len(f.calls))
	copy(out, f.calls)
	return out
}

var _ email.Sender = (*fakeSender)(nil)

// fakeLocks hands out locks that honor a per-key busy set.
type fakeLocks struct {
	mu       sync.Mutex
	busy     map[string]bool
	err      error
	acquired []string
	released []string
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{busy: map[string]bool{}}
}

func (f *fakeLocks) factory() LockFactory {
	return func(key string) distlock.DistLock {
		return &fakeLock{key: key, owner: f}
	}
}

type fakeLock struct {
	key   string
	owner *fakeLocks
}

func (l *fakeLock) Acquire(ctx context.Context) (bool, error) {
	f := l.owner
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.busy[l.key] {
		return false, nil
	}
	f.acquired = append(f.acquired, l.key)
	return true, nil
}

func (l *fakeLock) Release(ctx context.Context) error {
	f := l.owner
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, l.key)
	return nil
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []*notification.Event
	fail   bool
}

func (f *fakePublisher) Publish(ctx context.Context, event *notification.Event) rabbit.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return rabbit.Result{Ok: false, Message: "broker down"}
	}
	f.events = append(f.events, event)
	return rabbit.Result{Ok: true, Message: "queued"}
}

func (f *fakePublisher) PublishAsync(event *notification.Event) {
	f.Publish(context.Background(), event)
}

func (f *fakePublisher) published() []*notification.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*notification.Event, len(f.events))
	copy(out, f.events)
	return out
}

var _ rabbit.Publisher = (*fakePublisher)(nil)

// fakeAcker implements amqp.Acknowledger for delivery tests.
type fakeAcker struct {
	mu       sync.Mutex
	acked    []uint64
	rejected []uint64
	requeued []bool
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejected = append(a.rejected, tag)
	a.requeued = append(a.requeued, requeue)
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejected = append(a.rejected, tag)
	a.requeued = append(a.requeued, requeue)
	return nil
}

// fakeSource serves scripted deliveries per queue and records visits.
type fakeSource struct {
	mu        sync.Mutex
	queues    map[string][]amqp.Delivery
	visits    []string
	connected bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{queues: map[string][]amqp.Delivery{}, connected: true}
}

func (f *fakeSource) push(queue string, d amqp.Delivery) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queues[queue] = append(f.queues[queue], d)
}

func (f *fakeSource) Get(queue string, timeout time.Duration) (amqp.Delivery, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visits = append(f.visits, queue)
	list := f.queues[queue]
	if len(list) == 0 {
		return amqp.Delivery{}, false, nil
	}
	d := list[0]
	f.queues[queue] = list[1:]
	return d, true, nil
}

func (f *fakeSource) IsConnected() bool { return f.connected }

var _ QueueSource = (*fakeSource)(nil)

// Shared construction helpers.

func testSigner() *email.LinkSigner {
	return email.NewLinkSigner("https://example.com/unsubscribe", "test-secret")
}

func newTestHandlers(store Store, sender email.Sender, locks *fakeLocks, overrides map[notification.Type]notification.Override) *Handlers {
	return NewHandlers(store, sender, testSigner(), notification.NewRegistry(overrides), locks.factory(), "admin@example.com")
}

func eventBody(t *testing.T, event *notification.Event) []byte {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return body
}

func blockFailure(name, msg string) *notification.BlockExecutionFailedData {
	return &notification.BlockExecutionFailedData{
		BlockName:    name,
		BlockID:      "b-" + name,
		ErrorMessage: msg,
		GraphID:      "g1",
		ExecutionID:  "e-" + name,
	}
}

func agentRun(name string) *notification.AgentRunData {
	return &notification.AgentRunData{
		AgentName:     name,
		CreditsUsed:   3.5,
		ExecutionTime: 12,
		NodeCount:     3,
		GraphID:       "g1",
	}
}
