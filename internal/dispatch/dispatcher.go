// Package dispatch consumes notification events from the broker and
// applies the per-kind delivery strategy: immediate sends, admin
// fan-out, time-bounded batching and windowed summaries.
package dispatch

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ignite/notification-dispatch/internal/config"
	"github.com/ignite/notification-dispatch/internal/notification"
	"github.com/ignite/notification-dispatch/internal/rabbit"
)

// State is the dispatcher lifecycle phase, exposed for health checks.
type State string

const (
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
	StateStopped  State = "STOPPED"
)

// QueueSource fetches single messages from named queues with a bounded
// wait.
type QueueSource interface {
	Get(queue string, timeout time.Duration) (amqp.Delivery, bool, error)
	IsConnected() bool
}

// Handler processes one parsed event. The return value decides the
// broker outcome: true acks, false rejects without requeue and the
// message dead-letters.
type Handler func(ctx context.Context, event *notification.Event) bool

// Dispatcher polls the working queues round-robin and routes each
// message to the handler bound to its queue. One cooperative loop; a
// bad message never stops it.
type Dispatcher struct {
	source   QueueSource
	handlers map[string]Handler
	queues   []string

	getTimeout   time.Duration
	pollInterval time.Duration

	// Stats
	processed int64
	rejected  int64

	// Control
	state   atomic.Value // State
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// New creates a dispatcher over the four working queues. The handler
// for a message is selected by the queue it arrived on, not by the
// event's own strategy, so configuration overrides cannot strand
// already-queued messages.
func New(cfg config.BrokerConfig, source QueueSource, handlers *Handlers) *Dispatcher {
	d := &Dispatcher{
		source: source,
		handlers: map[string]Handler{
			rabbit.QueueImmediate: handlers.Immediate,
			rabbit.QueueAdmin:     handlers.Admin,
			rabbit.QueueBatch:     handlers.Batch,
			rabbit.QueueSummary:   handlers.Summary,
		},
		queues:       rabbit.WorkingQueues(),
		getTimeout:   cfg.GetTimeout(),
		pollInterval: cfg.PollInterval(),
	}
	d.state.Store(StateStopped)
	return d
}

// State returns the current lifecycle phase.
func (d *Dispatcher) State() State {
	return d.state.Load().(State)
}

// Stats returns message counters for health reporting.
func (d *Dispatcher) Stats() map[string]int64 {
	return map[string]int64{
		"processed": atomic.LoadInt64(&d.processed),
		"rejected":  atomic.LoadInt64(&d.rejected),
	}
}

// Start launches the poll loop.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.mu.Unlock()

	d.state.Store(StateStarting)
	log.Printf("[Dispatcher] Starting, polling %d queues every %s", len(d.queues), d.pollInterval)

	d.wg.Add(1)
	go d.loop()
}

// Stop ends the loop after the current iteration and waits for the
// in-flight message to settle its ack or reject.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.cancel()
	d.mu.Unlock()

	d.state.Store(StateStopping)
	log.Println("[Dispatcher] Stopping...")
	d.wg.Wait()
	d.state.Store(StateStopped)

	log.Printf("[Dispatcher] Stopped. Processed: %d, rejected: %d",
		atomic.LoadInt64(&d.processed), atomic.LoadInt64(&d.rejected))
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	d.state.Store(StateRunning)

	for {
		select {
		case <-d.ctx.Done():
			return
		default:
			d.round()

			select {
			case <-d.ctx.Done():
				return
			case <-time.After(d.pollInterval):
			}
		}
	}
}

// round visits every working queue once.
func (d *Dispatcher) round() {
	for _, queue := range d.queues {
		select {
		case <-d.ctx.Done():
			return
		default:
		}
		d.poll(queue)
	}
}

func (d *Dispatcher) poll(queue string) {
	delivery, ok, err := d.source.Get(queue, d.getTimeout)
	if err != nil {
		log.Printf("[Dispatcher] Error fetching from %s: %v", queue, err)
		return
	}
	if !ok {
		return
	}
	d.handle(queue, delivery)
}

// handle parses and processes one delivery. Panics are contained here;
// the message is rejected and the loop keeps going.
func (d *Dispatcher) handle(queue string, delivery amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Dispatcher] Panic handling message from %s: %v", queue, r)
			d.reject(queue, delivery)
		}
	}()

	event, err := notification.ParseEvent(delivery.Body)
	if err != nil {
		log.Printf("[Dispatcher] Dropping message from %s: %v", queue, err)
		d.reject(queue, delivery)
		return
	}

	handler, ok := d.handlers[queue]
	if !ok {
		log.Printf("[Dispatcher] No handler bound to queue %s", queue)
		d.reject(queue, delivery)
		return
	}

	if handler(d.ctx, event) {
		if err := delivery.Ack(false); err != nil {
			log.Printf("[Dispatcher] Ack failed on %s: %v", queue, err)
			return
		}
		atomic.AddInt64(&d.processed, 1)
		return
	}
	d.reject(queue, delivery)
}

// reject forwards the message to the dead letter exchange.
func (d *Dispatcher) reject(queue string, delivery amqp.Delivery) {
	if err := delivery.Reject(false); err != nil {
		log.Printf("[Dispatcher] Reject failed on %s: %v", queue, err)
		return
	}
	atomic.AddInt64(&d.rejected, 1)
}
