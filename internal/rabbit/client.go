package rabbit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ignite/notification-dispatch/internal/config"
	"github.com/ignite/notification-dispatch/internal/pkg/logger"
)

// Client owns the broker connection and one channel per logical role: a
// confirm-mode channel shared by publishers and a prefetch-limited
// channel owned by the dispatcher loop. Topology is asserted on every
// (re)connect.
type Client struct {
	cfg config.BrokerConfig

	mu     sync.RWMutex
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	getCh  *amqp.Channel
	closed bool
}

// New connects to the broker and declares the topology.
func New(cfg config.BrokerConfig) (*Client, error) {
	c := &Client{cfg: cfg}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}

	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open publish channel: %w", err)
	}
	if err := pubCh.Confirm(false); err != nil {
		conn.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}

	getCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open consume channel: %w", err)
	}
	if err := getCh.Qos(
		c.cfg.PrefetchCount, // prefetch count
		0,                   // prefetch size
		false,               // global
	); err != nil {
		conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	if err := declareTopology(pubCh); err != nil {
		conn.Close()
		return err
	}

	notify := make(chan *amqp.Error, 1)
	conn.NotifyClose(notify)

	c.mu.Lock()
	c.conn = conn
	c.pubCh = pubCh
	c.getCh = getCh
	c.mu.Unlock()

	go c.watchConnection(notify)
	return nil
}

// watchConnection reconnects after an abnormal connection loss. Each
// successful connect registers a fresh watcher, so this returns once it
// has handled a single closure.
func (c *Client) watchConnection(closings <-chan *amqp.Error) {
	err, ok := <-closings
	if !ok || err == nil {
		return
	}

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return
	}

	logger.Warn("Broker connection lost", "error", err)

	for attempt := 1; attempt <= c.cfg.MaxReconnectTries; attempt++ {
		time.Sleep(c.cfg.ReconnectDelay())
		if err := c.connect(); err != nil {
			logger.Warn("Broker reconnect failed", "attempt", attempt, "error", err)
			continue
		}
		logger.Info("Broker connection restored", "attempt", attempt)
		return
	}
	logger.Error("Broker reconnect attempts exhausted", "attempts", c.cfg.MaxReconnectTries)
}

// Get fetches at most one message from queue, waiting up to timeout for
// the broker round trip. An empty queue returns ok=false with no error.
func (c *Client) Get(queue string, timeout time.Duration) (amqp.Delivery, bool, error) {
	c.mu.RLock()
	ch := c.getCh
	closed := c.closed
	c.mu.RUnlock()
	if closed || ch == nil {
		return amqp.Delivery{}, false, errors.New("broker connection closed")
	}

	type result struct {
		msg amqp.Delivery
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, ok, err := ch.Get(queue, false)
		done <- result{msg, ok, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return amqp.Delivery{}, false, fmt.Errorf("get %s: %w", queue, r.err)
		}
		return r.msg, r.ok, nil
	case <-timer.C:
		// The RPC is abandoned. A late delivery is requeued so it does
		// not sit unacked until the channel closes.
		go func() {
			if r := <-done; r.ok {
				_ = r.msg.Reject(true)
			}
		}()
		return amqp.Delivery{}, false, fmt.Errorf("get %s: timed out after %s", queue, timeout)
	}
}

func (c *Client) publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	c.mu.RLock()
	ch := c.pubCh
	closed := c.closed
	c.mu.RUnlock()
	if closed || ch == nil {
		return errors.New("broker connection closed")
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		ExchangeNotifications,
		routingKey,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	if !confirm.Wait() {
		return fmt.Errorf("broker did not confirm %s", routingKey)
	}
	return nil
}

// IsConnected reports whether the underlying connection is usable.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed && c.conn != nil && !c.conn.IsClosed()
}

// Close shuts the connection down and stops reconnection attempts.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}
