package rabbit

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ignite/notification-dispatch/internal/notification"
)

const (
	// ExchangeNotifications receives all producer traffic.
	ExchangeNotifications = "notifications"
	// ExchangeDeadLetter receives messages rejected without requeue.
	ExchangeDeadLetter = "dead_letter"

	QueueImmediate = "immediate_notifications"
	QueueAdmin     = "admin_notifications"
	QueueBatch     = "batch_notifications"
	QueueSummary   = "summary_notifications"
	QueueFailed    = "failed_notifications"
)

// workingQueues lists the consumer queues in dispatcher poll order.
var workingQueues = []struct {
	name     string
	strategy notification.Strategy
}{
	{QueueImmediate, notification.StrategyImmediate},
	{QueueAdmin, notification.StrategyAdmin},
	{QueueBatch, notification.StrategyBatch},
	{QueueSummary, notification.StrategySummary},
}

// WorkingQueues returns the queue names in dispatcher poll order.
func WorkingQueues() []string {
	names := make([]string, len(workingQueues))
	for i, q := range workingQueues {
		names[i] = q.name
	}
	return names
}

func bindingPattern(s notification.Strategy) string {
	return "notification." + s.Token() + ".#"
}

func dlxRoutingKey(s notification.Strategy) string {
	return "failed." + s.Token()
}

// declareTopology asserts exchanges, queues and bindings. Declares are
// idempotent and run on every (re)connect. Working queues dead-letter
// into the failed queue through the dead_letter exchange.
func declareTopology(ch *amqp.Channel) error {
	for _, exchange := range []string{ExchangeNotifications, ExchangeDeadLetter} {
		if err := ch.ExchangeDeclare(
			exchange,
			"topic", // type
			true,    // durable
			false,   // auto-deleted
			false,   // internal
			false,   // no-wait
			nil,     // arguments
		); err != nil {
			return fmt.Errorf("declare exchange %s: %w", exchange, err)
		}
	}

	for _, q := range workingQueues {
		args := amqp.Table{
			"x-dead-letter-exchange":    ExchangeDeadLetter,
			"x-dead-letter-routing-key": dlxRoutingKey(q.strategy),
		}
		if _, err := ch.QueueDeclare(
			q.name,
			true,  // durable
			false, // auto-deleted
			false, // exclusive
			false, // no-wait
			args,
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
		if err := ch.QueueBind(
			q.name,
			bindingPattern(q.strategy),
			ExchangeNotifications,
			false, // no-wait
			nil,   // arguments
		); err != nil {
			return fmt.Errorf("bind queue %s: %w", q.name, err)
		}
	}

	if _, err := ch.QueueDeclare(
		QueueFailed,
		true,  // durable
		false, // auto-deleted
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", QueueFailed, err)
	}
	if err := ch.QueueBind(
		QueueFailed,
		"failed.#",
		ExchangeDeadLetter,
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return fmt.Errorf("bind queue %s: %w", QueueFailed, err)
	}

	return nil
}
