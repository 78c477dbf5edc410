package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ignite/notification-dispatch/internal/notification"
	"github.com/ignite/notification-dispatch/internal/pkg/logger"
)

// Result reports the outcome of a publish request.
type Result struct {
	Ok      bool   `json:"ok"`
	Message string `json:"message"`
}

// Publisher is the producer surface consumed by the API layer and the
// scheduled triggers.
type Publisher interface {
	Publish(ctx context.Context, event *notification.Event) Result
	PublishAsync(event *notification.Event)
}

type confirmPublisher interface {
	publish(ctx context.Context, routingKey string, msg amqp.Publishing) error
}

// Producer routes events to the notifications exchange. Safe for
// concurrent use; publishes share the client's confirm channel.
type Producer struct {
	client   confirmPublisher
	registry *notification.Registry
	timeout  time.Duration
}

// NewProducer builds a producer on top of an established client. The
// registry decides routing keys, so configuration overrides apply to
// publishes as well as handling.
func NewProducer(client *Client, registry *notification.Registry) *Producer {
	return &Producer{
		client:   client,
		registry: registry,
		timeout:  30 * time.Second,
	}
}

// Publish serializes the event and publishes it with the routing key
// notification.<strategy>.<TYPE>. Broker errors are captured in the
// result; there is no local retry. Types whose strategy has no bound
// queue are refused so events cannot silently vanish.
func (p *Producer) Publish(ctx context.Context, event *notification.Event) Result {
	if !event.Type.Valid() {
		return Result{Ok: false, Message: fmt.Sprintf("unknown notification type %q", event.Type)}
	}
	if s := p.registry.Strategy(event.Type); s == notification.StrategyBackoff {
		return Result{Ok: false, Message: fmt.Sprintf("%s has no bound queue, refusing to publish", event.Type)}
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return Result{Ok: false, Message: fmt.Sprintf("serialize event: %v", err)}
	}

	routingKey := p.registry.RoutingKey(event.Type)
	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Headers: amqp.Table{
			"event_type": string(event.Type),
		},
		Body: body,
	}

	if err := p.client.publish(ctx, routingKey, msg); err != nil {
		logger.Error("Publish failed",
			"type", event.Type,
			"routing_key", routingKey,
			"error", err)
		return Result{Ok: false, Message: err.Error()}
	}

	logger.Debug("Published notification",
		"type", event.Type,
		"routing_key", routingKey,
		"user_id", event.UserID)
	return Result{Ok: true, Message: "queued"}
}

// PublishAsync queues the publish on a background goroutine. Failures
// are logged; callers that need the outcome use Publish.
func (p *Producer) PublishAsync(event *notification.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		if res := p.Publish(ctx, event); !res.Ok {
			logger.Error("Async publish failed",
				"type", event.Type,
				"user_id", event.UserID,
				"message", res.Message)
		}
	}()
}

var _ Publisher = (*Producer)(nil)
