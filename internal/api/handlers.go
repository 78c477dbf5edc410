package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ignite/notification-dispatch/internal/alert"
	"github.com/ignite/notification-dispatch/internal/dispatch"
	"github.com/ignite/notification-dispatch/internal/notification"
	"github.com/ignite/notification-dispatch/internal/pkg/httputil"
	"github.com/ignite/notification-dispatch/internal/rabbit"
)

// maxBodyBytes bounds request bodies. Events are small; anything
// larger is garbage.
const maxBodyBytes = 1 << 20

// Broker reports broker connectivity for the health endpoint.
type Broker interface {
	IsConnected() bool
}

// Triggerer runs the scheduled jobs this surface exposes.
type Triggerer interface {
	QueueWeeklySummary() bool
	ProcessExistingBatches(ctx context.Context, types []notification.Type) dispatch.Audit
}

// DispatcherStatus reports the consume loop for the health endpoint.
type DispatcherStatus interface {
	State() dispatch.State
	Stats() map[string]int64
}

// Handlers contains the HTTP request handlers
type Handlers struct {
	publisher  rabbit.Publisher
	dispatcher DispatcherStatus
	triggers   Triggerer
	alerts     alert.Sink
	broker     Broker
	startTime  time.Time
}

// NewHandlers creates a new Handlers instance. Publisher and broker
// may be nil when the broker was unreachable at boot; the queue
// endpoints then answer 503 instead of panicking.
func NewHandlers(publisher rabbit.Publisher, dispatcher DispatcherStatus, triggers Triggerer, alerts alert.Sink, broker Broker) *Handlers {
	return &Handlers{
		publisher:  publisher,
		dispatcher: dispatcher,
		triggers:   triggers,
		alerts:     alerts,
		broker:     broker,
		startTime:  time.Now(),
	}
}

// readEvent parses the request body as a notification event.
func readEvent(r *http.Request) (*notification.Event, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return notification.ParseEvent(body)
}

// HandleQueue publishes one event and reports the broker outcome.
//
//	POST /api/notifications/queue
func (h *Handlers) HandleQueue(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "broker unavailable")
		return
	}

	event, err := readEvent(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	httputil.JSON(w, http.StatusOK, h.publisher.Publish(r.Context(), event))
}

// HandleQueueAsync accepts one event for publication without waiting
// for broker confirmation.
//
//	POST /api/notifications/queue-async
func (h *Handlers) HandleQueueAsync(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "broker unavailable")
		return
	}

	event, err := readEvent(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	h.publisher.PublishAsync(event)
	httputil.JSON(w, http.StatusAccepted, rabbit.Result{Ok: true, Message: "queued for publish"})
}

// HandleWeeklySummary fires the weekly summary fan-out on the trigger
// pool. Fire and forget; the fan-out outcome lands in the logs.
//
//	POST /api/notifications/weekly-summary
func (h *Handlers) HandleWeeklySummary(w http.ResponseWriter, r *http.Request) {
	if h.triggers == nil || !h.triggers.QueueWeeklySummary() {
		httputil.Error(w, http.StatusServiceUnavailable, "trigger pool not running")
		return
	}
	httputil.JSON(w, http.StatusAccepted, map[string]interface{}{
		"ok":      true,
		"message": "weekly summary fan-out queued",
	})
}

// HandleProcessBatches sweeps aged batches and returns the audit
// record. An empty or omitted type list means every batched kind.
//
//	POST /api/notifications/process-batches
func (h *Handlers) HandleProcessBatches(w http.ResponseWriter, r *http.Request) {
	if h.triggers == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "trigger pool not running")
		return
	}

	var req struct {
		Types []string `json:"types"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	types := make([]notification.Type, 0, len(req.Types))
	for _, name := range req.Types {
		t, err := notification.ParseType(name)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		types = append(types, t)
	}

	httputil.JSON(w, http.StatusOK, h.triggers.ProcessExistingBatches(r.Context(), types))
}

// HandleDiscordAlert forwards one system alert to the alert sink.
//
//	POST /api/alerts/discord
func (h *Handlers) HandleDiscordAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Content == "" {
		httputil.Error(w, http.StatusBadRequest, "content is required")
		return
	}

	if err := h.alerts.SendAlert(r.Context(), req.Content); err != nil {
		httputil.Error(w, http.StatusBadGateway, err.Error())
		return
	}
	httputil.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}
