package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/notification-dispatch/internal/dispatch"
	"github.com/ignite/notification-dispatch/internal/pkg/httputil"
)

// HealthStatus represents the overall health of the service.
type HealthStatus struct {
	Status     string           `json:"status"` // "healthy", "degraded"
	Version    string           `json:"version"`
	Uptime     string           `json:"uptime"`
	Dispatcher DispatcherHealth `json:"dispatcher"`
	Broker     BrokerHealth     `json:"broker"`
}

// DispatcherHealth reports the consume loop's state and counters.
type DispatcherHealth struct {
	State     dispatch.State `json:"state"`
	Processed int64          `json:"processed"`
	Rejected  int64          `json:"rejected"`
}

// BrokerHealth reports broker connectivity.
type BrokerHealth struct {
	Connected bool `json:"connected"`
}

const healthVersion = "1.0.0"

// HealthCheck reports liveness plus the dispatcher and broker state.
// Always HTTP 200; the status field in the body conveys health.
//
//	GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:  "healthy",
		Version: healthVersion,
		Uptime:  formatUptime(time.Since(h.startTime)),
		Dispatcher: DispatcherHealth{
			State: dispatch.StateStopped,
		},
	}

	if h.dispatcher != nil {
		stats := h.dispatcher.Stats()
		status.Dispatcher = DispatcherHealth{
			State:     h.dispatcher.State(),
			Processed: stats["processed"],
			Rejected:  stats["rejected"],
		}
	}
	if h.broker != nil {
		status.Broker.Connected = h.broker.IsConnected()
	}

	if status.Dispatcher.State != dispatch.StateRunning || !status.Broker.Connected {
		status.Status = "degraded"
	}

	httputil.JSON(w, http.StatusOK, status)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
