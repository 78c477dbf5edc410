package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/notification-dispatch/internal/notification"
	"github.com/ignite/notification-dispatch/internal/pkg/logger"
)

// Summary renders and sends a windowed activity report. The wire
// payload carries only the window parameters; the aggregates are
// computed here, at handling time, so the report reflects the store
// and not a publish-time snapshot.
func (h *Handlers) Summary(ctx context.Context, event *notification.Event) bool {
	recipient, eligible, ok := h.recipientFor(ctx, event)
	if !ok {
		return false
	}
	if !eligible {
		logger.Debug("Summary skipped, user ineligible",
			"user_id", event.UserID, "type", event.Type)
		return true
	}

	data, err := h.GatherSummary(ctx, event.UserID, event.Type, event.Data)
	if err != nil {
		logger.Error("Summary aggregation failed",
			"user_id", event.UserID, "type", event.Type, "error", err)
		return false
	}

	if err := h.sender.SendTemplated(ctx, event.Type, recipient, data, h.signer.Link(event.UserID)); err != nil {
		logger.Error("Summary send failed", "user_id", event.UserID, "type", event.Type, "error", err)
		return false
	}
	return true
}

// GatherSummary computes the report data for one summary event: the
// run aggregates over the window named by the params payload. Types
// without a summary definition are an error.
func (h *Handlers) GatherSummary(ctx context.Context, userID string, t notification.Type, params interface{}) (interface{}, error) {
	switch t {
	case notification.TypeDailySummary:
		p, ok := params.(*notification.DailySummaryParams)
		if !ok {
			return nil, fmt.Errorf("unexpected params %T for %s", params, t)
		}
		start := p.Date.UTC().Truncate(24 * time.Hour)
		end := start.AddDate(0, 0, 1)

		stats, err := h.summaryStats(ctx, userID, start, end)
		if err != nil {
			return nil, err
		}
		return &notification.DailySummaryData{SummaryData: stats, Date: start}, nil

	case notification.TypeWeeklySummary:
		p, ok := params.(*notification.WeeklySummaryParams)
		if !ok {
			return nil, fmt.Errorf("unexpected params %T for %s", params, t)
		}

		stats, err := h.summaryStats(ctx, userID, p.StartDate.UTC(), p.EndDate.UTC())
		if err != nil {
			return nil, err
		}
		return &notification.WeeklySummaryData{
			SummaryData: stats,
			StartDate:   p.StartDate.UTC(),
			EndDate:     p.EndDate.UTC(),
		}, nil

	default:
		return nil, fmt.Errorf("type %s has no summary definition", t)
	}
}

func (h *Handlers) summaryStats(ctx context.Context, userID string, start, end time.Time) (notification.SummaryData, error) {
	stats, err := h.store.ExecutionStatsInWindow(ctx, userID, start, end)
	if err != nil {
		return notification.SummaryData{}, fmt.Errorf("execution stats: %w", err)
	}
	mostUsed, err := h.store.MostUsedAgentInWindow(ctx, userID, start, end)
	if err != nil {
		return notification.SummaryData{}, fmt.Errorf("most used agent: %w", err)
	}
	costs, err := h.store.CostBreakdownInWindow(ctx, userID, start, end)
	if err != nil {
		return notification.SummaryData{}, fmt.Errorf("cost breakdown: %w", err)
	}

	return notification.SummaryData{
		TotalCreditsUsed:     stats.TotalCreditsUsed,
		TotalExecutions:      stats.TotalExecutions,
		MostUsedAgent:        mostUsed,
		TotalExecutionTime:   stats.TotalExecutionTime,
		SuccessfulRuns:       stats.SuccessfulRuns,
		FailedRuns:           stats.FailedRuns(),
		AverageExecutionTime: stats.AverageExecutionTime,
		CostBreakdown:        costs,
	}, nil
}
