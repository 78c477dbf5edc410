package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/notification-dispatch/internal/notification"
	"github.com/ignite/notification-dispatch/internal/storage"
)

func TestSummarySendsAggregatedReport(t *testing.T) {
	store := newMemStore()
	store.emails["u1"] = "user@example.com"
	store.stats = storage.ExecutionStats{
		TotalCreditsUsed:     120.5,
		TotalExecutions:      40,
		SuccessfulRuns:       37,
		TotalExecutionTime:   7500,
		AverageExecutionTime: 187.5,
	}
	store.mostUsed = "Lead Finder"
	store.costs = map[string]float64{"Lead Finder": 90.5, "Ad Writer": 30}
	sender := &fakeSender{}
	h := newTestHandlers(store, sender, newFakeLocks(), nil)

	start := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)
	event := notification.NewEvent("u1", notification.TypeWeeklySummary,
		&notification.WeeklySummaryParams{StartDate: start, EndDate: end})
	require.True(t, h.Summary(context.Background(), event))

	calls := sender.sent()
	require.Len(t, calls, 1)
	data, ok := calls[0].data.(*notification.WeeklySummaryData)
	require.True(t, ok, "summary sends WeeklySummaryData, got %T", calls[0].data)
	assert.Equal(t, start, data.StartDate)
	assert.Equal(t, end, data.EndDate)
	assert.Equal(t, 120.5, data.TotalCreditsUsed)
	assert.Equal(t, 40, data.TotalExecutions)
	assert.Equal(t, 3, data.FailedRuns)
	assert.Equal(t, "Lead Finder", data.MostUsedAgent)
	assert.Equal(t, store.costs, data.CostBreakdown)
	assert.Contains(t, calls[0].link, "user=u1")
}

func TestSummaryIneligibleDropsSilently(t *testing.T) {
	store := newMemStore()
	store.emails["u1"] = "user@example.com"
	store.eligible[eligKey("u1", notification.TypeDailySummary)] = false
	sender := &fakeSender{}
	h := newTestHandlers(store, sender, newFakeLocks(), nil)

	event := notification.NewEvent("u1", notification.TypeDailySummary,
		&notification.DailySummaryParams{Date: time.Now().UTC()})
	assert.True(t, h.Summary(context.Background(), event))
	assert.Empty(t, sender.sent())
}

func TestGatherSummaryDailyWindow(t *testing.T) {
	store := newMemStore()
	h := newTestHandlers(store, &fakeSender{}, newFakeLocks(), nil)

	// An afternoon timestamp collapses to the calendar day.
	at := time.Date(2025, 6, 10, 15, 42, 7, 0, time.UTC)
	got, err := h.GatherSummary(context.Background(), "u1", notification.TypeDailySummary,
		&notification.DailySummaryParams{Date: at})
	require.NoError(t, err)

	data, ok := got.(*notification.DailySummaryData)
	require.True(t, ok)
	dayStart := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, dayStart, data.Date)
	assert.Equal(t, dayStart, store.lastWindowStart)
	assert.Equal(t, dayStart.AddDate(0, 0, 1), store.lastWindowEnd)
}

func TestGatherSummaryRejectsMismatchedParams(t *testing.T) {
	h := newTestHandlers(newMemStore(), &fakeSender{}, newFakeLocks(), nil)

	_, err := h.GatherSummary(context.Background(), "u1", notification.TypeWeeklySummary,
		&notification.DailySummaryParams{Date: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected params")
}

func TestGatherSummaryUnknownType(t *testing.T) {
	h := newTestHandlers(newMemStore(), &fakeSender{}, newFakeLocks(), nil)

	_, err := h.GatherSummary(context.Background(), "u1", notification.TypeAgentRun, agentRun("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no summary definition")
}
