package email

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/notification-dispatch/internal/notification"
)

func TestRenderAllCatalogTypesHaveTemplates(t *testing.T) {
	r := NewRenderer()

	for _, nt := range notification.Types() {
		_, ok := templates[nt]
		require.True(t, ok, "missing template for %s", nt)

		// Empty bindings still have to parse and render.
		msg, err := r.Render(nt, map[string]interface{}{}, "")
		require.NoError(t, err, "render %s", nt)
		assert.NotEmpty(t, msg.HTML, "html body for %s", nt)
		assert.NotEmpty(t, msg.Text, "text body for %s", nt)
	}
}

func TestRenderUnknownType(t *testing.T) {
	r := NewRenderer()

	_, err := r.Render(notification.Type("NOT_A_TYPE"), map[string]interface{}{}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no email template")
}

func TestRenderAgentRun(t *testing.T) {
	r := NewRenderer()

	msg, err := r.Render(notification.TypeAgentRun, &notification.AgentRunData{
		AgentName:     "Lead Finder",
		CreditsUsed:   12.5,
		ExecutionTime: 75,
		NodeCount:     4,
		GraphID:       "graph-1",
	}, "https://example.com/unsub?user=u1")
	require.NoError(t, err)

	assert.Equal(t, "Lead Finder finished a run", msg.Subject)
	assert.Contains(t, msg.HTML, "12.50")
	assert.Contains(t, msg.HTML, "1m 15s")
	assert.Contains(t, msg.HTML, ">4<")
	assert.Contains(t, msg.HTML, "https://example.com/unsub?user=u1")
	assert.Contains(t, msg.Text, "Unsubscribe: https://example.com/unsub?user=u1")
}

func TestRenderWithoutUnsubscribeLink(t *testing.T) {
	r := NewRenderer()

	msg, err := r.Render(notification.TypeRefundRequest, &notification.RefundRequestData{
		UserID:          "u1",
		UserName:        "Ada",
		UserEmail:       "ada@example.com",
		TransactionID:   "tx-9",
		RefundRequestID: "rr-3",
		Reason:          "double charge",
		Amount:          4.2,
		Balance:         450,
	}, "")
	require.NoError(t, err)

	assert.Equal(t, "Refund request from Ada", msg.Subject)
	assert.Contains(t, msg.HTML, "ada@example.com")
	assert.Contains(t, msg.HTML, "$4.20")
	assert.Contains(t, msg.HTML, "$4.50")
	assert.NotContains(t, msg.HTML, "Unsubscribe")
	assert.NotContains(t, msg.Text, "Unsubscribe:")
}

func TestRenderLowBalanceCents(t *testing.T) {
	r := NewRenderer()

	msg, err := r.Render(notification.TypeLowBalance, &notification.LowBalanceData{
		CurrentBalance:  450,
		BillingPageLink: "https://example.com/billing",
	}, "")
	require.NoError(t, err)

	assert.Contains(t, msg.HTML, "$4.50")
	assert.Contains(t, msg.Text, "https://example.com/billing")
}

func TestRenderBatchEventList(t *testing.T) {
	r := NewRenderer()

	events := []*notification.Event{
		notification.NewEvent("u1", notification.TypeBlockExecutionFailed, &notification.BlockExecutionFailedData{
			BlockName:    "HTTP Request",
			BlockID:      "b1",
			ErrorMessage: "connection refused",
			GraphID:      "g1",
			ExecutionID:  "e1",
		}),
		notification.NewEvent("u1", notification.TypeBlockExecutionFailed, &notification.BlockExecutionFailedData{
			BlockName:    "Send Tweet",
			BlockID:      "b2",
			ErrorMessage: "rate limited",
			GraphID:      "g1",
			ExecutionID:  "e2",
		}),
	}

	msg, err := r.Render(notification.TypeBlockExecutionFailed, events, "")
	require.NoError(t, err)

	assert.Equal(t, "2 block failures in your agents", msg.Subject)
	assert.Contains(t, msg.HTML, "HTTP Request")
	assert.Contains(t, msg.HTML, "Send Tweet")
	assert.Contains(t, msg.HTML, "connection refused")
	assert.Contains(t, msg.Text, "rate limited")
}

func TestRenderBatchSingular(t *testing.T) {
	r := NewRenderer()

	events := []*notification.Event{
		notification.NewEvent("u1", notification.TypeBlockExecutionFailed, &notification.BlockExecutionFailedData{
			BlockName:    "HTTP Request",
			BlockID:      "b1",
			ErrorMessage: "boom",
			GraphID:      "g1",
			ExecutionID:  "e1",
		}),
	}

	msg, err := r.Render(notification.TypeBlockExecutionFailed, events, "")
	require.NoError(t, err)
	assert.Equal(t, "1 block failure in your agents", msg.Subject)
}

func TestRenderWeeklySummary(t *testing.T) {
	r := NewRenderer()

	start := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)
	data := &notification.WeeklySummaryData{
		SummaryData: notification.SummaryData{
			TotalCreditsUsed:     120.5,
			TotalExecutions:      1532,
			MostUsedAgent:        "Lead Finder",
			TotalExecutionTime:   7500,
			SuccessfulRuns:       1500,
			FailedRuns:           32,
			AverageExecutionTime: 4.9,
			CostBreakdown: map[string]float64{
				"Lead Finder": 100.25,
				"Ad Writer":   20.25,
			},
		},
		StartDate: start,
		EndDate:   end,
	}

	msg, err := r.Render(notification.TypeWeeklySummary, data, "https://example.com/u")
	require.NoError(t, err)

	assert.Contains(t, msg.Subject, "March 3, 2025")
	assert.Contains(t, msg.Subject, "March 10, 2025")
	assert.Contains(t, msg.HTML, "1,532")
	assert.Contains(t, msg.HTML, "120.50")
	assert.Contains(t, msg.HTML, "2h 05m")
	assert.Contains(t, msg.HTML, "Lead Finder")

	// Cost rows render sorted by agent name.
	adIdx := strings.Index(msg.HTML, "Ad Writer")
	leadIdx := strings.LastIndex(msg.HTML, "Lead Finder")
	require.Greater(t, adIdx, 0)
	assert.Less(t, adIdx, leadIdx)
}

func TestRenderSummaryWithNoActivity(t *testing.T) {
	r := NewRenderer()

	data := &notification.DailySummaryData{
		SummaryData: notification.SummaryData{},
		Date:        time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC),
	}

	msg, err := r.Render(notification.TypeDailySummary, data, "")
	require.NoError(t, err)

	assert.Contains(t, msg.Subject, "March 3, 2025")
	assert.Contains(t, msg.HTML, "n/a")
	assert.NotContains(t, msg.HTML, "Credits by agent")
}

func TestBindEventList(t *testing.T) {
	events := []*notification.Event{
		notification.NewEvent("u1", notification.TypeBlockExecutionFailed, &notification.BlockExecutionFailedData{
			BlockName: "A", BlockID: "b", ErrorMessage: "x", GraphID: "g", ExecutionID: "e",
		}),
	}

	m, err := bind(events)
	require.NoError(t, err)
	assert.Equal(t, 1, m["count"])
	assert.Len(t, m["events"], 1)
}
