package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutingKeys(t *testing.T) {
	assert.Equal(t, "notification.immediate.AGENT_RUN", TypeAgentRun.RoutingKey())
	assert.Equal(t, "notification.immediate.LOW_BALANCE", TypeLowBalance.RoutingKey())
	assert.Equal(t, "notification.admin.REFUND_REQUEST", TypeRefundRequest.RoutingKey())
	assert.Equal(t, "notification.batch.BLOCK_EXECUTION_FAILED", TypeBlockExecutionFailed.RoutingKey())
	assert.Equal(t, "notification.summary.WEEKLY_SUMMARY", TypeWeeklySummary.RoutingKey())
	assert.Equal(t, "notification.backoff.MONTHLY_SUMMARY", TypeMonthlySummary.RoutingKey())

	// A type outside the catalog has no strategy and no matching binding
	assert.Equal(t, "notification.MYSTERY", Type("MYSTERY").RoutingKey())
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("AGENT_RUN")
	require.NoError(t, err)
	assert.Equal(t, TypeAgentRun, typ)

	_, err = ParseType("SOMETHING_ELSE")
	assert.ErrorIs(t, err, ErrUnknownType)

	// Names are case sensitive
	_, err = ParseType("agent_run")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestCatalogStrategies(t *testing.T) {
	assert.Equal(t, StrategyImmediate, TypeAgentRun.Strategy())
	assert.Equal(t, StrategyImmediate, TypeAgentApproved.Strategy())
	assert.Equal(t, StrategyAdmin, TypeRefundRequest.Strategy())
	assert.Equal(t, StrategyBatch, TypeContinuousAgentError.Strategy())
	assert.Equal(t, StrategySummary, TypeDailySummary.Strategy())
	assert.Equal(t, StrategyBackoff, TypeMonthlySummary.Strategy())

	assert.Equal(t, 60*time.Minute, TypeBlockExecutionFailed.MaxDelay())
	assert.Equal(t, time.Duration(0), TypeAgentRun.MaxDelay())
}

func TestParseEvent(t *testing.T) {
	body := []byte(`{
		"user_id": "u1",
		"type": "AGENT_RUN",
		"data": {
			"agent_name": "Crawler",
			"credits_used": 12.5,
			"execution_time": 3.2,
			"node_count": 7,
			"graph_id": "g-42",
			"outputs": {"pages": 10}
		},
		"created_at": "2025-01-01T00:00:00Z"
	}`)

	ev, err := ParseEvent(body)
	require.NoError(t, err)
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, TypeAgentRun, ev.Type)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), ev.CreatedAt)

	data, ok := ev.Data.(*AgentRunData)
	require.True(t, ok)
	assert.Equal(t, "Crawler", data.AgentName)
	assert.Equal(t, 12.5, data.CreditsUsed)
	assert.Equal(t, 7, data.NodeCount)
	assert.Equal(t, "g-42", data.GraphID)
}

func TestParseEventMalformedJSON(t *testing.T) {
	_, err := ParseEvent([]byte(`{`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestParseEventUnknownType(t *testing.T) {
	_, err := ParseEvent([]byte(`{"user_id":"u1","type":"NOT_A_TYPE","data":{}}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestParseEventSchemaMismatch(t *testing.T) {
	// agent_name and graph_id are required for AGENT_RUN
	_, err := ParseEvent([]byte(`{"user_id":"u1","type":"AGENT_RUN","data":{"credits_used":1}}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	// data of the wrong JSON shape
	_, err = ParseEvent([]byte(`{"user_id":"u1","type":"AGENT_RUN","data":[1,2]}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestParseEventSummaryParams(t *testing.T) {
	body := []byte(`{
		"user_id": "u2",
		"type": "WEEKLY_SUMMARY",
		"data": {"start_date": "2025-02-01T00:00:00Z", "end_date": "2025-02-08T00:00:00Z"},
		"created_at": "2025-02-08T00:00:01Z"
	}`)

	ev, err := ParseEvent(body)
	require.NoError(t, err)

	params, ok := ev.Data.(*WeeklySummaryParams)
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), params.StartDate)
	assert.Equal(t, time.Date(2025, 2, 8, 0, 0, 0, 0, time.UTC), params.EndDate)

	// Params with a missing bound fail validation
	_, err = ParseEvent([]byte(`{"user_id":"u2","type":"WEEKLY_SUMMARY","data":{"start_date":"2025-02-01T00:00:00Z"}}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestDecodePayload(t *testing.T) {
	data, err := DecodePayload(TypeBlockExecutionFailed, []byte(`{
		"block_name": "HTTP Request",
		"block_id": "b-1",
		"error_message": "connection refused",
		"graph_id": "g-1",
		"execution_id": "e-1"
	}`))
	require.NoError(t, err)

	payload, ok := data.(*BlockExecutionFailedData)
	require.True(t, ok)
	assert.Equal(t, "HTTP Request", payload.BlockName)
	assert.Equal(t, "connection refused", payload.ErrorMessage)
}

func TestNewEventStampsUTC(t *testing.T) {
	ev := NewEvent("u1", TypeZeroBalance, &ZeroBalanceData{TopUpLink: "https://example.com/top-up"})
	assert.Equal(t, "u1", ev.UserID)
	assert.Equal(t, time.UTC, ev.CreatedAt.Location())
	assert.WithinDuration(t, time.Now().UTC(), ev.CreatedAt, 2*time.Second)
}

func TestRegistryOverrides(t *testing.T) {
	reg := NewRegistry(map[Type]Override{
		TypeBlockExecutionFailed: {MaxDelay: 5 * time.Minute},
		TypeAgentRun:             {Strategy: StrategyBatch, MaxDelay: 10 * time.Minute},
	})

	assert.Equal(t, 5*time.Minute, reg.MaxDelay(TypeBlockExecutionFailed))
	assert.Equal(t, StrategyBatch, reg.Strategy(TypeBlockExecutionFailed))

	// Strategy override changes the routing key as well
	assert.Equal(t, StrategyBatch, reg.Strategy(TypeAgentRun))
	assert.Equal(t, "notification.batch.AGENT_RUN", reg.RoutingKey(TypeAgentRun))
	assert.Contains(t, reg.BatchTypes(), TypeAgentRun)

	// Untouched types keep catalog values
	assert.Equal(t, StrategySummary, reg.Strategy(TypeDailySummary))
	assert.Equal(t, 60*time.Minute, reg.MaxDelay(TypeContinuousAgentError))
	assert.Equal(t, "notification.summary.DAILY_SUMMARY", reg.RoutingKey(TypeDailySummary))
}

func TestBatchTypes(t *testing.T) {
	batch := BatchTypes()
	assert.ElementsMatch(t, []Type{TypeBlockExecutionFailed, TypeContinuousAgentError}, batch)
}
