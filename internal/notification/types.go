package notification

import (
	"fmt"
	"strings"
	"time"
)

// Strategy selects how the dispatcher handles an event kind.
type Strategy string

const (
	StrategyImmediate Strategy = "IMMEDIATE"
	StrategyAdmin     Strategy = "ADMIN"
	StrategyBatch     Strategy = "BATCH"
	StrategySummary   Strategy = "SUMMARY"
	StrategyBackoff   Strategy = "BACKOFF"
)

// Token returns the routing key segment for the strategy,
// e.g. IMMEDIATE -> "immediate".
func (s Strategy) Token() string {
	return strings.ToLower(string(s))
}

// ParseStrategy validates a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToUpper(s)); st {
	case StrategyImmediate, StrategyAdmin, StrategyBatch, StrategySummary, StrategyBackoff:
		return st, nil
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

// Type identifies an event kind. The set is closed; unknown type
// strings are rejected during parsing.
type Type string

const (
	TypeAgentRun             Type = "AGENT_RUN"
	TypeZeroBalance          Type = "ZERO_BALANCE"
	TypeLowBalance           Type = "LOW_BALANCE"
	TypeBlockExecutionFailed Type = "BLOCK_EXECUTION_FAILED"
	TypeContinuousAgentError Type = "CONTINUOUS_AGENT_ERROR"
	TypeDailySummary         Type = "DAILY_SUMMARY"
	TypeWeeklySummary        Type = "WEEKLY_SUMMARY"
	TypeMonthlySummary       Type = "MONTHLY_SUMMARY"
	TypeRefundRequest        Type = "REFUND_REQUEST"
	TypeAgentApproved        Type = "AGENT_APPROVED"
	TypeAgentRejected        Type = "AGENT_REJECTED"
)

// definition carries the static properties of one event kind.
type definition struct {
	strategy   Strategy
	maxDelay   time.Duration
	newPayload func() interface{}
}

var catalog = map[Type]definition{
	TypeAgentRun: {
		strategy:   StrategyImmediate,
		newPayload: func() interface{} { return &AgentRunData{} },
	},
	TypeZeroBalance: {
		strategy:   StrategyImmediate,
		newPayload: func() interface{} { return &ZeroBalanceData{} },
	},
	TypeLowBalance: {
		strategy:   StrategyImmediate,
		newPayload: func() interface{} { return &LowBalanceData{} },
	},
	TypeBlockExecutionFailed: {
		strategy:   StrategyBatch,
		maxDelay:   60 * time.Minute,
		newPayload: func() interface{} { return &BlockExecutionFailedData{} },
	},
	TypeContinuousAgentError: {
		strategy:   StrategyBatch,
		maxDelay:   60 * time.Minute,
		newPayload: func() interface{} { return &ContinuousAgentErrorData{} },
	},
	TypeDailySummary: {
		strategy:   StrategySummary,
		newPayload: func() interface{} { return &DailySummaryParams{} },
	},
	TypeWeeklySummary: {
		strategy:   StrategySummary,
		newPayload: func() interface{} { return &WeeklySummaryParams{} },
	},
	TypeMonthlySummary: {
		strategy:   StrategyBackoff,
		newPayload: func() interface{} { return &MonthlySummaryParams{} },
	},
	TypeRefundRequest: {
		strategy:   StrategyAdmin,
		newPayload: func() interface{} { return &RefundRequestData{} },
	},
	TypeAgentApproved: {
		strategy:   StrategyImmediate,
		newPayload: func() interface{} { return &AgentApprovedData{} },
	},
	TypeAgentRejected: {
		strategy:   StrategyImmediate,
		newPayload: func() interface{} { return &AgentRejectedData{} },
	},
}

// Valid reports whether t is a known event kind.
func (t Type) Valid() bool {
	_, ok := catalog[t]
	return ok
}

// Strategy returns the default handling strategy for t. Unknown types
// map to the empty strategy.
func (t Type) Strategy() Strategy {
	return catalog[t].strategy
}

// MaxDelay returns the default coalescing window for BATCH kinds, zero
// otherwise.
func (t Type) MaxDelay() time.Duration {
	return catalog[t].maxDelay
}

// String implements fmt.Stringer.
func (t Type) String() string {
	return string(t)
}

// ParseType validates a wire type string against the catalog.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return t, nil
}

// Types returns all known kinds in stable order.
func Types() []Type {
	return []Type{
		TypeAgentRun,
		TypeZeroBalance,
		TypeLowBalance,
		TypeBlockExecutionFailed,
		TypeContinuousAgentError,
		TypeDailySummary,
		TypeWeeklySummary,
		TypeMonthlySummary,
		TypeRefundRequest,
		TypeAgentApproved,
		TypeAgentRejected,
	}
}

// BatchTypes returns the kinds handled by the batch strategy, the
// default set for batch sweeps.
func BatchTypes() []Type {
	var out []Type
	for _, t := range Types() {
		if t.Strategy() == StrategyBatch {
			out = append(out, t)
		}
	}
	return out
}
