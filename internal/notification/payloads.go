package notification

import "time"

// Payload schemas, one per event kind. The wire `data` object is decoded
// into the schema selected by the envelope type and then validated.

// AgentRunData reports a completed agent execution.
type AgentRunData struct {
	AgentName     string                 `json:"agent_name" validate:"required"`
	CreditsUsed   float64                `json:"credits_used" validate:"min=0"`
	ExecutionTime float64                `json:"execution_time" validate:"min=0"`
	NodeCount     int                    `json:"node_count" validate:"min=0"`
	GraphID       string                 `json:"graph_id" validate:"required"`
	Outputs       map[string]interface{} `json:"outputs"`
}

// ZeroBalanceData is sent when a user's credit balance reaches zero.
type ZeroBalanceData struct {
	LastTransaction     float64   `json:"last_transaction"`
	LastTransactionTime time.Time `json:"last_transaction_time" validate:"required"`
	TopUpLink           string    `json:"top_up_link" validate:"required,url"`
}

// LowBalanceData warns a user about a low credit balance. Amounts are
// in cents.
type LowBalanceData struct {
	CurrentBalance  int    `json:"current_balance"`
	BillingPageLink string `json:"billing_page_link" validate:"required,url"`
	Shortfall       int    `json:"shortfall"`
}

// BlockExecutionFailedData reports a failed block inside a graph run.
type BlockExecutionFailedData struct {
	BlockName    string `json:"block_name" validate:"required"`
	BlockID      string `json:"block_id" validate:"required"`
	ErrorMessage string `json:"error_message" validate:"required"`
	GraphID      string `json:"graph_id" validate:"required"`
	ExecutionID  string `json:"execution_id" validate:"required"`
}

// ContinuousAgentErrorData reports a continuously running agent that
// stopped with an error.
type ContinuousAgentErrorData struct {
	AgentName    string    `json:"agent_name" validate:"required"`
	ErrorMessage string    `json:"error_message" validate:"required"`
	GraphID      string    `json:"graph_id" validate:"required"`
	ExecutionID  string    `json:"execution_id" validate:"required"`
	StartTime    time.Time `json:"start_time" validate:"required"`
	ErrorTime    time.Time `json:"error_time" validate:"required"`
	Attempts     int       `json:"attempts" validate:"min=1"`
}

// RefundRequestData is routed to the admin inbox, not to the user.
type RefundRequestData struct {
	UserID          string  `json:"user_id" validate:"required"`
	UserName        string  `json:"user_name" validate:"required"`
	UserEmail       string  `json:"user_email" validate:"required,email"`
	TransactionID   string  `json:"transaction_id" validate:"required"`
	RefundRequestID string  `json:"refund_request_id" validate:"required"`
	Reason          string  `json:"reason" validate:"required"`
	Amount          float64 `json:"amount"`
	Balance         int     `json:"balance"`
}

// AgentApprovedData notifies a creator their agent passed review.
type AgentApprovedData struct {
	AgentName        string `json:"agent_name" validate:"required"`
	ReviewerComments string `json:"reviewer_comments"`
	StoreURL         string `json:"store_url" validate:"required,url"`
}

// AgentRejectedData notifies a creator their agent failed review.
type AgentRejectedData struct {
	AgentName        string `json:"agent_name" validate:"required"`
	ReviewerComments string `json:"reviewer_comments" validate:"required"`
	ResubmitURL      string `json:"resubmit_url" validate:"required,url"`
}

// DailySummaryParams is the wire payload for DAILY_SUMMARY events. It
// names the reporting day; the aggregates are computed at handling
// time, not at publish time.
type DailySummaryParams struct {
	Date time.Time `json:"date" validate:"required"`
}

// WeeklySummaryParams is the wire payload for WEEKLY_SUMMARY events.
type WeeklySummaryParams struct {
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
}

// MonthlySummaryParams exists for catalog completeness. The type's
// strategy has no bound queue, so publishing it is refused.
type MonthlySummaryParams struct {
	Month int `json:"month" validate:"required,min=1,max=12"`
	Year  int `json:"year" validate:"required,min=2000"`
}

// SummaryData carries the aggregates rendered into summary emails.
type SummaryData struct {
	TotalCreditsUsed     float64            `json:"total_credits_used"`
	TotalExecutions      int                `json:"total_executions"`
	MostUsedAgent        string             `json:"most_used_agent"`
	TotalExecutionTime   float64            `json:"total_execution_time"`
	SuccessfulRuns       int                `json:"successful_runs"`
	FailedRuns           int                `json:"failed_runs"`
	AverageExecutionTime float64            `json:"average_execution_time"`
	CostBreakdown        map[string]float64 `json:"cost_breakdown"`
}

// DailySummaryData is the rendered payload for DAILY_SUMMARY emails.
type DailySummaryData struct {
	SummaryData
	Date time.Time `json:"date"`
}

// WeeklySummaryData is the rendered payload for WEEKLY_SUMMARY emails.
type WeeklySummaryData struct {
	SummaryData
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}
