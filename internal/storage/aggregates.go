package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ExecutionStats aggregates a user's agent activity over a window.
type ExecutionStats struct {
	TotalCreditsUsed     float64
	TotalExecutions      int
	SuccessfulRuns       int
	TotalExecutionTime   float64
	AverageExecutionTime float64
}

// FailedRuns derives the failure count; every run that did not complete
// counts as failed.
func (e ExecutionStats) FailedRuns() int {
	return e.TotalExecutions - e.SuccessfulRuns
}

// ExecutionStatsInWindow computes the run aggregates for [start, end).
// A window with no runs yields all zeroes.
func (s *Store) ExecutionStatsInWindow(ctx context.Context, userID string, start, end time.Time) (ExecutionStats, error) {
	var stats ExecutionStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(credits_used), 0),
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'COMPLETED'),
			COALESCE(SUM(execution_time), 0),
			COALESCE(AVG(execution_time), 0)
		FROM agent_runs
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
	`, userID, start, end).Scan(
		&stats.TotalCreditsUsed,
		&stats.TotalExecutions,
		&stats.SuccessfulRuns,
		&stats.TotalExecutionTime,
		&stats.AverageExecutionTime,
	)
	if err != nil {
		return ExecutionStats{}, fmt.Errorf("execution stats for %s: %w", userID, err)
	}
	return stats, nil
}

// MostUsedAgentInWindow returns the agent with the most runs in the
// window, or "" when there were none. Ties break alphabetically so the
// result is stable.
func (s *Store) MostUsedAgentInWindow(ctx context.Context, userID string, start, end time.Time) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `
		SELECT agent_name FROM agent_runs
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY agent_name
		ORDER BY COUNT(*) DESC, agent_name
		LIMIT 1
	`, userID, start, end).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("most used agent for %s: %w", userID, err)
	}
	return name, nil
}

// CostBreakdownInWindow returns credits spent per agent in the window.
func (s *Store) CostBreakdownInWindow(ctx context.Context, userID string, start, end time.Time) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_name, COALESCE(SUM(credits_used), 0)
		FROM agent_runs
		WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY agent_name
	`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("cost breakdown for %s: %w", userID, err)
	}
	defer rows.Close()

	breakdown := make(map[string]float64)
	for rows.Next() {
		var (
			name string
			cost float64
		)
		if err := rows.Scan(&name, &cost); err != nil {
			return nil, fmt.Errorf("scan cost row: %w", err)
		}
		breakdown[name] = cost
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cost rows: %w", err)
	}
	return breakdown, nil
}
