package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ai-meal-tracker/internal/database"
	"ai-meal-tracker/internal/llm"
	"ai-meal-tracker/internal/nutrition"
)

// ExecutionMetric records metadata for a single model call.
type ExecutionMetric struct {
	AgentName        string
	Model            string
	Source           string
	PromptTokens     int
	CompletionTokens int
	LatencyMS        int64
	Timestamp        time.Time
}

// Store handles persistence of metrics to SQLite.
type Store struct {
	db *sql.DB
}

// NewStore initializes the Store with an existing database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record saves a metric to the database.
func (s *Store) Record(ctx context.Context, m ExecutionMetric) error {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	query := `
		INSERT INTO execution_metrics (agent_name, model, source, prompt_tokens, completion_tokens, latency_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		m.AgentName,
		m.Model,
		m.Source,
		m.PromptTokens,
		m.CompletionTokens,
		m.LatencyMS,
		database.FormatTime(ts),
	)
	if err != nil {
		return fmt.Errorf("failed to record metric: %w", err)
	}
	return nil
}

// RecordMeta records a model call. Calls that never reached a model are skipped.
func (s *Store) RecordMeta(ctx context.Context, meta llm.AgentMeta, source nutrition.Source) error {
	if meta.Usage.PromptTokens == 0 && meta.Usage.CompletionTokens == 0 {
		return nil
	}
	m := MapUsage(meta.AgentName, meta.Usage, meta.Latency)
	m.Source = string(source)
	return s.Record(ctx, m)
}

// DailyUsage represents token totals for a single day.
type DailyUsage struct {
	Date            string
	TotalPrompt     int
	TotalCompletion int
	TotalExecution  int
}

// GetDailyUsage retrieves usage for the last N days, newest day first.
func (s *Store) GetDailyUsage(ctx context.Context, days int) ([]DailyUsage, error) {
	since := database.FormatTime(time.Now().AddDate(0, 0, -days))
	query := `
		SELECT date(timestamp) AS day, COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0)
		FROM execution_metrics
		WHERE timestamp >= ?
		GROUP BY day
		ORDER BY day DESC
	`
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	var results []DailyUsage
	for rows.Next() {
		var (
			u   DailyUsage
			day sql.NullString
		)
		if err := rows.Scan(&day, &u.TotalExecution, &u.TotalPrompt, &u.TotalCompletion); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage: %w", err)
		}
		u.Date = "Unknown"
		if day.Valid {
			u.Date = day.String
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

// Cleanup removes records older than the specified number of days.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	threshold := database.FormatTime(time.Now().AddDate(0, 0, -olderThanDays))
	res, err := s.db.ExecContext(ctx, `DELETE FROM execution_metrics WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup metrics: %w", err)
	}
	return res.RowsAffected()
}

// MapUsage converts llm.TokenUsage to an ExecutionMetric.
func MapUsage(agentName string, usage llm.TokenUsage, latency time.Duration) ExecutionMetric {
	return ExecutionMetric{
		AgentName:        agentName,
		Model:            usage.Model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		LatencyMS:        latency.Milliseconds(),
		Timestamp:        time.Now().UTC(),
	}
}
