package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noria-ai/noria/internal/model"
)

// InsertPerformanceLog appends one outcome record to the orchestration
// performance log. Rows are immutable once written.
func (db *DB) InsertPerformanceLog(ctx context.Context, rec model.PerformanceLog) (model.PerformanceLog, error) {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO orchestration_performance_logs
		 (agent_name, user_id, execution_time_ms, input_tokens, output_tokens, status,
		  fallback_triggered, timeout_occurred, retries, error_message,
		  prompt_version, override_triggered, override_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id, created_at`,
		rec.AgentName, rec.UserID, rec.ExecutionTimeMS, rec.InputTokens, rec.OutputTokens,
		string(rec.Status), rec.FallbackTriggered, rec.TimeoutOccurred, rec.Retries,
		rec.ErrorMessage, rec.PromptVersion, rec.OverrideTriggered, rec.OverrideReason,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return model.PerformanceLog{}, fmt.Errorf("storage: insert performance log: %w", err)
	}
	return rec, nil
}

// GetPerformanceLog retrieves one outcome record by id.
func (db *DB) GetPerformanceLog(ctx context.Context, id int64) (model.PerformanceLog, error) {
	var rec model.PerformanceLog
	err := db.pool.QueryRow(ctx,
		`SELECT id, agent_name, user_id, execution_time_ms, input_tokens, output_tokens, status,
		        fallback_triggered, timeout_occurred, retries, error_message,
		        prompt_version, override_triggered, override_reason, created_at
		 FROM orchestration_performance_logs WHERE id = $1`, id,
	).Scan(
		&rec.ID, &rec.AgentName, &rec.UserID, &rec.ExecutionTimeMS, &rec.InputTokens,
		&rec.OutputTokens, &rec.Status, &rec.FallbackTriggered, &rec.TimeoutOccurred,
		&rec.Retries, &rec.ErrorMessage, &rec.PromptVersion, &rec.OverrideTriggered,
		&rec.OverrideReason, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PerformanceLog{}, fmt.Errorf("storage: performance log %d: %w", id, ErrNotFound)
		}
		return model.PerformanceLog{}, fmt.Errorf("storage: get performance log: %w", err)
	}
	return rec, nil
}

// ListPerformanceLogs returns outcome records matching the filter,
// newest first. Limit is clamped to [1, 1000] with a default of 100.
func (db *DB) ListPerformanceLogs(ctx context.Context, f model.PerformanceLogFilter) ([]model.PerformanceLog, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	query := `SELECT id, agent_name, user_id, execution_time_ms, input_tokens, output_tokens, status,
	                 fallback_triggered, timeout_occurred, retries, error_message,
	                 prompt_version, override_triggered, override_reason, created_at
	          FROM orchestration_performance_logs WHERE 1=1`
	args := []any{}
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}

	if f.AgentName != "" {
		query += ` AND agent_name = ` + arg(f.AgentName)
	}
	if f.UserID != nil {
		query += ` AND user_id = ` + arg(*f.UserID)
	}
	if f.Status != "" {
		query += ` AND status = ` + arg(string(f.Status))
	}
	if f.Since != nil {
		query += ` AND created_at >= ` + arg(*f.Since)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list performance logs: %w", err)
	}
	defer rows.Close()

	var recs []model.PerformanceLog
	for rows.Next() {
		var rec model.PerformanceLog
		if err := rows.Scan(
			&rec.ID, &rec.AgentName, &rec.UserID, &rec.ExecutionTimeMS, &rec.InputTokens,
			&rec.OutputTokens, &rec.Status, &rec.FallbackTriggered, &rec.TimeoutOccurred,
			&rec.Retries, &rec.ErrorMessage, &rec.PromptVersion, &rec.OverrideTriggered,
			&rec.OverrideReason, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan performance log: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// CountPerformanceLogs returns the number of outcome records for an agent.
func (db *DB) CountPerformanceLogs(ctx context.Context, agentName string) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orchestration_performance_logs WHERE agent_name = $1`, agentName,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count performance logs: %w", err)
	}
	return count, nil
}
