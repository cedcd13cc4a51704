package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/noria-ai/noria/internal/model"
)

// EnqueueFailure inserts a new failure-queue entry with a zero retry count.
func (db *DB) EnqueueFailure(ctx context.Context, userID int64, agentName, reason string, maxRetries int) (model.FailureQueueEntry, error) {
	if maxRetries <= 0 {
		maxRetries = model.DefaultMaxRetries
	}
	var e model.FailureQueueEntry
	err := db.pool.QueryRow(ctx,
		`INSERT INTO agent_failure_queue (user_id, agent_name, failure_reason, retry_count, max_retries)
		 VALUES ($1, $2, $3, 0, $4)
		 RETURNING id, user_id, agent_name, failure_reason, retry_count, max_retries, created_at, updated_at`,
		userID, agentName, reason, maxRetries,
	).Scan(&e.ID, &e.UserID, &e.AgentName, &e.FailureReason, &e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return model.FailureQueueEntry{}, fmt.Errorf("storage: enqueue failure: %w", err)
	}
	return e, nil
}

// IncrementFailureRetry adds one to an entry's retry count and bumps updated_at.
func (db *DB) IncrementFailureRetry(ctx context.Context, id int64) (model.FailureQueueEntry, error) {
	var e model.FailureQueueEntry
	err := db.pool.QueryRow(ctx,
		`UPDATE agent_failure_queue SET retry_count = retry_count + 1, updated_at = now()
		 WHERE id = $1
		 RETURNING id, user_id, agent_name, failure_reason, retry_count, max_retries, created_at, updated_at`,
		id,
	).Scan(&e.ID, &e.UserID, &e.AgentName, &e.FailureReason, &e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.FailureQueueEntry{}, fmt.Errorf("storage: failure entry %d: %w", id, ErrNotFound)
		}
		return model.FailureQueueEntry{}, fmt.Errorf("storage: increment failure retry: %w", err)
	}
	return e, nil
}

// ListFailureQueue returns all queued entries, oldest first, so a processing
// pass sees entries in arrival order.
func (db *DB) ListFailureQueue(ctx context.Context) ([]model.FailureQueueEntry, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, agent_name, failure_reason, retry_count, max_retries, created_at, updated_at
		 FROM agent_failure_queue ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list failure queue: %w", err)
	}
	defer rows.Close()

	var entries []model.FailureQueueEntry
	for rows.Next() {
		var e model.FailureQueueEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.AgentName, &e.FailureReason, &e.RetryCount, &e.MaxRetries, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan failure entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeadLetterFailure moves an exhausted queue entry to agent_dead_letters and
// deletes it from the queue in a single transaction. Concurrent processing
// passes can deadlock on the insert+delete pair, so the move retries on
// transient conflicts.
func (db *DB) DeadLetterFailure(ctx context.Context, entry model.FailureQueueEntry) (model.DeadLetter, error) {
	var dl model.DeadLetter
	err := WithRetry(ctx, 2, 50*time.Millisecond, func() error {
		var err error
		dl, err = db.deadLetterOnce(ctx, entry)
		return err
	})
	return dl, err
}

func (db *DB) deadLetterOnce(ctx context.Context, entry model.FailureQueueEntry) (model.DeadLetter, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.DeadLetter{}, fmt.Errorf("storage: begin dead-letter tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var dl model.DeadLetter
	err = tx.QueryRow(ctx,
		`INSERT INTO agent_dead_letters (user_id, agent_name, failure_reason, retry_count, queued_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, user_id, agent_name, failure_reason, retry_count, queued_at, dead_lettered_at`,
		entry.UserID, entry.AgentName, entry.FailureReason, entry.RetryCount, entry.CreatedAt,
	).Scan(&dl.ID, &dl.UserID, &dl.AgentName, &dl.FailureReason, &dl.RetryCount, &dl.QueuedAt, &dl.DeadLetteredAt)
	if err != nil {
		return model.DeadLetter{}, fmt.Errorf("storage: insert dead letter: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM agent_failure_queue WHERE id = $1`, entry.ID)
	if err != nil {
		return model.DeadLetter{}, fmt.Errorf("storage: delete failure entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.DeadLetter{}, fmt.Errorf("storage: failure entry %d: %w", entry.ID, ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.DeadLetter{}, fmt.Errorf("storage: commit dead-letter tx: %w", err)
	}
	return dl, nil
}

// ListDeadLetters returns dead-letter rows, newest first.
// Limit is clamped to [1, 1000] with a default of 100.
func (db *DB) ListDeadLetters(ctx context.Context, limit, offset int) ([]model.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, agent_name, failure_reason, retry_count, queued_at, dead_lettered_at
		 FROM agent_dead_letters ORDER BY dead_lettered_at DESC, id DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []model.DeadLetter
	for rows.Next() {
		var dl model.DeadLetter
		if err := rows.Scan(&dl.ID, &dl.UserID, &dl.AgentName, &dl.FailureReason, &dl.RetryCount, &dl.QueuedAt, &dl.DeadLetteredAt); err != nil {
			return nil, fmt.Errorf("storage: scan dead letter: %w", err)
		}
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}
