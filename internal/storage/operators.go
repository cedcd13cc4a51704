package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noria-ai/noria/internal/model"
)

// GetOperator retrieves an operator by name for token issuance.
func (db *DB) GetOperator(ctx context.Context, name string) (model.Operator, error) {
	var op model.Operator
	err := db.pool.QueryRow(ctx,
		`SELECT id, operator, role, key_hash, created_at FROM operator_keys WHERE operator = $1`,
		name,
	).Scan(&op.ID, &op.Name, &op.Role, &op.KeyHash, &op.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Operator{}, fmt.Errorf("storage: operator %s: %w", name, ErrNotFound)
		}
		return model.Operator{}, fmt.Errorf("storage: get operator: %w", err)
	}
	return op, nil
}

// CreateOperator inserts an operator identity with a pre-hashed API key.
// Operator names are unique; a second insert returns ErrDuplicate.
func (db *DB) CreateOperator(ctx context.Context, name string, role model.OperatorRole, keyHash string) (model.Operator, error) {
	var op model.Operator
	err := db.pool.QueryRow(ctx,
		`INSERT INTO operator_keys (operator, role, key_hash) VALUES ($1, $2, $3)
		 RETURNING id, operator, role, key_hash, created_at`,
		name, string(role), keyHash,
	).Scan(&op.ID, &op.Name, &op.Role, &op.KeyHash, &op.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return model.Operator{}, fmt.Errorf("storage: operator %s: %w", name, ErrDuplicate)
		}
		return model.Operator{}, fmt.Errorf("storage: create operator: %w", err)
	}
	return op, nil
}

// CountOperators returns the number of operator identities.
func (db *DB) CountOperators(ctx context.Context) (int, error) {
	var count int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM operator_keys`).Scan(&count); err != nil {
		return 0, fmt.Errorf("storage: count operators: %w", err)
	}
	return count, nil
}
