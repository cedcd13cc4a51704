package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noria-ai/noria/internal/model"
)

// CreateUser inserts a minimal user row for execution attribution.
func (db *DB) CreateUser(ctx context.Context, externalRef, displayName string) (model.User, error) {
	var u model.User
	err := db.pool.QueryRow(ctx,
		`INSERT INTO users (external_ref, display_name) VALUES ($1, $2)
		 RETURNING id, external_ref, display_name, created_at`,
		externalRef, displayName,
	).Scan(&u.ID, &u.ExternalRef, &u.DisplayName, &u.CreatedAt)
	if err != nil {
		return model.User{}, fmt.Errorf("storage: create user: %w", err)
	}
	return u, nil
}

// CreateSubscription inserts a subscription row for a user. Billing webhooks
// elsewhere own the row lifecycle; this exists for tooling and tests.
func (db *DB) CreateSubscription(ctx context.Context, userID int64, status model.SubscriptionStatus, tier model.SubscriptionTier) (model.Subscription, error) {
	var s model.Subscription
	err := db.pool.QueryRow(ctx,
		`INSERT INTO subscriptions (user_id, status, tier) VALUES ($1, $2, $3)
		 RETURNING id, user_id, status, tier, created_at, updated_at`,
		userID, string(status), string(tier),
	).Scan(&s.ID, &s.UserID, &s.Status, &s.Tier, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return model.Subscription{}, fmt.Errorf("storage: create subscription: %w", err)
	}
	return s, nil
}

// LatestSubscription returns the most recent subscription row for a user.
// Returns ErrNotFound when the user has no subscription — callers resolve
// that to the free tier.
func (db *DB) LatestSubscription(ctx context.Context, userID int64) (model.Subscription, error) {
	var s model.Subscription
	err := db.pool.QueryRow(ctx,
		`SELECT id, user_id, status, tier, created_at, updated_at
		 FROM subscriptions WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID,
	).Scan(&s.ID, &s.UserID, &s.Status, &s.Tier, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Subscription{}, fmt.Errorf("storage: subscription for user %d: %w", userID, ErrNotFound)
		}
		return model.Subscription{}, fmt.Errorf("storage: latest subscription: %w", err)
	}
	return s, nil
}

// ResolveTier maps a user's latest subscription to a plan tier:
// active or trialing means premium, anything else (or no subscription)
// means free.
func (db *DB) ResolveTier(ctx context.Context, userID int64) (model.SubscriptionTier, error) {
	sub, err := db.LatestSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.TierFree, nil
		}
		return "", err
	}
	return model.TierFor(&sub), nil
}
