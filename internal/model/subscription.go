package model

import "time"

// SubscriptionStatus mirrors the billing provider's subscription states.
// Billing itself lives elsewhere; this service only reads the rows to
// resolve a user's tier for the plan gate.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription is one billing subscription row for a user.
type Subscription struct {
	ID        int64              `json:"id"`
	UserID    int64              `json:"user_id"`
	Status    SubscriptionStatus `json:"status"`
	Tier      SubscriptionTier   `json:"tier"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Entitled reports whether the subscription grants paid-tier access.
func (s SubscriptionStatus) Entitled() bool {
	return s == SubscriptionActive || s == SubscriptionTrialing
}

// TierFor maps a user's latest subscription to the tier used by the plan
// gate: an active or trialing subscription grants premium, anything else
// (including no subscription at all) resolves to free.
func TierFor(latest *Subscription) SubscriptionTier {
	if latest != nil && latest.Status.Entitled() {
		return TierPremium
	}
	return TierFree
}

// User is the minimal account record executions are attributed to.
type User struct {
	ID          int64     `json:"id"`
	ExternalRef string    `json:"external_ref"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}
