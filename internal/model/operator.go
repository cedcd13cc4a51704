package model

import "time"

// OperatorRole is the RBAC role carried in admin-surface JWTs.
type OperatorRole string

const (
	RoleAdmin  OperatorRole = "admin"
	RoleMember OperatorRole = "member"
)

// Operator is an API-key-holding identity for the HTTP surface: either a
// dashboard admin or a backend service calling on behalf of end users.
type Operator struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Role      OperatorRole `json:"role"`
	KeyHash   string       `json:"-"`
	CreatedAt time.Time    `json:"created_at"`
}

// RoleRank returns the numeric rank of a role (higher = more privileges).
func RoleRank(r OperatorRole) int {
	switch r {
	case RoleAdmin:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast reports whether role r has at least the privileges of minRole.
func RoleAtLeast(r, minRole OperatorRole) bool {
	return RoleRank(r) >= RoleRank(minRole)
}
