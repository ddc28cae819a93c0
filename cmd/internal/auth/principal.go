package auth

import (
	"context"
	"strings"
)

// Role gates which routes a principal may call.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// ParseRole normalizes s. ok is false for unknown roles.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleCustomer, RoleStaff, RoleAdmin:
		return r, true
	default:
		return "", false
	}
}

// Principal is the verified caller.
type Principal struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether p reads every order unscoped.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// CanManageOrders reports whether p may move orders through the lifecycle.
func (p Principal) CanManageOrders() bool { return p.Role == RoleStaff || p.Role == RoleAdmin }

// Scope is the owner id reads must be limited to; empty means unscoped.
func (p Principal) Scope() string {
	if p.IsAdmin() {
		return ""
	}
	return p.UserID
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored by WithPrincipal.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != ""
}
