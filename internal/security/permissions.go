package security

import (
	"fmt"

	"github.com/creatorfund/backend/internal/apperrors"
	"github.com/google/uuid"
)

// Permission is a capability checked before privileged ledger operations
type Permission string

// Ledger permissions
const (
	PermissionPayoutManage    Permission = "payout:manage"
	PermissionLedgerReconcile Permission = "ledger:reconcile"
	PermissionBonusManage     Permission = "bonus:manage"
)

// Roles issued by the identity provider
const (
	RoleAdmin   = "admin"
	RoleFinance = "finance"
)

// Principal is the authenticated caller as resolved by the identity provider
type Principal struct {
	UserID uuid.UUID
	Roles  []string
}

// HasRole reports whether the principal carries role
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Authorizer decides whether a principal holds a permission
type Authorizer interface {
	Require(p Principal, perm Permission) error
}

// RoleAuthorizer grants permissions from role claims
type RoleAuthorizer struct {
	grants map[string]map[Permission]bool
}

// NewRoleAuthorizer returns the default role table: admins hold every ledger
// permission, finance staff can manage payouts and run reconciliation.
func NewRoleAuthorizer() *RoleAuthorizer {
	a := &RoleAuthorizer{grants: make(map[string]map[Permission]bool)}
	a.Grant(RoleAdmin, PermissionPayoutManage, PermissionLedgerReconcile, PermissionBonusManage)
	a.Grant(RoleFinance, PermissionPayoutManage, PermissionLedgerReconcile)
	return a
}

// Grant adds permissions to a role
func (a *RoleAuthorizer) Grant(role string, perms ...Permission) {
	if a.grants[role] == nil {
		a.grants[role] = make(map[Permission]bool)
	}
	for _, perm := range perms {
		a.grants[role][perm] = true
	}
}

// Require returns ErrPermissionDenied unless one of the principal's roles grants perm
func (a *RoleAuthorizer) Require(p Principal, perm Permission) error {
	if p.UserID != uuid.Nil {
		for _, role := range p.Roles {
			if a.grants[role][perm] {
				return nil
			}
		}
	}
	return fmt.Errorf("%s requires %s: %w", p.UserID, perm, apperrors.ErrPermissionDenied)
}
