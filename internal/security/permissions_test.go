package security

import (
	"testing"

	"github.com/creatorfund/backend/internal/apperrors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRoleAuthorizer(t *testing.T) {
	authz := NewRoleAuthorizer()
	userID := uuid.New()

	tests := []struct {
		name    string
		p       Principal
		perm    Permission
		allowed bool
	}{
		{"admin manages payouts", Principal{UserID: userID, Roles: []string{RoleAdmin}}, PermissionPayoutManage, true},
		{"admin manages bonus rules", Principal{UserID: userID, Roles: []string{RoleAdmin}}, PermissionBonusManage, true},
		{"finance reconciles", Principal{UserID: userID, Roles: []string{RoleFinance}}, PermissionLedgerReconcile, true},
		{"finance cannot edit rules", Principal{UserID: userID, Roles: []string{RoleFinance}}, PermissionBonusManage, false},
		{"creator denied", Principal{UserID: userID, Roles: []string{"creator"}}, PermissionPayoutManage, false},
		{"anonymous admin claim denied", Principal{Roles: []string{RoleAdmin}}, PermissionPayoutManage, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := authz.Require(tt.p, tt.perm)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
			}
		})
	}
}
