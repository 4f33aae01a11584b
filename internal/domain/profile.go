package domain

import (
	"github.com/google/uuid"
)

// Role is the authorization level of a principal within the platform.
// The empty string means "no role known" and is never a valid installed role.
type Role string

const (
	RoleBasic         Role = "basic"
	RoleTenantAdmin   Role = "tenant_admin"
	RolePlatformAdmin Role = "platform_admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleBasic, RoleTenantAdmin, RolePlatformAdmin:
		return true
	}
	return false
}

// Profile is the authorization record associated with a principal: who they
// are, which tenant they belong to, and what they may do. TenantID is
// uuid.Nil for principals without a home tenant (platform admins may have
// none).
type Profile struct {
	PrincipalID uuid.UUID
	DisplayName string
	TenantID    uuid.UUID
	Role        Role
}
