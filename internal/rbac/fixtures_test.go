package rbac_test

import (
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
)

type grant struct {
	role    string
	enabled bool
	perms   []rbac.Permission
}

// newPrincipal builds an active principal whose roles own the given permissions.
func newPrincipal(id int64, username string, grants ...grant) *rbac.Principal {
	p := &rbac.Principal{
		ID:                    id,
		Username:              username,
		Email:                 username + "@odyssey.local",
		PasswordHash:          "$2a$12$redacted",
		Enabled:               true,
		AccountNonExpired:     true,
		AccountNonLocked:      true,
		CredentialsNonExpired: true,
		Permissions:           map[int64]rbac.Permission{},
		UpdatedAt:             time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	var nextPerm int64 = 100
	for i, g := range grants {
		role := rbac.Role{ID: int64(i + 1), Name: g.role, Enabled: g.enabled}
		for _, perm := range g.perms {
			if perm.ID == 0 {
				nextPerm++
				perm.ID = nextPerm
			}
			p.Permissions[perm.ID] = perm
			role.PermissionIDs = append(role.PermissionIDs, perm.ID)
		}
		p.Roles = append(p.Roles, role)
	}
	return p
}

func perm(name string) rbac.Permission {
	return rbac.Permission{Name: name, Enabled: true}
}

func resourcePerm(name, resource, action string) rbac.Permission {
	return rbac.Permission{Name: name, Resource: resource, Action: action, Enabled: true}
}

func disabledPerm(name string) rbac.Permission {
	return rbac.Permission{Name: name, Enabled: false}
}
