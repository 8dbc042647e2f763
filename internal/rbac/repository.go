package rbac

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Querier is the subset of *pgxpool.Pool used by PGCatalog.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGCatalog answers role and permission index queries from PostgreSQL. Reverse
// lookups are explicit joins over role_permissions.
type PGCatalog struct {
	db Querier
}

// NewCatalog constructs a PostgreSQL catalog.
func NewCatalog(db Querier) *PGCatalog {
	return &PGCatalog{db: db}
}

// RoleExists reports whether a role named name exists.
func (c *PGCatalog) RoleExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := c.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE name = $1)`, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("rbac: role exists: %w", err)
	}
	return exists, nil
}

// PermissionExists reports whether a permission named name exists.
func (c *PGCatalog) PermissionExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := c.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM permissions WHERE name = $1)`, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("rbac: permission exists: %w", err)
	}
	return exists, nil
}

// RolesWithPermission lists enabled roles that grant the named permission.
func (c *PGCatalog) RolesWithPermission(ctx context.Context, permission string) ([]Role, error) {
	rows, err := c.db.Query(ctx, `
SELECT r.id, r.name, COALESCE(r.description, ''), r.enabled
FROM roles r
JOIN role_permissions rp ON rp.role_id = r.id
JOIN permissions p ON p.id = rp.permission_id
WHERE p.name = $1 AND r.enabled
ORDER BY r.name`, permission)
	if err != nil {
		return nil, fmt.Errorf("rbac: roles with permission: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.Enabled); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// PermissionsOfRole lists enabled permissions attached to the named role.
func (c *PGCatalog) PermissionsOfRole(ctx context.Context, role string) ([]Permission, error) {
	rows, err := c.db.Query(ctx, `
SELECT p.id, p.name, COALESCE(p.resource, ''), COALESCE(p.action, ''), p.enabled
FROM permissions p
JOIN role_permissions rp ON rp.permission_id = p.id
JOIN roles r ON r.id = rp.role_id
WHERE r.name = $1 AND p.enabled
ORDER BY p.name`, role)
	if err != nil {
		return nil, fmt.Errorf("rbac: permissions of role: %w", err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var perm Permission
		if err := rows.Scan(&perm.ID, &perm.Name, &perm.Resource, &perm.Action, &perm.Enabled); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

var _ Catalog = (*PGCatalog)(nil)
