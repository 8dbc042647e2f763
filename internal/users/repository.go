package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

const selectPrincipal = `
SELECT id, username, email, password_hash, enabled, account_non_expired,
       account_non_locked, credentials_non_expired, updated_at
FROM users
WHERE `

var lookupQueries = map[string]string{
	"username": selectPrincipal + `username = $1`,
	"email":    selectPrincipal + `lower(email) = lower($1)`,
	"id":       selectPrincipal + `id = $1`,
}

const selectRoles = `
SELECT r.id, r.name, COALESCE(r.description, ''), r.enabled
FROM roles r
JOIN user_roles ur ON ur.role_id = r.id
WHERE ur.user_id = $1
ORDER BY r.name, r.id`

const selectRolePermissions = `
SELECT rp.role_id, p.id, p.name, COALESCE(p.resource, ''), COALESCE(p.action, ''), p.enabled
FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
JOIN user_roles ur ON ur.role_id = rp.role_id
WHERE ur.user_id = $1
ORDER BY rp.role_id, p.name, p.id`

// Repository loads principals and their role graph from PostgreSQL. Each lookup
// reads the user row, roles and permissions inside one snapshot.
type Repository struct {
	db db.Beginner
}

// NewRepository constructs a repository over a pool or connection.
func NewRepository(pool db.Beginner) *Repository {
	return &Repository{db: pool}
}

// FindByUsername loads the principal with an exact username match.
func (r *Repository) FindByUsername(ctx context.Context, username string) (*rbac.Principal, error) {
	return r.find(ctx, "username", username)
}

// FindByEmail loads the principal whose email matches case-insensitively.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*rbac.Principal, error) {
	return r.find(ctx, "email", email)
}

// FindByID loads the principal by identifier.
func (r *Repository) FindByID(ctx context.Context, id int64) (*rbac.Principal, error) {
	return r.find(ctx, "id", id)
}

func (r *Repository) find(ctx context.Context, column string, arg any) (*rbac.Principal, error) {
	var principal *rbac.Principal
	err := db.WithReadTx(ctx, r.db, func(tx pgx.Tx) error {
		p, err := scanPrincipal(tx.QueryRow(ctx, lookupQueries[column], arg))
		if err != nil {
			return err
		}
		if err := loadRoles(ctx, tx, p); err != nil {
			return err
		}
		principal = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return principal, nil
}

func scanPrincipal(row pgx.Row) (*rbac.Principal, error) {
	var p rbac.Principal
	err := row.Scan(&p.ID, &p.Username, &p.Email, &p.PasswordHash, &p.Enabled,
		&p.AccountNonExpired, &p.AccountNonLocked, &p.CredentialsNonExpired, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("users: scan principal: %w", err)
	}
	p.Permissions = make(map[int64]rbac.Permission)
	return &p, nil
}

func loadRoles(ctx context.Context, tx pgx.Tx, p *rbac.Principal) error {
	rows, err := tx.Query(ctx, selectRoles, p.ID)
	if err != nil {
		return fmt.Errorf("users: query roles: %w", err)
	}
	index := make(map[int64]int)
	for rows.Next() {
		var role rbac.Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.Enabled); err != nil {
			rows.Close()
			return fmt.Errorf("users: scan role: %w", err)
		}
		index[role.ID] = len(p.Roles)
		p.Roles = append(p.Roles, role)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("users: roles: %w", err)
	}
	if len(p.Roles) == 0 {
		return nil
	}

	rows, err = tx.Query(ctx, selectRolePermissions, p.ID)
	if err != nil {
		return fmt.Errorf("users: query permissions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var roleID int64
		var perm rbac.Permission
		if err := rows.Scan(&roleID, &perm.ID, &perm.Name, &perm.Resource, &perm.Action, &perm.Enabled); err != nil {
			return fmt.Errorf("users: scan permission: %w", err)
		}
		p.Permissions[perm.ID] = perm
		if i, ok := index[roleID]; ok {
			p.Roles[i].PermissionIDs = append(p.Roles[i].PermissionIDs, perm.ID)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("users: permissions: %w", err)
	}
	return nil
}
