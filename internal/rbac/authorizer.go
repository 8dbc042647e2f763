package rbac

import (
	"context"
	"errors"
	"log/slog"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Catalog answers role and permission index queries against the store.
type Catalog interface {
	RoleExists(ctx context.Context, name string) (bool, error)
	PermissionExists(ctx context.Context, name string) (bool, error)
	RolesWithPermission(ctx context.Context, permission string) ([]Role, error)
	PermissionsOfRole(ctx context.Context, role string) ([]Permission, error)
}

// Authorizer evaluates access predicates against the request's SecurityContext.
// Predicates fail closed: without a principal they return false.
type Authorizer struct {
	catalog Catalog
	logger  *slog.Logger
}

// NewAuthorizer constructs an Authorizer. catalog may be nil when index lookups
// are not needed.
func NewAuthorizer(catalog Catalog, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{catalog: catalog, logger: logger}
}

// HasRole reports whether "ROLE_"+name is among the current authorities.
func (a *Authorizer) HasRole(ctx context.Context, name string) bool {
	if name == "" {
		return false
	}
	return a.hasAuthority(ctx, RolePrefix+name)
}

// HasPermission reports whether name is among the current authorities.
func (a *Authorizer) HasPermission(ctx context.Context, name string) bool {
	if name == "" {
		return false
	}
	return a.hasAuthority(ctx, name)
}

// HasResourcePermission is HasPermission(resource + ":" + action). Permissions
// whose names follow another convention still match through their stored
// resource and action fields, provided the permission resolved into the
// current authority set.
func (a *Authorizer) HasResourcePermission(ctx context.Context, resource, action string) bool {
	if resource == "" || action == "" {
		return false
	}
	if a.HasPermission(ctx, PermissionName(resource, action)) {
		return true
	}
	sc := SecurityFromContext(ctx)
	p := sc.Principal()
	if p == nil {
		return false
	}
	granted := sc.Authorities()
	for _, perm := range p.Permissions {
		if perm.Enabled && perm.Resource == resource && perm.Action == action && granted.Contains(perm.Name) {
			return true
		}
	}
	return false
}

// IsAdmin is HasRole(RoleAdmin).
func (a *Authorizer) IsAdmin(ctx context.Context) bool {
	return a.HasRole(ctx, RoleAdmin)
}

// CanAccess allows admins and the principal owning targetID.
func (a *Authorizer) CanAccess(ctx context.Context, targetID int64) bool {
	if a.IsAdmin(ctx) {
		return true
	}
	p := SecurityFromContext(ctx).Principal()
	return p != nil && p.ID == targetID
}

// CanModify applies the same rule as CanAccess.
func (a *Authorizer) CanModify(ctx context.Context, targetID int64) bool {
	return a.CanAccess(ctx, targetID)
}

// HasAnyRole short-circuits on the first role held.
func (a *Authorizer) HasAnyRole(ctx context.Context, names ...string) bool {
	for _, name := range names {
		if a.HasRole(ctx, name) {
			return true
		}
	}
	return false
}

// HasAllRoles short-circuits on the first role missing. An anonymous caller
// holds nothing, even for an empty list.
func (a *Authorizer) HasAllRoles(ctx context.Context, names ...string) bool {
	if !SecurityFromContext(ctx).IsAuthenticated() {
		return false
	}
	for _, name := range names {
		if !a.HasRole(ctx, name) {
			return false
		}
	}
	return true
}

// HasAnyPermission short-circuits on the first permission held.
func (a *Authorizer) HasAnyPermission(ctx context.Context, names ...string) bool {
	for _, name := range names {
		if a.HasPermission(ctx, name) {
			return true
		}
	}
	return false
}

// Check converts a predicate result into shared.ErrUnauthenticated for anonymous
// callers and shared.ErrAccessDenied for denied ones. An anonymous context whose
// principal lookup failed returns that failure instead.
func (a *Authorizer) Check(ctx context.Context, allowed bool) error {
	if sc := SecurityFromContext(ctx); !sc.IsAuthenticated() {
		if err := sc.Err(); err != nil {
			return err
		}
		return shared.ErrUnauthenticated
	}
	if !allowed {
		return shared.ErrAccessDenied
	}
	return nil
}

// CurrentPrincipal returns the request principal.
func (a *Authorizer) CurrentPrincipal(ctx context.Context) (*Principal, bool) {
	p := SecurityFromContext(ctx).Principal()
	return p, p != nil
}

// CurrentUsername returns the request principal's username.
func (a *Authorizer) CurrentUsername(ctx context.Context) (string, bool) {
	p, ok := a.CurrentPrincipal(ctx)
	if !ok {
		return "", false
	}
	return p.Username, true
}

// RoleExists reports whether a role with name exists in the store.
func (a *Authorizer) RoleExists(ctx context.Context, name string) (bool, error) {
	if a.catalog == nil {
		return false, errCatalogMissing
	}
	return a.catalog.RoleExists(ctx, name)
}

// PermissionExists reports whether a permission with name exists in the store.
func (a *Authorizer) PermissionExists(ctx context.Context, name string) (bool, error) {
	if a.catalog == nil {
		return false, errCatalogMissing
	}
	return a.catalog.PermissionExists(ctx, name)
}

// RolesWithPermission lists enabled roles granting the permission.
func (a *Authorizer) RolesWithPermission(ctx context.Context, permission string) ([]Role, error) {
	if a.catalog == nil {
		return nil, errCatalogMissing
	}
	return a.catalog.RolesWithPermission(ctx, permission)
}

// PermissionsOfRole lists enabled permissions attached to the role.
func (a *Authorizer) PermissionsOfRole(ctx context.Context, role string) ([]Permission, error) {
	if a.catalog == nil {
		return nil, errCatalogMissing
	}
	return a.catalog.PermissionsOfRole(ctx, role)
}

// LogSecurityEvent writes an audit line attributed to the current principal.
func (a *Authorizer) LogSecurityEvent(ctx context.Context, action, details string) {
	username, ok := a.CurrentUsername(ctx)
	if !ok {
		username = "anonymous"
	}
	a.logger.InfoContext(ctx, "security event",
		slog.String("action", action),
		slog.String("user", username),
		slog.String("details", details),
	)
}

func (a *Authorizer) hasAuthority(ctx context.Context, authority string) bool {
	sc := SecurityFromContext(ctx)
	if !sc.IsAuthenticated() {
		return false
	}
	return sc.Authorities().Contains(authority)
}

// PermissionName joins resource and action the way permission names are stored.
func PermissionName(resource, action string) string {
	return resource + ":" + action
}

var errCatalogMissing = errors.New("rbac: catalog not configured")
