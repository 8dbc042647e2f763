package principals_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-iam/internal/principals"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	_ "github.com/odyssey-erp/odyssey-iam/testing"
)

type stubFinder map[int64]*rbac.Principal

func (s stubFinder) FindByID(ctx context.Context, id int64) (*rbac.Principal, error) {
	if p, ok := s[id]; ok {
		return p, nil
	}
	return nil, shared.ErrNotFound
}

type stubCatalog struct {
	roles map[string][]rbac.Permission
	err   error
}

func (c stubCatalog) RoleExists(ctx context.Context, name string) (bool, error) {
	_, ok := c.roles[name]
	return ok, c.err
}

func (c stubCatalog) PermissionExists(ctx context.Context, name string) (bool, error) {
	for _, perms := range c.roles {
		for _, p := range perms {
			if p.Name == name {
				return true, c.err
			}
		}
	}
	return false, c.err
}

func (c stubCatalog) RolesWithPermission(ctx context.Context, permission string) ([]rbac.Role, error) {
	var roles []rbac.Role
	for name, perms := range c.roles {
		for _, p := range perms {
			if p.Name == permission {
				roles = append(roles, rbac.Role{Name: name, Enabled: true})
			}
		}
	}
	return roles, c.err
}

func (c stubCatalog) PermissionsOfRole(ctx context.Context, role string) ([]rbac.Permission, error) {
	return c.roles[role], c.err
}

type recordingEnqueuer struct {
	queued []rbac.Invalidation
	err    error
}

func (e *recordingEnqueuer) EnqueueAuthorityInvalidation(ctx context.Context, inv rbac.Invalidation) error {
	if e.err != nil {
		return e.err
	}
	e.queued = append(e.queued, inv)
	return nil
}

func principal(id int64, username string, roles ...string) *rbac.Principal {
	p := &rbac.Principal{
		ID: id, Username: username, Email: username + "@odyssey.local",
		Enabled: true, AccountNonExpired: true, AccountNonLocked: true, CredentialsNonExpired: true,
	}
	for i, name := range roles {
		p.Roles = append(p.Roles, rbac.Role{ID: int64(i + 1), Name: name, Enabled: true})
	}
	return p
}

// granting attaches enabled permissions to the principal's first role.
func granting(p *rbac.Principal, names ...string) *rbac.Principal {
	p.Permissions = map[int64]rbac.Permission{}
	for i, name := range names {
		id := int64(i + 1)
		p.Permissions[id] = rbac.Permission{ID: id, Name: name, Enabled: true}
		p.Roles[0].PermissionIDs = append(p.Roles[0].PermissionIDs, id)
	}
	return p
}

type fixture struct {
	router   http.Handler
	enqueuer *recordingEnqueuer
}

func newFixture(catalog rbac.Catalog, ps ...*rbac.Principal) *fixture {
	finder := stubFinder{}
	for _, p := range ps {
		finder[p.ID] = p
	}
	enq := &recordingEnqueuer{}
	authz := rbac.NewAuthorizer(catalog, nil)
	h := principals.NewHandler(nil, finder, nil, authz, enq)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return &fixture{router: r, enqueuer: enq}
}

func (f *fixture) do(as *rbac.Principal, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if as != nil {
		sc := rbac.NewSecurityContext(as, rbac.NewResolver().Resolve(as))
		req = req.WithContext(rbac.ContextWithSecurity(req.Context(), sc))
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestGetPrincipalOwnerAndAdmin(t *testing.T) {
	erin := principal(5, "erin")
	frank := principal(6, "frank")
	admin := principal(1, "root", "ADMIN")
	f := newFixture(nil, erin, frank, admin)

	rr := f.do(erin, http.MethodGet, "/principals/5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"id":5,"username":"erin","email":"erin@odyssey.local","active":true,"authorities":["ROLE_USER"]}`, rr.Body.String())

	rr = f.do(erin, http.MethodGet, "/principals/6", "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.NotContains(t, rr.Body.String(), "frank")

	rr = f.do(admin, http.MethodGet, "/principals/6", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(admin, http.MethodGet, "/principals/404", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(admin, http.MethodGet, "/principals/abc", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetPrincipalWithUserRead(t *testing.T) {
	manager := granting(principal(2, "mona", "MANAGER"), shared.PermUserRead)
	f := newFixture(nil, principal(5, "erin"), manager)

	rr := f.do(manager, http.MethodGet, "/principals/5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"username":"erin"`)
}

func TestGetPrincipalAnonymous(t *testing.T) {
	f := newFixture(nil, principal(5, "erin"))
	rr := f.do(nil, http.MethodGet, "/principals/5", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRoleIntrospectionRequiresReadPermissions(t *testing.T) {
	catalog := stubCatalog{roles: map[string][]rbac.Permission{
		"ADMIN": {{Name: "USER_DELETE", Resource: "USER", Action: "DELETE", Enabled: true}},
	}}
	f := newFixture(catalog)
	admin := granting(principal(1, "root", "ADMIN"), shared.PermRoleRead, shared.PermPermissionRead)
	roleReader := granting(principal(2, "mona", "MANAGER"), shared.PermRoleRead)

	assert.Equal(t, http.StatusForbidden, f.do(principal(5, "erin"), http.MethodGet, "/roles/ADMIN", "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(principal(9, "bare", "ADMIN"), http.MethodGet, "/roles/ADMIN", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(nil, http.MethodGet, "/roles/ADMIN", "").Code)
	assert.Equal(t, http.StatusOK, f.do(roleReader, http.MethodGet, "/roles/ADMIN", "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(roleReader, http.MethodGet, "/permissions/USER_DELETE/roles", "").Code)

	rr := f.do(admin, http.MethodGet, "/roles/ADMIN", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"name":"ADMIN","exists":true,"permissions":[{"name":"USER_DELETE","resource":"USER","action":"DELETE","enabled":true}]}`, rr.Body.String())

	rr = f.do(admin, http.MethodGet, "/roles/GHOST", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"name":"GHOST","exists":false,"permissions":[]}`, rr.Body.String())

	rr = f.do(admin, http.MethodGet, "/permissions/USER_DELETE/roles", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"permission":"USER_DELETE","exists":true,"roles":["ADMIN"]}`, rr.Body.String())
}

func TestCatalogFailureIsGeneric(t *testing.T) {
	f := newFixture(stubCatalog{err: errors.New("pq: connection reset by peer")})
	rr := f.do(granting(principal(1, "root", "ADMIN"), shared.PermRoleRead), http.MethodGet, "/roles/ADMIN", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotContains(t, rr.Body.String(), "connection reset")
}

func TestInvalidateEnqueues(t *testing.T) {
	f := newFixture(nil)
	admin := principal(1, "root", "ADMIN")

	rr := f.do(admin, http.MethodPost, "/authz/invalidate", `{"principalId":7}`)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	rr = f.do(admin, http.MethodPost, "/authz/invalidate", `{"all":true}`)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, []rbac.Invalidation{{PrincipalID: 7}, {All: true}}, f.enqueuer.queued)

	rr = f.do(admin, http.MethodPost, "/authz/invalidate", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(principal(5, "erin"), http.MethodPost, "/authz/invalidate", `{"all":true}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Len(t, f.enqueuer.queued, 2)
}

func TestInvalidateQueueFailure(t *testing.T) {
	f := newFixture(nil)
	f.enqueuer.err = errors.New("redis: connection refused")
	rr := f.do(principal(1, "root", "ADMIN"), http.MethodPost, "/authz/invalidate", `{"all":true}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotContains(t, rr.Body.String(), "refused")
}
