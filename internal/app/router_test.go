package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-iam/internal/app"
	"github.com/odyssey-erp/odyssey-iam/internal/auth"
	"github.com/odyssey-erp/odyssey-iam/internal/observability"
	"github.com/odyssey-erp/odyssey-iam/internal/principals"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/jobs"
	_ "github.com/odyssey-erp/odyssey-iam/testing"
)

type memoryStore map[int64]*rbac.Principal

func (m memoryStore) FindByUsernameOrEmail(ctx context.Context, identifier string) (*rbac.Principal, error) {
	for _, p := range m {
		if p.Username == identifier || p.Email == identifier {
			return p, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (m memoryStore) FindByID(ctx context.Context, id int64) (*rbac.Principal, error) {
	if p, ok := m[id]; ok {
		return p, nil
	}
	return nil, shared.ErrNotFound
}

// flakyStore fails principal reloads while down.
type flakyStore struct {
	memoryStore
	down bool
}

func (f *flakyStore) FindByID(ctx context.Context, id int64) (*rbac.Principal, error) {
	if f.down {
		return nil, fmt.Errorf("users: find by id: %w", shared.ErrStoreUnavailable)
	}
	return f.memoryStore.FindByID(ctx, id)
}

func account(t *testing.T, id int64, username string, roles ...string) *rbac.Principal {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	require.NoError(t, err)
	p := &rbac.Principal{
		ID: id, Username: username, Email: username + "@odyssey.local", PasswordHash: string(hash),
		Enabled: true, AccountNonExpired: true, AccountNonLocked: true, CredentialsNonExpired: true,
	}
	for i, name := range roles {
		p.Roles = append(p.Roles, rbac.Role{ID: int64(i + 1), Name: name, Enabled: true})
	}
	return p
}

func newServer(t *testing.T, store auth.CredentialStore) http.Handler {
	t.Helper()
	cfg := &app.Config{AppEnv: "test", AppRateLimit: 1000}
	metrics := observability.NewMetrics()
	tokens, err := auth.NewTokenService(auth.TokenConfig{Secret: "router-test-secret-0123456789abcdef"})
	require.NoError(t, err)

	authz := rbac.NewAuthorizer(nil, nil)
	mw := rbac.Middleware{Authorizer: authz}
	service := auth.NewService(store, tokens, nil, nil, metrics, nil)
	return app.NewRouter(app.RouterParams{
		Config:            cfg,
		Authenticator:     auth.NewGateway(tokens, store, nil, nil, metrics),
		AuthHandler:       auth.NewHandler(nil, service, tokens, mw, metrics, 0),
		PrincipalsHandler: principals.NewHandler(nil, store, nil, authz, nil),
		JobHandler:        jobs.NewHandler(nil, nil),
		RBACMiddleware:    mw,
		Metrics:           metrics,
	})
}

func call(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func login(t *testing.T, h http.Handler, username string) string {
	t.Helper()
	rr := call(h, http.MethodPost, "/auth/login", "", `{"identifier":"`+username+`","password":"s3cret-pass"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotEmpty(t, body.Token)
	return body.Token
}

func TestBinariesSeeTestMode(t *testing.T) {
	assert.True(t, app.InTestMode())
}

func TestRouterHealthAndHeaders(t *testing.T) {
	h := newServer(t, memoryStore{})
	rr := call(h, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rr.Header().Get("Cache-Control"))
}

func TestRouterLoginThenAccess(t *testing.T) {
	store := memoryStore{1: account(t, 1, "root", "ADMIN"), 5: account(t, 5, "erin")}
	h := newServer(t, store)

	userToken := login(t, h, "erin")
	adminToken := login(t, h, "root")

	rr := call(h, http.MethodGet, "/auth/me", userToken, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"username":"erin"`)

	assert.Equal(t, http.StatusOK, call(h, http.MethodGet, "/principals/5", userToken, "").Code)
	assert.Equal(t, http.StatusForbidden, call(h, http.MethodGet, "/principals/1", userToken, "").Code)
	assert.Equal(t, http.StatusOK, call(h, http.MethodGet, "/principals/5", adminToken, "").Code)

	assert.Equal(t, http.StatusForbidden, call(h, http.MethodGet, "/jobs/health", userToken, "").Code)
	assert.Equal(t, http.StatusOK, call(h, http.MethodGet, "/jobs/health", adminToken, "").Code)

	scrape := call(h, http.MethodGet, "/metrics", "", "")
	assert.Contains(t, scrape.Body.String(), `odyssey_auth_logins_total{outcome="success"} 2`)
}

func TestRouterBadTokenIsAnonymous(t *testing.T) {
	h := newServer(t, memoryStore{5: account(t, 5, "erin")})
	token := login(t, h, "erin")
	tampered := token[:len(token)-2] + "xx"

	rr := call(h, http.MethodGet, "/auth/me", tampered, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, http.StatusUnauthorized, call(h, http.MethodGet, "/jobs/health", "", "").Code)
	assert.Equal(t, http.StatusOK, call(h, http.MethodGet, "/healthz", tampered, "").Code)
}

func TestRouterMetricsEndpoint(t *testing.T) {
	h := newServer(t, memoryStore{})
	call(h, http.MethodGet, "/healthz", "", "")
	rr := call(h, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "odyssey_http_requests_total")
}

func TestRouterStoreOutageOnlyFailsGuardedRoutes(t *testing.T) {
	store := &flakyStore{memoryStore: memoryStore{5: account(t, 5, "erin")}}
	h := newServer(t, store)
	token := login(t, h, "erin")
	store.down = true

	assert.Equal(t, http.StatusOK, call(h, http.MethodGet, "/healthz", token, "").Code)
	rr := call(h, http.MethodPost, "/auth/token/validate", token, `{"token":"`+token+`"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"valid":true`)

	rr = call(h, http.MethodGet, "/auth/me", token, "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, http.StatusServiceUnavailable, call(h, http.MethodGet, "/principals/5", token, "").Code)
	assert.Equal(t, http.StatusUnauthorized, call(h, http.MethodGet, "/auth/me", "", "").Code)
}
