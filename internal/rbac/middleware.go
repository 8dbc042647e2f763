package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
)

// Middleware wires RBAC authorization helpers for HTTP handlers. Anonymous
// requests get 401, authenticated but denied requests get 403.
type Middleware struct {
	Authorizer *Authorizer
	Logger     *slog.Logger
}

// RequireAuthenticated rejects anonymous requests.
func (m Middleware) RequireAuthenticated(next http.Handler) http.Handler {
	return m.guard("authenticated", func(context.Context) bool { return true })(next)
}

// RequireAny ensures the current principal has at least one of the permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizeNames(perms)
	return m.guard("require any", func(ctx context.Context) bool {
		return len(normalized) == 0 || m.authorizer().HasAnyPermission(ctx, normalized...)
	})
}

// RequireAll ensures the current principal has all of the permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizeNames(perms)
	return m.guard("require all", func(ctx context.Context) bool {
		for _, p := range normalized {
			if !m.authorizer().HasPermission(ctx, p) {
				return false
			}
		}
		return true
	})
}

// RequireRole ensures the current principal holds at least one of the roles.
func (m Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	normalized := normalizeNames(roles)
	return m.guard("require role", func(ctx context.Context) bool {
		return len(normalized) == 0 || m.authorizer().HasAnyRole(ctx, normalized...)
	})
}

func (m Middleware) guard(rule string, allowed func(context.Context) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if err := m.authorizer().Check(ctx, allowed(ctx)); err != nil {
				if m.Logger != nil {
					m.Logger.Debug("rbac "+rule+" rejected",
						slog.String("path", r.URL.Path),
						slog.Any("error", err),
					)
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) authorizer() *Authorizer {
	if m.Authorizer == nil {
		return NewAuthorizer(nil, m.Logger)
	}
	return m.Authorizer
}

func normalizeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	normalized := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		normalized = append(normalized, n)
	}
	return normalized
}
