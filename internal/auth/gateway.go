package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/odyssey-erp/odyssey-iam/internal/observability"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

const bearerPrefix = "Bearer "

// TokenValidator is satisfied by *TokenService.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// PrincipalFinder re-loads the principal named by a token subject.
type PrincipalFinder interface {
	FindByID(ctx context.Context, id int64) (*rbac.Principal, error)
}

// Gateway authenticates every inbound request. Missing, malformed, tampered and
// expired tokens all yield an anonymous security context; endpoints decide
// whether anonymity is acceptable.
type Gateway struct {
	tokens   TokenValidator
	store    PrincipalFinder
	resolver rbac.AuthorityResolver
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewGateway constructs a Gateway. A nil resolver falls back to an uncached
// rbac.Resolver.
func NewGateway(tokens TokenValidator, store PrincipalFinder, resolver rbac.AuthorityResolver, logger *slog.Logger, metrics *observability.Metrics) *Gateway {
	if resolver == nil {
		resolver = rbac.NewResolver()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{tokens: tokens, store: store, resolver: resolver, logger: logger, metrics: metrics}
}

// Middleware populates the request's security context and clears it when the
// handler chain returns or panics. A store outage does not stop the request:
// routes that need no principal still run, and RBAC guards answer 503.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, _ := g.Authenticate(r.Context(), r.Header.Get("Authorization"))
		defer sc.Clear()
		g.metrics.ObserveGateway(sc.IsAuthenticated())
		next.ServeHTTP(w, r.WithContext(rbac.ContextWithSecurity(r.Context(), sc)))
	})
}

// Authenticate resolves an Authorization header value into a security context.
// It always returns a context. When the principal lookup fails the context is
// rbac.Unresolved and the same error is returned, wrapping
// shared.ErrStoreUnavailable for store outages.
func (g *Gateway) Authenticate(ctx context.Context, header string) (*rbac.SecurityContext, error) {
	raw, ok := bearerToken(header)
	if !ok {
		return rbac.Anonymous(), nil
	}
	subject, err := g.tokens.Validate(raw)
	if err != nil {
		g.metrics.ObserveTokenValidation(TokenResult(err))
		g.logger.Debug("bearer token rejected", slog.Any("error", err))
		return rbac.Anonymous(), nil
	}
	g.metrics.ObserveTokenValidation(observability.TokenValid)

	id, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		g.logger.Warn("token subject is not a principal id", slog.String("subject", subject))
		return rbac.Anonymous(), nil
	}
	principal, err := g.store.FindByID(ctx, id)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		g.logger.Info("token principal no longer exists", slog.Int64("principal_id", id))
		return rbac.Anonymous(), nil
	case err != nil:
		g.logger.Error("authenticate request", slog.Int64("principal_id", id), slog.Any("error", err))
		return rbac.Unresolved(err), err
	}
	if !principal.IsActive() {
		g.logger.Info("token principal inactive", slog.Any("principal", principal))
		return rbac.Anonymous(), nil
	}
	return rbac.NewSecurityContext(principal, g.resolver.Resolve(principal)), nil
}

// TokenResult maps a Validate error to its metric label.
func TokenResult(err error) string {
	switch {
	case err == nil:
		return observability.TokenValid
	case errors.Is(err, ErrTokenExpired):
		return observability.TokenExpired
	case errors.Is(err, ErrTokenSignatureInvalid):
		return observability.TokenSignatureInvalid
	default:
		return observability.TokenMalformed
	}
}

func bearerToken(header string) (string, bool) {
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}
