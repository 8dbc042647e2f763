package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-iam/internal/observability"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// CredentialStore looks principals up for login and per-request authentication.
type CredentialStore interface {
	FindByUsernameOrEmail(ctx context.Context, identifier string) (*rbac.Principal, error)
	PrincipalFinder
}

// AuditRecorder persists security audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token       Token
	Principal   *rbac.Principal
	Authorities rbac.Authorities
}

// PasswordCost is the bcrypt work factor for stored password hashes.
const PasswordCost = 12

// HashPassword hashes password at PasswordCost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// equaliseTiming burns one bcrypt comparison so unknown identifiers cost the
// same as wrong passwords.
func equaliseTiming(password string) {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("odyssey-timing-dummy"), PasswordCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// Service wraps authentication business rules.
type Service struct {
	store    CredentialStore
	tokens   *TokenService
	resolver rbac.AuthorityResolver
	audit    AuditRecorder
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewService constructs a new Service. audit and metrics may be nil.
func NewService(store CredentialStore, tokens *TokenService, resolver rbac.AuthorityResolver, audit AuditRecorder, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if resolver == nil {
		resolver = rbac.NewResolver()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, tokens: tokens, resolver: resolver, audit: audit, metrics: metrics, logger: logger}
}

// Login verifies identifier and password and issues a token. Unknown
// identifiers, wrong passwords and inactive accounts all return
// shared.ErrInvalidCredentials. Store outages return an error wrapping
// shared.ErrStoreUnavailable.
func (s *Service) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	principal, err := s.store.FindByUsernameOrEmail(ctx, identifier)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		equaliseTiming(password)
		s.reject(ctx, identifier, 0, "unknown identifier")
		return nil, shared.ErrInvalidCredentials
	case err != nil:
		s.metrics.ObserveLogin(observability.LoginUnavailable)
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(principal.PasswordHash), []byte(password)); err != nil {
		s.reject(ctx, identifier, principal.ID, "password mismatch")
		return nil, shared.ErrInvalidCredentials
	}
	if !principal.IsActive() {
		s.reject(ctx, identifier, principal.ID, "account inactive")
		return nil, shared.ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(strconv.FormatInt(principal.ID, 10), 0)
	if err != nil {
		return nil, err
	}
	authorities := s.resolver.Resolve(principal)

	s.metrics.ObserveLogin(observability.LoginSuccess)
	s.logger.Info("login succeeded", slog.Any("principal", principal))
	s.record(ctx, shared.AuditLog{
		ActorID:  principal.ID,
		Action:   "auth.login",
		Entity:   "principal",
		EntityID: strconv.FormatInt(principal.ID, 10),
		Meta:     map[string]any{"outcome": "success", "jti": token.ID},
		At:       time.Now().UTC(),
	})
	return &LoginResult{Token: token, Principal: principal, Authorities: authorities}, nil
}

func (s *Service) reject(ctx context.Context, identifier string, principalID int64, reason string) {
	s.metrics.ObserveLogin(observability.LoginRejected)
	s.logger.Info("login rejected", slog.String("identifier", identifier), slog.String("reason", reason))
	entityID := identifier
	if principalID > 0 {
		entityID = strconv.FormatInt(principalID, 10)
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  principalID,
		Action:   "auth.login",
		Entity:   "principal",
		EntityID: entityID,
		Meta:     map[string]any{"outcome": "rejected", "reason": reason},
		At:       time.Now().UTC(),
	})
}

func (s *Service) record(ctx context.Context, entry shared.AuditLog) {
	if s.audit == nil || entry.EntityID == "" {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("record audit log", slog.String("action", entry.Action), slog.Any("error", err))
	}
}
