// Package users implements the read-only credential store.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/text/unicode/norm"

	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// DefaultTimeout bounds a single lookup when the caller sets no tighter deadline.
const DefaultTimeout = 2 * time.Second

// RepositoryPort defines data access methods for principals.
type RepositoryPort interface {
	FindByUsername(ctx context.Context, username string) (*rbac.Principal, error)
	FindByEmail(ctx context.Context, email string) (*rbac.Principal, error)
	FindByID(ctx context.Context, id int64) (*rbac.Principal, error)
}

// Service looks up principals. Misses surface as shared.ErrNotFound; timeouts
// and outages surface as shared.ErrStoreUnavailable and are never reported as
// misses.
type Service struct {
	repo    RepositoryPort
	timeout time.Duration
	logger  *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, timeout: timeout, logger: logger}
}

// FindByUsernameOrEmail tries the username first and falls back to email only
// when the username lookup is a clean miss. The identifier is trimmed and put
// in NFC form so composed and decomposed spellings match the stored value.
func (s *Service) FindByUsernameOrEmail(ctx context.Context, identifier string) (*rbac.Principal, error) {
	identifier = norm.NFC.String(strings.TrimSpace(identifier))
	if identifier == "" {
		return nil, shared.ErrNotFound
	}
	p, err := s.lookup(ctx, "username", func(ctx context.Context) (*rbac.Principal, error) {
		return s.repo.FindByUsername(ctx, identifier)
	})
	if !errors.Is(err, shared.ErrNotFound) {
		return p, err
	}
	return s.lookup(ctx, "email", func(ctx context.Context) (*rbac.Principal, error) {
		return s.repo.FindByEmail(ctx, identifier)
	})
}

// FindByID loads the principal named by a token subject.
func (s *Service) FindByID(ctx context.Context, id int64) (*rbac.Principal, error) {
	if id <= 0 {
		return nil, shared.ErrNotFound
	}
	return s.lookup(ctx, "id", func(ctx context.Context) (*rbac.Principal, error) {
		return s.repo.FindByID(ctx, id)
	})
}

func (s *Service) lookup(ctx context.Context, by string, fn func(context.Context) (*rbac.Principal, error)) (*rbac.Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	p, err := fn(ctx)
	switch {
	case err == nil && p == nil:
		return nil, shared.ErrNotFound
	case err == nil:
		return p, nil
	case errors.Is(err, shared.ErrNotFound):
		return nil, shared.ErrNotFound
	}

	if isTimeout(err) {
		s.logger.Warn("credential store timeout", slog.String("by", by), slog.Any("error", err))
	} else {
		s.logger.Error("credential store lookup failed", slog.String("by", by), slog.Any("error", err))
	}
	return nil, fmt.Errorf("users: find by %s: %w: %w", by, shared.ErrStoreUnavailable, err)
}

func isTimeout(err error) bool {
	return pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded)
}
