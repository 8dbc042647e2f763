package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

type stubStore struct {
	mu        sync.Mutex
	principal map[int64]*rbac.Principal
	err       error
	lookups   int
}

func newStubStore(principals ...*rbac.Principal) *stubStore {
	s := &stubStore{principal: map[int64]*rbac.Principal{}}
	for _, p := range principals {
		s.principal[p.ID] = p
	}
	return s
}

func (s *stubStore) FindByUsernameOrEmail(ctx context.Context, identifier string) (*rbac.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.err != nil {
		return nil, s.err
	}
	for _, p := range s.principal {
		if p.Username == identifier {
			return p, nil
		}
	}
	for _, p := range s.principal {
		if p.Email == identifier {
			return p, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubStore) FindByID(ctx context.Context, id int64) (*rbac.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.err != nil {
		return nil, s.err
	}
	if p, ok := s.principal[id]; ok {
		return p, nil
	}
	return nil, shared.ErrNotFound
}

type stubAudit struct {
	mu      sync.Mutex
	entries []shared.AuditLog
}

func (a *stubAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, log)
	return nil
}

func hashPassword(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

// activePrincipal builds an active principal. When admin is set it holds ADMIN
// with USER_READ and USER_DELETE.
func activePrincipal(t *testing.T, id int64, username, password string, admin bool) *rbac.Principal {
	t.Helper()
	p := &rbac.Principal{
		ID:                    id,
		Username:              username,
		Email:                 username + "@odyssey.local",
		PasswordHash:          hashPassword(t, password),
		Enabled:               true,
		AccountNonExpired:     true,
		AccountNonLocked:      true,
		CredentialsNonExpired: true,
		Permissions:           map[int64]rbac.Permission{},
		UpdatedAt:             time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	if admin {
		p.Permissions[1] = rbac.Permission{ID: 1, Name: "USER_READ", Resource: "USER", Action: "READ", Enabled: true}
		p.Permissions[2] = rbac.Permission{ID: 2, Name: "USER_DELETE", Resource: "USER", Action: "DELETE", Enabled: true}
		p.Roles = []rbac.Role{{ID: 1, Name: "ADMIN", Enabled: true, PermissionIDs: []int64{1, 2}}}
	}
	return p
}
