package rbac

import (
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// RolePrefix marks role-derived authorities.
	RolePrefix = "ROLE_"
	// DefaultAuthority is granted when a principal resolves to no authorities.
	DefaultAuthority = RolePrefix + "USER"
	// RoleAdmin is the role name checked by IsAdmin.
	RoleAdmin = "ADMIN"
)

// Permission represents an atomic resource+action capability.
type Permission struct {
	ID       int64
	Name     string
	Resource string
	Action   string
	Enabled  bool
}

// Role represents a named bundle of permissions. PermissionIDs is ordered and
// refers into the owning Principal's Permissions catalog; roles hold no
// back-pointers to principals.
type Role struct {
	ID            int64
	Name          string
	Description   string
	Enabled       bool
	PermissionIDs []int64
}

// Principal is a read-only snapshot of an identity and its role graph as loaded
// from the credential store.
type Principal struct {
	ID                    int64
	Username              string
	Email                 string
	PasswordHash          string
	Enabled               bool
	AccountNonExpired     bool
	AccountNonLocked      bool
	CredentialsNonExpired bool
	Roles                 []Role
	Permissions           map[int64]Permission
	UpdatedAt             time.Time
}

// GetID returns the principal identifier.
func (p *Principal) GetID() int64 {
	if p == nil {
		return 0
	}
	return p.ID
}

// IsActive reports whether all four account status flags allow authentication.
func (p *Principal) IsActive() bool {
	return p != nil && p.Enabled && p.AccountNonExpired && p.AccountNonLocked && p.CredentialsNonExpired
}

// Version fingerprints every field authority resolution reads: the principal's
// UpdatedAt, each role's id, name and enabled flag, and the name and enabled flag
// of every permission the role references, in order. Role and permission edits
// therefore change the version even when the user row is untouched.
func (p *Principal) Version() uint64 {
	if p == nil {
		return 0
	}
	d := xxhash.New()
	buf := make([]byte, 0, 64)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.UpdatedAt.UnixNano()))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(p.Roles)))
	for _, role := range p.Roles {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(role.ID))
		buf = appendName(buf, role.Name)
		buf = appendFlag(buf, role.Enabled)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(role.PermissionIDs)))
		for _, id := range role.PermissionIDs {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(id))
			perm, ok := p.Permissions[id]
			buf = appendFlag(buf, ok)
			buf = appendName(buf, perm.Name)
			buf = appendFlag(buf, perm.Enabled)
		}
		_, _ = d.Write(buf)
		buf = buf[:0]
	}
	_, _ = d.Write(buf)
	return d.Sum64()
}

// appendName length-prefixes s so adjacent names cannot collide.
func appendName(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendFlag(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// LogValue keeps credentials out of structured logs.
func (p *Principal) LogValue() slog.Value {
	if p == nil {
		return slog.StringValue("anonymous")
	}
	return slog.GroupValue(
		slog.Int64("id", p.ID),
		slog.String("username", p.Username),
		slog.Bool("active", p.IsActive()),
	)
}
