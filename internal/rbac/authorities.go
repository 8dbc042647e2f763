package rbac

import "strings"

// Authorities is an immutable, insertion-ordered set of authority strings.
// The zero value is an empty set.
type Authorities struct {
	list  []string
	index map[string]struct{}
}

// NewAuthorities builds a set from values, dropping blanks and duplicates while
// keeping first-seen order.
func NewAuthorities(values ...string) Authorities {
	var b authorityBuilder
	for _, v := range values {
		b.add(v)
	}
	return b.build()
}

// Contains reports set membership.
func (a Authorities) Contains(authority string) bool {
	_, ok := a.index[authority]
	return ok
}

// Len returns the number of authorities.
func (a Authorities) Len() int {
	return len(a.list)
}

// List returns a copy of the authorities in resolution order.
func (a Authorities) List() []string {
	out := make([]string, len(a.list))
	copy(out, a.list)
	return out
}

// Roles returns the role names (prefix stripped) contained in the set.
func (a Authorities) Roles() []string {
	var roles []string
	for _, v := range a.list {
		if name, ok := strings.CutPrefix(v, RolePrefix); ok {
			roles = append(roles, name)
		}
	}
	return roles
}

type authorityBuilder struct {
	list  []string
	index map[string]struct{}
}

func (b *authorityBuilder) add(v string) {
	if v == "" {
		return
	}
	if b.index == nil {
		b.index = make(map[string]struct{})
	}
	if _, dup := b.index[v]; dup {
		return
	}
	b.index[v] = struct{}{}
	b.list = append(b.list, v)
}

func (b *authorityBuilder) build() Authorities {
	return Authorities{list: b.list, index: b.index}
}
