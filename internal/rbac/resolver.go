package rbac

// Resolver derives flat authority sets from principal role graphs. It holds no
// state and is safe for concurrent use.
type Resolver struct{}

// NewResolver constructs a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve walks the principal's enabled roles in order, adding "ROLE_"+name for
// each and the bare name of each enabled permission of that role. An empty
// result becomes exactly {DefaultAuthority}.
func (r *Resolver) Resolve(p *Principal) Authorities {
	var b authorityBuilder
	if p != nil {
		for _, role := range p.Roles {
			if !role.Enabled || role.Name == "" {
				continue
			}
			b.add(RolePrefix + role.Name)
			for _, id := range role.PermissionIDs {
				perm, ok := p.Permissions[id]
				if !ok || !perm.Enabled {
					continue
				}
				b.add(perm.Name)
			}
		}
	}
	if len(b.list) == 0 {
		b.add(DefaultAuthority)
	}
	return b.build()
}
