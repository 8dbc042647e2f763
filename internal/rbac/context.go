package rbac

import (
	"context"
	"sync/atomic"
)

type securityContextKey struct{}

type securityState struct {
	principal   *Principal
	authorities Authorities
}

// SecurityContext holds the principal and authorities resolved for one request.
// The gateway clears it when the request ends, so a reference retained by a
// goroutine that outlives the request reads as anonymous. Goroutines that need
// the identity must take a Snapshot explicitly.
type SecurityContext struct {
	state atomic.Pointer[securityState]
	// err is set when the principal could not be loaded; fixed at construction.
	err error
}

// NewSecurityContext returns a populated context. A nil principal yields an
// anonymous context.
func NewSecurityContext(p *Principal, authorities Authorities) *SecurityContext {
	sc := &SecurityContext{}
	if p != nil {
		sc.state.Store(&securityState{principal: p, authorities: authorities})
	}
	return sc
}

// Anonymous returns an empty context.
func Anonymous() *SecurityContext {
	return &SecurityContext{}
}

// Unresolved returns an anonymous context recording why the bearer's principal
// could not be loaded. Guards report err instead of asking for authentication.
func Unresolved(err error) *SecurityContext {
	return &SecurityContext{err: err}
}

// Err returns the lookup failure recorded by Unresolved, or nil.
func (sc *SecurityContext) Err() error {
	if sc == nil {
		return nil
	}
	return sc.err
}

// Principal returns the resolved principal or nil.
func (sc *SecurityContext) Principal() *Principal {
	if st := sc.load(); st != nil {
		return st.principal
	}
	return nil
}

// Authorities returns the resolved authority set, empty when anonymous.
func (sc *SecurityContext) Authorities() Authorities {
	if st := sc.load(); st != nil {
		return st.authorities
	}
	return Authorities{}
}

// IsAuthenticated reports whether a principal is present.
func (sc *SecurityContext) IsAuthenticated() bool {
	return sc.Principal() != nil
}

// Clear drops the principal and authorities.
func (sc *SecurityContext) Clear() {
	if sc != nil {
		sc.state.Store(nil)
	}
}

// Snapshot copies the current state into an independent context that survives
// Clear on the original.
func (sc *SecurityContext) Snapshot() *SecurityContext {
	st := sc.load()
	if st == nil {
		return Anonymous()
	}
	return NewSecurityContext(st.principal, st.authorities)
}

func (sc *SecurityContext) load() *securityState {
	if sc == nil {
		return nil
	}
	return sc.state.Load()
}

// ContextWithSecurity stores the security context in ctx.
func ContextWithSecurity(ctx context.Context, sc *SecurityContext) context.Context {
	return context.WithValue(ctx, securityContextKey{}, sc)
}

// SecurityFromContext extracts the security context, never returning nil.
func SecurityFromContext(ctx context.Context) *SecurityContext {
	if sc, ok := ctx.Value(securityContextKey{}).(*SecurityContext); ok && sc != nil {
		return sc
	}
	return Anonymous()
}
