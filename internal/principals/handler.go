// Package principals serves identity and role introspection endpoints gated by
// RBAC predicates. A principal record is visible to its owner, to admins and to
// holders of USER_READ.
package principals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// PrincipalFinder loads principals by id.
type PrincipalFinder interface {
	FindByID(ctx context.Context, id int64) (*rbac.Principal, error)
}

// Enqueuer queues authority invalidations for asynchronous broadcast.
type Enqueuer interface {
	EnqueueAuthorityInvalidation(ctx context.Context, inv rbac.Invalidation) error
}

// Handler exposes principal, role and permission lookups.
type Handler struct {
	logger   *slog.Logger
	store    PrincipalFinder
	resolver rbac.AuthorityResolver
	authz    *rbac.Authorizer
	rbac     rbac.Middleware
	enqueuer Enqueuer
}

// NewHandler builds Handler instance. enqueuer may be nil, in which case
// invalidation requests are rejected with 503.
func NewHandler(logger *slog.Logger, store PrincipalFinder, resolver rbac.AuthorityResolver, authz *rbac.Authorizer, enqueuer Enqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = rbac.NewResolver()
	}
	return &Handler{
		logger:   logger,
		store:    store,
		resolver: resolver,
		authz:    authz,
		rbac:     rbac.Middleware{Authorizer: authz, Logger: logger},
		enqueuer: enqueuer,
	}
}

// MountRoutes registers principal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuthenticated)
		r.Get("/principals/{id}", h.getPrincipal)
	})
	r.With(h.rbac.RequireAny(shared.PermRoleRead)).Get("/roles/{name}", h.getRole)
	r.With(h.rbac.RequireAny(shared.PermPermissionRead)).Get("/permissions/{name}/roles", h.getPermissionRoles)
	r.With(h.rbac.RequireRole(rbac.RoleAdmin)).Post("/authz/invalidate", h.invalidate)
}

type principalResponse struct {
	ID          int64    `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Active      bool     `json:"active"`
	Authorities []string `json:"authorities,omitempty"`
}

func (h *Handler) getPrincipal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: id must be a positive integer", shared.ErrValidation))
		return
	}
	if !h.authz.CanAccess(ctx, id) && !h.authz.HasPermission(ctx, shared.PermUserRead) {
		h.authz.LogSecurityEvent(ctx, "principal.read.denied", "target="+strconv.FormatInt(id, 10))
		httpx.RespondError(w, shared.ErrAccessDenied)
		return
	}
	principal, err := h.store.FindByID(ctx, id)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			h.logger.Error("load principal", slog.Int64("principal_id", id), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, principalResponse{
		ID:          principal.ID,
		Username:    principal.Username,
		Email:       principal.Email,
		Active:      principal.IsActive(),
		Authorities: h.resolver.Resolve(principal).List(),
	})
}

type roleResponse struct {
	Name        string           `json:"name"`
	Exists      bool             `json:"exists"`
	Permissions []permissionView `json:"permissions"`
}

type permissionView struct {
	Name     string `json:"name"`
	Resource string `json:"resource,omitempty"`
	Action   string `json:"action,omitempty"`
	Enabled  bool   `json:"enabled"`
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	exists, err := h.authz.RoleExists(ctx, name)
	if err != nil {
		h.catalogFailure(w, "role exists", err)
		return
	}
	resp := roleResponse{Name: name, Exists: exists, Permissions: []permissionView{}}
	if exists {
		perms, err := h.authz.PermissionsOfRole(ctx, name)
		if err != nil {
			h.catalogFailure(w, "permissions of role", err)
			return
		}
		for _, p := range perms {
			resp.Permissions = append(resp.Permissions, permissionView{Name: p.Name, Resource: p.Resource, Action: p.Action, Enabled: p.Enabled})
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type permissionRolesResponse struct {
	Permission string   `json:"permission"`
	Exists     bool     `json:"exists"`
	Roles      []string `json:"roles"`
}

func (h *Handler) getPermissionRoles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	exists, err := h.authz.PermissionExists(ctx, name)
	if err != nil {
		h.catalogFailure(w, "permission exists", err)
		return
	}
	resp := permissionRolesResponse{Permission: name, Exists: exists, Roles: []string{}}
	if exists {
		roles, err := h.authz.RolesWithPermission(ctx, name)
		if err != nil {
			h.catalogFailure(w, "roles with permission", err)
			return
		}
		for _, role := range roles {
			resp.Roles = append(resp.Roles, role.Name)
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type invalidateRequest struct {
	PrincipalID int64 `json:"principalId"`
	All         bool  `json:"all"`
}

func (h *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv := rbac.Invalidation{PrincipalID: req.PrincipalID, All: req.All}
	if !inv.Valid() {
		httpx.RespondError(w, fmt.Errorf("%w: principalId or all is required", shared.ErrValidation))
		return
	}
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "job queue not configured")
		return
	}
	if err := h.enqueuer.EnqueueAuthorityInvalidation(r.Context(), inv); err != nil {
		h.logger.Error("enqueue authority invalidation", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "job queue unreachable")
		return
	}
	h.authz.LogSecurityEvent(r.Context(), "authz.invalidate", fmt.Sprintf("principal=%d all=%t", inv.PrincipalID, inv.All))
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) catalogFailure(w http.ResponseWriter, op string, err error) {
	h.logger.Error("catalog lookup", slog.String("op", op), slog.Any("error", err))
	httpx.RespondError(w, fmt.Errorf("%w: %s", shared.ErrStoreUnavailable, op))
}
