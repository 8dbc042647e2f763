package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-iam/internal/observability"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	tokens     *TokenService
	rbac       rbac.Middleware
	metrics    *observability.Metrics
	validator  *validator.Validate
	loginLimit int
}

// NewHandler constructs a Handler instance. loginLimit caps login attempts per
// client IP per minute; zero disables the limit.
func NewHandler(logger *slog.Logger, service *Service, tokens *TokenService, rbac rbac.Middleware, metrics *observability.Metrics, loginLimit int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:     logger,
		service:    service,
		tokens:     tokens,
		rbac:       rbac,
		metrics:    metrics,
		validator:  validator.New(),
		loginLimit: loginLimit,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.loginLimit > 0 {
			r.Use(httprate.Limit(h.loginLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "too many login attempts, retry later")
				}),
			))
		}
		r.Post("/login", h.handleLogin)
	})
	r.Post("/token/validate", h.handleValidate)
	r.With(h.rbac.RequireAuthenticated).Get("/me", h.handleMe)
}

type loginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=255"`
	Password   string `json:"password" validate:"required,max=72"`
}

type loginResponse struct {
	Token       string    `json:"token"`
	TokenType   string    `json:"tokenType"`
	PrincipalID int64     `json:"principalId"`
	Username    string    `json:"username"`
	Authorities []string  `json:"authorities"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		if !errors.Is(err, shared.ErrInvalidCredentials) {
			h.logger.Error("login failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loginResponse{
		Token:       result.Token.Value,
		TokenType:   "Bearer",
		PrincipalID: result.Principal.ID,
		Username:    result.Principal.Username,
		Authorities: result.Authorities.List(),
		ExpiresAt:   result.Token.ExpiresAt,
	})
}

type validateRequest struct {
	Token string `json:"token" validate:"required"`
}

type validateResponse struct {
	Valid   bool   `json:"valid"`
	Subject string `json:"subject,omitempty"`
	Expired *bool  `json:"expired,omitempty"`
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := h.decode(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	subject, err := h.tokens.Validate(req.Token)
	h.metrics.ObserveTokenValidation(TokenResult(err))
	if err != nil {
		expired := errors.Is(err, ErrTokenExpired)
		httpx.JSON(w, http.StatusOK, validateResponse{Valid: false, Expired: &expired})
		return
	}
	httpx.JSON(w, http.StatusOK, validateResponse{Valid: true, Subject: subject})
}

type meResponse struct {
	Subject       string   `json:"subject"`
	Username      string   `json:"username"`
	Authenticated bool     `json:"authenticated"`
	Authorities   []string `json:"authorities"`
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	sc := rbac.SecurityFromContext(r.Context())
	principal := sc.Principal()
	if principal == nil {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	httpx.JSON(w, http.StatusOK, meResponse{
		Subject:       strconv.FormatInt(principal.ID, 10),
		Username:      principal.Username,
		Authenticated: true,
		Authorities:   sc.Authorities().List(),
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) error {
	if err := httpx.DecodeJSON(w, r, target); err != nil {
		return err
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: %s failed on %s", shared.ErrValidation, fieldErrs[0].Field(), fieldErrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	return nil
}
