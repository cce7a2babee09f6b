package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/botica-erp/botica-erp/internal/platform/httpx"
	"github.com/botica-erp/botica-erp/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers auth routes on the provided router. The login route
// must stay outside the RequireAuth middleware.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.login)
}

// MountProtectedRoutes registers routes that need a resolved identity.
func (h *Handler) MountProtectedRoutes(r chi.Router) {
	r.Post("/logout", h.logout)
	r.Get("/me", h.me)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, "email and password (min 8 characters) are required")
		return
	}

	token, identity, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{
		"token": token,
		"user": map[string]any{
			"id":         identity.UserID,
			"name":       identity.Name,
			"role":       identity.Role,
			"locationId": identity.LocationID,
		},
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), bearerToken(r)); err != nil {
		h.logger.Warn("logout failed", slog.Any("error", err))
	}
	httpx.OK(w, http.StatusOK, nil)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	if identity == nil {
		httpx.Fail(w, http.StatusUnauthorized, "authentication required")
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":         identity.UserID,
			"name":       identity.Name,
			"role":       identity.Role,
			"locationId": identity.LocationID,
		},
	})
}
