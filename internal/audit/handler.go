package audit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botica-erp/botica-erp/internal/platform/httpx"
	"github.com/botica-erp/botica-erp/internal/shared"
)

// Handler exposes the audit timeline. Read-only and manager-tier only.
type Handler struct {
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, pool *pgxpool.Pool) *Handler {
	return &Handler{logger: logger, pool: pool}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/timeline", h.timeline)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	identity := shared.IdentityFromContext(r.Context())
	if identity == nil {
		httpx.Fail(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if !identity.IsManagerTier() {
		httpx.RespondError(w, fmt.Errorf("%w: audit timeline requires a manager role", shared.ErrUnauthorized))
		return
	}

	q := r.URL.Query()
	filters := TimelineFilters{
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
		ActionCode: q.Get("actionCode"),
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("pageSize"))
	if raw := q.Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filters.From = t
		}
	}
	if raw := q.Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filters.To = t
		}
	}

	entries, err := Timeline(r.Context(), h.pool, filters)
	if err != nil {
		h.logger.Error("audit timeline query failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, map[string]any{"entries": entries})
}
