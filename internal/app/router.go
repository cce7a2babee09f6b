package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botica-erp/botica-erp/internal/ap"
	audithttp "github.com/botica-erp/botica-erp/internal/audit"
	"github.com/botica-erp/botica-erp/internal/auth"
	"github.com/botica-erp/botica-erp/internal/observability"
	"github.com/botica-erp/botica-erp/internal/treasury"
	"github.com/botica-erp/botica-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Sessions        *auth.SessionStore
	AuthHandler     *auth.Handler
	TreasuryHandler *treasury.Handler
	APHandler       *ap.Handler
	AuditHandler    *audithttp.Handler
	JobHandler      *jobs.Handler
	Pool            *pgxpool.Pool
	Metrics         *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(req.Context()); err != nil {
				http.Error(w, "database unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/auth", func(ar chi.Router) {
			params.AuthHandler.MountRoutes(ar)
			ar.Group(func(protected chi.Router) {
				protected.Use(auth.RequireAuth(params.Sessions, params.Logger))
				params.AuthHandler.MountProtectedRoutes(protected)
			})
		})

		api.Group(func(protected chi.Router) {
			protected.Use(auth.RequireAuth(params.Sessions, params.Logger))

			protected.Route("/treasury", params.TreasuryHandler.MountRoutes)
			protected.Route("/accounts-payable", params.APHandler.MountRoutes)
			if params.AuditHandler != nil {
				protected.Route("/audit", params.AuditHandler.MountRoutes)
			}
			if params.JobHandler != nil {
				protected.Route("/jobs", params.JobHandler.MountRoutes)
			}
		})
	})

	return r
}
