// Package router assembles the HTTP surface of the forensic-bot backend: a
// single chat-platform webhook plus a small ops-console API for audit and
// queue reconciliation, injected as a Dependencies struct into chi route
// groups. The surface is deliberately small: end users never call this API
// directly, they only ever talk to the chat platform.
package router

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/forensicbot/core/internal/handler"
	"github.com/forensicbot/core/internal/middleware"
	"github.com/forensicbot/core/internal/service"
)

// Dependencies holds every injected collaborator the router wires into a
// handler or middleware.
type Dependencies struct {
	DB                 handler.DBPinger
	AuthService        *service.AuthService
	Version            string
	Metrics            *middleware.Metrics
	MetricsReg         *prometheus.Registry
	InternalAuthSecret string
	FrontendURL        string

	Webhook        handler.WebhookDeps
	WebhookPath    string // e.g. "/webhook/<telegram-bot-token>" — unguessable by design
	Users          handler.UsageGetter
	Queue          handler.DeadLetterLister
	Audit          handler.AuditDeps
	AdminMigrate   handler.AdminMigrateDeps

	GeneralRateLimiter *middleware.RateLimiter // in-memory fallback limiter for the ops API, nil disables it
}

// New builds the chi.Mux.
func New(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Logging)
	if deps.Metrics != nil {
		r.Use(middleware.Monitoring(deps.Metrics))
	}

	// Public: health and metrics probes.
	r.Get("/api/health", handler.Health(deps.DB, deps.Version))
	if deps.MetricsReg != nil {
		r.Handle("/metrics", middleware.MetricsHandler(deps.MetricsReg))
	}

	// Public: the chat-platform webhook. Its own path (an unguessable
	// per-bot-token suffix) is its authentication — the platform does not
	// support bearer tokens on inbound webhook calls.
	webhookPath := deps.WebhookPath
	if webhookPath == "" {
		webhookPath = "/webhook"
	}
	r.Post(webhookPath, handler.Webhook(deps.Webhook))

	// Internal-auth-only: called by the deploy pipeline, never by a browser.
	r.Post("/api/admin/migrate", internalAuthOnly(deps.InternalAuthSecret, handler.AdminMigrate(deps.AdminMigrate)))

	// Ops console: internal-service-or-Firebase auth, CORS-scoped to the
	// console's own frontend origin.
	r.Group(func(r chi.Router) {
		r.Use(middleware.CORS(deps.FrontendURL))
		r.Use(middleware.InternalOrFirebaseAuth(deps.AuthService, deps.InternalAuthSecret))
		if deps.GeneralRateLimiter != nil {
			r.Use(middleware.RateLimit(deps.GeneralRateLimiter))
		}

		r.Get("/api/usage", handler.Usage(deps.Users))
		r.Get("/api/admin/jobs/dead-letter", handler.DeadLetterJobs(deps.Queue))
		r.Get("/api/audit", handler.ListAudit(deps.Audit))
		r.Get("/api/audit/export", handler.ExportAudit(deps.Audit))
	})

	return r
}

// internalAuthOnly gates a handler behind the X-Internal-Auth header shared
// secret — used for endpoints the deploy pipeline calls directly, with no
// user session at all.
func internalAuthOnly(secret string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Internal-Auth")
		if secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	}
}
