package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pkfitzVT/event-stock-response/pkg/eventstudy"
)

// Options tunes the router.
type Options struct {
	// AllowedOrigins defaults to "*".
	AllowedOrigins []string
	// SecureCookie marks the session cookie Secure.
	SecureCookie bool
}

// NewRouter builds the HTTP API router.
func NewRouter(core *eventstudy.Core, opts ...Options) http.Handler {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	origins := o.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	logger := slog.Default()
	if core != nil {
		logger = core.Logger()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Compress(5))
	r.Use(requestLoggingMiddleware(logger))
	r.Use(recoveryLoggingMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", sessionHeader, userHeader},
		ExposedHeaders:   []string{sessionHeader},
		AllowCredentials: true,
	}))

	h := &handler{core: core, logger: logger}

	r.Get("/api/health", h.health)

	// Wizard
	r.Group(func(r chi.Router) {
		r.Use(sessionMiddleware(o.SecureCookie))
		r.Get("/api/wizard", h.getWizard)
		r.Post("/api/wizard/topic", h.submitTopic)
		r.Post("/api/wizard/dates", h.confirmDates)
		r.Post("/api/wizard/stocks", h.submitStocks)
	})

	// Analyses
	r.Get("/api/analyses", h.listAnalyses)
	r.Get("/api/analyses/{id}", h.getAnalysis)

	// Operation logs
	r.Get("/api/operation-logs", h.getOperationLogs)

	return r
}

type handler struct {
	core   *eventstudy.Core
	logger *slog.Logger
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
