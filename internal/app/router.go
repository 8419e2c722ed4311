package app

import (
	"database/sql"
	"net/http"
	"time"

	"omrkey/internal/answerkey"
	"omrkey/internal/app/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the HTTP API. db may be nil when answer keys are kept in
// memory; it is only used for connection-pool metrics.
func NewRouter(cfg Config, db *sql.DB, repo answerkey.Repository) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	collector := observability.NewCollector(db)
	r.Use(collector.Middleware)

	if repo == nil {
		repo = answerkey.NewMemoryRepository()
	}
	svc := answerkey.NewService(
		repo,
		answerkey.ValueValidator{StrictAlphabet: cfg.StrictAnswerAlphabet},
		answerkey.WithDefaultVariant(cfg.DefaultVariantCode),
		answerkey.WithRecorder(collector),
	)
	h := answerkey.NewHandler(svc, cfg.MaxUploadBytes())
	importLimiter := NewIPRateLimiter(cfg.ImportRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))
		api.Get("/csrf", CSRFTokenHandler(cfg.AppEnv == "production"))

		api.Post("/templates/validate", h.ValidateTemplate)
		api.Post("/templates/index", h.TemplateIndex)

		api.Post("/answer-keys/values/check", h.CheckValue)
		api.Post("/answer-keys/scores/default", h.DefaultScores)
		api.Post("/answer-keys/scores/distribute", h.DistributeScore)
		api.Post("/answer-keys/export", h.Export)
		api.Post("/answer-keys/export-blank", h.ExportBlank)
		api.With(RateLimitMiddleware(importLimiter)).Post("/answer-keys/import", h.Import)
		api.Post("/answer-keys/grade", h.Grade)

		api.Post("/exams/{code}/answer-key", h.Submit)
		api.Post("/exams/{code}/answer-key/load", h.LoadExisting)
	})

	return r
}
