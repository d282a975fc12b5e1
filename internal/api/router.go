// Package api exposes the HTTP interface: document upload and viewing, the
// Dify workflow relay and the MCP tool server.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/mdpress/internal/dify"
	"github.com/kalambet/mdpress/internal/generate"
	"github.com/kalambet/mdpress/internal/metrics"
	"github.com/kalambet/mdpress/internal/render"
	"github.com/kalambet/mdpress/internal/storage"
)

// HistoryStore records and lists article generations.
type HistoryStore interface {
	SaveGeneration(ctx context.Context, g storage.Generation) error
	ListGenerations(ctx context.Context, limit, offset int) ([]storage.Generation, error)
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Documents storage.DocumentStore
	History   HistoryStore // optional; nil disables history
	Renderer  *render.Renderer
	Dify      *dify.Client
	Generator *generate.Generator

	APIKey        string
	DifyAPIKey    string
	ArticleAPIKey string

	// PublicURL is the origin for view links; empty derives it from the request.
	PublicURL      string
	DocumentTTL    time.Duration
	RequestTimeout time.Duration
	RateLimit      RateLimitConfig

	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// NewRouter builds the service's HTTP handler.
func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Content-Type", apiKeyHeader, "X-Template", "X-Title"},
		ExposedHeaders:     []string{generationIDHeader},
		MaxAge:             300,
		OptionsPassthrough: true,
	}))
	r.Use(preflight)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "未找到请求的资源。")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "未找到请求的资源。")
	})

	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/health", handleHealth)
	r.Get("/status", handleStatus(deps))
	r.Get("/templates", handleTemplates(deps))
	r.Get("/view/{id}", handleView(deps))
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(deps.RateLimit))

		r.With(APIKeyAuth(deps.APIKey)).Post("/upload", handleUpload(deps))
		r.Post("/api/dify/generate", handleGenerateFromURL(deps))
		r.Get("/api/dify/generateArticle", handleGenerateArticle(deps))
		r.With(APIKeyAuth(deps.APIKey)).Get("/api/generations", handleListGenerations(deps))
	})

	return r
}

// preflight answers every OPTIONS request with 204 once CORS headers are set.
func preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
