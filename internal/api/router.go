package api

import (
	"net/http"

	"github.com/arencloud/bucketwarden/internal/config"
	"github.com/arencloud/bucketwarden/internal/db"
	"github.com/arencloud/bucketwarden/internal/deletion"
	"github.com/arencloud/bucketwarden/internal/logging"
	"github.com/arencloud/bucketwarden/internal/metrics"
	"github.com/arencloud/bucketwarden/internal/middleware"
	"github.com/arencloud/bucketwarden/internal/storage"
	"github.com/arencloud/bucketwarden/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	cfg    *config.Config
	logger logging.Logger
	gw     storage.Gateway
	orch   *deletion.Orchestrator
	store  *db.Store // nil disables the catalog and trace persistence
	traces *traceStore
	auth   *tokenAuth
}

// NewServer wires the handlers. store may be nil.
func NewServer(cfg *config.Config, logger logging.Logger, gw storage.Gateway, store *db.Store) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		gw:     gw,
		orch:   deletion.New(gw, cfg.AccountID, logger),
		store:  store,
		traces: newTraceStore(1000),
		auth:   newTokenAuth(cfg.AdminTokenHash),
	}
}

// Router builds the full HTTP handler.
func Router(cfg *config.Config, logger logging.Logger, gw storage.Gateway, store *db.Store) http.Handler {
	return NewServer(cfg, logger, gw, store).Handler()
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler { return middleware.Recoverer(next, s.logger) })
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-Trace-Id", "ETag"},
	}))
	r.Use(metrics.HTTP)
	r.Use(s.tracing)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) })
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"name": "bucketwarden", "version": version.Version})
		})
		r.Route("/v1", s.registerAPI)
	})
	return r
}

func (s *Server) registerAPI(r chi.Router) {
	limiter := middleware.RateLimit(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst, s.logger)

	r.Get("/provider", s.providerInfo)
	r.Get("/traces", s.traceRecent)
	r.Get("/traces/{id}", s.traceGet)
	r.Get("/logs", logsRecent)
	r.Get("/logs/stream", logsStream)
	r.Get("/logs/level", logsGetLevel)

	r.Get("/buckets", s.listBuckets)
	r.Get("/buckets/catalog", s.bucketCatalog)
	r.Get("/buckets/{name}/size", s.bucketSize)
	r.Get("/buckets/{name}/access-points", s.accessPoints)
	r.Get("/buckets/{name}/objects", s.listObjects)
	r.Get("/buckets/{name}/objects/download", s.downloadObject)
	r.Get("/buckets/{name}/objects/meta", s.headObject)
	r.Head("/buckets/{name}/objects/meta", s.headObject)

	// mutating routes
	r.Group(func(gr chi.Router) {
		gr.Use(limiter, s.auth.require)
		gr.Put("/logs/level", logsSetLevel)
		gr.Post("/buckets", s.createBucket)
		gr.Delete("/buckets/{name}", s.deleteBucket)
		gr.Post("/buckets/{name}/objects", s.uploadObject)
		gr.Delete("/buckets/{name}/objects", s.deleteObject)
		gr.Post("/buckets/{name}/objects/batch-delete", s.batchDelete)
		gr.Post("/buckets/{name}/presign", s.presign)
	})
}
