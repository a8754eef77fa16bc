// Package api exposes the categorizer and the read side of the store over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docutag/lincat/auth"
	"github.com/docutag/lincat/logger"
	"github.com/docutag/lincat/metrics"
	"github.com/docutag/lincat/models"
	"github.com/docutag/lincat/storage"
)

// Store is the read and delete side of persistence.
type Store interface {
	ListCategories(ctx context.Context, owner string) ([]models.CategoryWithLinks, error)
	SearchLinks(ctx context.Context, owner, q string) ([]models.SearchResult, error)
	GetLink(ctx context.Context, owner, id string) (*models.Link, error)
	DeleteCategory(ctx context.Context, owner, id string) error
	DeleteLink(ctx context.Context, owner, id string) error
	Count(ctx context.Context, owner string) (int, error)
	Ping(ctx context.Context) error
}

// Categorizer runs the categorization pipeline.
type Categorizer interface {
	Categorize(ctx context.Context, owner, input string) (*models.LinkView, error)
}

// Config contains server configuration
type Config struct {
	Addr              string
	CORSEnabled       bool
	CORSOrigin        string
	CategorizeTimeout time.Duration
	RateLimit         RateLimitConfig
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		CORSEnabled:       true,
		CORSOrigin:        "*",
		CategorizeTimeout: 45 * time.Second,
		RateLimit:         RateLimitConfig{Burst: 10, RefillPerMin: 30},
	}
}

// Deps are the collaborators handlers use. Archive and Verifier may be nil:
// without an archive exports are disabled, without a verifier every request
// belongs to models.LocalOwner.
type Deps struct {
	Store       Store
	Categorizer Categorizer
	Archive     storage.Archive
	Verifier    *auth.Verifier
	Logger      logger.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time // defaults to time.Now
}

// Server represents the API server
type Server struct {
	deps    Deps
	config  Config
	log     logger.Logger
	handler http.Handler
	server  *http.Server
}

// NewServer builds the router and the underlying http.Server.
func NewServer(config Config, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("api: store is required")
	}
	if deps.Categorizer == nil {
		return nil, errors.New("api: categorizer is required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if config.CategorizeTimeout <= 0 {
		config.CategorizeTimeout = DefaultConfig().CategorizeTimeout
	}

	s := &Server{
		deps:   deps,
		config: config,
		log:    deps.Logger,
	}
	s.handler = s.routes()

	s.server = &http.Server{
		Addr:              config.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Categorize may wait on the page fetch and the model in sequence.
		WriteTimeout: config.CategorizeTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.config.CORSEnabled {
		r.Use(cors(s.config.CORSOrigin))
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(accessLog(s.log))
		r.Use(auth.Middleware(s.deps.Verifier, s.respondAuthError))
		r.Use(recordOwner)

		r.With(rateLimit(newLimiter(s.config.RateLimit, s.deps.Now))).
			Post("/categorize", s.handleCategorize)
		r.Get("/categories", s.handleListCategories)
		r.Delete("/categories/{id}", s.handleDeleteCategory)
		r.Get("/search", s.handleSearch)
		r.Get("/links/{id}", s.handleGetLink)
		r.Delete("/links/{id}", s.handleDeleteLink)
		r.Post("/export", s.handleExport)
		r.Get("/exports/*", s.handleGetExport)
		r.Delete("/exports/*", s.handleDeleteExport)

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, http.StatusNotFound, "API endpoint not found")
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		})
	})

	return otelhttp.NewHandler(r, "lincat.http")
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start runs the HTTP server (blocks until error or shutdown).
func (s *Server) Start() error {
	s.log.Infof("HTTP server listening on %s", s.server.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("HTTP server shutting down...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}
