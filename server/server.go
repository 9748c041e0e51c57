// Package server exposes the HTTP API: uploads, segmentation, restoration,
// lifecycle control, and project export.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"layerforge/lifecycle"
	"layerforge/logging"
	"layerforge/restoration"
	"layerforge/segmentation"
	"layerforge/storage"
)

// Config tunes the HTTP server.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// MaxUploadBytes bounds accepted image uploads.
	MaxUploadBytes int64
	// AllowedOrigins for CORS; empty allows all.
	AllowedOrigins []string
}

// DefaultConfig returns production defaults. Write timeout is generous
// because diffusion runs synchronously inside request handlers.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8000,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Minute,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MaxUploadBytes:  64 << 20,
	}
}

// Server wires storage, segmentation, restoration, and lifecycle management
// behind the REST API.
type Server struct {
	config     Config
	httpServer *http.Server
	router     chi.Router

	store     *storage.Store
	segmenter *segmentation.Segmenter
	pipeline  *restoration.Pipeline
	manager   *lifecycle.Manager
	logger    *logging.Logger
}

// New builds the server and mounts all routes.
func New(config Config, store *storage.Store, segmenter *segmentation.Segmenter, pipeline *restoration.Pipeline, manager *lifecycle.Manager, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		config:    config,
		store:     store,
		segmenter: segmenter,
		pipeline:  pipeline,
		manager:   manager,
		logger:    logger,
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(metricsMiddleware)

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/images", func(r chi.Router) {
		r.Post("/", s.handleUpload)
		r.Get("/{id}", s.handleGetAsset)
		r.Post("/{id}/segment", s.handleSegment)
		r.Post("/{id}/segment_all", s.handleSegmentAll)
		r.Post("/{id}/roi_split", s.handleRoiSplit)
		r.Post("/{id}/decompose_area", s.handleDecomposeArea)
		r.Post("/{id}/export", s.handleExport)
	})
	r.Route("/assets", func(r chi.Router) {
		r.Get("/{id}", s.handleGetAsset)
		r.Get("/{id}/meta", s.handleGetAssetMeta)
		r.Delete("/{id}", s.handleDeleteAsset)
	})
	r.Post("/restore_object", s.handleRestoreObject)
	r.Post("/overlap_split", s.handleOverlapSplit)
	r.Post("/warmup", s.handleWarmup)
	r.Post("/reload_models", s.handleReloadModels)
	return r
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens until the context is canceled, then drains connections.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
