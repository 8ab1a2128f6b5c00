// Package server provides the HTTP API for pdfquery.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/hyperjump/pdfquery/internal/answer"
	"github.com/hyperjump/pdfquery/internal/config"
	"github.com/hyperjump/pdfquery/internal/identity"
	"github.com/hyperjump/pdfquery/internal/storage"
	"github.com/hyperjump/pdfquery/internal/upload"
)

// Server is the HTTP server for the pdfquery API.
type Server struct {
	registry *Registry
	pipeline *upload.Pipeline
	resolver *identity.Resolver
	store    storage.Store
	gen      answer.Generator
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	registry *Registry,
	pipeline *upload.Pipeline,
	resolver *identity.Resolver,
	store storage.Store,
	gen answer.Generator,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		registry: registry,
		pipeline: pipeline,
		resolver: resolver,
		store:    store,
		gen:      gen,
		config:   cfg,
		logger:   logger,
	}
}

// Router returns the HTTP handler with all routes and middleware.
func (s *Server) Router() http.Handler {
	timeout := s.config.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.resolver.Middleware)

		// Streams are long-lived and must not be buffered or cut off.
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout))
			r.Use(middleware.Compress(5))

			r.Get("/status", s.handleStatus)
			r.Get("/documents", s.handleListDocuments)
			r.Post("/documents", s.handleUpload)
			r.Delete("/documents", s.handleClearAll)
			r.Get("/documents/{id}", s.handleGetDocument)
			r.Get("/documents/{id}/content", s.handleGetContent)
			r.Put("/active", s.handleSelect)
			r.Post("/chat", s.handleChat)
		})
	})

	if len(s.config.Server.CORSOrigins) == 0 {
		return r
	}
	return cors.New(cors.Options{
		AllowedOrigins:   s.config.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID"},
		AllowCredentials: true,
	}).Handler(r)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr), zap.String("provider", s.gen.Name()))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
