package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dasmlab/fukidashi/pkg/service"
)

const (
	// DefaultMaxUploadBytes bounds image uploads.
	DefaultMaxUploadBytes = 20 << 20
	// DefaultPollInterval is how often the SSE stream checks a job.
	DefaultPollInterval = time.Second
)

// Options configures an HTTPServer.
type Options struct {
	Port           int
	MaxUploadBytes int64
	PollInterval   time.Duration
	Logger         *logrus.Logger
}

// HTTPServer exposes the pipeline, asynchronous jobs, health and metrics
// over HTTP.
type HTTPServer struct {
	pipeline     *service.Pipeline
	jobs         *service.JobQueue
	logger       *logrus.Logger
	port         int
	maxUpload    int64
	pollInterval time.Duration
	srv          *http.Server
}

// NewHTTPServer creates a new HTTP server.
func NewHTTPServer(pipeline *service.Pipeline, jobs *service.JobQueue, opts Options) *HTTPServer {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	return &HTTPServer{
		pipeline:     pipeline,
		jobs:         jobs,
		logger:       opts.Logger,
		port:         opts.Port,
		maxUpload:    opts.MaxUploadBytes,
		pollInterval: opts.PollInterval,
	}
}

// Handler returns the router with every route attached.
func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", s.Attach)

	return r
}

// Attach registers the API routes on r.
func (s *HTTPServer) Attach(r chi.Router) {
	r.Get("/providers", s.handleProviders)

	r.Post("/translate", s.handleTranslate)
	r.Post("/recognize", s.handleRecognize)

	r.Post("/jobs", s.handleCreateJob)
	r.Get("/jobs/{id}", s.handleJobStatus)
	r.Get("/jobs/{id}/events", s.handleJobEvents)
	r.Get("/jobs/{id}/export", s.handleJobExport)
}

// Start serves until Shutdown is called.
func (s *HTTPServer) Start() error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.WithFields(logrus.Fields{
		"port": s.port,
	}).Info("Starting HTTP server")

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"remote":      r.RemoteAddr,
			"duration_ms": time.Since(startTime).Milliseconds(),
		}).Debug("HTTP request")
	})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJson(w, map[string]string{
		"status": "healthy",
	})
}
