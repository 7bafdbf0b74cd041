// Package server exposes the grid, tile and cache-administration HTTP API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plume-labs/plume/internal/config"
	"github.com/plume-labs/plume/internal/engine"
	"github.com/plume-labs/plume/internal/model"
	"github.com/plume-labs/plume/internal/tile"
)

// ReadingsProvider supplies the harmonized raw readings covering a bbox at
// a timestamp. It is the server's upstream collaborator; a zero timestamp
// means "latest".
type ReadingsProvider interface {
	Readings(ctx context.Context, bbox model.BBox, ts time.Time) ([]model.RawReading, error)
}

// Server wires the engine and tile encoder behind chi routes.
type Server struct {
	engine   *engine.Engine
	readings ReadingsProvider
	tileOpts tile.Options
	cfg      config.ServerConfig
	logger   *zap.Logger
}

// New builds a Server.
func New(eng *engine.Engine, readings ReadingsProvider, tileOpts tile.Options, cfg config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.L()
	}
	return &Server{engine: eng, readings: readings, tileOpts: tileOpts, cfg: cfg, logger: logger}
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/tiles/{method}/{z}/{x}/{y}.mvt", s.handleTile)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/grid", s.handleGrid)
		r.Get("/resolutions", s.handleResolutions)
		r.Get("/cache/stats", s.handleCacheStats)
		r.Post("/cache/invalidate", s.handleCacheInvalidate)
	})

	return r
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting server", zap.Int("port", s.cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// requestLogger tags each request with an id and logs its outcome.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.New().String()
		w.Header().Set("X-Request-ID", reqID)
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
