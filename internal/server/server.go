// Package server exposes a playback session over HTTP. It implements a JSON
// control API, serves finished downloads with HTTP Range support and streams
// state snapshots and lifecycle events to the presentation layer over a
// WebSocket, which in turn reports media element events back. Routing uses
// chi/v5 with CORS support.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opd-ai/go-strata/internal/core"
	"github.com/opd-ai/go-strata/internal/storage"
	"github.com/opd-ai/go-strata/pkg/config"
)

// Server represents the HTTP bridge between a Player and its presentation
// layer.
type Server struct {
	config     *config.ServerConfig
	logger     *slog.Logger
	player     *core.Player
	storage    *storage.Manager
	files      *storage.FileManager
	hub        *hub
	httpServer *http.Server
	router     chi.Router
	detach     []func()
}

// New creates a server for player. Download history comes from store and
// saved files are served from files. The server starts relaying state and
// events to WebSocket clients immediately.
func New(cfg *config.ServerConfig, player *core.Player, store *storage.Manager, files *storage.FileManager, logger *slog.Logger) *Server {
	s := &Server{
		config:  cfg,
		logger:  logger,
		player:  player,
		storage: store,
		files:   files,
		hub:     newHub(logger),
	}

	player.SetDownloadLink(func(id string) string {
		return "/files/" + url.PathEscape(id)
	})

	s.router = chi.NewRouter()
	s.setupMiddleware()
	s.setupRoutes()
	s.attach()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures the middleware stack for the router.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware())
	s.router.Use(middleware.Recoverer)

	if s.config.EnableCompression {
		s.router.Use(middleware.Compress(5))
	}

	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/state", s.handleState)
		r.Post("/load", s.handleLoad)
		r.Post("/play", s.handlePlay)
		r.Post("/pause", s.handlePause)
		r.Post("/seek", s.handleSeek)
		r.Post("/volume", s.handleVolume)
		r.Post("/rate", s.handleRate)
		r.Post("/quality", s.handleQuality)
		r.Post("/audio-track", s.handleAudioTrack)

		r.Route("/subtitles", func(r chi.Router) {
			r.Post("/", s.handleAddSubtitle)
			r.Post("/select", s.handleSelectSubtitle)
			r.Post("/offset", s.handleSubtitleOffset)
			r.Post("/settings", s.handleSubtitleSettings)
		})

		r.Route("/notifications/{id}", func(r chi.Router) {
			r.Post("/action", s.handleNotificationAction)
			r.Delete("/", s.handleDismissNotification)
		})

		r.Route("/downloads", func(r chi.Router) {
			r.Get("/", s.handleActiveDownloads)
			r.Post("/", s.handleStartDownload)
			r.Get("/history", s.handleDownloadHistory)
			r.Get("/stats", s.handleDownloadStats)
			r.Delete("/{id}", s.handleDeleteDownload)
		})
	})

	// Saved downloads with Range support
	s.router.Get("/files/{id}", s.handleFile)

	s.router.Get("/ws", s.handleWebSocket)
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		"address", s.httpServer.Addr,
		"read_timeout", s.config.ReadTimeout,
		"write_timeout", s.config.WriteTimeout)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			s.Stop()
			return fmt.Errorf("failed to serve HTTP: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop detaches from the player, disconnects WebSocket clients and
// gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP server")

	for _, fn := range s.detach {
		fn()
	}
	s.detach = nil
	s.hub.closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Error shutting down HTTP server", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped successfully")
	return nil
}

// loggingMiddleware creates a structured logging middleware for HTTP requests.
func (s *Server) loggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			s.logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"ip", r.RemoteAddr,
			)
		})
	}
}
