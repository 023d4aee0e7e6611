package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/adclip/adclip/internal/catalog"
	"github.com/adclip/adclip/internal/pipelines"
	"github.com/adclip/adclip/internal/playback"
	"github.com/adclip/adclip/internal/session"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Addr       string
	Catalog    catalog.CatalogService
	Summarizer session.DurationSummarizer
	Grouper    session.TopicGrouper
	Sessions   *session.Manager
	// Media serves /media/* from the local bucket. Nil when objects are
	// fetched through signed URLs instead.
	Media          playback.MediaServer
	Runner         *catalog.Runner
	Doctor         *pipelines.CachedDoctor
	AuthToken      string
	AllowedOrigins []string
	Logger         *slog.Logger
	StartTime      time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			// Transcription and rendering calls run for minutes.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
