package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adclip/adclip/internal/catalog"
	"github.com/adclip/adclip/internal/config"
	"github.com/adclip/adclip/internal/db"
	"github.com/adclip/adclip/internal/llm"
	"github.com/adclip/adclip/internal/logging"
	"github.com/adclip/adclip/internal/media"
	"github.com/adclip/adclip/internal/pipelines"
	"github.com/adclip/adclip/internal/speech"
	"github.com/adclip/adclip/internal/storage"
)

// app holds the components shared by every command.
type app struct {
	cfg    *config.EnvConfig
	logger *slog.Logger

	database *db.DB
	repo     *catalog.SQLiteRepository
	bucket   storage.Bucket
	runner   *pipelines.SubprocessRunner
	doctor   *pipelines.CachedDoctor
	service  *catalog.Service

	closers []io.Closer
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	a := &app{cfg: cfg, logger: logger}

	a.database, err = db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, a.database)
	a.repo = catalog.NewRepository(a.database.Conn())

	a.bucket, err = openBucket(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := a.bucket.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	a.runner, err = pipelines.NewRunner(pipelines.Config{
		FFmpegPath:    cfg.FFmpegPath(),
		FFprobePath:   cfg.FFprobePath(),
		WhisperPath:   cfg.WhisperPath(),
		WhisperModel:  cfg.WhisperModel(),
		ArtifactsBase: filepath.Join(cfg.DataDir(), "artifacts"),
		DoctorTimeout: cfg.TimeoutDoctor(),
		Logger:        logging.WithComponent(logger, "tools"),
		DebugPaths:    cfg.LogLevel() == "debug",
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize tool runner: %w", err)
	}
	a.doctor = pipelines.NewCachedDoctor(a.runner, logger)

	ff := media.New(a.runner, media.DefaultTimeouts(), logging.WithComponent(logger, "media"))
	rec := speech.NewWhisper(a.runner, cfg.WhisperModel(), cfg.TimeoutSpeech(), logging.WithComponent(logger, "speech"))

	a.service = catalog.NewService(a.repo, a.bucket, ff, rec, a.doctor, catalog.ServiceConfig{
		WorkDir:            a.runner.ArtifactsDir(),
		WatermarkLandscape: cfg.WatermarkLandscape(),
		WatermarkVertical:  cfg.WatermarkVertical(),
	}, logging.WithComponent(logger, "catalog"))

	return a, nil
}

func openBucket(ctx context.Context, cfg *config.EnvConfig) (storage.Bucket, error) {
	switch cfg.Storage() {
	case config.StorageGCS:
		b, err := storage.NewGCS(ctx, cfg.GCSBucket(), cfg.GCSCredentials(), cfg.SignedURLExpiry())
		if err != nil {
			return nil, fmt.Errorf("failed to open gcs bucket: %w", err)
		}
		return b, nil
	default:
		b, err := storage.NewLocal(cfg.StorageDir(), cfg.BaseURL())
		if err != nil {
			return nil, fmt.Errorf("failed to open local storage: %w", err)
		}
		return b, nil
	}
}

// newGenerator builds the language model client for the configured
// provider.
func (a *app) newGenerator(ctx context.Context) (llm.Generator, error) {
	logger := logging.WithComponent(a.logger, "llm")
	switch a.cfg.LLMProvider() {
	case config.ProviderOpenRouter:
		if a.cfg.OpenRouterAPIKey() == "" {
			return nil, errors.New("OPENROUTER_API_KEY is required for the openrouter provider")
		}
		return llm.NewOpenRouter(a.cfg.OpenRouterURL(), a.cfg.OpenRouterAPIKey(), a.cfg.LLMModel(), logger), nil
	default:
		gen, err := llm.NewGenAI(ctx, llm.GenAIConfig{
			APIKey:       a.cfg.GeminiAPIKey(),
			Project:      a.cfg.GCPProject(),
			Location:     a.cfg.GCPLocation(),
			DefaultModel: a.cfg.LLMModel(),
		}, logger)
		if err != nil {
			return nil, err
		}
		return gen, nil
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}
