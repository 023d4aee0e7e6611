package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/adclip/adclip/internal/api"
	"github.com/adclip/adclip/internal/catalog"
	"github.com/adclip/adclip/internal/config"
	"github.com/adclip/adclip/internal/logging"
	"github.com/adclip/adclip/internal/playback"
	"github.com/adclip/adclip/internal/session"
	"github.com/adclip/adclip/internal/storage"
	"github.com/adclip/adclip/internal/summary"
	"github.com/adclip/adclip/internal/topics"
	"github.com/adclip/adclip/internal/watcher"
)

const authTokenKey = "auth_token"

func serve(allowedOrigins []string) error {
	startTime := time.Now()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	logger := a.logger
	cfg := a.cfg
	logger.Info("starting adclip",
		"version", config.Version,
		"data_dir", logging.SanitizePath(cfg.DataDir()),
		"storage", cfg.Storage(),
		"llm_provider", cfg.LLMProvider(),
	)

	authToken := cfg.AuthToken()
	if authToken == "" {
		authToken, _ = a.repo.GetConfig(ctx, authTokenKey)
	}
	if authToken == "" {
		logger.Warn("no auth token configured, API is open to any caller")
	} else {
		logger.Info("bearer auth enabled", "token", logging.SanitizeToken(authToken))
	}

	initCtx, initCancel := context.WithTimeout(ctx, cfg.TimeoutDoctor())
	if caps, err := a.doctor.Refresh(initCtx); err != nil {
		logger.Warn("initial doctor probe failed", "error", err)
	} else {
		logger.Info("tool capabilities detected",
			"speech", caps.HasSpeech,
			"shots", caps.HasShots,
			"render", caps.HasRender,
			"deps", fmt.Sprintf("%d/%d", caps.Summary.Available, caps.Summary.Total),
		)
	}
	initCancel()

	gen, err := a.newGenerator(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize language model: %w", err)
	}
	summarizer := summary.New(gen, a.repo, a.repo, logging.WithComponent(logger, "summary"))
	grouper := topics.New(gen, a.repo, logging.WithComponent(logger, "topics"))
	sessions := session.NewManager(a.service, summarizer, grouper, cfg.SessionTTL(), logging.WithComponent(logger, "session"))

	runner := catalog.NewRunner(a.service, a.repo, logging.WithComponent(logger, "runner"))
	go runner.Start(ctx)

	if dir := cfg.InboxDir(); dir != "" {
		w, err := watcher.New(dir, func(ctx context.Context, path string) error {
			_, err := a.service.ImportFile(ctx, path)
			return err
		}, logging.WithComponent(logger, "watcher"), 2)
		if err != nil {
			return fmt.Errorf("failed to watch inbox: %w", err)
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("inbox watcher stopped", "error", err)
			}
		}()
	}

	var media playback.MediaServer
	if local, ok := a.bucket.(storage.Localizer); ok {
		media = playback.NewServer(local, logging.WithComponent(logger, "playback"))
	}

	apiServer := api.NewServer(api.ServerConfig{
		Addr:           fmt.Sprintf(":%d", cfg.Port()),
		Catalog:        a.service,
		Summarizer:     summarizer,
		Grouper:        grouper,
		Sessions:       sessions,
		Media:          media,
		Runner:         runner,
		Doctor:         a.doctor,
		AuthToken:      authToken,
		AllowedOrigins: allowedOrigins,
		Logger:         logger,
		StartTime:      startTime,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// ensureAuthToken returns the stored API token, generating one when none
// exists or rotate is set.
func ensureAuthToken(ctx context.Context, repo catalog.Repository, rotate bool) (string, error) {
	if !rotate {
		existing, err := repo.GetConfig(ctx, authTokenKey)
		if err == nil && existing != "" {
			return existing, nil
		}
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, authTokenKey, token); err != nil {
		return "", err
	}
	return token, nil
}
