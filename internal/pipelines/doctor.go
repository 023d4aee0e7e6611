package pipelines

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// CachedDoctor caches doctor probes so request handlers can check tool
// availability without spawning subprocesses every time.
type CachedDoctor struct {
	runner Runner
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedDoctor(runner Runner, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		runner: runner,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

// Peek returns the last probe without running a new one.
func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new doctor probe regardless of cache freshness. A failed
// probe falls back to the stale result when there is one.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.runner.RunDoctor(ctx)
	if err != nil {
		d.logger.Warn("doctor probe failed", "error", err)
		if d.cached != nil {
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}

// RequireSpeech fails when transcription tools are missing.
func (d *CachedDoctor) RequireSpeech(ctx context.Context) error {
	return d.require(ctx, "speech recognition", func(c *Capabilities) bool { return c.HasSpeech })
}

// RequireRender fails when ffmpeg is missing.
func (d *CachedDoctor) RequireRender(ctx context.Context) error {
	return d.require(ctx, "video rendering", func(c *Capabilities) bool { return c.HasRender })
}

func (d *CachedDoctor) require(ctx context.Context, what string, ok func(*Capabilities) bool) error {
	caps, err := d.Get(ctx)
	if err != nil {
		return fmt.Errorf("probe tools: %w", err)
	}
	if !ok(caps) {
		return fmt.Errorf("%w: %s", ErrToolsUnavailable, what)
	}
	return nil
}
