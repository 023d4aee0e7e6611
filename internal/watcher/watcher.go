// Package watcher imports video files dropped into an inbox directory.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/adclip/adclip/internal/catalog"
)

// ImportedDir is the inbox subdirectory files are moved to once imported.
const ImportedDir = "imported"

// Handler imports one file.
type Handler func(ctx context.Context, path string) error

type Watcher interface {
	Run(ctx context.Context) error
	Stop() error
}

// InboxWatcher hands new video files in dir to a Handler, at most
// maxConcurrent at a time, and moves them to dir/imported afterwards.
type InboxWatcher struct {
	dir     string
	handler Handler
	logger  *slog.Logger
	fsw     *fsnotify.Watcher

	// settle is how long a file's size must stay unchanged before import.
	settle time.Duration

	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	inFlight map[string]bool
}

func New(dir string, handler Handler, logger *slog.Logger, maxConcurrent int) (*InboxWatcher, error) {
	if err := os.MkdirAll(filepath.Join(dir, ImportedDir), 0755); err != nil {
		return nil, fmt.Errorf("create inbox: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("add watch path: %w", err)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &InboxWatcher{
		dir:      dir,
		handler:  handler,
		logger:   logger,
		fsw:      fsw,
		settle:   500 * time.Millisecond,
		sem:      make(chan struct{}, maxConcurrent),
		inFlight: make(map[string]bool),
	}, nil
}

// Run imports files already waiting in the inbox, then watches for new
// ones until ctx is cancelled. In-progress imports are awaited on return.
func (w *InboxWatcher) Run(ctx context.Context) error {
	w.logger.Info("inbox watcher started", "dir", w.dir)
	defer w.wg.Wait()

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read inbox: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.dispatch(ctx, filepath.Join(w.dir, e.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("inbox watcher stopped")
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watcher events channel closed")
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.dispatch(ctx, event.Name)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watcher errors channel closed")
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *InboxWatcher) Stop() error {
	return w.fsw.Close()
}

func (w *InboxWatcher) dispatch(ctx context.Context, path string) {
	if !catalog.IsVideoFile(path) {
		w.logger.Debug("ignoring non-video file", "path", path)
		return
	}
	w.mu.Lock()
	if w.inFlight[path] {
		w.mu.Unlock()
		return
	}
	w.inFlight[path] = true
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.inFlight, path)
			w.mu.Unlock()
		}()

		select {
		case w.sem <- struct{}{}:
			defer func() { <-w.sem }()
		case <-ctx.Done():
			return
		}
		w.importFile(ctx, path)
	}()
}

func (w *InboxWatcher) importFile(ctx context.Context, path string) {
	if err := waitStable(ctx, path, w.settle); err != nil {
		if !errors.Is(err, os.ErrNotExist) && ctx.Err() == nil {
			w.logger.Warn("inbox file not readable", "path", path, "error", err)
		}
		return
	}
	if err := w.handler(ctx, path); err != nil {
		w.logger.Error("import failed", "path", path, "error", err)
		return
	}
	dst := filepath.Join(w.dir, ImportedDir, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		w.logger.Warn("failed to move imported file", "path", path, "error", err)
		return
	}
	w.logger.Info("inbox file imported", "path", path)
}

// waitStable returns once the file size is unchanged across one interval.
func waitStable(ctx context.Context, path string, interval time.Duration) error {
	last := int64(-1)
	for {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.Size() == last {
			return nil
		}
		last = info.Size()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
