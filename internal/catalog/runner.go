package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/adclip/adclip/internal/logging"
)

// Runner polls the jobs table and executes pending jobs one at a time.
type Runner struct {
	service      *Service
	repo         Repository
	logger       *slog.Logger
	pollInterval time.Duration
	running      atomic.Bool
	paused       atomic.Bool
}

func NewRunner(service *Service, repo Repository, logger *slog.Logger) *Runner {
	return &Runner{
		service:      service,
		repo:         repo,
		logger:       logger,
		pollInterval: 2 * time.Second,
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	defer r.running.Store(false)

	r.logger.Info("job runner started", "poll_interval", r.pollInterval)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.processNextJob(ctx)
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

func (r *Runner) processNextJob(ctx context.Context) {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	job := jobs[0]
	logger := logging.WithJobID(r.logger, job.ID).With("type", job.Type)
	logger.Info("processing job")

	switch job.Type {
	case JobTypeCutVideo:
		if err := r.runCut(ctx, job); err != nil {
			logger.Error("cut job failed", "error", err)
			r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, truncateStr(err.Error(), 512))
			return
		}
		logger.Info("cut job completed")
	default:
		logger.Warn("unknown job type")
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "unknown job type")
	}
}

func (r *Runner) runCut(ctx context.Context, job *Job) error {
	var req CutRequest
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := r.repo.UpdateJobStatus(ctx, job.ID, JobStatusRunning, ""); err != nil {
		return err
	}

	res, err := r.service.CutVideo(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return errors.New("cancelled")
		}
		return err
	}

	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	if err := r.repo.SetJobResult(ctx, job.ID, raw); err != nil {
		return err
	}
	r.repo.UpdateJobProgress(ctx, job.ID, 100)
	return r.repo.UpdateJobStatus(ctx, job.ID, JobStatusCompleted, "")
}

// ProcessPending runs every pending job synchronously. Used by the CLI and
// tests.
func (r *Runner) ProcessPending(ctx context.Context) int {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return 0
	}
	for range jobs {
		r.processNextJob(ctx)
	}
	return len(jobs)
}

func (r *Runner) GetActiveJobCount(ctx context.Context) int {
	jobs, err := r.repo.ListJobs(ctx, 100)
	if err != nil {
		return 0
	}
	count := 0
	for _, j := range jobs {
		if j.Status == JobStatusRunning || j.Status == JobStatusPending {
			count++
		}
	}
	return count
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
