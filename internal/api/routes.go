package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/adclip/adclip/internal/catalog"
	"github.com/adclip/adclip/internal/config"
	"github.com/adclip/adclip/internal/pipelines"
)

const maxUploadNameLen = 200

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist(cfg.AllowedOrigins))

	r.Get("/health", healthHandler(cfg))

	if cfg.Media != nil {
		r.Get("/media/*", mediaHandler(cfg))
		r.Head("/media/*", mediaHandler(cfg))
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.AuthToken, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/videos", listVideosHandler(cfg))
		r.Post("/videos", uploadVideoHandler(cfg))
		r.Get("/videos/url", videoURLHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		if cfg.Runner != nil {
			r.Post("/jobs/pause", pauseRunnerHandler(cfg, true))
			r.Post("/jobs/resume", pauseRunnerHandler(cfg, false))
		}
		if cfg.Doctor != nil {
			r.Post("/tools/refresh", refreshToolsHandler(cfg))
		}
		r.Post("/export/edl", exportEDLHandler(cfg))

		r.Route("/functions", func(r chi.Router) {
			r.Post("/transcribe_video", transcribeVideoHandler(cfg))
			r.Post("/summarize_transcript", summarizeTranscriptHandler(cfg))
			r.Post("/summarize_transcript_by_topic", summarizeByTopicHandler(cfg))
			r.Post("/select_topic_lines", selectTopicLinesHandler(cfg))
			r.Post("/cut_video", cutVideoHandler(cfg))
			r.Post("/add_watermark", addWatermarkHandler(cfg))
		})

		if cfg.Sessions != nil {
			mountSessions(r, cfg)
		}
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		jobs, _ := cfg.Catalog.ListJobs(ctx, 10)

		state := "idle"
		var activeJob *JobResponse
		jobsRunning := 0
		lastError := ""

		if cfg.Runner != nil && cfg.Runner.IsPaused() {
			state = "paused"
		}

		for _, j := range jobs {
			if j.Status == catalog.JobStatusRunning {
				state = "rendering"
				resp := JobToResponse(j)
				activeJob = &resp
				jobsRunning++
			}
			if j.Status == catalog.JobStatusFailed && lastError == "" {
				lastError = j.Error
			}
		}

		if lastError != "" && state == "idle" {
			state = "error"
		}

		resp := StatusResponse{
			State:       state,
			LastError:   lastError,
			JobsRunning: jobsRunning,
			ActiveJob:   activeJob,
		}
		if cfg.Runner != nil {
			resp.JobsActive = cfg.Runner.GetActiveJobCount(ctx)
		}
		if cfg.Sessions != nil {
			resp.Sessions = len(cfg.Sessions.List())
		}

		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				tools := toolsResponse(caps)
				resp.Tools = &tools
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func toolsResponse(caps *pipelines.Capabilities) ToolsStatusResponse {
	return ToolsStatusResponse{
		HasSpeech:   caps.HasSpeech,
		HasShots:    caps.HasShots,
		HasRender:   caps.HasRender,
		LastProbeAt: caps.ProbedAt.Format(time.RFC3339),
		DepsAvail:   caps.Summary.Available,
		DepsTotal:   caps.Summary.Total,
	}
}

// refreshToolsHandler drops the cached probe and runs the doctor again,
// e.g. after ffmpeg or the whisper model was installed.
func refreshToolsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg.Doctor.Invalidate()
		caps, err := cfg.Doctor.Get(r.Context())
		if err != nil {
			WriteError(w, http.StatusServiceUnavailable, err.Error(), "TOOLS_UNAVAILABLE")
			return
		}
		WriteJSON(w, http.StatusOK, toolsResponse(caps))
	}
}

func pauseRunnerHandler(cfg ServerConfig, pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pause {
			cfg.Runner.Pause()
		} else {
			cfg.Runner.Resume()
		}
		WriteJSON(w, http.StatusOK, RunnerStateResponse{Paused: cfg.Runner.IsPaused()})
	}
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videos, err := cfg.Catalog.ListVideos(r.Context())
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}

		resp := VideosResponse{Videos: make([]VideoResponse, len(videos))}
		for i, v := range videos {
			resp.Videos[i] = VideoToResponse(v)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// uploadVideoHandler streams the first "file" part of a multipart body
// into the bucket without buffering it in memory.
func uploadVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mr, err := r.MultipartReader()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "multipart body required", "BAD_REQUEST")
			return
		}

		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				WriteError(w, http.StatusBadRequest, "file part is required", "BAD_REQUEST")
				return
			}
			if err != nil {
				WriteError(w, http.StatusBadRequest, "invalid multipart body", "BAD_REQUEST")
				return
			}
			if part.FormName() != "file" {
				part.Close()
				continue
			}

			name := path.Base(part.FileName())
			if name == "." || name == "/" || name == "" || len(name) > maxUploadNameLen {
				WriteError(w, http.StatusBadRequest, "invalid file name", "BAD_REQUEST")
				return
			}
			if !catalog.IsVideoFile(name) {
				WriteError(w, http.StatusUnsupportedMediaType, "unsupported video type", "UNSUPPORTED_MEDIA")
				return
			}

			video, err := cfg.Catalog.UploadVideo(r.Context(), name, part)
			part.Close()
			if err != nil {
				writeServiceError(w, cfg, err)
				return
			}
			WriteJSON(w, http.StatusCreated, VideoToResponse(video))
			return
		}
	}
}

func videoURLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Query().Get("path")
		if p == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}
		url, err := cfg.Catalog.DownloadURL(r.Context(), p)
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		WriteJSON(w, http.StatusOK, URLResponse{URL: url})
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if l := r.URL.Query().Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 1 || n > 500 {
				WriteError(w, http.StatusBadRequest, "limit must be between 1 and 500", "BAD_REQUEST")
				return
			}
			limit = n
		}

		jobs, err := cfg.Catalog.ListJobs(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		job, err := cfg.Catalog.GetJob(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func mediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "*")
		if name == "" {
			WriteError(w, http.StatusBadRequest, "object path required", "BAD_REQUEST")
			return
		}
		if err := cfg.Media.ServeObject(w, r, name); err != nil {
			cfg.Logger.Error("media error", "error", err, "object", name)
		}
	}
}

// contentTypeIs reports whether the request body is declared as mediaType.
func contentTypeIs(r *http.Request, mediaType string) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(ct)
	return err == nil && mt == mediaType
}
