package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/adclip/adclip/internal/catalog"
	"github.com/adclip/adclip/internal/llm"
	"github.com/adclip/adclip/internal/pipelines"
	"github.com/adclip/adclip/internal/session"
	"github.com/adclip/adclip/internal/storage"
	"github.com/adclip/adclip/internal/summary"
	"github.com/adclip/adclip/internal/topics"
	"github.com/adclip/adclip/internal/transcript"
)

// maxCallableBody bounds JSON request bodies. Transcripts of long videos
// with word timings run to a few megabytes.
const maxCallableBody = 32 << 20

// decodeCallable reads a JSON body that is either {"data": {...}} or the
// bare object.
func decodeCallable(w http.ResponseWriter, r *http.Request, v any) error {
	if !contentTypeIs(r, "application/json") {
		return fmt.Errorf("%w: content type must be application/json", catalog.ErrInvalidRequest)
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallableBody))
	if err != nil {
		return fmt.Errorf("%w: %v", catalog.ErrInvalidRequest, err)
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if d := bytes.TrimSpace(env.Data); len(d) > 0 && d[0] == '{' {
			body = d
		}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: invalid request body", catalog.ErrInvalidRequest)
	}
	return nil
}

func writeResult(w http.ResponseWriter, status int, result any) {
	WriteJSON(w, status, CallableResponse{Result: result})
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, cfg ServerConfig, err error) {
	var apiErr *llm.APIError
	switch {
	case errors.Is(err, catalog.ErrInvalidRequest), errors.Is(err, session.ErrNothingToRender):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, session.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, session.ErrBusy):
		WriteError(w, http.StatusConflict, err.Error(), "BUSY")
	case errors.Is(err, summary.ErrResponseBlocked):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "RESPONSE_BLOCKED")
	case errors.Is(err, pipelines.ErrToolsUnavailable):
		WriteError(w, http.StatusServiceUnavailable, err.Error(), "TOOLS_UNAVAILABLE")
	case errors.As(err, &apiErr):
		cfg.Logger.Error("llm provider error", "error", err)
		WriteError(w, http.StatusBadGateway, "language model request failed", "UPSTREAM_ERROR")
	default:
		cfg.Logger.Error("request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

func transcribeVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req catalog.TranscribeRequest
		if err := decodeCallable(w, r, &req); err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		res, err := cfg.Catalog.TranscribeVideo(r.Context(), req)
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		writeResult(w, http.StatusOK, res)
	}
}

func summarizeTranscriptHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req summary.Request
		if err := decodeCallable(w, r, &req); err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		if len(req.Transcript) == 0 {
			WriteError(w, http.StatusBadRequest, "transcript is required", "BAD_REQUEST")
			return
		}
		if req.MinDuration > 0 && req.MaxDuration > 0 && req.MinDuration > req.MaxDuration {
			WriteError(w, http.StatusBadRequest, "min_duration must not exceed max_duration", "BAD_REQUEST")
			return
		}
		res, err := cfg.Summarizer.SummarizeByDuration(r.Context(), req)
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		writeResult(w, http.StatusOK, SummarizeResponse{SummarizedTranscript: res.SummarizedTranscript})
	}
}

func summarizeByTopicHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req topics.Request
		if err := decodeCallable(w, r, &req); err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		if len(req.Transcript) == 0 {
			WriteError(w, http.StatusBadRequest, "transcript is required", "BAD_REQUEST")
			return
		}
		groups, err := cfg.Grouper.SummarizeByTopic(r.Context(), req)
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		if groups == nil {
			groups = transcript.TopicGroups{}
		}
		writeResult(w, http.StatusOK, groups)
	}
}

func selectTopicLinesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectTopicLinesRequest
		if err := decodeCallable(w, r, &req); err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		writeResult(w, http.StatusOK, SummarizeResponse{
			SummarizedTranscript: topics.SelectTopicLines(req.TranscriptWithTopics),
		})
	}
}

// cutVideoHandler renders synchronously, or queues a cut_video job and
// answers 202 when the request sets async.
func cutVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CutVideoRequest
		if err := decodeCallable(w, r, &req); err != nil {
			writeServiceError(w, cfg, err)
			return
		}

		if req.Async {
			job, err := cfg.Catalog.EnqueueCut(r.Context(), req.CutRequest)
			if err != nil {
				writeServiceError(w, cfg, err)
				return
			}
			writeResult(w, http.StatusAccepted, JobAcceptedResponse{JobID: job.ID})
			return
		}

		res, err := cfg.Catalog.CutVideo(r.Context(), req.CutRequest)
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		writeResult(w, http.StatusOK, res)
	}
}

func addWatermarkHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req catalog.WatermarkRequest
		if err := decodeCallable(w, r, &req); err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		res, err := cfg.Catalog.AddWatermark(r.Context(), req)
		if err != nil {
			writeServiceError(w, cfg, err)
			return
		}
		writeResult(w, http.StatusOK, res)
	}
}
