package api

import (
	"encoding/json"
	"time"

	"github.com/adclip/adclip/internal/catalog"
	"github.com/adclip/adclip/internal/session"
	"github.com/adclip/adclip/internal/transcript"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State       string               `json:"state"`
	LastError   string               `json:"last_error,omitempty"`
	JobsRunning int                  `json:"jobs_running"`
	JobsActive  int                  `json:"jobs_active"`
	ActiveJob   *JobResponse         `json:"active_job,omitempty"`
	Sessions    int                  `json:"sessions"`
	Tools       *ToolsStatusResponse `json:"tools,omitempty"`
}

type ToolsStatusResponse struct {
	HasSpeech   bool   `json:"has_speech"`
	HasShots    bool   `json:"has_shots"`
	HasRender   bool   `json:"has_render"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
	DepsAvail   int    `json:"deps_available"`
	DepsTotal   int    `json:"deps_total"`
}

type RunnerStateResponse struct {
	Paused bool `json:"paused"`
}

type VideoResponse struct {
	ID          string `json:"id"`
	FullPath    string `json:"full_path"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	CreatedAt   string `json:"created_at"`
}

type VideosResponse struct {
	Videos []VideoResponse `json:"videos"`
}

type URLResponse struct {
	URL string `json:"url"`
}

type JobResponse struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	VideoPath string          `json:"video_path,omitempty"`
	Progress  int             `json:"progress"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

// CallableResponse wraps every /functions reply.
type CallableResponse struct {
	Result any `json:"result"`
}

type SummarizeResponse struct {
	SummarizedTranscript []transcript.Line `json:"summarized_transcript"`
}

type SelectTopicLinesRequest struct {
	TranscriptWithTopics transcript.TopicGroups `json:"transcript_with_topics"`
}

// CutVideoRequest is a cut request that may run as a background job.
type CutVideoRequest struct {
	catalog.CutRequest
	Async bool `json:"async,omitempty"`
}

type JobAcceptedResponse struct {
	JobID string `json:"job_id"`
}

type CreateSessionRequest struct {
	FullPath string            `json:"full_path"`
	Settings *session.Settings `json:"settings,omitempty"`
}

type SessionsResponse struct {
	Sessions []session.State `json:"sessions"`
}

type ReviewTranscriptRequest struct {
	Transcript []transcript.Line `json:"transcript"`
}

type CheckLineRequest struct {
	Topic      string `json:"topic"`
	LineNumber int    `json:"line_number"`
	Checked    bool   `json:"checked"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func VideoToResponse(v *catalog.Video) VideoResponse {
	return VideoResponse{
		ID:          v.ID,
		FullPath:    v.Path,
		Name:        v.Filename,
		ContentType: v.ContentType,
		Size:        v.Size,
		CreatedAt:   v.CreatedAt.Format(time.RFC3339),
	}
}

func JobToResponse(j *catalog.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Type:      j.Type,
		Status:    j.Status,
		VideoPath: j.VideoPath,
		Progress:  j.Progress,
		Result:    j.Result,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
}
