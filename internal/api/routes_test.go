package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adclip/adclip/internal/catalog"
	"github.com/adclip/adclip/internal/export"
	"github.com/adclip/adclip/internal/pipelines"
	"github.com/adclip/adclip/internal/storage"
	"github.com/adclip/adclip/internal/summary"
	"github.com/adclip/adclip/internal/topics"
	"github.com/adclip/adclip/internal/transcript"
)

type fakeCatalog struct {
	videos       []*catalog.Video
	jobs         []*catalog.Job
	uploadedName string
	uploadedBody string
	transcribe   catalog.TranscribeRequest
	cut          catalog.CutRequest
	err          error
}

func (f *fakeCatalog) ListVideos(context.Context) ([]*catalog.Video, error) {
	return f.videos, f.err
}

func (f *fakeCatalog) UploadVideo(_ context.Context, name string, body io.Reader) (*catalog.Video, error) {
	data, _ := io.ReadAll(body)
	f.uploadedName, f.uploadedBody = name, string(data)
	return &catalog.Video{ID: "v1", Path: catalog.VideosPrefix + name, Filename: name, ContentType: "video/mp4", Size: int64(len(data))}, nil
}

func (f *fakeCatalog) DownloadURL(_ context.Context, p string) (string, error) {
	if p == "videos/missing.mp4" {
		return "", fmt.Errorf("%s: %w", p, storage.ErrNotFound)
	}
	return "http://localhost:8787/media/" + p, nil
}

func (f *fakeCatalog) TranscribeVideo(_ context.Context, req catalog.TranscribeRequest) (*catalog.TranscribeResult, error) {
	f.transcribe = req
	if f.err != nil {
		return nil, f.err
	}
	lines := []transcript.Line{{Text: "hello", StartTime: 0, EndTime: 1, Duration: 1}}
	return &catalog.TranscribeResult{Transcript: lines, Original: lines, V1: lines}, nil
}

func (f *fakeCatalog) CutVideo(_ context.Context, req catalog.CutRequest) (*catalog.CutResult, error) {
	f.cut = req
	if f.err != nil {
		return nil, f.err
	}
	return &catalog.CutResult{FullPath: "output/landscape_" + req.FileName, FullPathVertical: "output/vertical_" + req.FileName}, nil
}

func (f *fakeCatalog) AddWatermark(_ context.Context, req catalog.WatermarkRequest) (*catalog.WatermarkResult, error) {
	if req.FileName == "" {
		return nil, fmt.Errorf("%w: file_name required", catalog.ErrInvalidRequest)
	}
	return &catalog.WatermarkResult{Status: "success"}, nil
}

func (f *fakeCatalog) ExportEDL(_ context.Context, req export.Request) (*export.Result, error) {
	return &export.Result{Status: "ok", FullPath: "output/" + req.ProjectName + ".edl", EventCount: len(req.Transcript)}, nil
}

func (f *fakeCatalog) EnqueueCut(_ context.Context, req catalog.CutRequest) (*catalog.Job, error) {
	f.cut = req
	job := &catalog.Job{ID: "job-1", Type: catalog.JobTypeCutVideo, Status: catalog.JobStatusPending, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	f.jobs = append(f.jobs, job)
	return job, nil
}

func (f *fakeCatalog) GetJob(_ context.Context, id string) (*catalog.Job, error) {
	for _, j := range f.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return nil, nil
}

func (f *fakeCatalog) ListJobs(_ context.Context, limit int) ([]*catalog.Job, error) {
	if len(f.jobs) > limit {
		return f.jobs[:limit], nil
	}
	return f.jobs, nil
}

type fakeSummarizer struct {
	req summary.Request
	err error
}

func (f *fakeSummarizer) SummarizeByDuration(_ context.Context, req summary.Request) (*summary.Result, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &summary.Result{SummarizedTranscript: req.Transcript[:1]}, nil
}

type fakeGrouper struct{}

func (fakeGrouper) SummarizeByTopic(_ context.Context, req topics.Request) (transcript.TopicGroups, error) {
	return transcript.TopicGroups{"Offer": {0: req.Transcript[0]}}, nil
}

type fakeDoctorRunner struct {
	caps *pipelines.Capabilities
	err  error
}

func (f *fakeDoctorRunner) RunDoctor(context.Context) (*pipelines.Capabilities, error) {
	return f.caps, f.err
}

func (f *fakeDoctorRunner) Run(context.Context, pipelines.Tool, time.Duration, ...string) (pipelines.RunResult, error) {
	return pipelines.RunResult{}, nil
}

func (f *fakeDoctorRunner) ArtifactsDir() string { return "" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(cat *fakeCatalog) ServerConfig {
	return ServerConfig{
		Catalog:    cat,
		Summarizer: &fakeSummarizer{},
		Grouper:    fakeGrouper{},
		Logger:     testLogger(),
		StartTime:  time.Now(),
	}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestHealth(t *testing.T) {
	rr := do(t, NewRouter(testConfig(&fakeCatalog{})), http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if body := decodeJSONBody(t, rr); body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestStatusHandler_NilDoctor(t *testing.T) {
	rr := do(t, statusHandler(testConfig(&fakeCatalog{})), http.MethodGet, "/status", "")
	body := decodeJSONBody(t, rr)
	if _, ok := body["tools"]; ok {
		t.Fatal("tools should be omitted when doctor is nil")
	}
	if body["state"] != "idle" {
		t.Errorf("state = %v", body["state"])
	}
}

func TestStatusHandler_WithCachedCaps(t *testing.T) {
	doctor := pipelines.NewCachedDoctor(&fakeDoctorRunner{caps: &pipelines.Capabilities{
		HasRender: true,
		HasShots:  true,
		ProbedAt:  time.Now(),
		Summary:   pipelines.SummaryInfo{Available: 2, Total: 3},
	}}, testLogger())
	if _, err := doctor.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	cfg := testConfig(&fakeCatalog{})
	cfg.Doctor = doctor

	body := decodeJSONBody(t, do(t, statusHandler(cfg), http.MethodGet, "/status", ""))
	tools, ok := body["tools"].(map[string]interface{})
	if !ok {
		t.Fatal("tools missing from response")
	}
	if tools["has_render"] != true || tools["has_speech"] != false {
		t.Errorf("tools = %v", tools)
	}
}

func TestStatusHandler_States(t *testing.T) {
	tests := []struct {
		name string
		jobs []*catalog.Job
		want string
	}{
		{"running job", []*catalog.Job{{ID: "a", Status: catalog.JobStatusRunning}}, "rendering"},
		{"failed job", []*catalog.Job{{ID: "a", Status: catalog.JobStatusFailed, Error: "ffmpeg exited 1"}}, "error"},
		{"completed job", []*catalog.Job{{ID: "a", Status: catalog.JobStatusCompleted}}, "idle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := decodeJSONBody(t, do(t, statusHandler(testConfig(&fakeCatalog{jobs: tt.jobs})), http.MethodGet, "/status", ""))
			if body["state"] != tt.want {
				t.Errorf("state = %v, want %s", body["state"], tt.want)
			}
		})
	}
}

func TestVideos_ListAndURL(t *testing.T) {
	cat := &fakeCatalog{videos: []*catalog.Video{{ID: "v1", Path: "videos/ad.mp4", Filename: "ad.mp4", ContentType: "video/mp4"}}}
	router := NewRouter(testConfig(cat))

	body := decodeJSONBody(t, do(t, router, http.MethodGet, "/videos", ""))
	videos := body["videos"].([]interface{})
	if len(videos) != 1 || videos[0].(map[string]interface{})["full_path"] != "videos/ad.mp4" {
		t.Errorf("videos = %v", videos)
	}

	rr := do(t, router, http.MethodGet, "/videos/url?path=videos/ad.mp4", "")
	if got := decodeJSONBody(t, rr)["url"]; got != "http://localhost:8787/media/videos/ad.mp4" {
		t.Errorf("url = %v", got)
	}
	if rr := do(t, router, http.MethodGet, "/videos/url", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("missing path status = %d", rr.Code)
	}
	if rr := do(t, router, http.MethodGet, "/videos/url?path=videos/missing.mp4", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing object status = %d", rr.Code)
	}
}

func TestVideos_Upload(t *testing.T) {
	cat := &fakeCatalog{}
	router := NewRouter(testConfig(cat))

	upload := func(field, filename, content string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		mw.WriteField("note", "ignored")
		fw, _ := mw.CreateFormFile(field, filename)
		fw.Write([]byte(content))
		mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/videos", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	rr := upload("file", "../../promo.mp4", "video-bytes")
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	if cat.uploadedName != "promo.mp4" || cat.uploadedBody != "video-bytes" {
		t.Errorf("uploaded %q = %q", cat.uploadedName, cat.uploadedBody)
	}

	if rr := upload("file", "notes.txt", "x"); rr.Code != http.StatusUnsupportedMediaType {
		t.Errorf("non-video status = %d", rr.Code)
	}
	if rr := upload("other", "promo.mp4", "x"); rr.Code != http.StatusBadRequest {
		t.Errorf("missing file part status = %d", rr.Code)
	}
	if rr := do(t, router, http.MethodPost, "/videos", `{"a":1}`); rr.Code != http.StatusBadRequest {
		t.Errorf("non-multipart status = %d", rr.Code)
	}
}

func TestJobs(t *testing.T) {
	cat := &fakeCatalog{jobs: []*catalog.Job{{ID: "job-9", Type: catalog.JobTypeCutVideo, Status: catalog.JobStatusCompleted, Result: json.RawMessage(`{"full_path":"output/landscape_ad.mp4"}`)}}}
	router := NewRouter(testConfig(cat))

	rr := do(t, router, http.MethodGet, "/jobs/job-9", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	result := decodeJSONBody(t, rr)["result"].(map[string]interface{})
	if result["full_path"] != "output/landscape_ad.mp4" {
		t.Errorf("result = %v", result)
	}

	if rr := do(t, router, http.MethodGet, "/jobs/nope", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing job status = %d", rr.Code)
	}
	if rr := do(t, router, http.MethodGet, "/jobs?limit=0", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rr.Code)
	}
	body := decodeJSONBody(t, do(t, router, http.MethodGet, "/jobs?limit=5", ""))
	if jobs := body["jobs"].([]interface{}); len(jobs) != 1 {
		t.Errorf("jobs = %v", jobs)
	}
}

func TestExportEDLRoute(t *testing.T) {
	router := NewRouter(testConfig(&fakeCatalog{}))

	rr := do(t, router, http.MethodPost, "/export/edl",
		`{"file_name":"ad.mp4","project_name":"promo","transcript":[{"text":"hi","startTime":0,"endTime":1}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	if body := decodeJSONBody(t, rr); body["full_path"] != "output/promo.edl" {
		t.Errorf("body = %v", body)
	}

	if rr := do(t, router, http.MethodPost, "/export/edl", `{"file_name":"ad.mp4","transcript":[]}`); rr.Code != http.StatusBadRequest {
		t.Errorf("empty transcript status = %d", rr.Code)
	}
	if rr := do(t, router, http.MethodPost, "/export/edl", `{"file_name":"ad.mp4","frame_rate":500,"transcript":[{"text":"hi","startTime":0,"endTime":1}]}`); rr.Code != http.StatusBadRequest {
		t.Errorf("bad frame rate status = %d", rr.Code)
	}
}

func TestMediaRoute(t *testing.T) {
	cfg := testConfig(&fakeCatalog{})
	var served string
	cfg.Media = mediaFunc(func(w http.ResponseWriter, r *http.Request, name string) error {
		served = name
		w.WriteHeader(http.StatusPartialContent)
		return nil
	})
	cfg.AuthToken = "secret-token-value"
	router := NewRouter(cfg)

	rr := do(t, router, http.MethodGet, "/media/output/landscape_ad.mp4", "")
	if rr.Code != http.StatusPartialContent || served != "output/landscape_ad.mp4" {
		t.Errorf("status = %d served = %q", rr.Code, served)
	}
	if rr := do(t, router, http.MethodHead, "/media/output/landscape_ad.mp4", ""); rr.Code != http.StatusPartialContent {
		t.Errorf("HEAD status = %d", rr.Code)
	}
}

func TestMediaRoute_DisabledWithoutMediaServer(t *testing.T) {
	rr := do(t, NewRouter(testConfig(&fakeCatalog{})), http.MethodGet, "/media/output/a.mp4", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

type mediaFunc func(w http.ResponseWriter, r *http.Request, name string) error

func (f mediaFunc) ServeObject(w http.ResponseWriter, r *http.Request, name string) error {
	return f(w, r, name)
}

func TestToolsRefresh(t *testing.T) {
	fake := &fakeDoctorRunner{caps: &pipelines.Capabilities{HasSpeech: false, ProbedAt: time.Now()}}
	cfg := testConfig(&fakeCatalog{})
	cfg.Doctor = pipelines.NewCachedDoctor(fake, testLogger())
	router := NewRouter(cfg)

	if body := decodeJSONBody(t, do(t, router, http.MethodPost, "/tools/refresh", "")); body["has_speech"] != false {
		t.Fatalf("first probe = %v", body)
	}

	fake.caps = &pipelines.Capabilities{HasSpeech: true, HasRender: true, ProbedAt: time.Now()}
	body := decodeJSONBody(t, do(t, router, http.MethodPost, "/tools/refresh", ""))
	if body["has_speech"] != true || body["has_render"] != true {
		t.Errorf("refresh did not re-probe: %v", body)
	}

	fake.caps, fake.err = nil, fmt.Errorf("boom")
	cfg.Doctor.Invalidate()
	if rr := do(t, router, http.MethodPost, "/tools/refresh", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("failed probe status = %d", rr.Code)
	}
}

func TestRunnerPauseResume(t *testing.T) {
	cfg := testConfig(&fakeCatalog{})
	cfg.Runner = catalog.NewRunner(nil, nil, testLogger())
	router := NewRouter(cfg)

	if body := decodeJSONBody(t, do(t, router, http.MethodPost, "/jobs/pause", "")); body["paused"] != true {
		t.Errorf("pause = %v", body)
	}
	if !cfg.Runner.IsPaused() {
		t.Error("runner not paused")
	}
	if body := decodeJSONBody(t, do(t, router, http.MethodPost, "/jobs/resume", "")); body["paused"] != false {
		t.Errorf("resume = %v", body)
	}
}
