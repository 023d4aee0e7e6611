package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adclip/adclip/internal/export"
	"github.com/adclip/adclip/internal/logging"
	"github.com/adclip/adclip/internal/media"
	"github.com/adclip/adclip/internal/pipelines"
	"github.com/adclip/adclip/internal/speech"
	"github.com/adclip/adclip/internal/storage"
	"github.com/adclip/adclip/internal/summary"
	"github.com/adclip/adclip/internal/transcript"
)

// ErrInvalidRequest marks errors caused by the caller's input.
var ErrInvalidRequest = errors.New("invalid request")

type TranscribeRequest struct {
	FullPath     string `json:"full_path"`
	FileName     string `json:"file_name"`
	LanguageCode string `json:"language_code"`
}

// TranscribeResult carries the shot-refined transcript shown for review
// along with the raw recognition output and its gap-refined variant.
type TranscribeResult struct {
	Transcript []transcript.Line `json:"transcript"`
	Original   []transcript.Line `json:"original"`
	V1         []transcript.Line `json:"v1"`
}

type CutRequest struct {
	FileName   string            `json:"fileName"`
	VideoURL   string            `json:"videoUrl,omitempty"`
	FullPath   string            `json:"full_path,omitempty"`
	Transcript []transcript.Line `json:"transcript"`
}

type CutResult struct {
	FullPath         string `json:"full_path"`
	FullPathVertical string `json:"full_path_vertical"`
}

type WatermarkRequest struct {
	FileName         string `json:"file_name"`
	FullPath         string `json:"full_path"`
	FullPathVertical string `json:"full_path_vertical"`
}

type WatermarkResult struct {
	Status string `json:"status"`
}

// ServiceConfig holds file locations used by the service.
type ServiceConfig struct {
	WorkDir            string
	WatermarkLandscape string
	WatermarkVertical  string
	HTTPClient         *http.Client
}

// CatalogService is the surface the HTTP API and sessions use.
type CatalogService interface {
	ListVideos(ctx context.Context) ([]*Video, error)
	UploadVideo(ctx context.Context, name string, body io.Reader) (*Video, error)
	DownloadURL(ctx context.Context, objectPath string) (string, error)
	TranscribeVideo(ctx context.Context, req TranscribeRequest) (*TranscribeResult, error)
	CutVideo(ctx context.Context, req CutRequest) (*CutResult, error)
	AddWatermark(ctx context.Context, req WatermarkRequest) (*WatermarkResult, error)
	ExportEDL(ctx context.Context, req export.Request) (*export.Result, error)
	EnqueueCut(ctx context.Context, req CutRequest) (*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
}

var _ CatalogService = (*Service)(nil)

type Service struct {
	repo   Repository
	bucket storage.Bucket
	media  media.FFmpeg
	speech speech.Recognizer
	doctor *pipelines.CachedDoctor
	cfg    ServiceConfig
	logger *slog.Logger
}

// NewService wires the catalog. doctor may be nil, in which case tool
// availability is not checked up front.
func NewService(repo Repository, bucket storage.Bucket, ff media.FFmpeg, rec speech.Recognizer, doctor *pipelines.CachedDoctor, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Minute}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		repo:   repo,
		bucket: bucket,
		media:  ff,
		speech: rec,
		doctor: doctor,
		cfg:    cfg,
		logger: logger,
	}
}

// ListVideos returns the uploaded videos under videos/, skipping the
// output folder and anything that is not a video.
func (s *Service) ListVideos(ctx context.Context) ([]*Video, error) {
	objs, err := s.bucket.List(ctx, VideosPrefix)
	if err != nil {
		return nil, err
	}

	videos := make([]*Video, 0, len(objs))
	for _, o := range objs {
		if inOutputFolder(o.Path) || !strings.HasPrefix(o.ContentType, "video/") {
			continue
		}
		v, err := s.recordVideo(ctx, o)
		if err != nil {
			s.logger.Warn("failed to record video", "path", o.Path, "error", err)
			continue
		}
		videos = append(videos, v)
	}
	return videos, nil
}

func inOutputFolder(p string) bool {
	rel := strings.TrimPrefix(p, VideosPrefix)
	for _, part := range strings.Split(rel, "/") {
		if part == outputFolder {
			return true
		}
	}
	return false
}

func (s *Service) recordVideo(ctx context.Context, o storage.Object) (*Video, error) {
	existing, err := s.repo.GetVideoByPath(ctx, o.Path)
	if err != nil {
		return nil, err
	}
	v := &Video{
		ID:          NewID(),
		Path:        o.Path,
		Filename:    FilenameFromPath(o.Path),
		ContentType: o.ContentType,
		Size:        o.Size,
		CreatedAt:   o.Updated,
	}
	if existing != nil {
		v.ID = existing.ID
		v.CreatedAt = existing.CreatedAt
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	if err := s.repo.UpsertVideo(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// UploadVideo stores body at videos/<name>.
func (s *Service) UploadVideo(ctx context.Context, name string, body io.Reader) (*Video, error) {
	name = FilenameFromPath(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || name == "." || name == ".." || !IsVideoFile(name) {
		return nil, fmt.Errorf("%w: %q is not a supported video file", ErrInvalidRequest, name)
	}
	objName := VideosPrefix + name
	if err := s.bucket.Create(ctx, objName, storage.ContentType(name), body); err != nil {
		return nil, fmt.Errorf("store video: %w", err)
	}
	attrs, err := s.bucket.Attrs(ctx, objName)
	if err != nil {
		return nil, err
	}
	v, err := s.recordVideo(ctx, attrs)
	if err != nil {
		return nil, err
	}
	s.logger.Info("video uploaded", "path", objName, "size", attrs.Size)
	return v, nil
}

// ImportFile uploads a local file, as dropped into the inbox.
func (s *Service) ImportFile(ctx context.Context, localPath string) (*Video, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.UploadVideo(ctx, filepath.Base(localPath), f)
}

// DownloadURL returns a URL the browser can fetch the object from.
func (s *Service) DownloadURL(ctx context.Context, objectPath string) (string, error) {
	if objectPath == "" {
		return "", fmt.Errorf("%w: missing path", ErrInvalidRequest)
	}
	return s.bucket.URL(ctx, objectPath)
}

// TranscribeVideo returns the cached transcript of the video or runs
// speech recognition, then refines it against the video's shots.
func (s *Service) TranscribeVideo(ctx context.Context, req TranscribeRequest) (*TranscribeResult, error) {
	if strings.TrimSpace(req.FullPath) == "" {
		return nil, fmt.Errorf("%w: missing full_path", ErrInvalidRequest)
	}
	name := req.FileName
	if name == "" {
		name = FilenameFromPath(req.FullPath)
	}
	lang := req.LanguageCode
	if lang == "" {
		lang = summary.DefaultLanguageCode
	}

	work, err := os.MkdirTemp(s.cfg.WorkDir, "transcribe-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(work)
	src := &lazySource{bucket: s.bucket, name: req.FullPath, dir: work}
	defer src.close()

	original, err := s.loadOrRecognize(ctx, name, lang, src)
	if err != nil {
		return nil, err
	}
	shots := s.loadOrDetectShots(ctx, name, src)

	return &TranscribeResult{
		Transcript: nonNil(transcript.MergeShortClips(transcript.RefineByShots(original, shots))),
		Original:   nonNil(original),
		V1:         nonNil(transcript.RefineByGaps(original)),
	}, nil
}

func (s *Service) loadOrRecognize(ctx context.Context, name, lang string, src *lazySource) ([]transcript.Line, error) {
	cached, err := s.repo.GetTranscript(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	if cached != nil {
		s.logger.Info("transcript cache hit", "video", name)
		return cached.Lines, nil
	}

	if s.doctor != nil {
		if err := s.doctor.RequireSpeech(ctx); err != nil {
			return nil, err
		}
	}

	wav, err := s.audioFor(ctx, name, src)
	if err != nil {
		return nil, err
	}
	results, err := s.speech.Recognize(ctx, wav, lang)
	if err != nil {
		return nil, fmt.Errorf("recognize speech: %w", err)
	}

	lines := transcript.BuildFromRecognition(results)
	stored := &StoredTranscript{
		Filename:     name,
		LanguageCode: lang,
		SpeechModel:  speech.SpeechModel(lang),
		Lines:        lines,
		CreatedAt:    time.Now(),
	}
	if err := s.repo.SaveTranscript(ctx, stored); err != nil {
		return nil, fmt.Errorf("save transcript: %w", err)
	}
	s.logger.Info("video transcribed", "video", name, "language", lang, "lines", len(lines))
	return lines, nil
}

// audioFor returns a local WAV of the video, extracting and caching it in
// the bucket on first use.
func (s *Service) audioFor(ctx context.Context, name string, src *lazySource) (string, error) {
	obj := audioObject(name)
	exists, err := s.bucket.Exists(ctx, obj)
	if err != nil {
		return "", fmt.Errorf("check audio cache: %w", err)
	}
	if exists {
		p, cleanup, err := storage.Materialize(ctx, s.bucket, obj, src.dir)
		if err != nil {
			return "", err
		}
		src.onClose(cleanup)
		return p, nil
	}

	video, err := src.path(ctx)
	if err != nil {
		return "", err
	}
	wav := filepath.Join(src.dir, "audio.wav")
	if err := s.media.ExtractAudio(ctx, video, wav); err != nil {
		return "", err
	}
	if err := storage.UploadFile(ctx, s.bucket, obj, wav, "audio/wav"); err != nil {
		s.logger.Warn("failed to cache audio", "object", obj, "error", err)
	}
	return wav, nil
}

// loadOrDetectShots never fails: without shots the transcript keeps its
// recognised timing.
func (s *Service) loadOrDetectShots(ctx context.Context, name string, src *lazySource) []transcript.Shot {
	logger := logging.WithVideo(s.logger, name)
	shots, err := s.repo.GetShots(ctx, name)
	if err != nil {
		logger.Warn("failed to load shots", "error", err)
	}
	if shots != nil {
		return shots
	}

	video, err := src.path(ctx)
	if err != nil {
		logger.Warn("shot detection skipped", "error", err)
		return nil
	}
	shots, err = s.media.DetectShots(ctx, video)
	if err != nil {
		logger.Warn("shot detection failed", "error", err)
		return nil
	}
	if err := s.repo.SaveShots(ctx, name, shots); err != nil {
		logger.Warn("failed to save shots", "error", err)
	}
	return shots
}

// CutVideo renders the transcript segments into a landscape clip and a
// 9:16 vertical crop and uploads both under output/.
func (s *Service) CutVideo(ctx context.Context, req CutRequest) (*CutResult, error) {
	name := req.FileName
	if name == "" {
		name = FilenameFromPath(req.FullPath)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: missing fileName", ErrInvalidRequest)
	}
	segments := media.SegmentsFromLines(req.Transcript)
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: transcript has no segments", ErrInvalidRequest)
	}
	if s.doctor != nil {
		if err := s.doctor.RequireRender(ctx); err != nil {
			return nil, err
		}
	}

	work, err := os.MkdirTemp(s.cfg.WorkDir, "cut-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(work)

	src, err := s.fetchSource(ctx, req, work)
	if err != nil {
		return nil, err
	}

	landscape := filepath.Join(work, "landscape.mp4")
	vertical := filepath.Join(work, "vertical.mp4")
	if err := s.media.Concat(ctx, src, segments, landscape); err != nil {
		return nil, err
	}
	if err := s.media.CropVertical(ctx, landscape, vertical); err != nil {
		return nil, err
	}

	res := &CutResult{
		FullPath:         OutputPrefix + "landscape_" + name,
		FullPathVertical: OutputPrefix + "vertical_" + name,
	}
	if err := storage.UploadFile(ctx, s.bucket, res.FullPathVertical, vertical, "video/mp4"); err != nil {
		return nil, err
	}
	if err := storage.UploadFile(ctx, s.bucket, res.FullPath, landscape, "video/mp4"); err != nil {
		return nil, err
	}

	s.logger.Info("video cut", "video", name, "segments", len(segments))
	return res, nil
}

func (s *Service) fetchSource(ctx context.Context, req CutRequest, dir string) (string, error) {
	if req.FullPath != "" {
		p, _, err := storage.Materialize(ctx, s.bucket, req.FullPath, dir)
		return p, err
	}
	if req.VideoURL == "" {
		return "", fmt.Errorf("%w: missing full_path or videoUrl", ErrInvalidRequest)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.VideoURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: bad videoUrl: %v", ErrInvalidRequest, err)
	}
	resp, err := s.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("download video: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download video: status %d", resp.StatusCode)
	}

	p := filepath.Join(dir, "source"+filepath.Ext(req.FileName))
	f, err := os.Create(p)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return "", fmt.Errorf("download video: %w", err)
	}
	return p, f.Close()
}

// AddWatermark overlays the configured images onto both renders. The
// un-watermarked renders are kept as nowm_ copies and reused as the source
// while the render is unchanged, so a clip is never watermarked twice.
func (s *Service) AddWatermark(ctx context.Context, req WatermarkRequest) (*WatermarkResult, error) {
	if req.FileName == "" || req.FullPath == "" || req.FullPathVertical == "" {
		return nil, fmt.Errorf("%w: file_name, full_path and full_path_vertical are required", ErrInvalidRequest)
	}
	if s.cfg.WatermarkLandscape == "" || s.cfg.WatermarkVertical == "" {
		return nil, errors.New("watermark images not configured")
	}
	if s.doctor != nil {
		if err := s.doctor.RequireRender(ctx); err != nil {
			return nil, err
		}
	}

	work, err := os.MkdirTemp(s.cfg.WorkDir, "watermark-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(work)

	renders := []struct {
		src, nowm, dst, image string
	}{
		{req.FullPathVertical, OutputPrefix + "nowm_vertical_" + req.FileName, OutputPrefix + "vertical_" + req.FileName, s.cfg.WatermarkVertical},
		{req.FullPath, OutputPrefix + "nowm_landscape_" + req.FileName, OutputPrefix + "landscape_" + req.FileName, s.cfg.WatermarkLandscape},
	}

	for i, r := range renders {
		clean, reused, err := s.cleanRender(ctx, r.src, r.nowm, work)
		if err != nil {
			return nil, err
		}
		marked := filepath.Join(work, fmt.Sprintf("marked_%d.mp4", i))
		if err := s.media.Watermark(ctx, clean, r.image, marked); err != nil {
			return nil, err
		}
		// The clean copy must be stored before the marked render replaces it.
		if !reused {
			if err := storage.UploadFile(ctx, s.bucket, r.nowm, clean, "video/mp4"); err != nil {
				return nil, err
			}
		}
		if err := storage.UploadFile(ctx, s.bucket, r.dst, marked, "video/mp4"); err != nil {
			return nil, err
		}
		sum, err := fileChecksum(marked)
		if err != nil {
			return nil, err
		}
		if err := s.repo.SetConfig(ctx, watermarkKey(r.dst), sum); err != nil {
			return nil, fmt.Errorf("record watermark: %w", err)
		}
	}

	s.logger.Info("watermark added", "video", req.FileName)
	return &WatermarkResult{Status: "success"}, nil
}

// cleanRender returns a local un-watermarked copy of the render at src.
// The nowm copy is used only when src still holds the output of the last
// watermark pass; a fresh render replaces it.
func (s *Service) cleanRender(ctx context.Context, src, nowm, work string) (string, bool, error) {
	current, _, err := storage.Materialize(ctx, s.bucket, src, work)
	if err != nil {
		return "", false, err
	}
	marker, err := s.repo.GetConfig(ctx, watermarkKey(src))
	if err != nil {
		return "", false, fmt.Errorf("load watermark marker: %w", err)
	}
	if marker == "" {
		return current, false, nil
	}
	sum, err := fileChecksum(current)
	if err != nil {
		return "", false, err
	}
	if sum != marker {
		return current, false, nil
	}
	clean, _, err := storage.Materialize(ctx, s.bucket, nowm, work)
	if errors.Is(err, storage.ErrNotFound) {
		return current, false, nil
	}
	if err != nil {
		return "", false, err
	}
	return clean, true, nil
}

func watermarkKey(object string) string { return "watermarked:" + object }

func fileChecksum(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksum %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// EnqueueCut records a cut_video job for the runner.
func (s *Service) EnqueueCut(ctx context.Context, req CutRequest) (*Job, error) {
	if len(media.SegmentsFromLines(req.Transcript)) == 0 {
		return nil, fmt.Errorf("%w: transcript has no segments", ErrInvalidRequest)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	job := &Job{
		ID:        NewID(),
		Type:      JobTypeCutVideo,
		Status:    JobStatusPending,
		VideoPath: req.FullPath,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("cut job created", "job_id", job.ID, "video", req.FileName)
	return job, nil
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

// lazySource downloads the source video only when a step needs it.
type lazySource struct {
	bucket   storage.Bucket
	name     string
	dir      string
	local    string
	err      error
	done     bool
	cleanups []func()
}

func (l *lazySource) path(ctx context.Context) (string, error) {
	if !l.done {
		var cleanup func()
		l.local, cleanup, l.err = storage.Materialize(ctx, l.bucket, l.name, l.dir)
		l.onClose(cleanup)
		l.done = true
	}
	return l.local, l.err
}

func (l *lazySource) onClose(f func()) { l.cleanups = append(l.cleanups, f) }

func (l *lazySource) close() {
	for _, f := range l.cleanups {
		f()
	}
}

func nonNil(lines []transcript.Line) []transcript.Line {
	if lines == nil {
		return []transcript.Line{}
	}
	return lines
}
