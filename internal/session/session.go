// Package session drives one video through the AdClip workflow:
// transcribe, shorten (by duration or by topic), review, and render.
// It keeps the state a reviewing user works against between calls.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adclip/adclip/internal/catalog"
	"github.com/adclip/adclip/internal/summary"
	"github.com/adclip/adclip/internal/topics"
	"github.com/adclip/adclip/internal/transcript"
)

var (
	// ErrBusy is returned when another operation is running on the session.
	ErrBusy = errors.New("session busy")
	// ErrNothingToRender is returned by GenerateVideos before any lines
	// were selected.
	ErrNothingToRender = errors.New("no summarized transcript to render")
)

// Backend is the subset of the catalog service a session needs.
type Backend interface {
	TranscribeVideo(ctx context.Context, req catalog.TranscribeRequest) (*catalog.TranscribeResult, error)
	CutVideo(ctx context.Context, req catalog.CutRequest) (*catalog.CutResult, error)
	DownloadURL(ctx context.Context, objectPath string) (string, error)
}

type DurationSummarizer interface {
	SummarizeByDuration(ctx context.Context, req summary.Request) (*summary.Result, error)
}

type TopicGrouper interface {
	SummarizeByTopic(ctx context.Context, req topics.Request) (transcript.TopicGroups, error)
}

// Settings are the user's shortening choices.
type Settings struct {
	LanguageCode string  `json:"language_code"`
	MinDuration  float64 `json:"min_duration"`
	MaxDuration  float64 `json:"max_duration"`
	Prompt       string  `json:"prompt"`
	ModelName    string  `json:"model_name"`
}

// UnmarshalJSON reads the durations leniently, see summary.ParseSeconds.
func (s *Settings) UnmarshalJSON(data []byte) error {
	type plain Settings
	aux := struct {
		*plain
		MinDuration json.RawMessage `json:"min_duration"`
		MaxDuration json.RawMessage `json:"max_duration"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.MinDuration != nil {
		s.MinDuration = summary.ParseSeconds(aux.MinDuration)
	}
	if aux.MaxDuration != nil {
		s.MaxDuration = summary.ParseSeconds(aux.MaxDuration)
	}
	return nil
}

// DefaultSettings mirrors the review screen's initial values.
func DefaultSettings() Settings {
	return Settings{
		LanguageCode: summary.DefaultLanguageCode,
		MinDuration:  20,
		MaxDuration:  summary.DefaultMaxDuration,
	}
}

// OutputVideo is a rendered clip and the URL it can be fetched from.
type OutputVideo struct {
	URL      string `json:"url"`
	FullPath string `json:"fullPath"`
}

// State is a snapshot of a session.
type State struct {
	ID                   string                 `json:"id"`
	VideoFullPath        string                 `json:"input_video_full_path"`
	VideoFilename        string                 `json:"input_video_filename"`
	Settings             Settings               `json:"settings"`
	ReviewTranscript     []transcript.Line      `json:"review_transcripts"`
	SummarizedTranscript []transcript.Line      `json:"summarized_transcripts"`
	TopicGroups          transcript.TopicGroups `json:"transcript_with_topics,omitempty"`
	OutputVideos         []OutputVideo          `json:"output_videos"`
	TranscriptionError   string                 `json:"transcription_error,omitempty"`
	TopicError           string                 `json:"topic_transcription_error,omitempty"`
	Running              string                 `json:"running,omitempty"`
	UpdatedAt            time.Time              `json:"updated_at"`
}

type Session struct {
	op sync.Mutex // held for the duration of one operation

	mu    sync.RWMutex
	state State

	backend    Backend
	summarizer DurationSummarizer
	grouper    TopicGrouper
	logger     *slog.Logger
}

func New(id, videoFullPath string, settings Settings, backend Backend, summarizer DurationSummarizer, grouper TopicGrouper, logger *slog.Logger) *Session {
	return &Session{
		state: State{
			ID:                   id,
			VideoFullPath:        videoFullPath,
			VideoFilename:        catalog.FilenameFromPath(videoFullPath),
			Settings:             settings,
			ReviewTranscript:     []transcript.Line{},
			SummarizedTranscript: []transcript.Line{},
			OutputVideos:         []OutputVideo{},
			UpdatedAt:            time.Now(),
		},
		backend:    backend,
		summarizer: summarizer,
		grouper:    grouper,
		logger:     logger.With("session_id", id, "video", videoFullPath),
	}
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.ReviewTranscript = append([]transcript.Line{}, s.state.ReviewTranscript...)
	st.SummarizedTranscript = append([]transcript.Line{}, s.state.SummarizedTranscript...)
	st.OutputVideos = append([]OutputVideo{}, s.state.OutputVideos...)
	st.TopicGroups = copyGroups(s.state.TopicGroups)
	return st
}

func (s *Session) update(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	s.state.UpdatedAt = time.Now()
}

// begin claims the session for one operation.
func (s *Session) begin(name string) (func(), error) {
	if !s.op.TryLock() {
		return nil, ErrBusy
	}
	s.update(func(st *State) { st.Running = name })
	return func() {
		s.update(func(st *State) { st.Running = "" })
		s.op.Unlock()
	}, nil
}

// UpdateSettings replaces the shortening settings.
func (s *Session) UpdateSettings(settings Settings) {
	s.update(func(st *State) { st.Settings = settings })
}

// SetReviewTranscript replaces the reviewed transcript with a user edit.
func (s *Session) SetReviewTranscript(lines []transcript.Line) {
	s.update(func(st *State) { st.ReviewTranscript = append([]transcript.Line{}, lines...) })
}

// Transcribe fetches the reviewable transcript of the video.
func (s *Session) Transcribe(ctx context.Context) error {
	done, err := s.begin("transcribe")
	if err != nil {
		return err
	}
	defer done()
	return s.transcribe(ctx)
}

func (s *Session) transcribe(ctx context.Context) error {
	st := s.Snapshot()
	res, err := s.backend.TranscribeVideo(ctx, catalog.TranscribeRequest{
		FullPath:     st.VideoFullPath,
		FileName:     st.VideoFilename,
		LanguageCode: st.Settings.LanguageCode,
	})
	if err != nil {
		s.logger.Error("transcription failed", "error", err)
		s.update(func(st *State) { st.TranscriptionError = err.Error() })
		return fmt.Errorf("transcribe: %w", err)
	}
	s.update(func(st *State) {
		st.ReviewTranscript = res.Transcript
		st.TranscriptionError = ""
	})
	return nil
}

// ensureTranscript transcribes first when nothing has been reviewed yet.
func (s *Session) ensureTranscript(ctx context.Context) ([]transcript.Line, error) {
	if st := s.Snapshot(); len(st.ReviewTranscript) > 0 {
		return st.ReviewTranscript, nil
	}
	if err := s.transcribe(ctx); err != nil {
		return nil, err
	}
	return s.Snapshot().ReviewTranscript, nil
}

// SummarizeByDuration shortens the reviewed transcript to the configured
// duration range.
func (s *Session) SummarizeByDuration(ctx context.Context) ([]transcript.Line, error) {
	done, err := s.begin("summarize")
	if err != nil {
		return nil, err
	}
	defer done()

	lines, err := s.ensureTranscript(ctx)
	if err != nil {
		return nil, err
	}
	st := s.Snapshot()
	res, err := s.summarizer.SummarizeByDuration(ctx, summary.Request{
		Filename:     st.VideoFilename,
		Transcript:   lines,
		Prompt:       st.Settings.Prompt,
		MinDuration:  st.Settings.MinDuration,
		MaxDuration:  st.Settings.MaxDuration,
		LanguageCode: st.Settings.LanguageCode,
		ModelName:    st.Settings.ModelName,
	})
	if err != nil {
		s.logger.Error("summarization failed", "error", err)
		return nil, err
	}
	s.update(func(st *State) { st.SummarizedTranscript = res.SummarizedTranscript })
	return res.SummarizedTranscript, nil
}

// GroupByTopic groups the reviewed transcript by topic with every line
// selected.
func (s *Session) GroupByTopic(ctx context.Context) (transcript.TopicGroups, error) {
	done, err := s.begin("topics")
	if err != nil {
		return nil, err
	}
	defer done()

	lines, err := s.ensureTranscript(ctx)
	if err != nil {
		return nil, err
	}
	st := s.Snapshot()
	groups, err := s.grouper.SummarizeByTopic(ctx, topics.Request{
		Filename:     st.VideoFilename,
		Transcript:   lines,
		Prompt:       st.Settings.Prompt,
		LanguageCode: st.Settings.LanguageCode,
		ModelName:    st.Settings.ModelName,
	})
	if err != nil {
		s.logger.Error("topic grouping failed", "error", err)
		s.update(func(st *State) { st.TopicError = err.Error() })
		return nil, err
	}
	for _, refs := range groups {
		for n, l := range refs {
			checked := true
			l.Checked = &checked
			refs[n] = l
		}
	}
	s.update(func(st *State) {
		st.TopicGroups = groups
		st.TopicError = ""
	})
	return copyGroups(groups), nil
}

// SetChecked toggles one line of one topic.
func (s *Session) SetChecked(topic string, lineNumber int, checked bool) error {
	var err error
	s.update(func(st *State) {
		l, ok := st.TopicGroups[topic][lineNumber]
		if !ok {
			err = fmt.Errorf("line %d not in topic %q", lineNumber, topic)
			return
		}
		c := checked
		l.Checked = &c
		st.TopicGroups[topic][lineNumber] = l
	})
	return err
}

// SelectTopicLines turns the checked topic lines into the summarized
// transcript.
func (s *Session) SelectTopicLines() []transcript.Line {
	var lines []transcript.Line
	s.update(func(st *State) {
		lines = topics.SelectTopicLines(st.TopicGroups)
		st.SummarizedTranscript = lines
	})
	return append([]transcript.Line(nil), lines...)
}

// GenerateVideos renders the summarized transcript and resolves download
// URLs for the landscape and vertical clips.
func (s *Session) GenerateVideos(ctx context.Context) ([]OutputVideo, error) {
	done, err := s.begin("generate")
	if err != nil {
		return nil, err
	}
	defer done()

	st := s.Snapshot()
	if len(st.SummarizedTranscript) == 0 {
		return nil, ErrNothingToRender
	}
	res, err := s.backend.CutVideo(ctx, catalog.CutRequest{
		FileName:   st.VideoFilename,
		FullPath:   st.VideoFullPath,
		Transcript: st.SummarizedTranscript,
	})
	if err != nil {
		s.logger.Error("video generation failed", "error", err)
		return nil, err
	}

	paths := []string{res.FullPath}
	if res.FullPathVertical != "" {
		paths = append(paths, res.FullPathVertical)
	}
	outputs := make([]OutputVideo, 0, len(paths))
	for _, p := range paths {
		url, err := s.backend.DownloadURL(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("resolve url for %s: %w", p, err)
		}
		outputs = append(outputs, OutputVideo{URL: url, FullPath: p})
	}
	s.update(func(st *State) { st.OutputVideos = outputs })
	s.logger.Info("videos generated", "outputs", len(outputs))
	return append([]OutputVideo(nil), outputs...), nil
}

func copyGroups(g transcript.TopicGroups) transcript.TopicGroups {
	if g == nil {
		return nil
	}
	out := make(transcript.TopicGroups, len(g))
	for topic, refs := range g {
		cp := make(map[int]transcript.Line, len(refs))
		for n, l := range refs {
			if l.Checked != nil {
				c := *l.Checked
				l.Checked = &c
			}
			cp[n] = l
		}
		out[topic] = cp
	}
	return out
}
