package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/adclip/adclip/internal/catalog"
	"github.com/adclip/adclip/internal/summary"
	"github.com/adclip/adclip/internal/topics"
	"github.com/adclip/adclip/internal/transcript"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func line(text string, start, end float64) transcript.Line {
	return transcript.Line{Text: text, StartTime: start, EndTime: end, Duration: end - start}
}

type fakeBackend struct {
	transcribeCalls int
	transcribeErr   error
	cutReq          catalog.CutRequest
	cutRes          *catalog.CutResult
}

func (f *fakeBackend) TranscribeVideo(_ context.Context, req catalog.TranscribeRequest) (*catalog.TranscribeResult, error) {
	f.transcribeCalls++
	if f.transcribeErr != nil {
		return nil, f.transcribeErr
	}
	lines := []transcript.Line{line("hello world", 0, 2), line("buy now", 2, 4)}
	return &catalog.TranscribeResult{Transcript: lines, Original: lines, V1: lines}, nil
}

func (f *fakeBackend) CutVideo(_ context.Context, req catalog.CutRequest) (*catalog.CutResult, error) {
	f.cutReq = req
	if f.cutRes != nil {
		return f.cutRes, nil
	}
	return &catalog.CutResult{
		FullPath:         "output/landscape_" + req.FileName,
		FullPathVertical: "output/vertical_" + req.FileName,
	}, nil
}

func (f *fakeBackend) DownloadURL(_ context.Context, p string) (string, error) {
	return "http://media/" + p, nil
}

type fakeSummarizer struct {
	req summary.Request
}

func (f *fakeSummarizer) SummarizeByDuration(_ context.Context, req summary.Request) (*summary.Result, error) {
	f.req = req
	return &summary.Result{SummarizedTranscript: req.Transcript[1:]}, nil
}

type fakeGrouper struct {
	err error
}

func (f *fakeGrouper) SummarizeByTopic(_ context.Context, req topics.Request) (transcript.TopicGroups, error) {
	if f.err != nil {
		return nil, f.err
	}
	return transcript.TopicGroups{
		"Offer":    {1: req.Transcript[1]},
		"Greeting": {0: req.Transcript[0], 1: req.Transcript[1]},
	}, nil
}

func newSession(b *fakeBackend, s *fakeSummarizer, g *fakeGrouper) *Session {
	return New("s1", "videos/ad.mp4", DefaultSettings(), b, s, g, testLogger())
}

func TestSession_SummarizeTranscribesFirst(t *testing.T) {
	b, sum := &fakeBackend{}, &fakeSummarizer{}
	s := newSession(b, sum, &fakeGrouper{})

	got, err := s.SummarizeByDuration(context.Background())
	if err != nil {
		t.Fatalf("SummarizeByDuration: %v", err)
	}
	if b.transcribeCalls != 1 {
		t.Errorf("transcribe calls = %d, want 1", b.transcribeCalls)
	}
	if len(got) != 1 || got[0].Text != "buy now" {
		t.Errorf("summary = %+v", got)
	}
	if sum.req.Filename != "ad.mp4" || sum.req.MinDuration != 20 || sum.req.MaxDuration != 40 {
		t.Errorf("summary request = %+v", sum.req)
	}

	// The reviewed transcript is reused.
	if _, err := s.SummarizeByDuration(context.Background()); err != nil {
		t.Fatal(err)
	}
	if b.transcribeCalls != 1 {
		t.Errorf("transcribe calls after second summary = %d, want 1", b.transcribeCalls)
	}
}

func TestSession_EditedTranscriptSkipsTranscription(t *testing.T) {
	b := &fakeBackend{}
	s := newSession(b, &fakeSummarizer{}, &fakeGrouper{})
	s.SetReviewTranscript([]transcript.Line{line("a", 0, 1), line("b", 1, 2)})

	if _, err := s.SummarizeByDuration(context.Background()); err != nil {
		t.Fatal(err)
	}
	if b.transcribeCalls != 0 {
		t.Errorf("transcribe calls = %d, want 0", b.transcribeCalls)
	}
}

func TestSession_TranscriptionErrorRecorded(t *testing.T) {
	b := &fakeBackend{transcribeErr: errors.New("whisper missing")}
	s := newSession(b, &fakeSummarizer{}, &fakeGrouper{})

	if _, err := s.GroupByTopic(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	st := s.Snapshot()
	if st.TranscriptionError != "whisper missing" {
		t.Errorf("transcription error = %q", st.TranscriptionError)
	}
	if st.Running != "" {
		t.Errorf("running = %q after failure", st.Running)
	}
}

func TestSession_TopicsSelectAndGenerate(t *testing.T) {
	b := &fakeBackend{}
	s := newSession(b, &fakeSummarizer{}, &fakeGrouper{})
	ctx := context.Background()

	groups, err := s.GroupByTopic(ctx)
	if err != nil {
		t.Fatalf("GroupByTopic: %v", err)
	}
	for topic, refs := range groups {
		for n, l := range refs {
			if l.Checked == nil || !*l.Checked {
				t.Errorf("%s line %d not checked", topic, n)
			}
		}
	}

	if err := s.SetChecked("Greeting", 0, false); err != nil {
		t.Fatalf("SetChecked: %v", err)
	}
	if err := s.SetChecked("Greeting", 7, false); err == nil {
		t.Error("expected error for unknown line")
	}

	selected := s.SelectTopicLines()
	if len(selected) != 1 || selected[0].Text != "buy now" {
		t.Fatalf("selected = %+v", selected)
	}

	outputs, err := s.GenerateVideos(ctx)
	if err != nil {
		t.Fatalf("GenerateVideos: %v", err)
	}
	if b.cutReq.FileName != "ad.mp4" || b.cutReq.FullPath != "videos/ad.mp4" || len(b.cutReq.Transcript) != 1 {
		t.Errorf("cut request = %+v", b.cutReq)
	}
	want := []OutputVideo{
		{URL: "http://media/output/landscape_ad.mp4", FullPath: "output/landscape_ad.mp4"},
		{URL: "http://media/output/vertical_ad.mp4", FullPath: "output/vertical_ad.mp4"},
	}
	if len(outputs) != 2 || outputs[0] != want[0] || outputs[1] != want[1] {
		t.Errorf("outputs = %+v", outputs)
	}
	if st := s.Snapshot(); len(st.OutputVideos) != 2 {
		t.Errorf("state outputs = %+v", st.OutputVideos)
	}
}

func TestSession_GenerateWithoutVertical(t *testing.T) {
	b := &fakeBackend{cutRes: &catalog.CutResult{FullPath: "output/landscape_ad.mp4"}}
	s := newSession(b, &fakeSummarizer{}, &fakeGrouper{})
	s.SetReviewTranscript([]transcript.Line{line("a", 0, 1), line("b", 1, 2)})
	s.SummarizeByDuration(context.Background())

	outputs, err := s.GenerateVideos(context.Background())
	if err != nil || len(outputs) != 1 {
		t.Errorf("outputs = %+v, %v", outputs, err)
	}
}

func TestSession_GenerateRequiresSummary(t *testing.T) {
	s := newSession(&fakeBackend{}, &fakeSummarizer{}, &fakeGrouper{})
	if _, err := s.GenerateVideos(context.Background()); !errors.Is(err, ErrNothingToRender) {
		t.Errorf("err = %v, want ErrNothingToRender", err)
	}
}

func TestSession_TopicErrorRecorded(t *testing.T) {
	s := newSession(&fakeBackend{}, &fakeSummarizer{}, &fakeGrouper{err: summary.ErrResponseBlocked})
	if _, err := s.GroupByTopic(context.Background()); !errors.Is(err, summary.ErrResponseBlocked) {
		t.Errorf("err = %v", err)
	}
	if s.Snapshot().TopicError == "" {
		t.Error("topic error not recorded")
	}
}

func TestSession_Busy(t *testing.T) {
	s := newSession(&fakeBackend{}, &fakeSummarizer{}, &fakeGrouper{})
	done, err := s.begin("generate")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Transcribe(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("err = %v, want ErrBusy", err)
	}
	if s.Snapshot().Running != "generate" {
		t.Error("running operation not reported")
	}
	done()
	if err := s.Transcribe(context.Background()); err != nil {
		t.Errorf("Transcribe after release: %v", err)
	}
}

func TestManager(t *testing.T) {
	m := NewManager(&fakeBackend{}, &fakeSummarizer{}, &fakeGrouper{}, time.Hour, testLogger())
	s := m.Create("videos/ad.mp4", DefaultSettings())

	got, err := m.Get(s.Snapshot().ID)
	if err != nil || got != s {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if len(m.List()) != 1 {
		t.Errorf("List = %+v", m.List())
	}
	m.Delete(s.Snapshot().ID)
	if _, err := m.Get(s.Snapshot().ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete err = %v", err)
	}
}

func TestManager_EvictsIdle(t *testing.T) {
	m := NewManager(&fakeBackend{}, &fakeSummarizer{}, &fakeGrouper{}, time.Millisecond, testLogger())
	old := m.Create("videos/a.mp4", DefaultSettings())
	time.Sleep(5 * time.Millisecond)
	m.Create("videos/b.mp4", DefaultSettings())

	if _, err := m.Get(old.Snapshot().ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("idle session should be evicted, err = %v", err)
	}
}

func TestSettings_StringDurations(t *testing.T) {
	settings := DefaultSettings()
	if err := json.Unmarshal([]byte(`{"min_duration":"15","max_duration":"abc","prompt":"fast"}`), &settings); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if settings.MinDuration != 15 || settings.MaxDuration != 0 || settings.Prompt != "fast" {
		t.Errorf("settings = %+v", settings)
	}
	if settings.LanguageCode != summary.DefaultLanguageCode {
		t.Errorf("LanguageCode = %q, want default kept", settings.LanguageCode)
	}
}
