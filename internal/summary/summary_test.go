package summary

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/adclip/adclip/internal/llm"
	"github.com/adclip/adclip/internal/transcript"
)

type fakeGenerator struct {
	responses []string
	errs      []error
	prompts   []string
	opts      []llm.Options
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, opts llm.Options) (string, error) {
	i := len(f.prompts)
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

type fakeShots struct {
	shots []transcript.Shot
}

func (f *fakeShots) GetShots(context.Context, string) ([]transcript.Shot, error) {
	return f.shots, nil
}

type fakeAudit struct {
	records []Audit
}

func (f *fakeAudit) RecordSummary(_ context.Context, a Audit) error {
	f.records = append(f.records, a)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sampleTranscript() []transcript.Line {
	return []transcript.Line{
		transcript.NewLine([]transcript.Word{w("hello", 0, 1), w("world", 1, 2)}, nil, nil),
		transcript.NewLine([]transcript.Word{w("this", 2, 3), w("is", 3, 4), w("filler", 4, 5)}, nil, nil),
		transcript.NewLine([]transcript.Word{w("buy", 5, 6), w("now", 6, 7), w("today", 7, 8)}, nil, nil),
	}
}

func TestSummarizeByDuration_WithinRange(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"hello world\nbuy now today"}}
	audit := &fakeAudit{}
	s := New(gen, &fakeShots{}, audit, testLogger())

	res, err := s.SummarizeByDuration(context.Background(), Request{
		Filename:    "ad.mp4",
		Transcript:  sampleTranscript(),
		Prompt:      "focus on the offer",
		MinDuration: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gen.prompts) != 1 {
		t.Fatalf("generator called %d times, want 1", len(gen.prompts))
	}
	if !strings.Contains(gen.prompts[0], "focus on the offer") {
		t.Error("user prompt missing from model prompt")
	}
	if !strings.HasSuffix(gen.prompts[0], "Transcript:hello world\nthis is filler\nbuy now today") {
		t.Errorf("prompt does not end with the transcript: %q", gen.prompts[0])
	}
	if gen.opts[0].MaxOutputTokens != maxOutputTokens || gen.opts[0].TopK != topK {
		t.Errorf("unexpected options: %+v", gen.opts[0])
	}

	got := res.SummarizedTranscript
	if len(got) != 2 || got[0].Text != "hello world" || got[1].Text != "buy now today" {
		t.Fatalf("segments = %+v", got)
	}

	if len(audit.records) != 1 {
		t.Fatalf("audit records = %d, want 1", len(audit.records))
	}
	if audit.records[0].FinalOutput != "hello world\nbuy now today" || audit.records[0].Video != "ad.mp4" {
		t.Errorf("audit = %+v", audit.records[0])
	}
}

func TestSummarizeByDuration_RetriesWithHigherTemperature(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		"hello world\nbuy now today",
		"hello world",
		"buy now today",
	}}
	s := New(gen, &fakeShots{}, &fakeAudit{}, testLogger())

	res, err := s.SummarizeByDuration(context.Background(), Request{
		Filename:   "ad.mp4",
		Transcript: sampleTranscript(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantTemps := []float64{0.2, 0.4, 0.6}
	if len(gen.opts) != len(wantTemps) {
		t.Fatalf("generator called %d times, want %d", len(gen.opts), len(wantTemps))
	}
	for i, want := range wantTemps {
		if math.Abs(float64(gen.opts[i].Temperature)-want) > 1e-6 {
			t.Errorf("call %d temperature = %v, want %v", i, gen.opts[i].Temperature, want)
		}
	}
	if !strings.HasSuffix(gen.prompts[1], "Transcript:hello world\nbuy now today") {
		t.Errorf("retry should shorten the previous answer, prompt = %q", gen.prompts[1])
	}

	got := res.SummarizedTranscript
	if len(got) != 1 || got[0].Text != "buy now today" {
		t.Errorf("segments = %+v", got)
	}
}

func TestSummarizeByDuration_SnapsToShots(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"buy now today"}}
	shots := &fakeShots{shots: []transcript.Shot{{StartTime: 0, EndTime: 4.5}, {StartTime: 4.5, EndTime: 9}}}
	s := New(gen, shots, &fakeAudit{}, testLogger())

	res, err := s.SummarizeByDuration(context.Background(), Request{
		Transcript:  sampleTranscript(),
		MinDuration: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := res.SummarizedTranscript
	if len(got) != 1 {
		t.Fatalf("segments = %+v", got)
	}
	// widened back to the shot start, which falls inside "filler"
	if got[0].StartTime != 4.5 || got[0].EndTime != 9 {
		t.Errorf("segment = %v-%v, want 4.5-9", got[0].StartTime, got[0].EndTime)
	}
}

func TestSummarizeByDuration_Blocked(t *testing.T) {
	gen := &fakeGenerator{errs: []error{llm.ErrBlocked}}
	audit := &fakeAudit{}
	s := New(gen, &fakeShots{}, audit, testLogger())

	_, err := s.SummarizeByDuration(context.Background(), Request{Transcript: sampleTranscript()})
	if !errors.Is(err, ErrResponseBlocked) {
		t.Fatalf("err = %v, want ErrResponseBlocked", err)
	}
	if len(audit.records) != 0 {
		t.Error("blocked run should not be audited")
	}
}

func TestBuildPrompt(t *testing.T) {
	got := BuildPrompt("a\nb", "")
	if !strings.HasPrefix(got, "You are a senior copy writer") {
		t.Errorf("missing root prompt: %q", got)
	}
	if !strings.HasSuffix(got, "\n\nTranscript:a\nb") {
		t.Errorf("unexpected tail: %q", got)
	}
}

func TestRequest_LenientDurations(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		min, max float64
	}{
		{"numbers", `{"min_duration":15,"max_duration":30.5}`, 15, 30.5},
		{"numeric strings", `{"min_duration":"15","max_duration":" 30 "}`, 15, 30},
		{"empty string", `{"min_duration":"","max_duration":"30"}`, 0, 30},
		{"garbage", `{"min_duration":"soon","max_duration":true}`, 0, 0},
		{"null", `{"min_duration":null}`, 0, 0},
		{"not finite", `{"min_duration":"NaN","max_duration":"Inf"}`, 0, 0},
		{"missing", `{"filename":"ad.mp4"}`, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req Request
			if err := json.Unmarshal([]byte(tt.body), &req); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if req.MinDuration != tt.min || req.MaxDuration != tt.max {
				t.Errorf("durations = %v, %v, want %v, %v", req.MinDuration, req.MaxDuration, tt.min, tt.max)
			}
		})
	}

	var req Request
	if err := json.Unmarshal([]byte(`{"filename":"ad.mp4","prompt":"short","transcript":[{"text":"a","startTime":0,"endTime":1}]}`), &req); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if req.Filename != "ad.mp4" || req.Prompt != "short" || len(req.Transcript) != 1 {
		t.Errorf("other fields = %+v", req)
	}
}
