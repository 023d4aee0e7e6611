package pipelines

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRunResult_IsSuccess(t *testing.T) {
	tests := []struct {
		exitCode int
		want     bool
	}{
		{0, true},
		{1, false},
		{-1, false},
		{127, false},
	}
	for _, tt := range tests {
		r := RunResult{ExitCode: tt.exitCode}
		if got := r.IsSuccess(); got != tt.want {
			t.Errorf("RunResult{ExitCode: %d}.IsSuccess() = %v, want %v", tt.exitCode, got, tt.want)
		}
	}
}

func TestRunResult_Err(t *testing.T) {
	if err := (RunResult{Tool: ToolFFmpeg}).Err(); err != nil {
		t.Errorf("success should have nil error, got %v", err)
	}
	err := RunResult{Tool: ToolFFmpeg, ExitCode: 1, StderrTail: "No such file"}.Err()
	if err == nil || !strings.Contains(err.Error(), "ffmpeg exited 1: No such file") {
		t.Errorf("Err() = %v", err)
	}
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if buf.String() != "hello" {
		t.Errorf("after short write got %q, want %q", buf.String(), "hello")
	}

	lw.Write([]byte(" world of test data"))
	got := buf.String()
	if len(got) > 10 {
		t.Errorf("buffer length %d exceeds limit 10", len(got))
	}
	if want := " test data"; got != want {
		t.Errorf("after overflow got %q, want %q", got, want)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "...world"},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.maxLen); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}

func TestIsAvailable(t *testing.T) {
	deps := map[string]DepInfo{
		"ffmpeg":  {Available: true, Version: "ffmpeg version 7.1"},
		"whisper": {Available: false, Error: "not found"},
	}

	if !isAvailable(deps, "ffmpeg") {
		t.Error("ffmpeg should be available")
	}
	if isAvailable(deps, "whisper") {
		t.Error("whisper should not be available")
	}
	if isAvailable(deps, "nonexistent") {
		t.Error("nonexistent should not be available")
	}
}

func TestProbeFile(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "ggml-base.bin")
	os.WriteFile(model, []byte("x"), 0644)

	if d := probeFile(model); !d.Available || d.Path != "ggml-base.bin" {
		t.Errorf("probeFile(existing) = %+v", d)
	}
	if d := probeFile(filepath.Join(dir, "missing.bin")); d.Available {
		t.Error("missing model reported available")
	}
	if d := probeFile(""); d.Available || d.Error != "not configured" {
		t.Errorf("probeFile(\"\") = %+v", d)
	}
}

func TestRunDoctor_MissingTools(t *testing.T) {
	cfg := DefaultConfig(t.TempDir(), testLogger())
	cfg.FFmpegPath = "/nonexistent/ffmpeg"
	cfg.FFprobePath = "/nonexistent/ffprobe"
	cfg.WhisperPath = "/nonexistent/whisper-cli"
	r, err := NewRunner(cfg)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	caps, err := r.RunDoctor(context.Background())
	if err != nil {
		t.Fatalf("RunDoctor: %v", err)
	}
	if caps.HasRender || caps.HasShots || caps.HasSpeech {
		t.Errorf("no tools should be usable: %+v", caps)
	}
	if caps.Summary.Total != 4 || caps.Summary.Available != 0 || caps.Summary.AllOK {
		t.Errorf("summary = %+v", caps.Summary)
	}
}

func TestRun_UnknownTool(t *testing.T) {
	r, err := NewRunner(DefaultConfig(t.TempDir(), testLogger()))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if _, err := r.Run(context.Background(), Tool("blender"), time.Second); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestRun_MissingBinary(t *testing.T) {
	cfg := DefaultConfig(t.TempDir(), testLogger())
	cfg.FFmpegPath = "/nonexistent/ffmpeg"
	r, err := NewRunner(cfg)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	res, err := r.Run(context.Background(), ToolFFmpeg, time.Second, "-version")
	if err == nil {
		t.Fatal("expected error for missing binary")
	}
	if res.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", res.ExitCode)
	}
}

func TestCachedDoctor_TTL(t *testing.T) {
	calls := 0
	fake := &fakeRunner{
		doctorFn: func(ctx context.Context) (*Capabilities, error) {
			calls++
			return &Capabilities{HasRender: true, ProbedAt: time.Now()}, nil
		},
	}

	doc := NewCachedDoctor(fake, testLogger())
	doc.ttl = 100 * time.Millisecond
	ctx := context.Background()

	caps1, err := doc.Get(ctx)
	if err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if !caps1.HasRender {
		t.Error("expected HasRender=true")
	}

	caps2, _ := doc.Get(ctx)
	if caps2.ProbedAt != caps1.ProbedAt || calls != 1 {
		t.Errorf("expected cached result on second call, calls=%d", calls)
	}

	time.Sleep(150 * time.Millisecond)

	if _, err := doc.Get(ctx); err != nil {
		t.Fatalf("third Get (after TTL): %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls after TTL expiry, got %d", calls)
	}
}

func TestCachedDoctor_StaleOnFailure(t *testing.T) {
	fail := false
	fake := &fakeRunner{
		doctorFn: func(ctx context.Context) (*Capabilities, error) {
			if fail {
				return nil, errors.New("boom")
			}
			return &Capabilities{HasSpeech: true, ProbedAt: time.Now()}, nil
		},
	}
	doc := NewCachedDoctor(fake, testLogger())
	ctx := context.Background()

	if _, err := doc.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	fail = true
	caps, err := doc.Refresh(ctx)
	if err != nil || !caps.HasSpeech {
		t.Errorf("expected stale capabilities, got %+v, %v", caps, err)
	}

	doc.Invalidate()
	if _, err := doc.Refresh(ctx); err == nil {
		t.Error("expected error without cache")
	}
}

func TestCachedDoctor_Require(t *testing.T) {
	fake := &fakeRunner{
		doctorFn: func(ctx context.Context) (*Capabilities, error) {
			return &Capabilities{HasRender: true, ProbedAt: time.Now()}, nil
		},
	}
	doc := NewCachedDoctor(fake, testLogger())
	ctx := context.Background()

	if err := doc.RequireRender(ctx); err != nil {
		t.Errorf("RequireRender: %v", err)
	}
	if err := doc.RequireSpeech(ctx); !errors.Is(err, ErrToolsUnavailable) {
		t.Errorf("RequireSpeech = %v, want ErrToolsUnavailable", err)
	}
}

func TestSafePath_DebugMode(t *testing.T) {
	r := &SubprocessRunner{cfg: Config{DebugPaths: true}}
	path := "/Users/test/secret/file.mp4"
	if got := r.safePath(path); got != path {
		t.Errorf("debug mode: safePath(%q) = %q, want full path", path, got)
	}
}

func TestSafePath_ProductionMode(t *testing.T) {
	r := &SubprocessRunner{cfg: Config{DebugPaths: false}}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home dir")
	}
	path := filepath.Join(home, ".adclip", "artifacts", "clip.mp4")
	if got := r.safePath(path); got != "~/.adclip/artifacts/clip.mp4" {
		t.Errorf("safePath() = %q, want %q", got, "~/.adclip/artifacts/clip.mp4")
	}
}

type fakeRunner struct {
	doctorFn func(ctx context.Context) (*Capabilities, error)
}

func (f *fakeRunner) RunDoctor(ctx context.Context) (*Capabilities, error) {
	return f.doctorFn(ctx)
}

func (f *fakeRunner) Run(ctx context.Context, tool Tool, timeout time.Duration, args ...string) (RunResult, error) {
	return RunResult{Tool: tool}, nil
}

func (f *fakeRunner) ArtifactsDir() string {
	return "/tmp/artifacts"
}
