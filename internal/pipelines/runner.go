package pipelines

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024   // 8 KB tail of stderr kept for diagnostics
	maxStdoutBytes = 256 * 1024 // ffprobe JSON and version banners
)

// Runner executes media tools as subprocesses.
type Runner interface {
	// RunDoctor checks that every configured tool can be executed.
	RunDoctor(ctx context.Context) (*Capabilities, error)

	// Run executes tool with args, bounded by timeout. A non-zero exit is
	// reported as an error carrying the stderr tail.
	Run(ctx context.Context, tool Tool, timeout time.Duration, args ...string) (RunResult, error)

	// ArtifactsDir returns the base directory for intermediate files.
	ArtifactsDir() string
}

// Config holds the runner's configuration.
type Config struct {
	FFmpegPath    string // empty = "ffmpeg" on PATH
	FFprobePath   string // empty = "ffprobe" on PATH
	WhisperPath   string // empty = "whisper-cli" on PATH
	WhisperModel  string // ggml model file for whisper.cpp
	ArtifactsBase string // base dir for outputs, e.g. ~/.adclip/artifacts
	DoctorTimeout time.Duration
	Logger        *slog.Logger
	DebugPaths    bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(dataDir string, logger *slog.Logger) Config {
	return Config{
		ArtifactsBase: filepath.Join(dataDir, "artifacts"),
		DoctorTimeout: 30 * time.Second,
		Logger:        logger,
	}
}

// SubprocessRunner is the production implementation of Runner.
type SubprocessRunner struct {
	cfg  Config
	bins map[Tool]string
}

// NewRunner creates a SubprocessRunner. Missing binaries are not an error
// here, the doctor reports them.
func NewRunner(cfg Config) (*SubprocessRunner, error) {
	if err := os.MkdirAll(cfg.ArtifactsBase, 0755); err != nil {
		return nil, fmt.Errorf("cannot create artifacts dir: %w", err)
	}

	bins := map[Tool]string{
		ToolFFmpeg:  orDefault(cfg.FFmpegPath, "ffmpeg"),
		ToolFFprobe: orDefault(cfg.FFprobePath, "ffprobe"),
		ToolWhisper: orDefault(cfg.WhisperPath, "whisper-cli"),
	}

	cfg.Logger.Info("tool runner initialised",
		"ffmpeg", bins[ToolFFmpeg],
		"ffprobe", bins[ToolFFprobe],
		"whisper", bins[ToolWhisper],
		"artifacts_dir", cfg.ArtifactsBase,
	)

	return &SubprocessRunner{cfg: cfg, bins: bins}, nil
}

func (r *SubprocessRunner) ArtifactsDir() string {
	return r.cfg.ArtifactsBase
}

// RunDoctor resolves every tool on PATH and reads its version banner.
func (r *SubprocessRunner) RunDoctor(ctx context.Context) (*Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DoctorTimeout)
	defer cancel()

	caps := &Capabilities{
		Executables: make(map[string]DepInfo),
		Models:      make(map[string]DepInfo),
	}

	versionArgs := map[Tool][]string{
		ToolFFmpeg:  {"-version"},
		ToolFFprobe: {"-version"},
		ToolWhisper: {"--help"},
	}
	for _, tool := range []Tool{ToolFFmpeg, ToolFFprobe, ToolWhisper} {
		caps.Executables[string(tool)] = r.probeTool(ctx, tool, versionArgs[tool])
	}
	caps.Models["whisper"] = probeFile(r.cfg.WhisperModel)

	for _, deps := range []map[string]DepInfo{caps.Executables, caps.Models} {
		for _, d := range deps {
			caps.Summary.Total++
			if d.Available {
				caps.Summary.Available++
			}
		}
	}
	caps.Summary.AllOK = caps.Summary.Available == caps.Summary.Total

	caps.HasRender = isAvailable(caps.Executables, "ffmpeg")
	caps.HasShots = caps.HasRender && isAvailable(caps.Executables, "ffprobe")
	caps.HasSpeech = caps.HasRender &&
		isAvailable(caps.Executables, "whisper") &&
		isAvailable(caps.Models, "whisper")
	caps.ProbedAt = time.Now()

	r.cfg.Logger.Info("doctor probe complete",
		"speech", caps.HasSpeech,
		"shots", caps.HasShots,
		"render", caps.HasRender,
		"deps_available", caps.Summary.Available,
		"deps_total", caps.Summary.Total,
	)

	return caps, nil
}

func (r *SubprocessRunner) probeTool(ctx context.Context, tool Tool, args []string) DepInfo {
	path, err := exec.LookPath(r.bins[tool])
	if err != nil {
		return DepInfo{Error: err.Error()}
	}
	info := DepInfo{Available: true, Path: r.safePath(path)}
	res := r.exec(ctx, tool, args...)
	if out := strings.TrimSpace(res.Stdout); out != "" {
		info.Version = firstLine(out)
	}
	return info
}

func probeFile(path string) DepInfo {
	if path == "" {
		return DepInfo{Error: "not configured"}
	}
	if _, err := os.Stat(path); err != nil {
		return DepInfo{Error: err.Error()}
	}
	return DepInfo{Available: true, Path: filepath.Base(path)}
}

// Run executes a tool with a timeout.
func (r *SubprocessRunner) Run(ctx context.Context, tool Tool, timeout time.Duration, args ...string) (RunResult, error) {
	if _, ok := r.bins[tool]; !ok {
		return RunResult{Tool: tool, ExitCode: -1}, fmt.Errorf("unknown tool %q", tool)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res := r.exec(ctx, tool, args...)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("%s timed out after %s", tool, timeout)
	}
	return res, res.Err()
}

// exec is the core subprocess execution helper.
func (r *SubprocessRunner) exec(ctx context.Context, tool Tool, args ...string) RunResult {
	start := time.Now()
	cmd := exec.CommandContext(ctx, r.bins[tool], args...)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = io.Writer(&limitedWriter{w: &stdoutBuf, limit: maxStdoutBytes})
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})

	r.cfg.Logger.Debug("executing tool command", "tool", tool, "args", r.safeArgs(args))

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			stderrBuf.WriteString(err.Error())
		}
	}

	stderrTail := stderrBuf.String()

	if exitCode != 0 {
		r.cfg.Logger.Warn("tool command failed",
			"tool", tool,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		r.cfg.Logger.Debug("tool command succeeded",
			"tool", tool,
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return RunResult{
		Tool:       tool,
		ExitCode:   exitCode,
		Stdout:     stdoutBuf.String(),
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

func (r *SubprocessRunner) safeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if filepath.IsAbs(a) {
			a = r.safePath(a)
		}
		out[i] = a
	}
	return out
}

func (r *SubprocessRunner) safePath(path string) string {
	if r.cfg.DebugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

func isAvailable(deps map[string]DepInfo, name string) bool {
	d, ok := deps[name]
	return ok && d.Available
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
