// Package pipelines runs the external media tools (ffmpeg, ffprobe and
// whisper.cpp) as subprocesses and reports which of them are usable.
package pipelines

import (
	"errors"
	"fmt"
	"time"
)

// ErrToolsUnavailable is returned when a required tool is not installed.
var ErrToolsUnavailable = errors.New("required media tools unavailable")

// Tool names an external executable.
type Tool string

const (
	ToolFFmpeg  Tool = "ffmpeg"
	ToolFFprobe Tool = "ffprobe"
	ToolWhisper Tool = "whisper"
)

// Capabilities reports which tools were found by the doctor probe.
type Capabilities struct {
	Executables map[string]DepInfo `json:"executables"`
	Models      map[string]DepInfo `json:"models"`
	Summary     SummaryInfo        `json:"summary"`

	HasSpeech bool      `json:"has_speech"`
	HasShots  bool      `json:"has_shots"`
	HasRender bool      `json:"has_render"`
	ProbedAt  time.Time `json:"probed_at"`
}

// DepInfo represents the availability status of a single dependency.
type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SummaryInfo summarises overall dependency status.
type SummaryInfo struct {
	Available int  `json:"available"`
	Total     int  `json:"total"`
	AllOK     bool `json:"all_ok"`
}

// RunResult is the structured outcome of executing a tool subprocess.
type RunResult struct {
	Tool       Tool          `json:"tool"`
	ExitCode   int           `json:"exit_code"`
	Stdout     string        `json:"-"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// Err describes a failed run, nil on success.
func (r RunResult) Err() error {
	if r.IsSuccess() {
		return nil
	}
	return fmt.Errorf("%s exited %d: %s", r.Tool, r.ExitCode, truncate(r.StderrTail, 512))
}
