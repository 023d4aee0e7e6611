package catalog

import (
	"encoding/json"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adclip/adclip/internal/transcript"
)

// Object name prefixes inside the bucket.
const (
	VideosPrefix = "videos/"
	AudioPrefix  = "videos/audio/"
	OutputPrefix = "output/"
	outputFolder = "output"
)

// Video is an uploaded source video.
type Video struct {
	ID          string    `json:"id"`
	Path        string    `json:"full_path"`
	Filename    string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// StoredTranscript is the cached recognition output for a file name.
type StoredTranscript struct {
	Filename     string            `json:"filename"`
	LanguageCode string            `json:"language_code"`
	SpeechModel  string            `json:"speech_model"`
	Lines        []transcript.Line `json:"lines"`
	CreatedAt    time.Time         `json:"created_at"`
}

const (
	JobTypeCutVideo = "cut_video"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

type Job struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	VideoPath string          `json:"video_path,omitempty"`
	Payload   json.RawMessage `json:"-"`
	Result    json.RawMessage `json:"result,omitempty"`
	Progress  int             `json:"progress"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

var VideoExtensions = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
}

func NewID() string {
	return uuid.NewString()
}

func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(path.Ext(filename))]
}

// FilenameFromPath returns the last slash-separated component of an
// object path, or "" for an empty path.
func FilenameFromPath(p string) string {
	if p == "" {
		return ""
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// audioObject is where the extracted audio of a video is cached.
func audioObject(filename string) string {
	base := filename
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return AudioPrefix + base + ".wav"
}
