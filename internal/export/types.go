package export

import "github.com/adclip/adclip/internal/transcript"

// Request asks for an EDL of the selected transcript lines of one video.
type Request struct {
	FileName    string            `json:"file_name"`
	FullPath    string            `json:"full_path"`
	ProjectName string            `json:"project_name"`
	FrameRate   float64           `json:"frame_rate"`
	Transcript  []transcript.Line `json:"transcript"`
}

// Event is one edit: a source range placed back to back with the previous
// event on the record timeline.
type Event struct {
	ClipName  string
	MediaPath string
	Comment   string
	Start     float64 // seconds
	End       float64
}

type Result struct {
	Status     string `json:"status"`
	FullPath   string `json:"full_path"`
	URL        string `json:"url"`
	EventCount int    `json:"event_count"`
	EDL        string `json:"edl"`
}
