// Package transcript holds the transcript data model and the timing
// refinements applied between speech recognition and clip rendering.
// All times are seconds from the start of the source video.
package transcript

import (
	"fmt"
	"strings"
)

// Word is a single recognised word.
type Word struct {
	Text       string  `json:"text"`
	StartTime  float64 `json:"startTime"`
	EndTime    float64 `json:"endTime"`
	Duration   float64 `json:"duration"`
	Gap        float64 `json:"gap,omitempty"`
	ShouldKeep bool    `json:"shouldKeep,omitempty"`
}

// Line is one transcript segment: a run of words shown to the user as a row.
type Line struct {
	Text       string  `json:"text"`
	StartTime  float64 `json:"startTime"`
	EndTime    float64 `json:"endTime"`
	Duration   float64 `json:"duration"`
	Words      []Word  `json:"words"`
	LineNumber *int    `json:"lineNumber,omitempty"`
	Checked    *bool   `json:"checked,omitempty"`
}

// Shot is a visual shot boundary detected in the source video.
type Shot struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// TopicGroups maps a topic heading to the transcript lines supporting it,
// keyed by line number in the numbered transcript.
type TopicGroups map[string]map[int]Line

// NewLine builds a line from words. Bounds are taken from the
// first and last word when start or end is nil.
func NewLine(words []Word, start, end *float64) Line {
	s := words[0].StartTime
	if start != nil {
		s = *start
	}
	e := words[len(words)-1].EndTime
	if end != nil {
		e = *end
	}
	texts := make([]string, len(words))
	for i, w := range words {
		texts[i] = w.Text
	}
	cp := make([]Word, len(words))
	copy(cp, words)
	return Line{
		Text:      strings.Join(texts, " "),
		StartTime: s,
		EndTime:   e,
		Duration:  e - s,
		Words:     cp,
	}
}

// Flatten returns every word of the transcript in order.
func Flatten(lines []Line) []Word {
	n := 0
	for _, l := range lines {
		n += len(l.Words)
	}
	words := make([]Word, 0, n)
	for _, l := range lines {
		words = append(words, l.Words...)
	}
	return words
}

// FullText joins line texts with newlines.
func FullText(lines []Line) string {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	return strings.Join(texts, "\n")
}

// NumberedText renders lines as "Line N: text", which the topic prompts
// refer back to.
func NumberedText(lines []Line) string {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = fmt.Sprintf("Line %d: %s", i, l.Text)
	}
	return strings.Join(texts, "\n")
}

// TotalDuration sums line durations.
func TotalDuration(lines []Line) float64 {
	var total float64
	for _, l := range lines {
		total += l.Duration
	}
	return total
}
