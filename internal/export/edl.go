package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/adclip/adclip/internal/transcript"
)

// DefaultFrameRate is used when the request does not name one.
const DefaultFrameRate = 30.0

// EventsFromLines turns transcript lines into edit events in the order given.
// Overlapping lines become one event, matching the cut the renderer makes.
func EventsFromLines(lines []transcript.Line, clipName, mediaPath string) []Event {
	events := make([]Event, 0, len(lines))
	for _, l := range transcript.MergeOverlapping(append([]transcript.Line(nil), lines...)) {
		if l.EndTime <= l.StartTime {
			continue
		}
		events = append(events, Event{
			ClipName:  clipName,
			MediaPath: mediaPath,
			Comment:   SanitizeName(l.Text, 200),
			Start:     l.StartTime,
			End:       l.EndTime,
		})
	}
	return events
}

// GenerateEDL renders a CMX 3600 edit list. Record timecodes are accumulated
// in whole frames so rounding never drifts across events.
func GenerateEDL(events []Event, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = int(DefaultFrameRate)
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	record := 0
	for i, ev := range events {
		in, out := toFrames(ev.Start, fps), toFrames(ev.End, fps)
		length := out - in

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "V",
				timecode(in, fps), timecode(out, fps), timecode(record, fps), timecode(record+length, fps)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", ev.ClipName),
			fmt.Sprintf("* MEDIA PATH:  %s", ev.MediaPath),
		)
		if ev.Comment != "" {
			lines = append(lines, fmt.Sprintf("* COMMENT:  %s", ev.Comment))
		}
		record += length
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func toFrames(seconds float64, fps int) int {
	return int(math.Round(seconds * float64(fps)))
}

func timecode(frames, fps int) string {
	ff := frames % fps
	totalSeconds := frames / fps
	return fmt.Sprintf("%02d:%02d:%02d:%02d", totalSeconds/3600, totalSeconds/60%60, totalSeconds%60, ff)
}
