package media

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/adclip/adclip/internal/transcript"
)

// Segment is a time range of the source video, in seconds.
type Segment struct {
	Start float64
	End   float64
}

// SegmentsFromLines merges overlapping transcript lines and returns the
// ranges to keep, in the order the lines were given.
func SegmentsFromLines(lines []transcript.Line) []Segment {
	merged := transcript.MergeOverlapping(append([]transcript.Line(nil), lines...))
	segs := make([]Segment, 0, len(merged))
	for _, l := range merged {
		if l.EndTime <= l.StartTime {
			continue
		}
		segs = append(segs, Segment{Start: l.StartTime, End: l.EndTime})
	}
	return segs
}

// BuildConcatFilter returns a filter graph trimming every segment out of
// input 0 and concatenating them into [outv] and, with audio, [outa].
func BuildConcatFilter(segments []Segment, withAudio bool) string {
	var b strings.Builder
	for i, s := range segments {
		fmt.Fprintf(&b, "[0:v]trim=start=%s:end=%s,setpts=PTS-STARTPTS[v%d];", secs(s.Start), secs(s.End), i)
		if withAudio {
			fmt.Fprintf(&b, "[0:a]atrim=start=%s:end=%s,asetpts=PTS-STARTPTS[a%d];", secs(s.Start), secs(s.End), i)
		}
	}
	for i := range segments {
		fmt.Fprintf(&b, "[v%d]", i)
		if withAudio {
			fmt.Fprintf(&b, "[a%d]", i)
		}
	}
	a := 0
	if withAudio {
		a = 1
	}
	fmt.Fprintf(&b, "concat=n=%d:v=1:a=%d[outv]", len(segments), a)
	if withAudio {
		b.WriteString("[outa]")
	}
	return b.String()
}

// VerticalCrop returns the width and x offset of a centred 9:16 crop of a
// width x height frame. The crop width is even, as libx264 requires.
func VerticalCrop(width, height int) (cropWidth, x int) {
	cropWidth = height * 9 / 16
	if cropWidth > width {
		cropWidth = width
	}
	cropWidth -= cropWidth % 2
	return cropWidth, (width - cropWidth) / 2
}

// ParseSceneCuts reads the output of ffmpeg's metadata=print filter and
// returns the pts_time of every selected frame.
func ParseSceneCuts(r io.Reader) ([]float64, error) {
	var cuts []float64
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		i := strings.Index(line, "pts_time:")
		if i < 0 {
			continue
		}
		field := strings.Fields(line[i+len("pts_time:"):])
		if len(field) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(field[0], 64)
		if err != nil {
			return nil, fmt.Errorf("parse pts_time %q: %w", field[0], err)
		}
		cuts = append(cuts, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read scene file: %w", err)
	}
	return cuts, nil
}

// ShotsFromCuts turns cut points into contiguous shots spanning
// [0, duration]. Starts are floored and ends rounded to a tenth of a second.
func ShotsFromCuts(cuts []float64, duration float64) []transcript.Shot {
	sorted := make([]float64, 0, len(cuts))
	for _, c := range cuts {
		if c > 0 && (duration <= 0 || c < duration) {
			sorted = append(sorted, c)
		}
	}
	sort.Float64s(sorted)

	bounds := []float64{0}
	for _, c := range sorted {
		if c-bounds[len(bounds)-1] > 0.05 {
			bounds = append(bounds, c)
		}
	}
	if duration > bounds[len(bounds)-1] {
		bounds = append(bounds, duration)
	}
	if len(bounds) < 2 {
		return nil
	}

	shots := make([]transcript.Shot, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		shots = append(shots, transcript.Shot{
			StartTime: math.Floor(bounds[i]*10) / 10,
			EndTime:   math.Round(bounds[i+1]*10) / 10,
		})
	}
	return shots
}

func secs(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func escapeFilterPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "\\\\")
	p = strings.ReplaceAll(p, ":", "\\:")
	p = strings.ReplaceAll(p, "'", "\\'")
	return p
}
