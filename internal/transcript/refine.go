package transcript

import (
	"math"
	"strings"
)

const (
	// GapMultiplier splits a line where a word's gap exceeds this multiple
	// of the line's average gap.
	GapMultiplier = 2.5
	// MinClipDuration is the shortest clip MergeShortClips leaves standing.
	MinClipDuration = 5.0
)

// RecognizedWord is a word as returned by a speech recogniser.
type RecognizedWord struct {
	Word  string
	Start float64
	End   float64
}

// Alternative is one recognition hypothesis for a portion of audio.
type Alternative struct {
	Transcript string
	Words      []RecognizedWord
}

// RecognitionResult covers a consecutive portion of the audio. The first
// alternative is the most likely one.
type RecognitionResult struct {
	Alternatives []Alternative
}

// BuildFromRecognition converts recogniser output into transcript lines, one
// per alternative that carries words.
func BuildFromRecognition(results []RecognitionResult) []Line {
	var lines []Line
	lastEnd := 0.0
	for _, r := range results {
		for _, alt := range r.Alternatives {
			if len(alt.Words) == 0 {
				continue
			}
			start := alt.Words[0].Start
			end := alt.Words[len(alt.Words)-1].End
			line := Line{
				Text:      strings.TrimSpace(alt.Transcript),
				StartTime: start,
				EndTime:   end,
				Duration:  end - start,
				Words:     make([]Word, 0, len(alt.Words)),
			}
			for _, w := range alt.Words {
				line.Words = append(line.Words, Word{
					Text:      w.Word,
					StartTime: w.Start,
					EndTime:   w.End,
					Duration:  w.End - w.Start,
					Gap:       w.End - lastEnd,
				})
				lastEnd = w.End
			}
			lines = append(lines, line)
		}
	}
	return lines
}

// RefineByGaps splits lines at unusually long pauses.
func RefineByGaps(lines []Line) []Line {
	var out []Line
	for _, line := range lines {
		if len(line.Words) < 2 {
			continue
		}
		var sum float64
		for _, w := range line.Words[1:] {
			sum += w.Gap
		}
		average := sum / float64(len(line.Words)-1)

		var words []Word
		for i, w := range line.Words {
			if i > 1 && w.Gap > average*GapMultiplier {
				out = append(out, NewLine(words, nil, nil))
				words = nil
			}
			words = append(words, w)
		}
		if len(words) > 0 {
			out = append(out, NewLine(words, nil, nil))
		}
	}
	return out
}

// RefineByShots re-cuts the word stream so that lines end on shot
// boundaries. Without shots the input is returned unchanged.
func RefineByShots(lines []Line, shots []Shot) []Line {
	if len(shots) == 0 {
		return lines
	}
	all := Flatten(lines)
	if len(all) == 0 {
		return nil
	}

	var out []Line
	idx := 0
	var words []Word
	for i, w := range all {
		words = append(words, w)
		for idx < len(shots)-1 && shots[idx].EndTime <= words[0].StartTime {
			idx++
		}
		shot := shots[idx]
		if w.EndTime <= shot.EndTime {
			continue
		}
		start := math.Min(words[0].StartTime, shot.StartTime)
		var end float64
		if i < len(all)-1 {
			end = math.Max(w.EndTime, math.Min(shot.EndTime, all[i+1].StartTime))
		} else {
			end = math.Max(w.EndTime, shot.EndTime)
		}
		if idx < len(shots)-1 {
			idx++
		}
		out = append(out, NewLine(words, &start, &end))
		words = nil
	}

	if len(words) > 0 {
		shot := shots[idx]
		start := math.Min(words[0].StartTime, shot.StartTime)
		if len(out) > 0 {
			prev := out[len(out)-1]
			start = math.Max(start, prev.Words[len(prev.Words)-1].EndTime)
		}
		end := math.Max(words[len(words)-1].EndTime, shot.EndTime)
		out = append(out, NewLine(words, &start, &end))
	}
	return out
}

// MergeShortClips merges consecutive lines shorter than MinClipDuration
// together, as well as lines whose words overlap the running clip.
func MergeShortClips(lines []Line) []Line {
	if len(lines) == 0 {
		return nil
	}
	var out []Line
	clip := lines[0]
	for i := range lines {
		if i == len(lines)-1 {
			out = append(out, clip)
			break
		}
		next := lines[i+1]
		if next.EndTime-clip.StartTime <= MinClipDuration || overlaps(clip, next) {
			clip = mergeLines(clip, next)
			continue
		}
		out = append(out, clip)
		clip = next
	}
	return out
}

func overlaps(a, b Line) bool {
	if len(b.Words) == 0 {
		return false
	}
	return b.Words[0].StartTime >= a.StartTime && b.Words[len(b.Words)-1].StartTime <= a.EndTime
}

func mergeLines(a, b Line) Line {
	end := math.Max(a.EndTime, b.EndTime)
	words := make([]Word, 0, len(a.Words)+len(b.Words))
	words = append(words, a.Words...)
	words = append(words, b.Words...)
	return Line{
		Text:      a.Text + " " + b.Text,
		StartTime: a.StartTime,
		EndTime:   end,
		Duration:  end - a.StartTime,
		Words:     words,
	}
}

// MatchWithShots widens each line to the surrounding shot so the rendered
// clip does not cut mid-shot, without swallowing neighbouring words. The
// last line always runs to the end of the final shot.
func MatchWithShots(shots []Shot, lines []Line, words []Word) []Line {
	out := make([]Line, len(lines))
	copy(out, lines)
	if len(shots) == 0 {
		return out
	}

	si, wi := 0, 0
	for i, line := range out {
		for si < len(shots)-1 && shots[si].EndTime <= line.StartTime {
			si++
		}
		start := math.Min(line.StartTime, shots[si].StartTime)
		if len(words) > 0 {
			for wi+1 < len(words)-1 && words[wi+1].EndTime < line.StartTime {
				wi++
			}
			if prev := words[wi]; prev.StartTime != line.StartTime {
				start = math.Max(prev.EndTime, start)
			}
		}

		for si < len(shots)-1 && shots[si].EndTime < line.EndTime {
			si++
		}
		end := math.Max(line.EndTime, shots[si].EndTime)
		if len(words) > 0 {
			for wi < len(words)-1 && words[wi].StartTime < line.EndTime {
				wi++
			}
			if next := words[wi]; next.EndTime != line.EndTime {
				end = math.Min(end, next.StartTime)
			}
		}
		if i == len(out)-1 {
			end = shots[len(shots)-1].EndTime
		}

		out[i].StartTime = start
		out[i].EndTime = end
		out[i].Duration = end - start
	}
	return out
}

// MergeOverlapping collapses each segment into the previous one when the two
// overlap. The given order is kept, so a reordered selection stays reordered.
func MergeOverlapping(lines []Line) []Line {
	if len(lines) == 0 {
		return nil
	}
	out := []Line{lines[0]}
	for _, l := range lines[1:] {
		last := &out[len(out)-1]
		if l.StartTime <= last.EndTime && l.EndTime >= last.StartTime {
			last.StartTime = math.Min(last.StartTime, l.StartTime)
			last.EndTime = math.Max(last.EndTime, l.EndTime)
			last.Duration = last.EndTime - last.StartTime
			continue
		}
		out = append(out, l)
	}
	return out
}
