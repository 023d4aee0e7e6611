package summary

import (
	"strings"

	"github.com/adclip/adclip/internal/transcript"
)

// Aligner maps shortened text returned by the model back onto the timed
// transcript, so every output segment is real footage.
type Aligner interface {
	Align(words []transcript.Word, shortened string, lines []transcript.Line) []transcript.Line
}

// AlignerFor returns the aligner suited to a BCP-47 language code.
func AlignerFor(languageCode string) Aligner {
	if strings.EqualFold(languageCode, "th-TH") {
		return ThaiAligner{}
	}
	return DefaultAligner{}
}

var punctuation = strings.NewReplacer(",", "", ".", "", "?", "", "!", "")

// ExtractWords normalises model output into comparable tokens.
func ExtractWords(text string) []string {
	if strings.HasPrefix(strings.ToLower(strings.TrimLeft(text, " \t\r\n")), "transcript:") {
		text = strings.Replace(strings.ToLower(text), "transcript:", "", 1)
	}
	text = strings.ToLower(punctuation.Replace(text))
	return strings.Fields(text)
}

func normalizeWord(s string) string {
	return strings.ToLower(strings.TrimSpace(punctuation.Replace(s)))
}

// DefaultAligner walks the transcript and the summary with two pointers.
// A run of matching words becomes a segment. Up to two words the model
// inserted or dropped are tolerated inside a run, words flagged ShouldKeep
// are always taken, and runs of a single word are discarded.
type DefaultAligner struct{}

func (DefaultAligner) Align(words []transcript.Word, shortened string, _ []transcript.Line) []transcript.Line {
	summary := ExtractWords(shortened)
	matches := func(ti, wi int) bool {
		if ti >= len(words) || wi >= len(summary) {
			return false
		}
		return normalizeWord(words[ti].Text) == summary[wi]
	}

	var out []transcript.Line
	tp, wp := 0, 0
	for tp < len(words) {
		var run []transcript.Word

		for tp < len(words) && !matches(tp, wp) && !words[tp].ShouldKeep {
			tp++
		}

		for tp < len(words) && (matches(tp, wp) || matches(tp+1, wp+1) || matches(tp+2, wp+1) || words[tp].ShouldKeep) {
			run = append(run, words[tp])
			switch {
			case matches(tp, wp):
				wp++
			case !words[tp].ShouldKeep:
				run = append(run, words[tp+1])
				if !matches(tp+1, wp+1) {
					run = append(run, words[tp+2])
					tp++
				}
				tp++
				wp += 2
			}
			tp++
		}

		switch len(run) {
		case 0:
			continue
		case 1:
			wp--
			continue
		}
		out = append(out, transcript.NewLine(run, nil, nil))
	}
	return out
}

// ThaiAligner matches at line level. Thai is written without spaces between
// words, so a summary token is a whole phrase and a transcript line is taken
// when any of its words occurs inside the token. A line is never taken twice.
type ThaiAligner struct{}

func (ThaiAligner) Align(_ []transcript.Word, shortened string, lines []transcript.Line) []transcript.Line {
	tokens := ExtractWords(shortened)
	var out []transcript.Line
	taken := make(map[string]bool)
	ptr, latest := 0, -1

	for _, token := range tokens {
		if ptr >= len(lines) && latest < 0 {
			ptr = 0
		}
		if ptr >= len(lines) || (ptr > latest && latest > 0) {
			ptr = latest
		}
		for ptr >= 0 && ptr < len(lines) {
			if containsAnyWord(token, lines[ptr].Words) {
				if !taken[lines[ptr].Text] {
					taken[lines[ptr].Text] = true
					out = append(out, lines[ptr])
					latest = ptr
				}
				break
			}
			ptr++
		}
	}
	return out
}

func containsAnyWord(token string, words []transcript.Word) bool {
	for _, w := range words {
		if w.Text != "" && strings.Contains(token, strings.ToLower(w.Text)) {
			return true
		}
	}
	return false
}
