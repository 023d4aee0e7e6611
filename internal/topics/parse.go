package topics

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/adclip/adclip/internal/transcript"
)

// ParseTopics reads the model's grouping answer. Lines starting with "*"
// are topic headings, lines starting with "+" or "-" reference a numbered
// transcript line as "... N: text". References to unknown lines are
// ignored, a heading with only unknown references is kept empty.
func ParseTopics(text string, lines []transcript.Line) transcript.TopicGroups {
	groups := transcript.TopicGroups{}
	heading := ""
	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimRight(raw, "\r")
		switch {
		case strings.HasPrefix(raw, "*"):
			heading = strings.Trim(raw, "* ")
		case strings.HasPrefix(raw, "+"), strings.HasPrefix(raw, "-"):
			ref, body, ok := strings.Cut(raw, ":")
			if !ok {
				continue
			}
			fields := strings.Split(ref, " ")
			num := fields[len(fields)-1]

			if _, exists := groups[heading]; !exists {
				groups[heading] = map[int]transcript.Line{}
			}
			n, ok := lineNumber(num)
			if !ok || n >= len(lines) {
				continue
			}
			src := lines[n]
			groups[heading][n] = transcript.Line{
				Text:      strings.TrimLeft(body, " \t"),
				StartTime: src.StartTime,
				EndTime:   src.EndTime,
				Duration:  src.EndTime - src.StartTime,
				Words:     src.Words,
			}
		}
	}
	return groups
}

func lineNumber(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// FixTopicTimestamps relocates every referenced line in the word stream and
// widens it towards the surrounding shots, clamped by the neighbouring
// words. The corrected timing is written back into every topic that
// references the line, and every line is marked checked.
func FixTopicTimestamps(shots []transcript.Shot, groups transcript.TopicGroups, lines []transcript.Line) transcript.TopicGroups {
	words := transcript.Flatten(lines)

	seen := make(map[[2]float64]bool)
	var ordered []transcript.Line
	for _, topic := range sortedTopics(groups) {
		for _, n := range sortedLineNumbers(groups[topic]) {
			l := groups[topic][n]
			key := [2]float64{l.StartTime, l.EndTime}
			if seen[key] {
				continue
			}
			seen[key] = true
			num := n
			l.LineNumber = &num
			ordered = append(ordered, l)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].StartTime < ordered[j].StartTime })

	corrected := make(map[int]transcript.Line, len(ordered))
	si, wp := 0, 0
	for _, l := range ordered {
		tokens := strings.Split(l.Text, " ")
		pos := wp
		for pos < len(words) && !startsAt(words, pos, tokens) {
			pos++
		}
		count := len(tokens)
		if pos+count > len(words) {
			// reworded by the model, keep the transcript timing
			continue
		}
		wp = pos

		start := words[wp].StartTime
		end := words[wp+count-1].EndTime

		for si < len(shots) && shots[si].EndTime < start {
			si++
		}
		if si < len(shots) {
			if wp > 0 {
				start = math.Min(start, math.Max(words[wp-1].EndTime, shots[si].StartTime))
			} else {
				start = math.Min(start, shots[si].StartTime)
			}
		}

		for si < len(shots) && shots[si].StartTime < end {
			si++
		}
		if si < len(shots) {
			if next := wp + count; next < len(words) {
				end = math.Max(end, math.Min(words[next].StartTime, shots[si].EndTime))
			} else {
				end = math.Max(end, shots[si].EndTime)
			}
		}

		run := make([]transcript.Word, count)
		copy(run, words[wp:wp+count])
		corrected[*l.LineNumber] = transcript.Line{
			Text:      l.Text,
			StartTime: start,
			EndTime:   end,
			Duration:  end - start,
			Words:     run,
		}
	}

	for topic, refs := range groups {
		for n, l := range refs {
			if c, ok := corrected[n]; ok {
				l.StartTime = c.StartTime
				l.EndTime = c.EndTime
				l.Duration = c.Duration
				l.Words = c.Words
			}
			num, checked := n, true
			l.LineNumber = &num
			l.Checked = &checked
			groups[topic][n] = l
		}
	}
	return groups
}

// startsAt reports whether the words from idx spell out tokens.
func startsAt(words []transcript.Word, idx int, tokens []string) bool {
	if idx+len(tokens) > len(words) {
		return false
	}
	for i, tok := range tokens {
		if !strings.EqualFold(words[idx+i].Text, tok) {
			return false
		}
	}
	return true
}

// SelectTopicLines turns the user's topic selection into a summarized
// transcript: checked lines only, each line number once, by start time.
func SelectTopicLines(groups transcript.TopicGroups) []transcript.Line {
	out := []transcript.Line{}
	added := make(map[int]bool)
	for _, topic := range sortedTopics(groups) {
		for _, n := range sortedLineNumbers(groups[topic]) {
			l := groups[topic][n]
			if added[n] || l.Checked == nil || !*l.Checked {
				continue
			}
			added[n] = true
			num := n
			l.LineNumber = &num
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

func sortedTopics(groups transcript.TopicGroups) []string {
	topics := make([]string, 0, len(groups))
	for t := range groups {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func sortedLineNumbers(refs map[int]transcript.Line) []int {
	nums := make([]int, 0, len(refs))
	for n := range refs {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}
