// Package topics groups transcript lines under the main ideas of a video ad
// so the user can pick which ideas make the cut.
package topics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/adclip/adclip/internal/llm"
	"github.com/adclip/adclip/internal/summary"
	"github.com/adclip/adclip/internal/transcript"
)

const (
	maxOutputTokens     = 2048
	topK                = 40
	topP                = 0.8
	defaultTemperature  = 0.2
	brandingTemperature = 0.1
)

func summarizePrompt(numbered, userPrompt string) string {
	return "Summarize the main idea of the following video ad transcript to 3-5 bullet points.\n" +
		strings.TrimSpace(userPrompt) + "\n" +
		"input:" + numbered + "\noutput:"
}

func matchPrompt(numbered, bullets string) string {
	return "Show me all of the lines that support the following ideas and include the line number.\n" +
		bullets + "\n" + numbered
}

func brandingPrompt(numbered string) string {
	return `What are the most important sentences from the following transcript
if I want to emphasize on the brand in the transcript? Return 5 lines maximum.
Include the line number and do not include delimiter.

Format:
**Important Sentences to Keep for Branding**
- Line 1: text
` + "\n" + numbered
}

// Request is the input of SummarizeByTopic.
type Request struct {
	Filename     string            `json:"filename"`
	Transcript   []transcript.Line `json:"transcript"`
	Prompt       string            `json:"prompt"`
	LanguageCode string            `json:"language_code"`
	ModelName    string            `json:"model_name"`
}

// Grouper asks the model for topics and the lines supporting them.
type Grouper struct {
	gen    llm.Generator
	shots  summary.ShotStore
	logger *slog.Logger
}

func New(gen llm.Generator, shots summary.ShotStore, logger *slog.Logger) *Grouper {
	return &Grouper{gen: gen, shots: shots, logger: logger}
}

// SummarizeByTopic runs three prompts over the numbered transcript: main
// ideas as bullets, branding lines, and a mapping of lines onto the
// bullets. The branding answer is appended to the mapping before parsing,
// so it shows up as its own topic.
func (g *Grouper) SummarizeByTopic(ctx context.Context, req Request) (transcript.TopicGroups, error) {
	numbered := transcript.NumberedText(req.Transcript)

	shots, err := g.shots.GetShots(ctx, req.Filename)
	if err != nil {
		return nil, fmt.Errorf("load shots: %w", err)
	}

	bullets, err := g.generate(ctx, summarizePrompt(numbered, req.Prompt), req.ModelName, defaultTemperature)
	if err != nil {
		return nil, err
	}
	bullets = strings.Trim(bullets, " ")

	branding, err := g.generate(ctx, brandingPrompt(numbered), req.ModelName, brandingTemperature)
	if err != nil {
		return nil, err
	}

	matched, err := g.generate(ctx, matchPrompt(numbered, bullets), req.ModelName, defaultTemperature)
	if err != nil {
		return nil, err
	}

	answer := strings.TrimSpace(matched) + "\n\n" + strings.TrimSpace(branding)
	groups := ParseTopics(answer, req.Transcript)
	g.logger.Info("transcript grouped by topic", "video", req.Filename, "topics", len(groups))

	return FixTopicTimestamps(shots, groups, req.Transcript), nil
}

func (g *Grouper) generate(ctx context.Context, prompt, model string, temperature float32) (string, error) {
	out, err := g.gen.Generate(ctx, prompt, llm.Options{
		Model:           model,
		Temperature:     temperature,
		MaxOutputTokens: maxOutputTokens,
		TopK:            topK,
		TopP:            topP,
	})
	if err != nil {
		if errors.Is(err, llm.ErrBlocked) {
			return "", summary.ErrResponseBlocked
		}
		return "", fmt.Errorf("group transcript: %w", err)
	}
	return out, nil
}
