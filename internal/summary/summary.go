// Package summary shortens a transcript with a language model until the
// resulting clip fits a target duration.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/adclip/adclip/internal/llm"
	"github.com/adclip/adclip/internal/transcript"
)

const (
	DefaultMinDuration  = 10.0
	DefaultMaxDuration  = 40.0
	DefaultLanguageCode = "en-US"

	initialTemperature = 0.2
	temperatureStep    = 0.2
	maxRetries         = 2 // last attempt runs at 0.6

	maxOutputTokens = 1024
	topK            = 40
	topP            = 0.8
)

// ErrResponseBlocked is returned when the model refuses the first request.
var ErrResponseBlocked = errors.New("the response was blocked due to potential violation of Responsible AI")

const rootPrompt = `You are a senior copy writer for an advertising agency who excels at summarizing transcript for video ads.
Shorten the transcript by keeping important lines and removing other lines.
Keep the first and last lines of the transcript.
Keep the format of the output the same with the input.
Don't make the response too short.`

// BuildPrompt assembles the shortening prompt. The user prompt is optional.
func BuildPrompt(text, userPrompt string) string {
	return rootPrompt + "\n" + strings.TrimSpace(userPrompt) + "\n" + "Transcript:" + text
}

// ShotStore returns the detected shots of a video, nil when unknown.
type ShotStore interface {
	GetShots(ctx context.Context, filename string) ([]transcript.Shot, error)
}

// Audit is a record of one shortening run.
type Audit struct {
	Video       string
	FullText    string
	Summary     string
	FinalOutput string
}

// AuditStore persists shortening runs for later review.
type AuditStore interface {
	RecordSummary(ctx context.Context, a Audit) error
}

// Request is the input of SummarizeByDuration. Zero durations and empty
// strings take the package defaults.
type Request struct {
	Filename     string            `json:"filename"`
	Transcript   []transcript.Line `json:"transcript"`
	Prompt       string            `json:"prompt"`
	MinDuration  float64           `json:"min_duration"`
	MaxDuration  float64           `json:"max_duration"`
	LanguageCode string            `json:"language_code"`
	ModelName    string            `json:"model_name"`
}

// UnmarshalJSON accepts the durations as numbers or numeric strings, as sent
// by HTML number inputs. Any other value falls back to the default.
func (r *Request) UnmarshalJSON(data []byte) error {
	type plain Request
	aux := struct {
		*plain
		MinDuration json.RawMessage `json:"min_duration"`
		MaxDuration json.RawMessage `json:"max_duration"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.MinDuration != nil {
		r.MinDuration = ParseSeconds(aux.MinDuration)
	}
	if aux.MaxDuration != nil {
		r.MaxDuration = ParseSeconds(aux.MaxDuration)
	}
	return nil
}

// ParseSeconds reads a JSON number or numeric string. Anything else,
// including null and non-finite values, yields 0.
func ParseSeconds(raw json.RawMessage) float64 {
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(str), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Result is the output of SummarizeByDuration.
type Result struct {
	SummarizedTranscript []transcript.Line `json:"summarized_transcript"`
}

// Summarizer runs the shortening loop.
type Summarizer struct {
	gen    llm.Generator
	shots  ShotStore
	audit  AuditStore
	logger *slog.Logger
}

func New(gen llm.Generator, shots ShotStore, audit AuditStore, logger *slog.Logger) *Summarizer {
	return &Summarizer{gen: gen, shots: shots, audit: audit, logger: logger}
}

// SummarizeByDuration asks the model to shorten the transcript, aligns the
// answer back onto the timed words and snaps it to shot boundaries. While
// the result falls outside [MinDuration, MaxDuration] the previous answer is
// shortened again at a higher temperature.
func (s *Summarizer) SummarizeByDuration(ctx context.Context, req Request) (*Result, error) {
	if req.MinDuration <= 0 {
		req.MinDuration = DefaultMinDuration
	}
	if req.MaxDuration <= 0 {
		req.MaxDuration = DefaultMaxDuration
	}
	if req.LanguageCode == "" {
		req.LanguageCode = DefaultLanguageCode
	}

	logger := s.logger.With("video", req.Filename)
	aligner := AlignerFor(req.LanguageCode)
	words := transcript.Flatten(req.Transcript)

	shots, err := s.shots.GetShots(ctx, req.Filename)
	if err != nil {
		return nil, fmt.Errorf("load shots: %w", err)
	}

	fullText := transcript.FullText(req.Transcript)
	shortened, err := s.shorten(ctx, fullText, req, initialTemperature)
	if err != nil {
		if errors.Is(err, llm.ErrBlocked) {
			return nil, ErrResponseBlocked
		}
		return nil, err
	}

	segments := transcript.MatchWithShots(shots, aligner.Align(words, shortened, req.Transcript), words)
	duration := transcript.TotalDuration(segments)
	logger.Info("transcript shortened", "temperature", initialTemperature, "duration", duration)

	for i := 1; i <= maxRetries && !withinRange(duration, req.MinDuration, req.MaxDuration); i++ {
		temperature := initialTemperature + temperatureStep*float64(i)
		next, err := s.shorten(ctx, shortened, req, temperature)
		if err != nil {
			if errors.Is(err, llm.ErrBlocked) {
				logger.Warn("retry blocked, keeping previous answer", "temperature", temperature)
				break
			}
			return nil, err
		}
		shortened = next
		segments = transcript.MatchWithShots(shots, aligner.Align(words, shortened, req.Transcript), words)
		duration = transcript.TotalDuration(segments)
		logger.Info("transcript shortened", "temperature", temperature, "duration", duration)
	}

	if err := s.audit.RecordSummary(ctx, Audit{
		Video:       req.Filename,
		FullText:    fullText,
		Summary:     shortened,
		FinalOutput: transcript.FullText(segments),
	}); err != nil {
		logger.Warn("failed to record summary audit", "error", err)
	}

	if segments == nil {
		segments = []transcript.Line{}
	}
	return &Result{SummarizedTranscript: segments}, nil
}

func (s *Summarizer) shorten(ctx context.Context, text string, req Request, temperature float64) (string, error) {
	out, err := s.gen.Generate(ctx, BuildPrompt(text, req.Prompt), llm.Options{
		Model:           req.ModelName,
		Temperature:     float32(temperature),
		MaxOutputTokens: maxOutputTokens,
		TopK:            topK,
		TopP:            topP,
	})
	if err != nil {
		return "", fmt.Errorf("shorten transcript: %w", err)
	}
	return out, nil
}

func withinRange(d, lo, hi float64) bool {
	return d >= lo && d <= hi
}
