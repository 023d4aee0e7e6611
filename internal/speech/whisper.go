// Package speech turns extracted audio into word-timed recognition results
// using whisper.cpp.
package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adclip/adclip/internal/pipelines"
	"github.com/adclip/adclip/internal/transcript"
)

// Recognizer transcribes a 16 kHz mono WAV file.
type Recognizer interface {
	Recognize(ctx context.Context, wavPath, languageCode string) ([]transcript.RecognitionResult, error)
}

// Model names recorded alongside a transcript. They mirror the recogniser
// profiles the language codes were tuned for.
const (
	ModelVideo            = "video"
	ModelCommandAndSearch = "command_and_search"
	ModelDefault          = "default"
)

// SpeechModel returns the recognition profile for a language code.
func SpeechModel(languageCode string) string {
	switch languageCode {
	case "en-US":
		return ModelVideo
	case "zh-TW":
		return ModelCommandAndSearch
	default:
		return ModelDefault
	}
}

// LanguageFlag converts a BCP-47 code such as "en-US" to whisper's "en".
// An empty code asks whisper to auto-detect.
func LanguageFlag(languageCode string) string {
	code := strings.TrimSpace(languageCode)
	if code == "" {
		return "auto"
	}
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	return strings.ToLower(code)
}

// Whisper runs whisper-cli through the tool runner.
type Whisper struct {
	runner  pipelines.Runner
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

func NewWhisper(runner pipelines.Runner, modelPath string, timeout time.Duration, logger *slog.Logger) *Whisper {
	return &Whisper{runner: runner, model: modelPath, timeout: timeout, logger: logger}
}

// Recognize runs whisper.cpp with full JSON output and converts its token
// stream into words.
func (w *Whisper) Recognize(ctx context.Context, wavPath, languageCode string) ([]transcript.RecognitionResult, error) {
	if w.model == "" {
		return nil, fmt.Errorf("whisper model not configured: %w", pipelines.ErrToolsUnavailable)
	}

	dir, err := os.MkdirTemp(w.runner.ArtifactsDir(), "whisper-*")
	if err != nil {
		return nil, fmt.Errorf("create whisper dir: %w", err)
	}
	defer os.RemoveAll(dir)

	outPrefix := filepath.Join(dir, "out")
	start := time.Now()
	if _, err := w.runner.Run(ctx, pipelines.ToolWhisper, w.timeout,
		"-m", w.model,
		"-f", wavPath,
		"-l", LanguageFlag(languageCode),
		"-ojf",
		"-of", outPrefix,
	); err != nil {
		return nil, fmt.Errorf("whisper.cpp: %w", err)
	}

	data, err := os.ReadFile(outPrefix + ".json")
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}
	results, err := ParseWhisperJSON(data)
	if err != nil {
		return nil, err
	}

	w.logger.Info("speech recognised",
		"language", languageCode,
		"model", SpeechModel(languageCode),
		"segments", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

type whisperOutput struct {
	Transcription []struct {
		Text   string `json:"text"`
		Tokens []struct {
			Text    string `json:"text"`
			Offsets struct {
				From int64 `json:"from"`
				To   int64 `json:"to"`
			} `json:"offsets"`
		} `json:"tokens"`
	} `json:"transcription"`
}

// ParseWhisperJSON converts whisper.cpp -ojf output into recognition
// results, one per segment. Sub-word tokens are joined; a token starting
// with a space begins a new word. Control tokens ("[_BEG_]", "[_TT_..]")
// are skipped.
func ParseWhisperJSON(data []byte) ([]transcript.RecognitionResult, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse whisper output: %w", err)
	}

	results := make([]transcript.RecognitionResult, 0, len(out.Transcription))
	for _, seg := range out.Transcription {
		var words []transcript.RecognizedWord
		for _, tok := range seg.Tokens {
			if strings.HasPrefix(tok.Text, "[_") || strings.TrimSpace(tok.Text) == "" {
				continue
			}
			from := float64(tok.Offsets.From) / 1000
			to := float64(tok.Offsets.To) / 1000
			if strings.HasPrefix(tok.Text, " ") || len(words) == 0 {
				words = append(words, transcript.RecognizedWord{
					Word:  strings.TrimSpace(tok.Text),
					Start: from,
					End:   to,
				})
				continue
			}
			last := &words[len(words)-1]
			last.Word += tok.Text
			last.End = to
		}
		if len(words) == 0 {
			continue
		}
		results = append(results, transcript.RecognitionResult{
			Alternatives: []transcript.Alternative{{
				Transcript: strings.TrimSpace(seg.Text),
				Words:      words,
			}},
		})
	}
	return results, nil
}
