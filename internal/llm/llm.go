// Package llm wraps the text-generation backends used to shorten and group
// transcripts. Callers depend on Generator; the concrete clients talk to
// Gemini/Vertex AI through google.golang.org/genai or to any
// OpenAI-compatible chat completions endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrBlocked is returned when the provider refuses to answer because of
// its safety filters.
var ErrBlocked = errors.New("llm: response blocked by safety filters")

const transcriptPrefix = "Transcript:\n"

// Options tune a single generation call.
type Options struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int32
	TopK            float32
	TopP            float32
}

// Generator produces a text completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// IsRetryable reports whether the call may succeed if repeated. Rate limits
// and server errors are transient, other client errors are not.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// CleanResponse removes the "Transcript:" echo some models put in front of
// their answer, since the prompt itself ends with that label.
func CleanResponse(text string) string {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if strings.HasPrefix(trimmed, transcriptPrefix) {
		return strings.Replace(trimmed, transcriptPrefix, "", 1)
	}
	return text
}

// legacyModels are retired PaLM text models still sent by older clients.
var legacyModels = map[string]bool{
	"text-bison@001":   true,
	"text-bison@002":   true,
	"text-bison-32k":   true,
	"text-unicorn@001": true,
}

// ResolveModel picks the model to call: the requested one unless it is
// empty or a retired PaLM name, in which case fallback is used.
func ResolveModel(requested, fallback string) string {
	requested = strings.TrimSpace(requested)
	if requested == "" || legacyModels[requested] {
		return fallback
	}
	return requested
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
