package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// GenAIConfig selects the genai backend. A non-empty Project routes calls
// through Vertex AI, otherwise APIKey is used against the Gemini API.
type GenAIConfig struct {
	APIKey       string
	Project      string
	Location     string
	DefaultModel string
	// BaseURL overrides the API endpoint.
	BaseURL string
}

// GenAIClient generates text with Gemini models.
type GenAIClient struct {
	client       *genai.Client
	defaultModel string
	logger       *slog.Logger
}

// NewGenAI creates a client for the configured backend.
func NewGenAI(ctx context.Context, cfg GenAIConfig, logger *slog.Logger) (*GenAIClient, error) {
	cc := &genai.ClientConfig{Backend: genai.BackendGeminiAPI, APIKey: cfg.APIKey}
	if cfg.Project != "" {
		cc = &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  cfg.Project,
			Location: cfg.Location,
		}
	} else if cfg.APIKey == "" {
		return nil, errors.New("genai: api key or project is required")
	}

	cc.HTTPOptions.BaseURL = cfg.BaseURL

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIClient{client: client, defaultModel: cfg.DefaultModel, logger: logger}, nil
}

// Generate sends a single-turn prompt and returns the concatenated text of
// the first candidate.
func (c *GenAIClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	model := ResolveModel(opts.Model, c.defaultModel)
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(opts.Temperature),
		MaxOutputTokens: opts.MaxOutputTokens,
	}
	if opts.TopK > 0 {
		cfg.TopK = genai.Ptr(opts.TopK)
	}
	if opts.TopP > 0 {
		cfg.TopP = genai.Ptr(opts.TopP)
	}

	c.logger.Debug("genai generate", "model", model, "temperature", opts.Temperature, "prompt_chars", len(prompt))

	result, err := c.client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if result == nil {
		return "", errors.New("genai: empty response")
	}
	if result.PromptFeedback != nil && result.PromptFeedback.BlockReason != "" {
		c.logger.Warn("genai prompt blocked", "model", model, "reason", result.PromptFeedback.BlockReason)
		return "", ErrBlocked
	}
	if len(result.Candidates) == 0 || result.Candidates[0] == nil {
		return "", errors.New("genai: empty response")
	}

	cand := result.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety || cand.FinishReason == genai.FinishReasonProhibitedContent {
		c.logger.Warn("genai candidate blocked", "model", model, "reason", cand.FinishReason)
		return "", ErrBlocked
	}
	if cand.Content == nil {
		return "", errors.New("genai: empty response")
	}

	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return CleanResponse(b.String()), nil
}
