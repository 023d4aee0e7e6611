package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	defaultOpenRouterURL = "https://openrouter.ai"
	requestTimeout       = 90 * time.Second
	maxAttempts          = 3
)

// OpenRouterClient talks to an OpenAI-compatible chat completions API.
type OpenRouterClient struct {
	baseURL      string
	key          string
	defaultModel string
	httpClient   *http.Client
	logger       *slog.Logger
	backoff      time.Duration
}

// NewOpenRouter creates a client. An empty baseURL means openrouter.ai.
func NewOpenRouter(baseURL, apiKey, defaultModel string, logger *slog.Logger) *OpenRouterClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	return &OpenRouterClient{
		baseURL:      baseURL,
		key:          apiKey,
		defaultModel: defaultModel,
		httpClient:   &http.Client{Timeout: 5 * time.Minute},
		logger:       logger,
		backoff:      time.Second,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	TopP        float32       `json:"top_p,omitempty"`
	TopK        float32       `json:"top_k,omitempty"`
	MaxTokens   int32         `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content any `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Generate sends the prompt as a single user message. Retryable API errors
// are retried with linear backoff.
func (c *OpenRouterClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       ResolveModel(opts.Model, c.defaultModel),
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		TopK:        opts.TopK,
		MaxTokens:   opts.MaxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err := c.do(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() || attempt == maxAttempts {
			break
		}
		c.logger.Warn("openrouter request failed, retrying", "attempt", attempt, "status", apiErr.StatusCode)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}
	return "", lastErr
}

func (c *OpenRouterClient) do(ctx context.Context, body []byte) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	url := c.baseURL + "/api/v1/chat/completions"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("openrouter timeout after %s", requestTimeout)
		}
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rb, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &APIError{
			Provider:   "openrouter",
			StatusCode: resp.StatusCode,
			Body:       truncate(redactSecrets(string(rb), c.key), 400),
		}
	}

	var raw chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(raw.Choices) == 0 {
		return "", errors.New("openrouter: no choices in response")
	}
	if raw.Choices[0].FinishReason == "content_filter" {
		return "", ErrBlocked
	}

	text, err := messageContent(raw.Choices[0].Message.Content)
	if err != nil {
		return "", err
	}
	return CleanResponse(text), nil
}

// messageContent accepts both a plain string and an array of {type,text}
// parts, which some providers return.
func messageContent(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []any:
		var b strings.Builder
		for _, it := range x {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if t, ok := m["text"].(string); ok {
				b.WriteString(t)
			}
		}
		if strings.TrimSpace(b.String()) == "" {
			return "", errors.New("openrouter: empty content")
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("openrouter: unexpected content type %T", v)
	}
}

var (
	bearerTokenRE = regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9._-]+\b`)
	apiKeyFieldRE = regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([^\n\r,;]+)`)
)

func redactSecrets(s, apiKey string) string {
	if s == "" {
		return s
	}
	if apiKey != "" {
		s = strings.ReplaceAll(s, apiKey, "[REDACTED]")
	}
	s = bearerTokenRE.ReplaceAllString(s, "Bearer [REDACTED]")
	return apiKeyFieldRE.ReplaceAllString(s, "${1}[REDACTED]")
}
