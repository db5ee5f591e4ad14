package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kirillgpt-bot-go/internal/config"
	"github.com/sirupsen/logrus"
)

// TextRequest is a single flat-prompt generation call
type TextRequest struct {
	Model           string
	Prompt          string
	Temperature     float64
	MaxOutputTokens int
	TopP            float64
}

// ImageRequest is a single image generation call
type ImageRequest struct {
	Model       string
	Prompt      string
	Count       int
	AspectRatio string
}

// TextGenerator returns the raw response body; callers extract text with DecodeText
type TextGenerator interface {
	GenerateText(ctx context.Context, req TextRequest) (json.RawMessage, error)
}

// ImageGenerator returns zero or more generated images as raw bytes
type ImageGenerator interface {
	GenerateImages(ctx context.Context, req ImageRequest) ([][]byte, error)
}

// Client is a provider able to generate both text and images
type Client interface {
	TextGenerator
	ImageGenerator
}

// NewClient builds the client of the configured provider
func NewClient(cfg *config.AIConfig, logger *logrus.Logger) (Client, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGeminiClient(&cfg.Gemini, logger), nil
	case "openai":
		return NewOpenAIClient(&cfg.OpenAI, logger), nil
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
}

// postJSON sends body as JSON and returns the response body of a 2xx reply
func postJSON(ctx context.Context, httpClient *http.Client, url string, headers map[string]string, body interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}

	return data, nil
}

// StatusError is a non-2xx reply from a provider
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ai request failed with status %d: %s", e.StatusCode, e.Body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
