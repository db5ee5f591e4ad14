package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/kirillgpt-bot-go/internal/config"
	"github.com/sirupsen/logrus"
)

// GeminiClient talks to the Google Generative Language REST API
type GeminiClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewGeminiClient creates a Gemini/Imagen client. Requests carry no
// transport deadline; callers bound them through ctx (ai.request_timeout).
func NewGeminiClient(cfg *config.GeminiConfig, logger *logrus.Logger) *GeminiClient {
	return &GeminiClient{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	TopP            float64 `json:"topP,omitempty"`
}

type geminiTextRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

// GenerateText calls models/{model}:generateContent and returns the body as is
func (c *GeminiClient) GenerateText(ctx context.Context, req TextRequest) (json.RawMessage, error) {
	body := geminiTextRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxOutputTokens,
			TopP:            req.TopP,
		},
	}

	c.logger.WithFields(logrus.Fields{
		"model":       req.Model,
		"temperature": req.Temperature,
		"max_tokens":  req.MaxOutputTokens,
	}).Debug("Sending text request")

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, req.Model)
	data, err := postJSON(ctx, c.httpClient, url, c.headers(), body)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

type imagenRequest struct {
	Instances  []imagenInstance  `json:"instances"`
	Parameters imagenParameters `json:"parameters"`
}

type imagenInstance struct {
	Prompt string `json:"prompt"`
}

type imagenParameters struct {
	SampleCount int    `json:"sampleCount"`
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type imagenResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType"`
	} `json:"predictions"`
}

// GenerateImages calls the Imagen predict endpoint
func (c *GeminiClient) GenerateImages(ctx context.Context, req ImageRequest) ([][]byte, error) {
	body := imagenRequest{
		Instances: []imagenInstance{{Prompt: req.Prompt}},
		Parameters: imagenParameters{
			SampleCount: req.Count,
			AspectRatio: req.AspectRatio,
		},
	}

	url := fmt.Sprintf("%s/models/%s:predict", c.baseURL, req.Model)
	data, err := postJSON(ctx, c.httpClient, url, c.headers(), body)
	if err != nil {
		return nil, err
	}

	var result imagenResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	images := make([][]byte, 0, len(result.Predictions))
	for _, p := range result.Predictions {
		if p.BytesBase64Encoded == "" {
			continue
		}
		img, err := base64.StdEncoding.DecodeString(p.BytesBase64Encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		images = append(images, img)
	}
	return images, nil
}

func (c *GeminiClient) headers() map[string]string {
	return map[string]string{"x-goog-api-key": c.apiKey}
}
