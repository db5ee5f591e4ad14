package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/kirillgpt-bot-go/internal/config"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// OpenAIClient serves the same contracts through an OpenAI-compatible API
type OpenAIClient struct {
	client *openai.Client
	logger *logrus.Logger
}

// NewOpenAIClient creates an OpenAI client; BaseURL may point at any compatible endpoint
func NewOpenAIClient(cfg *config.OpenAIConfig, logger *logrus.Logger) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		logger: logger,
	}
}

// GenerateText sends the flat prompt as one user message. The reply is
// re-encoded as {"text": ...}; an empty choice list yields {}.
func (c *OpenAIClient) GenerateText(ctx context.Context, req TextRequest) (json.RawMessage, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxOutputTokens,
		TopP:        float32(req.TopP),
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return json.Marshal(textShape{Text: resp.Choices[0].Message.Content})
}

// GenerateImages requests base64 images. The aspect ratio maps to the closest size.
func (c *OpenAIClient) GenerateImages(ctx context.Context, req ImageRequest) ([][]byte, error) {
	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          req.Model,
		N:              req.Count,
		Size:           openAISize(req.AspectRatio),
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, err
	}

	images := make([][]byte, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.B64JSON == "" {
			continue
		}
		img, err := base64.StdEncoding.DecodeString(d.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		images = append(images, img)
	}
	return images, nil
}

func openAISize(aspect string) string {
	switch aspect {
	case "16:9":
		return openai.CreateImageSize1792x1024
	case "9:16":
		return openai.CreateImageSize1024x1792
	default:
		return openai.CreateImageSize1024x1024
	}
}
