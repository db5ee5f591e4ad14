package ai

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/kirillgpt-bot-go/internal/config"
	"github.com/kirillgpt-bot-go/internal/i18n"
	"github.com/kirillgpt-bot-go/internal/middleware"
	"github.com/sirupsen/logrus"
)

// ErrRateLimited is returned when the user asked for an image too soon
var ErrRateLimited = errors.New("ai: rate limited")

const (
	imageAspectRatio = "16:9"

	sketchTemperature = 0.8
	sketchMaxTokens   = 200
	sketchPrompt      = "Пользователь хочет картинку: '%s'. Опиши как бы это выглядело в сюрреалистическом стиле Дали с козявками, но коротко и в стиле Кирилла (грубовато, с 'ну ты понял', 'всё сказал?'). Не больше 3-4 предложений."
)

var surrealTemplates = []string{
	"Surrealistic painting in Salvador Dali style: %s, painted entirely with tiny bugs and insects as brushstrokes, melting time, floating elements, dreamlike landscape, hyperrealistic insects texture, oil painting, museum quality",
	"Salvador Dali inspired artwork: %s, created using thousands of small bugs, ants, and beetles as paint, distorted perspective, impossible geometry, soft watches style, insect mosaic technique",
	"Dalí-esque surreal composition: %s, every element painted with microscopic insects and bugs, floating in dreamscape, persistence of memory style, bug-textured surfaces, golden hour lighting",
}

// ImageResult is a generated picture, or only a comment when drawing failed
type ImageResult struct {
	Image   []byte
	Comment string
}

// ImageEngine draws user descriptions in the persona's surreal style
type ImageEngine struct {
	images     ImageGenerator
	text       TextGenerator
	imageModel string
	textModel  string
	timeout    time.Duration
	limiter    middleware.RateLimiter
	phrases    Phrases
	metrics    *middleware.Metrics
	logger     *logrus.Logger
}

// NewImageEngine creates an image engine. The limiter is shared with the
// response engine, so text and image requests count against one window.
func NewImageEngine(
	cfg *config.AIConfig,
	client Client,
	limiter middleware.RateLimiter,
	phrases Phrases,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *ImageEngine {
	return &ImageEngine{
		images:     client,
		text:       client,
		imageModel: cfg.ImageModel(),
		textModel:  cfg.TextModel(),
		timeout:    cfg.RequestTimeout,
		limiter:    limiter,
		phrases:    phrases,
		metrics:    metrics,
		logger:     logger,
	}
}

// Generate draws description. It returns ErrRateLimited when the user is
// limited, and nil without error when the upstream returned no image.
// An upstream failure is not an error: the result then carries an excuse
// and, when possible, a text sketch of the picture instead.
func (e *ImageEngine) Generate(ctx context.Context, userID int64, description string) (*ImageResult, error) {
	if !e.limiter.Allow(userID) {
		return nil, ErrRateLimited
	}

	data := map[string]interface{}{"Description": description}
	prompt := fmt.Sprintf(surrealTemplates[rand.Intn(len(surrealTemplates))], description)

	images, err := e.draw(ctx, prompt)
	if err != nil {
		e.logger.WithError(err).WithField("user_id", userID).Error("Image generation API error")

		excuse := e.phrases.Random(i18n.MsgImageExcuse, data)
		sketch, err := e.sketch(ctx, description)
		if err != nil {
			e.logger.WithError(err).WithField("user_id", userID).Error("Image description error")
			return &ImageResult{Comment: excuse}, nil
		}
		return &ImageResult{
			Comment: e.phrases.Text(i18n.MsgImageSketch, map[string]interface{}{
				"Excuse": excuse,
				"Sketch": sketch,
			}),
		}, nil
	}

	if len(images) == 0 || len(images[0]) == 0 {
		return nil, nil
	}
	return &ImageResult{
		Image:   images[0],
		Comment: e.phrases.Random(i18n.MsgImageCaption, data),
	}, nil
}

func (e *ImageEngine) draw(ctx context.Context, prompt string) ([][]byte, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	images, err := e.images.GenerateImages(ctx, ImageRequest{
		Model:       e.imageModel,
		Prompt:      prompt,
		Count:       1,
		AspectRatio: imageAspectRatio,
	})
	e.record("image", err, time.Since(start))
	return images, err
}

// sketch asks for a short in-persona description of the picture
func (e *ImageEngine) sketch(ctx context.Context, description string) (string, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	body, err := e.text.GenerateText(ctx, TextRequest{
		Model:           e.textModel,
		Prompt:          fmt.Sprintf(sketchPrompt, description),
		Temperature:     sketchTemperature,
		MaxOutputTokens: sketchMaxTokens,
	})
	e.record("sketch", err, time.Since(start))
	if err != nil {
		return "", err
	}

	text, err := DecodeText(body)
	if err != nil {
		return e.phrases.Text(i18n.MsgNothingToSay, nil), nil
	}
	return text, nil
}

func (e *ImageEngine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return ctx, func() {}
}

func (e *ImageEngine) record(kind string, err error, d time.Duration) {
	if e.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordAIRequest(kind, status, d)
}
