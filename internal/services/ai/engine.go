package ai

import (
	"context"
	"errors"
	"time"

	"github.com/kirillgpt-bot-go/internal/config"
	"github.com/kirillgpt-bot-go/internal/i18n"
	"github.com/kirillgpt-bot-go/internal/middleware"
	"github.com/kirillgpt-bot-go/internal/models"
	"github.com/kirillgpt-bot-go/internal/services/conversation"
	"github.com/kirillgpt-bot-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

// Phrases supplies the persona's canned lines
type Phrases interface {
	Text(messageID string, data map[string]interface{}) string
	Random(messageID string, data map[string]interface{}) string
}

// ConfigSource resolves a chat's settings and active preset
type ConfigSource interface {
	GetConfig(ctx context.Context, telegramChatID int64) models.ChatConfig
}

// Engine produces persona replies to user messages
type Engine struct {
	text      TextGenerator
	model     string
	timeout   time.Duration
	retry     RetryPolicy
	limiter   middleware.RateLimiter
	sanitizer *middleware.Sanitizer
	configs   ConfigSource
	history   *conversation.Store
	phrases   Phrases
	persona   string
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

// NewEngine creates a response engine. configs may be nil when no
// settings store is available.
func NewEngine(
	cfg *config.AIConfig,
	text TextGenerator,
	limiter middleware.RateLimiter,
	sanitizer *middleware.Sanitizer,
	configs ConfigSource,
	history *conversation.Store,
	phrases Phrases,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *Engine {
	return &Engine{
		text:      text,
		model:     cfg.TextModel(),
		timeout:   cfg.RequestTimeout,
		retry:     RetryPolicy{Attempts: cfg.RetryAttempts, Unit: cfg.RetryUnit},
		limiter:   limiter,
		sanitizer: sanitizer,
		configs:   configs,
		history:   history,
		phrases:   phrases,
		persona:   PersonaPrompt,
		metrics:   metrics,
		logger:    logger,
	}
}

// Respond returns the persona's reply to raw. It never fails: rate limiting,
// empty input and upstream errors all resolve to an in-persona line.
func (e *Engine) Respond(ctx context.Context, userID int64, raw string, chatID int64) string {
	if !e.limiter.Allow(userID) {
		return e.phrases.Text(i18n.MsgRateLimited, nil)
	}

	message := e.sanitizer.Sanitize(raw)
	if message == "" {
		return e.phrases.Text(i18n.MsgEmptyMessage, nil)
	}

	var preset *models.Preset
	if e.configs != nil {
		preset = e.configs.GetConfig(ctx, chatID).Preset
	}
	params := ResolveParams(preset, e.persona)

	log := logger.WithContext(e.logger, chatID, userID)
	if params.PresetName != "" && params.SystemPrompt != e.persona {
		log.WithField("preset", params.PresetName).Info("Using custom prompt from preset")
	}

	prompt := e.history.AppendAndRender(userID, models.Turn{Role: models.RoleUser, Content: message},
		func(turns []models.Turn) string {
			return RenderPrompt(params.SystemPrompt, turns, e.sanitizer.Sanitize)
		})

	body, err := e.generate(ctx, TextRequest{
		Model:           e.model,
		Prompt:          prompt,
		Temperature:     params.Temperature,
		MaxOutputTokens: params.MaxTokens,
		TopP:            DefaultTopP,
	})
	if err != nil {
		log.WithError(err).Error("Error getting response from AI")
		return e.phrases.Random(i18n.MsgError, nil)
	}

	reply, err := DecodeText(body)
	if err != nil {
		log.WithError(err).Warn("AI response carried no text")
		reply = e.phrases.Text(i18n.MsgNothingToSay, nil)
	}

	e.history.Append(userID, models.Turn{Role: models.RoleAssistant, Content: reply})
	return reply
}

// generate runs one text request with retries, bounded by the optional timeout
func (e *Engine) generate(ctx context.Context, req TextRequest) ([]byte, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	body, err := retryWithData(ctx, e.retry, func() ([]byte, error) {
		return e.text.GenerateText(ctx, req)
	}, e.metrics, e.logger)
	e.recordRequest("text", err, time.Since(start))
	return body, err
}

func (e *Engine) recordRequest(kind string, err error, d time.Duration) {
	if e.metrics == nil {
		return
	}
	status := "success"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = "timeout"
	case err != nil:
		status = "error"
	}
	e.metrics.RecordAIRequest(kind, status, d)
}
