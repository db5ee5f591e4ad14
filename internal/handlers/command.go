package handlers

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kirillgpt-bot-go/internal/i18n"
	"github.com/kirillgpt-bot-go/internal/services/ai"
	"github.com/kirillgpt-bot-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

const photoName = "kirill_art.jpg"

// CommandHandler handles telegram commands
type CommandHandler struct {
	sender  Sender
	images  ImageResponder
	history HistoryClearer
	phrases ai.Phrases
	logger  *logrus.Logger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(
	sender Sender,
	images ImageResponder,
	history HistoryClearer,
	phrases ai.Phrases,
	logger *logrus.Logger,
) *CommandHandler {
	return &CommandHandler{
		sender:  sender,
		images:  images,
		history: history,
		phrases: phrases,
		logger:  logger,
	}
}

// Handles reports whether name is a known command. Unknown commands are
// treated as ordinary messages.
func (h *CommandHandler) Handles(name string) bool {
	switch name {
	case "start", "help", "clear", "image", "img", "картинка":
		return true
	}
	return false
}

// HandleCommand processes telegram commands
func (h *CommandHandler) HandleCommand(ctx context.Context, message *tgbotapi.Message, cmd Command) error {
	switch cmd.Name {
	case "start":
		return h.reply(message, h.phrases.Text(i18n.MsgWelcome, nil))
	case "help":
		return h.reply(message, h.phrases.Text(i18n.MsgHelp, nil))
	case "clear":
		h.history.Clear(message.From.ID)
		logger.WithContext(h.logger, message.Chat.ID, message.From.ID).Info("Conversation history cleared")
		return h.reply(message, h.phrases.Text(i18n.MsgHistoryCleared, nil))
	case "image", "img", "картинка":
		return h.handleImage(ctx, message, cmd)
	default:
		return nil
	}
}

func (h *CommandHandler) handleImage(ctx context.Context, message *tgbotapi.Message, cmd Command) error {
	if !cmd.HasArgs {
		return h.reply(message, h.phrases.Text(i18n.MsgImageNoDescription, nil))
	}
	description := strings.TrimSpace(cmd.Args)
	if description == "" {
		return h.reply(message, h.phrases.Text(i18n.MsgImageEmptyDescription, nil))
	}

	chatID := message.Chat.ID
	log := logger.WithContext(h.logger, chatID, message.From.ID).WithFields(logger.TextFields(description))

	if _, err := h.sender.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatUploadPhoto)); err != nil {
		log.WithError(err).Debug("Failed to send chat action")
	}

	result, err := h.images.Generate(ctx, message.From.ID, description)
	switch {
	case errors.Is(err, ai.ErrRateLimited):
		return h.reply(message, h.phrases.Text(i18n.MsgImageRateLimited, nil))
	case err != nil:
		log.WithError(err).Error("Image generation failed")
		return h.reply(message, h.phrases.Text(i18n.MsgImageError, nil))
	case result != nil && len(result.Image) > 0:
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: photoName, Bytes: result.Image})
		photo.Caption = result.Comment
		if _, err := h.sender.Send(photo); err != nil {
			log.WithError(err).Error("Failed to send photo")
			return h.reply(message, h.phrases.Text(i18n.MsgImageError, nil))
		}
		log.WithField("bytes", len(result.Image)).Info("Image sent")
		return nil
	case result != nil && result.Comment != "":
		return h.reply(message, result.Comment)
	default:
		return h.reply(message, h.phrases.Text(i18n.MsgImageFailed, nil))
	}
}

func (h *CommandHandler) reply(message *tgbotapi.Message, text string) error {
	_, err := replyTo(h.sender, message, text)
	return err
}
