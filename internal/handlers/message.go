package handlers

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kirillgpt-bot-go/internal/i18n"
	"github.com/kirillgpt-bot-go/internal/models"
	"github.com/kirillgpt-bot-go/internal/services/ai"
	"github.com/kirillgpt-bot-go/pkg/logger"
	"github.com/kirillgpt-bot-go/pkg/markdown"
	"github.com/sirupsen/logrus"
)

// MessageHandler handles regular messages
type MessageHandler struct {
	self      tgbotapi.User
	sender    Sender
	responder Responder
	configs   ai.ConfigSource
	recorder  *Recorder
	phrases   ai.Phrases
	logger    *logrus.Logger
}

// NewMessageHandler creates a new message handler. configs and recorder may
// be nil when no database is configured.
func NewMessageHandler(
	self tgbotapi.User,
	sender Sender,
	responder Responder,
	configs ai.ConfigSource,
	recorder *Recorder,
	phrases ai.Phrases,
	logger *logrus.Logger,
) *MessageHandler {
	return &MessageHandler{
		self:      self,
		sender:    sender,
		responder: responder,
		configs:   configs,
		recorder:  recorder,
		phrases:   phrases,
		logger:    logger,
	}
}

// HandleMessage replies to a text message in the persona's voice
func (h *MessageHandler) HandleMessage(ctx context.Context, message *tgbotapi.Message) error {
	if message.From == nil || message.From.ID == h.self.ID {
		return nil
	}

	chatID := message.Chat.ID
	userID := message.From.ID
	log := logger.WithContext(h.logger, chatID, userID)
	log.WithFields(logger.TextFields(message.Text)).Info("Message received")

	h.recorder.SaveUserMessage(ctx, message)

	if !h.shouldRespond(ctx, message) {
		log.Debug("Not addressed, staying silent")
		return nil
	}

	if _, err := h.sender.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		log.WithError(err).Debug("Failed to send chat action")
	}

	reply := h.responder.Respond(ctx, userID, message.Text, chatID)
	log.WithFields(logger.TextFields(reply)).Info("Replying")

	sent, err := h.send(message, reply)
	if err != nil {
		log.WithError(err).Error("Failed to send reply")
		if _, err := replyTo(h.sender, message, h.phrases.Text(i18n.MsgSendFailed, nil)); err != nil {
			log.WithError(err).Warn("Failed to send fallback reply")
		}
		return err
	}

	h.recorder.SaveBotMessage(ctx, &sent, reply)
	return nil
}

// send replies with the markdown rendered as HTML, falling back to plain
// text when Telegram rejects the markup
func (h *MessageHandler) send(message *tgbotapi.Message, reply string) (tgbotapi.Message, error) {
	if html := markdown.ToTelegramHTML(reply); html != "" {
		msg := tgbotapi.NewMessage(message.Chat.ID, html)
		msg.ReplyToMessageID = message.MessageID
		msg.ParseMode = tgbotapi.ModeHTML
		sent, err := h.sender.Send(msg)
		if err == nil {
			return sent, nil
		}
		h.logger.WithError(err).Debug("HTML reply rejected, retrying as plain text")
	}
	return replyTo(h.sender, message, reply)
}

// shouldRespond always answers private chats. Groups are answered when auto
// reply is on, or when the bot is mentioned or replied to and reply on
// mention is on.
func (h *MessageHandler) shouldRespond(ctx context.Context, message *tgbotapi.Message) bool {
	if message.Chat.IsPrivate() {
		return true
	}

	settings := models.DefaultChatSettings()
	if h.configs != nil {
		if cfg := h.configs.GetConfig(ctx, message.Chat.ID); cfg.Settings != nil {
			settings = *cfg.Settings
		}
	}

	if settings.AutoReplyEnabled {
		return true
	}
	return settings.ReplyOnMentionEnabled && h.addressed(message)
}

func (h *MessageHandler) addressed(message *tgbotapi.Message) bool {
	if reply := message.ReplyToMessage; reply != nil && reply.From != nil && reply.From.ID == h.self.ID {
		return true
	}
	if h.self.UserName == "" {
		return false
	}
	return strings.Contains(strings.ToLower(message.Text), "@"+strings.ToLower(h.self.UserName))
}
