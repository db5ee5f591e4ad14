package handlers

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kirillgpt-bot-go/internal/models"
	"github.com/kirillgpt-bot-go/internal/services/broadcast"
	"github.com/kirillgpt-bot-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

// MessageStore persists chats, users and messages
type MessageStore interface {
	GetOrCreateChat(ctx context.Context, telegramChatID int64, chatType, title, username string) (*models.Chat, error)
	GetOrCreateUser(ctx context.Context, u models.User) (*models.User, error)
	SaveMessage(ctx context.Context, msg *models.Message) error
}

// Recorder stores conversation traffic and announces it on the bus.
// Failures are logged and never reach the user. A nil Recorder records nothing.
type Recorder struct {
	store  MessageStore
	bus    broadcast.Bus
	logger *logrus.Logger
}

// NewRecorder creates a recorder. bus may be nil.
func NewRecorder(store MessageStore, bus broadcast.Bus, logger *logrus.Logger) *Recorder {
	return &Recorder{
		store:  store,
		bus:    bus,
		logger: logger,
	}
}

// SaveUserMessage records an incoming message
func (r *Recorder) SaveUserMessage(ctx context.Context, message *tgbotapi.Message) {
	if r == nil {
		return
	}
	if err := r.save(ctx, message, message.Text, false, logger.Fingerprint(message.Text)); err != nil {
		r.logger.WithError(err).Error("Failed to save user message")
	}
}

// SaveBotMessage records a reply the bot sent. content is the reply as
// generated, before any Telegram rendering.
func (r *Recorder) SaveBotMessage(ctx context.Context, sent *tgbotapi.Message, content string) {
	if r == nil || sent == nil || sent.Chat == nil {
		return
	}
	if err := r.save(ctx, sent, content, true, logger.Fingerprint(content)); err != nil {
		r.logger.WithError(err).Error("Failed to save bot message")
	}
}

func (r *Recorder) save(ctx context.Context, message *tgbotapi.Message, content string, fromBot bool, hash string) error {
	chat, err := r.store.GetOrCreateChat(ctx, message.Chat.ID, message.Chat.Type, message.Chat.Title, message.Chat.UserName)
	if err != nil {
		return fmt.Errorf("failed to get chat: %w", err)
	}

	record := &models.Message{
		ChatID:            chat.ID,
		TelegramMessageID: int64(message.MessageID),
		MessageType:       "text",
		Content:           content,
		IsFromBot:         fromBot,
		IsReply:           message.ReplyToMessage != nil,
		MessageHash:       hash,
	}

	if from := message.From; from != nil {
		user, err := r.store.GetOrCreateUser(ctx, models.User{
			TelegramUserID: from.ID,
			Username:       from.UserName,
			FirstName:      from.FirstName,
			LastName:       from.LastName,
			IsBot:          from.IsBot || fromBot,
		})
		if err != nil {
			return fmt.Errorf("failed to get user: %w", err)
		}
		record.UserID = &user.ID
	}

	if err := r.store.SaveMessage(ctx, record); err != nil {
		return err
	}

	if r.bus != nil {
		if err := r.bus.Publish(ctx, broadcast.MessageEvent(record)); err != nil {
			r.logger.WithError(err).Warn("Failed to publish new message")
		}
	}
	return nil
}
