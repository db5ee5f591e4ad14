package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/kirillgpt-bot-go/internal/models"
	"github.com/kirillgpt-bot-go/internal/services/broadcast"
	"github.com/kirillgpt-bot-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

type sendMessageRequest struct {
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
	AsBot   bool   `json:"as_bot"`
}

// handleSendMessage relays an admin-composed message to the chat through
// the bot and stores it either as a bot message or as an admin message
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ChatID == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "chat_id and content are required")
		return
	}
	if _, err := uuid.Parse(req.ChatID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "chat_id must be a UUID")
		return
	}

	ctx := r.Context()
	chat, err := s.store.GetChat(ctx, req.ChatID)
	if err != nil {
		s.writeStoreError(w, err, "Chat not found")
		return
	}
	if s.sender == nil {
		writeError(w, http.StatusInternalServerError, "TELEGRAM_BOT_TOKEN not configured")
		return
	}

	log := s.logger.WithFields(logrus.Fields{
		"chat_id": chat.TelegramChatID,
		"as_bot":  req.AsBot,
	}).WithFields(logger.TextFields(req.Content))

	msg := tgbotapi.NewMessage(chat.TelegramChatID, req.Content)
	msg.ParseMode = tgbotapi.ModeHTML
	sent, err := s.sender.Send(msg)
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) {
			log.WithError(err).Warn("Telegram rejected admin message")
			writeError(w, http.StatusBadRequest, "Telegram API error: "+apiErr.Message)
			return
		}
		log.WithError(err).Error("Failed to send admin message")
		writeError(w, http.StatusInternalServerError, "Failed to send message: "+err.Error())
		return
	}
	telegramID := int64(sent.MessageID)

	var stored *models.Message
	if req.AsBot {
		stored = &models.Message{
			ChatID:            chat.ID,
			TelegramMessageID: telegramID,
			MessageType:       "text",
			Content:           req.Content,
			IsFromBot:         true,
			MessageHash:       logger.Fingerprint(req.Content),
		}
		err = s.store.SaveMessage(ctx, stored)
	} else {
		stored, err = s.store.CreateAdminMessage(ctx, chat.ID, req.Content, telegramID)
	}
	if err != nil {
		// The message already reached Telegram; report success and keep the error in the log.
		log.WithError(err).Error("Failed to store admin message")
	} else {
		s.publish(ctx, broadcast.MessageEvent(stored))
	}

	s.publish(ctx, broadcast.NewEvent(broadcast.EventAdminMessageSent, map[string]interface{}{
		"chat_id":             chat.ID,
		"content":             req.Content,
		"as_bot":              req.AsBot,
		"telegram_message_id": telegramID,
		"timestamp":           broadcast.Timestamp(s.now()),
	}))
	s.recordAction(ctx, "send_message", "chat", chat.ID, map[string]interface{}{
		"as_bot":              req.AsBot,
		"telegram_message_id": telegramID,
		"message_hash":        logger.Fingerprint(req.Content),
	})
	log.Info("Admin message sent")

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":             "Message sent successfully",
		"telegram_message_id": telegramID,
	})
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 50, 1, 500)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	actions, err := s.store.ListAdminActions(r.Context(), limit)
	if err != nil {
		s.writeStoreError(w, err, "Actions not found")
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

// recordAction appends to the audit log; failures are logged only
func (s *Server) recordAction(ctx context.Context, actionType, targetType, targetID string, details map[string]interface{}) {
	action := &models.AdminAction{
		ActionType: actionType,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
	}
	if err := s.store.RecordAdminAction(ctx, action); err != nil {
		s.logger.WithError(err).WithField("action", actionType).Warn("Failed to record admin action")
	}
}
