package admin

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/kirillgpt-bot-go/internal/models"
	"github.com/kirillgpt-bot-go/internal/services/broadcast"
)

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	filter, err := messageFilter(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	list, err := s.store.ListMessages(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err, "Messages not found")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func messageFilter(r *http.Request) (models.MessageFilter, error) {
	var filter models.MessageFilter
	var err error

	if filter.Page, err = intParam(r, "page", 1, 1, math.MaxInt); err != nil {
		return filter, err
	}
	if filter.PerPage, err = intParam(r, "per_page", 50, 1, 200); err != nil {
		return filter, err
	}

	q := r.URL.Query()
	for name, dst := range map[string]*string{"chat_id": &filter.ChatID, "user_id": &filter.UserID} {
		if v := q.Get(name); v != "" {
			if _, err := uuid.Parse(v); err != nil {
				return filter, errors.New(name + " must be a UUID")
			}
			*dst = v
		}
	}
	filter.Search = q.Get("search")

	if v := q.Get("is_from_bot"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, errors.New("is_from_bot must be a boolean")
		}
		filter.IsFromBot = &b
	}
	if v := q.Get("start_date"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return filter, err
		}
		filter.StartDate = &t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return filter, err
		}
		filter.EndDate = &t
	}
	return filter, nil
}

type createMessageRequest struct {
	ChatID            string  `json:"chat_id"`
	UserID            *string `json:"user_id"`
	ReplyToMessageID  *string `json:"reply_to_message_id"`
	TelegramMessageID int64   `json:"telegram_message_id"`
	MessageType       string  `json:"message_type"`
	Content           string  `json:"content"`
	IsFromBot         bool    `json:"is_from_bot"`
	IsReply           bool    `json:"is_reply"`
	MessageHash       string  `json:"message_hash"`
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if _, err := uuid.Parse(req.ChatID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "chat_id must be a UUID")
		return
	}
	if req.MessageType == "" {
		writeError(w, http.StatusUnprocessableEntity, "message_type is required")
		return
	}

	ctx := r.Context()
	if _, err := s.store.GetChat(ctx, req.ChatID); err != nil {
		s.writeStoreError(w, err, "Chat not found")
		return
	}

	msg := &models.Message{
		ChatID:            req.ChatID,
		UserID:            req.UserID,
		TelegramMessageID: req.TelegramMessageID,
		MessageType:       req.MessageType,
		Content:           req.Content,
		IsFromBot:         req.IsFromBot,
		IsReply:           req.IsReply,
		ReplyToMessageID:  req.ReplyToMessageID,
		MessageHash:       req.MessageHash,
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		s.writeStoreError(w, err, "Chat not found")
		return
	}

	s.publish(ctx, broadcast.MessageEvent(msg))
	writeJSON(w, http.StatusOK, msg)
}
