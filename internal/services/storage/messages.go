package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kirillgpt-bot-go/internal/models"
	"github.com/kirillgpt-bot-go/pkg/logger"
)

// SaveMessage stores a message, assigning its id and creation time
func (s *Store) SaveMessage(ctx context.Context, msg *models.Message) error {
	start := time.Now()
	now := s.now()
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Unix(0, now.UnixNano()).UTC()

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO messages (id, chat_id, user_id, telegram_message_id, message_type, content,
			is_from_bot, is_reply, reply_to_message_id, message_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.ChatID, nullString(msg.UserID), msg.TelegramMessageID, msg.MessageType, msg.Content,
		msg.IsFromBot, msg.IsReply, nullString(msg.ReplyToMessageID), msg.MessageHash, now.UnixNano())
	s.observe("save_message", start, err)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// CreateAdminMessage stores a message an admin sent through the bot. It has
// no author and is not marked as a bot message.
func (s *Store) CreateAdminMessage(ctx context.Context, chatID, content string, telegramMessageID int64) (*models.Message, error) {
	msg := &models.Message{
		ChatID:            chatID,
		TelegramMessageID: telegramMessageID,
		MessageType:       "text",
		Content:           content,
		MessageHash:       logger.Fingerprint(content + strconv.FormatInt(telegramMessageID, 10)),
	}
	if err := s.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns one page of messages matching filter, newest first
func (s *Store) ListMessages(ctx context.Context, filter models.MessageFilter) (*models.MessageList, error) {
	start := time.Now()
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PerPage < 1 {
		filter.PerPage = 50
	}

	var where []string
	var args []interface{}
	if filter.ChatID != "" {
		where = append(where, "m.chat_id = ?")
		args = append(args, filter.ChatID)
	}
	if filter.UserID != "" {
		where = append(where, "m.user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Search != "" {
		where = append(where, "m.content "+s.like()+" ?")
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.IsFromBot != nil {
		where = append(where, "m.is_from_bot = ?")
		args = append(args, *filter.IsFromBot)
	}
	if filter.StartDate != nil {
		where = append(where, "m.created_at >= ?")
		args = append(args, filter.StartDate.UnixNano())
	}
	if filter.EndDate != nil {
		where = append(where, "m.created_at <= ?")
		args = append(args, filter.EndDate.UnixNano())
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM messages m`+clause), args...).Scan(&total); err != nil {
		s.observe("list_messages", start, err)
		return nil, fmt.Errorf("count messages: %w", err)
	}

	pageArgs := append(append([]interface{}{}, args...), filter.PerPage, (filter.Page-1)*filter.PerPage)
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT m.id, m.chat_id, m.user_id, m.telegram_message_id, m.message_type, m.content,
			m.is_from_bot, m.is_reply, m.reply_to_message_id, m.message_hash, m.created_at,
			u.id, u.telegram_user_id, u.username, u.first_name, u.last_name, u.is_bot, u.created_at, u.updated_at
		FROM messages m
		LEFT JOIN users u ON u.id = m.user_id`+clause+`
		ORDER BY m.created_at DESC
		LIMIT ? OFFSET ?`), pageArgs...)
	if err != nil {
		s.observe("list_messages", start, err)
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	list := &models.MessageList{
		Messages: []models.Message{},
		Total:    total,
		Page:     filter.Page,
		PerPage:  filter.PerPage,
		HasNext:  filter.Page*filter.PerPage < total,
	}
	for rows.Next() {
		msg, err := scanMessageWithUser(rows)
		if err != nil {
			s.observe("list_messages", start, err)
			return nil, fmt.Errorf("scan message: %w", err)
		}
		list.Messages = append(list.Messages, *msg)
	}
	err = rows.Err()
	s.observe("list_messages", start, err)
	if err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return list, nil
}

func scanMessageWithUser(row rowScanner) (*models.Message, error) {
	var (
		msg                models.Message
		userID, replyTo    sql.NullString
		createdAt          int64
		uID, uName, uFirst sql.NullString
		uLast              sql.NullString
		uTelegramID        sql.NullInt64
		uIsBot             sql.NullBool
		uCreated, uUpdated sql.NullInt64
	)
	err := row.Scan(&msg.ID, &msg.ChatID, &userID, &msg.TelegramMessageID, &msg.MessageType, &msg.Content,
		&msg.IsFromBot, &msg.IsReply, &replyTo, &msg.MessageHash, &createdAt,
		&uID, &uTelegramID, &uName, &uFirst, &uLast, &uIsBot, &uCreated, &uUpdated)
	if err != nil {
		return nil, err
	}
	msg.UserID = stringPtr(userID)
	msg.ReplyToMessageID = stringPtr(replyTo)
	msg.CreatedAt = fromStamp(createdAt)
	if uID.Valid {
		msg.User = &models.User{
			ID:             uID.String,
			TelegramUserID: uTelegramID.Int64,
			Username:       uName.String,
			FirstName:      uFirst.String,
			LastName:       uLast.String,
			IsBot:          uIsBot.Bool,
			CreatedAt:      fromStamp(uCreated.Int64),
			UpdatedAt:      fromStamp(uUpdated.Int64),
		}
	}
	return &msg, nil
}

// RecordAdminAction appends an entry to the admin audit log
func (s *Store) RecordAdminAction(ctx context.Context, action *models.AdminAction) error {
	start := time.Now()
	details := action.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal action details: %w", err)
	}

	now := s.now()
	action.ID = uuid.NewString()
	action.CreatedAt = time.Unix(0, now.UnixNano()).UTC()
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO admin_actions (id, action_type, target_type, target_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		action.ID, action.ActionType, action.TargetType, action.TargetID, string(data), now.UnixNano())
	s.observe("record_admin_action", start, err)
	if err != nil {
		return fmt.Errorf("insert admin action: %w", err)
	}
	return nil
}

// ListAdminActions returns the most recent audit entries
func (s *Store) ListAdminActions(ctx context.Context, limit int) ([]models.AdminAction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, action_type, target_type, target_id, details, created_at
		FROM admin_actions
		ORDER BY created_at DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list admin actions: %w", err)
	}
	defer rows.Close()

	actions := []models.AdminAction{}
	for rows.Next() {
		var a models.AdminAction
		var details string
		var createdAt int64
		if err := rows.Scan(&a.ID, &a.ActionType, &a.TargetType, &a.TargetID, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scan admin action: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &a.Details); err != nil {
			a.Details = map[string]interface{}{"raw": details}
		}
		a.CreatedAt = fromStamp(createdAt)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
