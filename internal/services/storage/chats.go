package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kirillgpt-bot-go/internal/models"
	"github.com/sirupsen/logrus"
)

const chatColumns = `c.id, c.telegram_chat_id, c.chat_type, c.title, c.username, c.created_at, c.updated_at`

const settingsColumns = `cs.id, cs.chat_id, cs.preset_id, cs.auto_reply_enabled, cs.reply_on_mention_enabled,
	cs.temporary_preset_until, cs.created_at, cs.updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChat(row rowScanner, extra ...interface{}) (*models.Chat, error) {
	var chat models.Chat
	var createdAt, updatedAt int64
	dest := append([]interface{}{
		&chat.ID, &chat.TelegramChatID, &chat.ChatType, &chat.Title, &chat.Username, &createdAt, &updatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	chat.CreatedAt = fromStamp(createdAt)
	chat.UpdatedAt = fromStamp(updatedAt)
	return &chat, nil
}

func scanSettings(row rowScanner) (*models.ChatSettings, error) {
	var settings models.ChatSettings
	var presetID sql.NullString
	var until sql.NullInt64
	var createdAt, updatedAt int64
	err := row.Scan(&settings.ID, &settings.ChatID, &presetID, &settings.AutoReplyEnabled,
		&settings.ReplyOnMentionEnabled, &until, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	settings.PresetID = stringPtr(presetID)
	settings.TemporaryPresetUntil = timePtr(until)
	settings.CreatedAt = fromStamp(createdAt)
	settings.UpdatedAt = fromStamp(updatedAt)
	return &settings, nil
}

// GetOrCreateChat upserts a chat by its Telegram id. A new chat gets the
// default settings; chat metadata is refreshed on every call.
func (s *Store) GetOrCreateChat(ctx context.Context, telegramChatID int64, chatType, title, username string) (*models.Chat, error) {
	start := time.Now()
	var chat *models.Chat
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.stamp()
		row := tx.QueryRowContext(ctx, s.rebind(`
			INSERT INTO chats (id, telegram_chat_id, chat_type, title, username, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (telegram_chat_id) DO UPDATE SET
				chat_type = excluded.chat_type,
				title = excluded.title,
				username = excluded.username,
				updated_at = excluded.updated_at
			RETURNING id, telegram_chat_id, chat_type, title, username, created_at, updated_at`),
			uuid.NewString(), telegramChatID, chatType, title, username, now, now)

		var err error
		chat, err = scanChat(row)
		if err != nil {
			return fmt.Errorf("upsert chat: %w", err)
		}

		defaults := models.DefaultChatSettings()
		res, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO chat_settings (id, chat_id, auto_reply_enabled, reply_on_mention_enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (chat_id) DO NOTHING`),
			uuid.NewString(), chat.ID, defaults.AutoReplyEnabled, defaults.ReplyOnMentionEnabled, now, now)
		if err != nil {
			return fmt.Errorf("create default settings: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.WithField("telegram_chat_id", telegramChatID).Info("Created new chat")
		}
		return nil
	})
	s.observe("get_or_create_chat", start, err)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// GetOrCreateUser upserts a user by their Telegram id, refreshing names
func (s *Store) GetOrCreateUser(ctx context.Context, u models.User) (*models.User, error) {
	start := time.Now()
	now := s.stamp()
	row := s.db.QueryRowContext(ctx, s.rebind(`
		INSERT INTO users (id, telegram_user_id, username, first_name, last_name, is_bot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (telegram_user_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			updated_at = excluded.updated_at
		RETURNING id, telegram_user_id, username, first_name, last_name, is_bot, created_at, updated_at`),
		uuid.NewString(), u.TelegramUserID, u.Username, u.FirstName, u.LastName, u.IsBot, now, now)

	user, err := scanUser(row)
	s.observe("get_or_create_user", start, err)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var createdAt, updatedAt int64
	err := row.Scan(&user.ID, &user.TelegramUserID, &user.Username, &user.FirstName, &user.LastName,
		&user.IsBot, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	user.CreatedAt = fromStamp(createdAt)
	user.UpdatedAt = fromStamp(updatedAt)
	return &user, nil
}

// ChatSettings returns the settings of a Telegram chat, or nil when the
// chat is unknown.
func (s *Store) ChatSettings(ctx context.Context, telegramChatID int64) (*models.ChatSettings, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+settingsColumns+`
		FROM chat_settings cs
		JOIN chats c ON c.id = cs.chat_id
		WHERE c.telegram_chat_id = ?`), telegramChatID)

	settings, err := scanSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		s.observe("chat_settings", start, nil)
		return nil, nil
	}
	s.observe("chat_settings", start, err)
	if err != nil {
		return nil, fmt.Errorf("get chat settings: %w", err)
	}
	return settings, nil
}

// ActivePreset returns the preset linked to a Telegram chat. An unlinked
// chat, or one whose temporary preset has expired, gets the default preset.
// Nil means no preset applies.
func (s *Store) ActivePreset(ctx context.Context, telegramChatID int64) (*models.Preset, error) {
	start := time.Now()
	var presetID sql.NullString
	var until sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT cs.preset_id, cs.temporary_preset_until
		FROM chat_settings cs
		JOIN chats c ON c.id = cs.chat_id
		WHERE c.telegram_chat_id = ?`), telegramChatID).Scan(&presetID, &until)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.observe("active_preset", start, err)
		return nil, fmt.Errorf("get active preset: %w", err)
	}

	expired := until.Valid && s.stamp() >= until.Int64
	if presetID.Valid && !expired {
		preset, err := s.GetPreset(ctx, presetID.String)
		if err == nil {
			s.observe("active_preset", start, nil)
			return preset, nil
		}
		if !errors.Is(err, ErrNotFound) {
			s.observe("active_preset", start, err)
			return nil, err
		}
	}

	preset, err := s.DefaultPreset(ctx)
	s.observe("active_preset", start, err)
	return preset, err
}

// ListChats returns chats with their settings, most recently active first.
// search matches title or username case-insensitively.
func (s *Store) ListChats(ctx context.Context, search string) (*models.ChatList, error) {
	start := time.Now()
	query := `
		SELECT ` + chatColumns + `,
			cs.id, cs.chat_id, cs.preset_id, cs.auto_reply_enabled, cs.reply_on_mention_enabled,
			cs.temporary_preset_until, cs.created_at, cs.updated_at
		FROM chats c
		LEFT JOIN chat_settings cs ON cs.chat_id = c.id`
	var args []interface{}
	if search != "" {
		query += ` WHERE c.title ` + s.like() + ` ? OR c.username ` + s.like() + ` ?`
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern)
	}
	query += ` ORDER BY c.updated_at DESC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		s.observe("list_chats", start, err)
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	list := &models.ChatList{Chats: []models.Chat{}}
	for rows.Next() {
		var (
			sID, sChatID, presetID sql.NullString
			autoReply, onMention   sql.NullBool
			until, sCreated, sUpd  sql.NullInt64
		)
		chat, err := scanChat(rows, &sID, &sChatID, &presetID, &autoReply, &onMention, &until, &sCreated, &sUpd)
		if err != nil {
			s.observe("list_chats", start, err)
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		if sID.Valid {
			chat.Settings = &models.ChatSettings{
				ID:                    sID.String,
				ChatID:                sChatID.String,
				PresetID:              stringPtr(presetID),
				AutoReplyEnabled:      autoReply.Bool,
				ReplyOnMentionEnabled: onMention.Bool,
				TemporaryPresetUntil:  timePtr(until),
				CreatedAt:             fromStamp(sCreated.Int64),
				UpdatedAt:             fromStamp(sUpd.Int64),
			}
		}
		list.Chats = append(list.Chats, *chat)
	}
	if err := rows.Err(); err != nil {
		s.observe("list_chats", start, err)
		return nil, fmt.Errorf("iterate chats: %w", err)
	}

	list.Total = len(list.Chats)
	s.observe("list_chats", start, nil)
	return list, nil
}

// GetChat returns a chat with its settings
func (s *Store) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	start := time.Now()
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+chatColumns+` FROM chats c WHERE c.id = ?`), id)
	chat, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
	}
	if err != nil {
		s.observe("get_chat", start, err)
		return nil, err
	}

	settings, err := s.GetChatSettings(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.observe("get_chat", start, err)
		return nil, err
	}
	chat.Settings = settings
	s.observe("get_chat", start, nil)
	return chat, nil
}

// GetChatSettings returns the settings of a chat by chat id, with the
// linked preset filled in.
func (s *Store) GetChatSettings(ctx context.Context, chatID string) (*models.ChatSettings, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+settingsColumns+`
		FROM chat_settings cs
		WHERE cs.chat_id = ?`), chatID)
	settings, err := scanSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat settings: %w", err)
	}

	if settings.PresetID != nil {
		preset, err := s.GetPreset(ctx, *settings.PresetID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		settings.Preset = preset
	}
	return settings, nil
}

// UpdateChatSettings applies a partial update, creating the settings row
// when the chat has none. An empty PresetID unlinks the preset.
func (s *Store) UpdateChatSettings(ctx context.Context, chatID string, upd models.ChatSettingsUpdate) (*models.ChatSettings, error) {
	start := time.Now()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM chats WHERE id = ?`), chatID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("find chat: %w", err)
		}

		if upd.PresetID != nil && *upd.PresetID != "" {
			err := tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM presets WHERE id = ?`), *upd.PresetID).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrUnknownPreset
			}
			if err != nil {
				return fmt.Errorf("find preset: %w", err)
			}
		}

		current := models.DefaultChatSettings()
		var presetID sql.NullString
		var until sql.NullInt64
		var settingsID string
		err = tx.QueryRowContext(ctx, s.rebind(`
			SELECT id, preset_id, auto_reply_enabled, reply_on_mention_enabled, temporary_preset_until
			FROM chat_settings WHERE chat_id = ?`), chatID).
			Scan(&settingsID, &presetID, &current.AutoReplyEnabled, &current.ReplyOnMentionEnabled, &until)
		found := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("load chat settings: %w", err)
		}

		if upd.PresetID != nil {
			presetID = nullString(upd.PresetID)
		}
		if upd.AutoReplyEnabled != nil {
			current.AutoReplyEnabled = *upd.AutoReplyEnabled
		}
		if upd.ReplyOnMentionEnabled != nil {
			current.ReplyOnMentionEnabled = *upd.ReplyOnMentionEnabled
		}
		if upd.TemporaryPresetUntil != nil {
			until = nullStamp(upd.TemporaryPresetUntil)
		} else if upd.ClearTemporaryPreset {
			until = sql.NullInt64{}
		}

		now := s.stamp()
		if found {
			_, err = tx.ExecContext(ctx, s.rebind(`
				UPDATE chat_settings
				SET preset_id = ?, auto_reply_enabled = ?, reply_on_mention_enabled = ?,
					temporary_preset_until = ?, updated_at = ?
				WHERE id = ?`),
				presetID, current.AutoReplyEnabled, current.ReplyOnMentionEnabled, until, now, settingsID)
		} else {
			_, err = tx.ExecContext(ctx, s.rebind(`
				INSERT INTO chat_settings (id, chat_id, preset_id, auto_reply_enabled, reply_on_mention_enabled,
					temporary_preset_until, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
				uuid.NewString(), chatID, presetID, current.AutoReplyEnabled, current.ReplyOnMentionEnabled, until, now, now)
		}
		if err != nil {
			return fmt.Errorf("save chat settings: %w", err)
		}
		return nil
	})
	s.observe("update_chat_settings", start, err)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"chat_id": chatID}).Info("Chat settings updated")
	return s.GetChatSettings(ctx, chatID)
}
