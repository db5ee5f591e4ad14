package models

import (
	"time"
)

// Role identifies who produced a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a user's conversation history
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Preset is an admin-configurable bundle of generation parameters.
// Zero Temperature or MaxTokens means "not set".
type Preset struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Description          string    `json:"description"`
	Temperature          float64   `json:"temperature"`
	MaxTokens            int       `json:"max_tokens"`
	Tone                 string    `json:"tone"`
	Verbosity            string    `json:"verbosity"`
	EmotionalIntensity   int       `json:"emotional_intensity"`
	SystemPromptOverride string    `json:"system_prompt_override"`
	IsDefault            bool      `json:"is_default"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// PresetUpdate carries a partial preset update; nil fields are left unchanged
type PresetUpdate struct {
	Name                 *string  `json:"name"`
	Description          *string  `json:"description"`
	Temperature          *float64 `json:"temperature"`
	MaxTokens            *int     `json:"max_tokens"`
	Tone                 *string  `json:"tone"`
	Verbosity            *string  `json:"verbosity"`
	EmotionalIntensity   *int     `json:"emotional_intensity"`
	SystemPromptOverride *string  `json:"system_prompt_override"`
	IsDefault            *bool    `json:"is_default"`
}

// ChatSettings is the per-chat configuration, one-to-one with a Chat
type ChatSettings struct {
	ID                    string     `json:"id"`
	ChatID                string     `json:"chat_id"`
	PresetID              *string    `json:"preset_id"`
	AutoReplyEnabled      bool       `json:"auto_reply_enabled"`
	ReplyOnMentionEnabled bool       `json:"reply_on_mention_enabled"`
	TemporaryPresetUntil  *time.Time `json:"temporary_preset_until"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	Preset                *Preset    `json:"preset,omitempty"`
}

// DefaultChatSettings returns the flags a chat starts with
func DefaultChatSettings() ChatSettings {
	return ChatSettings{
		AutoReplyEnabled:      true,
		ReplyOnMentionEnabled: true,
	}
}

// ChatSettingsUpdate carries a partial settings update. An empty PresetID
// unlinks the preset; ClearTemporaryPreset drops the expiry.
type ChatSettingsUpdate struct {
	PresetID              *string    `json:"preset_id"`
	AutoReplyEnabled      *bool      `json:"auto_reply_enabled"`
	ReplyOnMentionEnabled *bool      `json:"reply_on_mention_enabled"`
	TemporaryPresetUntil  *time.Time `json:"temporary_preset_until"`
	ClearTemporaryPreset  bool       `json:"-"`
}

// ChatConfig is the cached projection of a chat's settings and active preset
type ChatConfig struct {
	Settings *ChatSettings
	Preset   *Preset
	CachedAt time.Time
}

// Chat is a Telegram chat the bot has seen
type Chat struct {
	ID             string        `json:"id"`
	TelegramChatID int64         `json:"telegram_chat_id"`
	ChatType       string        `json:"chat_type"`
	Title          string        `json:"title"`
	Username       string        `json:"username"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Settings       *ChatSettings `json:"settings,omitempty"`
}

// User is a Telegram user the bot has seen
type User struct {
	ID             string    `json:"id"`
	TelegramUserID int64     `json:"telegram_user_id"`
	Username       string    `json:"username"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	IsBot          bool      `json:"is_bot"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Message is a persisted chat message
type Message struct {
	ID                string    `json:"id"`
	ChatID            string    `json:"chat_id"`
	UserID            *string   `json:"user_id"`
	TelegramMessageID int64     `json:"telegram_message_id"`
	MessageType       string    `json:"message_type"`
	Content           string    `json:"content"`
	IsFromBot         bool      `json:"is_from_bot"`
	IsReply           bool      `json:"is_reply"`
	ReplyToMessageID  *string   `json:"reply_to_message_id"`
	MessageHash       string    `json:"message_hash"`
	CreatedAt         time.Time `json:"created_at"`
	User              *User     `json:"user,omitempty"`
}

// MessageFilter selects a page of messages
type MessageFilter struct {
	Page      int
	PerPage   int
	ChatID    string
	UserID    string
	Search    string
	IsFromBot *bool
	StartDate *time.Time
	EndDate   *time.Time
}

// MessageList is one page of messages, newest first
type MessageList struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PerPage  int       `json:"per_page"`
	HasNext  bool      `json:"has_next"`
}

// ChatList is the result of a chat search
type ChatList struct {
	Chats []Chat `json:"chats"`
	Total int    `json:"total"`
}

// AdminAction is an audit record of an admin mutation
type AdminAction struct {
	ID         string                 `json:"id"`
	ActionType string                 `json:"action_type"`
	TargetType string                 `json:"target_type"`
	TargetID   string                 `json:"target_id"`
	Details    map[string]interface{} `json:"details"`
	CreatedAt  time.Time              `json:"created_at"`
}
