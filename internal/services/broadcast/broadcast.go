package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillgpt-bot-go/internal/config"
	"github.com/kirillgpt-bot-go/internal/middleware"
	"github.com/kirillgpt-bot-go/internal/models"
	"github.com/sirupsen/logrus"
)

// Event types published on the bus
const (
	EventNewMessage          = "new_message"
	EventChatSettingsChanged = "chat_settings_changed"
	EventPresetChanged       = "preset_changed"
	EventPresetDeleted       = "preset_deleted"
	EventAdminMessageSent    = "admin_message_sent"
)

// Event is a JSON object with a "type" field, delivered as is to admin clients
type Event map[string]interface{}

// NewEvent creates an event of the given type carrying fields
func NewEvent(eventType string, fields map[string]interface{}) Event {
	e := Event{"type": eventType}
	for k, v := range fields {
		e[k] = v
	}
	return e
}

// Type returns the event type
func (e Event) Type() string {
	t, _ := e["type"].(string)
	return t
}

// Bus fans events out to every subscriber
type Bus interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe returns a channel of events that is closed once ctx is done
	Subscribe(ctx context.Context) (<-chan Event, error)
	Close() error
}

// NewBus creates the bus selected by cfg.Type
func NewBus(cfg *config.BroadcastConfig, metrics *middleware.Metrics, logger *logrus.Logger) (Bus, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryBus(metrics, logger), nil
	case "redis":
		return NewRedisBus(cfg, metrics, logger)
	default:
		return nil, fmt.Errorf("unsupported broadcast type: %s", cfg.Type)
	}
}

// Timestamp formats t the way events carry times
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// MessageEvent describes a stored message for live feeds
func MessageEvent(m *models.Message) Event {
	return NewEvent(EventNewMessage, map[string]interface{}{
		"message": map[string]interface{}{
			"id":                  m.ID,
			"chat_id":             m.ChatID,
			"user_id":             m.UserID,
			"telegram_message_id": m.TelegramMessageID,
			"content":             m.Content,
			"is_from_bot":         m.IsFromBot,
			"created_at":          Timestamp(m.CreatedAt),
		},
	})
}

func recordPublish(metrics *middleware.Metrics, event Event) {
	if metrics != nil {
		metrics.RecordBroadcastEvent(event.Type())
	}
}
