package admin

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/kirillgpt-bot-go/internal/models"
	"github.com/kirillgpt-bot-go/internal/services/broadcast"
)

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListChats(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		s.writeStoreError(w, err, "Chats not found")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	chat, err := s.store.GetChat(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "Chat not found")
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleGetChatSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	settings, err := s.store.GetChatSettings(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "Chat settings not found")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateChatSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var raw map[string]json.RawMessage
	if err := decodeJSON(w, r, &raw); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	upd, err := settingsUpdate(raw)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ctx := r.Context()
	settings, err := s.store.UpdateChatSettings(ctx, id, upd)
	if err != nil {
		s.writeStoreError(w, err, "Chat not found")
		return
	}

	s.publish(ctx, broadcast.NewEvent(broadcast.EventChatSettingsChanged, map[string]interface{}{
		"chat_id": id,
		"settings": map[string]interface{}{
			"auto_reply_enabled":       settings.AutoReplyEnabled,
			"reply_on_mention_enabled": settings.ReplyOnMentionEnabled,
			"preset_id":                settings.PresetID,
		},
	}))
	s.recordAction(ctx, "update_chat_settings", "chat", id, map[string]interface{}{
		"auto_reply_enabled":       settings.AutoReplyEnabled,
		"reply_on_mention_enabled": settings.ReplyOnMentionEnabled,
		"preset_id":                settings.PresetID,
	})

	writeJSON(w, http.StatusOK, settings)
}

var jsonNull = []byte("null")

// settingsUpdate builds a partial update from the request fields that are
// present. An explicit null preset_id unlinks the preset and an explicit null
// temporary_preset_until clears the expiry.
func settingsUpdate(raw map[string]json.RawMessage) (models.ChatSettingsUpdate, error) {
	var upd models.ChatSettingsUpdate

	if v, ok := raw["preset_id"]; ok {
		var id string
		if !bytes.Equal(bytes.TrimSpace(v), jsonNull) {
			if err := json.Unmarshal(v, &id); err != nil {
				return upd, errors.New("preset_id must be a string")
			}
			if id != "" {
				if _, err := uuid.Parse(id); err != nil {
					return upd, errors.New("preset_id must be a UUID")
				}
			}
		}
		upd.PresetID = &id
	}

	for name, dst := range map[string]**bool{
		"auto_reply_enabled":       &upd.AutoReplyEnabled,
		"reply_on_mention_enabled": &upd.ReplyOnMentionEnabled,
	} {
		v, ok := raw[name]
		if !ok || bytes.Equal(bytes.TrimSpace(v), jsonNull) {
			continue
		}
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return upd, errors.New(name + " must be a boolean")
		}
		*dst = &b
	}

	if v, ok := raw["temporary_preset_until"]; ok {
		if bytes.Equal(bytes.TrimSpace(v), jsonNull) {
			upd.ClearTemporaryPreset = true
		} else {
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return upd, errors.New("temporary_preset_until must be a datetime string")
			}
			t, err := parseTime(s)
			if err != nil {
				return upd, err
			}
			upd.TemporaryPresetUntil = &t
		}
	}
	return upd, nil
}
