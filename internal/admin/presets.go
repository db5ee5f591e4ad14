package admin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/kirillgpt-bot-go/internal/models"
	"github.com/kirillgpt-bot-go/internal/services/broadcast"
)

// Defaults applied to fields a create request leaves out
const (
	defaultPresetTemperature = 0.7
	defaultPresetMaxTokens   = 600
	defaultPresetIntensity   = 50
)

func (s *Server) handleListPresets(w http.ResponseWriter, r *http.Request) {
	presets, err := s.store.ListPresets(r.Context())
	if err != nil {
		s.writeStoreError(w, err, "Presets not found")
		return
	}
	writeJSON(w, http.StatusOK, presets)
}

func (s *Server) handleGetPreset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	preset, err := s.store.GetPreset(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err, "Preset not found")
		return
	}
	writeJSON(w, http.StatusOK, preset)
}

func (s *Server) handleCreatePreset(w http.ResponseWriter, r *http.Request) {
	var req models.PresetUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if req.Name == nil {
		writeError(w, http.StatusUnprocessableEntity, "name is required")
		return
	}
	if err := validatePreset(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	preset := models.Preset{
		Temperature:        defaultPresetTemperature,
		MaxTokens:          defaultPresetMaxTokens,
		EmotionalIntensity: defaultPresetIntensity,
	}
	applyPresetRequest(&preset, req)

	ctx := r.Context()
	created, err := s.store.CreatePreset(ctx, preset)
	if err != nil {
		s.writeStoreError(w, err, "Preset not found")
		return
	}

	s.recordAction(ctx, "create_preset", "preset", created.ID, map[string]interface{}{
		"name":       created.Name,
		"is_default": created.IsDefault,
	})
	writeJSON(w, http.StatusOK, created)
}

func (s *Server) handleUpdatePreset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req models.PresetUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := validatePreset(req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ctx := r.Context()
	updated, err := s.store.UpdatePreset(ctx, id, req)
	if err != nil {
		s.writeStoreError(w, err, "Preset not found")
		return
	}

	s.publish(ctx, broadcast.NewEvent(broadcast.EventPresetChanged, map[string]interface{}{
		"preset_id": id,
		"preset": map[string]interface{}{
			"name":        updated.Name,
			"temperature": updated.Temperature,
			"max_tokens":  updated.MaxTokens,
		},
	}))
	s.recordAction(ctx, "update_preset", "preset", id, map[string]interface{}{
		"name": updated.Name,
	})
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeletePreset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	if err := s.store.DeletePreset(ctx, id); err != nil {
		s.writeStoreError(w, err, "Preset not found")
		return
	}

	s.publish(ctx, broadcast.NewEvent(broadcast.EventPresetDeleted, map[string]interface{}{
		"preset_id": id,
	}))
	s.recordAction(ctx, "delete_preset", "preset", id, nil)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Preset deleted successfully"})
}

func validatePreset(req models.PresetUpdate) error {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return errors.New("name must not be empty")
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return errors.New("temperature must be between 0 and 2")
	}
	if req.MaxTokens != nil && *req.MaxTokens < 0 {
		return errors.New("max_tokens must not be negative")
	}
	if req.EmotionalIntensity != nil && (*req.EmotionalIntensity < 0 || *req.EmotionalIntensity > 100) {
		return errors.New("emotional_intensity must be between 0 and 100")
	}
	return nil
}

func applyPresetRequest(p *models.Preset, req models.PresetUpdate) {
	if req.Name != nil {
		p.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		p.Description = *req.Description
	}
	if req.Temperature != nil {
		p.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		p.MaxTokens = *req.MaxTokens
	}
	if req.Tone != nil {
		p.Tone = *req.Tone
	}
	if req.Verbosity != nil {
		p.Verbosity = *req.Verbosity
	}
	if req.EmotionalIntensity != nil {
		p.EmotionalIntensity = *req.EmotionalIntensity
	}
	if req.SystemPromptOverride != nil {
		p.SystemPromptOverride = *req.SystemPromptOverride
	}
	if req.IsDefault != nil {
		p.IsDefault = *req.IsDefault
	}
}
