package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kirillgpt-bot-go/internal/models"
)

const presetColumns = `id, name, description, temperature, max_tokens, tone, verbosity,
	emotional_intensity, system_prompt_override, is_default, created_at, updated_at`

// Values of the preset created by EnsureDefaultPreset
const (
	DefaultPresetName        = "Кирилл по умолчанию"
	defaultPresetDescription = "Стандартная личность Кирилла GPT с грубоватым стилем"
)

func scanPreset(row rowScanner) (*models.Preset, error) {
	var p models.Preset
	var createdAt, updatedAt int64
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Temperature, &p.MaxTokens, &p.Tone, &p.Verbosity,
		&p.EmotionalIntensity, &p.SystemPromptOverride, &p.IsDefault, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = fromStamp(createdAt)
	p.UpdatedAt = fromStamp(updatedAt)
	return &p, nil
}

// ListPresets returns all presets, the default one first, then by name
func (s *Store) ListPresets(ctx context.Context) ([]models.Preset, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, `SELECT `+presetColumns+` FROM presets ORDER BY is_default DESC, name`)
	if err != nil {
		s.observe("list_presets", start, err)
		return nil, fmt.Errorf("list presets: %w", err)
	}
	defer rows.Close()

	presets := []models.Preset{}
	for rows.Next() {
		p, err := scanPreset(rows)
		if err != nil {
			s.observe("list_presets", start, err)
			return nil, fmt.Errorf("scan preset: %w", err)
		}
		presets = append(presets, *p)
	}
	err = rows.Err()
	s.observe("list_presets", start, err)
	if err != nil {
		return nil, fmt.Errorf("iterate presets: %w", err)
	}
	return presets, nil
}

// GetPreset returns a preset by id
func (s *Store) GetPreset(ctx context.Context, id string) (*models.Preset, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+presetColumns+` FROM presets WHERE id = ?`), id)
	p, err := scanPreset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preset: %w", err)
	}
	return p, nil
}

// DefaultPreset returns the default preset, or nil when none is marked
func (s *Store) DefaultPreset(ctx context.Context) (*models.Preset, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+presetColumns+` FROM presets WHERE is_default = ? LIMIT 1`), true)
	p, err := scanPreset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get default preset: %w", err)
	}
	return p, nil
}

// CreatePreset stores a new preset. Marking it default clears the flag on
// every other preset.
func (s *Store) CreatePreset(ctx context.Context, p models.Preset) (*models.Preset, error) {
	start := time.Now()
	now := s.now()
	p.ID = uuid.NewString()
	p.CreatedAt = time.Unix(0, now.UnixNano()).UTC()
	p.UpdatedAt = p.CreatedAt

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if p.IsDefault {
			if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE presets SET is_default = ?`), false); err != nil {
				return fmt.Errorf("clear default preset: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, s.rebind(`
			INSERT INTO presets (`+presetColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			p.ID, p.Name, p.Description, p.Temperature, p.MaxTokens, p.Tone, p.Verbosity,
			p.EmotionalIntensity, p.SystemPromptOverride, p.IsDefault, now.UnixNano(), now.UnixNano())
		if err != nil {
			return fmt.Errorf("insert preset: %w", err)
		}
		return nil
	})
	s.observe("create_preset", start, err)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePreset applies a partial update to a preset
func (s *Store) UpdatePreset(ctx context.Context, id string, upd models.PresetUpdate) (*models.Preset, error) {
	start := time.Now()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.rebind(`SELECT `+presetColumns+` FROM presets WHERE id = ?`), id)
		p, err := scanPreset(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load preset: %w", err)
		}

		applyPresetUpdate(p, upd)

		if upd.IsDefault != nil && *upd.IsDefault {
			if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE presets SET is_default = ? WHERE id <> ?`), false, id); err != nil {
				return fmt.Errorf("clear default preset: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, s.rebind(`
			UPDATE presets
			SET name = ?, description = ?, temperature = ?, max_tokens = ?, tone = ?, verbosity = ?,
				emotional_intensity = ?, system_prompt_override = ?, is_default = ?, updated_at = ?
			WHERE id = ?`),
			p.Name, p.Description, p.Temperature, p.MaxTokens, p.Tone, p.Verbosity,
			p.EmotionalIntensity, p.SystemPromptOverride, p.IsDefault, s.stamp(), id)
		if err != nil {
			return fmt.Errorf("update preset: %w", err)
		}
		return nil
	})
	s.observe("update_preset", start, err)
	if err != nil {
		return nil, err
	}
	return s.GetPreset(ctx, id)
}

func applyPresetUpdate(p *models.Preset, upd models.PresetUpdate) {
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	if upd.Temperature != nil {
		p.Temperature = *upd.Temperature
	}
	if upd.MaxTokens != nil {
		p.MaxTokens = *upd.MaxTokens
	}
	if upd.Tone != nil {
		p.Tone = *upd.Tone
	}
	if upd.Verbosity != nil {
		p.Verbosity = *upd.Verbosity
	}
	if upd.EmotionalIntensity != nil {
		p.EmotionalIntensity = *upd.EmotionalIntensity
	}
	if upd.SystemPromptOverride != nil {
		p.SystemPromptOverride = *upd.SystemPromptOverride
	}
	if upd.IsDefault != nil {
		p.IsDefault = *upd.IsDefault
	}
}

// DeletePreset removes a preset. The default preset cannot be deleted;
// chats linked to a deleted preset fall back to the default.
func (s *Store) DeletePreset(ctx context.Context, id string) error {
	start := time.Now()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var isDefault bool
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT is_default FROM presets WHERE id = ?`), id).Scan(&isDefault)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load preset: %w", err)
		}
		if isDefault {
			return ErrDefaultPreset
		}

		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE chat_settings SET preset_id = NULL WHERE preset_id = ?`), id); err != nil {
			return fmt.Errorf("unlink preset: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM presets WHERE id = ?`), id); err != nil {
			return fmt.Errorf("delete preset: %w", err)
		}
		return nil
	})
	s.observe("delete_preset", start, err)
	return err
}

// EnsureDefaultPreset creates the stock persona preset unless a default
// preset already exists. It reports whether one was created.
func (s *Store) EnsureDefaultPreset(ctx context.Context) (*models.Preset, bool, error) {
	existing, err := s.DefaultPreset(ctx)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	p, err := s.CreatePreset(ctx, models.Preset{
		Name:               DefaultPresetName,
		Description:        defaultPresetDescription,
		Temperature:        0.7,
		MaxTokens:          600,
		Tone:               "грубоватый",
		Verbosity:          "короткий",
		EmotionalIntensity: 70,
		IsDefault:          true,
	})
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}
