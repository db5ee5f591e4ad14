package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/kirillgpt-bot-go/internal/config"
	"github.com/kirillgpt-bot-go/internal/middleware"
	"github.com/kirillgpt-bot-go/internal/models"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// SettingsSource is the durable store behind the cache
type SettingsSource interface {
	ChatSettings(ctx context.Context, telegramChatID int64) (*models.ChatSettings, error)
	ActivePreset(ctx context.Context, telegramChatID int64) (*models.Preset, error)
}

// SettingsCache keeps a time-bounded projection of each chat's settings
// and active preset. Entries are never pushed out by admin changes; they
// simply expire after the TTL.
type SettingsCache struct {
	source  SettingsSource
	entries *cache.Cache
	group   singleflight.Group
	ttl     time.Duration
	now     func() time.Time
	metrics *middleware.Metrics
	logger  *logrus.Logger
}

// NewSettingsCache creates a settings cache. A nil source disables lookups
// and every call returns an empty config.
func NewSettingsCache(cfg *config.CacheConfig, source SettingsSource, metrics *middleware.Metrics, logger *logrus.Logger) *SettingsCache {
	return &SettingsCache{
		source:  source,
		entries: cache.New(cfg.TTL, cfg.TTL*2),
		ttl:     cfg.TTL,
		now:     time.Now,
		metrics: metrics,
		logger:  logger,
	}
}

// GetConfig returns the chat's settings and active preset. On a store
// failure nothing is cached and an empty config is returned so the caller
// falls back to built-in defaults.
func (c *SettingsCache) GetConfig(ctx context.Context, telegramChatID int64) models.ChatConfig {
	if c.source == nil {
		return models.ChatConfig{}
	}

	key := strconv.FormatInt(telegramChatID, 10)
	if cfg, ok := c.lookup(key); ok {
		c.recordHit()
		return cfg
	}
	c.recordMiss()

	// Concurrent misses for one chat share a single fetch.
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if cfg, ok := c.lookup(key); ok {
			return cfg, nil
		}
		return c.load(ctx, key, telegramChatID)
	})
	if err != nil {
		c.logger.WithError(err).WithField("chat_id", telegramChatID).Error("Error loading chat config")
		return models.ChatConfig{}
	}

	return v.(models.ChatConfig)
}

// Invalidate drops the cached entry for a chat
func (c *SettingsCache) Invalidate(telegramChatID int64) {
	c.entries.Delete(strconv.FormatInt(telegramChatID, 10))
}

func (c *SettingsCache) lookup(key string) (models.ChatConfig, bool) {
	val, found := c.entries.Get(key)
	if !found {
		return models.ChatConfig{}, false
	}
	cfg := val.(models.ChatConfig)
	if c.now().Sub(cfg.CachedAt) >= c.ttl {
		return models.ChatConfig{}, false
	}
	return cfg, true
}

func (c *SettingsCache) load(ctx context.Context, key string, telegramChatID int64) (models.ChatConfig, error) {
	settings, err := c.source.ChatSettings(ctx, telegramChatID)
	if err != nil {
		return models.ChatConfig{}, err
	}
	preset, err := c.source.ActivePreset(ctx, telegramChatID)
	if err != nil {
		return models.ChatConfig{}, err
	}

	cfg := models.ChatConfig{
		Settings: settings,
		Preset:   preset,
		CachedAt: c.now(),
	}
	c.entries.SetDefault(key, cfg)

	presetName := "default"
	if preset != nil {
		presetName = preset.Name
	}
	c.logger.WithFields(logrus.Fields{
		"chat_id": telegramChatID,
		"preset":  presetName,
	}).Info("Loaded chat config")

	return cfg, nil
}

func (c *SettingsCache) recordHit() {
	if c.metrics != nil {
		c.metrics.RecordCacheHit()
	}
}

func (c *SettingsCache) recordMiss() {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss()
	}
}
