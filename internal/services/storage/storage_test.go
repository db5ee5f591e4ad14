package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillgpt-bot-go/internal/config"
	"github.com/kirillgpt-bot-go/internal/models"
	"github.com/kirillgpt-bot-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := "sqlite://" + filepath.Join(t.TempDir(), "test.db")
	s, err := Open(&config.DatabaseConfig{URL: url}, nil, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestParseURL(t *testing.T) {
	tests := []struct {
		url     string
		driver  string
		dsn     string
		wantErr bool
	}{
		{url: "postgres://u:p@db:5432/kirill", driver: "postgres", dsn: "postgres://u:p@db:5432/kirill"},
		{url: "postgresql+asyncpg://u:p@db/kirill", driver: "postgres", dsn: "postgresql://u:p@db/kirill"},
		{url: "sqlite://./dev_database.db", driver: "sqlite", dsn: "./dev_database.db" + sqlitePragmas},
		{url: "sqlite+aiosqlite:///./dev_database.db", driver: "sqlite", dsn: "./dev_database.db" + sqlitePragmas},
		{url: "sqlite:////var/lib/kirill.db", driver: "sqlite", dsn: "/var/lib/kirill.db" + sqlitePragmas},
		{url: "data/bot.db", driver: "sqlite", dsn: "data/bot.db" + sqlitePragmas},
		{url: "mysql://x", wantErr: true},
		{url: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			driver, dsn, _, err := parseURL(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.driver, driver)
			assert.Equal(t, tt.dsn, dsn)
		})
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: dialectPostgres}
	lite := &Store{dialect: dialectSQLite}
	q := "SELECT * FROM t WHERE a = ? AND b = ?"

	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}

func TestGetOrCreateChatCreatesDefaultSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chat, err := s.GetOrCreateChat(ctx, -100123, "group", "Кирилл и друзья", "")
	require.NoError(t, err)
	assert.NotEmpty(t, chat.ID)

	again, err := s.GetOrCreateChat(ctx, -100123, "supergroup", "Переименован", "")
	require.NoError(t, err)
	assert.Equal(t, chat.ID, again.ID)
	assert.Equal(t, "Переименован", again.Title)

	settings, err := s.ChatSettings(ctx, -100123)
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.True(t, settings.AutoReplyEnabled)
	assert.True(t, settings.ReplyOnMentionEnabled)
	assert.Nil(t, settings.PresetID)
}

func TestChatSettingsUnknownChat(t *testing.T) {
	s := newTestStore(t)

	settings, err := s.ChatSettings(context.Background(), 404)
	assert.NoError(t, err)
	assert.Nil(t, settings)
}

func TestGetOrCreateUserRefreshesNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.GetOrCreateUser(ctx, models.User{TelegramUserID: 7, Username: "kirill", FirstName: "Кирилл"})
	require.NoError(t, err)

	u2, err := s.GetOrCreateUser(ctx, models.User{TelegramUserID: 7, Username: "kirill_new", FirstName: "Кирилл"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, u2.ID)
	assert.Equal(t, "kirill_new", u2.Username)
}

func TestActivePresetResolution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	preset, err := s.ActivePreset(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, preset, "no chat and no default preset")

	def, created, err := s.EnsureDefaultPreset(ctx)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, DefaultPresetName, def.Name)

	_, created, err = s.EnsureDefaultPreset(ctx)
	require.NoError(t, err)
	assert.False(t, created)

	chat, err := s.GetOrCreateChat(ctx, 1, "private", "", "kirill")
	require.NoError(t, err)

	preset, err = s.ActivePreset(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, preset)
	assert.Equal(t, def.ID, preset.ID)

	angry, err := s.CreatePreset(ctx, models.Preset{Name: "злой", Temperature: 0.9, MaxTokens: 300})
	require.NoError(t, err)
	_, err = s.UpdateChatSettings(ctx, chat.ID, models.ChatSettingsUpdate{PresetID: &angry.ID})
	require.NoError(t, err)

	preset, err = s.ActivePreset(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, angry.ID, preset.ID)
	assert.Equal(t, 0.9, preset.Temperature)

	past := time.Now().Add(-time.Minute)
	_, err = s.UpdateChatSettings(ctx, chat.ID, models.ChatSettingsUpdate{TemporaryPresetUntil: &past})
	require.NoError(t, err)

	preset, err = s.ActivePreset(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, def.ID, preset.ID, "expired temporary preset falls back to the default")

	settings, err := s.UpdateChatSettings(ctx, chat.ID, models.ChatSettingsUpdate{ClearTemporaryPreset: true})
	require.NoError(t, err)
	assert.Nil(t, settings.TemporaryPresetUntil)

	preset, err = s.ActivePreset(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, angry.ID, preset.ID)
}

func TestPresetDefaultIsExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreatePreset(ctx, models.Preset{Name: "a", IsDefault: true})
	require.NoError(t, err)
	b, err := s.CreatePreset(ctx, models.Preset{Name: "b", IsDefault: true})
	require.NoError(t, err)

	def, err := s.DefaultPreset(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.ID, def.ID)

	_, err = s.UpdatePreset(ctx, a.ID, models.PresetUpdate{IsDefault: boolPtr(true)})
	require.NoError(t, err)

	presets, err := s.ListPresets(ctx)
	require.NoError(t, err)
	require.Len(t, presets, 2)
	assert.Equal(t, a.ID, presets[0].ID)
	assert.True(t, presets[0].IsDefault)
	assert.False(t, presets[1].IsDefault)
}

func TestUpdatePresetPartial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePreset(ctx, models.Preset{Name: "p", Temperature: 0.5, MaxTokens: 100, Tone: "мягкий"})
	require.NoError(t, err)

	updated, err := s.UpdatePreset(ctx, p.ID, models.PresetUpdate{Name: strPtr("renamed")})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, 0.5, updated.Temperature)
	assert.Equal(t, "мягкий", updated.Tone)

	_, err = s.UpdatePreset(ctx, "missing", models.PresetUpdate{Name: strPtr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeletePreset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	def, _, err := s.EnsureDefaultPreset(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, s.DeletePreset(ctx, def.ID), ErrDefaultPreset)
	assert.ErrorIs(t, s.DeletePreset(ctx, "missing"), ErrNotFound)

	p, err := s.CreatePreset(ctx, models.Preset{Name: "temp"})
	require.NoError(t, err)
	chat, err := s.GetOrCreateChat(ctx, 5, "private", "", "")
	require.NoError(t, err)
	_, err = s.UpdateChatSettings(ctx, chat.ID, models.ChatSettingsUpdate{PresetID: &p.ID})
	require.NoError(t, err)

	require.NoError(t, s.DeletePreset(ctx, p.ID))

	settings, err := s.GetChatSettings(ctx, chat.ID)
	require.NoError(t, err)
	assert.Nil(t, settings.PresetID)
	_, err = s.GetPreset(ctx, p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateChatSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.UpdateChatSettings(ctx, "missing", models.ChatSettingsUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)

	chat, err := s.GetOrCreateChat(ctx, 9, "group", "g", "")
	require.NoError(t, err)

	_, err = s.UpdateChatSettings(ctx, chat.ID, models.ChatSettingsUpdate{PresetID: strPtr("no-such-preset")})
	assert.ErrorIs(t, err, ErrUnknownPreset)

	p, err := s.CreatePreset(ctx, models.Preset{Name: "p"})
	require.NoError(t, err)

	settings, err := s.UpdateChatSettings(ctx, chat.ID, models.ChatSettingsUpdate{
		PresetID:         &p.ID,
		AutoReplyEnabled: boolPtr(false),
	})
	require.NoError(t, err)
	assert.False(t, settings.AutoReplyEnabled)
	assert.True(t, settings.ReplyOnMentionEnabled)
	require.NotNil(t, settings.Preset)
	assert.Equal(t, "p", settings.Preset.Name)

	settings, err = s.UpdateChatSettings(ctx, chat.ID, models.ChatSettingsUpdate{PresetID: strPtr("")})
	require.NoError(t, err)
	assert.Nil(t, settings.PresetID)
	assert.False(t, settings.AutoReplyEnabled)
}

func TestListChatsSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetOrCreateChat(ctx, 1, "group", "Philosophy club", "")
	require.NoError(t, err)
	_, err = s.GetOrCreateChat(ctx, 2, "private", "", "eduard")
	require.NoError(t, err)

	all, err := s.ListChats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, all.Total)
	assert.NotNil(t, all.Chats[0].Settings)

	found, err := s.ListChats(ctx, "EDU")
	require.NoError(t, err)
	require.Equal(t, 1, found.Total)
	assert.Equal(t, int64(2), found.Chats[0].TelegramChatID)

	chat, err := s.GetChat(ctx, found.Chats[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "eduard", chat.Username)
	require.NotNil(t, chat.Settings)

	_, err = s.GetChat(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMessagesFiltersAndPages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	chat, err := s.GetOrCreateChat(ctx, 1, "private", "", "")
	require.NoError(t, err)
	user, err := s.GetOrCreateUser(ctx, models.User{TelegramUserID: 10, Username: "u"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveMessage(ctx, &models.Message{
			ChatID: chat.ID, UserID: &user.ID, TelegramMessageID: int64(i),
			MessageType: "text", Content: "hello world",
		}))
		require.NoError(t, s.SaveMessage(ctx, &models.Message{
			ChatID: chat.ID, TelegramMessageID: int64(100 + i),
			MessageType: "text", Content: "bot reply", IsFromBot: true,
		}))
	}

	page, err := s.ListMessages(ctx, models.MessageFilter{Page: 1, PerPage: 4})
	require.NoError(t, err)
	assert.Equal(t, 10, page.Total)
	assert.True(t, page.HasNext)
	require.Len(t, page.Messages, 4)
	assert.True(t, page.Messages[0].CreatedAt.After(page.Messages[1].CreatedAt))

	last, err := s.ListMessages(ctx, models.MessageFilter{Page: 3, PerPage: 4})
	require.NoError(t, err)
	assert.Len(t, last.Messages, 2)
	assert.False(t, last.HasNext)

	fromBot, err := s.ListMessages(ctx, models.MessageFilter{IsFromBot: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, 5, fromBot.Total)
	for _, m := range fromBot.Messages {
		assert.True(t, m.IsFromBot)
		assert.Nil(t, m.User)
	}

	search, err := s.ListMessages(ctx, models.MessageFilter{Search: "world", UserID: user.ID})
	require.NoError(t, err)
	assert.Equal(t, 5, search.Total)
	require.NotNil(t, search.Messages[0].User)
	assert.Equal(t, "u", search.Messages[0].User.Username)

	since := base.Add(10 * time.Second)
	recent, err := s.ListMessages(ctx, models.MessageFilter{StartDate: &since})
	require.NoError(t, err)
	assert.Less(t, recent.Total, 10)
}

func TestAdminMessagesAndActions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chat, err := s.GetOrCreateChat(ctx, 1, "private", "", "")
	require.NoError(t, err)

	msg, err := s.CreateAdminMessage(ctx, chat.ID, "привет от админа", 555)
	require.NoError(t, err)
	assert.False(t, msg.IsFromBot)
	assert.Nil(t, msg.UserID)
	assert.Len(t, msg.MessageHash, 8)

	require.NoError(t, s.RecordAdminAction(ctx, &models.AdminAction{
		ActionType: "send_message",
		TargetType: "chat",
		TargetID:   chat.ID,
		Details:    map[string]interface{}{"as_bot": false},
	}))

	actions, err := s.ListAdminActions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "send_message", actions[0].ActionType)
	assert.Equal(t, false, actions[0].Details["as_bot"])
}
