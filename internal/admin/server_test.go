package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/websocket"
	"github.com/kirillgpt-bot-go/internal/config"
	"github.com/kirillgpt-bot-go/internal/models"
	"github.com/kirillgpt-bot-go/internal/services/broadcast"
	"github.com/kirillgpt-bot-go/internal/services/storage"
	"github.com/kirillgpt-bot-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-admin-token"

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	msg := c.(tgbotapi.MessageConfig)
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{MessageID: 700 + len(f.sent), Text: msg.Text}, nil
}

func (f *fakeSender) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSender) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), f.sent...)
}

type fixture struct {
	server *Server
	store  *storage.Store
	bus    *broadcast.MemoryBus
	sender *fakeSender
	http   *httptest.Server
	events <-chan broadcast.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, err := storage.Open(&config.DatabaseConfig{URL: filepath.Join(t.TempDir(), "admin.db")}, nil, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))

	bus := broadcast.NewMemoryBus(nil, logger.NewNopLogger())
	events, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	sender := &fakeSender{}
	cfg := &config.AdminConfig{
		Token:             testToken,
		AllowedOrigins:    []string{"http://localhost:3000"},
		RequestsPerMinute: 1000,
	}
	server := NewServer(cfg, store, sender, bus, nil, logger.NewNopLogger())
	require.NoError(t, server.StartPump(ctx))

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &fixture{server: server, store: store, bus: bus, sender: sender, http: ts, events: events}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, token string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.http.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (f *fixture) nextEvent(t *testing.T, eventType string) broadcast.Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case e := <-f.events:
			if e.Type() == eventType {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event", eventType)
			return nil
		}
	}
}

func detail(t *testing.T, body []byte) string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	return out["detail"]
}

func TestHealthAndAuthInfo(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)

	resp, body = f.do(t, http.MethodGet, "/api/auth/info", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Bearer token")
}

func TestBearerAuth(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/auth/verify", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))
	assert.Equal(t, "Authorization token required", detail(t, body))

	resp, body = f.do(t, http.MethodPost, "/api/auth/verify", nil, "wrong")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Invalid authorization token", detail(t, body))

	resp, body = f.do(t, http.MethodPost, "/api/auth/verify", nil, testToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"valid":true`)
}

func TestPresetLifecycle(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/presets", map[string]interface{}{"name": "злой"}, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, "/api/presets", map[string]interface{}{"temperature": 0.5}, testToken)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "name is required", detail(t, body))

	resp, _ = f.do(t, http.MethodPost, "/api/presets", map[string]interface{}{"name": "x", "temperature": 3}, testToken)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body = f.do(t, http.MethodPost, "/api/presets", map[string]interface{}{"name": "злой", "tone": "резкий"}, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var created models.Preset
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, 0.7, created.Temperature)
	assert.Equal(t, 600, created.MaxTokens)
	assert.Equal(t, 50, created.EmotionalIntensity)
	assert.Equal(t, "резкий", created.Tone)

	resp, body = f.do(t, http.MethodPut, "/api/presets/"+created.ID, map[string]interface{}{"temperature": 0.9, "max_tokens": 300}, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated models.Preset
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, 0.9, updated.Temperature)
	assert.Equal(t, "злой", updated.Name)

	changed := f.nextEvent(t, broadcast.EventPresetChanged)
	assert.Equal(t, created.ID, changed["preset_id"])

	resp, body = f.do(t, http.MethodGet, "/api/presets", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var presets []models.Preset
	require.NoError(t, json.Unmarshal(body, &presets))
	assert.Len(t, presets, 1)

	resp, _ = f.do(t, http.MethodDelete, "/api/presets/"+created.ID, nil, testToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	deleted := f.nextEvent(t, broadcast.EventPresetDeleted)
	assert.Equal(t, created.ID, deleted["preset_id"])

	resp, body = f.do(t, http.MethodGet, "/api/presets/"+created.ID, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Preset not found", detail(t, body))

	resp, _ = f.do(t, http.MethodGet, "/api/presets/not-a-uuid", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	actions, err := f.store.ListAdminActions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, "delete_preset", actions[0].ActionType)
}

func TestDefaultPresetCannotBeDeleted(t *testing.T) {
	f := newFixture(t)
	def, _, err := f.store.EnsureDefaultPreset(context.Background())
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodDelete, "/api/presets/"+def.ID, nil, testToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Default preset cannot be deleted", detail(t, body))
}

func TestChatSettingsEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chat, err := f.store.GetOrCreateChat(ctx, -100, "supergroup", "Friends", "")
	require.NoError(t, err)
	preset, err := f.store.CreatePreset(ctx, models.Preset{Name: "тихий"})
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodGet, "/api/chats?search=friend", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list models.ChatList
	require.NoError(t, json.Unmarshal(body, &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, chat.ID, list.Chats[0].ID)

	resp, body = f.do(t, http.MethodGet, "/api/chats/"+chat.ID+"/settings", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var settings models.ChatSettings
	require.NoError(t, json.Unmarshal(body, &settings))
	assert.True(t, settings.AutoReplyEnabled)

	update := map[string]interface{}{
		"auto_reply_enabled":     false,
		"preset_id":              preset.ID,
		"temporary_preset_until": "2030-01-01T00:00:00",
	}
	resp, _ = f.do(t, http.MethodPut, "/api/chats/"+chat.ID+"/settings", update, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = f.do(t, http.MethodPut, "/api/chats/"+chat.ID+"/settings", update, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &settings))
	assert.False(t, settings.AutoReplyEnabled)
	assert.True(t, settings.ReplyOnMentionEnabled)
	require.NotNil(t, settings.PresetID)
	assert.Equal(t, preset.ID, *settings.PresetID)
	require.NotNil(t, settings.TemporaryPresetUntil)
	assert.Equal(t, 2030, settings.TemporaryPresetUntil.Year())

	event := f.nextEvent(t, broadcast.EventChatSettingsChanged)
	assert.Equal(t, chat.ID, event["chat_id"])

	reset := map[string]interface{}{"preset_id": nil, "temporary_preset_until": nil}
	resp, body = f.do(t, http.MethodPut, "/api/chats/"+chat.ID+"/settings", reset, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	settings = models.ChatSettings{}
	require.NoError(t, json.Unmarshal(body, &settings))
	assert.Nil(t, settings.PresetID)
	assert.Nil(t, settings.TemporaryPresetUntil)
	assert.False(t, settings.AutoReplyEnabled, "fields left out stay unchanged")

	unknown := map[string]interface{}{"preset_id": "7f0c7e0e-8a43-4a0f-9d43-3a9d2a4d1c11"}
	resp, _ = f.do(t, http.MethodPut, "/api/chats/"+chat.ID+"/settings", unknown, testToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	missing := "/api/chats/7f0c7e0e-8a43-4a0f-9d43-3a9d2a4d1c11"
	resp, body = f.do(t, http.MethodGet, missing, nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Chat not found", detail(t, body))
}

func TestMessagesEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	chat, err := f.store.GetOrCreateChat(ctx, 7, "private", "", "edik")
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodPost, "/api/messages", map[string]interface{}{
		"chat_id":             chat.ID,
		"telegram_message_id": 1,
		"message_type":        "text",
		"content":             "привет",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	event := f.nextEvent(t, broadcast.EventNewMessage)
	assert.Equal(t, "привет", event["message"].(map[string]interface{})["content"])

	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.SaveMessage(ctx, &models.Message{
			ChatID: chat.ID, TelegramMessageID: int64(10 + i), MessageType: "text", Content: "ответ", IsFromBot: true,
		}))
	}

	resp, body = f.do(t, http.MethodGet, "/api/messages?per_page=2&is_from_bot=true&chat_id="+chat.ID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list models.MessageList
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 3, list.Total)
	assert.Len(t, list.Messages, 2)
	assert.True(t, list.HasNext)

	for _, q := range []string{"page=0", "per_page=201", "is_from_bot=maybe", "chat_id=nope", "start_date=yesterday"} {
		resp, _ = f.do(t, http.MethodGet, "/api/messages?"+q, nil, "")
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, q)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/messages", map[string]interface{}{
		"chat_id":      "7f0c7e0e-8a43-4a0f-9d43-3a9d2a4d1c11",
		"message_type": "text",
	}, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, err := f.store.GetOrCreateChat(ctx, 42, "private", "", "edik")
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodPost, "/api/admin/send-message", map[string]interface{}{"chat_id": chat.ID}, testToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "chat_id and content are required", detail(t, body))

	resp, body = f.do(t, http.MethodPost, "/api/admin/send-message", map[string]interface{}{
		"chat_id": chat.ID,
		"content": "<b>внимание</b>",
		"as_bot":  true,
	}, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"telegram_message_id":701`)

	sentMessages := f.sender.messages()
	require.Len(t, sentMessages, 1)
	assert.Equal(t, int64(42), sentMessages[0].ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, sentMessages[0].ParseMode)

	sent := f.nextEvent(t, broadcast.EventAdminMessageSent)
	assert.Equal(t, true, sent["as_bot"])

	resp, _ = f.do(t, http.MethodPost, "/api/admin/send-message", map[string]interface{}{
		"chat_id": chat.ID,
		"content": "от админа",
	}, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list, err := f.store.ListMessages(ctx, models.MessageFilter{ChatID: chat.ID})
	require.NoError(t, err)
	require.Equal(t, 2, list.Total)
	var fromBot int
	for _, m := range list.Messages {
		if m.IsFromBot {
			fromBot++
		}
	}
	assert.Equal(t, 1, fromBot)

	resp, body = f.do(t, http.MethodGet, "/api/admin/actions", nil, testToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var actions []models.AdminAction
	require.NoError(t, json.Unmarshal(body, &actions))
	assert.Len(t, actions, 2)
}

func TestSendMessageTelegramError(t *testing.T) {
	f := newFixture(t)
	chat, err := f.store.GetOrCreateChat(context.Background(), 42, "private", "", "")
	require.NoError(t, err)

	f.sender.fail(&tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"})
	resp, body := f.do(t, http.MethodPost, "/api/admin/send-message", map[string]interface{}{
		"chat_id": chat.ID, "content": "hi",
	}, testToken)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Telegram API error: Bad Request: chat not found", detail(t, body))

	f.sender.fail(errors.New("dial tcp: timeout"))
	resp, _ = f.do(t, http.MethodPost, "/api/admin/send-message", map[string]interface{}{
		"chat_id": chat.ID, "content": "hi",
	}, testToken)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodOptions, f.http.URL+"/api/presets", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func wsURL(f *fixture, query string) string {
	return "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws" + query
}

func readType(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	typ, _ := msg["type"].(string)
	return typ
}

func TestWebSocketQueryTokenReceivesEvents(t *testing.T) {
	f := newFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f, "?token="+testToken), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, "pong", readType(t, conn))
	require.Equal(t, 1, f.server.hub.Count())

	require.NoError(t, f.bus.Publish(context.Background(), broadcast.NewEvent(broadcast.EventPresetDeleted, map[string]interface{}{"preset_id": "p"})))
	assert.Equal(t, broadcast.EventPresetDeleted, readType(t, conn))
}

func TestWebSocketAuthMessage(t *testing.T) {
	f := newFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f, ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe"}))
	assert.Equal(t, "auth_required", readType(t, conn))
	assert.Equal(t, 0, f.server.hub.Count())

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": testToken}))
	assert.Equal(t, "auth_success", readType(t, conn))
	assert.Equal(t, 1, f.server.hub.Count())
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	f := newFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(f, ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "auth", "token": "nope"}))
	assert.Equal(t, "auth_failed", readType(t, conn))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)

	bad, _, err := websocket.DefaultDialer.Dial(wsURL(f, "?token=nope"), nil)
	require.NoError(t, err)
	defer bad.Close()
	require.NoError(t, bad.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err = bad.ReadMessage()
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}
