package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/kirillgpt-bot-go/internal/config"
	"github.com/kirillgpt-bot-go/internal/middleware"
	"github.com/kirillgpt-bot-go/internal/services/broadcast"
	"github.com/kirillgpt-bot-go/internal/services/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// MessageSender relays admin-composed messages to Telegram. *tgbotapi.BotAPI satisfies it.
type MessageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Server is the admin HTTP and WebSocket backend
type Server struct {
	cfg      *config.AdminConfig
	store    *storage.Store
	sender   MessageSender
	bus      broadcast.Bus
	hub      *Hub
	upgrader websocket.Upgrader
	now      func() time.Time
	metrics  *middleware.Metrics
	logger   *logrus.Logger
}

// NewServer creates the admin server. sender may be nil when no bot token
// is configured; sending messages then fails with 500.
func NewServer(
	cfg *config.AdminConfig,
	store *storage.Store,
	sender MessageSender,
	bus broadcast.Bus,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		sender:  sender,
		bus:     bus,
		hub:     NewHub(metrics, logger),
		now:     time.Now,
		metrics: metrics,
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the routed API wrapped in CORS and per-IP rate limiting
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/auth/info", s.handleAuthInfo).Methods(http.MethodGet)
	api.HandleFunc("/auth/verify", s.requireToken(s.handleAuthVerify)).Methods(http.MethodPost)

	api.HandleFunc("/messages", s.handleListMessages).Methods(http.MethodGet)
	api.HandleFunc("/messages", s.handleCreateMessage).Methods(http.MethodPost)

	api.HandleFunc("/chats", s.handleListChats).Methods(http.MethodGet)
	api.HandleFunc("/chats/{id}", s.handleGetChat).Methods(http.MethodGet)
	api.HandleFunc("/chats/{id}/settings", s.handleGetChatSettings).Methods(http.MethodGet)
	api.HandleFunc("/chats/{id}/settings", s.requireToken(s.handleUpdateChatSettings)).Methods(http.MethodPut)

	api.HandleFunc("/presets", s.handleListPresets).Methods(http.MethodGet)
	api.HandleFunc("/presets", s.requireToken(s.handleCreatePreset)).Methods(http.MethodPost)
	api.HandleFunc("/presets/{id}", s.handleGetPreset).Methods(http.MethodGet)
	api.HandleFunc("/presets/{id}", s.requireToken(s.handleUpdatePreset)).Methods(http.MethodPut)
	api.HandleFunc("/presets/{id}", s.requireToken(s.handleDeletePreset)).Methods(http.MethodDelete)

	api.HandleFunc("/admin/send-message", s.requireToken(s.handleSendMessage)).Methods(http.MethodPost)
	api.HandleFunc("/admin/actions", s.requireToken(s.handleListActions)).Methods(http.MethodGet)

	router.HandleFunc("/ws", s.handleWebSocket)
	router.Handle("/metrics", promhttp.Handler())

	var handler http.Handler = router
	if s.cfg.RequestsPerMinute > 0 {
		handler = httprate.LimitByIP(s.cfg.RequestsPerMinute, time.Minute)(handler)
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})(handler)
}

// StartPump subscribes to the bus and forwards every event to connected
// admin clients until ctx is done
func (s *Server) StartPump(ctx context.Context) error {
	events, err := s.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}

	go func() {
		for event := range events {
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.WithError(err).WithField("type", event.Type()).Warn("Failed to encode event")
				continue
			}
			s.hub.Broadcast(data)
		}
	}()
	return nil
}

// Run serves the admin API until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	if err := s.StartPump(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.hub.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.WithField("port", s.cfg.Port).Info("Admin API listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.WithError(err).Warn("Database ping failed")
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": broadcast.Timestamp(s.now()),
	})
}

// publish sends an event to the bus; delivery is best effort
func (s *Server) publish(ctx context.Context, event broadcast.Event) {
	if err := s.bus.Publish(ctx, event); err != nil {
		s.logger.WithError(err).WithField("type", event.Type()).Warn("Failed to publish event")
	}
}
