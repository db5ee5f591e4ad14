package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kirillgpt-bot-go/internal/config"
	"github.com/kirillgpt-bot-go/internal/handlers"
	"github.com/kirillgpt-bot-go/internal/i18n"
	"github.com/kirillgpt-bot-go/internal/middleware"
	"github.com/kirillgpt-bot-go/internal/services/ai"
	"github.com/kirillgpt-bot-go/internal/services/broadcast"
	"github.com/kirillgpt-bot-go/internal/services/cache"
	"github.com/kirillgpt-bot-go/internal/services/conversation"
	"github.com/kirillgpt-bot-go/internal/services/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot",
		RunE:  runBot,
	}

	RootCmd.AddCommand(cmd)
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	if err := cfg.ValidateBot(); err != nil {
		return err
	}

	log.Info("Starting Kirill GPT bot...")
	log.WithField("token_length", len(cfg.Bot.Token)).Info("Bot token loaded")

	bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}
	bot.Debug = cfg.Logging.Level == "debug"
	log.WithField("username", bot.Self.UserName).Info("Bot authorized")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := middleware.NewMetrics()
	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(ctx, cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		return fmt.Errorf("failed to initialize i18n: %w", err)
	}

	// Without a database the bot still answers, using built-in defaults
	// for every chat and keeping no message log.
	var source cache.SettingsSource
	var recorder *handlers.Recorder
	if cfg.Database.URL != "" {
		store, err := storage.Open(&cfg.Database, metrics, log)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}

		bus, err := broadcast.NewBus(&cfg.Broadcast, metrics, log)
		if err != nil {
			return fmt.Errorf("failed to initialize broadcast: %w", err)
		}
		defer bus.Close()

		source = store
		recorder = handlers.NewRecorder(store, bus, log)
	} else {
		log.Warn("DATABASE_URL not set, running without chat settings and message log")
	}

	settings := cache.NewSettingsCache(&cfg.Cache, source, metrics, log)

	client, err := ai.NewClient(&cfg.AI, log)
	if err != nil {
		return fmt.Errorf("failed to initialize AI client: %w", err)
	}

	limiter := middleware.NewRateLimiter(&cfg.RateLimit, metrics, log)
	sanitizer := middleware.NewSanitizer(cfg.Context.MaxMessageLength)
	history := conversation.NewStore(cfg.Context.MaxHistory)

	engine := ai.NewEngine(
		&cfg.AI,
		client,
		limiter,
		sanitizer,
		settings,
		history,
		localizer,
		metrics,
		log,
	)
	images := ai.NewImageEngine(
		&cfg.AI,
		client,
		limiter,
		localizer,
		metrics,
		log,
	)

	commandHandler := handlers.NewCommandHandler(
		bot,
		images,
		history,
		localizer,
		log,
	)
	messageHandler := handlers.NewMessageHandler(
		bot.Self,
		bot,
		engine,
		settings,
		recorder,
		localizer,
		log,
	)
	dispatcher := handlers.NewDispatcher(
		&cfg.Bot,
		bot.Self.UserName,
		commandHandler,
		messageHandler,
		metrics,
		log,
	)

	updates, cleanup, err := listen(ctx, bot, &cfg.Bot, log)
	if err != nil {
		return err
	}
	defer cleanup()

	go reportActivity(ctx, history, metrics)

	err = dispatcher.Run(ctx, updates)
	log.Info("Bot stopped")
	return err
}

// listen starts receiving updates by webhook or long polling. The returned
// cleanup stops the receiver.
func listen(ctx context.Context, bot *tgbotapi.BotAPI, cfg *config.BotConfig, log *logrus.Logger) (tgbotapi.UpdatesChannel, func(), error) {
	if !cfg.Webhook.Enabled {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = cfg.UpdateTimeout
		updates := bot.GetUpdatesChan(u)
		log.Info("Using long polling")
		return updates, bot.StopReceivingUpdates, nil
	}

	webhookURL := fmt.Sprintf("%s/%s", cfg.Webhook.URL, bot.Token)
	webhook, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create webhook: %w", err)
	}
	if _, err := bot.Request(webhook); err != nil {
		return nil, nil, fmt.Errorf("failed to set webhook: %w", err)
	}

	updates := bot.ListenForWebhook("/" + bot.Token)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Webhook.Port),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Webhook server failed")
		}
	}()
	log.WithField("port", cfg.Webhook.Port).Info("Webhook set")

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
		if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			log.WithError(err).Error("Failed to delete webhook")
		}
	}
	return updates, cleanup, nil
}

// reportActivity periodically publishes the number of users with history
func reportActivity(ctx context.Context, history *conversation.Store, metrics *middleware.Metrics) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetActiveUsers(history.Users())
		}
	}
}
