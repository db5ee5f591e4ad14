package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kirillgpt-bot-go/internal/admin"
	"github.com/kirillgpt-bot-go/internal/config"
	"github.com/kirillgpt-bot-go/internal/middleware"
	"github.com/kirillgpt-bot-go/internal/services/broadcast"
	"github.com/kirillgpt-bot-go/internal/services/storage"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Run the admin HTTP and WebSocket backend",
		RunE:  runAdmin,
	}

	RootCmd.AddCommand(cmd)
}

func runAdmin(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	if err := cfg.ValidateAdmin(); err != nil {
		return err
	}
	if cfg.UsesDefaultAdminToken() {
		log.Warn("Using the default admin token, set ADMIN_TOKEN in production")
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = config.DevDatabaseURL
		log.WithField("url", cfg.Database.URL).Warn("DATABASE_URL not set, using development database")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := middleware.NewMetrics()

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

	// A nil interface, not a nil *BotAPI, so the server can detect it.
	var sender admin.MessageSender
	if cfg.Bot.Token != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
		if err != nil {
			log.WithError(err).Warn("Failed to create bot, sending messages is disabled")
		} else {
			sender = bot
		}
	} else {
		log.Warn("TELEGRAM_BOT_TOKEN not set, sending messages is disabled")
	}

	server := admin.NewServer(&cfg.Admin, store, sender, bus, metrics, log)
	if err := server.Run(ctx); err != nil {
		return fmt.Errorf("admin server failed: %w", err)
	}
	log.Info("Admin server stopped")
	return nil
}
