package cli

import (
	"fmt"

	"github.com/kirillgpt-bot-go/internal/config"
	"github.com/kirillgpt-bot-go/internal/services/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "initdb",
		Short: "Create the database schema and the default preset",
		RunE:  runInitDB,
	}

	RootCmd.AddCommand(cmd)
}

func runInitDB(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = config.DevDatabaseURL
	}

	store, err := storage.Open(&cfg.Database, nil, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	preset, created, err := store.EnsureDefaultPreset(ctx)
	if err != nil {
		return fmt.Errorf("failed to create default preset: %w", err)
	}
	log.WithFields(logrus.Fields{
		"preset_id": preset.ID,
		"created":   created,
	}).Info("Database initialized")
	return nil
}
