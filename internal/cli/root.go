// Package cli implements the kirillgpt commands: the Telegram bot, the
// admin backend and database initialisation.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kirillgpt-bot-go/internal/config"
	"github.com/kirillgpt-bot-go/pkg/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "kirillgpt",
	Short:         "Kirill GPT Telegram bot and admin backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to configuration file")
	RootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Path to .env file")
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap loads the .env file, the configuration and the logger
func bootstrap() (*config.Config, *logrus.Logger, error) {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", envFile, err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}
