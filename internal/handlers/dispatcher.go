package handlers

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kirillgpt-bot-go/internal/config"
	"github.com/kirillgpt-bot-go/internal/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Dispatcher routes updates to the command and message handlers, each
// update in its own goroutine
type Dispatcher struct {
	commands    *CommandHandler
	messages    *MessageHandler
	botUsername string
	workers     int
	metrics     *middleware.Metrics
	logger      *logrus.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(
	cfg *config.BotConfig,
	botUsername string,
	commands *CommandHandler,
	messages *MessageHandler,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		commands:    commands,
		messages:    messages,
		botUsername: botUsername,
		workers:     workers,
		metrics:     metrics,
		logger:      logger,
	}
}

// Run handles updates until the channel closes or ctx is done, then waits
// for in-flight handlers
func (d *Dispatcher) Run(ctx context.Context, updates <-chan tgbotapi.Update) error {
	var g errgroup.Group
	g.SetLimit(d.workers)

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case update, ok := <-updates:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				d.Handle(ctx, update)
				return nil
			})
		}
	}
}

// Handle processes a single update
func (d *Dispatcher) Handle(ctx context.Context, update tgbotapi.Update) {
	message := update.Message
	if message == nil || message.From == nil || message.Text == "" {
		return
	}

	if d.metrics != nil {
		d.metrics.RecordMessageReceived(chatType(message.Chat))
	}

	var err error
	if cmd, ok := ParseCommand(message.Text, d.botUsername); ok && d.commands.Handles(cmd.Name) {
		if d.metrics != nil {
			d.metrics.RecordCommandExecuted(cmd.Name)
		}
		err = d.commands.HandleCommand(ctx, message, cmd)
		if err != nil {
			d.logger.WithError(err).WithField("command", cmd.Name).Error("Failed to handle command")
		}
	} else {
		err = d.messages.HandleMessage(ctx, message)
		if err != nil {
			d.logger.WithError(err).Error("Failed to handle message")
		}
	}

	if d.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		d.metrics.RecordMessageProcessed(status)
	}
}
