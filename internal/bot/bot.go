// Package bot implements the bot lifecycle: it runs the Telegram listener
// and the scheduler side by side until shutdown.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/aulabot/internal/database"
)

// Listener receives Telegram updates until ctx is done. *tgbot.Bot
// satisfies it through long polling.
type Listener interface {
	Start(ctx context.Context)
}

// Bot owns the long-running parts of the process.
type Bot struct {
	logger    *slog.Logger
	store     database.Store
	listener  Listener
	scheduler *Scheduler
}

// NewBot creates a Bot. scheduler must already hold its cron tasks.
func NewBot(logger *slog.Logger, store database.Store, listener Listener, scheduler *Scheduler) *Bot {
	return &Bot{
		logger:    logger.With("component", "bot_orchestrator"),
		store:     store,
		listener:  listener,
		scheduler: scheduler,
	}
}

// Run verifies the store, then polls Telegram and runs scheduled jobs
// until ctx is cancelled. The listener returning on its own is an error.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.store.Ping(ctx); err != nil {
		return fmt.Errorf("database not reachable: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.logger.Info("Polling Telegram updates")
		b.listener.Start(gCtx)
		if gCtx.Err() == nil {
			b.logger.Warn("Update polling ended before shutdown")
			return errListenerStopped
		}
		b.logger.Info("Update polling stopped")
		return nil
	})

	g.Go(func() error {
		if err := b.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		<-gCtx.Done()
		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	b.logger.Info("Bot running")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot stopped with error", "error", err)
		return err
	}
	b.logger.Info("Bot stopped")
	return nil
}

var errListenerStopped = errors.New("telegram listener stopped unexpectedly")
