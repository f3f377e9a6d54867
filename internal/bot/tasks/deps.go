// Package tasks implements the recurring maintenance tasks of the bot and
// their registration.
package tasks

import (
	"context"
	"log/slog"

	"github.com/edgard/aulabot/internal/config"
	"github.com/edgard/aulabot/internal/database"
)

// Sessions clears idle instructor sessions.
type Sessions interface {
	Sweep() []int64
}

// Notifier tells users about cleared sessions.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) (int, error)
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger   *slog.Logger
	Store    database.Store
	Sessions Sessions
	Notifier Notifier
	Messages config.MessagesConfig
}
