package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/edgard/aulabot/internal/announce"
	"github.com/edgard/aulabot/internal/config"
	"github.com/edgard/aulabot/internal/database"
	"github.com/edgard/aulabot/internal/moderation"
	"github.com/edgard/aulabot/internal/session"
)

// Messenger is the outbound Telegram surface used by the handlers.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) (int, error)
	SendMarkdown(ctx context.Context, chatID int64, text string) (int, error)
	Reply(ctx context.Context, chatID int64, replyTo int, text string) (int, error)
	SendPrompt(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) (int, error)
	EditPrompt(ctx context.Context, chatID int64, messageID int, text string, keyboard *models.InlineKeyboardMarkup) error
	AnswerCallback(ctx context.Context, callbackID string) error
	SendDocument(ctx context.Context, chatID int64, path, caption string) (int, error)
	Kick(ctx context.Context, chatID, userID int64) error
	Unban(ctx context.Context, chatID, userID int64) error
	Promote(ctx context.Context, chatID, userID int64) error
	InviteLink(ctx context.Context, chatID int64) (string, error)
	IsAdmin(ctx context.Context, chatID int64) (bool, error)
	Leave(ctx context.Context, chatID int64) error
	KeepTyping(ctx context.Context, chatID int64)
}

// GroupCache is the in-memory group context.
type GroupCache interface {
	Group(ctx context.Context, chat database.Group) (database.Group, error)
	Load(ctx context.Context, chat database.Group) (database.Group, error)
	Member(ctx context.Context, groupID int64, user database.User) (database.Member, error)
	Join(ctx context.Context, groupID int64, user database.User) (database.Member, error)
	Leave(ctx context.Context, groupID, userID int64) (bool, error)
	Evict(groupID, userID int64)
	BotRemoved(ctx context.Context, groupID int64) ([]int64, error)
}

// Moderator scores and logs group messages.
type Moderator interface {
	Process(ctx context.Context, msg moderation.Inbound) bool
}

// Announcer schedules, cancels and previews announcements.
type Announcer interface {
	Schedule(ctx context.Context, d announce.Draft) (int64, error)
	Cancel(ctx context.Context, id int64) error
	Preview(ctx context.Context, chatID, id int64) error
}

// Answerer answers student questions.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, bool)
}

// Exporter compiles conversations into files.
type Exporter interface {
	Count(ctx context.Context, groupID int64, from, to time.Time) (int, error)
	Compile(ctx context.Context, group database.Group, from, to time.Time) ([]string, error)
}

// Archiver stores a local copy of media content.
type Archiver interface {
	Archive(ctx context.Context, item *database.ContentItem) error
}

// Timer runs one-shot jobs.
type Timer interface {
	Register(at time.Time, name string, fn func(ctx context.Context)) (uuid.UUID, error)
}

// HandlerDeps provides dependencies for Telegram update handlers. A nil
// Archiver disables media archiving.
type HandlerDeps struct {
	Logger     *slog.Logger
	Config     *config.Config
	Store      database.Store
	Clock      clockwork.Clock
	Messenger  Messenger
	Sessions   *session.Manager
	Machine    *session.Machine
	Cache      GroupCache
	Moderation Moderator
	Announcer  Announcer
	Answerer   Answerer
	Exporter   Exporter
	Archiver   Archiver
	Timer      Timer
}

// botUsername returns the username reported by GetMe, or "" before it is
// known.
func (d HandlerDeps) botUsername() string {
	if d.Config == nil || d.Config.Telegram.BotInfo == nil {
		return ""
	}
	return d.Config.Telegram.BotInfo.Username
}

// botID returns the bot's own user id, or 0 before it is known.
func (d HandlerDeps) botID() int64 {
	if d.Config == nil || d.Config.Telegram.BotInfo == nil {
		return 0
	}
	return d.Config.Telegram.BotInfo.ID
}
