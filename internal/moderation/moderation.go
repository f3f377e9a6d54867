// Package moderation decides whether a group message is academic and
// escalates warnings into a ban for students who keep posting off-topic.
package moderation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/edgard/aulabot/internal/config"
	"github.com/edgard/aulabot/internal/database"
	"github.com/edgard/aulabot/internal/sanitize"
)

// Scorer rates how academic a text is. ok is false when the text cannot be
// scored.
type Scorer interface {
	Score(text string) (score float64, ok bool)
}

// Notifier is the outbound surface used to scold and remove members. Sent
// messages are logged by the implementation.
type Notifier interface {
	SendMarkdown(ctx context.Context, chatID int64, text string) (int, error)
	SendText(ctx context.Context, chatID int64, text string) (int, error)
	Kick(ctx context.Context, chatID, userID int64) error
}

// Evictor drops a member from the in-memory group context.
type Evictor interface {
	Evict(groupID, userID int64)
}

// Inbound is one message received in a group.
type Inbound struct {
	Group         database.Group
	Sender        database.User
	ChatMessageID int
	// Text is the message text or media caption.
	Text    string
	Items   []database.ContentItem
	ReplyTo int
	Edited  bool
	SentAt  time.Time
}

// Engine scores group messages and applies the warning and ban escalation.
type Engine struct {
	store    database.Store
	scorer   Scorer
	notifier Notifier
	cache    Evictor
	cfg      config.ModerationConfig
	msgs     config.MessagesConfig
	logger   *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(
	store database.Store,
	scorer Scorer,
	notifier Notifier,
	cache Evictor,
	cfg config.ModerationConfig,
	msgs config.MessagesConfig,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		store:    store,
		scorer:   scorer,
		notifier: notifier,
		cache:    cache,
		cfg:      cfg,
		msgs:     msgs,
		logger:   logger.With("component", "moderation"),
	}
}

// Process evaluates msg and logs it with its verdict. It always returns a
// verdict; failures are logged.
func (e *Engine) Process(ctx context.Context, msg Inbound) bool {
	academic := e.Evaluate(ctx, msg)

	logged := &database.Message{
		ChatMessageID: msg.ChatMessageID,
		GroupID:       msg.Group.ID,
		Received:      true,
		Edited:        msg.Edited,
		Academic:      academic,
		SentAt:        msg.SentAt,
	}
	logged.UserID.Int64, logged.UserID.Valid = msg.Sender.ID, msg.Sender.ID != 0
	if msg.ReplyTo != 0 {
		logged.ReplyToChatMessageID.Int64, logged.ReplyToChatMessageID.Valid = int64(msg.ReplyTo), true
	}
	if err := e.store.AddMessage(ctx, logged, msg.Items); err != nil {
		e.logger.ErrorContext(ctx, "Failed to log received message", "error", err,
			"group_id", msg.Group.ID, "user_id", msg.Sender.ID, "message_id", msg.ChatMessageID)
	}

	return academic
}

// Evaluate returns whether msg is academic, escalating warnings when it is
// not.
func (e *Engine) Evaluate(ctx context.Context, msg Inbound) bool {
	log := e.logger.With("group_id", msg.Group.ID, "user_id", msg.Sender.ID)

	if msg.Sender.IsInstructor() {
		return true
	}
	if strings.TrimSpace(msg.Text) == "" {
		return true
	}

	score, ok := e.scorer.Score(msg.Text)
	if !ok {
		log.DebugContext(ctx, "Message could not be scored")
		return true
	}
	if score >= e.cfg.RelevanceThreshold {
		return true
	}
	log.DebugContext(ctx, "Message below relevance threshold", "score", score, "threshold", e.cfg.RelevanceThreshold)

	// the cached role may be stale after a promotion
	user, err := e.store.GetUser(ctx, msg.Sender.ID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to re-read sender role", "error", err)
	} else if user != nil && user.IsInstructor() {
		if err := e.store.ResetMemberStatus(ctx, msg.Group.ID, msg.Sender.ID); err != nil {
			log.ErrorContext(ctx, "Failed to reset status of promoted instructor", "error", err)
		}
		return true
	}

	membership, err := e.store.GetMembership(ctx, msg.Group.ID, msg.Sender.ID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to read membership status", "error", err)
	} else if membership != nil && membership.Banned {
		log.DebugContext(ctx, "Sender already banned, not escalating")
		return false
	}

	warnings, err := e.store.IncrementWarnings(ctx, msg.Group.ID, msg.Sender.ID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to increment warnings", "error", err)
		return false
	}

	if warnings < e.cfg.BanThreshold {
		log.InfoContext(ctx, "Warned sender for off-topic message", "warnings", warnings)
		e.send(ctx, msg.Group.ID,
			fmt.Sprintf(e.msgs.ScoldGreeting, sanitize.EscapeMarkdown(msg.Sender.FullName()), msg.Sender.ID),
			e.msgs.ScoldRule,
			e.msgs.ScoldDetail,
			fmt.Sprintf(e.msgs.ScoldWarning, warnings),
		)
		return false
	}

	e.ban(ctx, msg)
	return false
}

func (e *Engine) ban(ctx context.Context, msg Inbound) {
	log := e.logger.With("group_id", msg.Group.ID, "user_id", msg.Sender.ID)

	if err := e.store.BanMember(ctx, msg.Group.ID, msg.Sender.ID, msg.SentAt); err != nil {
		log.ErrorContext(ctx, "Failed to persist ban", "error", err)
	}
	log.InfoContext(ctx, "Banning sender after reaching warning limit", "ban_threshold", e.cfg.BanThreshold)

	e.send(ctx, msg.Group.ID,
		fmt.Sprintf(e.msgs.BanGreeting, sanitize.EscapeMarkdown(msg.Sender.FullName()), msg.Sender.ID),
		e.msgs.BanNotice,
	)

	if err := e.notifier.Kick(ctx, msg.Group.ID, msg.Sender.ID); err != nil {
		log.ErrorContext(ctx, "Failed to remove banned sender from chat", "error", err)
	}
	e.cache.Evict(msg.Group.ID, msg.Sender.ID)
}

// send falls back to plain text for a notice Telegram cannot parse and
// stops when that fails too.
func (e *Engine) send(ctx context.Context, chatID int64, texts ...string) {
	for _, text := range texts {
		_, err := e.notifier.SendMarkdown(ctx, chatID, text)
		if err == nil {
			continue
		}
		e.logger.WarnContext(ctx, "Failed to send moderation notice, retrying as plain text", "error", err, "chat_id", chatID)
		if _, err := e.notifier.SendText(ctx, chatID, sanitize.PlainText(text)); err != nil {
			e.logger.ErrorContext(ctx, "Failed to send moderation notice", "error", err, "chat_id", chatID)
			return
		}
	}
}
