// Package announce schedules instructor announcements for one-time delivery
// to their target groups.
package announce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/edgard/aulabot/internal/config"
	"github.com/edgard/aulabot/internal/database"
	"github.com/edgard/aulabot/internal/errs"
	"github.com/edgard/aulabot/internal/sanitize"
)

// RetryDelay is how long a delivery that failed to read its announcement
// waits before the next attempt.
const RetryDelay = time.Minute

var (
	// ErrAlreadyFired is returned when an announcement has already been
	// claimed for delivery.
	ErrAlreadyFired = errors.New("announcement already fired")
	// ErrNotFound is returned for an unknown announcement.
	ErrNotFound = errors.New("announcement not found")
)

// Timer runs fn once at or after at. Handles are used to remove pending
// timers.
type Timer interface {
	Register(at time.Time, name string, fn func(ctx context.Context)) (uuid.UUID, error)
	Remove(id uuid.UUID) error
}

// Broadcaster sends announcement content to a chat.
type Broadcaster interface {
	SendText(ctx context.Context, chatID int64, text string) (int, error)
	SendMarkdown(ctx context.Context, chatID int64, text string) (int, error)
	SendItem(ctx context.Context, chatID int64, item database.ContentItem) (int, error)
}

// Draft is a confirmed announcement waiting to be scheduled.
type Draft struct {
	Items        []database.ContentItem `validate:"min=1"`
	GroupIDs     []int64                `validate:"min=1,unique,dive,ne=0"`
	OriginatorID int64                  `validate:"ne=0"`
	At           time.Time
}

// Engine persists announcements and delivers them exactly once.
type Engine struct {
	store    database.Store
	timer    Timer
	out      Broadcaster
	clock    clockwork.Clock
	msgs     config.MessagesConfig
	validate *validator.Validate
	logger   *slog.Logger

	mu     sync.Mutex
	timers map[int64]uuid.UUID
}

// NewEngine creates an Engine.
func NewEngine(
	store database.Store,
	timer Timer,
	out Broadcaster,
	clock clockwork.Clock,
	msgs config.MessagesConfig,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		store:    store,
		timer:    timer,
		out:      out,
		clock:    clock,
		msgs:     msgs,
		validate: validator.New(),
		logger:   logger.With("component", "announce"),
		timers:   make(map[int64]uuid.UUID),
	}
}

// Schedule persists d and registers its delivery timer. Content is stored
// before the timer exists.
func (e *Engine) Schedule(ctx context.Context, d Draft) (int64, error) {
	if err := e.validate.Struct(d); err != nil {
		return 0, errs.NewValidationError("invalid announcement draft", err)
	}
	if d.At.IsZero() {
		return 0, errs.NewValidationError("announcement delivery time is required", nil)
	}

	id, err := e.store.AddAnnouncement(ctx, d.At, d.OriginatorID, d.GroupIDs)
	if err != nil {
		return 0, err
	}

	for i, item := range d.Items {
		item.ID = 0
		item.AnnouncementID.Int64, item.AnnouncementID.Valid = id, true
		item.MessageID.Valid = false
		item.Position = i
		if err := e.store.AddContentItem(ctx, &item); err != nil {
			if _, rmErr := e.store.RemoveAnnouncement(ctx, id); rmErr != nil {
				e.logger.ErrorContext(ctx, "Failed to drop partially stored announcement", "announcement_id", id, "error", rmErr)
			}
			return 0, err
		}
	}

	if err := e.arm(id, d.At); err != nil {
		return id, err
	}

	e.logger.InfoContext(ctx, "Announcement scheduled",
		"announcement_id", id, "deliver_at", d.At, "items", len(d.Items), "groups", len(d.GroupIDs))
	return id, nil
}

// Restore registers timers for every pending announcement. Announcements
// already past due fire immediately.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	pending, err := e.store.ListAnnouncements(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, a := range pending {
		if err := e.arm(a.ID, a.DeliverAt); err != nil {
			e.logger.ErrorContext(ctx, "Failed to restore announcement timer", "announcement_id", a.ID, "error", err)
			continue
		}
		restored++
	}
	e.logger.InfoContext(ctx, "Restored pending announcements", "count", restored)
	return restored, nil
}

// Fire delivers announcement id to its still-valid target groups and
// deletes it. A second call returns ErrAlreadyFired without sending
// anything.
func (e *Engine) Fire(ctx context.Context, id int64) error {
	log := e.logger.With("announcement_id", id)
	e.forget(id)

	claimed, err := e.store.ClaimAnnouncement(ctx, id, e.clock.Now())
	if err != nil {
		return err
	}
	if !claimed {
		log.DebugContext(ctx, "Announcement missing or already claimed")
		return ErrAlreadyFired
	}

	a, targets, items, err := e.load(ctx, id)
	if err != nil {
		e.retry(ctx, id)
		return err
	}
	if a == nil {
		return ErrNotFound
	}
	preamble := e.preamble(ctx, a.OriginatorID)

	delivered := 0
	for _, g := range targets {
		if !g.Valid {
			log.InfoContext(ctx, "Skipping invalid target group", "group_id", g.ID)
			continue
		}
		if e.send(ctx, g.ID, preamble, items) {
			delivered++
		}
	}

	paths, err := e.store.RemoveAnnouncement(ctx, id)
	if err != nil {
		log.ErrorContext(ctx, "Failed to remove delivered announcement", "error", err)
		return err
	}
	e.reclaim(ctx, paths)

	log.InfoContext(ctx, "Announcement delivered", "groups", delivered, "items", len(items))
	return nil
}

func (e *Engine) load(ctx context.Context, id int64) (*database.Announcement, []database.Group, []database.ContentItem, error) {
	a, err := e.store.GetAnnouncement(ctx, id)
	if err != nil || a == nil {
		return nil, nil, nil, err
	}
	targets, err := e.store.ListAnnouncementTargets(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	items, err := e.store.ListContentItems(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	return a, targets, items, nil
}

// retry releases the claim of an announcement that could not be read and
// fires it again after RetryDelay.
func (e *Engine) retry(ctx context.Context, id int64) {
	log := e.logger.With("announcement_id", id)
	if err := e.store.ReleaseAnnouncement(ctx, id); err != nil {
		log.ErrorContext(ctx, "Failed to release announcement claim", "error", err)
		return
	}
	if err := e.arm(id, e.clock.Now().Add(RetryDelay)); err != nil {
		log.ErrorContext(ctx, "Failed to rearm announcement", "error", err)
		return
	}
	log.WarnContext(ctx, "Announcement delivery postponed", "retry_in", RetryDelay)
}

// Cancel deletes a pending announcement and removes its timer. It returns
// ErrAlreadyFired when delivery has started and ErrNotFound for unknown
// ids.
func (e *Engine) Cancel(ctx context.Context, id int64) error {
	paths, err := e.store.CancelAnnouncement(ctx, id)
	switch {
	case errors.Is(err, database.ErrAnnouncementClaimed):
		return ErrAlreadyFired
	case errors.Is(err, database.ErrAnnouncementNotFound):
		return ErrNotFound
	case err != nil:
		return err
	}

	if handle, ok := e.forget(id); ok {
		if err := e.timer.Remove(handle); err != nil {
			e.logger.WarnContext(ctx, "Failed to remove announcement timer", "announcement_id", id, "error", err)
		}
	}
	e.reclaim(ctx, paths)

	e.logger.InfoContext(ctx, "Announcement cancelled", "announcement_id", id)
	return nil
}

// Preview sends the content of a pending announcement to chatID.
func (e *Engine) Preview(ctx context.Context, chatID, id int64) error {
	a, err := e.store.GetAnnouncement(ctx, id)
	if err != nil {
		return err
	}
	if a == nil {
		return ErrNotFound
	}
	items, err := e.store.ListContentItems(ctx, id)
	if err != nil {
		return err
	}
	if !e.send(ctx, chatID, e.preamble(ctx, a.OriginatorID), items) {
		return errs.NewTelegramError(fmt.Sprintf("failed to preview announcement %d", id), nil)
	}
	return nil
}

// Pending returns the number of registered timers.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

func (e *Engine) arm(id int64, at time.Time) error {
	handle, err := e.timer.Register(at, fmt.Sprintf("announcement-%d", id), func(ctx context.Context) {
		if err := e.Fire(ctx, id); err != nil && !errors.Is(err, ErrAlreadyFired) {
			e.logger.ErrorContext(ctx, "Announcement delivery failed", "announcement_id", id, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to register timer for announcement %d: %w", id, err)
	}

	e.mu.Lock()
	e.timers[id] = handle
	e.mu.Unlock()
	return nil
}

func (e *Engine) forget(id int64) (uuid.UUID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	handle, ok := e.timers[id]
	delete(e.timers, id)
	return handle, ok
}

func (e *Engine) preamble(ctx context.Context, originatorID int64) string {
	name := ""
	if u, err := e.store.GetUser(ctx, originatorID); err != nil {
		e.logger.WarnContext(ctx, "Failed to read announcement originator", "user_id", originatorID, "error", err)
	} else if u != nil {
		name = sanitize.EscapeMarkdown(u.FullName())
	}
	return fmt.Sprintf(e.msgs.AnnouncementPreamble, name)
}

// send reports whether anything reached chatID. A preamble Telegram cannot
// parse is resent as plain text; failures never stop the items.
func (e *Engine) send(ctx context.Context, chatID int64, preamble string, items []database.ContentItem) bool {
	delivered := e.sendPreamble(ctx, chatID, preamble)
	for _, item := range items {
		if _, err := e.out.SendItem(ctx, chatID, item); err != nil {
			e.logger.ErrorContext(ctx, "Failed to send announcement item",
				"chat_id", chatID, "position", item.Position, "kind", item.Kind, "error", err)
			continue
		}
		delivered = true
	}
	return delivered
}

func (e *Engine) sendPreamble(ctx context.Context, chatID int64, preamble string) bool {
	_, err := e.out.SendMarkdown(ctx, chatID, preamble)
	if err == nil {
		return true
	}
	e.logger.WarnContext(ctx, "Failed to send announcement preamble, retrying as plain text", "chat_id", chatID, "error", err)
	if _, err := e.out.SendText(ctx, chatID, sanitize.PlainText(preamble)); err != nil {
		e.logger.ErrorContext(ctx, "Failed to send announcement preamble", "chat_id", chatID, "error", err)
		return false
	}
	return true
}

func (e *Engine) reclaim(ctx context.Context, paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.logger.WarnContext(ctx, "Failed to remove archived media", "path", p, "error", err)
		}
	}
}
