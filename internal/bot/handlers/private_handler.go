package handlers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/aulabot/internal/answer"
	"github.com/edgard/aulabot/internal/database"
	"github.com/edgard/aulabot/internal/session"
)

var greeting = regexp.MustCompile(`(?i)^(hol[^ ]|hey|buen[ao]s|saludos)`)

// NewPrivateHandler returns a handler for private messages: menu entry,
// instructor registration and the active instructor session.
func NewPrivateHandler(deps HandlerDeps) bot.HandlerFunc {
	return privateHandler{deps}.Handle
}

type privateHandler struct {
	deps HandlerDeps
}

func (h privateHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "private")

	msg, edited := update.Message, false
	if msg == nil {
		msg, edited = update.EditedMessage, true
	}
	if msg == nil || msg.From == nil {
		log.WarnContext(ctx, "Private handler received update with nil message or sender", "update_id", update.ID)
		return
	}

	userID, chatID := msg.From.ID, msg.Chat.ID
	unlock := h.deps.Sessions.Lock(userID)
	defer unlock()

	text := messageText(msg)
	now := h.deps.Clock.Now()

	s, status := h.deps.Sessions.Get(userID)
	switch status {
	case session.StatusActive:
		if !isStart(text) {
			ev := session.Message(text, msg.ID, itemOf(msg), now)
			ev.Edited = edited
			driver{h.deps}.drive(ctx, chatID, s, ev, 0)
			return
		}
	case session.StatusExpired:
		log.InfoContext(ctx, "Session expired", "user_id", userID)
		h.send(ctx, chatID, h.deps.Config.Messages.SessionExpired)
	}

	if edited {
		return
	}
	h.enter(ctx, msg, text)
}

// enter handles a message outside any session.
func (h privateHandler) enter(ctx context.Context, msg *models.Message, text string) {
	log := h.deps.Logger.With("handler", "private", "user_id", msg.From.ID)
	chatID := msg.Chat.ID

	passphrase := h.deps.Config.Instructor.MatchesPassphrase(text)
	if !passphrase && !isStart(text) && !greeting.MatchString(text) {
		h.question(ctx, msg, text)
		return
	}

	user, err := h.deps.Store.GetUser(ctx, msg.From.ID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to read user", "error", err)
		h.send(ctx, chatID, h.deps.Config.Messages.GeneralError)
		return
	}

	if passphrase {
		user, err = h.register(ctx, msg.From, user)
		if err != nil {
			log.ErrorContext(ctx, "Failed to register instructor", "error", err)
			h.send(ctx, chatID, h.deps.Config.Messages.GeneralError)
			return
		}
		log.InfoContext(ctx, "Instructor registered", "name", user.FullName())
		h.send(ctx, chatID, h.deps.Config.Messages.InstructorRegistered)
	}

	switch {
	case user == nil:
		log.DebugContext(ctx, "Ignoring unknown user")
	case user.IsInstructor():
		s := h.deps.Sessions.Put(h.deps.Machine.Start(user.ID, h.deps.Clock.Now()))
		log.InfoContext(ctx, "Session started")
		driver{h.deps}.show(ctx, chatID, s, 0, false)
	case user.Valid:
		h.send(ctx, chatID, fmt.Sprintf(h.deps.Config.Messages.StudentWelcome, user.FirstName))
	default:
		log.DebugContext(ctx, "Ignoring invalid user")
	}
}

// register makes from an instructor, creating the user if unknown. The
// stored name is replaced by the current Telegram one.
func (h privateHandler) register(ctx context.Context, from *models.User, stored *database.User) (*database.User, error) {
	u := userOf(from)
	u.Role, u.Valid = database.RoleInstructor, true
	if stored == nil {
		u.RegisteredAt = h.deps.Clock.Now()
		if err := h.deps.Store.AddUser(ctx, &u); err != nil {
			return nil, err
		}
		return &u, nil
	}
	u.RegisteredAt = stored.RegisteredAt
	if err := h.deps.Store.EditUser(ctx, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// question answers a question asked in private by a valid user.
func (h privateHandler) question(ctx context.Context, msg *models.Message, text string) {
	q, ok := answer.Question(text, h.deps.botUsername())
	if !ok {
		return
	}
	user, err := h.deps.Store.GetUser(ctx, msg.From.ID)
	if err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to read user", "error", err, "user_id", msg.From.ID)
		return
	}
	if user == nil || !user.Valid {
		return
	}
	answerQuestion(ctx, h.deps, msg.Chat.ID, msg.ID, user.FirstName, q)
}

func (h privateHandler) send(ctx context.Context, chatID int64, text string) {
	if _, err := h.deps.Messenger.SendText(ctx, chatID, text); err != nil {
		h.deps.Logger.ErrorContext(ctx, "Failed to send message", "error", err, "chat_id", chatID)
	}
}

// isStart reports whether text is the /start command, possibly addressed
// to the bot by username.
func isStart(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.EqualFold(cmd, "/start")
}

func itemOf(msg *models.Message) *database.ContentItem {
	item, ok := contentItem(msg)
	if !ok {
		return nil
	}
	return &item
}
