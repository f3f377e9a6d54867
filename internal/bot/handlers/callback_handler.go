package handlers

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/aulabot/internal/session"
)

// NewCallbackHandler returns a handler for inline keyboard presses of the
// instructor menu.
func NewCallbackHandler(deps HandlerDeps) bot.HandlerFunc {
	return callbackHandler{deps}.Handle
}

type callbackHandler struct {
	deps HandlerDeps
}

func (h callbackHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	query := update.CallbackQuery
	if query == nil {
		return
	}
	userID := query.From.ID
	log := h.deps.Logger.With("handler", "callback", "user_id", userID)

	if err := h.deps.Messenger.AnswerCallback(ctx, query.ID); err != nil {
		log.WarnContext(ctx, "Failed to answer callback", "error", err)
	}

	chatID, promptID := userID, 0
	if prompt := query.Message.Message; prompt != nil {
		chatID, promptID = prompt.Chat.ID, prompt.ID
	}

	unlock := h.deps.Sessions.Lock(userID)
	defer unlock()

	s, status := h.deps.Sessions.Get(userID)
	switch status {
	case session.StatusNone:
		log.DebugContext(ctx, "Ignoring callback without session", "data", query.Data)
		return
	case session.StatusExpired:
		log.InfoContext(ctx, "Session expired")
		if _, err := h.deps.Messenger.SendText(ctx, chatID, h.deps.Config.Messages.SessionExpired); err != nil {
			log.ErrorContext(ctx, "Failed to send notice", "error", err)
		}
		return
	}

	driver{h.deps}.drive(ctx, chatID, s, session.Callback(query.Data, h.deps.Clock.Now()), promptID)
}
