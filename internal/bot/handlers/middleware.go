// Package handlers contains the Telegram update handlers, along with their
// registration logic and middleware.
package handlers

import (
	"context"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// InstructorOnly creates a middleware that drops callback queries from users
// who are not registered instructors. The query is still answered so the
// client stops waiting.
func InstructorOnly(deps HandlerDeps) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, bot *tgbot.Bot, update *models.Update) {
			query := update.CallbackQuery
			if query == nil {
				next(ctx, bot, update)
				return
			}

			log := deps.Logger.With("middleware", "InstructorOnly")
			user, err := deps.Store.GetUser(ctx, query.From.ID)
			if err != nil {
				log.ErrorContext(ctx, "Failed to read user", "error", err, "user_id", query.From.ID)
			}
			if err != nil || user == nil || !user.IsInstructor() {
				log.WarnContext(ctx, "Unauthorized callback", "user_id", query.From.ID)
				if err := deps.Messenger.AnswerCallback(ctx, query.ID); err != nil {
					log.ErrorContext(ctx, "Failed to answer callback", "error", err, "user_id", query.From.ID)
				}
				return
			}

			next(ctx, bot, update)
		}
	}
}
