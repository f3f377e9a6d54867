package handlers

import (
	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// RegisteredHandler represents an update handler with its middleware.
// Handlers with a Match function are routed by it; the others by
// HandlerType, Pattern and MatchType.
type RegisteredHandler struct {
	Name        string
	HandlerType tgbot.HandlerType
	Pattern     string
	MatchType   tgbot.MatchType
	Match       tgbot.MatchFunc
	Handler     tgbot.HandlerFunc
	Middleware  []tgbot.Middleware
}

// RegisterAllHandlers returns every routed handler. The match functions are
// mutually exclusive, so an update reaches at most one of them; everything
// else goes to the default handler.
func RegisterAllHandlers(deps HandlerDeps) []RegisteredHandler {
	return []RegisteredHandler{
		{
			Name:    "private",
			Match:   isPrivateMessage,
			Handler: NewPrivateHandler(deps),
		},
		{
			Name:       "callback",
			Match:      isCallback,
			Handler:    NewCallbackHandler(deps),
			Middleware: []tgbot.Middleware{InstructorOnly(deps)},
		},
		{
			Name:    "membership",
			Match:   isMembershipChange,
			Handler: NewMembershipHandler(deps),
		},
		{
			Name:    "bot_membership",
			Match:   isBotMembershipChange,
			Handler: NewBotMembershipHandler(deps),
		},
	}
}

// NewDefaultHandler handles group messages, the only updates left once the
// registered handlers have matched.
func NewDefaultHandler(deps HandlerDeps) tgbot.HandlerFunc {
	return NewGroupHandler(deps)
}

func isPrivateMessage(update *models.Update) bool {
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	return msg != nil && msg.Chat.Type == models.ChatTypePrivate
}

func isCallback(update *models.Update) bool {
	return update.CallbackQuery != nil
}

func isMembershipChange(update *models.Update) bool {
	msg := update.Message
	if msg == nil {
		return false
	}
	if _, ok := groupOf(msg.Chat); !ok {
		return false
	}
	return len(msg.NewChatMembers) > 0 || msg.LeftChatMember != nil
}

func isBotMembershipChange(update *models.Update) bool {
	return update.MyChatMember != nil
}
