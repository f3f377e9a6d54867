package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/aulabot/internal/answer"
	"github.com/edgard/aulabot/internal/database"
	"github.com/edgard/aulabot/internal/moderation"
)

// NewGroupHandler returns a handler for messages posted in groups. Every
// message is moderated and logged; academic questions are answered.
func NewGroupHandler(deps HandlerDeps) bot.HandlerFunc {
	return groupHandler{deps}.Handle
}

type groupHandler struct {
	deps HandlerDeps
}

func (h groupHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	log := h.deps.Logger.With("handler", "group")

	msg, edited := update.Message, false
	if msg == nil {
		msg, edited = update.EditedMessage, true
	}
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return
	}
	chat, ok := groupOf(msg.Chat)
	if !ok {
		log.DebugContext(ctx, "Ignoring update outside groups", "update_id", update.ID)
		return
	}
	item, ok := contentItem(msg)
	if !ok {
		return
	}
	log = log.With("group_id", chat.ID, "user_id", msg.From.ID)

	group, err := h.deps.Cache.Group(ctx, chat)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load group context", "error", err)
		return
	}
	if !group.Valid {
		log.DebugContext(ctx, "Ignoring message in group without admin rights")
		return
	}
	sender, err := h.deps.Cache.Member(ctx, group.ID, userOf(msg.From))
	if err != nil {
		log.ErrorContext(ctx, "Failed to load member", "error", err)
		return
	}

	if h.deps.Archiver != nil {
		if err := h.deps.Archiver.Archive(ctx, &item); err != nil {
			log.WarnContext(ctx, "Failed to archive media", "kind", item.Kind, "error", err)
		}
	}

	in := moderation.Inbound{
		Group:         group,
		Sender:        sender.User,
		ChatMessageID: msg.ID,
		Text:          messageText(msg),
		Items:         []database.ContentItem{item},
		Edited:        edited,
		SentAt:        time.Unix(int64(msg.Date), 0),
	}
	if msg.ReplyToMessage != nil {
		in.ReplyTo = msg.ReplyToMessage.ID
	}

	academic := h.deps.Moderation.Process(ctx, in)
	if !academic || edited {
		return
	}

	q, ok := answer.Question(in.Text, h.deps.botUsername())
	if !ok {
		return
	}
	answerQuestion(ctx, h.deps, group.ID, msg.ID, sender.FirstName, q)
}

// answerQuestion acknowledges q, keeps the typing indicator on while the
// answer is looked up and replies to message replyTo.
func answerQuestion(ctx context.Context, deps HandlerDeps, chatID int64, replyTo int, name, q string) {
	log := deps.Logger.With("handler", "question", "chat_id", chatID)
	msgs := deps.Config.Messages

	if _, err := deps.Messenger.SendText(ctx, chatID, fmt.Sprintf(msgs.AnswerWait, name)); err != nil {
		log.WarnContext(ctx, "Failed to acknowledge question", "error", err)
	}

	typingCtx, stopTyping := context.WithCancel(ctx)
	go deps.Messenger.KeepTyping(typingCtx, chatID)
	reply, found := deps.Answerer.Answer(ctx, q)
	stopTyping()

	text := msgs.AnswerNotFound
	if found {
		text = fmt.Sprintf(msgs.AnswerFound, name) + "\n" + reply
	}
	log.InfoContext(ctx, "Question handled", "found", found)
	if _, err := deps.Messenger.Reply(ctx, chatID, replyTo, text); err != nil {
		log.ErrorContext(ctx, "Failed to send answer", "error", err)
	}
}
