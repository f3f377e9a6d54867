package handlers

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/aulabot/internal/database"
)

// NewMembershipHandler returns a handler for members joining or leaving a
// group, the bot included.
func NewMembershipHandler(deps HandlerDeps) bot.HandlerFunc {
	return membershipHandler{deps}.Handle
}

type membershipHandler struct {
	deps HandlerDeps
}

func (h membershipHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil {
		return
	}
	chat, ok := groupOf(msg.Chat)
	if !ok {
		return
	}
	log := h.deps.Logger.With("handler", "membership", "group_id", chat.ID)
	selfID := h.deps.botID()

	for i := range msg.NewChatMembers {
		u := &msg.NewChatMembers[i]
		switch {
		case u.ID == selfID:
			h.botJoined(ctx, chat)
		case u.IsBot:
			log.DebugContext(ctx, "Ignoring bot joining", "user_id", u.ID)
		default:
			h.joined(ctx, chat, u)
		}
	}

	if left := msg.LeftChatMember; left != nil && left.ID != selfID && !left.IsBot {
		invalidated, err := h.deps.Cache.Leave(ctx, chat.ID, left.ID)
		if err != nil {
			log.ErrorContext(ctx, "Failed to register member leaving", "user_id", left.ID, "error", err)
			return
		}
		log.InfoContext(ctx, "Member left", "user_id", left.ID, "invalidated", invalidated)
	}
}

// joined registers u, welcomes them and promotes instructors.
func (h membershipHandler) joined(ctx context.Context, chat database.Group, u *models.User) {
	log := h.deps.Logger.With("handler", "membership", "group_id", chat.ID, "user_id", u.ID)
	msgs := h.deps.Config.Messages

	group, err := h.deps.Cache.Group(ctx, chat)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load group context", "error", err)
		return
	}
	member, err := h.deps.Cache.Join(ctx, group.ID, userOf(u))
	if err != nil {
		log.ErrorContext(ctx, "Failed to register member", "error", err)
		return
	}
	log.InfoContext(ctx, "Member joined", "role", member.Role)

	for _, text := range []string{
		fmt.Sprintf(msgs.GroupWelcome, member.FullName(), group.Title),
		msgs.GroupHint,
		msgs.GroupExample,
	} {
		if _, err := h.deps.Messenger.SendText(ctx, group.ID, text); err != nil {
			log.WarnContext(ctx, "Failed to send welcome", "error", err)
			break
		}
	}

	if member.IsInstructor() {
		if err := h.deps.Messenger.Promote(ctx, group.ID, u.ID); err != nil {
			log.WarnContext(ctx, "Failed to promote instructor", "error", err)
		}
	}
}

// botJoined registers the group the bot was added to and asks for admin
// rights when it lacks them.
func (h membershipHandler) botJoined(ctx context.Context, chat database.Group) {
	log := h.deps.Logger.With("handler", "membership", "group_id", chat.ID)
	msgs := h.deps.Config.Messages

	admin, err := h.deps.Messenger.IsAdmin(ctx, chat.ID)
	if err != nil {
		log.WarnContext(ctx, "Failed to check admin rights", "error", err)
	}
	if err := setValidity(ctx, h.deps, chat, admin); err != nil {
		log.ErrorContext(ctx, "Failed to register group", "error", err)
	}
	log.InfoContext(ctx, "Bot added to group", "title", chat.Title, "admin", admin)

	var first string
	if info := h.deps.Config.Telegram.BotInfo; info != nil {
		first = info.FirstName
	}
	if _, err := h.deps.Messenger.SendText(ctx, chat.ID, fmt.Sprintf(msgs.BotJoined, first, h.deps.botUsername())); err != nil {
		log.WarnContext(ctx, "Failed to introduce bot", "error", err)
	}
	if !admin {
		if _, err := h.deps.Messenger.SendText(ctx, chat.ID, msgs.BotNeedsAdmin); err != nil {
			log.WarnContext(ctx, "Failed to ask for admin rights", "error", err)
		}
	}
}

// NewBotMembershipHandler returns a handler for changes of the bot's own
// status in a group.
func NewBotMembershipHandler(deps HandlerDeps) bot.HandlerFunc {
	return botMembershipHandler{deps}.Handle
}

type botMembershipHandler struct {
	deps HandlerDeps
}

func (h botMembershipHandler) Handle(ctx context.Context, _ *bot.Bot, update *models.Update) {
	change := update.MyChatMember
	if change == nil {
		return
	}
	chat, ok := groupOf(change.Chat)
	if !ok {
		return
	}
	log := h.deps.Logger.With("handler", "bot_membership", "group_id", chat.ID)
	was, now := change.OldChatMember.Type, change.NewChatMember.Type
	log.DebugContext(ctx, "Bot status changed", "from", was, "to", now)

	switch now {
	case models.ChatMemberTypeLeft, models.ChatMemberTypeBanned:
		removed, err := h.deps.Cache.BotRemoved(ctx, chat.ID)
		if err != nil {
			log.ErrorContext(ctx, "Failed to invalidate group", "error", err)
			return
		}
		log.InfoContext(ctx, "Bot removed from group", "members_removed", len(removed))
	case models.ChatMemberTypeAdministrator:
		if err := setValidity(ctx, h.deps, chat, true); err != nil {
			log.ErrorContext(ctx, "Failed to validate group", "error", err)
			return
		}
		log.InfoContext(ctx, "Bot promoted to administrator")
	case models.ChatMemberTypeMember, models.ChatMemberTypeRestricted:
		if was != models.ChatMemberTypeAdministrator {
			return
		}
		if err := setValidity(ctx, h.deps, chat, false); err != nil {
			log.ErrorContext(ctx, "Failed to invalidate group", "error", err)
			return
		}
		log.InfoContext(ctx, "Bot lost administrator rights")
		if _, err := h.deps.Messenger.SendText(ctx, chat.ID, h.deps.Config.Messages.BotNeedsAdmin); err != nil {
			log.WarnContext(ctx, "Failed to ask for admin rights", "error", err)
		}
	}
}

// setValidity persists the validity of chat, registering it when unknown,
// and reloads its cached context. Memberships are kept.
func setValidity(ctx context.Context, deps HandlerDeps, chat database.Group, valid bool) error {
	stored, err := deps.Store.GetGroup(ctx, chat.ID)
	if err != nil {
		return err
	}
	if stored == nil {
		g := chat
		g.Valid, g.CreatedAt = valid, deps.Clock.Now()
		if err := deps.Store.AddGroup(ctx, &g); err != nil {
			return err
		}
	} else if stored.Valid != valid || (chat.Title != "" && stored.Title != chat.Title) {
		g := *stored
		g.Valid = valid
		if chat.Title != "" {
			g.Title = chat.Title
		}
		if err := deps.Store.EditGroup(ctx, &g); err != nil {
			return err
		}
	}
	_, err = deps.Cache.Load(ctx, chat)
	return err
}
