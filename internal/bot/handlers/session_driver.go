package handlers

import (
	"context"
	"time"

	"github.com/edgard/aulabot/internal/database"
	"github.com/edgard/aulabot/internal/session"
)

// maxLoads bounds the snapshot round trips of one event.
const maxLoads = 4

// driver runs instructor sessions: it feeds events to the machine, executes
// the effects of each outcome and shows the resulting prompt. Callers hold
// the session lock of the user.
type driver struct {
	deps HandlerDeps
}

// drive advances s with ev. promptID is the message carrying the keyboard
// the event came from, 0 for typed messages.
func (d driver) drive(ctx context.Context, chatID int64, s session.Session, ev session.Event, promptID int) {
	log := d.deps.Logger.With("handler", "session", "user_id", s.UserID)
	from := s.State

	out := d.deps.Machine.Transition(s, ev)
	for loads := 0; ; loads++ {
		if out.Err != nil {
			log.ErrorContext(ctx, "Irrecoverable session error", "state", s.State, "error", out.Err)
			d.deps.Sessions.Clear(s.UserID)
			d.notify(ctx, chatID, d.deps.Config.Messages.GeneralError)
			return
		}

		load, ok := d.execute(ctx, chatID, out.Session.UserID, out.Effects)
		if !ok {
			break
		}
		if loads >= maxLoads {
			log.ErrorContext(ctx, "Too many snapshot loads for one event", "state", out.Session.State)
			d.deps.Sessions.Clear(s.UserID)
			d.notify(ctx, chatID, d.deps.Config.Messages.GeneralError)
			return
		}

		loaded, err := d.load(ctx, load, ev.Now)
		if err != nil {
			log.ErrorContext(ctx, "Failed to load session snapshot", "what", load.What, "error", err)
			d.deps.Sessions.Clear(s.UserID)
			d.notify(ctx, chatID, d.deps.Config.Messages.GeneralError)
			return
		}
		edit := out.EditPrompt
		out = d.deps.Machine.Transition(out.Session, loaded)
		out.EditPrompt = out.EditPrompt || edit
	}

	if out.Fallback {
		log.DebugContext(ctx, "Event not accepted", "state", from, "kind", ev.Kind, "text", ev.Text)
	}
	if out.Terminal {
		d.deps.Sessions.Clear(s.UserID)
		log.InfoContext(ctx, "Session ended", "state", from)
		return
	}

	stored := d.deps.Sessions.Put(out.Session)
	if stored.State != from {
		log.DebugContext(ctx, "Session transition", "from", from, "to", stored.State)
	}
	d.show(ctx, chatID, stored, promptID, out.EditPrompt)
}

// show renders the prompt of s, editing the message promptID in place when
// asked to and possible.
func (d driver) show(ctx context.Context, chatID int64, s session.Session, promptID int, edit bool) {
	p := session.Render(s)
	kb := keyboard(p)

	if edit && promptID != 0 {
		err := d.deps.Messenger.EditPrompt(ctx, chatID, promptID, p.Text, kb)
		if err == nil {
			return
		}
		d.deps.Logger.WarnContext(ctx, "Failed to edit prompt, sending a new one", "error", err, "chat_id", chatID)
	}
	if _, err := d.deps.Messenger.SendPrompt(ctx, chatID, p.Text, kb); err != nil {
		d.deps.Logger.ErrorContext(ctx, "Failed to send prompt", "error", err, "chat_id", chatID, "state", s.State)
	}
}

// load reads the snapshot asked for by l.
func (d driver) load(ctx context.Context, l session.Load, now time.Time) (session.Event, error) {
	ev := session.Event{Kind: session.EventLoaded, Now: now}
	var err error

	switch l.What {
	case session.LoadValidGroups:
		ev.Groups, err = d.deps.Store.ListGroups(ctx, true)
	case session.LoadAllGroups:
		ev.Groups, err = d.deps.Store.ListGroups(ctx, false)
	case session.LoadStudents:
		ev.Students, err = d.deps.Store.ListMembers(ctx, l.GroupID, database.MemberFilter{StudentsOnly: true, ValidOnly: true})
	case session.LoadAnnouncements:
		ev.Announcements, err = d.deps.Store.ListAnnouncements(ctx)
	}
	return ev, err
}

// execute runs effects in order and returns the snapshot request among
// them, if any.
func (d driver) execute(ctx context.Context, chatID, userID int64, effects []session.Effect) (session.Load, bool) {
	var (
		load    session.Load
		hasLoad bool
	)
	a := actions{deps: d.deps, chatID: chatID, userID: userID}

	for _, e := range effects {
		switch e := e.(type) {
		case session.Load:
			load, hasLoad = e, true
		case session.Notice:
			d.notify(ctx, chatID, e.Text)
		case session.InviteLink:
			a.inviteLink(ctx, e.Group)
		case session.DeleteGroup:
			a.deleteGroup(ctx, e.Group)
		case session.BanStudent:
			a.ban(ctx, e.Group, e.Student)
		case session.ReadmitStudent:
			a.readmit(ctx, e.Group, e.Student)
		case session.ExpelStudent:
			a.expel(ctx, e.Group, e.Student)
		case session.ShowAnnouncement:
			a.showAnnouncement(ctx, e.ID)
		case session.CancelAnnouncement:
			a.cancelAnnouncement(ctx, e.ID)
		case session.ScheduleAnnouncement:
			a.schedule(ctx, e)
		case session.ExportConversation:
			a.export(ctx, e)
		case session.Unregister:
			a.unregister(ctx)
		default:
			d.deps.Logger.WarnContext(ctx, "Unknown session effect", "effect", e)
		}
	}
	return load, hasLoad
}

func (d driver) notify(ctx context.Context, chatID int64, text string) {
	if _, err := d.deps.Messenger.SendText(ctx, chatID, text); err != nil {
		d.deps.Logger.ErrorContext(ctx, "Failed to send notice", "error", err, "chat_id", chatID)
	}
}
