package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/edgard/aulabot/internal/announce"
	"github.com/edgard/aulabot/internal/database"
	"github.com/edgard/aulabot/internal/export"
	"github.com/edgard/aulabot/internal/session"
)

// actions executes the irreversible effects of an instructor session.
// Every outcome is reported to the instructor; failures never abort the
// session.
type actions struct {
	deps   HandlerDeps
	chatID int64
	userID int64
}

func (a actions) log() *slog.Logger {
	return a.deps.Logger.With("handler", "session", "user_id", a.userID)
}

func (a actions) notify(ctx context.Context, text string) {
	if _, err := a.deps.Messenger.SendText(ctx, a.chatID, text); err != nil {
		a.log().ErrorContext(ctx, "Failed to send notice", "error", err)
	}
}

func (a actions) failed(ctx context.Context, msg string, err error, args ...any) {
	a.log().ErrorContext(ctx, msg, append([]any{"error", err}, args...)...)
	a.notify(ctx, session.NoticeActionFailed)
}

// administered re-derives the validity of g before an administrative action.
// A group where the bot lost its rights is marked invalid and reported.
func (a actions) administered(ctx context.Context, g database.Group) bool {
	admin, err := a.deps.Messenger.IsAdmin(ctx, g.ID)
	if err != nil {
		a.log().WarnContext(ctx, "Failed to check admin rights, trying anyway", "group_id", g.ID, "error", err)
		return true
	}
	if admin {
		return true
	}
	if err := setValidity(ctx, a.deps, g, false); err != nil {
		a.log().ErrorContext(ctx, "Failed to invalidate group", "group_id", g.ID, "error", err)
	}
	a.notify(ctx, fmt.Sprintf(session.NoticeGroupUnavailable, g.Title))
	return false
}

func (a actions) inviteLink(ctx context.Context, g database.Group) {
	if !a.administered(ctx, g) {
		return
	}

	status, err := a.deps.Store.GetMembership(ctx, g.ID, a.userID)
	if err != nil {
		a.log().WarnContext(ctx, "Failed to read instructor membership", "group_id", g.ID, "error", err)
	} else if status != nil && status.Banned {
		if err := a.deps.Store.ResetMemberStatus(ctx, g.ID, a.userID); err != nil {
			a.log().WarnContext(ctx, "Failed to clear instructor ban", "group_id", g.ID, "error", err)
		}
		a.deps.Cache.Evict(g.ID, a.userID)
	}
	if err := a.deps.Messenger.Unban(ctx, g.ID, a.userID); err != nil {
		a.log().WarnContext(ctx, "Failed to unban instructor", "group_id", g.ID, "error", err)
	}

	link, err := a.deps.Messenger.InviteLink(ctx, g.ID)
	if err != nil {
		a.failed(ctx, "Failed to export invite link", err, "group_id", g.ID)
		return
	}
	a.notify(ctx, fmt.Sprintf(session.NoticeInviteLink, g.Title, link))
}

// deleteGroup kicks every member, invalidates the group and leaves it.
func (a actions) deleteGroup(ctx context.Context, g database.Group) {
	if !a.administered(ctx, g) {
		return
	}
	log := a.log().With("group_id", g.ID)

	members, err := a.deps.Store.ListMembers(ctx, g.ID, database.MemberFilter{})
	if err != nil {
		a.failed(ctx, "Failed to list group members", err, "group_id", g.ID)
		return
	}
	for _, m := range members {
		if err := a.deps.Messenger.Kick(ctx, g.ID, m.ID); err != nil {
			log.WarnContext(ctx, "Failed to kick member", "member_id", m.ID, "error", err)
		}
	}

	removed, err := a.deps.Cache.BotRemoved(ctx, g.ID)
	if err != nil {
		a.failed(ctx, "Failed to invalidate group", err, "group_id", g.ID)
		return
	}
	if err := a.deps.Messenger.Leave(ctx, g.ID); err != nil {
		log.WarnContext(ctx, "Failed to leave group", "error", err)
	}

	log.InfoContext(ctx, "Group deleted", "members_removed", len(removed))
	a.notify(ctx, fmt.Sprintf(session.NoticeGroupDeleted, g.Title))
}

func (a actions) ban(ctx context.Context, g database.Group, st database.Member) {
	if !a.administered(ctx, g) {
		return
	}
	if err := a.deps.Store.BanMember(ctx, g.ID, st.ID, a.deps.Clock.Now()); err != nil {
		a.failed(ctx, "Failed to ban student", err, "group_id", g.ID, "student_id", st.ID)
		return
	}
	if err := a.deps.Messenger.Kick(ctx, g.ID, st.ID); err != nil {
		a.log().WarnContext(ctx, "Failed to kick banned student", "group_id", g.ID, "student_id", st.ID, "error", err)
	}
	a.deps.Cache.Evict(g.ID, st.ID)

	a.log().InfoContext(ctx, "Student banned", "group_id", g.ID, "student_id", st.ID)
	a.notify(ctx, fmt.Sprintf(session.NoticeStudentBanned, st.FullName(), g.Title))
}

// readmit lifts the ban and sends the student an invite link, falling back
// to handing the link to the instructor.
func (a actions) readmit(ctx context.Context, g database.Group, st database.Member) {
	if !a.administered(ctx, g) {
		return
	}
	log := a.log().With("group_id", g.ID, "student_id", st.ID)

	if err := a.deps.Store.ReadmitMember(ctx, g.ID, st.ID, a.deps.Clock.Now()); err != nil {
		a.failed(ctx, "Failed to readmit student", err, "group_id", g.ID, "student_id", st.ID)
		return
	}
	a.deps.Cache.Evict(g.ID, st.ID)
	if err := a.deps.Messenger.Unban(ctx, g.ID, st.ID); err != nil {
		log.WarnContext(ctx, "Failed to unban student", "error", err)
	}

	log.InfoContext(ctx, "Student readmitted")
	a.notify(ctx, fmt.Sprintf(session.NoticeStudentReadmitted, st.FullName(), g.Title))

	link, err := a.deps.Messenger.InviteLink(ctx, g.ID)
	if err != nil {
		a.failed(ctx, "Failed to export invite link", err, "group_id", g.ID)
		return
	}
	if _, err := a.deps.Messenger.SendText(ctx, st.ID, fmt.Sprintf(a.deps.Config.Messages.ReadmitInvite, g.Title, link)); err != nil {
		log.InfoContext(ctx, "Could not reach readmitted student", "error", err)
		a.notify(ctx, fmt.Sprintf(session.NoticeReadmitLink, st.FullName(), link))
	}
}

func (a actions) expel(ctx context.Context, g database.Group, st database.Member) {
	if !a.administered(ctx, g) {
		return
	}
	invalidated, err := a.deps.Store.RemoveMembership(ctx, g.ID, st.ID, database.EventExpel, a.deps.Clock.Now())
	if err != nil {
		a.failed(ctx, "Failed to expel student", err, "group_id", g.ID, "student_id", st.ID)
		return
	}
	if err := a.deps.Messenger.Kick(ctx, g.ID, st.ID); err != nil {
		a.log().WarnContext(ctx, "Failed to kick expelled student", "group_id", g.ID, "student_id", st.ID, "error", err)
	}
	a.deps.Cache.Evict(g.ID, st.ID)

	a.log().InfoContext(ctx, "Student expelled", "group_id", g.ID, "student_id", st.ID, "invalidated", invalidated)
	a.notify(ctx, fmt.Sprintf(session.NoticeStudentExpelled, st.FullName(), g.Title))
}

func (a actions) showAnnouncement(ctx context.Context, id int64) {
	err := a.deps.Announcer.Preview(ctx, a.chatID, id)
	switch {
	case errors.Is(err, announce.ErrNotFound):
		a.notify(ctx, session.NoticeAnnouncementGone)
	case err != nil:
		a.failed(ctx, "Failed to preview announcement", err, "announcement_id", id)
	}
}

func (a actions) cancelAnnouncement(ctx context.Context, id int64) {
	err := a.deps.Announcer.Cancel(ctx, id)
	switch {
	case errors.Is(err, announce.ErrAlreadyFired), errors.Is(err, announce.ErrNotFound):
		a.notify(ctx, session.NoticeAnnouncementGone)
	case err != nil:
		a.failed(ctx, "Failed to cancel announcement", err, "announcement_id", id)
	default:
		a.notify(ctx, session.NoticeAnnouncementDeleted)
	}
}

// schedule archives the media of the draft and hands it to the announcer.
// Media that cannot be archived is kept by file id.
func (a actions) schedule(ctx context.Context, e session.ScheduleAnnouncement) {
	items := append([]database.ContentItem(nil), e.Items...)
	if a.deps.Archiver != nil {
		for i := range items {
			if err := a.deps.Archiver.Archive(ctx, &items[i]); err != nil {
				a.log().WarnContext(ctx, "Failed to archive announcement media", "kind", items[i].Kind, "error", err)
			}
		}
	}

	id, err := a.deps.Announcer.Schedule(ctx, announce.Draft{
		Items:        items,
		GroupIDs:     e.GroupIDs,
		OriginatorID: a.userID,
		At:           e.At,
	})
	if err != nil {
		a.failed(ctx, "Failed to schedule announcement", err, "announcement_id", id)
		return
	}
	a.notify(ctx, fmt.Sprintf(session.NoticeAnnouncementScheduled, session.DisplayTime(e.At)))
}

// export counts the requested messages and, if there are any, compiles
// and sends them from a one-time job.
func (a actions) export(ctx context.Context, e session.ExportConversation) {
	n, err := a.deps.Exporter.Count(ctx, e.Group.ID, e.From, e.To)
	if err != nil {
		a.failed(ctx, "Failed to count messages", err, "group_id", e.Group.ID)
		return
	}
	if n == 0 {
		a.notify(ctx, session.NoticeNothingToExport)
		return
	}

	name := fmt.Sprintf("export-%d-%d-%d", a.userID, e.Group.ID, e.From.Unix())
	_, err = a.deps.Timer.Register(a.deps.Clock.Now(), name, func(jobCtx context.Context) {
		a.deliverExport(jobCtx, e)
	})
	if err != nil {
		a.failed(ctx, "Failed to schedule export", err, "group_id", e.Group.ID)
		return
	}
	a.notify(ctx, fmt.Sprintf(session.NoticeExportScheduled, n))
}

func (a actions) deliverExport(ctx context.Context, e session.ExportConversation) {
	log := a.log().With("group_id", e.Group.ID)

	paths, err := a.deps.Exporter.Compile(ctx, e.Group, e.From, e.To)
	if err != nil {
		a.failed(ctx, "Failed to compile conversation", err, "group_id", e.Group.ID)
		return
	}
	defer export.Remove(paths)

	caption := fmt.Sprintf(a.deps.Config.Messages.ExportCaption, e.Group.Title)
	for _, p := range paths {
		if _, err := a.deps.Messenger.SendDocument(ctx, a.chatID, p, caption); err != nil {
			log.ErrorContext(ctx, "Failed to send conversation file", "path", p, "error", err)
		}
	}
	log.InfoContext(ctx, "Conversation exported", "files", len(paths))
}

// unregister demotes the instructor. Validity follows group membership.
func (a actions) unregister(ctx context.Context) {
	user, err := a.deps.Store.GetUser(ctx, a.userID)
	if err != nil || user == nil {
		a.failed(ctx, "Failed to read instructor", err)
		return
	}
	inGroup, err := a.deps.Store.ExistsUserInAnyGroup(ctx, a.userID)
	if err != nil {
		a.failed(ctx, "Failed to check group memberships", err)
		return
	}

	user.Role, user.Valid = database.RoleStudent, inGroup
	if err := a.deps.Store.EditUser(ctx, user); err != nil {
		a.failed(ctx, "Failed to unregister instructor", err)
		return
	}
	a.log().InfoContext(ctx, "Instructor unregistered", "valid", inGroup)
	a.notify(ctx, session.NoticeUnregistered)
}
