package session

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/edgard/aulabot/internal/database"
	"github.com/edgard/aulabot/internal/errs"
	"github.com/edgard/aulabot/internal/nlu"
)

// ErrMissingContext reports a session whose state does not carry the
// context it requires. The session cannot continue.
var ErrMissingContext = errs.NewSessionError("session context missing for state", nil)

// DefaultMaxItems bounds the number of messages of one announcement.
const DefaultMaxItems = 50

// Machine computes menu transitions. It holds no per-session state and is
// safe for concurrent use.
type Machine struct {
	maxItems int
}

// NewMachine returns a Machine accepting up to maxItems messages per
// announcement; non-positive values select DefaultMaxItems.
func NewMachine(maxItems int) *Machine {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &Machine{maxItems: maxItems}
}

// Start returns a fresh session at the menu root.
func (m *Machine) Start(userID int64, now time.Time) Session {
	return Session{UserID: userID, State: Menu, Ctx: MenuCtx{}, LastActive: now}
}

// Transition advances s with ev. It never mutates s.
func (m *Machine) Transition(s Session, ev Event) Outcome {
	switch s.State {
	case Menu:
		return m.menu(s, ev)
	case GroupList:
		return m.groupList(s, ev)
	case GroupDeleteConfirm, GroupDeleteReconfirm:
		return m.groupDelete(s, ev)
	case StudentList:
		return m.studentList(s, ev)
	case StudentBanConfirm, StudentReadmitConfirm, StudentExpelConfirm, StudentExpelReconfirm:
		return m.studentAction(s, ev)
	case AnnouncementMenu:
		return m.announcementMenu(s, ev)
	case AnnouncementOffer:
		return m.announcementOffer(s, ev)
	case AnnouncementDeleteConfirm:
		return m.announcementDelete(s, ev)
	case ComposeContent:
		return m.composeContent(s, ev)
	case ComposeGroups:
		return m.composeGroups(s, ev)
	case ComposeDate, ComposeTime:
		return m.composeMoment(s, ev)
	case DownloadStartDate, DownloadStartTime, DownloadEndDate, DownloadEndTime:
		return m.downloadMoment(s, ev)
	case DownloadGroup, DownloadConfirm:
		return m.downloadGroup(s, ev)
	case UnregisterConfirm, UnregisterReconfirm:
		return m.unregister(s, ev)
	default:
		return missing(s)
	}
}

func (m *Machine) menu(s Session, ev Event) Outcome {
	if _, ok := s.Ctx.(MenuCtx); !ok {
		return missing(s)
	}
	if ev.Kind != EventCallback {
		return fallback(s, ev)
	}

	switch ev.Text {
	case DataGroups:
		return next(s, GroupList, GroupListCtx{}, Load{What: LoadValidGroups})
	case DataCompose:
		return next(s, ComposeContent, ComposeCtx{})
	case DataAnnouncements:
		return next(s, AnnouncementMenu, AnnouncementListCtx{}, Load{What: LoadAnnouncements})
	case DataDownload:
		return next(s, DownloadStartDate, DownloadCtx{})
	case DataUnregister:
		return next(s, UnregisterConfirm, UnregisterCtx{})
	case DataExit:
		return terminal(s, Notice{Text: NoticeBye})
	default:
		return fallback(s, ev)
	}
}

// --- groups ---

func (m *Machine) groupList(s Session, ev Event) Outcome {
	c, ok := s.Ctx.(GroupListCtx)
	if !ok {
		return missing(s)
	}

	switch ev.Kind {
	case EventLoaded:
		if len(ev.Groups) == 0 {
			return toMenu(s, Notice{Text: NoticeNoGroups})
		}
		return next(s, GroupList, GroupListCtx{Groups: slices.Clone(ev.Groups)})
	case EventCallback:
	default:
		return fallback(s, ev)
	}

	if ev.Text == DataBack {
		return toMenu(s)
	}

	idx, action, ok := parseIndexed(ev.Text, "grp", len(c.Groups))
	if !ok {
		return fallback(s, ev)
	}
	group := c.Groups[idx]

	switch action {
	case "link":
		return stay(s, InviteLink{Group: group})
	case "students":
		return next(s, StudentList, StudentListCtx{Group: group}, Load{What: LoadStudents, GroupID: group.ID})
	case "del":
		return next(s, GroupDeleteConfirm, GroupActionCtx{Group: group})
	default:
		return fallback(s, ev)
	}
}

func (m *Machine) groupDelete(s Session, ev Event) Outcome {
	c, ok := s.Ctx.(GroupActionCtx)
	if !ok {
		return missing(s)
	}

	switch answer(ev) {
	case DataYes:
		if s.State == GroupDeleteConfirm {
			return next(s, GroupDeleteReconfirm, c)
		}
		return toMenu(s, DeleteGroup{Group: c.Group})
	case DataNo:
		return toMenu(s, Notice{Text: fmt.Sprintf(NoticeGroupKept, c.Group.Title)})
	default:
		return fallback(s, ev)
	}
}

// --- students ---

func (m *Machine) studentList(s Session, ev Event) Outcome {
	c, ok := s.Ctx.(StudentListCtx)
	if !ok {
		return missing(s)
	}

	switch ev.Kind {
	case EventLoaded:
		if len(ev.Students) == 0 {
			return toMenu(s, Notice{Text: NoticeNoStudents})
		}
		return next(s, StudentList, StudentListCtx{Group: c.Group, Students: slices.Clone(ev.Students)})
	case EventCallback:
	default:
		return fallback(s, ev)
	}

	if ev.Text == DataBack {
		return next(s, GroupList, GroupListCtx{}, Load{What: LoadValidGroups})
	}

	idx, action, ok := parseIndexed(ev.Text, "stu", len(c.Students))
	if !ok {
		return fallback(s, ev)
	}
	student := c.Students[idx]
	actx := StudentActionCtx{Group: c.Group, Student: student, Students: c.Students}

	switch {
	case action == "ban" && !student.Banned:
		return next(s, StudentBanConfirm, actx)
	case action == "readmit" && student.Banned:
		return next(s, StudentReadmitConfirm, actx)
	case action == "expel":
		return next(s, StudentExpelConfirm, actx)
	default:
		return fallback(s, ev)
	}
}

func (m *Machine) studentAction(s Session, ev Event) Outcome {
	c, ok := s.Ctx.(StudentActionCtx)
	if !ok {
		return missing(s)
	}

	switch answer(ev) {
	case DataYes:
	case DataNo:
		kept := Notice{Text: fmt.Sprintf(NoticeStudentKept, c.Student.FullName())}
		return next(s, StudentList, StudentListCtx{Group: c.Group, Students: c.Students}, kept)
	default:
		return fallback(s, ev)
	}

	reload := Load{What: LoadStudents, GroupID: c.Group.ID}
	list := StudentListCtx{Group: c.Group}
	switch s.State {
	case StudentBanConfirm:
		return next(s, StudentList, list, BanStudent{Group: c.Group, Student: c.Student}, reload)
	case StudentReadmitConfirm:
		return next(s, StudentList, list, ReadmitStudent{Group: c.Group, Student: c.Student}, reload)
	case StudentExpelConfirm:
		return next(s, StudentExpelReconfirm, c)
	default:
		return next(s, StudentList, list, ExpelStudent{Group: c.Group, Student: c.Student}, reload)
	}
}

// --- announcements ---

func (m *Machine) announcementMenu(s Session, ev Event) Outcome {
	c, ok := s.Ctx.(AnnouncementListCtx)
	if !ok {
		return missing(s)
	}

	switch ev.Kind {
	case EventLoaded:
		if len(ev.Announcements) == 0 {
			return next(s, AnnouncementOffer, MenuCtx{})
		}
		return next(s, AnnouncementMenu, AnnouncementListCtx{Announcements: slices.Clone(ev.Announcements)})
	case EventCallback:
	default:
		return fallback(s, ev)
	}

	switch ev.Text {
	case DataBack:
		return toMenu(s)
	case DataNew:
		return next(s, ComposeContent, ComposeCtx{})
	}

	idx, action, ok := parseIndexed(ev.Text, "ann", len(c.Announcements))
	if !ok {
		return fallback(s, ev)
	}
	a := c.Announcements[idx]

	switch action {
	case "read":
		return stay(s, ShowAnnouncement{ID: a.ID})
	case "rm":
		return next(s, AnnouncementDeleteConfirm, AnnouncementActionCtx{Announcement: a})
	default:
		return fallback(s, ev)
	}
}

func (m *Machine) announcementOffer(s Session, ev Event) Outcome {
	if _, ok := s.Ctx.(MenuCtx); !ok {
		return missing(s)
	}

	switch answer(ev) {
	case DataYes:
		return next(s, ComposeContent, ComposeCtx{})
	case DataNo:
		return toMenu(s)
	default:
		return fallback(s, ev)
	}
}

func (m *Machine) announcementDelete(s Session, ev Event) Outcome {
	c, ok := s.Ctx.(AnnouncementActionCtx)
	if !ok {
		return missing(s)
	}

	reload := Load{What: LoadAnnouncements}
	switch answer(ev) {
	case DataYes:
		return next(s, AnnouncementMenu, AnnouncementListCtx{}, CancelAnnouncement{ID: c.Announcement.ID}, reload)
	case DataNo:
		return next(s, AnnouncementMenu, AnnouncementListCtx{}, Notice{Text: NoticeAnnouncementKept}, reload)
	default:
		return fallback(s, ev)
	}
}

// --- compose ---

func (m *Machine) composeContent(s Session, ev Event) Outcome {
	c, ok := s.Ctx.(ComposeCtx)
	if !ok {
		return missing(s)
	}

	switch ev.Kind {
	case EventMessage:
		if ev.Item == nil {
			return fallback(s, ev)
		}
		items := slices.Clone(c.Items)
		if ev.Edited {
			i := slices.IndexFunc(items, func(d DraftItem) bool { return d.MessageID == ev.MessageID })
			if i < 0 {
				return stay(s)
			}
			items[i] = DraftItem{MessageID: ev.MessageID, Item: *ev.Item}
		} else {
			if len(items) >= m.maxItems {
				return stay(s, Notice{Text: NoticeComposeFull})
			}
			items = append(items, DraftItem{MessageID: ev.MessageID, Item: *ev.Item})
		}
		c.Items = items
		return next(s, ComposeContent, c)
	case EventCallback:
		switch ev.Text {
		case DataAccept:
			if len(c.Items) == 0 {
				return stay(s, Notice{Text: NoticeComposeEmpty})
			}
			return next(s, ComposeGroups, c, Load{What: LoadValidGroups})
		case DataCancel:
			return toMenu(s, Notice{Text: NoticeComposeCancelled})
		}
	}
	return fallback(s, ev)
}

func (m *Machine) composeGroups(s Session, ev Event) Outcome {
	c, ok := s.Ctx.(ComposeCtx)
	if !ok {
		return missing(s)
	}

	switch ev.Kind {
	case EventLoaded:
		if len(ev.Groups) == 0 {
			return toMenu(s, Notice{Text: NoticeNoGroups})
		}
		c.Groups = slices.Clone(ev.Groups)
		c.Selected = make([]bool, len(c.Groups))
		return next(s, ComposeGroups, c)
	case EventCallback:
	default:
		return fallback(s, ev)
	}

	switch ev.Text {
	case DataSave:
		if len(c.SelectedGroupIDs()) == 0 {
			return stay(s, Notice{Text: NoticeNoSelection})
		}
		return next(s, ComposeDate, c)
	case DataCancel:
		return toMenu(s, Notice{Text: NoticeComposeCancelled})
	}

	idx, _, ok := parseIndexed(ev.Text, "tog", len(c.Groups))
	if !ok {
		return fallback(s, ev)
	}
	c.Selected = slices.Clone(c.Selected)
	c.Selected[idx] = !c.Selected[idx]
	out := next(s, ComposeGroups, c)
	out.EditPrompt = true
	return out
}

func (m *Machine) composeMoment(s Session, ev Event) Outcome {
	c, ok := s.Ctx.(ComposeCtx)
	if !ok {
		return missing(s)
	}
	if ev.Kind == EventCallback && ev.Text == DataCancel {
		return toMenu(s, Notice{Text: NoticeComposeCancelled})
	}
	if ev.Kind != EventMessage || ev.Text == "" {
		return fallback(s, ev)
	}

	if s.State == ComposeDate {
		day, tod, hasDate, hasTime := parseMoment(ev.Text, ev.Now)
		if !hasDate && !hasTime {
			return stay(s, Notice{Text: NoticeNotUnderstood})
		}
		if day.Before(startOfDay(ev.Now)) {
			return stay(s, Notice{Text: NoticePastDate})
		}
		c.Date = day
		if !hasTime {
			return next(s, ComposeTime, c)
		}
		return m.schedule(s, c, tod.On(day), ev.Now)
	}

	tod, ok := nlu.ParseTime(ev.Text, ev.Now)
	if !ok {
		return stay(s, Notice{Text: NoticeNotUnderstood})
	}
	return m.schedule(s, c, tod.On(c.Date), ev.Now)
}

func (m *Machine) schedule(s Session, c ComposeCtx, at, now time.Time) Outcome {
	if !at.After(now) {
		if c.Date.Before(startOfDay(now)) {
			return next(s, ComposeDate, c, Notice{Text: NoticePastDate})
		}
		return next(s, ComposeTime, c, Notice{Text: NoticePastMoment})
	}
	items := make([]database.ContentItem, len(c.Items))
	for i, d := range c.Items {
		items[i] = d.Item
		items[i].Position = i
	}
	return toMenu(s, ScheduleAnnouncement{Items: items, GroupIDs: c.SelectedGroupIDs(), At: at})
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// --- download ---

func (m *Machine) downloadMoment(s Session, ev Event) Outcome {
	c, ok := s.Ctx.(DownloadCtx)
	if !ok {
		return missing(s)
	}
	if ev.Kind == EventCallback && ev.Text == DataCancel {
		return toMenu(s, Notice{Text: NoticeDownloadPostponed})
	}
	if ev.Kind != EventMessage || ev.Text == "" {
		return fallback(s, ev)
	}

	switch s.State {
	case DownloadStartDate, DownloadEndDate:
		day, tod, hasDate, hasTime := parseMoment(ev.Text, ev.Now)
		if !hasDate && !hasTime {
			return stay(s, Notice{Text: NoticeNotUnderstood})
		}
		if s.State == DownloadStartDate {
			c.StartDay = day
			if !hasTime {
				return next(s, DownloadStartTime, c)
			}
			c.From = tod.On(day)
			return next(s, DownloadEndDate, c)
		}
		c.EndDay = day
		if !hasTime {
			return next(s, DownloadEndTime, c)
		}
		c.To = tod.On(day)
		return m.checkRange(s, c)
	default:
		tod, ok := nlu.ParseTime(ev.Text, ev.Now)
		if !ok {
			return stay(s, Notice{Text: NoticeNotUnderstood})
		}
		if s.State == DownloadStartTime {
			c.From = tod.On(c.StartDay)
			return next(s, DownloadEndDate, c)
		}
		c.To = tod.On(c.EndDay)
		return m.checkRange(s, c)
	}
}

func (m *Machine) checkRange(s Session, c DownloadCtx) Outcome {
	if !c.From.Before(c.To) {
		return next(s, DownloadStartDate, DownloadCtx{}, Notice{Text: NoticeBadRange})
	}
	return next(s, DownloadGroup, c, Load{What: LoadAllGroups})
}

func (m *Machine) downloadGroup(s Session, ev Event) Outcome {
	c, ok := s.Ctx.(DownloadCtx)
	if !ok {
		return missing(s)
	}

	if s.State == DownloadConfirm {
		switch answer(ev) {
		case DataYes:
			return toMenu(s, ExportConversation{Group: c.Group, From: c.From, To: c.To})
		case DataNo:
			return toMenu(s, Notice{Text: NoticeDownloadCancelled})
		default:
			return fallback(s, ev)
		}
	}

	switch ev.Kind {
	case EventLoaded:
		if len(ev.Groups) == 0 {
			return toMenu(s, Notice{Text: NoticeNoGroups})
		}
		c.Groups = slices.Clone(ev.Groups)
		return next(s, DownloadGroup, c)
	case EventCallback:
	default:
		return fallback(s, ev)
	}

	if ev.Text == DataCancel {
		return toMenu(s, Notice{Text: NoticeDownloadPostponed})
	}
	idx, _, ok := parseIndexed(ev.Text, "grp", len(c.Groups))
	if !ok {
		return fallback(s, ev)
	}
	c.Group = c.Groups[idx]
	return next(s, DownloadConfirm, c)
}

// --- unregister ---

func (m *Machine) unregister(s Session, ev Event) Outcome {
	if _, ok := s.Ctx.(UnregisterCtx); !ok {
		return missing(s)
	}

	switch answer(ev) {
	case DataYes:
		if s.State == UnregisterConfirm {
			return next(s, UnregisterReconfirm, UnregisterCtx{})
		}
		return terminal(s, Unregister{})
	case DataNo:
		return toMenu(s, Notice{Text: NoticeUnregisterKept})
	default:
		return fallback(s, ev)
	}
}

// --- helpers ---

func next(s Session, state State, ctx Context, effects ...Effect) Outcome {
	s.State = state
	s.Ctx = ctx
	return Outcome{Session: s, Effects: effects}
}

func stay(s Session, effects ...Effect) Outcome {
	return Outcome{Session: s, Effects: effects}
}

// toMenu returns to the menu root.
func toMenu(s Session, effects ...Effect) Outcome {
	return next(s, Menu, MenuCtx{}, effects...)
}

func terminal(s Session, effects ...Effect) Outcome {
	s.State = End
	s.Ctx = nil
	return Outcome{Session: s, Terminal: true, Effects: effects}
}

func missing(s Session) Outcome {
	out := terminal(s)
	out.Err = ErrMissingContext
	return out
}

func fallback(s Session, ev Event) Outcome {
	notice := NoticeUnsupportedOption
	if ev.Kind == EventMessage && ev.Text != "" {
		notice = fmt.Sprintf(NoticeUnsupported, ev.Text)
	}
	return Outcome{
		Session:  s,
		Fallback: true,
		Effects:  []Effect{Notice{Text: notice}, Notice{Text: NoticeUseMenu}},
	}
}

// parseMoment reads a date and an optional time of day from text. A time
// without a date refers to the current day.
func parseMoment(text string, now time.Time) (day time.Time, tod nlu.TimeOfDay, hasDate, hasTime bool) {
	day, hasDate = nlu.ParseDate(text, now)
	tod, hasTime = nlu.ParseTime(text, now)
	if !hasDate && hasTime {
		y, m, d := now.Date()
		day = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	}
	return day, tod, hasDate, hasTime
}

// answer returns the yes/no data of a callback, or "" for anything else.
func answer(ev Event) string {
	if ev.Kind != EventCallback {
		return ""
	}
	return ev.Text
}

// parseIndexed parses callback data of the form "<prefix>:<index>[:<action>]"
// and checks the index against a snapshot of length n.
func parseIndexed(data, prefix string, n int) (int, string, bool) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) < 2 || parts[0] != prefix {
		return 0, "", false
	}
	idx, err := strconv.Atoi(parts[1])
	if err != nil || idx < 0 || idx >= n {
		return 0, "", false
	}
	action := ""
	if len(parts) == 3 {
		action = parts[2]
	}
	return idx, action, true
}
