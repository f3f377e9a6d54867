// Package session implements the instructor administration menu as an
// explicit finite-state machine. Transitions are pure: they return the next
// session together with the effects the caller has to execute.
package session

import (
	"time"

	"github.com/edgard/aulabot/internal/database"
)

// State is a node of the instructor menu.
type State int

// Menu states.
const (
	End State = iota
	Menu

	GroupList
	GroupDeleteConfirm
	GroupDeleteReconfirm

	StudentList
	StudentBanConfirm
	StudentReadmitConfirm
	StudentExpelConfirm
	StudentExpelReconfirm

	AnnouncementMenu
	AnnouncementOffer
	AnnouncementDeleteConfirm

	ComposeContent
	ComposeGroups
	ComposeDate
	ComposeTime

	DownloadStartDate
	DownloadStartTime
	DownloadEndDate
	DownloadEndTime
	DownloadGroup
	DownloadConfirm

	UnregisterConfirm
	UnregisterReconfirm
)

var stateNames = [...]string{
	End:                       "end",
	Menu:                      "menu",
	GroupList:                 "group_list",
	GroupDeleteConfirm:        "group_delete_confirm",
	GroupDeleteReconfirm:      "group_delete_reconfirm",
	StudentList:               "student_list",
	StudentBanConfirm:         "student_ban_confirm",
	StudentReadmitConfirm:     "student_readmit_confirm",
	StudentExpelConfirm:       "student_expel_confirm",
	StudentExpelReconfirm:     "student_expel_reconfirm",
	AnnouncementMenu:          "announcement_menu",
	AnnouncementOffer:         "announcement_offer",
	AnnouncementDeleteConfirm: "announcement_delete_confirm",
	ComposeContent:            "compose_content",
	ComposeGroups:             "compose_groups",
	ComposeDate:               "compose_date",
	ComposeTime:               "compose_time",
	DownloadStartDate:         "download_start_date",
	DownloadStartTime:         "download_start_time",
	DownloadEndDate:           "download_end_date",
	DownloadEndTime:           "download_end_time",
	DownloadGroup:             "download_group",
	DownloadConfirm:           "download_confirm",
	UnregisterConfirm:         "unregister_confirm",
	UnregisterReconfirm:       "unregister_reconfirm",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Context is the typed data carried by a session. Every state accepts
// exactly one concrete Context type.
type Context interface {
	isContext()
}

// MenuCtx is carried by Menu, AnnouncementOffer and the unregister states.
type MenuCtx struct{}

// GroupListCtx holds the snapshot of valid groups shown to the instructor.
type GroupListCtx struct {
	Groups []database.Group
}

// GroupActionCtx holds the group a deletion is being confirmed for.
type GroupActionCtx struct {
	Group database.Group
}

// StudentListCtx holds the snapshot of students of one group.
type StudentListCtx struct {
	Group    database.Group
	Students []database.Member
}

// StudentActionCtx holds the student an action is being confirmed for, and
// the list to return to.
type StudentActionCtx struct {
	Group    database.Group
	Student  database.Member
	Students []database.Member
}

// AnnouncementListCtx holds the snapshot of pending announcements.
type AnnouncementListCtx struct {
	Announcements []database.Announcement
}

// AnnouncementActionCtx holds the announcement a deletion is being
// confirmed for.
type AnnouncementActionCtx struct {
	Announcement database.Announcement
}

// DraftItem is one message collected while composing an announcement.
// MessageID identifies the private message it came from so edits replace it.
type DraftItem struct {
	MessageID int
	Item      database.ContentItem
}

// ComposeCtx accumulates a draft announcement.
type ComposeCtx struct {
	Items    []DraftItem
	Groups   []database.Group
	Selected []bool
	Date     time.Time
}

// SelectedGroupIDs returns the ids of the checked groups in list order.
func (c ComposeCtx) SelectedGroupIDs() []int64 {
	var ids []int64
	for i, g := range c.Groups {
		if i < len(c.Selected) && c.Selected[i] {
			ids = append(ids, g.ID)
		}
	}
	return ids
}

// DownloadCtx accumulates a conversation export request.
type DownloadCtx struct {
	StartDay time.Time
	From     time.Time
	EndDay   time.Time
	To       time.Time
	Groups   []database.Group
	Group    database.Group
}

// UnregisterCtx is carried by the unregistration confirmations.
type UnregisterCtx struct{}

func (MenuCtx) isContext()               {}
func (GroupListCtx) isContext()          {}
func (GroupActionCtx) isContext()        {}
func (StudentListCtx) isContext()        {}
func (StudentActionCtx) isContext()      {}
func (AnnouncementListCtx) isContext()   {}
func (AnnouncementActionCtx) isContext() {}
func (ComposeCtx) isContext()            {}
func (DownloadCtx) isContext()           {}
func (UnregisterCtx) isContext()         {}

// Session is one instructor's traversal of the menu. It is a value: every
// transition returns a new Session.
type Session struct {
	UserID     int64
	State      State
	Ctx        Context
	LastActive time.Time
}
