package session

import (
	"time"

	"github.com/edgard/aulabot/internal/database"
)

// EventKind classifies inbound events.
type EventKind int

// Event kinds.
const (
	// EventMessage is a private message. Text holds its text or caption and
	// Item its content when the message carries anything storable.
	EventMessage EventKind = iota
	// EventCallback is a button press; Text holds the callback data.
	EventCallback
	// EventLoaded delivers the data requested by a Load effect.
	EventLoaded
)

// Event is one input of the state machine.
type Event struct {
	Kind      EventKind
	Text      string
	MessageID int
	Edited    bool
	Item      *database.ContentItem
	Now       time.Time

	// set on EventLoaded
	Groups        []database.Group
	Students      []database.Member
	Announcements []database.Announcement
}

// Message builds an EventMessage.
func Message(text string, messageID int, item *database.ContentItem, now time.Time) Event {
	return Event{Kind: EventMessage, Text: text, MessageID: messageID, Item: item, Now: now}
}

// Callback builds an EventCallback.
func Callback(data string, now time.Time) Event {
	return Event{Kind: EventCallback, Text: data, Now: now}
}

// LoadKind names the snapshot a Load effect asks for.
type LoadKind int

// Snapshot requests.
const (
	// LoadValidGroups lists groups where the bot is administrator.
	LoadValidGroups LoadKind = iota
	// LoadAllGroups lists every known group, including deleted ones.
	LoadAllGroups
	// LoadStudents lists the valid students of GroupID.
	LoadStudents
	// LoadAnnouncements lists pending announcements.
	LoadAnnouncements
)

// Effect is a side effect requested by a transition.
type Effect interface {
	isEffect()
}

// Load asks the caller to read a snapshot and feed it back as an
// EventLoaded event.
type Load struct {
	What    LoadKind
	GroupID int64
}

// Notice asks the caller to send a plain message.
type Notice struct {
	Text string
}

// InviteLink asks for the invite link of a group to be exported and sent.
type InviteLink struct{ Group database.Group }

// DeleteGroup expels every member of the group and marks it invalid.
type DeleteGroup struct{ Group database.Group }

// BanStudent bans a student from a group.
type BanStudent struct {
	Group   database.Group
	Student database.Member
}

// ReadmitStudent lifts a ban and sends the student an invite link.
type ReadmitStudent struct {
	Group   database.Group
	Student database.Member
}

// ExpelStudent removes a student from a group permanently.
type ExpelStudent struct {
	Group   database.Group
	Student database.Member
}

// ShowAnnouncement sends the content of a pending announcement.
type ShowAnnouncement struct{ ID int64 }

// CancelAnnouncement deletes a pending announcement and its timer.
type CancelAnnouncement struct{ ID int64 }

// ScheduleAnnouncement persists a draft and registers its timer.
type ScheduleAnnouncement struct {
	Items    []database.ContentItem
	GroupIDs []int64
	At       time.Time
}

// ExportConversation compiles the messages of a group within [From, To)
// and sends them to the instructor.
type ExportConversation struct {
	Group    database.Group
	From, To time.Time
}

// Unregister demotes the instructor to student.
type Unregister struct{}

func (Load) isEffect()                 {}
func (Notice) isEffect()               {}
func (InviteLink) isEffect()           {}
func (DeleteGroup) isEffect()          {}
func (BanStudent) isEffect()           {}
func (ReadmitStudent) isEffect()       {}
func (ExpelStudent) isEffect()         {}
func (ShowAnnouncement) isEffect()     {}
func (CancelAnnouncement) isEffect()   {}
func (ScheduleAnnouncement) isEffect() {}
func (ExportConversation) isEffect()   {}
func (Unregister) isEffect()           {}

// Outcome is the result of a transition.
type Outcome struct {
	Session Session
	// Terminal means the session is over and must be cleared.
	Terminal bool
	// Fallback is set when the event was not accepted by the state.
	Fallback bool
	// EditPrompt asks the caller to update the previous prompt in place
	// rather than send a new one.
	EditPrompt bool
	Effects    []Effect
	// Err is ErrMissingContext for an irrecoverable session.
	Err error
}

// Button is one inline button of a prompt.
type Button struct {
	Text string
	Data string
}

// Prompt is the message shown for a state.
type Prompt struct {
	Text     string
	Keyboard [][]Button
}
