package database

import (
	"database/sql"
	"strings"
	"time"
)

// Role is a user's role.
type Role string

// Roles.
const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
)

// GroupKind is the Telegram chat type of a group.
type GroupKind string

// Group kinds.
const (
	KindGroup      GroupKind = "group"
	KindSupergroup GroupKind = "supergroup"
)

// EventKind classifies a group_events row.
type EventKind string

// Group event kinds.
const (
	EventJoin     EventKind = "join"
	EventLeave    EventKind = "leave"
	EventRegister EventKind = "register"
	EventBan      EventKind = "ban"
	EventReadmit  EventKind = "readmit"
	EventExpel    EventKind = "expel"
)

// ContentKind is the payload type of a content item.
type ContentKind string

// Content kinds.
const (
	ContentText      ContentKind = "text"
	ContentPhoto     ContentKind = "photo"
	ContentDocument  ContentKind = "document"
	ContentVideo     ContentKind = "video"
	ContentAudio     ContentKind = "audio"
	ContentVoice     ContentKind = "voice"
	ContentVideoNote ContentKind = "video_note"
	ContentSticker   ContentKind = "sticker"
	ContentAnimation ContentKind = "animation"
	ContentContact   ContentKind = "contact"
	ContentLocation  ContentKind = "location"
)

// IsMedia reports whether items of this kind carry a Telegram file.
func (k ContentKind) IsMedia() bool {
	switch k {
	case ContentPhoto, ContentDocument, ContentVideo, ContentAudio, ContentVoice,
		ContentVideoNote, ContentSticker, ContentAnimation:
		return true
	default:
		return false
	}
}

// User is a person known to the bot, student or instructor.
type User struct {
	ID           int64     `db:"id"`
	FirstName    string    `db:"first_name"`
	LastName     string    `db:"last_name"`
	Username     string    `db:"username"`
	Role         Role      `db:"role"`
	Valid        bool      `db:"valid"`
	RegisteredAt time.Time `db:"registered_at"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// IsInstructor reports whether the user holds the instructor role.
func (u User) IsInstructor() bool { return u.Role == RoleInstructor }

// Group is a Telegram group ("forum") managed by the bot. Valid is true only
// while the bot is an administrator of the chat.
type Group struct {
	ID        int64     `db:"id"`
	Title     string    `db:"title"`
	Kind      GroupKind `db:"kind"`
	Valid     bool      `db:"valid"`
	CreatedAt time.Time `db:"created_at"`
}

// Membership links a user to a group with its moderation status.
type Membership struct {
	GroupID  int64 `db:"group_id"`
	UserID   int64 `db:"user_id"`
	Banned   bool  `db:"banned"`
	Warnings int   `db:"warnings"`
}

// Member is a membership joined with its user row.
type Member struct {
	User
	Banned   bool `db:"banned"`
	Warnings int  `db:"warnings"`
}

// MemberFilter narrows ListMembers.
type MemberFilter struct {
	StudentsOnly bool
	ValidOnly    bool
}

// GroupEvent is an audit row for membership changes.
type GroupEvent struct {
	ID         int64     `db:"id"`
	Kind       EventKind `db:"kind"`
	UserID     int64     `db:"user_id"`
	GroupID    int64     `db:"group_id"`
	OccurredAt time.Time `db:"occurred_at"`
}

// Message is one logged group message, received from a user or sent by
// the bot (UserID invalid).
type Message struct {
	ID                   int64         `db:"id"`
	ChatMessageID        int           `db:"chat_message_id"`
	GroupID              int64         `db:"group_id"`
	UserID               sql.NullInt64 `db:"user_id"`
	Received             bool          `db:"received"`
	Edited               bool          `db:"edited"`
	ReplyToChatMessageID sql.NullInt64 `db:"reply_to_chat_message_id"`
	Academic             bool          `db:"academic"`
	SentAt               time.Time     `db:"sent_at"`
}

// LoggedMessage is a message with its sender and content, as read back for
// conversation export.
type LoggedMessage struct {
	Message
	SenderFirstName string `db:"sender_first_name"`
	SenderLastName  string `db:"sender_last_name"`
	SenderUsername  string `db:"sender_username"`
	Items           []ContentItem
}

// SenderName returns the display name of the sender, empty for the bot.
func (m LoggedMessage) SenderName() string {
	return strings.TrimSpace(m.SenderFirstName + " " + m.SenderLastName)
}

// ContentItem is one piece of content: text, media, contact or location.
// It belongs either to an announcement or to a logged message.
type ContentItem struct {
	ID             int64         `db:"id"`
	AnnouncementID sql.NullInt64 `db:"announcement_id"`
	MessageID      sql.NullInt64 `db:"message_id"`
	Position       int           `db:"position"`
	Kind           ContentKind   `db:"kind"`
	Text           string        `db:"text"`
	FileID         string        `db:"file_id"`
	FilePath       string        `db:"file_path"`
	MimeType       string        `db:"mime_type"`
	Phone          string        `db:"phone"`
	FirstName      string        `db:"first_name"`
	LastName       string        `db:"last_name"`
	Latitude       float64       `db:"latitude"`
	Longitude      float64       `db:"longitude"`
	CreatedAt      time.Time     `db:"created_at"`
}

// Announcement is a scheduled broadcast. ClaimedAt is set once by the
// firing path.
type Announcement struct {
	ID           int64        `db:"id"`
	DeliverAt    time.Time    `db:"deliver_at"`
	OriginatorID int64        `db:"originator_id"`
	CreatedAt    time.Time    `db:"created_at"`
	ClaimedAt    sql.NullTime `db:"claimed_at"`
}

// AnnouncementDetail is an announcement with everything needed to deliver
// it, in delivery order.
type AnnouncementDetail struct {
	Announcement
	Originator *User
	Targets    []Group
	Items      []ContentItem
}

// Concept is a question of the knowledge base with its answers.
type Concept struct {
	ID       int64  `db:"id"`
	Question string `db:"question"`
	Summary  string `db:"summary"`
	Answers  []string
}
