package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/edgard/aulabot/internal/errs"
)

var (
	// ErrAnnouncementNotFound is returned when cancelling an announcement that
	// does not exist.
	ErrAnnouncementNotFound = errors.New("announcement not found")
	// ErrAnnouncementClaimed is returned when cancelling an announcement whose
	// delivery has already started.
	ErrAnnouncementClaimed = errors.New("announcement already claimed")
)

// Store defines the persistence operations. Every call is serialised by a
// single process-wide lock; read-then-write sequences run in one
// transaction under that lock.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetUser returns nil, nil when the user is unknown.
	GetUser(ctx context.Context, userID int64) (*User, error)
	AddUser(ctx context.Context, user *User) error
	EditUser(ctx context.Context, user *User) error

	// GetGroup returns nil, nil when the group is unknown.
	GetGroup(ctx context.Context, groupID int64) (*Group, error)
	AddGroup(ctx context.Context, group *Group) error
	EditGroup(ctx context.Context, group *Group) error
	ListGroups(ctx context.Context, validOnly bool) ([]Group, error)
	// InvalidateGroup marks the group invalid, drops all of its memberships
	// and invalidates students left in no group. It returns the ids of the
	// removed members.
	InvalidateGroup(ctx context.Context, groupID int64) ([]int64, error)

	ListMembers(ctx context.Context, groupID int64, filter MemberFilter) ([]Member, error)
	// GetMembership returns nil, nil when there is no membership.
	GetMembership(ctx context.Context, groupID, userID int64) (*Membership, error)
	// AddMembership creates a clean membership and reports whether it was
	// created. An existing membership is left untouched.
	AddMembership(ctx context.Context, groupID, userID int64) (bool, error)
	EditMembership(ctx context.Context, membership *Membership) error
	// RemoveMembership deletes the membership, logs an event of the given
	// kind and invalidates the user if it is a student left in no group.
	RemoveMembership(ctx context.Context, groupID, userID int64, kind EventKind, at time.Time) (bool, error)
	// IncrementWarnings adds one warning and returns the new count.
	IncrementWarnings(ctx context.Context, groupID, userID int64) (int, error)
	// BanMember sets banned, resets warnings and logs a ban event.
	BanMember(ctx context.Context, groupID, userID int64, at time.Time) error
	// ReadmitMember clears banned, resets warnings and logs a readmit event.
	ReadmitMember(ctx context.Context, groupID, userID int64, at time.Time) error
	// ResetMemberStatus clears banned and warnings without logging.
	ResetMemberStatus(ctx context.Context, groupID, userID int64) error
	ExistsUserInAnyGroup(ctx context.Context, userID int64) (bool, error)
	AddGroupEvent(ctx context.Context, event *GroupEvent) error

	AddAnnouncement(ctx context.Context, deliverAt time.Time, originatorID int64, targetIDs []int64) (int64, error)
	AddContentItem(ctx context.Context, item *ContentItem) error
	// ListAnnouncements returns unclaimed announcements by delivery time.
	ListAnnouncements(ctx context.Context) ([]Announcement, error)
	// GetAnnouncement returns nil, nil when the announcement is unknown.
	GetAnnouncement(ctx context.Context, id int64) (*Announcement, error)
	ListAnnouncementTargets(ctx context.Context, id int64) ([]Group, error)
	ListContentItems(ctx context.Context, announcementID int64) ([]ContentItem, error)
	// ClaimAnnouncement atomically marks an unclaimed announcement as being
	// delivered. It reports false when the announcement is missing or
	// already claimed.
	ClaimAnnouncement(ctx context.Context, id int64, at time.Time) (bool, error)
	// ReleaseAnnouncement clears the claim of an announcement whose delivery
	// could not start.
	ReleaseAnnouncement(ctx context.Context, id int64) error
	// RemoveAnnouncement deletes the announcement and returns the archived
	// media paths of its items.
	RemoveAnnouncement(ctx context.Context, id int64) ([]string, error)
	// CancelAnnouncement deletes an unclaimed announcement. It returns
	// ErrAnnouncementNotFound or ErrAnnouncementClaimed otherwise.
	CancelAnnouncement(ctx context.Context, id int64) ([]string, error)

	// AddMessage logs a message with its content items.
	AddMessage(ctx context.Context, message *Message, items []ContentItem) error
	CountGroupMessages(ctx context.Context, groupID int64, from, to time.Time) (int, error)
	ListGroupMessages(ctx context.Context, groupID int64, from, to time.Time, offset, limit int) ([]LoggedMessage, error)

	ReplaceConcepts(ctx context.Context, concepts []Concept) error
	ListConcepts(ctx context.Context) ([]Concept, error)

	// RunSQLMaintenance optimises and vacuums the database.
	RunSQLMaintenance(ctx context.Context) error
}

type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore creates a Store backed by sqlx.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// withTx runs fn in a transaction. The caller must hold s.mu.
func (s *sqlxStore) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction", "op", op, "error", err)
		return errs.NewDatabaseError("failed to begin transaction for "+op, err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "op", op, "error", rollbackErr)
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "op", op, "error", err)
		return errs.NewDatabaseError("failed to commit transaction for "+op, err)
	}
	tx = nil
	return nil
}

func (s *sqlxStore) fail(ctx context.Context, msg string, err error, args ...any) error {
	s.logger.ErrorContext(ctx, msg, append(args, "error", err)...)
	return errs.NewDatabaseError(msg, err)
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.PingContext(ctx)
}

// --- users ---

func (s *sqlxStore) GetUser(ctx context.Context, userID int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var user User
	err := s.db.GetContext(ctx, &user,
		`SELECT id, first_name, last_name, username, role, valid, registered_at FROM users WHERE id = ?`, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, s.fail(ctx, "failed to get user", err, "user_id", userID)
	}
	return &user, nil
}

func (s *sqlxStore) AddUser(ctx context.Context, user *User) error {
	if user == nil || user.ID == 0 {
		return errs.NewValidationError("user must have a non-zero id", nil)
	}
	if user.Role == "" {
		user.Role = RoleStudent
	}
	if user.RegisteredAt.IsZero() {
		user.RegisteredAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (id, first_name, last_name, username, role, valid, registered_at)
		VALUES (:id, :first_name, :last_name, :username, :role, :valid, :registered_at)`, user)
	if err != nil {
		return s.fail(ctx, "failed to add user", err, "user_id", user.ID)
	}
	s.logger.DebugContext(ctx, "User added", "user_id", user.ID, "role", user.Role)
	return nil
}

func (s *sqlxStore) EditUser(ctx context.Context, user *User) error {
	if user == nil || user.ID == 0 {
		return errs.NewValidationError("user must have a non-zero id", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.NamedExecContext(ctx, `
		UPDATE users SET first_name = :first_name, last_name = :last_name, username = :username,
			role = :role, valid = :valid
		WHERE id = :id`, user)
	if err != nil {
		return s.fail(ctx, "failed to edit user", err, "user_id", user.ID)
	}
	return nil
}

// --- groups ---

func (s *sqlxStore) GetGroup(ctx context.Context, groupID int64) (*Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var group Group
	err := s.db.GetContext(ctx, &group,
		`SELECT id, title, kind, valid, created_at FROM forums WHERE id = ?`, groupID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, s.fail(ctx, "failed to get group", err, "group_id", groupID)
	}
	return &group, nil
}

func (s *sqlxStore) AddGroup(ctx context.Context, group *Group) error {
	if group == nil || group.ID == 0 {
		return errs.NewValidationError("group must have a non-zero id", nil)
	}
	if group.Kind == "" {
		group.Kind = KindGroup
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO forums (id, title, kind, valid, created_at)
		VALUES (:id, :title, :kind, :valid, :created_at)`, group)
	if err != nil {
		return s.fail(ctx, "failed to add group", err, "group_id", group.ID)
	}
	s.logger.DebugContext(ctx, "Group added", "group_id", group.ID, "valid", group.Valid)
	return nil
}

func (s *sqlxStore) EditGroup(ctx context.Context, group *Group) error {
	if group == nil || group.ID == 0 {
		return errs.NewValidationError("group must have a non-zero id", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.NamedExecContext(ctx,
		`UPDATE forums SET title = :title, kind = :kind, valid = :valid WHERE id = :id`, group)
	if err != nil {
		return s.fail(ctx, "failed to edit group", err, "group_id", group.ID)
	}
	return nil
}

func (s *sqlxStore) ListGroups(ctx context.Context, validOnly bool) ([]Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, title, kind, valid, created_at FROM forums`
	if validOnly {
		query += ` WHERE valid = 1`
	}
	query += ` ORDER BY title, id`

	var groups []Group
	if err := s.db.SelectContext(ctx, &groups, query); err != nil {
		return nil, s.fail(ctx, "failed to list groups", err)
	}
	return groups, nil
}

func (s *sqlxStore) InvalidateGroup(ctx context.Context, groupID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []int64
	err := s.withTx(ctx, "invalidate group", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE forums SET valid = 0 WHERE id = ?`, groupID); err != nil {
			return s.fail(ctx, "failed to invalidate group", err, "group_id", groupID)
		}
		if err := tx.SelectContext(ctx, &removed,
			`SELECT user_id FROM memberships WHERE group_id = ? ORDER BY user_id`, groupID); err != nil {
			return s.fail(ctx, "failed to list group memberships", err, "group_id", groupID)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memberships WHERE group_id = ?`, groupID); err != nil {
			return s.fail(ctx, "failed to drop group memberships", err, "group_id", groupID)
		}
		for _, userID := range removed {
			if _, err := invalidateOrphan(ctx, tx, userID); err != nil {
				return s.fail(ctx, "failed to invalidate orphan user", err, "user_id", userID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Group invalidated", "group_id", groupID, "members_removed", len(removed))
	return removed, nil
}

// invalidateOrphan marks a student invalid when it belongs to no group.
func invalidateOrphan(ctx context.Context, tx *sqlx.Tx, userID int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE users SET valid = 0
		WHERE id = ? AND role = 'student' AND valid = 1
			AND NOT EXISTS (SELECT 1 FROM memberships WHERE user_id = ?)`, userID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- memberships ---

func (s *sqlxStore) ListMembers(ctx context.Context, groupID int64, filter MemberFilter) ([]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		SELECT u.id, u.first_name, u.last_name, u.username, u.role, u.valid, u.registered_at,
			m.banned, m.warnings
		FROM memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.group_id = ?`
	if filter.StudentsOnly {
		query += ` AND u.role = 'student'`
	}
	if filter.ValidOnly {
		query += ` AND u.valid = 1`
	}
	query += ` ORDER BY u.first_name, u.last_name, u.id`

	var members []Member
	if err := s.db.SelectContext(ctx, &members, query, groupID); err != nil {
		return nil, s.fail(ctx, "failed to list members", err, "group_id", groupID)
	}
	return members, nil
}

func (s *sqlxStore) GetMembership(ctx context.Context, groupID, userID int64) (*Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var m Membership
	err := s.db.GetContext(ctx, &m,
		`SELECT group_id, user_id, banned, warnings FROM memberships WHERE group_id = ? AND user_id = ?`,
		groupID, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, s.fail(ctx, "failed to get membership", err, "group_id", groupID, "user_id", userID)
	}
	return &m, nil
}

func (s *sqlxStore) AddMembership(ctx context.Context, groupID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO memberships (group_id, user_id, banned, warnings) VALUES (?, ?, 0, 0)`,
		groupID, userID)
	if err != nil {
		return false, s.fail(ctx, "failed to add membership", err, "group_id", groupID, "user_id", userID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.fail(ctx, "failed to read affected rows", err)
	}
	return n > 0, nil
}

func (s *sqlxStore) EditMembership(ctx context.Context, membership *Membership) error {
	if membership == nil {
		return errs.NewValidationError("membership is nil", nil)
	}
	if membership.Warnings < 0 {
		return errs.NewValidationError("warnings cannot be negative", nil)
	}
	if membership.Banned {
		membership.Warnings = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.NamedExecContext(ctx, `
		UPDATE memberships SET banned = :banned, warnings = :warnings
		WHERE group_id = :group_id AND user_id = :user_id`, membership)
	if err != nil {
		return s.fail(ctx, "failed to edit membership", err,
			"group_id", membership.GroupID, "user_id", membership.UserID)
	}
	return nil
}

func (s *sqlxStore) RemoveMembership(ctx context.Context, groupID, userID int64, kind EventKind, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var invalidated bool
	err := s.withTx(ctx, "remove membership", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM memberships WHERE group_id = ? AND user_id = ?`, groupID, userID); err != nil {
			return s.fail(ctx, "failed to remove membership", err, "group_id", groupID, "user_id", userID)
		}
		if err := insertEvent(ctx, tx, kind, userID, groupID, at); err != nil {
			return s.fail(ctx, "failed to log group event", err, "kind", kind)
		}
		var err error
		if invalidated, err = invalidateOrphan(ctx, tx, userID); err != nil {
			return s.fail(ctx, "failed to invalidate orphan user", err, "user_id", userID)
		}
		return nil
	})
	return invalidated, err
}

func (s *sqlxStore) IncrementWarnings(ctx context.Context, groupID, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var warnings int
	err := s.withTx(ctx, "increment warnings", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO memberships (group_id, user_id, banned, warnings) VALUES (?, ?, 0, 0)`,
			groupID, userID); err != nil {
			return s.fail(ctx, "failed to ensure membership", err, "group_id", groupID, "user_id", userID)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE memberships SET warnings = warnings + 1 WHERE group_id = ? AND user_id = ?`,
			groupID, userID); err != nil {
			return s.fail(ctx, "failed to increment warnings", err, "group_id", groupID, "user_id", userID)
		}
		if err := tx.GetContext(ctx, &warnings,
			`SELECT warnings FROM memberships WHERE group_id = ? AND user_id = ?`, groupID, userID); err != nil {
			return s.fail(ctx, "failed to read warnings", err, "group_id", groupID, "user_id", userID)
		}
		return nil
	})
	return warnings, err
}

func (s *sqlxStore) setStatus(ctx context.Context, op string, groupID, userID int64, banned bool, kind EventKind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, op, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE memberships SET banned = ?, warnings = 0 WHERE group_id = ? AND user_id = ?`,
			banned, groupID, userID); err != nil {
			return s.fail(ctx, "failed to "+op, err, "group_id", groupID, "user_id", userID)
		}
		if kind == "" {
			return nil
		}
		if err := insertEvent(ctx, tx, kind, userID, groupID, at); err != nil {
			return s.fail(ctx, "failed to log group event", err, "kind", kind)
		}
		return nil
	})
}

func (s *sqlxStore) BanMember(ctx context.Context, groupID, userID int64, at time.Time) error {
	return s.setStatus(ctx, "ban member", groupID, userID, true, EventBan, at)
}

func (s *sqlxStore) ReadmitMember(ctx context.Context, groupID, userID int64, at time.Time) error {
	return s.setStatus(ctx, "readmit member", groupID, userID, false, EventReadmit, at)
}

func (s *sqlxStore) ResetMemberStatus(ctx context.Context, groupID, userID int64) error {
	return s.setStatus(ctx, "reset member status", groupID, userID, false, "", time.Time{})
}

func (s *sqlxStore) ExistsUserInAnyGroup(ctx context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM memberships WHERE user_id = ?)`, userID)
	if err != nil {
		return false, s.fail(ctx, "failed to check user memberships", err, "user_id", userID)
	}
	return exists, nil
}

func (s *sqlxStore) AddGroupEvent(ctx context.Context, event *GroupEvent) error {
	if event == nil || event.Kind == "" {
		return errs.NewValidationError("group event must have a kind", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "add group event", func(tx *sqlx.Tx) error {
		if err := insertEvent(ctx, tx, event.Kind, event.UserID, event.GroupID, event.OccurredAt); err != nil {
			return s.fail(ctx, "failed to log group event", err, "kind", event.Kind)
		}
		return nil
	})
}

func insertEvent(ctx context.Context, tx *sqlx.Tx, kind EventKind, userID, groupID int64, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO group_events (kind, user_id, group_id, occurred_at) VALUES (?, ?, ?, ?)`,
		kind, userID, groupID, at.UTC())
	return err
}

// --- announcements ---

func (s *sqlxStore) AddAnnouncement(ctx context.Context, deliverAt time.Time, originatorID int64, targetIDs []int64) (int64, error) {
	if deliverAt.IsZero() || originatorID == 0 || len(targetIDs) == 0 {
		return 0, errs.NewValidationError("announcement needs a delivery time, an originator and targets", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	err := s.withTx(ctx, "add announcement", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO announcements (deliver_at, originator_id, created_at) VALUES (?, ?, ?)`,
			deliverAt.UTC(), originatorID, time.Now().UTC())
		if err != nil {
			return s.fail(ctx, "failed to add announcement", err, "originator_id", originatorID)
		}
		if id, err = res.LastInsertId(); err != nil {
			return s.fail(ctx, "failed to read announcement id", err)
		}
		for pos, groupID := range targetIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO announcement_targets (announcement_id, group_id, position) VALUES (?, ?, ?)`,
				id, groupID, pos); err != nil {
				return s.fail(ctx, "failed to add announcement target", err, "group_id", groupID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.DebugContext(ctx, "Announcement added", "announcement_id", id, "targets", len(targetIDs))
	return id, nil
}

const contentItemColumns = `id, announcement_id, message_id, position, kind, text, file_id, file_path,
	mime_type, phone, first_name, last_name, latitude, longitude, created_at`

const insertContentItem = `
	INSERT INTO content_items (announcement_id, message_id, position, kind, text, file_id, file_path,
		mime_type, phone, first_name, last_name, latitude, longitude, created_at)
	VALUES (:announcement_id, :message_id, :position, :kind, :text, :file_id, :file_path,
		:mime_type, :phone, :first_name, :last_name, :latitude, :longitude, :created_at)`

func (s *sqlxStore) AddContentItem(ctx context.Context, item *ContentItem) error {
	if item == nil || item.Kind == "" {
		return errs.NewValidationError("content item must have a kind", nil)
	}
	if !item.AnnouncementID.Valid && !item.MessageID.Valid {
		return errs.NewValidationError("content item must belong to an announcement or a message", nil)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.NamedExecContext(ctx, insertContentItem, item)
	if err != nil {
		return s.fail(ctx, "failed to add content item", err, "kind", item.Kind)
	}
	if id, err := res.LastInsertId(); err == nil {
		item.ID = id
	}
	return nil
}

func (s *sqlxStore) ListAnnouncements(ctx context.Context) ([]Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []Announcement
	err := s.db.SelectContext(ctx, &list, `
		SELECT id, deliver_at, originator_id, created_at, claimed_at
		FROM announcements WHERE claimed_at IS NULL ORDER BY deliver_at, id`)
	if err != nil {
		return nil, s.fail(ctx, "failed to list announcements", err)
	}
	return list, nil
}

func (s *sqlxStore) GetAnnouncement(ctx context.Context, id int64) (*Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var a Announcement
	err := s.db.GetContext(ctx, &a, `
		SELECT id, deliver_at, originator_id, created_at, claimed_at FROM announcements WHERE id = ?`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, s.fail(ctx, "failed to get announcement", err, "announcement_id", id)
	}
	return &a, nil
}

func (s *sqlxStore) ListAnnouncementTargets(ctx context.Context, id int64) ([]Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var groups []Group
	err := s.db.SelectContext(ctx, &groups, `
		SELECT f.id, f.title, f.kind, f.valid, f.created_at
		FROM announcement_targets t
		JOIN forums f ON f.id = t.group_id
		WHERE t.announcement_id = ?
		ORDER BY t.position`, id)
	if err != nil {
		return nil, s.fail(ctx, "failed to list announcement targets", err, "announcement_id", id)
	}
	return groups, nil
}

func (s *sqlxStore) ListContentItems(ctx context.Context, announcementID int64) ([]ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []ContentItem
	err := s.db.SelectContext(ctx, &items,
		`SELECT `+contentItemColumns+` FROM content_items WHERE announcement_id = ? ORDER BY position, id`,
		announcementID)
	if err != nil {
		return nil, s.fail(ctx, "failed to list content items", err, "announcement_id", announcementID)
	}
	return items, nil
}

func (s *sqlxStore) ClaimAnnouncement(ctx context.Context, id int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE announcements SET claimed_at = ? WHERE id = ? AND claimed_at IS NULL`, at.UTC(), id)
	if err != nil {
		return false, s.fail(ctx, "failed to claim announcement", err, "announcement_id", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, s.fail(ctx, "failed to read affected rows", err)
	}
	return n == 1, nil
}

func (s *sqlxStore) ReleaseAnnouncement(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `UPDATE announcements SET claimed_at = NULL WHERE id = ?`, id); err != nil {
		return s.fail(ctx, "failed to release announcement", err, "announcement_id", id)
	}
	return nil
}

func (s *sqlxStore) RemoveAnnouncement(ctx context.Context, id int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var paths []string
	err := s.withTx(ctx, "remove announcement", func(tx *sqlx.Tx) error {
		var err error
		paths, err = deleteAnnouncement(ctx, tx, id)
		if err != nil {
			return s.fail(ctx, "failed to remove announcement", err, "announcement_id", id)
		}
		return nil
	})
	return paths, err
}

func (s *sqlxStore) CancelAnnouncement(ctx context.Context, id int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var paths []string
	err := s.withTx(ctx, "cancel announcement", func(tx *sqlx.Tx) error {
		var claimed sql.NullTime
		err := tx.GetContext(ctx, &claimed, `SELECT claimed_at FROM announcements WHERE id = ?`, id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return ErrAnnouncementNotFound
		case err != nil:
			return s.fail(ctx, "failed to read announcement", err, "announcement_id", id)
		case claimed.Valid:
			return ErrAnnouncementClaimed
		}
		if paths, err = deleteAnnouncement(ctx, tx, id); err != nil {
			return s.fail(ctx, "failed to cancel announcement", err, "announcement_id", id)
		}
		return nil
	})
	return paths, err
}

func deleteAnnouncement(ctx context.Context, tx *sqlx.Tx, id int64) ([]string, error) {
	var paths []string
	if err := tx.SelectContext(ctx, &paths, `
		SELECT file_path FROM content_items
		WHERE announcement_id = ? AND file_path <> '' ORDER BY position`, id); err != nil {
		return nil, err
	}
	for _, q := range []string{
		`DELETE FROM content_items WHERE announcement_id = ?`,
		`DELETE FROM announcement_targets WHERE announcement_id = ?`,
		`DELETE FROM announcements WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// --- message log ---

func (s *sqlxStore) AddMessage(ctx context.Context, message *Message, items []ContentItem) error {
	if message == nil || message.GroupID == 0 {
		return errs.NewValidationError("message must belong to a group", nil)
	}
	if message.SentAt.IsZero() {
		message.SentAt = time.Now()
	}
	message.SentAt = message.SentAt.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "add message", func(tx *sqlx.Tx) error {
		res, err := tx.NamedExecContext(ctx, `
			INSERT INTO messages (chat_message_id, group_id, user_id, received, edited,
				reply_to_chat_message_id, academic, sent_at)
			VALUES (:chat_message_id, :group_id, :user_id, :received, :edited,
				:reply_to_chat_message_id, :academic, :sent_at)`, message)
		if err != nil {
			return s.fail(ctx, "failed to add message", err, "group_id", message.GroupID)
		}
		if message.ID, err = res.LastInsertId(); err != nil {
			return s.fail(ctx, "failed to read message id", err)
		}
		for i := range items {
			item := items[i]
			item.MessageID = sql.NullInt64{Int64: message.ID, Valid: true}
			item.Position = i
			if item.CreatedAt.IsZero() {
				item.CreatedAt = message.SentAt
			}
			if _, err := tx.NamedExecContext(ctx, insertContentItem, &item); err != nil {
				return s.fail(ctx, "failed to add message content", err, "kind", item.Kind)
			}
		}
		return nil
	})
}

func (s *sqlxStore) CountGroupMessages(ctx context.Context, groupID int64, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM messages WHERE group_id = ? AND sent_at >= ? AND sent_at < ?`,
		groupID, from.UTC(), to.UTC())
	if err != nil {
		return 0, s.fail(ctx, "failed to count messages", err, "group_id", groupID)
	}
	return n, nil
}

func (s *sqlxStore) ListGroupMessages(ctx context.Context, groupID int64, from, to time.Time, offset, limit int) ([]LoggedMessage, error) {
	if limit <= 0 {
		return nil, errs.NewValidationError(fmt.Sprintf("invalid limit %d", limit), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var msgs []LoggedMessage
	err := s.db.SelectContext(ctx, &msgs, `
		SELECT m.id, m.chat_message_id, m.group_id, m.user_id, m.received, m.edited,
			m.reply_to_chat_message_id, m.academic, m.sent_at,
			COALESCE(u.first_name, '') AS sender_first_name,
			COALESCE(u.last_name, '') AS sender_last_name,
			COALESCE(u.username, '') AS sender_username
		FROM messages m
		LEFT JOIN users u ON u.id = m.user_id
		WHERE m.group_id = ? AND m.sent_at >= ? AND m.sent_at < ?
		ORDER BY m.sent_at, m.id
		LIMIT ? OFFSET ?`, groupID, from.UTC(), to.UTC(), limit, offset)
	if err != nil {
		return nil, s.fail(ctx, "failed to list messages", err, "group_id", groupID)
	}
	if len(msgs) == 0 {
		return msgs, nil
	}

	ids := make([]int64, len(msgs))
	index := make(map[int64]int, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		index[m.ID] = i
	}
	query, args, err := sqlx.In(
		`SELECT `+contentItemColumns+` FROM content_items WHERE message_id IN (?) ORDER BY message_id, position`, ids)
	if err != nil {
		return nil, s.fail(ctx, "failed to build content query", err)
	}
	var items []ContentItem
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(query), args...); err != nil {
		return nil, s.fail(ctx, "failed to list message content", err, "group_id", groupID)
	}
	for _, item := range items {
		if i, ok := index[item.MessageID.Int64]; ok {
			msgs[i].Items = append(msgs[i].Items, item)
		}
	}
	return msgs, nil
}

// --- concepts ---

func (s *sqlxStore) ReplaceConcepts(ctx context.Context, concepts []Concept) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, "replace concepts", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM concept_answers`); err != nil {
			return s.fail(ctx, "failed to clear concept answers", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM concepts`); err != nil {
			return s.fail(ctx, "failed to clear concepts", err)
		}
		for _, c := range concepts {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO concepts (question, summary) VALUES (?, ?)`, c.Question, c.Summary)
			if err != nil {
				return s.fail(ctx, "failed to add concept", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return s.fail(ctx, "failed to read concept id", err)
			}
			for pos, answer := range c.Answers {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO concept_answers (concept_id, position, text) VALUES (?, ?, ?)`,
					id, pos, answer); err != nil {
					return s.fail(ctx, "failed to add concept answer", err)
				}
			}
		}
		return nil
	})
}

func (s *sqlxStore) ListConcepts(ctx context.Context) ([]Concept, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var concepts []Concept
	if err := s.db.SelectContext(ctx, &concepts,
		`SELECT id, question, summary FROM concepts ORDER BY id`); err != nil {
		return nil, s.fail(ctx, "failed to list concepts", err)
	}

	var answers []struct {
		ConceptID int64  `db:"concept_id"`
		Text      string `db:"text"`
	}
	if err := s.db.SelectContext(ctx, &answers,
		`SELECT concept_id, text FROM concept_answers ORDER BY concept_id, position`); err != nil {
		return nil, s.fail(ctx, "failed to list concept answers", err)
	}

	index := make(map[int64]int, len(concepts))
	for i, c := range concepts {
		index[c.ID] = i
	}
	for _, a := range answers {
		if i, ok := index[a.ConceptID]; ok {
			concepts[i].Answers = append(concepts[i].Answers, a.Text)
		}
	}
	return concepts, nil
}

// --- maintenance ---

// RunSQLMaintenance runs PRAGMA optimize and VACUUM. VACUUM must run outside
// a transaction.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.InfoContext(ctx, "Starting database maintenance")
	start := time.Now()

	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize;"); err != nil {
		s.logger.WarnContext(ctx, "PRAGMA optimize failed", "error", err)
	}

	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM timed out or was cancelled", "error", err)
		return errs.NewDatabaseError("database maintenance timed out", err)
	case err != nil:
		return s.fail(ctx, "failed to execute VACUUM", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance completed", "duration", time.Since(start))
	return nil
}
