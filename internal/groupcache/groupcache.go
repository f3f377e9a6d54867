// Package groupcache keeps an in-memory snapshot of every group the bot sees
// and of its members, refreshing them against the store and Telegram on a
// cooldown instead of on every update.
package groupcache

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/edgard/aulabot/internal/database"
)

// AdminProbe reports whether the bot holds administrative rights in a chat.
type AdminProbe interface {
	IsAdmin(ctx context.Context, chatID int64) (bool, error)
}

type memberEntry struct {
	member    database.Member
	refreshed time.Time
}

type groupEntry struct {
	group     database.Group
	refreshed time.Time
	members   map[int64]*memberEntry
}

// Cache is keyed by chat id. It is safe for concurrent use; every method
// returns copies.
type Cache struct {
	clock    clockwork.Clock
	cooldown time.Duration
	store    database.Store
	probe    AdminProbe
	logger   *slog.Logger

	mu     sync.Mutex
	groups map[int64]*groupEntry
}

// New creates an empty Cache.
func New(clock clockwork.Clock, cooldown time.Duration, store database.Store, probe AdminProbe, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Cache{
		clock:    clock,
		cooldown: cooldown,
		store:    store,
		probe:    probe,
		logger:   logger.With("component", "group_cache"),
		groups:   make(map[int64]*groupEntry),
	}
}

// Group returns the cached group for chat, loading it on first reference
// and refreshing it once the cooldown has elapsed. chat carries the title
// and kind currently reported by Telegram.
func (c *Cache) Group(ctx context.Context, chat database.Group) (database.Group, error) {
	c.mu.Lock()
	_, ok := c.groups[chat.ID]
	c.mu.Unlock()

	if !ok {
		return c.Load(ctx, chat)
	}
	return c.Refresh(ctx, chat)
}

// Load reads the group and its members from the store and stamps them. An
// unknown group is registered invalid and validated if the bot is admin.
func (c *Cache) Load(ctx context.Context, chat database.Group) (database.Group, error) {
	log := c.logger.With("group_id", chat.ID)

	group, err := c.store.GetGroup(ctx, chat.ID)
	if err != nil {
		return database.Group{}, err
	}
	if group == nil {
		group = &database.Group{ID: chat.ID, Title: chat.Title, Kind: chat.Kind, CreatedAt: c.clock.Now()}
		if err := c.store.AddGroup(ctx, group); err != nil {
			return database.Group{}, err
		}
		log.InfoContext(ctx, "Registered new group", "title", chat.Title)

		if c.isAdmin(ctx, chat.ID) {
			group.Valid = true
			if err := c.store.EditGroup(ctx, group); err != nil {
				log.ErrorContext(ctx, "Failed to validate new group", "error", err)
				group.Valid = false
			}
		}
	}

	members, err := c.store.ListMembers(ctx, chat.ID, database.MemberFilter{})
	if err != nil {
		return database.Group{}, err
	}

	now := c.clock.Now()
	entry := &groupEntry{group: *group, refreshed: now, members: make(map[int64]*memberEntry, len(members))}
	for _, m := range members {
		entry.members[m.ID] = &memberEntry{member: m, refreshed: now}
	}

	c.mu.Lock()
	c.groups[chat.ID] = entry
	c.mu.Unlock()

	log.DebugContext(ctx, "Loaded group context", "members", len(members), "valid", group.Valid)
	return *group, nil
}

// Refresh re-derives validity and persists title, kind or validity changes
// once the cooldown has elapsed. A failed write leaves the cache unchanged.
func (c *Cache) Refresh(ctx context.Context, chat database.Group) (database.Group, error) {
	c.mu.Lock()
	entry, ok := c.groups[chat.ID]
	if !ok {
		c.mu.Unlock()
		return c.Load(ctx, chat)
	}
	current := entry.group
	stale := c.clock.Since(entry.refreshed) > c.cooldown
	c.mu.Unlock()

	if !stale {
		return current, nil
	}

	log := c.logger.With("group_id", chat.ID)
	updated := current
	if chat.Title != "" {
		updated.Title = chat.Title
	}
	if chat.Kind != "" {
		updated.Kind = chat.Kind
	}
	if admin, err := c.probe.IsAdmin(ctx, chat.ID); err != nil {
		log.WarnContext(ctx, "Failed to check admin rights, keeping validity", "error", err)
	} else {
		updated.Valid = admin
	}

	if updated != current {
		if err := c.store.EditGroup(ctx, &updated); err != nil {
			log.ErrorContext(ctx, "Failed to persist group changes, cache unchanged", "error", err)
			return current, nil
		}
		log.InfoContext(ctx, "Group changed", "title", updated.Title, "kind", updated.Kind, "valid", updated.Valid)
	}

	members, err := c.store.ListMembers(ctx, chat.ID, database.MemberFilter{})
	if err != nil {
		log.ErrorContext(ctx, "Failed to reload members, keeping cached members", "error", err)
	}

	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok = c.groups[chat.ID]
	if !ok {
		return updated, nil
	}
	entry.group = updated
	entry.refreshed = now
	if err == nil {
		fresh := make(map[int64]*memberEntry, len(members))
		for _, m := range members {
			stamp := now
			if old, ok := entry.members[m.ID]; ok {
				stamp = old.refreshed
			}
			fresh[m.ID] = &memberEntry{member: m, refreshed: stamp}
		}
		entry.members = fresh
	}
	return updated, nil
}

// Member returns the cached member for user in group, registering users
// seen for the first time and refreshing identity changes once the
// member's own cooldown has elapsed.
func (c *Cache) Member(ctx context.Context, groupID int64, user database.User) (database.Member, error) {
	c.mu.Lock()
	entry, ok := c.groups[groupID]
	var cached *memberEntry
	if ok {
		cached = entry.members[user.ID]
	}
	var snapshot memberEntry
	if cached != nil {
		snapshot = *cached
	}
	c.mu.Unlock()

	if cached == nil {
		return c.register(ctx, groupID, user, database.EventRegister)
	}
	if c.clock.Since(snapshot.refreshed) <= c.cooldown {
		return snapshot.member, nil
	}
	return c.RefreshMember(ctx, groupID, user)
}

// RefreshMember persists name and handle changes of user and reloads its
// role and membership status.
func (c *Cache) RefreshMember(ctx context.Context, groupID int64, user database.User) (database.Member, error) {
	log := c.logger.With("group_id", groupID, "user_id", user.ID)

	stored, err := c.store.GetUser(ctx, user.ID)
	if err != nil {
		return database.Member{}, err
	}
	if stored == nil {
		return c.register(ctx, groupID, user, database.EventRegister)
	}

	if stored.FirstName != user.FirstName || stored.LastName != user.LastName || stored.Username != user.Username {
		changed := *stored
		changed.FirstName, changed.LastName, changed.Username = user.FirstName, user.LastName, user.Username
		if err := c.store.EditUser(ctx, &changed); err != nil {
			log.ErrorContext(ctx, "Failed to persist identity change", "error", err)
		} else {
			stored = &changed
			log.InfoContext(ctx, "Member identity changed", "name", changed.FullName(), "username", changed.Username)
		}
	}

	member := database.Member{User: *stored}
	status, err := c.store.GetMembership(ctx, groupID, user.ID)
	if err != nil {
		log.ErrorContext(ctx, "Failed to reload membership", "error", err)
	} else if status != nil {
		member.Banned, member.Warnings = status.Banned, status.Warnings
	}

	c.put(groupID, member)
	return member, nil
}

// Join registers user as a member of group, adding or revalidating the
// user, and logs a join event.
func (c *Cache) Join(ctx context.Context, groupID int64, user database.User) (database.Member, error) {
	return c.register(ctx, groupID, user, database.EventJoin)
}

func (c *Cache) register(ctx context.Context, groupID int64, user database.User, kind database.EventKind) (database.Member, error) {
	log := c.logger.With("group_id", groupID, "user_id", user.ID)
	now := c.clock.Now()

	stored, err := c.store.GetUser(ctx, user.ID)
	if err != nil {
		return database.Member{}, err
	}
	if stored == nil {
		stored = &database.User{
			ID:           user.ID,
			FirstName:    user.FirstName,
			LastName:     user.LastName,
			Username:     user.Username,
			Role:         database.RoleStudent,
			Valid:        true,
			RegisteredAt: now,
		}
		if err := c.store.AddUser(ctx, stored); err != nil {
			return database.Member{}, err
		}
		log.InfoContext(ctx, "Registered new user", "name", stored.FullName())
	} else if !stored.Valid || stored.FirstName != user.FirstName || stored.LastName != user.LastName || stored.Username != user.Username {
		stored.Valid = true
		stored.FirstName, stored.LastName, stored.Username = user.FirstName, user.LastName, user.Username
		if err := c.store.EditUser(ctx, stored); err != nil {
			return database.Member{}, err
		}
	}

	created, err := c.store.AddMembership(ctx, groupID, user.ID)
	if err != nil {
		return database.Member{}, err
	}
	if created || kind == database.EventJoin {
		event := &database.GroupEvent{Kind: kind, UserID: user.ID, GroupID: groupID, OccurredAt: now}
		if err := c.store.AddGroupEvent(ctx, event); err != nil {
			log.ErrorContext(ctx, "Failed to log membership event", "kind", kind, "error", err)
		}
	}

	member := database.Member{User: *stored}
	if status, err := c.store.GetMembership(ctx, groupID, user.ID); err != nil {
		log.ErrorContext(ctx, "Failed to read membership", "error", err)
	} else if status != nil {
		member.Banned, member.Warnings = status.Banned, status.Warnings
	}

	c.put(groupID, member)
	return member, nil
}

// Leave handles a member leaving the group on their own. Banned members are
// only evicted: their membership keeps the ban. It reports whether the
// user was invalidated.
func (c *Cache) Leave(ctx context.Context, groupID, userID int64) (bool, error) {
	defer c.Evict(groupID, userID)

	status, err := c.store.GetMembership(ctx, groupID, userID)
	if err != nil {
		return false, err
	}
	if status == nil || status.Banned {
		return false, nil
	}
	return c.store.RemoveMembership(ctx, groupID, userID, database.EventLeave, c.clock.Now())
}

// Evict drops a member from the cache immediately.
func (c *Cache) Evict(groupID, userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.groups[groupID]; ok {
		delete(entry.members, userID)
	}
}

// BotRemoved marks the group invalid, drops every membership and forgets
// the group. It returns the ids of the removed members.
func (c *Cache) BotRemoved(ctx context.Context, groupID int64) ([]int64, error) {
	removed, err := c.store.InvalidateGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	delete(c.groups, groupID)
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "Group invalidated", "group_id", groupID, "removed_members", len(removed))
	return removed, nil
}

func (c *Cache) put(groupID int64, member database.Member) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.groups[groupID]; ok {
		entry.members[member.ID] = &memberEntry{member: member, refreshed: c.clock.Now()}
	}
}

func (c *Cache) isAdmin(ctx context.Context, chatID int64) bool {
	admin, err := c.probe.IsAdmin(ctx, chatID)
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to check admin rights", "group_id", chatID, "error", err)
		return false
	}
	return admin
}
