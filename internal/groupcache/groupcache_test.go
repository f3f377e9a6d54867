package groupcache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/aulabot/internal/database"
)

const cooldown = 5 * time.Minute

var (
	chat  = database.Group{ID: -500, Title: "Redes", Kind: database.KindSupergroup}
	marta = database.User{ID: 21, FirstName: "Marta", LastName: "Gil", Username: "mgil"}
)

type fakeProbe struct {
	mu    sync.Mutex
	admin bool
	err   error
	calls int
}

func (p *fakeProbe) IsAdmin(context.Context, int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.admin, p.err
}

func (p *fakeProbe) set(admin bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.admin, p.err = admin, err
}

// readOnlyGroups rejects group edits.
type readOnlyGroups struct {
	database.Store
}

func (readOnlyGroups) EditGroup(context.Context, *database.Group) error {
	return errors.New("database is locked")
}

func newStore(t *testing.T) database.Store {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	return database.NewStore(db, nil)
}

func newCache(t *testing.T, store database.Store, admin bool) (*Cache, *fakeProbe, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))
	probe := &fakeProbe{admin: admin}
	return New(clock, cooldown, store, probe, nil), probe, clock
}

func cachedMembers(c *Cache, groupID int64) []database.Member {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.groups[groupID]
	if !ok {
		return nil
	}
	members := make([]database.Member, 0, len(entry.members))
	for _, m := range entry.members {
		members = append(members, m.member)
	}
	return members
}

func TestLoadRegistersUnknownGroup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, admin := range []bool{true, false} {
		store := newStore(t)
		cache, _, _ := newCache(t, store, admin)

		g, err := cache.Group(ctx, chat)
		require.NoError(t, err)
		assert.Equal(t, admin, g.Valid)

		stored, err := store.GetGroup(ctx, chat.ID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, admin, stored.Valid)
		assert.Equal(t, "Redes", stored.Title)
	}
}

func TestRefreshHonoursCooldown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	cache, probe, clock := newCache(t, store, true)

	_, err := cache.Group(ctx, chat)
	require.NoError(t, err)
	calls := probe.calls

	probe.set(false, nil)
	renamed := chat
	renamed.Title = "Redes II"

	clock.Advance(cooldown)
	g, err := cache.Group(ctx, renamed)
	require.NoError(t, err)
	assert.True(t, g.Valid, "within cooldown nothing is re-derived")
	assert.Equal(t, "Redes", g.Title)
	assert.Equal(t, calls, probe.calls)

	clock.Advance(time.Second)
	g, err = cache.Group(ctx, renamed)
	require.NoError(t, err)
	assert.False(t, g.Valid)
	assert.Equal(t, "Redes II", g.Title)

	stored, err := store.GetGroup(ctx, chat.ID)
	require.NoError(t, err)
	assert.False(t, stored.Valid)
	assert.Equal(t, "Redes II", stored.Title)
}

func TestRefreshProbeFailureKeepsValidity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cache, probe, clock := newCache(t, newStore(t), true)

	_, err := cache.Group(ctx, chat)
	require.NoError(t, err)

	probe.set(false, errors.New("timeout"))
	clock.Advance(cooldown + time.Second)
	g, err := cache.Group(ctx, chat)
	require.NoError(t, err)
	assert.True(t, g.Valid)
}

func TestRefreshWriteFailureLeavesCacheUnchanged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	cache, probe, clock := newCache(t, store, true)

	_, err := cache.Group(ctx, chat)
	require.NoError(t, err)

	cache.store = readOnlyGroups{Store: store}
	probe.set(false, nil)
	clock.Advance(cooldown + time.Second)

	g, err := cache.Group(ctx, chat)
	require.NoError(t, err)
	assert.True(t, g.Valid)
}

func TestMemberRegistrationAndRefresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	cache, _, clock := newCache(t, store, true)

	_, err := cache.Group(ctx, chat)
	require.NoError(t, err)

	m, err := cache.Member(ctx, chat.ID, marta)
	require.NoError(t, err)
	assert.Equal(t, database.RoleStudent, m.Role)
	assert.True(t, m.Valid)

	status, err := store.GetMembership(ctx, chat.ID, marta.ID)
	require.NoError(t, err)
	require.NotNil(t, status)

	renamed := marta
	renamed.Username = "martagil"
	m, err = cache.Member(ctx, chat.ID, renamed)
	require.NoError(t, err)
	assert.Equal(t, "mgil", m.Username, "within cooldown the cached identity is kept")

	_, err = store.IncrementWarnings(ctx, chat.ID, marta.ID)
	require.NoError(t, err)

	clock.Advance(cooldown + time.Second)
	m, err = cache.Member(ctx, chat.ID, renamed)
	require.NoError(t, err)
	assert.Equal(t, "martagil", m.Username)
	assert.Equal(t, 1, m.Warnings)

	stored, err := store.GetUser(ctx, marta.ID)
	require.NoError(t, err)
	assert.Equal(t, "martagil", stored.Username)
}

func TestJoinRevalidatesUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	cache, _, _ := newCache(t, store, true)

	_, err := cache.Group(ctx, chat)
	require.NoError(t, err)

	stale := marta
	stale.Role = database.RoleStudent
	stale.Valid = false
	stale.RegisteredAt = time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.AddUser(ctx, &stale))

	m, err := cache.Join(ctx, chat.ID, marta)
	require.NoError(t, err)
	assert.True(t, m.Valid)
	assert.Len(t, cachedMembers(cache, chat.ID), 1)

	stored, err := store.GetUser(ctx, marta.ID)
	require.NoError(t, err)
	assert.True(t, stored.Valid)
}

func TestLeave(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	cache, _, _ := newCache(t, store, true)

	_, err := cache.Group(ctx, chat)
	require.NoError(t, err)
	_, err = cache.Join(ctx, chat.ID, marta)
	require.NoError(t, err)

	invalidated, err := cache.Leave(ctx, chat.ID, marta.ID)
	require.NoError(t, err)
	assert.True(t, invalidated)
	assert.Empty(t, cachedMembers(cache, chat.ID))

	status, err := store.GetMembership(ctx, chat.ID, marta.ID)
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestLeaveAfterBanKeepsMembership(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	cache, _, _ := newCache(t, store, true)

	_, err := cache.Group(ctx, chat)
	require.NoError(t, err)
	_, err = cache.Join(ctx, chat.ID, marta)
	require.NoError(t, err)
	require.NoError(t, store.BanMember(ctx, chat.ID, marta.ID, time.Now()))

	invalidated, err := cache.Leave(ctx, chat.ID, marta.ID)
	require.NoError(t, err)
	assert.False(t, invalidated)
	assert.Empty(t, cachedMembers(cache, chat.ID))

	status, err := store.GetMembership(ctx, chat.ID, marta.ID)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.True(t, status.Banned)
}

func TestBotRemoved(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	cache, _, _ := newCache(t, store, true)

	_, err := cache.Group(ctx, chat)
	require.NoError(t, err)
	_, err = cache.Join(ctx, chat.ID, marta)
	require.NoError(t, err)

	removed, err := cache.BotRemoved(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{marta.ID}, removed)
	assert.Nil(t, cachedMembers(cache, chat.ID))

	stored, err := store.GetGroup(ctx, chat.ID)
	require.NoError(t, err)
	assert.False(t, stored.Valid)
}
