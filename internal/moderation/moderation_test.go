package moderation

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/aulabot/internal/config"
	"github.com/edgard/aulabot/internal/database"
)

var (
	sentAt     = time.Date(2026, 10, 19, 16, 40, 0, 0, time.UTC)
	group      = database.Group{ID: -1001, Title: "Algoritmos", Kind: database.KindSupergroup, Valid: true}
	student    = database.User{ID: 11, FirstName: "Marta", LastName: "Gil", Role: database.RoleStudent, Valid: true}
	instructor = database.User{ID: 12, FirstName: "Pablo", Role: database.RoleInstructor, Valid: true}
)

type fixedScorer map[string]float64

func (f fixedScorer) Score(text string) (float64, bool) {
	s, ok := f[text]
	return s, ok
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []string
	kicked  []int64
	kickErr error
	sendErr error
	// strict rejects Markdown with an unescaped '_' the way Telegram does.
	strict bool
}

func (n *fakeNotifier) SendMarkdown(_ context.Context, _ int64, text string) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return 0, n.sendErr
	}
	if n.strict && strings.Count(strings.ReplaceAll(text, `\_`, ""), "_")%2 == 1 {
		return 0, errors.New("Bad Request: can't parse entities")
	}
	n.sent = append(n.sent, text)
	return len(n.sent), nil
}

func (n *fakeNotifier) SendText(_ context.Context, _ int64, text string) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return 0, n.sendErr
	}
	n.sent = append(n.sent, "plain:"+text)
	return len(n.sent), nil
}

func (n *fakeNotifier) Kick(_ context.Context, _, userID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kicked = append(n.kicked, userID)
	return n.kickErr
}

type fakeEvictor struct {
	evicted []int64
}

func (f *fakeEvictor) Evict(_, userID int64) { f.evicted = append(f.evicted, userID) }

// failingStore fails warning increments.
type failingStore struct {
	database.Store
}

func (failingStore) IncrementWarnings(context.Context, int64, int64) (int, error) {
	return 0, errors.New("disk I/O error")
}

type fixture struct {
	db       *sqlx.DB
	store    database.Store
	notifier *fakeNotifier
	evictor  *fakeEvictor
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "moderation.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	store := database.NewStore(db, nil)

	g := group
	require.NoError(t, store.AddGroup(ctx, &g))
	for _, u := range []database.User{student, instructor} {
		u := u
		require.NoError(t, store.AddUser(ctx, &u))
		_, err := store.AddMembership(ctx, group.ID, u.ID)
		require.NoError(t, err)
	}

	f := &fixture{db: db, store: store, notifier: &fakeNotifier{}, evictor: &fakeEvictor{}}
	f.engine = f.build(store)
	return f
}

func (f *fixture) build(store database.Store) *Engine {
	scorer := fixedScorer{
		"¿cómo se ordena una lista enlazada?": 0.9,
		"¿quién viene al partido?":            0.2,
	}
	cfg := config.ModerationConfig{RelevanceThreshold: 0.6, BanThreshold: 3}
	return NewEngine(store, scorer, f.notifier, f.evictor, cfg, config.DefaultMessages, nil)
}

func (f *fixture) membership(t *testing.T, userID int64) *database.Membership {
	t.Helper()
	m, err := f.store.GetMembership(context.Background(), group.ID, userID)
	require.NoError(t, err)
	require.NotNil(t, m)
	return m
}

func inbound(sender database.User, text string) Inbound {
	return Inbound{Group: group, Sender: sender, ChatMessageID: 100, Text: text, SentAt: sentAt}
}

func TestEvaluateAcademicShortcuts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		sender database.User
		text   string
	}{
		{"instructor off topic", instructor, "¿quién viene al partido?"},
		{"no text", student, "  "},
		{"unscorable", student, "jajaja"},
		{"above threshold", student, "¿cómo se ordena una lista enlazada?"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)

			assert.True(t, f.engine.Evaluate(context.Background(), inbound(tt.sender, tt.text)))
			assert.Empty(t, f.notifier.sent)
			assert.Zero(t, f.membership(t, tt.sender.ID).Warnings)
		})
	}
}

func TestEscalationIsMonotonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	for want := 1; want < 3; want++ {
		assert.False(t, f.engine.Evaluate(ctx, inbound(student, "¿quién viene al partido?")))
		m := f.membership(t, student.ID)
		assert.Equal(t, want, m.Warnings)
		assert.False(t, m.Banned)
	}
	require.Len(t, f.notifier.sent, 8)
	assert.Equal(t, "Perdona [Marta Gil](tg://user?id=11)", f.notifier.sent[0])
	assert.Equal(t, " *2º aviso* ", f.notifier.sent[7])
	assert.Empty(t, f.notifier.kicked)

	assert.False(t, f.engine.Evaluate(ctx, inbound(student, "¿quién viene al partido?")))
	m := f.membership(t, student.ID)
	assert.True(t, m.Banned)
	assert.Zero(t, m.Warnings)
}

func TestBanAtThreshold(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.EditMembership(ctx, &database.Membership{GroupID: group.ID, UserID: student.ID, Warnings: 2}))

	assert.False(t, f.engine.Evaluate(ctx, inbound(student, "¿quién viene al partido?")))

	m := f.membership(t, student.ID)
	assert.True(t, m.Banned)
	assert.Zero(t, m.Warnings)
	assert.Equal(t, []int64{student.ID}, f.notifier.kicked)
	assert.Equal(t, []int64{student.ID}, f.evictor.evicted)
	assert.Equal(t, []string{"Bien [Marta Gil](tg://user?id=11)", config.DefaultMessages.BanNotice}, f.notifier.sent)

	var bans int
	require.NoError(t, f.db.Get(&bans, "SELECT COUNT(*) FROM group_events WHERE kind = 'ban' AND user_id = ?", student.ID))
	assert.Equal(t, 1, bans)
}

func TestNoticesEscapeSenderName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.notifier.strict = true
	juan := database.User{ID: 13, FirstName: "Juan_Carlos", Role: database.RoleStudent, Valid: true}
	require.NoError(t, f.store.AddUser(ctx, &juan))
	_, err := f.store.AddMembership(ctx, group.ID, juan.ID)
	require.NoError(t, err)

	assert.False(t, f.engine.Evaluate(ctx, inbound(juan, "¿quién viene al partido?")))
	require.Len(t, f.notifier.sent, 4)
	assert.Equal(t, `Perdona [Juan\_Carlos](tg://user?id=13)`, f.notifier.sent[0])
	assert.Equal(t, 1, f.membership(t, juan.ID).Warnings)
}

func TestRejectedNoticeFallsBackToPlainText(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.notifier.strict = true
	msgs := config.DefaultMessages
	msgs.ScoldGreeting = "Perdona %s_%d"
	engine := NewEngine(f.store, fixedScorer{"¿quién viene al partido?": 0.2}, f.notifier, f.evictor,
		config.ModerationConfig{RelevanceThreshold: 0.6, BanThreshold: 3}, msgs, nil)

	assert.False(t, engine.Evaluate(ctx, inbound(student, "¿quién viene al partido?")))
	require.Len(t, f.notifier.sent, 4)
	assert.Equal(t, "plain:Perdona Marta Gil_11", f.notifier.sent[0])
	assert.Equal(t, msgs.ScoldRule, f.notifier.sent[1])
}

func TestBannedMemberIsNotRescored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.BanMember(ctx, group.ID, student.ID, sentAt))

	assert.False(t, f.engine.Evaluate(ctx, inbound(student, "¿quién viene al partido?")))
	m := f.membership(t, student.ID)
	assert.True(t, m.Banned)
	assert.Zero(t, m.Warnings)
	assert.Empty(t, f.notifier.sent)
	assert.Empty(t, f.notifier.kicked)
}

func TestPromotedInstructorOverridesScore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.EditMembership(ctx, &database.Membership{GroupID: group.ID, UserID: student.ID, Warnings: 2}))

	promoted := student
	promoted.Role = database.RoleInstructor
	require.NoError(t, f.store.EditUser(ctx, &promoted))

	// the handler still holds the stale student snapshot
	assert.True(t, f.engine.Evaluate(ctx, inbound(student, "¿quién viene al partido?")))
	m := f.membership(t, student.ID)
	assert.Zero(t, m.Warnings)
	assert.False(t, m.Banned)
	assert.Empty(t, f.notifier.sent)
}

func TestKickFailureStillEvicts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.notifier.kickErr = errors.New("not enough rights")
	f.notifier.sendErr = errors.New("chat not found")
	require.NoError(t, f.store.EditMembership(ctx, &database.Membership{GroupID: group.ID, UserID: student.ID, Warnings: 2}))

	assert.False(t, f.engine.Evaluate(ctx, inbound(student, "¿quién viene al partido?")))
	assert.Equal(t, []int64{student.ID}, f.evictor.evicted)
	assert.True(t, f.membership(t, student.ID).Banned)
}

func TestStoreFailureStillReturnsVerdict(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	engine := f.build(failingStore{Store: f.store})

	assert.False(t, engine.Evaluate(context.Background(), inbound(student, "¿quién viene al partido?")))
	assert.Empty(t, f.notifier.sent)
	assert.Zero(t, f.membership(t, student.ID).Warnings)
}

func TestProcessLogsVerdict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	assert.True(t, f.engine.Process(ctx, inbound(student, "¿cómo se ordena una lista enlazada?")))
	off := inbound(student, "¿quién viene al partido?")
	off.ChatMessageID = 101
	off.ReplyTo = 100
	off.SentAt = sentAt.Add(time.Minute)
	off.Items = []database.ContentItem{{Kind: database.ContentText, Text: off.Text}}
	assert.False(t, f.engine.Process(ctx, off))

	msgs, err := f.store.ListGroupMessages(ctx, group.ID, sentAt, sentAt.Add(time.Hour), 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Academic)
	assert.False(t, msgs[1].Academic)
	assert.Equal(t, int64(100), msgs[1].ReplyToChatMessageID.Int64)
	assert.Equal(t, "Marta", msgs[1].SenderFirstName)
	require.Len(t, msgs[1].Items, 1)
	assert.Equal(t, off.Text, msgs[1].Items[0].Text)
}
