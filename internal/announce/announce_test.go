package announce

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/aulabot/internal/config"
	"github.com/edgard/aulabot/internal/database"
	"github.com/edgard/aulabot/internal/errs"
)

var (
	now        = time.Date(2026, 10, 19, 16, 40, 0, 0, time.UTC)
	tomorrow9  = time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)
	instructor = database.User{ID: 7, FirstName: "Pablo", LastName: "Ruiz", Role: database.RoleInstructor, Valid: true}
)

type registration struct {
	at   time.Time
	name string
	fn   func(ctx context.Context)
}

type fakeTimer struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]registration
	removed []uuid.UUID
}

func newFakeTimer() *fakeTimer { return &fakeTimer{jobs: make(map[uuid.UUID]registration)} }

func (f *fakeTimer) Register(at time.Time, name string, fn func(ctx context.Context)) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.jobs[id] = registration{at: at, name: name, fn: fn}
	return id, nil
}

func (f *fakeTimer) Remove(id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[id]; !ok {
		return errors.New("job not found")
	}
	delete(f.jobs, id)
	f.removed = append(f.removed, id)
	return nil
}

// fireAll runs every registered job, as the scheduler would once due.
func (f *fakeTimer) fireAll(ctx context.Context) {
	f.mu.Lock()
	var fns []func(context.Context)
	for _, r := range f.jobs {
		fns = append(fns, r.fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ctx)
	}
}

func (f *fakeTimer) times() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	var at []time.Time
	for _, r := range f.jobs {
		at = append(at, r.at)
	}
	return at
}

func (f *fakeTimer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type sent struct {
	chatID int64
	text   string
}

type fakeBroadcaster struct {
	mu sync.Mutex
	// strict rejects Markdown with an unescaped, unbalanced '_' or '*'
	// the way Telegram does; broken rejects all Markdown.
	strict bool
	broken bool
	sent   []sent
}

var errEntities = errors.New("Bad Request: can't parse entities")

func unbalanced(text string) bool {
	for _, c := range []string{"_", "*"} {
		bare := strings.ReplaceAll(text, `\`+c, "")
		if strings.Count(bare, c)%2 == 1 {
			return true
		}
	}
	return false
}

func (b *fakeBroadcaster) SendMarkdown(_ context.Context, chatID int64, text string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broken || (b.strict && unbalanced(text)) {
		return 0, errEntities
	}
	b.sent = append(b.sent, sent{chatID, text})
	return len(b.sent), nil
}

func (b *fakeBroadcaster) SendText(_ context.Context, chatID int64, text string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sent{chatID, "plain:" + text})
	return len(b.sent), nil
}

func (b *fakeBroadcaster) SendItem(_ context.Context, chatID int64, item database.ContentItem) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sent{chatID, fmt.Sprintf("%s:%s%s", item.Kind, item.Text, item.FileID)})
	return len(b.sent), nil
}

// countingStore counts announcement writes. itemsErr fails item reads.
type countingStore struct {
	database.Store
	announcements int
	items         int
	itemsErr      error
}

func (c *countingStore) ListContentItems(ctx context.Context, id int64) ([]database.ContentItem, error) {
	if c.itemsErr != nil {
		return nil, c.itemsErr
	}
	return c.Store.ListContentItems(ctx, id)
}

func (c *countingStore) AddAnnouncement(ctx context.Context, at time.Time, originatorID int64, targets []int64) (int64, error) {
	c.announcements++
	return c.Store.AddAnnouncement(ctx, at, originatorID, targets)
}

func (c *countingStore) AddContentItem(ctx context.Context, item *database.ContentItem) error {
	c.items++
	return c.Store.AddContentItem(ctx, item)
}

type fixture struct {
	store  *countingStore
	timer  *fakeTimer
	out    *fakeBroadcaster
	engine *Engine
}

func newFixture(t *testing.T, groups ...database.Group) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "announce.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	store := &countingStore{Store: database.NewStore(db, nil)}

	u := instructor
	require.NoError(t, store.AddUser(ctx, &u))
	for i := range groups {
		require.NoError(t, store.AddGroup(ctx, &groups[i]))
	}

	f := &fixture{store: store, timer: newFakeTimer(), out: &fakeBroadcaster{}}
	f.engine = NewEngine(store, f.timer, f.out, clockwork.NewFakeClockAt(now), config.DefaultMessages, nil)
	return f
}

func twoItems() []database.ContentItem {
	return []database.ContentItem{
		{Kind: database.ContentText, Text: "Examen el jueves"},
		{Kind: database.ContentDocument, FileID: "doc-1"},
	}
}

func TestScheduleAndFire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t,
		database.Group{ID: -1, Title: "A", Valid: true},
		database.Group{ID: -2, Title: "B", Valid: true},
	)

	id, err := f.engine.Schedule(ctx, Draft{Items: twoItems(), GroupIDs: []int64{-1, -2}, OriginatorID: instructor.ID, At: tomorrow9})
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.announcements)
	assert.Equal(t, 2, f.store.items)
	assert.Equal(t, 1, f.timer.count())
	assert.Equal(t, 1, f.engine.Pending())
	assert.Empty(t, f.out.sent)

	f.timer.fireAll(ctx)

	preamble := "*Comunicado de Pablo Ruiz*"
	assert.Equal(t, []sent{
		{-1, preamble}, {-1, "text:Examen el jueves"}, {-1, "document:doc-1"},
		{-2, preamble}, {-2, "text:Examen el jueves"}, {-2, "document:doc-1"},
	}, f.out.sent)

	a, err := f.store.GetAnnouncement(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, a)
	assert.Zero(t, f.engine.Pending())
}

func TestFireIsExactlyOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, database.Group{ID: -1, Title: "A", Valid: true})

	id, err := f.engine.Schedule(ctx, Draft{Items: twoItems(), GroupIDs: []int64{-1}, OriginatorID: instructor.ID, At: tomorrow9})
	require.NoError(t, err)

	require.NoError(t, f.engine.Fire(ctx, id))
	delivered := len(f.out.sent)

	assert.ErrorIs(t, f.engine.Fire(ctx, id), ErrAlreadyFired)
	f.timer.fireAll(ctx)
	assert.Len(t, f.out.sent, delivered)
}

func TestFireEscapesOriginatorName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, database.Group{ID: -1, Title: "A", Valid: true})
	f.out.strict = true
	juan := database.User{ID: 8, FirstName: "Juan_Carlos", Role: database.RoleInstructor, Valid: true}
	require.NoError(t, f.store.AddUser(ctx, &juan))

	id, err := f.engine.Schedule(ctx, Draft{Items: twoItems(), GroupIDs: []int64{-1}, OriginatorID: juan.ID, At: tomorrow9})
	require.NoError(t, err)
	require.NoError(t, f.engine.Fire(ctx, id))

	assert.Equal(t, []sent{
		{-1, `*Comunicado de Juan\_Carlos*`}, {-1, "text:Examen el jueves"}, {-1, "document:doc-1"},
	}, f.out.sent)
}

func TestFireSendsItemsWhenPreambleRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, database.Group{ID: -1, Title: "A", Valid: true})
	f.out.broken = true

	id, err := f.engine.Schedule(ctx, Draft{Items: twoItems(), GroupIDs: []int64{-1}, OriginatorID: instructor.ID, At: tomorrow9})
	require.NoError(t, err)
	require.NoError(t, f.engine.Fire(ctx, id))

	assert.Equal(t, []sent{
		{-1, "plain:Comunicado de Pablo Ruiz"}, {-1, "text:Examen el jueves"}, {-1, "document:doc-1"},
	}, f.out.sent)
	a, err := f.store.GetAnnouncement(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestFireReleasesClaimWhenReadFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, database.Group{ID: -1, Title: "A", Valid: true})

	id, err := f.engine.Schedule(ctx, Draft{Items: twoItems(), GroupIDs: []int64{-1}, OriginatorID: instructor.ID, At: tomorrow9})
	require.NoError(t, err)

	f.store.itemsErr = errors.New("disk I/O error")
	require.Error(t, f.engine.Fire(ctx, id))
	assert.Empty(t, f.out.sent)
	assert.Contains(t, f.timer.times(), now.Add(RetryDelay))
	assert.Equal(t, 1, f.engine.Pending())

	pending, err := f.store.ListAnnouncements(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.NoError(t, f.engine.Cancel(ctx, id), "a released announcement can still be cancelled")

	id, err = f.engine.Schedule(ctx, Draft{Items: twoItems(), GroupIDs: []int64{-1}, OriginatorID: instructor.ID, At: tomorrow9})
	require.NoError(t, err)
	require.Error(t, f.engine.Fire(ctx, id))
	f.store.itemsErr = nil
	require.NoError(t, f.engine.Fire(ctx, id))
	assert.Len(t, f.out.sent, 3)
}

func TestConcurrentFireDeliversOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, database.Group{ID: -1, Title: "A", Valid: true})

	id, err := f.engine.Schedule(ctx, Draft{Items: twoItems(), GroupIDs: []int64{-1}, OriginatorID: instructor.ID, At: tomorrow9})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.engine.Fire(ctx, id)
		}()
	}
	wg.Wait()
	assert.Len(t, f.out.sent, 3)
}

func TestCancelBeforeFire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, database.Group{ID: -1, Title: "A", Valid: true})

	id, err := f.engine.Schedule(ctx, Draft{Items: twoItems(), GroupIDs: []int64{-1}, OriginatorID: instructor.ID, At: tomorrow9})
	require.NoError(t, err)

	require.NoError(t, f.engine.Cancel(ctx, id))
	assert.Len(t, f.timer.removed, 1)
	assert.Zero(t, f.timer.count())

	a, err := f.store.GetAnnouncement(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, a)

	assert.ErrorIs(t, f.engine.Fire(ctx, id), ErrAlreadyFired)
	assert.Empty(t, f.out.sent)
	assert.ErrorIs(t, f.engine.Cancel(ctx, id), ErrNotFound)
}

func TestCancelAfterClaim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, database.Group{ID: -1, Title: "A", Valid: true})

	id, err := f.engine.Schedule(ctx, Draft{Items: twoItems(), GroupIDs: []int64{-1}, OriginatorID: instructor.ID, At: tomorrow9})
	require.NoError(t, err)

	claimed, err := f.store.ClaimAnnouncement(ctx, id, now)
	require.NoError(t, err)
	require.True(t, claimed)

	assert.ErrorIs(t, f.engine.Cancel(ctx, id), ErrAlreadyFired)
	a, err := f.store.GetAnnouncement(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestFireSkipsInvalidGroups(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t,
		database.Group{ID: -1, Title: "A", Valid: true},
		database.Group{ID: -2, Title: "B"},
	)

	id, err := f.engine.Schedule(ctx, Draft{Items: twoItems()[:1], GroupIDs: []int64{-2, -1}, OriginatorID: instructor.ID, At: tomorrow9})
	require.NoError(t, err)
	require.NoError(t, f.engine.Fire(ctx, id))

	for _, s := range f.out.sent {
		assert.Equal(t, int64(-1), s.chatID)
	}
	assert.Len(t, f.out.sent, 2)
}

func TestFireReclaimsArchivedMedia(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, database.Group{ID: -1, Title: "A", Valid: true})

	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o600))

	items := []database.ContentItem{{Kind: database.ContentPhoto, FileID: "p-1", FilePath: path}}
	id, err := f.engine.Schedule(ctx, Draft{Items: items, GroupIDs: []int64{-1}, OriginatorID: instructor.ID, At: tomorrow9})
	require.NoError(t, err)
	require.NoError(t, f.engine.Fire(ctx, id))

	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestScheduleValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, database.Group{ID: -1, Title: "A", Valid: true})

	tests := []struct {
		name  string
		draft Draft
	}{
		{"no items", Draft{GroupIDs: []int64{-1}, OriginatorID: instructor.ID, At: tomorrow9}},
		{"no groups", Draft{Items: twoItems(), OriginatorID: instructor.ID, At: tomorrow9}},
		{"duplicate groups", Draft{Items: twoItems(), GroupIDs: []int64{-1, -1}, OriginatorID: instructor.ID, At: tomorrow9}},
		{"no originator", Draft{Items: twoItems(), GroupIDs: []int64{-1}, At: tomorrow9}},
		{"no time", Draft{Items: twoItems(), GroupIDs: []int64{-1}, OriginatorID: instructor.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Schedule(context.Background(), tt.draft)
			assert.True(t, errs.IsValidation(err), "got %v", err)
		})
	}
	assert.Zero(t, f.store.announcements)
	assert.Zero(t, f.timer.count())
}

func TestRestore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, database.Group{ID: -1, Title: "A", Valid: true})

	for _, at := range []time.Time{now.Add(-time.Hour), tomorrow9} {
		_, err := f.store.AddAnnouncement(ctx, at, instructor.ID, []int64{-1})
		require.NoError(t, err)
	}

	restored, err := f.engine.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)
	assert.Equal(t, 2, f.timer.count())
}

func TestPreview(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, database.Group{ID: -1, Title: "A", Valid: true})

	id, err := f.engine.Schedule(ctx, Draft{Items: twoItems(), GroupIDs: []int64{-1}, OriginatorID: instructor.ID, At: tomorrow9})
	require.NoError(t, err)

	require.NoError(t, f.engine.Preview(ctx, instructor.ID, id))
	assert.Len(t, f.out.sent, 3)
	assert.Equal(t, instructor.ID, f.out.sent[0].chatID)
	assert.ErrorIs(t, f.engine.Preview(ctx, instructor.ID, 999), ErrNotFound)
}
