package session

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/aulabot/internal/database"
)

// Monday
var now = time.Date(2026, 10, 19, 16, 40, 0, 0, time.UTC)

var (
	mathGroup = database.Group{ID: -100, Title: "Matemáticas", Valid: true}
	artGroup  = database.Group{ID: -200, Title: "Plástica", Valid: true}
	ana       = database.Member{User: database.User{ID: 1, FirstName: "Ana"}}
	luis      = database.Member{User: database.User{ID: 2, FirstName: "Luis"}, Banned: true}
)

// drive applies events in order and returns every outcome.
func drive(t *testing.T, m *Machine, s Session, events ...Event) []Outcome {
	t.Helper()
	outs := make([]Outcome, 0, len(events))
	for _, ev := range events {
		out := m.Transition(s, ev)
		require.NoError(t, out.Err)
		outs = append(outs, out)
		s = out.Session
	}
	return outs
}

func loaded(groups []database.Group, students []database.Member, anns []database.Announcement) Event {
	return Event{Kind: EventLoaded, Groups: groups, Students: students, Announcements: anns, Now: now}
}

func cb(data string) Event { return Callback(data, now) }

func text(s string) Event { return Message(s, 0, nil, now) }

func effectsOf[T Effect](out Outcome) []T {
	var found []T
	for _, e := range out.Effects {
		if v, ok := e.(T); ok {
			found = append(found, v)
		}
	}
	return found
}

func TestMenuExit(t *testing.T) {
	t.Parallel()
	m := NewMachine(0)

	out := m.Transition(m.Start(7, now), cb(DataExit))
	assert.True(t, out.Terminal)
	assert.Equal(t, End, out.Session.State)
	assert.Equal(t, []Notice{{Text: NoticeBye}}, effectsOf[Notice](out))
}

func TestGroupListSnapshot(t *testing.T) {
	t.Parallel()
	m := NewMachine(0)

	outs := drive(t, m, m.Start(7, now), cb(DataGroups))
	assert.Equal(t, GroupList, outs[0].Session.State)
	assert.Equal(t, []Load{{What: LoadValidGroups}}, effectsOf[Load](outs[0]))

	groups := []database.Group{mathGroup, artGroup}
	outs = drive(t, m, outs[0].Session, loaded(groups, nil, nil))
	groups[0].Title = "changed"

	s := outs[0].Session
	ctx, ok := s.Ctx.(GroupListCtx)
	require.True(t, ok)
	assert.Equal(t, "Matemáticas", ctx.Groups[0].Title)

	out := m.Transition(s, cb("grp:1:link"))
	assert.Equal(t, []InviteLink{{Group: artGroup}}, effectsOf[InviteLink](out))
	assert.Equal(t, GroupList, out.Session.State)

	out = m.Transition(s, cb("grp:5:link"))
	assert.True(t, out.Fallback)
	assert.Equal(t, s, out.Session)
}

func TestGroupListEmpty(t *testing.T) {
	t.Parallel()
	m := NewMachine(0)

	outs := drive(t, m, m.Start(7, now), cb(DataGroups), loaded(nil, nil, nil))
	assert.Equal(t, Menu, outs[1].Session.State)
	assert.Equal(t, []Notice{{Text: NoticeNoGroups}}, effectsOf[Notice](outs[1]))
}

func TestGroupDeleteNeedsTwoConfirmations(t *testing.T) {
	t.Parallel()
	m := NewMachine(0)
	start := Session{UserID: 7, State: GroupList, Ctx: GroupListCtx{Groups: []database.Group{mathGroup}}}

	tests := []struct {
		name    string
		answers []string
		deleted bool
	}{
		{"yes then yes", []string{DataYes, DataYes}, true},
		{"yes then no", []string{DataYes, DataNo}, false},
		{"no", []string{DataNo}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			events := []Event{cb("grp:0:del")}
			for _, a := range tt.answers {
				events = append(events, cb(a))
			}
			outs := drive(t, m, start, events...)

			var deletes []DeleteGroup
			for _, out := range outs {
				deletes = append(deletes, effectsOf[DeleteGroup](out)...)
			}
			last := outs[len(outs)-1]
			assert.Equal(t, Menu, last.Session.State)
			assert.False(t, last.Terminal)
			if tt.deleted {
				assert.Equal(t, []DeleteGroup{{Group: mathGroup}}, deletes)
			} else {
				assert.Empty(t, deletes)
			}
		})
	}
}

func TestStudentActions(t *testing.T) {
	t.Parallel()
	m := NewMachine(0)
	list := Session{UserID: 7, State: StudentList, Ctx: StudentListCtx{Group: mathGroup, Students: []database.Member{ana, luis}}}

	out := m.Transition(list, cb("stu:0:readmit"))
	assert.True(t, out.Fallback, "only banned students can be readmitted")

	out = m.Transition(list, cb("stu:1:ban"))
	assert.True(t, out.Fallback, "banned students cannot be banned again")

	outs := drive(t, m, list, cb("stu:0:ban"), cb(DataYes))
	assert.Equal(t, []BanStudent{{Group: mathGroup, Student: ana}}, effectsOf[BanStudent](outs[1]))
	assert.Equal(t, []Load{{What: LoadStudents, GroupID: mathGroup.ID}}, effectsOf[Load](outs[1]))

	outs = drive(t, m, list, cb("stu:1:readmit"), cb(DataYes))
	assert.Equal(t, []ReadmitStudent{{Group: mathGroup, Student: luis}}, effectsOf[ReadmitStudent](outs[1]))

	outs = drive(t, m, list, cb("stu:0:expel"), cb(DataYes))
	assert.Equal(t, StudentExpelReconfirm, outs[1].Session.State)
	assert.Empty(t, effectsOf[ExpelStudent](outs[1]))

	outs = drive(t, m, outs[1].Session, cb(DataYes))
	assert.Equal(t, []ExpelStudent{{Group: mathGroup, Student: ana}}, effectsOf[ExpelStudent](outs[0]))

	outs = drive(t, m, list, cb("stu:0:expel"), cb(DataYes), cb(DataNo))
	assert.Equal(t, StudentList, outs[2].Session.State)
	assert.Equal(t, list.Ctx, outs[2].Session.Ctx)
	assert.Empty(t, effectsOf[ExpelStudent](outs[2]))
}

func TestFallbackKeepsContext(t *testing.T) {
	t.Parallel()
	m := NewMachine(0)
	s := Session{UserID: 7, State: ComposeContent, Ctx: ComposeCtx{Items: []DraftItem{{MessageID: 1}}}}

	for _, ev := range []Event{cb("nonsense"), text("hola")} {
		out := m.Transition(s, ev)
		assert.True(t, out.Fallback)
		assert.False(t, out.Terminal)
		assert.Equal(t, s, out.Session)
		assert.Len(t, effectsOf[Notice](out), 2)
	}
}

func TestMissingContext(t *testing.T) {
	t.Parallel()
	m := NewMachine(0)

	for _, s := range []Session{
		{UserID: 7, State: GroupList, Ctx: MenuCtx{}},
		{UserID: 7, State: ComposeTime},
		{UserID: 7, State: State(999), Ctx: MenuCtx{}},
	} {
		out := m.Transition(s, cb(DataYes))
		assert.ErrorIs(t, out.Err, ErrMissingContext)
		assert.True(t, out.Terminal)
		assert.Equal(t, End, out.Session.State)
		assert.Nil(t, out.Session.Ctx)
	}
}

func TestComposeFlow(t *testing.T) {
	t.Parallel()
	m := NewMachine(0)

	first := &database.ContentItem{Kind: database.ContentText, Text: "Examen el jueves"}
	second := &database.ContentItem{Kind: database.ContentPhoto, FileID: "photo-1"}
	edited := Message("Examen el viernes", 10, &database.ContentItem{Kind: database.ContentText, Text: "Examen el viernes"}, now)
	edited.Edited = true

	outs := drive(t, m, m.Start(7, now),
		cb(DataCompose),
		Message("Examen el jueves", 10, first, now),
		Message("", 11, second, now),
		edited,
		cb(DataAccept),
		loaded([]database.Group{mathGroup, artGroup}, nil, nil),
		cb("tog:0"),
		cb("tog:1"),
		cb(DataSave),
		text("mañana"),
		text("a las 9"),
	)

	ctx := outs[3].Session.Ctx.(ComposeCtx)
	require.Len(t, ctx.Items, 2)
	assert.Equal(t, "Examen el viernes", ctx.Items[0].Item.Text)

	assert.True(t, outs[6].EditPrompt)
	assert.Equal(t, ComposeDate, outs[8].Session.State)
	assert.Equal(t, ComposeTime, outs[9].Session.State)

	last := outs[10]
	assert.Equal(t, Menu, last.Session.State)
	sched := effectsOf[ScheduleAnnouncement](last)
	require.Len(t, sched, 1)
	assert.Equal(t, time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC), sched[0].At)
	assert.Equal(t, []int64{mathGroup.ID, artGroup.ID}, sched[0].GroupIDs)
	require.Len(t, sched[0].Items, 2)
	assert.Equal(t, 0, sched[0].Items[0].Position)
	assert.Equal(t, 1, sched[0].Items[1].Position)
	assert.Equal(t, "photo-1", sched[0].Items[1].FileID)
}

func TestComposeGuards(t *testing.T) {
	t.Parallel()
	m := NewMachine(1)

	out := m.Transition(Session{UserID: 7, State: ComposeContent, Ctx: ComposeCtx{}}, cb(DataAccept))
	assert.Equal(t, ComposeContent, out.Session.State)
	assert.Equal(t, []Notice{{Text: NoticeComposeEmpty}}, effectsOf[Notice](out))

	full := Session{UserID: 7, State: ComposeContent, Ctx: ComposeCtx{Items: []DraftItem{{MessageID: 1}}}}
	out = m.Transition(full, Message("x", 2, &database.ContentItem{Kind: database.ContentText, Text: "x"}, now))
	assert.Equal(t, []Notice{{Text: NoticeComposeFull}}, effectsOf[Notice](out))
	assert.Len(t, out.Session.Ctx.(ComposeCtx).Items, 1)

	groups := Session{UserID: 7, State: ComposeGroups, Ctx: ComposeCtx{
		Items: []DraftItem{{MessageID: 1}}, Groups: []database.Group{mathGroup}, Selected: []bool{false},
	}}
	out = m.Transition(groups, cb(DataSave))
	assert.Equal(t, ComposeGroups, out.Session.State)
	assert.Equal(t, []Notice{{Text: NoticeNoSelection}}, effectsOf[Notice](out))

	toggled := m.Transition(groups, cb("tog:0"))
	assert.False(t, groups.Ctx.(ComposeCtx).Selected[0], "previous session is not mutated")
	assert.True(t, toggled.Session.Ctx.(ComposeCtx).Selected[0])
}

func TestComposeRejectsPastMoment(t *testing.T) {
	t.Parallel()
	m := NewMachine(0)
	s := Session{UserID: 7, State: ComposeDate, Ctx: ComposeCtx{
		Items: []DraftItem{{MessageID: 1}}, Groups: []database.Group{mathGroup}, Selected: []bool{true},
	}}

	out := m.Transition(s, text("hoy a las 9"))
	assert.Equal(t, ComposeTime, out.Session.State)
	assert.Equal(t, []Notice{{Text: NoticePastMoment}}, effectsOf[Notice](out))
	assert.Empty(t, effectsOf[ScheduleAnnouncement](out))

	out = m.Transition(out.Session, text("dentro de 5 minutos"))
	sched := effectsOf[ScheduleAnnouncement](out)
	require.Len(t, sched, 1)
	assert.Equal(t, now.Add(5*time.Minute), sched[0].At)

	out = m.Transition(s, text("cuando puedas"))
	assert.Equal(t, ComposeDate, out.Session.State)
	assert.Equal(t, []Notice{{Text: NoticeNotUnderstood}}, effectsOf[Notice](out))
}

func TestComposeRejectsPastDate(t *testing.T) {
	t.Parallel()
	m := NewMachine(0)
	s := Session{UserID: 7, State: ComposeDate, Ctx: ComposeCtx{
		Items: []DraftItem{{MessageID: 1}}, Groups: []database.Group{mathGroup}, Selected: []bool{true},
	}}

	for _, input := range []string{"ayer", "ayer a las 10"} {
		out := m.Transition(s, text(input))
		assert.Equal(t, ComposeDate, out.Session.State, input)
		assert.Equal(t, []Notice{{Text: NoticePastDate}}, effectsOf[Notice](out), input)
		assert.Empty(t, effectsOf[ScheduleAnnouncement](out), input)
	}

	out := m.Transition(s, text("mañana"))
	require.Equal(t, ComposeTime, out.Session.State)
	out = m.Transition(out.Session, text("a las 10"))
	assert.Len(t, effectsOf[ScheduleAnnouncement](out), 1)
}

func TestDisplayTime(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "20/10/2026 09:30", DisplayTime(time.Date(2026, 10, 20, 9, 30, 0, 0, time.UTC)))
}

func TestAnnouncements(t *testing.T) {
	t.Parallel()
	m := NewMachine(0)

	outs := drive(t, m, m.Start(7, now), cb(DataAnnouncements), loaded(nil, nil, nil), cb(DataYes))
	assert.Equal(t, AnnouncementOffer, outs[1].Session.State)
	assert.Equal(t, ComposeContent, outs[2].Session.State)

	pending := []database.Announcement{{ID: 4, DeliverAt: now.Add(time.Hour)}, {ID: 9, DeliverAt: now.Add(2 * time.Hour)}}
	outs = drive(t, m, m.Start(7, now), cb(DataAnnouncements), loaded(nil, nil, pending), cb("ann:1:read"), cb("ann:0:rm"), cb(DataYes))
	assert.Equal(t, []ShowAnnouncement{{ID: 9}}, effectsOf[ShowAnnouncement](outs[2]))
	assert.Equal(t, AnnouncementDeleteConfirm, outs[3].Session.State)
	assert.Equal(t, []CancelAnnouncement{{ID: 4}}, effectsOf[CancelAnnouncement](outs[4]))
	assert.Equal(t, []Load{{What: LoadAnnouncements}}, effectsOf[Load](outs[4]))
}

func TestDownloadRange(t *testing.T) {
	t.Parallel()
	m := NewMachine(0)
	all := []database.Group{mathGroup, {ID: -300, Title: "Antiguo"}}

	outs := drive(t, m, m.Start(7, now),
		cb(DataDownload),
		text("el 1 de octubre de este año"),
		text("a las 8"),
		text("hoy a las 14:30"),
		loaded(all, nil, nil),
		cb("grp:1"),
		cb(DataYes),
	)
	assert.Equal(t, DownloadStartTime, outs[1].Session.State)
	assert.Equal(t, DownloadEndDate, outs[2].Session.State)
	assert.Equal(t, DownloadGroup, outs[3].Session.State)
	assert.Equal(t, []Load{{What: LoadAllGroups}}, effectsOf[Load](outs[3]))

	exports := effectsOf[ExportConversation](outs[6])
	require.Len(t, exports, 1)
	assert.Equal(t, ExportConversation{
		Group: all[1],
		From:  time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC),
		To:    time.Date(2026, 10, 19, 14, 30, 0, 0, time.UTC),
	}, exports[0])

	outs = drive(t, m, m.Start(7, now), cb(DataDownload), text("hoy a las 10"), text("ayer a las 10"))
	assert.Equal(t, DownloadStartDate, outs[2].Session.State)
	assert.Equal(t, DownloadCtx{}, outs[2].Session.Ctx)
	assert.Equal(t, []Notice{{Text: NoticeBadRange}}, effectsOf[Notice](outs[2]))
}

func TestUnregister(t *testing.T) {
	t.Parallel()
	m := NewMachine(0)

	outs := drive(t, m, m.Start(7, now), cb(DataUnregister), cb(DataYes), cb(DataYes))
	assert.True(t, outs[2].Terminal)
	assert.Len(t, effectsOf[Unregister](outs[2]), 1)

	outs = drive(t, m, m.Start(7, now), cb(DataUnregister), cb(DataYes), cb(DataNo))
	assert.Equal(t, Menu, outs[2].Session.State)
	assert.Empty(t, effectsOf[Unregister](outs[2]))
}

func TestRender(t *testing.T) {
	t.Parallel()

	p := Render(Session{State: Menu, Ctx: MenuCtx{}})
	assert.Equal(t, TextMenu, p.Text)
	assert.Len(t, p.Keyboard, 6)

	p = Render(Session{State: ComposeGroups, Ctx: ComposeCtx{Groups: []database.Group{mathGroup, artGroup}, Selected: []bool{true, false}}})
	require.Len(t, p.Keyboard, 3)
	assert.Equal(t, "☑️ Matemáticas", p.Keyboard[0][0].Text)
	assert.Equal(t, "tog:1", p.Keyboard[1][0].Data)

	p = Render(Session{State: StudentList, Ctx: StudentListCtx{Group: mathGroup, Students: []database.Member{ana, luis}}})
	assert.Equal(t, "stu:0:ban", p.Keyboard[0][0].Data)
	assert.Equal(t, "stu:1:readmit", p.Keyboard[1][0].Data)

	p = Render(Session{State: DownloadConfirm, Ctx: DownloadCtx{
		Group: mathGroup, From: time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC), To: now,
	}})
	assert.Contains(t, p.Text, "01/10/2026 08:00")
	assert.Contains(t, p.Text, "19/10/2026 16:40")
}

func TestManagerTimeout(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClockAt(now)
	mgr := NewManager(clock, 20*time.Minute)

	_, status := mgr.Get(7)
	assert.Equal(t, StatusNone, status)

	mgr.Put(Session{UserID: 7, State: Menu, Ctx: MenuCtx{}})
	clock.Advance(20 * time.Minute)
	s, status := mgr.Get(7)
	assert.Equal(t, StatusActive, status)
	mgr.Put(s)

	clock.Advance(20*time.Minute + time.Second)
	_, status = mgr.Get(7)
	assert.Equal(t, StatusExpired, status)
	_, status = mgr.Get(7)
	assert.Equal(t, StatusNone, status)
	assert.Zero(t, mgr.Len())
}

func TestManagerSweep(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClockAt(now)
	mgr := NewManager(clock, time.Minute)

	mgr.Put(Session{UserID: 1, State: Menu, Ctx: MenuCtx{}})
	clock.Advance(2 * time.Minute)
	mgr.Put(Session{UserID: 2, State: Menu, Ctx: MenuCtx{}})

	assert.Equal(t, []int64{1}, mgr.Sweep())
	assert.Equal(t, 1, mgr.Len())
	mgr.Clear(2)
	assert.Zero(t, mgr.Len())
}

func TestManagerLockSerializes(t *testing.T) {
	t.Parallel()
	mgr := NewManager(clockwork.NewFakeClock(), time.Minute)

	var (
		wg      sync.WaitGroup
		counter int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := mgr.Lock(7)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Empty(t, mgr.locks)
}
