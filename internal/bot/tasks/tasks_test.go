package tasks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/aulabot/internal/config"
	"github.com/edgard/aulabot/internal/database"
	"github.com/edgard/aulabot/internal/session"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[int64]string
}

func (n *recordingNotifier) SendText(_ context.Context, chatID int64, text string) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = make(map[int64]string)
	}
	n.sent[chatID] = text
	return 1, nil
}

type brokenStore struct {
	database.Store
}

func (brokenStore) RunSQLMaintenance(context.Context) error {
	return errors.New("database is locked")
}

func newDeps(t *testing.T) TaskDeps {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.CloseDB(db) })
	return TaskDeps{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:    database.NewStore(db, nil),
		Notifier: &recordingNotifier{},
		Messages: config.DefaultMessages,
	}
}

func TestRegisterAllTasksMatchesDefaults(t *testing.T) {
	t.Parallel()
	registered := RegisterAllTasks(newDeps(t))
	for name := range config.DefaultTasks {
		assert.Contains(t, registered, name)
	}
}

func TestSQLMaintenance(t *testing.T) {
	t.Parallel()
	deps := newDeps(t)
	require.NoError(t, newSQLMaintenanceTask(deps)(context.Background()))

	deps.Store = brokenStore{Store: deps.Store}
	assert.Error(t, newSQLMaintenanceTask(deps)(context.Background()))
}

func TestSessionSweep(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC))
	sessions := session.NewManager(clock, 20*time.Minute)
	machine := session.NewMachine(session.DefaultMaxItems)

	sessions.Put(machine.Start(1, clock.Now()))
	clock.Advance(15 * time.Minute)
	sessions.Put(machine.Start(2, clock.Now()))
	clock.Advance(6 * time.Minute)

	deps := newDeps(t)
	deps.Sessions = sessions
	notifier := deps.Notifier.(*recordingNotifier)

	require.NoError(t, newSessionSweepTask(deps)(context.Background()))
	assert.Equal(t, map[int64]string{1: config.DefaultMessages.SessionExpired}, notifier.sent)
	assert.Equal(t, 1, sessions.Len())
}
