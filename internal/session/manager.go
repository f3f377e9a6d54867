package session

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Status describes what Get found for a user.
type Status int

// Lookup results.
const (
	StatusNone Status = iota
	StatusActive
	StatusExpired
)

type userLock struct {
	mu   sync.Mutex
	refs int
}

// Manager keeps the live sessions, expires idle ones and serializes event
// handling per instructor.
type Manager struct {
	clock   clockwork.Clock
	timeout time.Duration

	mu       sync.Mutex
	sessions map[int64]Session
	locks    map[int64]*userLock
}

// NewManager creates a Manager expiring sessions idle for longer than timeout.
func NewManager(clock clockwork.Clock, timeout time.Duration) *Manager {
	return &Manager{
		clock:    clock,
		timeout:  timeout,
		sessions: make(map[int64]Session),
		locks:    make(map[int64]*userLock),
	}
}

// Lock blocks until no other event of userID is being handled. The returned
// function releases the lock.
func (m *Manager) Lock(userID int64) (unlock func()) {
	m.mu.Lock()
	l, ok := m.locks[userID]
	if !ok {
		l = &userLock{}
		m.locks[userID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, userID)
		}
		m.mu.Unlock()
	}
}

// Get returns the session of userID. An expired session is dropped and
// reported as StatusExpired exactly once.
func (m *Manager) Get(userID int64) (Session, Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return Session{}, StatusNone
	}
	if m.expired(s) {
		delete(m.sessions, userID)
		return Session{}, StatusExpired
	}
	return s, StatusActive
}

// Put stores s and marks it active now.
func (m *Manager) Put(s Session) Session {
	s.LastActive = m.clock.Now()

	m.mu.Lock()
	m.sessions[s.UserID] = s
	m.mu.Unlock()
	return s
}

// Clear drops the session of userID.
func (m *Manager) Clear(userID int64) {
	m.mu.Lock()
	delete(m.sessions, userID)
	m.mu.Unlock()
}

// Sweep drops every expired session and returns their user ids.
func (m *Manager) Sweep() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []int64
	for id, s := range m.sessions {
		if m.expired(s) {
			delete(m.sessions, id)
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of stored sessions, expired or not.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Now returns the manager's clock reading.
func (m *Manager) Now() time.Time {
	return m.clock.Now()
}

func (m *Manager) expired(s Session) bool {
	return m.clock.Since(s.LastActive) > m.timeout
}
