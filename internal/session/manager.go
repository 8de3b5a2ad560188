// SPDX-License-Identifier: MIT

package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kinoseat/paywatch/internal/log"
)

// Manager maps opaque session handles to running sessions for the HTTP
// surface. Resolved sessions stay queryable until deleted or until the
// manager shuts down.
type Manager struct {
	deps   Deps
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a session registry using the given collaborators.
func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:     deps,
		logger:   log.WithComponent("session-manager"),
		sessions: make(map[string]*Session),
	}
}

// Open starts a new session and returns its handle id.
func (m *Manager) Open(p Params, cb Callbacks) (string, *Session, error) {
	s, err := Open(p, m.deps, cb)
	if err != nil {
		return "", nil, err
	}

	id := uuid.NewString()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.Close()
		return "", nil, ErrManagerClosed
	}
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Info().
		Str(log.FieldSessionID, id).
		Str(log.FieldBookingID, p.BookingID).
		Msg("session registered")
	return id, s, nil
}

// Get looks up a session by handle id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close tears down the session with the given handle and removes it.
// Returns false when the handle is unknown.
func (m *Manager) Close(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.Close()
	return true
}

// Shutdown closes every session. Used during daemon shutdown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for id, s := range sessions {
		s.Close()
		m.logger.Debug().Str(log.FieldSessionID, id).Msg("session closed during shutdown")
	}
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
