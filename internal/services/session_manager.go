package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"catalog-override-service/internal/events"
)

// SessionManager owns live editing sessions. A product has at most one open session.
type SessionManager struct {
	mu        sync.Mutex
	deps      SessionDeps
	ttl       time.Duration
	sessions  map[uuid.UUID]*EditorSession
	byProduct map[int64]uuid.UUID
	now       func() time.Time
}

// NewSessionManager creates a session manager. A zero ttl disables expiry.
func NewSessionManager(deps SessionDeps, ttl time.Duration) *SessionManager {
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}
	return &SessionManager{
		deps:      deps,
		ttl:       ttl,
		sessions:  make(map[uuid.UUID]*EditorSession),
		byProduct: make(map[int64]uuid.UUID),
		now:       time.Now,
	}
}

func (m *SessionManager) expired(s *EditorSession) bool {
	return m.ttl > 0 && m.now().Sub(s.LastUsed()) > m.ttl
}

// remove drops a session; the caller holds m.mu
func (m *SessionManager) remove(ctx context.Context, s *EditorSession, reason string) {
	delete(m.sessions, s.ID)
	if m.byProduct[s.ProductID] == s.ID {
		delete(m.byProduct, s.ProductID)
	}
	m.deps.Events.Emit(ctx, events.New(events.SessionClosed, s.ProductID, 0).
		With("session_id", s.ID.String()).
		With("reason", reason).
		With("discarded_edits", s.HasUnsavedChanges()))
}

// Open starts a session for productID. An idle-expired session for the product is
// replaced; a live one returns ErrSessionActive.
func (m *SessionManager) Open(ctx context.Context, productID int64) (*EditorSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byProduct[productID]; ok {
		existing := m.sessions[id]
		if existing != nil && !m.expired(existing) {
			return nil, ErrSessionActive
		}
		if existing != nil {
			m.remove(ctx, existing, "expired")
		}
	}

	s, err := NewEditorSession(ctx, m.deps, productID)
	if err != nil {
		return nil, err
	}
	m.sessions[s.ID] = s
	m.byProduct[productID] = s.ID
	m.deps.Events.Emit(ctx, events.New(events.SessionOpened, productID, 0).With("session_id", s.ID.String()))
	return s, nil
}

// Get returns a live session
func (m *SessionManager) Get(ctx context.Context, id uuid.UUID) (*EditorSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if m.expired(s) {
		m.remove(ctx, s, "expired")
		return nil, ErrSessionNotFound
	}
	s.touch()
	return s, nil
}

// Close ends a session, discarding anything it still buffers
func (m *SessionManager) Close(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	m.remove(ctx, s, "closed")
	return nil
}

// Sweep closes sessions idle for longer than the ttl and returns how many it closed
func (m *SessionManager) Sweep(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	closed := 0
	for _, s := range m.sessions {
		if m.expired(s) {
			m.remove(ctx, s, "expired")
			closed++
		}
	}
	return closed
}

// Count returns the number of open sessions
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
