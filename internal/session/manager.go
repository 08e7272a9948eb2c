package session

import (
	"sort"
	"sync"
	"time"

	"github.com/airq-visualizer/backend/internal/models"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// MaxSessions limits concurrent dashboard sessions.
const MaxSessions = 256

// SessionMaxAge is how long an untouched session is kept.
const SessionMaxAge = 30 * time.Minute

// SessionKeepAliveWindow protects recently used sessions from cleanup.
const SessionKeepAliveWindow = 5 * time.Minute

// Manager owns the dashboard sessions and their selected sensor.
type Manager struct {
	sessions map[string]*models.DashboardSession
	mu       sync.RWMutex
	max      int
	log      logr.Logger
}

// NewManager creates an empty session manager.
func NewManager(log logr.Logger) *Manager {
	return NewManagerWithLimit(log, MaxSessions)
}

// NewManagerWithLimit creates a manager holding at most max sessions.
func NewManagerWithLimit(log logr.Logger, max int) *Manager {
	if max <= 0 {
		max = MaxSessions
	}
	return &Manager{
		sessions: make(map[string]*models.DashboardSession),
		max:      max,
		log:      log.WithName("session"),
	}
}

// Create starts a session with an optional initial selection.
func (m *Manager) Create(selected string) *models.DashboardSession {
	m.evictIfNeeded()

	sess := models.NewDashboardSession(uuid.New().String(), selected)

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.log.V(1).Info("session created", "id", sess.ID, "selected", selected)
	return copySession(sess)
}

// Get returns a copy of a session.
func (m *Manager) Get(id string) (*models.DashboardSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return copySession(sess), true
}

// Select changes the selected sensor of a session. An empty id clears it.
func (m *Manager) Select(id, sensorID string) (*models.DashboardSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	sess.SelectedSensor = sensorID
	sess.LastAccessed = time.Now()
	return copySession(sess), true
}

// SetLocale changes the display locale of a session.
func (m *Manager) SetLocale(id, locale string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return false
	}
	sess.Locale = locale
	return true
}

// Touch updates the last accessed time of a session.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return false
	}
	sess.LastAccessed = time.Now()
	return true
}

// Delete removes a session.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// List returns copies of all sessions, oldest first.
func (m *Manager) List() []*models.DashboardSession {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.DashboardSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, copySession(sess))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupOldSessions drops sessions untouched for longer than maxAge, never
// touching those used within the keep-alive window.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-maxAge)
	keepAliveCutoff := now.Add(-SessionKeepAliveWindow)

	removed := 0
	for id, sess := range m.sessions {
		if sess.LastAccessed.After(keepAliveCutoff) {
			continue
		}
		if sess.LastAccessed.Before(cutoff) {
			delete(m.sessions, id)
			removed++
			m.log.Info("cleaned up aged session", "id", id, "idle", now.Sub(sess.LastAccessed).Round(time.Second))
		}
	}
	return removed
}

// evictIfNeeded frees room for one more session by dropping the least
// recently accessed ones.
func (m *Manager) evictIfNeeded() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) < m.max {
		return
	}

	all := make([]*models.DashboardSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		all = append(all, sess)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].LastAccessed.Before(all[j].LastAccessed)
	})

	toFree := len(m.sessions) - m.max + 1
	for _, sess := range all[:toFree] {
		delete(m.sessions, sess.ID)
		m.log.Info("evicted session to stay under limit", "id", sess.ID, "limit", m.max)
	}
}

func copySession(s *models.DashboardSession) *models.DashboardSession {
	c := *s
	return &c
}
