package session

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Manager keeps sessions in memory. Sessions idle for longer than ttl are
// dropped on the next Create.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration

	backend    Backend
	summarizer DurationSummarizer
	grouper    TopicGrouper
	logger     *slog.Logger
}

func NewManager(backend Backend, summarizer DurationSummarizer, grouper TopicGrouper, ttl time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		sessions:   make(map[string]*Session),
		ttl:        ttl,
		backend:    backend,
		summarizer: summarizer,
		grouper:    grouper,
		logger:     logger,
	}
}

// Create starts a session for the video at videoFullPath.
func (m *Manager) Create(videoFullPath string, settings Settings) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked(time.Now())

	id := uuid.NewString()
	s := New(id, videoFullPath, settings, m.backend, m.summarizer, m.grouper, m.logger)
	m.sessions[id] = s
	m.logger.Info("session created", "session_id", id, "video", videoFullPath)
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// List returns snapshots of all sessions, most recently updated first.
func (m *Manager) List() []State {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	states := make([]State, 0, len(all))
	for _, s := range all {
		states = append(states, s.Snapshot())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].UpdatedAt.After(states[j].UpdatedAt) })
	return states
}

func (m *Manager) evictLocked(now time.Time) {
	if m.ttl <= 0 {
		return
	}
	for id, s := range m.sessions {
		st := s.Snapshot()
		if st.Running == "" && now.Sub(st.UpdatedAt) > m.ttl {
			delete(m.sessions, id)
		}
	}
}
