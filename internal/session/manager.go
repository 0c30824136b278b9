package session

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maauso/veo-studio-api/internal/poller"
	"github.com/maauso/veo-studio-api/internal/provider"
)

// ErrSessionNotFound is returned when a session cannot be found by ID.
var ErrSessionNotFound = errors.New("session not found")

// DefaultArchiveTimeout bounds one archive upload.
const DefaultArchiveTimeout = 5 * time.Minute

// Manager is an in-memory registry of sessions.
// It uses a map with RWMutex for thread-safe access; sessions do not
// survive a restart.
type Manager struct {
	provider       provider.Provider
	pollConfig     poller.Config
	scheduler      poller.Scheduler
	archiver       Archiver
	archiveTimeout time.Duration
	logger         *slog.Logger
	now            func() time.Time
	newID          func() string

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithPollConfig sets the pacing used by every session's poller.
func WithPollConfig(cfg poller.Config) Option {
	return func(m *Manager) {
		m.pollConfig = cfg
	}
}

// WithScheduler sets the scheduler used by every session's poller.
func WithScheduler(s poller.Scheduler) Option {
	return func(m *Manager) {
		m.scheduler = s
	}
}

// WithArchiver enables archiving of finished videos.
func WithArchiver(a Archiver) Option {
	return func(m *Manager) {
		m.archiver = a
	}
}

// WithArchiveTimeout bounds each archive upload.
func WithArchiveTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.archiveTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithIDGenerator overrides the session ID generator.
func WithIDGenerator(f func() string) Option {
	return func(m *Manager) {
		m.newID = f
	}
}

// NewManager creates a Manager whose sessions submit to p.
func NewManager(p provider.Provider, opts ...Option) *Manager {
	m := &Manager{
		provider:       p,
		pollConfig:     poller.DefaultConfig(),
		archiveTimeout: DefaultArchiveTimeout,
		logger:         slog.Default(),
		now:            time.Now,
		newID:          uuid.NewString,
		sessions:       make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a new session.
func (m *Manager) Create(_ context.Context) *Session {
	s := newSession(m.newID(), m.provider, m)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.id] = s
	return s
}

// Get retrieves a session by its ID.
func (m *Manager) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns snapshots of all sessions, oldest first.
func (m *Manager) List(_ context.Context) []Snapshot {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Delete cancels the session's pending work and removes it.
func (m *Manager) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// Close cancels every session. Used on shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
