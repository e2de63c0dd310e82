package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	errs "github.com/sweetpotato0/chai-tokenizer/errors"
	"github.com/sweetpotato0/chai-tokenizer/pkg/logging"
	"github.com/sweetpotato0/chai-tokenizer/tokenizer"
	"k8s.io/utils/clock"
)

// Manager keeps live sessions by id. Every session it creates shares the
// manager's provider and default options. A session counts as active
// whenever it is created or fetched; Reap closes the ones left idle.
type Manager struct {
	mu       sync.RWMutex
	provider tokenizer.Provider
	defaults []Option
	sessions map[string]*managed
	clock    clock.PassiveClock
	logger   *slog.Logger
}

type managed struct {
	sess     *Session
	lastSeen time.Time
}

// ManagerOption is a function that configures a Manager.
type ManagerOption func(*Manager)

// WithSessionOptions sets options applied to every created session, before
// the per-call options.
func WithSessionOptions(opts ...Option) ManagerOption {
	return func(m *Manager) {
		m.defaults = append(m.defaults, opts...)
	}
}

// WithManagerClock replaces the clock used to track session activity.
func WithManagerClock(c clock.PassiveClock) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithManagerLogger overrides the logger used by the manager.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a session manager.
//
// Example:
//
//	mgr := session.NewManager(registry, session.WithSessionOptions(session.WithClipboard(&clipboard.Memory{})))
func NewManager(provider tokenizer.Provider, opts ...ManagerOption) *Manager {
	m := &Manager{
		provider: provider,
		sessions: make(map[string]*managed),
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.WithComponent("session_manager")
	}
	return m
}

// Create starts a new session. Without WithID the session gets a random id.
func (m *Manager) Create(opts ...Option) (*Session, error) {
	all := make([]Option, 0, len(m.defaults)+len(opts))
	all = append(all, m.defaults...)
	all = append(all, opts...)
	sess := New(m.provider, all...)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sess.ID()]; exists {
		m.logger.Warn("create session aborted; already exists", "id", sess.ID())
		_ = sess.Close()
		return nil, fmt.Errorf("%w: session %s already exists", errs.ErrInvalidInput, sess.ID())
	}
	m.sessions[sess.ID()] = &managed{sess: sess, lastSeen: m.clock.Now()}
	m.logger.Info("session created", "id", sess.ID())
	return sess, nil
}

// Get retrieves a session by ID and marks it active.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", errs.ErrNotFound, id)
	}
	entry.lastSeen = m.clock.Now()
	return entry.sess, nil
}

// Close tears down a session and forgets it.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: session %s", errs.ErrNotFound, id)
	}
	if err := entry.sess.Close(); err != nil {
		m.logger.Warn("close session failed", "id", id, "error", err)
		return err
	}
	m.logger.Info("session closed", "id", id)
	return nil
}

// List returns the ids of live sessions in sorted order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll tears down every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*managed)
	m.mu.Unlock()

	for id, entry := range sessions {
		if err := entry.sess.Close(); err != nil {
			m.logger.Warn("close session failed", "id", id, "error", err)
		}
	}
	if len(sessions) > 0 {
		m.logger.Info("all sessions closed", "count", len(sessions))
	}
}

// Reap closes and forgets every session not created or fetched within idle.
// It returns the number of sessions closed.
func (m *Manager) Reap(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}

	m.mu.Lock()
	now := m.clock.Now()
	var stale []*managed
	for id, entry := range m.sessions {
		if now.Sub(entry.lastSeen) >= idle {
			stale = append(stale, entry)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, entry := range stale {
		if err := entry.sess.Close(); err != nil {
			m.logger.Warn("close idle session failed", "id", entry.sess.ID(), "error", err)
		}
	}
	if len(stale) > 0 {
		m.logger.Info("idle sessions reaped", "count", len(stale), "idle", idle)
	}
	return len(stale)
}
