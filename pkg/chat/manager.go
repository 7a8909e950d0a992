package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/aixgo-dev/embedchat/pkg/assistant"
	metrics "github.com/aixgo-dev/embedchat/pkg/observability"
)

// Defaults for ManagerConfig.
const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultSweepSchedule = "@every 1m"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// IdleTimeout closes sessions with no activity for this long.
	IdleTimeout time.Duration
	// SweepSchedule is a cron spec for the idle sweep.
	SweepSchedule string
	// MaxSessions caps live sessions; zero means unlimited.
	MaxSessions int
	// CancelOnClose is applied to every session the manager creates.
	CancelOnClose bool
	// Greeting overrides the default greeting.
	Greeting string
}

// Manager tracks the live sessions behind chat pages.
// Manager is safe for concurrent use.
type Manager interface {
	// Create registers a new session for configID. No upstream call is made.
	Create(configID string, creds assistant.Credentials) (*Session, error)

	// Get returns a live session.
	// Returns ErrSessionNotFound if the session doesn't exist.
	Get(sessionID string) (*Session, error)

	// Close closes and forgets a session.
	Close(ctx context.Context, sessionID string) error

	// Len returns the number of live sessions.
	Len() int

	// Sweep closes sessions idle for longer than the idle timeout and
	// returns how many it closed.
	Sweep(ctx context.Context) int

	// Start schedules the idle sweep.
	Start() error

	// Shutdown stops the sweep and closes every session.
	Shutdown(ctx context.Context) error
}

// managerImpl is the concrete implementation of Manager.
type managerImpl struct {
	runner   *Runner
	cfg      ManagerConfig
	cron     *cron.Cron
	now      func() time.Time
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewManager creates a session manager running turns through runner.
func NewManager(runner *Runner, cfg ManagerConfig) Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = DefaultSweepSchedule
	}
	return &managerImpl{
		runner:   runner,
		cfg:      cfg,
		cron:     cron.New(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session for configID.
func (m *managerImpl) Create(configID string, creds assistant.Credentials) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}

	sess := NewSession(m.runner, creds, SessionOptions{
		ConfigID:      configID,
		Greeting:      m.cfg.Greeting,
		CancelOnClose: m.cfg.CancelOnClose,
	})
	m.sessions[sess.ID()] = sess
	metrics.SetActiveSessions(len(m.sessions))
	return sess, nil
}

// Get returns a live session.
func (m *managerImpl) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Close closes and forgets a session.
func (m *managerImpl) Close(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	metrics.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	return sess.Close(ctx)
}

// Len returns the number of live sessions.
func (m *managerImpl) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep closes idle sessions. A session with a turn in flight is never idle.
func (m *managerImpl) Sweep(ctx context.Context) int {
	cutoff := m.now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle []*Session
	for id, sess := range m.sessions {
		if sess.Pending() || sess.LastActive().After(cutoff) {
			continue
		}
		idle = append(idle, sess)
		delete(m.sessions, id)
	}
	metrics.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	for _, sess := range idle {
		_ = sess.Close(ctx)
	}
	if len(idle) > 0 {
		log.Info().Int("closed", len(idle)).Msg("swept idle chat sessions")
	}
	return len(idle)
}

// Start schedules the idle sweep.
func (m *managerImpl) Start() error {
	if _, err := m.cron.AddFunc(m.cfg.SweepSchedule, func() {
		m.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	m.cron.Start()
	return nil
}

// Shutdown stops the sweep and closes every session.
func (m *managerImpl) Shutdown(ctx context.Context) error {
	stopped := m.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	metrics.SetActiveSessions(0)
	m.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.Close(ctx)
	}
	return nil
}
