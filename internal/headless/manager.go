package headless

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/clinical-trials-crawler/internal/metrics"
)

const defaultProbeTimeout = 5 * time.Second

// Manager owns exactly one live Session. EnsureAlive probes it and swaps in
// a fresh one when the probe fails; all other calls are delegated under the
// same lock so no two browser operations are ever outstanding at once.
type Manager struct {
	mu           sync.Mutex
	launch       Launcher
	cfg          LaunchConfig
	probeTimeout time.Duration
	logger       *zap.Logger
	limiter      NavigationLimiter

	session  Session
	restarts int
	closed   bool
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithProbeTimeout bounds the liveness probe.
func WithProbeTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.probeTimeout = d
		}
	}
}

// NavigationLimiter paces navigations; it may be shared by several managers.
type NavigationLimiter interface {
	Wait(ctx context.Context, url string) error
}

// WithNavigationLimiter throttles Navigate calls.
func WithNavigationLimiter(l NavigationLimiter) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.limiter = l
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager returns a Manager that launches sessions lazily with launch.
func NewManager(launch Launcher, cfg LaunchConfig, opts ...ManagerOption) *Manager {
	m := &Manager{
		launch:       launch,
		cfg:          cfg,
		probeTimeout: defaultProbeTimeout,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the first session if none is running.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSessionClosed
	}
	if m.session != nil {
		return nil
	}
	return m.launchLocked(ctx)
}

// EnsureAlive probes the current session by reading its location. A failed
// probe discards the session, ignoring its shutdown error, and launches a
// replacement with the original LaunchConfig. Launch errors are returned.
func (m *Manager) EnsureAlive(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSessionClosed
	}
	if m.session == nil {
		return m.launchLocked(ctx)
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	_, err := m.session.Location(probeCtx)
	cancel()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	m.logger.Warn("browser session unresponsive, restarting", zap.Error(err))
	_ = m.session.Close()
	m.session = nil
	if err := m.launchLocked(ctx); err != nil {
		return err
	}
	m.restarts++
	metrics.ObserveSessionRestart()
	m.logger.Info("browser session restarted", zap.Int("restarts", m.restarts))
	return nil
}

func (m *Manager) launchLocked(ctx context.Context) error {
	session, err := m.launch(ctx, m.cfg)
	if err != nil {
		return fmt.Errorf("launch browser session: %w", err)
	}
	m.session = session
	return nil
}

// Restarts reports how many times a dead session was replaced.
func (m *Manager) Restarts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restarts
}

// Close tears down the current session. The Manager cannot be reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.session == nil {
		return nil
	}
	err := m.session.Close()
	m.session = nil
	if err != nil {
		return fmt.Errorf("close browser session: %w", err)
	}
	return nil
}

func (m *Manager) with(fn func(Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.session == nil {
		return ErrSessionClosed
	}
	return fn(m.session)
}

// Location delegates to the current session.
func (m *Manager) Location(ctx context.Context) (string, error) {
	var loc string
	err := m.with(func(s Session) error {
		var err error
		loc, err = s.Location(ctx)
		return err
	})
	return loc, err
}

// Navigate waits for the navigation limiter, when set, then delegates to the
// current session.
func (m *Manager) Navigate(ctx context.Context, url string) error {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx, url); err != nil {
			return err
		}
	}
	return m.with(func(s Session) error { return s.Navigate(ctx, url) })
}

// WaitReady delegates to the current session.
func (m *Manager) WaitReady(ctx context.Context, selector string, timeout time.Duration) error {
	return m.with(func(s Session) error { return s.WaitReady(ctx, selector, timeout) })
}

// Title delegates to the current session.
func (m *Manager) Title(ctx context.Context) (string, error) {
	var title string
	err := m.with(func(s Session) error {
		var err error
		title, err = s.Title(ctx)
		return err
	})
	return title, err
}

// Text delegates to the current session.
func (m *Manager) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := m.with(func(s Session) error {
		var err error
		text, err = s.Text(ctx, selector)
		return err
	})
	return text, err
}

// HTML delegates to the current session.
func (m *Manager) HTML(ctx context.Context) (string, error) {
	var html string
	err := m.with(func(s Session) error {
		var err error
		html, err = s.HTML(ctx)
		return err
	})
	return html, err
}

// Evaluate delegates to the current session.
func (m *Manager) Evaluate(ctx context.Context, script string) error {
	return m.with(func(s Session) error { return s.Evaluate(ctx, script) })
}
