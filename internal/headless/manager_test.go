package headless

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSession struct {
	mu       sync.Mutex
	id       int
	locationErr error
	closeErr error
	closed   bool
	visited  []string
}

func (s *fakeSession) Location(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.locationErr != nil {
		return "", s.locationErr
	}
	return "about:blank", nil
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visited = append(s.visited, url)
	return nil
}

func (s *fakeSession) WaitReady(context.Context, string, time.Duration) error { return nil }
func (s *fakeSession) Title(context.Context) (string, error)                 { return "title", nil }
func (s *fakeSession) Text(context.Context, string) (string, error)          { return "text", nil }
func (s *fakeSession) HTML(context.Context) (string, error)                  { return "<html></html>", nil }
func (s *fakeSession) Evaluate(context.Context, string) error                { return nil }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeErr
}

func (s *fakeSession) kill(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locationErr = err
}

type fakeLauncher struct {
	mu       sync.Mutex
	sessions []*fakeSession
	configs  []LaunchConfig
	err      error
}

func (l *fakeLauncher) Launch(_ context.Context, cfg LaunchConfig) (Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configs = append(l.configs, cfg)
	if l.err != nil {
		return nil, l.err
	}
	s := &fakeSession{id: len(l.sessions) + 1}
	l.sessions = append(l.sessions, s)
	return s, nil
}

var testLaunchConfig = LaunchConfig{
	Headless:  true,
	UserAgent: "Mozilla/5.0 test",
	Width:     1920,
	Height:    1080,
}

func newTestManager(t *testing.T, l *fakeLauncher) *Manager {
	t.Helper()
	return NewManager(l.Launch, testLaunchConfig, WithLogger(zaptest.NewLogger(t)), WithProbeTimeout(time.Second))
}

func TestEnsureAliveHealthyIsNoop(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	m := newTestManager(t, l)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.EnsureAlive(ctx))
	require.NoError(t, m.EnsureAlive(ctx))

	assert.Len(t, l.sessions, 1)
	assert.Zero(t, m.Restarts())
	assert.False(t, l.sessions[0].closed)
}

func TestEnsureAliveLaunchesLazily(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	m := newTestManager(t, l)

	require.NoError(t, m.EnsureAlive(context.Background()))
	assert.Len(t, l.sessions, 1)
	assert.Zero(t, m.Restarts())
}

func TestEnsureAliveReplacesDeadSession(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	m := newTestManager(t, l)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	first := l.sessions[0]
	first.kill(errors.New("websocket: close 1006"))
	first.closeErr = errors.New("process already exited")

	require.NoError(t, m.EnsureAlive(ctx))
	require.Len(t, l.sessions, 2)
	assert.True(t, first.closed)
	assert.Equal(t, 1, m.Restarts())
	assert.Equal(t, []LaunchConfig{testLaunchConfig, testLaunchConfig}, l.configs)

	require.NoError(t, m.Navigate(ctx, "https://trials.test/study/NCT1"))
	assert.Empty(t, first.visited)
	assert.Equal(t, []string{"https://trials.test/study/NCT1"}, l.sessions[1].visited)
}

func TestEnsureAliveLaunchFailurePropagates(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	m := newTestManager(t, l)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	launchErr := errors.New("exec: google-chrome: not found")
	l.sessions[0].kill(errors.New("dead"))
	l.err = launchErr

	err := m.EnsureAlive(ctx)
	require.ErrorIs(t, err, launchErr)
	assert.Zero(t, m.Restarts())
	require.ErrorIs(t, m.Navigate(ctx, "https://trials.test"), ErrSessionClosed)
}

func TestEnsureAliveCanceledContextKeepsSession(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	m := newTestManager(t, l)
	require.NoError(t, m.Start(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, m.EnsureAlive(ctx), context.Canceled)
	assert.Len(t, l.sessions, 1)
	assert.False(t, l.sessions[0].closed)
}

func TestManagerClose(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	m := newTestManager(t, l)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.True(t, l.sessions[0].closed)
	require.ErrorIs(t, m.EnsureAlive(ctx), ErrSessionClosed)
	_, err := m.Title(ctx)
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestManagerDelegates(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	m := newTestManager(t, l)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	loc, err := m.Location(ctx)
	require.NoError(t, err)
	assert.Equal(t, "about:blank", loc)
	title, err := m.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "title", title)
	text, err := m.Text(ctx, "body")
	require.NoError(t, err)
	assert.Equal(t, "text", text)
	html, err := m.HTML(ctx)
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", html)
	require.NoError(t, m.WaitReady(ctx, "body", time.Second))
	require.NoError(t, m.Evaluate(ctx, "1+1"))
}

type recordingLimiter struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (r *recordingLimiter) Wait(_ context.Context, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, url)
	return r.err
}

func TestManagerNavigateWaitsForLimiter(t *testing.T) {
	t.Parallel()

	l := &fakeLauncher{}
	lim := &recordingLimiter{}
	m := NewManager(l.Launch, testLaunchConfig, WithNavigationLimiter(lim), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))

	require.NoError(t, m.Navigate(ctx, "https://trials.test/study/NCT1"))
	assert.Equal(t, []string{"https://trials.test/study/NCT1"}, lim.urls)

	lim.err = errors.New("rate limit wait: would exceed deadline")
	require.Error(t, m.Navigate(ctx, "https://trials.test/study/NCT2"))
	assert.Equal(t, []string{"https://trials.test/study/NCT1"}, l.sessions[0].visited)
}
