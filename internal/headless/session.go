// Package headless owns the controllable browser session used by the crawler:
// a chromedp-backed Session and a Manager that probes liveness before each
// navigation and replaces a dead session with a fresh one.
package headless

import (
	"context"
	"errors"
	"time"
)

// ErrSessionClosed is returned once a session or manager has been closed.
var ErrSessionClosed = errors.New("browser session closed")

// Session is one live rendering engine instance. It is not safe for
// concurrent use; the Manager serializes access.
type Session interface {
	Location(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string) error
	WaitReady(ctx context.Context, selector string, timeout time.Duration) error
	Title(ctx context.Context) (string, error)
	Text(ctx context.Context, selector string) (string, error)
	HTML(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string) error
	Close() error
}

// LaunchConfig is reused verbatim for every (re)launch.
type LaunchConfig struct {
	Headless   bool
	UserAgent  string
	Width      int
	Height     int
	ExecPath   string
	NoSandbox  bool
	NavTimeout time.Duration
}

// Launcher starts a new Session.
type Launcher func(ctx context.Context, cfg LaunchConfig) (Session, error)
