package crawler

import (
	"context"
	"time"
)

// Browser is the rendering capability the paginator and extractor drive. A
// Browser is used by one goroutine at a time; EnsureAlive must precede every
// navigation.
type Browser interface {
	EnsureAlive(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	WaitReady(ctx context.Context, selector string, timeout time.Duration) error
	Location(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Text(ctx context.Context, selector string) (string, error)
	HTML(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string) error
}

// Exporter persists the full current record set.
type Exporter interface {
	Flush(ctx context.Context, records []TrialRecord) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
