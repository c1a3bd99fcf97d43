package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/clinical-trials-crawler/internal/crawler"
	"github.com/JakeFAU/clinical-trials-crawler/internal/metrics"
)

// Batch is one successful flush as seen by a mirror.
type Batch struct {
	RunID     string
	Records   []crawler.TrialRecord
	CSV       []byte
	FlushedAt time.Time
}

// Mirror receives a copy of every successful flush.
type Mirror interface {
	Name() string
	Mirror(ctx context.Context, batch Batch) error
}

// Fanout delegates to a primary exporter and then replays the flush to each
// mirror. Only a primary failure is returned; mirror failures are logged and
// counted.
type Fanout struct {
	runID   string
	primary crawler.Exporter
	mirrors []Mirror
	now     func() time.Time
	logger  *zap.Logger
}

// FanoutOption customizes a Fanout.
type FanoutOption func(*Fanout)

// WithFanoutLogger sets the logger used for mirror failures.
func WithFanoutLogger(logger *zap.Logger) FanoutOption {
	return func(f *Fanout) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithNow overrides the flush timestamp source.
func WithNow(now func() time.Time) FanoutOption {
	return func(f *Fanout) {
		if now != nil {
			f.now = now
		}
	}
}

// NewFanout wires a primary exporter with zero or more mirrors for runID.
func NewFanout(runID string, primary crawler.Exporter, mirrors []Mirror, opts ...FanoutOption) (*Fanout, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	if primary == nil {
		return nil, errors.New("primary exporter is required")
	}
	f := &Fanout{
		runID:   runID,
		primary: primary,
		mirrors: mirrors,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Flush implements crawler.Exporter.
func (f *Fanout) Flush(ctx context.Context, records []crawler.TrialRecord) error {
	if err := f.primary.Flush(ctx, records); err != nil {
		return err
	}
	if len(f.mirrors) == 0 {
		return nil
	}
	data, err := Encode(records)
	if err != nil {
		f.logger.Warn("encode mirror batch", zap.Error(err))
		return nil
	}
	batch := Batch{
		RunID:     f.runID,
		Records:   records,
		CSV:       data,
		FlushedAt: f.now(),
	}
	for _, m := range f.mirrors {
		if err := m.Mirror(ctx, batch); err != nil {
			metrics.ObserveMirrorFailure(m.Name())
			f.logger.Warn("export mirror failed",
				zap.String("mirror", m.Name()),
				zap.String("run_id", f.runID),
				zap.Int("rows", len(records)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// BlobStore stores a named object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// BlobMirror uploads the flushed CSV to prefix/<run_id>.csv.
type BlobMirror struct {
	name   string
	store  BlobStore
	prefix string
	logger *zap.Logger
}

// NewBlobMirror returns a Mirror writing to store.
func NewBlobMirror(name string, store BlobStore, prefix string, logger *zap.Logger) *BlobMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobMirror{name: name, store: store, prefix: prefix, logger: logger}
}

// Name implements Mirror.
func (m *BlobMirror) Name() string { return m.name }

// Mirror implements Mirror.
func (m *BlobMirror) Mirror(ctx context.Context, batch Batch) error {
	key := path.Join(m.prefix, batch.RunID+".csv")
	uri, err := m.store.PutObject(ctx, key, "text/csv; charset=utf-8", bytes.NewReader(batch.CSV))
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	m.logger.Debug("export mirrored", zap.String("uri", uri), zap.Int("rows", len(batch.Records)))
	return nil
}

// Publisher publishes a JSON-encodable payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// FlushNotice is the payload announced after each flush.
type FlushNotice struct {
	RunID     string    `json:"run_id"`
	Rows      int       `json:"rows"`
	Path      string    `json:"path"`
	FlushedAt time.Time `json:"flushed_at"`
}

// Notifier announces flushes on a topic.
type Notifier struct {
	publisher Publisher
	topic     string
	path      string
}

// NewNotifier returns a Mirror that publishes a FlushNotice for the export
// at exportPath.
func NewNotifier(publisher Publisher, topic, exportPath string) *Notifier {
	return &Notifier{publisher: publisher, topic: topic, path: exportPath}
}

// Name implements Mirror.
func (n *Notifier) Name() string { return "pubsub" }

// Mirror implements Mirror.
func (n *Notifier) Mirror(ctx context.Context, batch Batch) error {
	notice := FlushNotice{
		RunID:     batch.RunID,
		Rows:      len(batch.Records),
		Path:      n.path,
		FlushedAt: batch.FlushedAt,
	}
	if _, err := n.publisher.Publish(ctx, n.topic, notice); err != nil {
		return fmt.Errorf("publish flush notice: %w", err)
	}
	return nil
}
