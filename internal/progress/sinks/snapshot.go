package sinks

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/JakeFAU/clinical-trials-crawler/internal/progress"
)

// Run states reported by Snapshot.State.
const (
	StateIdle    = "idle"
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
)

// Snapshot is the aggregated view of the current crawl run.
type Snapshot struct {
	RunID         string         `json:"run_id,omitempty"`
	State         string         `json:"state"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty"`
	CurrentQuery  string         `json:"current_query,omitempty"`
	Pages         int            `json:"pages"`
	Candidates    int            `json:"candidates"`
	Records       int            `json:"records"`
	Statuses      map[string]int `json:"statuses"`
	Flushes       int            `json:"flushes"`
	FlushErrors   int            `json:"flush_errors"`
	LastFlushRows int            `json:"last_flush_rows"`
	LastError     string         `json:"last_error,omitempty"`
	UpdatedAt     *time.Time     `json:"updated_at,omitempty"`
}

// SnapshotSink folds events into an in-memory Snapshot.
type SnapshotSink struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewSnapshotSink returns an idle SnapshotSink.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{snap: Snapshot{State: StateIdle, Statuses: map[string]int{}}}
}

// Consume applies the batch to the snapshot.
func (s *SnapshotSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *SnapshotSink) apply(evt progress.Event) {
	ts := evt.TS
	runID := evt.RunUUID().String()
	if evt.Stage == progress.StageRunStart {
		s.snap = Snapshot{
			RunID:     runID,
			State:     StateRunning,
			StartedAt: &ts,
			Statuses:  map[string]int{},
		}
	}
	if s.snap.RunID != "" && s.snap.RunID != runID {
		return
	}
	if s.snap.RunID == "" {
		s.snap.RunID = runID
	}
	switch evt.Stage {
	case progress.StagePageDone:
		s.snap.CurrentQuery = evt.Query
		s.snap.Pages++
		s.snap.Candidates += evt.Count
	case progress.StageRecordDone:
		s.snap.CurrentQuery = evt.Query
		s.snap.Records++
		s.snap.Statuses[evt.Status]++
	case progress.StageFlushDone:
		s.snap.Flushes++
		s.snap.LastFlushRows = evt.Count
	case progress.StageFlushError:
		s.snap.FlushErrors++
		s.snap.LastError = evt.Note
	case progress.StageRunDone:
		s.snap.State = StateDone
		s.snap.FinishedAt = &ts
		s.snap.CurrentQuery = ""
	case progress.StageRunError:
		s.snap.State = StateFailed
		s.snap.FinishedAt = &ts
		s.snap.LastError = evt.Note
	}
	s.snap.UpdatedAt = &ts
}

// Snapshot returns a copy of the current state.
func (s *SnapshotSink) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.snap
	out.Statuses = maps.Clone(s.snap.Statuses)
	if out.Statuses == nil {
		out.Statuses = map[string]int{}
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}
