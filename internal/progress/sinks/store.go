package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/clinical-trials-crawler/internal/progress"
	"github.com/JakeFAU/clinical-trials-crawler/internal/store"
)

// StoreSink persists run milestones via a store.RunRepository. Flushes within
// one batch collapse to the latest row count per run.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type flushMark struct {
	rows int
	at   time.Time
}

// Consume forwards lifecycle events to the repository in batch order. It
// returns repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	flushes := make(map[uuid.UUID]flushMark)
	var order []uuid.UUID

	writeFlushes := func() error {
		for _, id := range order {
			mark := flushes[id]
			if err := s.repo.RecordFlush(ctx, id, mark.rows, mark.at); err != nil {
				return fmt.Errorf("record flush: %w", err)
			}
		}
		clear(flushes)
		order = order[:0]
		return nil
	}

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, runID, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageFlushDone:
			if _, ok := flushes[runID]; !ok {
				order = append(order, runID)
			}
			flushes[runID] = flushMark{rows: evt.Count, at: evt.TS}
		case progress.StageRunDone, progress.StageRunError:
			if err := writeFlushes(); err != nil {
				return err
			}
			status := store.RunSuccess
			var note *string
			if evt.Stage == progress.StageRunError {
				status = store.RunError
				if evt.Note != "" {
					msg := evt.Note
					note = &msg
				}
			}
			if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, note); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
			s.logger.Debug("run recorded", zap.String("run_id", runID.String()), zap.String("status", string(status)))
		}
	}
	return writeFlushes()
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
