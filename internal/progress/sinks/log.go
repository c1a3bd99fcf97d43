package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/clinical-trials-crawler/internal/progress"
)

// LogSink emits one structured log line per progress event. It is useful
// during development or audits of a single run.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Query != "" {
			fields = append(fields, zap.String("query", evt.Query))
		}
		if evt.Page > 0 {
			fields = append(fields, zap.Int("page", evt.Page))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Status != "" {
			fields = append(fields, zap.String("status", evt.Status))
		}
		fields = append(fields, zap.Int("count", evt.Count), zap.Duration("dur", evt.Dur))
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
