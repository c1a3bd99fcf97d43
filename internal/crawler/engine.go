package crawler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	iduuid "github.com/JakeFAU/clinical-trials-crawler/internal/id/uuid"
	"github.com/JakeFAU/clinical-trials-crawler/internal/metrics"
	"github.com/JakeFAU/clinical-trials-crawler/internal/progress"
)

const tracerName = "github.com/JakeFAU/clinical-trials-crawler/internal/crawler"

const (
	defaultFlushEvery        = 10
	defaultMaxFlushFailures  = 3
	defaultFinalFlushTimeout = 30 * time.Second
)

// EngineConfig governs a crawl sweep.
type EngineConfig struct {
	Queries                     []string
	MaxPages                    int
	FlushEvery                  int
	MaxConsecutiveFlushFailures int
	FinalFlushTimeout           time.Duration
	Paginator                   PaginatorConfig
	Extractor                   ExtractorConfig
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEmitter sets the progress emitter.
func WithEmitter(emitter progress.Emitter) Option {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithClock sets the time source.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithIDGenerator sets the run ID source. Generated IDs must be UUIDs.
func WithIDGenerator(ids IDGenerator) Option {
	return func(e *Engine) {
		if ids != nil {
			e.ids = ids
		}
	}
}

// WithTracer sets the tracer used for run, query and flush spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// Engine sweeps queries, pages and detail records. Each browser backs one
// worker; the record log and every flush are serialized by a single mutex.
type Engine struct {
	cfg      EngineConfig
	browsers []Browser
	exporter Exporter
	emitter  progress.Emitter
	clock    Clock
	ids      IDGenerator
	logger   *zap.Logger
	tracer   trace.Tracer

	runID uuid.UUID

	mu                  sync.Mutex
	records             []TrialRecord
	dirty               bool
	consecutiveFailures int
	stats               Summary
}

// NewEngine validates cfg and wires the collaborators.
func NewEngine(cfg EngineConfig, browsers []Browser, exporter Exporter, opts ...Option) (*Engine, error) {
	if len(cfg.Queries) == 0 {
		return nil, errors.New("at least one query is required")
	}
	if cfg.MaxPages <= 0 {
		return nil, errors.New("max pages must be > 0")
	}
	if len(browsers) == 0 {
		return nil, errors.New("at least one browser is required")
	}
	if exporter == nil {
		return nil, errors.New("exporter is required")
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = defaultFlushEvery
	}
	if cfg.MaxConsecutiveFlushFailures <= 0 {
		cfg.MaxConsecutiveFlushFailures = defaultMaxFlushFailures
	}
	if cfg.FinalFlushTimeout <= 0 {
		cfg.FinalFlushTimeout = defaultFinalFlushTimeout
	}
	e := &Engine{
		cfg:      cfg,
		browsers: browsers,
		exporter: exporter,
		emitter:  progress.NopEmitter{},
		clock:    systemClock{},
		ids:      iduuid.New(),
		logger:   zap.NewNop(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run performs the sweep. Cancelling ctx stops the in-flight browser call,
// after which every accumulated record is flushed once more and Run returns
// with Summary.Interrupted set and no error. Session launch failures abort
// the sweep and are returned after the same final flush.
func (e *Engine) Run(ctx context.Context) (summary Summary, err error) {
	ctx, span := e.tracer.Start(ctx, "crawl.run")
	defer func() {
		span.SetAttributes(
			attribute.String("run_id", summary.RunID),
			attribute.Int("records", summary.Records),
			attribute.Bool("interrupted", summary.Interrupted),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	rawID, err := e.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	runID, err := uuid.Parse(rawID)
	if err != nil {
		return Summary{}, fmt.Errorf("parse run id %q: %w", rawID, err)
	}

	e.mu.Lock()
	e.runID = runID
	e.records = nil
	e.dirty = false
	e.consecutiveFailures = 0
	e.stats = Summary{RunID: runID.String()}
	e.mu.Unlock()

	start := e.clock.Now()
	e.emit(progress.Event{Stage: progress.StageRunStart})
	e.logger.Info("crawl started",
		zap.String("run_id", runID.String()),
		zap.Strings("queries", e.cfg.Queries),
		zap.Int("max_pages", e.cfg.MaxPages),
		zap.Int("workers", len(e.browsers)),
	)

	sweepErr := e.sweep(ctx)
	interrupted := ctx.Err() != nil
	if interrupted {
		e.logger.Warn("crawl interrupted, saving accumulated records", zap.Error(context.Cause(ctx)))
		sweepErr = nil
	}

	flushErr := e.finalFlush(ctx)

	e.mu.Lock()
	summary = e.stats
	summary.Records = len(e.records)
	e.mu.Unlock()
	summary.Interrupted = interrupted
	summary.Duration = e.clock.Now().Sub(start)

	runErr := errors.Join(sweepErr, flushErr)
	if runErr != nil {
		e.emit(progress.Event{Stage: progress.StageRunError, Count: summary.Records, Dur: summary.Duration, Note: runErr.Error()})
		e.logger.Error("crawl failed",
			zap.Int("records", summary.Records),
			zap.Duration("duration", summary.Duration),
			zap.Error(runErr),
		)
		return summary, runErr
	}
	e.emit(progress.Event{Stage: progress.StageRunDone, Count: summary.Records, Dur: summary.Duration})
	e.logger.Info("crawl finished",
		zap.Int("records", summary.Records),
		zap.Int("queries", summary.Queries),
		zap.Int("pages", summary.Pages),
		zap.Int("flushes", summary.Flushes),
		zap.Bool("interrupted", interrupted),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// Records returns a copy of the accumulated record log.
func (e *Engine) Records() []TrialRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.records)
}

type worker struct {
	id        int
	paginator *Paginator
	extractor *Extractor
}

func (e *Engine) sweep(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(e.browsers))

	pool := make(chan *worker, len(e.browsers))
	for i, b := range e.browsers {
		logger := e.logger.With(zap.Int("worker", i))
		pool <- &worker{
			id:        i,
			paginator: NewPaginator(b, e.cfg.Paginator, logger.Named("paginator")),
			extractor: NewExtractor(b, e.cfg.Extractor, logger.Named("extractor")),
		}
	}

	for _, query := range e.cfg.Queries {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			w := <-pool
			defer func() { pool <- w }()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			return e.crawlQuery(gctx, w, query)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	return nil
}

func (e *Engine) crawlQuery(ctx context.Context, w *worker, query string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := e.tracer.Start(ctx, "crawl.query", trace.WithAttributes(
		attribute.String("query", query),
		attribute.Int("worker", w.id),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger := e.logger.With(zap.String("query", query), zap.Int("worker", w.id))
	logger.Info("query started")

	var candidates []string
	for page := 1; page <= e.cfg.MaxPages; page++ {
		urls, err := w.paginator.ListCandidates(ctx, query, page)
		if err != nil {
			return fmt.Errorf("list %q page %d: %w", query, page, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		candidates = append(candidates, urls...)
		e.notePage(query, page, len(urls))
	}
	logger.Info("candidates collected", zap.Int("candidates", len(candidates)))

	for i, target := range candidates {
		res, err := w.extractor.Extract(ctx, target, query)
		if err != nil {
			return fmt.Errorf("extract %s: %w", target, err)
		}
		// An interrupted visit is dropped rather than saved half-read.
		if err := ctx.Err(); err != nil {
			return err
		}
		e.record(ctx, res)
		logger.Debug("record stored", zap.Int("index", i+1), zap.Int("of", len(candidates)))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Queries++
	if len(e.records) > 0 {
		_ = e.flushLocked(ctx, "query")
	}
	logger.Info("query finished", zap.Int("candidates", len(candidates)))
	return nil
}

func (e *Engine) notePage(query string, page, candidates int) {
	e.mu.Lock()
	e.stats.Pages++
	e.stats.Candidates += candidates
	e.mu.Unlock()
	e.emit(progress.Event{Stage: progress.StagePageDone, Query: query, Page: page, Count: candidates})
}

func (e *Engine) record(ctx context.Context, res Extraction) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, res.Record)
	e.dirty = true
	e.emit(progress.Event{
		Stage:  progress.StageRecordDone,
		Query:  res.Record.Disease,
		URL:    res.Record.URL,
		Status: string(res.Record.Status),
		Count:  len(e.records),
		Dur:    res.Duration,
	})
	if len(e.records)%e.cfg.FlushEvery == 0 {
		_ = e.flushLocked(ctx, "periodic")
	}
}

// flushLocked writes the full record log. Callers hold e.mu.
func (e *Engine) flushLocked(ctx context.Context, reason string) error {
	snapshot := slices.Clone(e.records)
	ctx, span := e.tracer.Start(ctx, "crawl.flush", trace.WithAttributes(
		attribute.String("reason", reason),
		attribute.Int("rows", len(snapshot)),
	))
	defer span.End()
	start := e.clock.Now()
	err := e.exporter.Flush(ctx, snapshot)
	dur := e.clock.Now().Sub(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.stats.FlushFailures++
		e.consecutiveFailures++
		metrics.ObserveFlush(false, 0)
		e.emit(progress.Event{Stage: progress.StageFlushError, Count: len(snapshot), Dur: dur, Note: err.Error()})
		fields := []zap.Field{
			zap.String("reason", reason),
			zap.Int("rows", len(snapshot)),
			zap.Int("consecutive_failures", e.consecutiveFailures),
			zap.Error(err),
		}
		if e.consecutiveFailures >= e.cfg.MaxConsecutiveFlushFailures {
			e.logger.Error("flush keeps failing, records are only held in memory", fields...)
		} else {
			e.logger.Warn("flush failed", fields...)
		}
		return err
	}

	e.consecutiveFailures = 0
	e.dirty = false
	e.stats.Flushes++
	metrics.ObserveFlush(true, len(snapshot))
	e.emit(progress.Event{Stage: progress.StageFlushDone, Count: len(snapshot), Dur: dur})
	e.logger.Info("records flushed", zap.String("reason", reason), zap.Int("rows", len(snapshot)))
	return nil
}

func (e *Engine) finalFlush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.dirty {
		return nil
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.FinalFlushTimeout)
	defer cancel()
	if err := e.flushLocked(fctx, "final"); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	return nil
}

func (e *Engine) emit(evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(e.runID)
	evt.TS = e.clock.Now().UTC()
	e.emitter.Emit(evt)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
