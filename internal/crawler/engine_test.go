package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/clinical-trials-crawler/internal/progress"
)

const testRunID = "0192b7a4-5a3e-7c1d-9e0f-0123456789ab"

// siteFixture builds listing and detail pages for one query.
func siteFixture(pages map[string]fakePage, query string, perPage [][]string) {
	for i, ids := range perPage {
		hrefs := make([]string, 0, len(ids))
		for _, id := range ids {
			hrefs = append(hrefs, "/study/"+id)
			pages[testBaseURL+"/study/"+id] = detailPage(id, "Sponsor of "+id, "Recruiting")
		}
		pages[ListingURL(testBaseURL, query, i+1)] = fakePage{html: listingHTML(hrefs...)}
	}
}

func trialIDs(prefix string, n int) []string {
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, fmt.Sprintf("%s%03d", prefix, i))
	}
	return out
}

func newTestEngine(t *testing.T, cfg EngineConfig, browsers []Browser, exp Exporter, opts ...Option) *Engine {
	t.Helper()
	cfg.Paginator.BaseURL = testBaseURL
	base := []Option{WithLogger(zaptest.NewLogger(t)), WithIDGenerator(fixedID(testRunID))}
	e, err := NewEngine(cfg, browsers, exp, append(base, opts...)...)
	require.NoError(t, err)
	return e
}

func TestNewEngineValidates(t *testing.T) {
	t.Parallel()

	b := []Browser{newFakeBrowser(nil)}
	_, err := NewEngine(EngineConfig{MaxPages: 1}, b, &memExporter{})
	require.Error(t, err)
	_, err = NewEngine(EngineConfig{Queries: []string{"Leukemia"}}, b, &memExporter{})
	require.Error(t, err)
	_, err = NewEngine(EngineConfig{Queries: []string{"Leukemia"}, MaxPages: 1}, nil, &memExporter{})
	require.Error(t, err)
	_, err = NewEngine(EngineConfig{Queries: []string{"Leukemia"}, MaxPages: 1}, b, nil)
	require.Error(t, err)
}

func TestEngineFlushesEveryTenAndPerQuery(t *testing.T) {
	t.Parallel()

	pages := map[string]fakePage{}
	siteFixture(pages, "Leukemia", [][]string{trialIDs("NCT1", 12)})
	exp := &memExporter{}
	emitter := &recordingEmitter{}
	e := newTestEngine(t, EngineConfig{Queries: []string{"Leukemia"}, MaxPages: 1},
		[]Browser{newFakeBrowser(pages)}, exp, WithEmitter(emitter))

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{10, 12}, exp.Sizes())
	assert.Equal(t, 12, summary.Records)
	assert.Equal(t, 1, summary.Queries)
	assert.Equal(t, 1, summary.Pages)
	assert.Equal(t, 12, summary.Candidates)
	assert.Equal(t, 2, summary.Flushes)
	assert.False(t, summary.Interrupted)
	assert.Equal(t, testRunID, summary.RunID)

	last := exp.Last()
	require.Len(t, last, 12)
	assert.Equal(t, TrialRecord{
		Disease: "Leukemia",
		Sponsor: "Sponsor of NCT1001",
		Status:  StatusRecruiting,
		Title:   "Study NCT1001",
		URL:     testBaseURL + "/study/NCT1001",
	}, last[0])

	stages := emitter.Stages()
	require.NotEmpty(t, stages)
	assert.Equal(t, progress.StageRunStart, stages[0])
	assert.Equal(t, progress.StageRunDone, stages[len(stages)-1])
	assert.Contains(t, stages, progress.StageFlushDone)
}

func TestEngineMonotonicFlushMatchesMemory(t *testing.T) {
	t.Parallel()

	pages := map[string]fakePage{}
	siteFixture(pages, "Lung Cancer", [][]string{trialIDs("NCT2", 15), trialIDs("NCT3", 10)})
	exp := &memExporter{}
	e := newTestEngine(t, EngineConfig{Queries: []string{"Lung Cancer"}, MaxPages: 2},
		[]Browser{newFakeBrowser(pages)}, exp)

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{10, 20, 25}, exp.Sizes())
	assert.Equal(t, e.Records(), exp.Last())
}

func TestEngineKeepsCrossPageDuplicates(t *testing.T) {
	t.Parallel()

	pages := map[string]fakePage{}
	siteFixture(pages, "Prostate Cancer", [][]string{{"NCT900", "NCT901"}, {"NCT901"}})
	exp := &memExporter{}
	e := newTestEngine(t, EngineConfig{Queries: []string{"Prostate Cancer"}, MaxPages: 3},
		[]Browser{newFakeBrowser(pages)}, exp)

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	// Page 3 is missing from the fixture and contributes nothing.
	assert.Equal(t, 3, summary.Pages)
	require.Len(t, exp.Last(), 3)
	assert.Equal(t, testBaseURL+"/study/NCT901", exp.Last()[1].URL)
	assert.Equal(t, testBaseURL+"/study/NCT901", exp.Last()[2].URL)
}

func TestEngineInterruptFlushesAccumulated(t *testing.T) {
	t.Parallel()

	pages := map[string]fakePage{}
	ids := trialIDs("NCT4", 5)
	siteFixture(pages, "Breast Cancer", [][]string{ids})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := newFakeBrowser(pages)
	b.onNavigate = func(url string) {
		if url == testBaseURL+"/study/"+ids[2] {
			cancel()
		}
	}
	exp := &memExporter{}
	e := newTestEngine(t, EngineConfig{Queries: []string{"Breast Cancer", "Leukemia"}, MaxPages: 1},
		[]Browser{b}, exp)

	summary, err := e.Run(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 2, summary.Records)
	assert.Equal(t, []int{2}, exp.Sizes())
	assert.Zero(t, summary.Queries)
}

func TestEngineSessionLaunchFailureIsFatal(t *testing.T) {
	t.Parallel()

	launchErr := errors.New("allocate browser: chrome not found")
	b := newFakeBrowser(nil)
	b.ensureErr = launchErr
	exp := &memExporter{}
	emitter := &recordingEmitter{}
	e := newTestEngine(t, EngineConfig{Queries: []string{"Leukemia"}, MaxPages: 3},
		[]Browser{b}, exp, WithEmitter(emitter))

	_, err := e.Run(context.Background())
	require.ErrorIs(t, err, launchErr)
	assert.Empty(t, exp.Sizes(), "nothing accumulated, nothing to flush")
	stages := emitter.Stages()
	assert.Equal(t, progress.StageRunError, stages[len(stages)-1])
}

func TestEngineFlushFailuresEscalate(t *testing.T) {
	t.Parallel()

	pages := map[string]fakePage{}
	siteFixture(pages, "Leukemia", [][]string{trialIDs("NCT5", 10)})
	diskErr := errors.New("open data/out.csv: permission denied")
	exp := &memExporter{err: diskErr}
	core, logs := observer.New(zapcore.WarnLevel)

	e, err := NewEngine(EngineConfig{
		Queries:                     []string{"Leukemia"},
		MaxPages:                    1,
		MaxConsecutiveFlushFailures: 2,
		Paginator:                   PaginatorConfig{BaseURL: testBaseURL},
	}, []Browser{newFakeBrowser(pages)}, exp, WithLogger(zap.New(core)), WithIDGenerator(fixedID(testRunID)))
	require.NoError(t, err)

	summary, err := e.Run(context.Background())
	require.ErrorIs(t, err, diskErr)
	assert.Equal(t, 3, summary.FlushFailures, "periodic, per-query and final flush all failed")
	assert.Equal(t, 10, summary.Records)
	assert.Len(t, e.Records(), 10, "records stay in memory when flushes fail")

	assert.Equal(t, 1, logs.FilterMessage("flush failed").Len())
	assert.Equal(t, 2, logs.FilterMessage("flush keeps failing, records are only held in memory").Len())
}

func TestEngineWorkerPoolCoversAllQueries(t *testing.T) {
	t.Parallel()

	queries := []string{"Lung Cancer", "Breast Cancer", "Pancreatic Cancer"}
	pages := map[string]fakePage{}
	for i, q := range queries {
		siteFixture(pages, q, [][]string{trialIDs(fmt.Sprintf("NCT6%d", i), 4)})
	}
	browsers := []Browser{newFakeBrowser(pages), newFakeBrowser(pages)}
	exp := &memExporter{}
	e := newTestEngine(t, EngineConfig{Queries: queries, MaxPages: 1, FinalFlushTimeout: time.Second},
		browsers, exp)

	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Queries)
	assert.Equal(t, 12, summary.Records)
	assert.Len(t, exp.Last(), 12)

	perDisease := map[string]int{}
	for _, r := range exp.Last() {
		perDisease[r.Disease]++
	}
	for _, q := range queries {
		assert.Equal(t, 4, perDisease[q], q)
	}
}

func TestEngineRecordsSpans(t *testing.T) {
	t.Parallel()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	pages := map[string]fakePage{}
	siteFixture(pages, "Leukemia", [][]string{trialIDs("NCT7", 3)})
	exp := &memExporter{}
	e := newTestEngine(t, EngineConfig{Queries: []string{"Leukemia"}, MaxPages: 1},
		[]Browser{newFakeBrowser(pages)}, exp, WithTracer(tp.Tracer("test")))

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	names := map[string]int{}
	for _, s := range rec.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, 1, names["crawl.run"])
	assert.Equal(t, 1, names["crawl.query"])
	assert.Equal(t, 1, names["crawl.flush"])
}
