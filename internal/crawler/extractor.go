package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/clinical-trials-crawler/internal/metrics"
)

// ExtractorConfig controls detail page rendering.
type ExtractorConfig struct {
	WaitTimeout time.Duration
	Settle      time.Duration
}

// Extractor renders trial detail pages and applies the text rules.
type Extractor struct {
	browser Browser
	cfg     ExtractorConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewExtractor binds an Extractor to one browser.
func NewExtractor(browser Browser, cfg ExtractorConfig, logger *zap.Logger) *Extractor {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{browser: browser, cfg: cfg, logger: logger, now: time.Now}
}

// Extract visits url and returns a record tagged with the fields it found.
// Render failures leave the remaining fields at their defaults and are
// reported through Extraction.Err; the returned error is non-nil only when
// the session cannot be relaunched.
func (x *Extractor) Extract(ctx context.Context, url, query string) (Extraction, error) {
	start := x.now()
	res := Extraction{Record: NewRecord(query, url)}
	if err := x.browser.EnsureAlive(ctx); err != nil {
		return res, fmt.Errorf("ensure session: %w", err)
	}

	res.Err = x.populate(ctx, &res)
	res.Duration = x.now().Sub(start)

	fields := []zap.Field{
		zap.String("query", query),
		zap.String("url", url),
		zap.String("status", string(res.Record.Status)),
		zap.String("sponsor", res.Record.Sponsor),
	}
	if res.Err != nil {
		x.logger.Warn("detail page partially extracted", append(fields, zap.Error(res.Err))...)
	} else {
		x.logger.Info("detail page extracted", fields...)
	}
	metrics.ObserveRecord(query, string(res.Record.Status), res.Defaulted(), res.Duration)
	return res, nil
}

func (x *Extractor) populate(ctx context.Context, res *Extraction) error {
	if err := x.browser.Navigate(ctx, res.Record.URL); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if err := x.browser.WaitReady(ctx, "body", x.cfg.WaitTimeout); err != nil {
		return fmt.Errorf("wait for body: %w", err)
	}
	if err := sleepCtx(ctx, x.cfg.Settle); err != nil {
		return err
	}

	title, err := x.browser.Title(ctx)
	if err != nil {
		return fmt.Errorf("read title: %w", err)
	}
	if cleaned := CleanTitle(title); cleaned != "" {
		res.Record.Title = cleaned
		res.TitleFound = true
	}

	text, err := x.browser.Text(ctx, "body")
	if err != nil {
		return fmt.Errorf("read body text: %w", err)
	}
	res.Record.Status, res.StatusFound = MatchStatus(text)
	res.Record.Sponsor, res.SponsorFound = FindSponsor(SplitLines(text))
	return nil
}
