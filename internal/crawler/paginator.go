package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/clinical-trials-crawler/internal/metrics"
)

// DefaultResultsSelector marks a rendered search result card.
const DefaultResultsSelector = ".usa-card__container"

const scrollToBottom = `window.scrollTo(0, document.body.scrollHeight);`

// PaginatorConfig controls listing page rendering.
type PaginatorConfig struct {
	BaseURL         string
	ResultsSelector string
	WaitTimeout     time.Duration
	Settle          time.Duration
}

// Paginator renders search result pages and collects candidate detail URLs.
type Paginator struct {
	browser Browser
	cfg     PaginatorConfig
	logger  *zap.Logger
}

// NewPaginator binds a Paginator to one browser.
func NewPaginator(browser Browser, cfg PaginatorConfig, logger *zap.Logger) *Paginator {
	if cfg.ResultsSelector == "" {
		cfg.ResultsSelector = DefaultResultsSelector
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paginator{browser: browser, cfg: cfg, logger: logger}
}

// ListCandidates returns the detail URLs on one listing page, deduplicated
// within the page and in DOM order. Render failures yield an empty slice; an
// error is returned only when the session cannot be relaunched or ctx is done.
func (p *Paginator) ListCandidates(ctx context.Context, query string, page int) ([]string, error) {
	if err := p.browser.EnsureAlive(ctx); err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}

	target := ListingURL(p.cfg.BaseURL, query, page)
	urls, err := p.collect(ctx, target)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		p.logger.Warn("listing page failed",
			zap.String("query", query),
			zap.Int("page", page),
			zap.String("url", target),
			zap.Error(err),
		)
		metrics.ObserveListingPage(query, "error", 0)
		return []string{}, nil
	}

	outcome := "ok"
	if len(urls) == 0 {
		outcome = "empty"
	}
	metrics.ObserveListingPage(query, outcome, len(urls))
	p.logger.Info("listing page collected",
		zap.String("query", query),
		zap.Int("page", page),
		zap.Int("candidates", len(urls)),
	)
	return urls, nil
}

func (p *Paginator) collect(ctx context.Context, target string) ([]string, error) {
	if err := p.browser.Navigate(ctx, target); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := p.browser.WaitReady(ctx, p.cfg.ResultsSelector, p.cfg.WaitTimeout); err != nil {
		return nil, fmt.Errorf("wait for results: %w", err)
	}
	// Lazy cards render on scroll; a failed scroll still leaves the first batch.
	if err := p.browser.Evaluate(ctx, scrollToBottom); err != nil {
		p.logger.Debug("scroll failed", zap.String("url", target), zap.Error(err))
	}
	if err := sleepCtx(ctx, p.cfg.Settle); err != nil {
		return nil, err
	}

	base, err := p.browser.Location(ctx)
	if err != nil || base == "" {
		base = target
	}
	html, err := p.browser.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read dom: %w", err)
	}
	urls, err := ExtractCandidates(base, html)
	if err != nil {
		return nil, fmt.Errorf("parse dom: %w", err)
	}
	return urls, nil
}
