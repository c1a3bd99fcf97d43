package headless

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const defaultNavTimeout = 45 * time.Second

// ChromeSession implements Session on top of a single chromedp tab.
type ChromeSession struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	navTimeout    time.Duration
	closed        atomic.Bool
}

var _ Launcher = LaunchChrome

// LaunchChrome starts Chrome with the configured viewport and user agent and
// waits for the first tab to come up.
func LaunchChrome(ctx context.Context, cfg LaunchConfig) (Session, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = defaultNavTimeout
	}
	var headlessFlag any = false
	if cfg.Headless {
		headlessFlag = "new"
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headlessFlag),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.Width > 0 && cfg.Height > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.Width, cfg.Height))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(browserCtx, setupAction(cfg))
	}()
	select {
	case err := <-done:
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("chromedp warmup: %w", err)
		}
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", ctx.Err())
	}

	return &ChromeSession{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		navTimeout:    cfg.NavTimeout,
	}, nil
}

func setupAction(cfg LaunchConfig) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if cfg.Width > 0 && cfg.Height > 0 {
			if err := emulation.SetDeviceMetricsOverride(int64(cfg.Width), int64(cfg.Height), 1, false).Do(ctx); err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
		}
		return nil
	})
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
// Cancelling the derived context aborts the actions without closing the tab.
func (s *ChromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if timeout <= 0 {
		timeout = s.navTimeout
	}
	runCtx, cancel := context.WithTimeout(s.browserCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Location reads the current document URL; it doubles as the liveness probe.
func (s *ChromeSession) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, 0, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// Navigate loads url in the tab.
func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, 0, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// WaitReady blocks until selector is present or timeout elapses.
func (s *ChromeSession) WaitReady(ctx context.Context, selector string, timeout time.Duration) error {
	if err := s.run(ctx, timeout, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

// Title returns the document title.
func (s *ChromeSession) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, 0, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

// Text returns the visible text of the first node matching selector.
func (s *ChromeSession) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := s.run(ctx, 0, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read text of %s: %w", selector, err)
	}
	return text, nil
}

// HTML returns the rendered DOM.
func (s *ChromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read dom: %w", err)
	}
	return html, nil
}

// Evaluate runs script in the page, discarding its result.
func (s *ChromeSession) Evaluate(ctx context.Context, script string) error {
	if err := s.run(ctx, 0, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// Close tears down the tab and the browser process.
func (s *ChromeSession) Close() error {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.browserCancel()
	s.allocCancel()
	return nil
}
