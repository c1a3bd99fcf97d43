package crawler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/clinical-trials-crawler/internal/progress"
)

var errNoSuchPage = errors.New("page not found")

type fakePage struct {
	title    string
	text     string
	html     string
	navErr   error
	waitErr  error
	titleErr error
	textErr  error
}

// fakeBrowser serves canned pages keyed by URL.
type fakeBrowser struct {
	mu          sync.Mutex
	pages       map[string]fakePage
	current     string
	ensureErr   error
	ensureCalls int
	navigations []string
	evaluations []string
	onNavigate  func(url string)
}

func newFakeBrowser(pages map[string]fakePage) *fakeBrowser {
	return &fakeBrowser{pages: pages}
}

func (b *fakeBrowser) EnsureAlive(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureCalls++
	if b.ensureErr != nil {
		return b.ensureErr
	}
	return ctx.Err()
}

func (b *fakeBrowser) Navigate(ctx context.Context, url string) error {
	b.mu.Lock()
	b.navigations = append(b.navigations, url)
	hook := b.onNavigate
	b.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	page, ok := b.pages[url]
	if !ok {
		return fmt.Errorf("%w: %s", errNoSuchPage, url)
	}
	b.current = url
	return page.navErr
}

func (b *fakeBrowser) page() fakePage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pages[b.current]
}

func (b *fakeBrowser) WaitReady(ctx context.Context, _ string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.page().waitErr
}

func (b *fakeBrowser) Location(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, nil
}

func (b *fakeBrowser) Title(context.Context) (string, error) {
	p := b.page()
	return p.title, p.titleErr
}

func (b *fakeBrowser) Text(context.Context, string) (string, error) {
	p := b.page()
	return p.text, p.textErr
}

func (b *fakeBrowser) HTML(context.Context) (string, error) {
	return b.page().html, nil
}

func (b *fakeBrowser) Evaluate(_ context.Context, script string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evaluations = append(b.evaluations, script)
	return nil
}

func (b *fakeBrowser) Navigations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.navigations)
}

// memExporter keeps a copy of every flushed record set.
type memExporter struct {
	mu      sync.Mutex
	flushes [][]TrialRecord
	err     error
}

func (m *memExporter) Flush(_ context.Context, records []TrialRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.flushes = append(m.flushes, slices.Clone(records))
	return nil
}

func (m *memExporter) Sizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, 0, len(m.flushes))
	for _, f := range m.flushes {
		out = append(out, len(f))
	}
	return out
}

func (m *memExporter) Last() []TrialRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.flushes) == 0 {
		return nil
	}
	return slices.Clone(m.flushes[len(m.flushes)-1])
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

type fixedID string

func (f fixedID) NewID() (string, error) { return string(f), nil }

const testBaseURL = "https://trials.test"

// listingHTML renders anchors the way the search page does.
func listingHTML(hrefs ...string) string {
	var sb strings.Builder
	sb.WriteString(`<html><body><div class="usa-card__container">`)
	for _, href := range hrefs {
		fmt.Fprintf(&sb, `<a href="%s">card</a>`, href)
	}
	sb.WriteString(`</div></body></html>`)
	return sb.String()
}

func detailPage(id, sponsor, status string) fakePage {
	return fakePage{
		title: "Study " + id + " - ClinicalTrials.gov",
		text:  "Overview\n" + status + "\nLead Sponsor: " + sponsor + "\n" + id,
	}
}
