// Package pubmed counts PubMed publications per disease through the NCBI
// E-utilities esearch endpoint.
package pubmed

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/clinical-trials-crawler/internal/export"
	"github.com/JakeFAU/clinical-trials-crawler/internal/metrics"
)

// Source labels every successful count.
const Source = "PubMed NCBI"

// Config controls the E-utilities client.
type Config struct {
	BaseURL string
	Year    int
	// QPS caps request rate; NCBI allows 3/s without an API key.
	QPS     float64
	Timeout time.Duration
}

// Result is one disease's publication count.
type Result struct {
	Disease      string
	Publications int
	Source       string
	Err          error
}

// Client queries esearch.fcgi.
type Client struct {
	http   *resty.Client
	year   int
	logger *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithTransport replaces the HTTP transport, e.g. with an httpmock transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.http.SetTransport(rt)
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a rate-limited client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("pubmed base url is required")
	}
	if cfg.Year <= 0 {
		return nil, errors.New("pubmed year must be > 0")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Limit(cfg.QPS)
	if cfg.QPS <= 0 {
		limit = rate.Inf
	}
	limiter := rate.NewLimiter(limit, 1)

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	c := &Client{http: httpClient, year: cfg.Year, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Term builds the esearch query for disease.
func (c *Client) Term(disease string) string {
	return fmt.Sprintf(`"%s"[Title/Abstract] AND %d[Date - Publication]`, disease, c.year)
}

type esearchResponse struct {
	Result struct {
		Count string `json:"count"`
	} `json:"esearchresult"`
}

// Count returns the number of publications matching disease in the
// configured year.
func (c *Client) Count(ctx context.Context, disease string) (int, error) {
	var body esearchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"db":      "pubmed",
			"term":    c.Term(disease),
			"retmode": "json",
		}).
		SetResult(&body).
		ForceContentType("application/json").
		Get("/esearch.fcgi")
	if err != nil {
		return 0, fmt.Errorf("esearch %q: %w", disease, err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("esearch %q: unexpected status %d", disease, resp.StatusCode())
	}
	n, err := strconv.Atoi(body.Result.Count)
	if err != nil {
		return 0, fmt.Errorf("esearch %q: parse count %q: %w", disease, body.Result.Count, err)
	}
	return n, nil
}

// CountAll counts every disease in order. A failed lookup yields a zero
// count with an empty Source and is logged; only ctx cancellation aborts.
func (c *Client) CountAll(ctx context.Context, diseases []string) ([]Result, error) {
	out := make([]Result, 0, len(diseases))
	for _, d := range diseases {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		n, err := c.Count(ctx, d)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, ctxErr
			}
			metrics.ObservePubMedRequest("error")
			c.logger.Warn("publication count failed", zap.String("disease", d), zap.Error(err))
			out = append(out, Result{Disease: d, Err: err})
			continue
		}
		metrics.ObservePubMedRequest("ok")
		c.logger.Info("publication count", zap.String("disease", d), zap.Int("publications", n), zap.Int("year", c.year))
		out = append(out, Result{Disease: d, Publications: n, Source: Source})
	}
	return out, nil
}

// WriteCSV stores results at path with a Disease,Publications,Source header.
func WriteCSV(path string, results []Result) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Disease", "Publications", "Source"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range results {
		if err := w.Write([]string{r.Disease, strconv.Itoa(r.Publications), r.Source}); err != nil {
			return fmt.Errorf("write %s: %w", r.Disease, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return export.WriteFileAtomic(path, buf.Bytes())
}
