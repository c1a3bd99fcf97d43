package pubmed

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testBase = "https://eutils.test/entrez/eutils"

func newMockClient(t *testing.T, opts ...Option) (*Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	c, err := New(Config{BaseURL: testBase, Year: 2024}, append([]Option{WithTransport(transport)}, opts...)...)
	require.NoError(t, err)
	return c, transport
}

func jsonResponder(status int, body string) httpmock.Responder {
	return func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(status, body)
		resp.Header.Set("Content-Type", "application/json")
		return resp, nil
	}
}

func TestTerm(t *testing.T) {
	t.Parallel()

	c, _ := newMockClient(t)
	assert.Equal(t, `"Lung Cancer"[Title/Abstract] AND 2024[Date - Publication]`, c.Term("Lung Cancer"))
}

func TestCountParsesResponse(t *testing.T) {
	t.Parallel()

	c, transport := newMockClient(t)
	transport.RegisterResponderWithQuery(http.MethodGet, testBase+"/esearch.fcgi",
		map[string]string{
			"db":      "pubmed",
			"term":    `"Leukemia"[Title/Abstract] AND 2024[Date - Publication]`,
			"retmode": "json",
		},
		jsonResponder(200, `{"header":{},"esearchresult":{"count":"18234","retmax":"20"}}`),
	)

	n, err := c.Count(context.Background(), "Leukemia")
	require.NoError(t, err)
	assert.Equal(t, 18234, n)
	assert.Equal(t, 1, transport.GetTotalCallCount())
}

func TestCountErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		responder httpmock.Responder
	}{
		{"status", httpmock.NewStringResponder(503, `busy`)},
		{"bad count", jsonResponder(200, `{"esearchresult":{"count":"many"}}`)},
		{"missing count", jsonResponder(200, `{}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, transport := newMockClient(t)
			transport.RegisterResponder(http.MethodGet, `=~^`+testBase+`/esearch\.fcgi`, tt.responder)
			_, err := c.Count(context.Background(), "Leukemia")
			require.Error(t, err)
		})
	}
}

func TestCountAllZeroesFailures(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	c, transport := newMockClient(t, WithLogger(zap.New(core)))
	transport.RegisterResponderWithQuery(http.MethodGet, testBase+"/esearch.fcgi",
		map[string]string{"db": "pubmed", "retmode": "json", "term": c.Term("Lung Cancer")},
		jsonResponder(200, `{"esearchresult":{"count":"41000"}}`))
	transport.RegisterResponderWithQuery(http.MethodGet, testBase+"/esearch.fcgi",
		map[string]string{"db": "pubmed", "retmode": "json", "term": c.Term("Leukemia")},
		httpmock.NewStringResponder(500, `oops`))

	results, err := c.CountAll(context.Background(), []string{"Lung Cancer", "Leukemia"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, Result{Disease: "Lung Cancer", Publications: 41000, Source: Source}, results[0])
	assert.Equal(t, "Leukemia", results[1].Disease)
	assert.Zero(t, results[1].Publications)
	assert.Empty(t, results[1].Source)
	require.Error(t, results[1].Err)
	assert.Equal(t, 1, logs.FilterMessage("publication count failed").Len())
}

func TestCountAllHonoursCancel(t *testing.T) {
	t.Parallel()

	c, transport := newMockClient(t)
	transport.RegisterNoResponder(httpmock.NewStringResponder(200, `{"esearchresult":{"count":"1"}}`))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.CountAll(ctx, []string{"Lung Cancer"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestRateLimitPacesRequests(t *testing.T) {
	t.Parallel()

	transport := httpmock.NewMockTransport()
	transport.RegisterNoResponder(jsonResponder(200, `{"esearchresult":{"count":"1"}}`))
	c, err := New(Config{BaseURL: testBase, Year: 2024, QPS: 20}, WithTransport(transport))
	require.NoError(t, err)

	start := time.Now()
	_, err = c.CountAll(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Year: 2024})
	require.Error(t, err)
	_, err = New(Config{BaseURL: testBase})
	require.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "data", "DATA_API_PUBMED.csv")
	require.NoError(t, WriteCSV(path, []Result{
		{Disease: "Lung Cancer", Publications: 41000, Source: Source},
		{Disease: "Leukemia"},
	}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Disease,Publications,Source\nLung Cancer,41000,PubMed NCBI\nLeukemia,0,\n", string(data))
}
