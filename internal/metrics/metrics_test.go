package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://ClinicalTrials.gov/study/NCT001", "clinicaltrials.gov"},
		{"no scheme", "clinicaltrials.gov/search", "clinicaltrials.gov"},
		{"host with port", "localhost:8080", "localhost"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if crawlerListingPagesTotal == nil || crawlerRecordsTotal == nil ||
		crawlerFlushesTotal == nil || crawlerSessionRestartsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveListingPage(t *testing.T) {
	ObserveListingPage("Metrics Query", "ok", 3)
	ObserveListingPage("Metrics Query", "empty", 0)

	if val := testutil.ToFloat64(crawlerListingPagesTotal.WithLabelValues("Metrics Query", "ok")); val != 1 {
		t.Errorf("expected 1 ok listing page, got %f", val)
	}
	if val := testutil.ToFloat64(crawlerCandidatesTotal.WithLabelValues("Metrics Query")); val != 3 {
		t.Errorf("expected 3 candidates, got %f", val)
	}
}

func TestObserveRecordCountsDefaults(t *testing.T) {
	ObserveRecord("Defaults Query", "Unknown", []string{"status", "sponsor"}, 250*time.Millisecond)

	if val := testutil.ToFloat64(crawlerRecordsTotal.WithLabelValues("Defaults Query", "Unknown")); val != 1 {
		t.Errorf("expected 1 record, got %f", val)
	}
	if val := testutil.ToFloat64(crawlerFieldDefaultsTotal.WithLabelValues("sponsor")); val < 1 {
		t.Errorf("expected sponsor default to be counted, got %f", val)
	}
}

func TestObserveFlush(t *testing.T) {
	ObserveFlush(true, 42)
	if val := testutil.ToFloat64(crawlerFlushedRows); val != 42 {
		t.Errorf("expected flushed rows gauge 42, got %f", val)
	}
	before := testutil.ToFloat64(crawlerFlushesTotal.WithLabelValues("error"))
	ObserveFlush(false, 0)
	if val := testutil.ToFloat64(crawlerFlushesTotal.WithLabelValues("error")); val != before+1 {
		t.Errorf("expected error flush counter to increase, got %f", val)
	}
	if val := testutil.ToFloat64(crawlerFlushedRows); val != 42 {
		t.Errorf("failed flush must not move the rows gauge, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"https://clinicaltrials.gov", "eutils.ncbi.nlm.nih.gov", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}

func TestObserveNavigationDelay(t *testing.T) {
	ObserveNavigationDelay("trials.test", 150*time.Millisecond)
	if n := testutil.CollectAndCount(crawlerNavigationDelay, "trialcrawler_navigation_delay_seconds"); n < 1 {
		t.Errorf("expected a navigation delay series, got %d", n)
	}
}
