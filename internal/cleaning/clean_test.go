package cleaning

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/clinical-trials-crawler/internal/crawler"
)

func TestTrialID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "NCT04123456", TrialID("https://clinicaltrials.gov/study/NCT04123456?term=x"))
	assert.Equal(t, "", TrialID("https://clinicaltrials.gov/about"))
}

func TestNormalizeTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Study Details | NCT04123456 | Pembrolizumab in NSCLC | ClinicalTrials.gov", "Pembrolizumab in NSCLC"},
		{"Study Details | NCT1 | Trial ClinicalTrials.gov", "Trial"},
		{"Plain title", "Plain title"},
		{"A | B", "A | B"},
		{crawler.DefaultTitle, crawler.DefaultTitle},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeTitle(tt.in), tt.in)
	}
}

func TestReadRawToleratesBOMAndLegacyHeader(t *testing.T) {
	t.Parallel()

	in := "\xEF\xBB\xBFMaladie,Sponsor,Statut,Titre,URL\n" +
		"Leukemia,Mayo Clinic,Recruiting,T,https://x/study/NCT1\n"
	records, err := ReadRaw(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, crawler.TrialRecord{Disease: "Leukemia", Sponsor: "Mayo Clinic", Status: crawler.StatusRecruiting, Title: "T", URL: "https://x/study/NCT1"}, records[0])
}

func TestReadRawMatchesHeaderCaseInsensitively(t *testing.T) {
	t.Parallel()

	in := strings.Join(crawler.Columns, ",") + "\n" +
		"Melanoma,Princess Margaret,Completed,T,https://x/study/NCT2\n"
	records, err := ReadRaw(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Melanoma", records[0].Disease)
	assert.Equal(t, crawler.StatusCompleted, records[0].Status)
	assert.Equal(t, "https://x/study/NCT2", records[0].URL)

	records, err = ReadRaw(strings.NewReader("MALADIE,sponsor,STATUT,titre,Url\nLeukemia,S,Recruiting,T,u\n"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Leukemia", records[0].Disease)
}

func TestReadRawErrors(t *testing.T) {
	t.Parallel()

	_, err := ReadRaw(strings.NewReader(""))
	require.Error(t, err)
	_, err = ReadRaw(strings.NewReader("Disease,Sponsor\n"))
	require.ErrorContains(t, err, "Status")
}

func TestCleanDeduplicatesAndCounts(t *testing.T) {
	t.Parallel()

	regions, err := DefaultRegions()
	require.NoError(t, err)

	records := []crawler.TrialRecord{
		{Disease: "Lung Cancer", Sponsor: "Mayo Clinic", Status: "Recruiting", Title: "Study Details | NCT1 | Lung A | ClinicalTrials.gov", URL: "https://x/study/NCT1"},
		{Disease: "Lung Cancer", Sponsor: "Mayo Clinic", Status: "Recruiting", Title: "dup", URL: "https://x/study/NCT1?page=2"},
		{Disease: "Leukemia", Sponsor: "Gustave Roussy, Cancer Campus, Grand Paris", Status: "Completed", Title: "L", URL: "https://x/study/NCT2"},
		{Disease: "Leukemia", Sponsor: crawler.DefaultSponsor, Status: "Unknown", Title: "M", URL: "https://x/study/NCT3"},
		{Disease: "Leukemia", Sponsor: "Acme Biotech", Status: "Unknown", Title: "N", URL: "https://x/nolink"},
		{Disease: "Leukemia", Sponsor: "Acme Biotech", Status: "Unknown", Title: "N", URL: "https://x/nolink"},
	}
	res := Clean(records, regions)

	assert.Equal(t, 6, res.Input)
	assert.Equal(t, 1, res.Duplicates)
	require.Len(t, res.Trials, 5)
	assert.Equal(t, Trial{Cancer: "Lung Cancer", TrialID: "NCT1", Title: "Lung A", Sponsor: "Mayo Clinic", Status: "Recruiting", Region: "USA", URL: "https://x/study/NCT1"}, res.Trials[0])

	// Rows without a trial id are never merged.
	want := []Trial{
		{Cancer: "Lung Cancer", TrialID: "NCT1", Region: "USA"},
		{Cancer: "Leukemia", TrialID: "NCT2", Region: "Europe"},
		{Cancer: "Leukemia", TrialID: "NCT3", Region: "Unknown"},
		{Cancer: "Leukemia", TrialID: "", Region: "Other"},
		{Cancer: "Leukemia", TrialID: "", Region: "Other"},
	}
	if diff := cmp.Diff(want, res.Trials, cmpopts.IgnoreFields(Trial{}, "Title", "Sponsor", "Status", "URL")); diff != "" {
		t.Errorf("trials mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []Count{{"Leukemia", 4}, {"Lung Cancer", 1}}, res.ByDisease)
	assert.Equal(t, []Count{{"Other", 2}, {"USA", 1}, {"Europe", 1}, {"Unknown", 1}}, res.ByRegion)

	require.Len(t, res.Geography, 2)
	leukemia := res.Geography[0]
	assert.Equal(t, "Leukemia", leukemia.Cancer)
	assert.Equal(t, 4, leukemia.Total)
	assert.Equal(t, map[string]int{"Europe": 1, "Unknown": 1, "Other": 2}, leukemia.Counts)
	assert.InDelta(t, 50.0, leukemia.Share("Other"), 1e-9)
	assert.Zero(t, leukemia.Share("USA"))
	assert.Equal(t, "Lung Cancer", res.Geography[1].Cancer)
	assert.InDelta(t, 100.0, res.Geography[1].Share("USA"), 1e-9)
}

func TestRunWritesTables(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "raw.csv")
	raw := "\xEF\xBB\xBFDisease,Sponsor,Status,Title,URL\n" +
		"Breast Cancer,Novartis Pharmaceuticals,Recruiting,Study Details | NCT9 | B | ClinicalTrials.gov,https://x/study/NCT9\n" +
		"Breast Cancer,Novartis Pharmaceuticals,Recruiting,dup,https://x/study/NCT9\n"
	require.NoError(t, os.WriteFile(input, []byte(raw), 0o600))

	out := filepath.Join(dir, "data_clean")
	res, err := Run(Options{InputPath: input, OutputDir: out}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)

	rows := readCSV(t, filepath.Join(out, TrialsFile))
	assert.Equal(t, [][]string{
		{"Cancer", "Trial_ID", "Title", "Sponsor", "Status", "Region", "URL"},
		{"Breast Cancer", "NCT9", "B", "Novartis Pharmaceuticals", "Recruiting", "Europe", "https://x/study/NCT9"},
	}, rows)
	assert.Equal(t, [][]string{{"Cancer", "Clinical_Trials_Count"}, {"Breast Cancer", "1"}}, readCSV(t, filepath.Join(out, ByDiseaseFile)))
}

func TestRunWritesGeographyPerCancer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "raw.csv")
	raw := "Disease,Sponsor,Status,Title,URL\n" +
		"Leukemia,Mayo Clinic,Recruiting,A,https://x/study/NCT1\n" +
		"Leukemia,Gustave Roussy,Completed,B,https://x/study/NCT2\n" +
		"Leukemia,Fudan University,Completed,C,https://x/study/NCT3\n" +
		"Leukemia,Acme Biotech,Completed,D,https://x/study/NCT4\n" +
		"Melanoma,Princess Margaret Cancer Centre,Recruiting,E,https://x/study/NCT5\n"
	require.NoError(t, os.WriteFile(input, []byte(raw), 0o600))

	out := filepath.Join(dir, "data_clean")
	_, err := Run(Options{InputPath: input, OutputDir: out}, zaptest.NewLogger(t))
	require.NoError(t, err)

	header := []string{"Cancer", "usa", "canada", "europe", "asia", "middle_east", "latin_america", "oceania", "other", "unknown"}
	assert.Equal(t, [][]string{
		header,
		{"Leukemia", "1", "0", "1", "1", "0", "0", "0", "1", "0"},
		{"Melanoma", "0", "1", "0", "0", "0", "0", "0", "0", "0"},
	}, readCSV(t, filepath.Join(out, ByRegionFile)))
	assert.Equal(t, [][]string{
		header,
		{"Leukemia", "25.00", "0.00", "25.00", "25.00", "0.00", "0.00", "0.00", "25.00", "0.00"},
		{"Melanoma", "0.00", "100.00", "0.00", "0.00", "0.00", "0.00", "0.00", "0.00", "0.00"},
	}, readCSV(t, filepath.Join(out, ByRegionPercentFile)))
}

func TestRunMissingInput(t *testing.T) {
	t.Parallel()

	_, err := Run(Options{InputPath: filepath.Join(t.TempDir(), "missing.csv"), OutputDir: t.TempDir()}, nil)
	require.Error(t, err)
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}
