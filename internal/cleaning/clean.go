package cleaning

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/JakeFAU/clinical-trials-crawler/internal/crawler"
	"github.com/JakeFAU/clinical-trials-crawler/internal/export"
)

// Output file names written below the output directory.
const (
	TrialsFile          = "clinical_trials_clean.csv"
	ByDiseaseFile       = "trials_count_by_cancer.csv"
	ByRegionFile        = "clinical_trials_geography_count.csv"
	ByRegionPercentFile = "clinical_trials_geography_percentage.csv"
)

var nctPattern = regexp.MustCompile(`NCT\d+`)

// Header aliases accepted in the raw export. Exports written by older
// versions used French column names.
var columnAliases = map[string][]string{
	"disease": {"Disease", "Maladie"},
	"sponsor": {"Sponsor"},
	"status":  {"Status", "Statut"},
	"title":   {"Title", "Titre"},
	"url":     {"URL"},
}

// Trial is one cleaned row.
type Trial struct {
	Cancer  string
	TrialID string
	Title   string
	Sponsor string
	Status  string
	Region  string
	URL     string
}

// Count is a label with its number of trials.
type Count struct {
	Label string
	Count int
}

// GeographyRow holds the per-region trial counts of one cancer.
type GeographyRow struct {
	Cancer string
	Counts map[string]int
	Total  int
}

// Share returns the percentage of the cancer's trials in region.
func (g GeographyRow) Share(region string) float64 {
	if g.Total == 0 {
		return 0
	}
	return 100 * float64(g.Counts[region]) / float64(g.Total)
}

// Result is the outcome of Clean.
type Result struct {
	Trials     []Trial
	ByDisease  []Count
	ByRegion   []Count
	Input      int
	Duplicates int

	// Regions orders the geography columns; Geography follows ByDisease.
	Regions   []string
	Geography []GeographyRow
}

// TrialID extracts the first NCT identifier from url, or "".
func TrialID(url string) string {
	return nctPattern.FindString(url)
}

// NormalizeTitle extracts the study title from a raw page title shaped like
// "Study Details | NCT… | <title> | ClinicalTrials.gov". Titles with fewer
// than three segments are returned unchanged.
func NormalizeTitle(raw string) string {
	parts := strings.Split(raw, "|")
	if len(parts) < 3 {
		return raw
	}
	title := strings.TrimSpace(parts[2])
	return strings.TrimSpace(strings.ReplaceAll(title, "ClinicalTrials.gov", ""))
}

// ReadRaw decodes a raw export. A leading UTF-8 BOM is tolerated and columns
// are located by header name, ignoring case.
func ReadRaw(r io.Reader) ([]crawler.TrialRecord, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = br.Discard(3)
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("raw export is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx, err := locateColumns(header)
	if err != nil {
		return nil, err
	}

	var out []crawler.TrialRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		field := func(name string) string {
			if i := idx[name]; i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}
		out = append(out, crawler.TrialRecord{
			Disease: field("disease"),
			Sponsor: field("sponsor"),
			Status:  crawler.Status(field("status")),
			Title:   field("title"),
			URL:     field("url"),
		})
	}
}

func locateColumns(header []string) (map[string]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}
	idx := make(map[string]int, len(columnAliases))
	for key, names := range columnAliases {
		found := false
		for _, n := range names {
			if i, ok := pos[strings.ToLower(n)]; ok {
				idx[key] = i
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("raw export is missing column %q", names[0])
		}
	}
	return idx, nil
}

// Clean normalizes records, drops duplicate trial IDs keeping the first
// occurrence and tallies trials per disease and region. Rows whose URL
// carries no trial ID are all kept.
func Clean(records []crawler.TrialRecord, regions *RegionTable) Result {
	res := Result{Input: len(records), Regions: regions.Labels()}
	seen := make(map[string]struct{}, len(records))
	diseaseCounts := newCounter()
	regionCounts := newCounter()
	geo := make(map[string]*GeographyRow)

	for _, rec := range records {
		id := TrialID(rec.URL)
		if id != "" {
			if _, dup := seen[id]; dup {
				res.Duplicates++
				continue
			}
			seen[id] = struct{}{}
		}
		t := Trial{
			Cancer:  rec.Disease,
			TrialID: id,
			Title:   NormalizeTitle(rec.Title),
			Sponsor: rec.Sponsor,
			Status:  string(rec.Status),
			Region:  regions.Classify(rec.Sponsor),
			URL:     rec.URL,
		}
		res.Trials = append(res.Trials, t)
		diseaseCounts.add(t.Cancer)
		regionCounts.add(t.Region)
		row, ok := geo[t.Cancer]
		if !ok {
			row = &GeographyRow{Cancer: t.Cancer, Counts: make(map[string]int)}
			geo[t.Cancer] = row
		}
		row.Counts[t.Region]++
		row.Total++
	}
	res.ByDisease = diseaseCounts.sorted()
	res.ByRegion = regionCounts.sorted()
	res.Geography = make([]GeographyRow, 0, len(res.ByDisease))
	for _, c := range res.ByDisease {
		res.Geography = append(res.Geography, *geo[c.Label])
	}
	return res
}

type counter struct {
	order  []string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(label string) {
	if _, ok := c.counts[label]; !ok {
		c.order = append(c.order, label)
	}
	c.counts[label]++
}

// sorted orders by count descending, then by first appearance.
func (c *counter) sorted() []Count {
	out := make([]Count, len(c.order))
	for i, label := range c.order {
		out[i] = Count{Label: label, Count: c.counts[label]}
	}
	slices.SortStableFunc(out, func(a, b Count) int {
		return cmp.Compare(b.Count, a.Count)
	})
	return out
}

// Write stores the result tables below dir. The geography tables are wide:
// one row per cancer and one snake_case column per region.
func Write(dir string, res Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	trialRows := make([][]string, 0, len(res.Trials))
	for _, t := range res.Trials {
		trialRows = append(trialRows, []string{t.Cancer, t.TrialID, t.Title, t.Sponsor, t.Status, t.Region, t.URL})
	}
	tables := []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{TrialsFile, []string{"Cancer", "Trial_ID", "Title", "Sponsor", "Status", "Region", "URL"}, trialRows},
		{ByDiseaseFile, []string{"Cancer", "Clinical_Trials_Count"}, countRows(res.ByDisease)},
		{ByRegionFile, geographyHeader(res.Regions), geographyRows(res, false)},
		{ByRegionPercentFile, geographyHeader(res.Regions), geographyRows(res, true)},
	}
	paths := make([]string, 0, len(tables))
	for _, tbl := range tables {
		path := filepath.Join(dir, tbl.name)
		if err := writeTable(path, tbl.header, tbl.rows); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func countRows(counts []Count) [][]string {
	rows := make([][]string, len(counts))
	for i, c := range counts {
		rows[i] = []string{c.Label, strconv.Itoa(c.Count)}
	}
	return rows
}

func geographyHeader(regions []string) []string {
	header := make([]string, 0, len(regions)+1)
	header = append(header, "Cancer")
	for _, r := range regions {
		header = append(header, ColumnName(r))
	}
	return header
}

func geographyRows(res Result, percent bool) [][]string {
	rows := make([][]string, 0, len(res.Geography))
	for _, g := range res.Geography {
		row := make([]string, 0, len(res.Regions)+1)
		row = append(row, g.Cancer)
		for _, r := range res.Regions {
			if percent {
				row = append(row, strconv.FormatFloat(g.Share(r), 'f', 2, 64))
				continue
			}
			row = append(row, strconv.Itoa(g.Counts[r]))
		}
		rows = append(rows, row)
	}
	return rows
}

func writeTable(path string, header []string, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write %s header: %w", filepath.Base(path), err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return export.WriteFileAtomic(path, buf.Bytes())
}
