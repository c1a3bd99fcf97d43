package cleaning

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/clinical-trials-crawler/internal/crawler"
)

//go:embed regions.yaml
var defaultRegionsYAML []byte

// Region is one ranked entry of the region table.
type Region struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// RegionTable assigns sponsors to regions. The longest keyword found in the
// sponsor decides its region; keywords of equal length defer to the region
// ranked first.
type RegionTable struct {
	Unknown  string   `yaml:"unknown"`
	Fallback string   `yaml:"fallback"`
	Regions  []Region `yaml:"regions"`

	lowered [][]string
}

// DefaultRegions returns the built-in table.
func DefaultRegions() (*RegionTable, error) {
	return ParseRegions(defaultRegionsYAML)
}

// LoadRegions reads a table from path, or the built-in table when path is empty.
func LoadRegions(path string) (*RegionTable, error) {
	if path == "" {
		return DefaultRegions()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read regions file: %w", err)
	}
	return ParseRegions(data)
}

// ParseRegions decodes and validates a YAML region table.
func ParseRegions(data []byte) (*RegionTable, error) {
	var t RegionTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode regions: %w", err)
	}
	if len(t.Regions) == 0 {
		return nil, errors.New("regions table is empty")
	}
	if t.Unknown == "" {
		t.Unknown = "Unknown"
	}
	if t.Fallback == "" {
		t.Fallback = "Other"
	}
	t.lowered = make([][]string, len(t.Regions))
	seen := map[string]bool{ColumnName(t.Unknown): true, ColumnName(t.Fallback): true}
	for i, r := range t.Regions {
		if strings.TrimSpace(r.Name) == "" {
			return nil, fmt.Errorf("region %d has no name", i)
		}
		col := ColumnName(r.Name)
		if seen[col] {
			return nil, fmt.Errorf("region %q is listed twice", r.Name)
		}
		seen[col] = true
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				t.lowered[i] = append(t.lowered[i], kw)
			}
		}
	}
	return &t, nil
}

// Classify returns the region for sponsor. Missing sponsors map to the
// Unknown label and unmatched ones to the Fallback label.
func (t *RegionTable) Classify(sponsor string) string {
	s := strings.ToLower(strings.TrimSpace(sponsor))
	if s == "" || s == strings.ToLower(crawler.DefaultSponsor) {
		return t.Unknown
	}
	best, bestLen := -1, 0
	for i, keywords := range t.lowered {
		for _, kw := range keywords {
			n := utf8.RuneCountInString(kw)
			if n > bestLen && containsWord(s, kw) {
				best, bestLen = i, n
			}
		}
	}
	if best < 0 {
		return t.Fallback
	}
	return t.Regions[best].Name
}

// Labels lists every label Classify can return: the ranked regions, then
// the fallback and unknown labels.
func (t *RegionTable) Labels() []string {
	out := make([]string, 0, len(t.Regions)+2)
	for _, r := range t.Regions {
		out = append(out, r.Name)
	}
	return append(out, t.Fallback, t.Unknown)
}

// ColumnName turns a region label into a snake_case column key, e.g.
// "Middle East" becomes "middle_east".
func ColumnName(label string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.TrimSpace(label) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		pending = true
	}
	return b.String()
}

// containsWord reports whether kw occurs in s without being glued to
// surrounding letters or digits.
func containsWord(s, kw string) bool {
	for start := 0; start <= len(s)-len(kw); {
		idx := strings.Index(s[start:], kw)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(kw)
		if boundary(s, idx-1) && boundary(s, end) {
			return true
		}
		start = idx + 1
	}
	return false
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
