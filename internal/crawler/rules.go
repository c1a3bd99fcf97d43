package crawler

import (
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	detailMarker   = "/study/"
	trialIDMarker  = "NCT"
	minSponsorLen  = 3
	titleSeparator = "-"
)

type statusRule struct {
	needle string
	status Status
}

// statusVocabulary is evaluated in order; the first needle present anywhere in
// the body wins regardless of where it appears in the text.
var statusVocabulary = []statusRule{
	{needle: "Recruiting", status: StatusRecruiting},
	{needle: "Completed", status: StatusCompleted},
	{needle: "Active, not recruiting", status: StatusActive},
	{needle: "Terminated", status: StatusTerminated},
	{needle: "Withdrawn", status: StatusWithdrawn},
}

var sponsorLabels = []string{"Lead Sponsor", "Responsible Party", "Sponsor"}

// CleanTitle trims a document title down to the part before its last "-".
// Titles without a separator are returned whole.
func CleanTitle(raw string) string {
	if idx := strings.LastIndex(raw, titleSeparator); idx >= 0 {
		return strings.TrimSpace(raw[:idx])
	}
	return raw
}

// MatchStatus scans the full body text for the status vocabulary in priority
// order. It returns StatusUnknown and false when nothing matches.
func MatchStatus(body string) (Status, bool) {
	for _, rule := range statusVocabulary {
		if strings.Contains(body, rule.needle) {
			return rule.status, true
		}
	}
	return StatusUnknown, false
}

// SplitLines splits page text on newlines.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// FindSponsor scans lines for a sponsor label. A labelled line with a colon
// yields the text after the first colon; a bare label yields the next line
// unless it looks like a trial identifier.
func FindSponsor(lines []string) (string, bool) {
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if !hasSponsorLabel(line) {
			continue
		}
		if _, after, ok := strings.Cut(line, ":"); ok {
			if candidate := strings.TrimSpace(after); plausibleSponsor(candidate) {
				return candidate, true
			}
			continue
		}
		if i+1 >= len(lines) {
			continue
		}
		next := strings.TrimSpace(lines[i+1])
		if plausibleSponsor(next) && !strings.Contains(next, trialIDMarker) {
			return next, true
		}
	}
	return DefaultSponsor, false
}

// plausibleSponsor counts characters, not bytes.
func plausibleSponsor(s string) bool {
	return utf8.RuneCountInString(s) >= minSponsorLen
}

func hasSponsorLabel(line string) bool {
	for _, label := range sponsorLabels {
		if strings.HasPrefix(line, label) {
			return true
		}
	}
	return false
}

// ListingURL builds the deterministic search URL for a query and 1-based page.
func ListingURL(baseURL, query string, page int) string {
	cond := strings.ReplaceAll(url.QueryEscape(query), "+", "%20")
	return strings.TrimRight(baseURL, "/") + "/search?cond=" + cond + "&viewType=Card&page=" + strconv.Itoa(page)
}

// ExtractCandidates returns the detail links in a rendered listing page in DOM
// order. Relative hrefs are resolved against pageURL; links carrying a
// fragment are skipped and repeats within the page are dropped.
func ExtractCandidates(pageURL, html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	seen := make(map[string]struct{})
	out := make([]string, 0)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = resolveHref(base, strings.TrimSpace(href))
		if href == "" || !strings.Contains(href, detailMarker) || strings.Contains(href, "#") {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		out = append(out, href)
	})
	return out, nil
}

func resolveHref(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
