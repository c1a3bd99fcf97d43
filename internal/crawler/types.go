package crawler

import "time"

// Status is the normalized recruitment status of a trial.
type Status string

// Recognized trial statuses. StatusUnknown is the default when no vocabulary
// entry matches.
const (
	StatusRecruiting Status = "Recruiting"
	StatusCompleted  Status = "Completed"
	StatusActive     Status = "Active"
	StatusTerminated Status = "Terminated"
	StatusWithdrawn  Status = "Withdrawn"
	StatusUnknown    Status = "Unknown"
)

// Defaults applied when extraction cannot find a field.
const (
	DefaultTitle   = "Unknown Title"
	DefaultSponsor = "Not specified"
)

// Valid reports whether s is one of the recognized statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusRecruiting, StatusCompleted, StatusActive, StatusTerminated, StatusWithdrawn, StatusUnknown:
		return true
	default:
		return false
	}
}

// TrialRecord is one exported row describing a discovered detail page.
type TrialRecord struct {
	Disease string `json:"disease"`
	Sponsor string `json:"sponsor"`
	Status  Status `json:"status"`
	Title   string `json:"title"`
	URL     string `json:"url"`
}

// Columns is the fixed export column order.
var Columns = []string{"disease", "sponsor", "status", "title", "url"}

// Row renders the record in Columns order.
func (r TrialRecord) Row() []string {
	return []string{r.Disease, r.Sponsor, string(r.Status), r.Title, r.URL}
}

// NewRecord returns a record for url with every extracted field defaulted.
func NewRecord(query, url string) TrialRecord {
	return TrialRecord{
		Disease: query,
		Sponsor: DefaultSponsor,
		Status:  StatusUnknown,
		Title:   DefaultTitle,
		URL:     url,
	}
}

// Extraction is the tagged result of a detail page visit: the record plus
// which fields were found on the page versus left at their defaults.
type Extraction struct {
	Record       TrialRecord
	TitleFound   bool
	StatusFound  bool
	SponsorFound bool
	// Err holds the first transient failure hit while rendering, if any.
	Err      error
	Duration time.Duration
}

// Defaulted lists the fields that kept their default value.
func (e Extraction) Defaulted() []string {
	var out []string
	if !e.TitleFound {
		out = append(out, "title")
	}
	if !e.StatusFound {
		out = append(out, "status")
	}
	if !e.SponsorFound {
		out = append(out, "sponsor")
	}
	return out
}

// Summary reports the outcome of an engine run.
type Summary struct {
	RunID         string        `json:"run_id"`
	Queries       int           `json:"queries"`
	Pages         int           `json:"pages"`
	Candidates    int           `json:"candidates"`
	Records       int           `json:"records"`
	Flushes       int           `json:"flushes"`
	FlushFailures int           `json:"flush_failures"`
	Interrupted   bool          `json:"interrupted"`
	Duration      time.Duration `json:"duration"`
}
