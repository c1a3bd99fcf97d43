package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StagePageDone   Stage = "PAGE_DONE"
	StageRecordDone Stage = "RECORD_DONE"
	StageFlushDone  Stage = "FLUSH_DONE"
	StageFlushError Stage = "FLUSH_ERROR"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
)

// Event captures a single crawl milestone.
type Event struct {
	// RunID identifies the crawl run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Query is the disease label being swept, when applicable.
	Query string
	// Page is the 1-based listing page for PAGE_DONE events.
	Page int
	// URL is the detail page for RECORD_DONE events.
	URL string
	// Status is the extracted trial status for RECORD_DONE events.
	Status string
	// Count carries candidates for PAGE_DONE, rows for FLUSH_* and the
	// record total for RUN_DONE.
	Count int
	// Dur captures latency for extractions, flushes and whole runs.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageFlushDone, StageFlushError:
	case StagePageDone:
		if e.Query == "" {
			return errors.New("page done requires query")
		}
		if e.Page <= 0 {
			return errors.New("page done requires a 1-based page")
		}
	case StageRecordDone:
		if e.Query == "" || e.URL == "" {
			return errors.New("record done requires query and url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Count < 0 {
		return errors.New("count must be >= 0")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
