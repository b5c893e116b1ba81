package model

import (
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// RunState is a state of the per-run ingestion state machine.
type RunState string

const (
	RunStateStarting     RunState = "starting"
	RunStateResuming     RunState = "resuming"
	RunStateFetchingPage RunState = "fetching_page"
	RunStateParsing      RunState = "parsing"
	RunStateNormalizing  RunState = "normalizing"
	RunStateWriting      RunState = "writing"
	RunStateCompleted    RunState = "completed"
	RunStateDone         RunState = "done"
	RunStateFailed       RunState = "failed"
)

// TransientPolicy decides what happens when a page fetch fails transiently
// after the fetcher's own retries.
type TransientPolicy string

const (
	// TransientRetry re-fetches the page once more after a cooldown, then aborts.
	TransientRetry TransientPolicy = "retry"
	// TransientAbort aborts the run immediately.
	TransientAbort TransientPolicy = "abort"
)

// UnrecognizedPolicy decides what happens when a page's format is not recognized.
type UnrecognizedPolicy string

const (
	UnrecognizedAbort UnrecognizedPolicy = "abort"
	UnrecognizedSkip  UnrecognizedPolicy = "skip"
)

// RunConfig is the validated input of one ingestion run.
type RunConfig struct {
	Range             DateRange
	OnTransient       TransientPolicy
	OnUnrecognized    UnrecognizedPolicy
	PageRetryCooldown time.Duration
	// MaxPages caps the number of pages fetched in one run; 0 means unlimited.
	MaxPages int
	Prefetch bool
	// Fresh discards any existing checkpoint for the range.
	Fresh bool
}

// Validate checks a RunConfig for internal consistency.
func (c RunConfig) Validate() error {
	if err := c.Range.Validate(); err != nil {
		return err
	}
	switch c.OnTransient {
	case TransientRetry, TransientAbort:
	default:
		return eris.Errorf("model: unknown transient policy %q (valid: retry, abort)", c.OnTransient)
	}
	switch c.OnUnrecognized {
	case UnrecognizedAbort, UnrecognizedSkip:
	default:
		return eris.Errorf("model: unknown unrecognized-format policy %q (valid: abort, skip)", c.OnUnrecognized)
	}
	if c.PageRetryCooldown < 0 {
		return eris.New("model: page retry cooldown must not be negative")
	}
	if c.MaxPages < 0 {
		return eris.New("model: max pages must not be negative")
	}
	return nil
}

// FetchCheckpoint is the persisted progress of an in-flight run.
type FetchCheckpoint struct {
	RunID               string    `json:"run_id"`
	LastCompletedPage   int       `json:"last_completed_page"`
	DateRangeStart      Date      `json:"date_range_start"`
	DateRangeEnd        Date      `json:"date_range_end"`
	RecordsWrittenSoFar int64     `json:"records_written_so_far"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Range returns the date range the checkpoint belongs to.
func (c FetchCheckpoint) Range() DateRange {
	return DateRange{Start: c.DateRangeStart, End: c.DateRangeEnd}
}

// RejectReason names why a record was dropped before reaching the store.
type RejectReason string

const (
	RejectBadDate        RejectReason = "bad_date"
	RejectOutOfRange     RejectReason = "out_of_range"
	RejectBadKey         RejectReason = "bad_key"
	RejectMalformedField RejectReason = "malformed_field"
)

// RunStatistics aggregates counters for one run. It lives only as long as the run.
type RunStatistics struct {
	PagesFetched        int                  `json:"pages_fetched"`
	PagesFailed         int                  `json:"pages_failed"`
	PagesSkipped        []int                `json:"pages_skipped,omitempty"`
	RecordsParsed       int                  `json:"records_parsed"`
	RecordsRejected     map[RejectReason]int `json:"records_rejected,omitempty"`
	RecordsDeduplicated int                  `json:"records_deduplicated"`
	RecordsWritten      int                  `json:"records_written"`
	// ByCategory and ByDecision count the distinct records this invocation
	// wrote. Pages committed before a resume are not included.
	ByCategory          map[Category]int     `json:"by_category,omitempty"`
	ByDecision          map[Decision]int     `json:"by_decision,omitempty"`
	// TotalInStore is the store-wide record count when the run finished.
	TotalInStore        int                  `json:"total_in_store"`
	StartedAt           time.Time            `json:"started_at"`
	Elapsed             time.Duration        `json:"elapsed_ns"`
}

// NewRunStatistics returns zeroed statistics starting at now.
func NewRunStatistics(now time.Time) *RunStatistics {
	return &RunStatistics{
		RecordsRejected: make(map[RejectReason]int),
		ByCategory:      make(map[Category]int),
		ByDecision:      make(map[Decision]int),
		StartedAt:       now,
	}
}

// Reject counts one rejected record.
func (s *RunStatistics) Reject(reason RejectReason) {
	s.RecordsRejected[reason]++
}

// TotalRejected sums rejections across all reasons.
func (s *RunStatistics) TotalRejected() int {
	n := 0
	for _, c := range s.RecordsRejected {
		n += c
	}
	return n
}

// RunOutcome classifies how a run ended.
type RunOutcome string

const (
	OutcomeCompleted               RunOutcome = "completed"
	OutcomeCompletedWithRejections RunOutcome = "completed_with_rejections"
	OutcomeFailed                  RunOutcome = "failed"
)

// RunReport is the terminal output of a run.
type RunReport struct {
	RunID      string         `json:"run_id"`
	Range      DateRange      `json:"range"`
	Outcome    RunOutcome     `json:"outcome"`
	FailedPage int            `json:"failed_page,omitempty"`
	Resumable  bool           `json:"resumable"`
	Error      string         `json:"error,omitempty"`
	Statistics *RunStatistics `json:"statistics"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Summary renders the operator-facing one-line result.
func (r *RunReport) Summary() string {
	switch r.Outcome {
	case OutcomeCompleted:
		return "completed fully"
	case OutcomeCompletedWithRejections:
		return "completed with " + strconv.Itoa(r.Statistics.TotalRejected()) + " records rejected"
	default:
		s := "failed at page " + strconv.Itoa(r.FailedPage)
		if r.Resumable {
			s += ", resumable"
		}
		return s
	}
}
