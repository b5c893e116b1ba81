package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/da-ingest/internal/model"
)

// maxRunsScanned bounds how much run history one collection reads.
const maxRunsScanned = 1000

// MetricsSnapshot holds a point-in-time view of ingestion health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal     int     `json:"runs_total"`
	RunsCompleted int     `json:"runs_completed"`
	RunsFailed    int     `json:"runs_failed"`
	RunFailRate   float64 `json:"run_fail_rate"`
	PagesFailed   int     `json:"pages_failed"`

	// Record metrics (within lookback window).
	RecordsParsed   int     `json:"records_parsed"`
	RecordsRejected int     `json:"records_rejected"`
	RecordsWritten  int     `json:"records_written"`
	RejectionRate   float64 `json:"rejection_rate"`

	// Checkpoints left behind by interrupted runs.
	OpenCheckpoints  int                     `json:"open_checkpoints"`
	StaleCheckpoints []model.FetchCheckpoint `json:"stale_checkpoints,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunSource is the part of the store the collector reads.
type RunSource interface {
	ListRuns(ctx context.Context, limit int) ([]model.RunReport, error)
	ListCheckpoints(ctx context.Context) ([]model.FetchCheckpoint, error)
}

// Collector gathers metrics from run history and checkpoints.
type Collector struct {
	src     RunSource
	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(src RunSource) *Collector {
	return &Collector{src: src, nowFunc: time.Now}
}

// Collect gathers a snapshot over the lookback window. A checkpoint not
// advanced for staleAfter counts as stale; staleAfter <= 0 disables the check.
func (c *Collector) Collect(ctx context.Context, lookbackHours int, staleAfter time.Duration) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.src.ListRuns(ctx, maxRunsScanned)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	for _, r := range runs {
		if r.FinishedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Outcome {
		case model.OutcomeCompleted, model.OutcomeCompletedWithRejections:
			snap.RunsCompleted++
		case model.OutcomeFailed:
			snap.RunsFailed++
		}
		if s := r.Statistics; s != nil {
			snap.PagesFailed += s.PagesFailed
			snap.RecordsParsed += s.RecordsParsed
			snap.RecordsRejected += s.TotalRejected()
			snap.RecordsWritten += s.RecordsWritten
		}
	}
	if snap.RunsTotal > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(snap.RunsTotal)
	}
	if snap.RecordsParsed > 0 {
		snap.RejectionRate = float64(snap.RecordsRejected) / float64(snap.RecordsParsed)
	}

	cps, err := c.src.ListCheckpoints(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list checkpoints")
	}
	snap.OpenCheckpoints = len(cps)
	if staleAfter > 0 {
		for _, cp := range cps {
			if now.Sub(cp.UpdatedAt) > staleAfter {
				snap.StaleCheckpoints = append(snap.StaleCheckpoints, cp)
			}
		}
	}

	return snap, nil
}
