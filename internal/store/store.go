// Package store persists normalized applications, fetch checkpoints and run
// history.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/da-ingest/internal/model"
)

// ErrNoRun is returned by GetAll when the store is empty and no run has ever
// been recorded, as distinct from a run that found nothing.
var ErrNoRun = eris.New("store: no ingestion run has been recorded")

// ErrNotFound is returned by Get for an unknown application number.
var ErrNotFound = eris.New("store: application not found")

// ErrorKind classifies store failures.
type ErrorKind int

const (
	// WriteFailed means a write was rolled back; nothing from it is visible.
	WriteFailed ErrorKind = iota + 1
)

func (k ErrorKind) String() string {
	if k == WriteFailed {
		return "write_failed"
	}
	return "unknown"
}

// StoreError is returned by every write operation that fails.
type StoreError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsWriteFailed reports whether err is a failed store write.
func IsWriteFailed(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Kind == WriteFailed
}

func writeFailed(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Kind: WriteFailed, Op: op, Err: err}
}

// Filter narrows record listings.
type Filter struct {
	Category model.Category
	Decision model.Decision
	// Search matches DA number, address, description or applicant as a
	// case-insensitive substring. % and _ match themselves.
	Search string
	Limit  int
	Offset int
}

// Store is the durable persistence interface of the pipeline.
type Store interface {
	// Upsert writes rec, replacing any stored record with the same DA number.
	// A replaced record keeps its original insertion position.
	Upsert(ctx context.Context, rec model.ApplicationRecord) error
	// CommitPage writes recs and advances cp in one transaction. Records that
	// share a DA number within recs collapse to the last one, placed where the
	// first one was seen.
	CommitPage(ctx context.Context, recs []model.ApplicationRecord, cp model.FetchCheckpoint) error

	// GetAll returns every record in first-seen order.
	GetAll(ctx context.Context) ([]model.ApplicationRecord, error)
	List(ctx context.Context, f Filter) ([]model.ApplicationRecord, error)
	Get(ctx context.Context, daNumber string) (*model.ApplicationRecord, error)
	Count(ctx context.Context) (int, error)

	// GetCheckpoint returns nil when no checkpoint exists for dr.
	GetCheckpoint(ctx context.Context, dr model.DateRange) (*model.FetchCheckpoint, error)
	SaveCheckpoint(ctx context.Context, cp model.FetchCheckpoint) error
	DeleteCheckpoint(ctx context.Context, dr model.DateRange) error
	ListCheckpoints(ctx context.Context) ([]model.FetchCheckpoint, error)

	RecordRun(ctx context.Context, report *model.RunReport) error
	ListRuns(ctx context.Context, limit int) ([]model.RunReport, error)

	Migrate(ctx context.Context) error
	Close() error
}

// collapse drops all but the last record per DA number, keeping the order of
// first appearance. The survivor takes the source page and position of the
// first occurrence, so sorting by them still yields first-seen order.
func collapse(recs []model.ApplicationRecord) []model.ApplicationRecord {
	idx := make(map[string]int, len(recs))
	out := make([]model.ApplicationRecord, 0, len(recs))
	for _, r := range recs {
		if i, ok := idx[r.DANumber]; ok {
			r.SourcePage, r.SourcePosition = out[i].SourcePage, out[i].SourcePosition
			out[i] = r
			continue
		}
		idx[r.DANumber] = len(out)
		out = append(out, r)
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern turns s into a LIKE pattern matching any text containing s,
// for use with ESCAPE '\'.
func likePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
