package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/da-ingest/internal/model"
)

var september = model.DateRange{
	Start: model.NewDate(2025, time.September, 1),
	End:   model.NewDate(2025, time.September, 30),
}

func newTestSQLite(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "da.db")
	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func testRecord(da string, decision model.Decision, page, pos int) model.ApplicationRecord {
	return model.ApplicationRecord{
		DANumber:        da,
		DetailURL:       "https://portal.example/applications/" + da,
		Description:     "Dual occupancy development",
		SubmittedDate:   model.NewDate(2025, time.September, 10),
		Decision:        decision,
		Category:        model.CategoryResidential,
		PropertyAddress: "45 Bushland Avenue, NOWRA NSW 2541",
		Applicant:       "Coastal Property Group",
		Progress:        "Assessment in Progress",
		Fees:            "$1,250.50",
		FeesAmount:      decimal.NewNullDecimal(decimal.RequireFromString("1250.50")),
		Documents:       []string{"plans.pdf", "statement.pdf"},
		ContactCouncil:  model.NotRequired,
		RawDecision:     string(decision),
		RawCategory:     "Residential",
		SourcePage:      page,
		SourcePosition:  pos,
	}
}

func TestSQLite_GetAllBeforeAnyRun(t *testing.T) {
	s, _ := newTestSQLite(t)
	_, err := s.GetAll(context.Background())
	assert.ErrorIs(t, err, ErrNoRun)
}

func TestSQLite_GetAllEmptyAfterRun(t *testing.T) {
	s, _ := newTestSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.RecordRun(ctx, &model.RunReport{
		RunID:      "run-1",
		Range:      september,
		Outcome:    model.OutcomeCompleted,
		Statistics: model.NewRunStatistics(time.Now()),
	}))

	recs, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSQLite_UpsertRoundTrip(t *testing.T) {
	s, _ := newTestSQLite(t)
	ctx := context.Background()
	rec := testRecord("DA-2025-0001", model.DecisionPending, 1, 1)
	require.NoError(t, s.Upsert(ctx, rec))

	got, err := s.Get(ctx, "DA-2025-0001")
	require.NoError(t, err)
	assert.True(t, rec.Equal(*got), "got %+v", got)

	noFee := testRecord("DA-2025-0002", model.DecisionPending, 1, 2)
	noFee.FeesAmount = decimal.NullDecimal{}
	noFee.Documents = nil
	require.NoError(t, s.Upsert(ctx, noFee))
	got, err = s.Get(ctx, "DA-2025-0002")
	require.NoError(t, err)
	assert.False(t, got.FeesAmount.Valid)
	assert.Equal(t, []string{}, got.Documents)

	_, err = s.Get(ctx, "DA-2025-9999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_UpsertIsIdempotentAndLastWriteWins(t *testing.T) {
	s, _ := newTestSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, testRecord("DA-2025-0001", model.DecisionPending, 1, 1)))
	require.NoError(t, s.Upsert(ctx, testRecord("DA-2025-0002", model.DecisionPending, 1, 2)))
	require.NoError(t, s.Upsert(ctx, testRecord("DA-2025-0002", model.DecisionPending, 1, 2)))
	require.NoError(t, s.Upsert(ctx, testRecord("DA-2025-0001", model.DecisionApproved, 3, 10)))

	recs, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "DA-2025-0001", recs[0].DANumber, "keeps first-seen position")
	assert.Equal(t, model.DecisionApproved, recs[0].Decision)
	assert.Equal(t, 3, recs[0].SourcePage)
	assert.Equal(t, "DA-2025-0002", recs[1].DANumber)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLite_CommitPageCollapsesAndCheckpoints(t *testing.T) {
	s, _ := newTestSQLite(t)
	ctx := context.Background()

	cp := model.FetchCheckpoint{
		RunID:               "run-1",
		LastCompletedPage:   1,
		DateRangeStart:      september.Start,
		DateRangeEnd:        september.End,
		RecordsWrittenSoFar: 2,
	}
	err := s.CommitPage(ctx, []model.ApplicationRecord{
		testRecord("DA-2025-0001", model.DecisionPending, 1, 1),
		testRecord("DA-2025-0002", model.DecisionPending, 1, 2),
		testRecord("DA-2025-0001", model.DecisionReferred, 1, 3),
	}, cp)
	require.NoError(t, err)

	recs, err := s.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.DecisionReferred, recs[0].Decision)

	got, err := s.GetCheckpoint(ctx, september)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.LastCompletedPage)
	assert.Equal(t, int64(2), got.RecordsWrittenSoFar)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, september, got.Range())
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestSQLite_CommitPageRollsBackOnFailure(t *testing.T) {
	s, _ := newTestSQLite(t)
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `DROP TABLE fetch_checkpoints`)
	require.NoError(t, err)

	err = s.CommitPage(ctx, []model.ApplicationRecord{
		testRecord("DA-2025-0001", model.DecisionPending, 1, 1),
	}, model.FetchCheckpoint{RunID: "r", LastCompletedPage: 1, DateRangeStart: september.Start, DateRangeEnd: september.End})
	require.Error(t, err)
	assert.True(t, IsWriteFailed(err))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "records must not outlive a failed checkpoint write")
}

func TestSQLite_CheckpointsAreKeyedByRange(t *testing.T) {
	s, _ := newTestSQLite(t)
	ctx := context.Background()
	october := model.DateRange{Start: model.NewDate(2025, time.October, 1), End: model.NewDate(2025, time.October, 31)}

	got, err := s.GetCheckpoint(ctx, september)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.SaveCheckpoint(ctx, model.FetchCheckpoint{RunID: "a", LastCompletedPage: 2, DateRangeStart: september.Start, DateRangeEnd: september.End}))
	require.NoError(t, s.SaveCheckpoint(ctx, model.FetchCheckpoint{RunID: "b", LastCompletedPage: 5, DateRangeStart: october.Start, DateRangeEnd: october.End}))
	require.NoError(t, s.SaveCheckpoint(ctx, model.FetchCheckpoint{RunID: "a", LastCompletedPage: 3, DateRangeStart: september.Start, DateRangeEnd: september.End}))

	all, err := s.ListCheckpoints(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 3, all[0].LastCompletedPage)
	assert.Equal(t, 5, all[1].LastCompletedPage)

	require.NoError(t, s.DeleteCheckpoint(ctx, september))
	got, err = s.GetCheckpoint(ctx, september)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.GetCheckpoint(ctx, october)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	s, path := newTestSQLite(t)
	ctx := context.Background()

	cp := model.FetchCheckpoint{RunID: "run-1", LastCompletedPage: 2, DateRangeStart: september.Start, DateRangeEnd: september.End, RecordsWrittenSoFar: 1}
	rec := testRecord("DA-2025-0042", model.DecisionRefused, 2, 7)
	require.NoError(t, s.CommitPage(ctx, []model.ApplicationRecord{rec}, cp))
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(path)
	require.NoError(t, err)
	defer reopened.Close() //nolint:errcheck
	require.NoError(t, reopened.Migrate(ctx))

	got, err := reopened.GetCheckpoint(ctx, september)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.LastCompletedPage)

	recs, err := reopened.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, rec.Equal(recs[0]))
	assert.Equal(t, "1250.5", recs[0].FeesAmount.Decimal.String())
}

func TestSQLite_ListFilters(t *testing.T) {
	s, _ := newTestSQLite(t)
	ctx := context.Background()

	a := testRecord("DA-2025-0001", model.DecisionApproved, 1, 1)
	b := testRecord("DA-2025-0002", model.DecisionPending, 1, 2)
	b.Category = model.CategoryCommercial
	b.PropertyAddress = "12 Ocean View Road, ULLADULLA NSW 2539"
	c := testRecord("DA-2025-0003", model.DecisionApproved, 1, 3)
	c.Category = model.CategoryCommercial
	for _, r := range []model.ApplicationRecord{a, b, c} {
		require.NoError(t, s.Upsert(ctx, r))
	}

	got, err := s.List(ctx, Filter{Category: model.CategoryCommercial})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.List(ctx, Filter{Category: model.CategoryCommercial, Decision: model.DecisionApproved})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "DA-2025-0003", got[0].DANumber)

	got, err = s.List(ctx, Filter{Search: "ulladulla"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "DA-2025-0002", got[0].DANumber)

	got, err = s.List(ctx, Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "DA-2025-0002", got[0].DANumber)
}

func TestSQLite_ListSearchTreatsWildcardsLiterally(t *testing.T) {
	s, _ := newTestSQLite(t)
	ctx := context.Background()

	a := testRecord("DA-2025-0001", model.DecisionApproved, 1, 1)
	b := testRecord("DA-2025-0002", model.DecisionPending, 1, 2)
	b.Applicant = "coastal_builders"
	b.Description = `Fit-out at 100% GFA, level\2`
	for _, r := range []model.ApplicationRecord{a, b} {
		require.NoError(t, s.Upsert(ctx, r))
	}

	for _, q := range []string{"_", "%", "100%", `\`} {
		got, err := s.List(ctx, Filter{Search: q})
		require.NoError(t, err, q)
		require.Len(t, got, 1, q)
		assert.Equal(t, "DA-2025-0002", got[0].DANumber, q)
	}

	got, err := s.List(ctx, Filter{Search: "coastal%builders"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLite_RunHistory(t *testing.T) {
	s, _ := newTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2025, time.October, 1, 9, 0, 0, 0, time.UTC)

	stats := model.NewRunStatistics(base)
	stats.PagesFetched = 3
	stats.RecordsWritten = 27
	stats.Reject(model.RejectBadDate)
	stats.ByCategory[model.CategoryResidential] = 14

	require.NoError(t, s.RecordRun(ctx, &model.RunReport{
		RunID: "older", Range: september, Outcome: model.OutcomeFailed, FailedPage: 2, Resumable: true,
		Error: "fetch page 2: transient", Statistics: model.NewRunStatistics(base), FinishedAt: base,
	}))
	require.NoError(t, s.RecordRun(ctx, &model.RunReport{
		RunID: "newer", Range: september, Outcome: model.OutcomeCompletedWithRejections,
		Statistics: stats, FinishedAt: base.Add(time.Hour),
	}))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newer", runs[0].RunID)
	assert.Equal(t, 27, runs[0].Statistics.RecordsWritten)
	assert.Equal(t, 1, runs[0].Statistics.RecordsRejected[model.RejectBadDate])
	assert.Equal(t, 14, runs[0].Statistics.ByCategory[model.CategoryResidential])
	assert.Equal(t, september, runs[0].Range)

	assert.Equal(t, "older", runs[1].RunID)
	assert.True(t, runs[1].Resumable)
	assert.Equal(t, 2, runs[1].FailedPage)
	assert.Equal(t, "failed at page 2, resumable", runs[1].Summary())

	runs, err = s.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
