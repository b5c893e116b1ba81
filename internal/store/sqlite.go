package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/da-ingest/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// Writers are serialized on a single connection.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, nowFunc: time.Now}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS applications (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	da_number        TEXT NOT NULL UNIQUE,
	detail_url       TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	submitted_date   TEXT NOT NULL,
	decision         TEXT NOT NULL,
	category         TEXT NOT NULL,
	property_address TEXT NOT NULL DEFAULT '',
	applicant        TEXT NOT NULL DEFAULT '',
	progress         TEXT NOT NULL DEFAULT '',
	fees             TEXT NOT NULL DEFAULT '',
	fees_amount      TEXT,
	documents        TEXT NOT NULL DEFAULT '[]',
	contact_council  TEXT NOT NULL DEFAULT '',
	raw_decision     TEXT NOT NULL DEFAULT '',
	raw_category     TEXT NOT NULL DEFAULT '',
	source_page      INTEGER NOT NULL DEFAULT 0,
	source_position  INTEGER NOT NULL DEFAULT 0,
	first_seen_at    TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fetch_checkpoints (
	range_key           TEXT PRIMARY KEY,
	run_id              TEXT NOT NULL,
	last_completed_page INTEGER NOT NULL,
	date_range_start    TEXT NOT NULL,
	date_range_end      TEXT NOT NULL,
	records_written     INTEGER NOT NULL DEFAULT 0,
	updated_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id          TEXT PRIMARY KEY,
	range_key   TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	failed_page INTEGER NOT NULL DEFAULT 0,
	resumable   INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	statistics  TEXT NOT NULL,
	finished_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_applications_submitted ON applications(submitted_date);
CREATE INDEX IF NOT EXISTS idx_applications_category ON applications(category);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_finished ON ingest_runs(finished_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const applicationColumns = `da_number, detail_url, description, submitted_date, decision, category,
	property_address, applicant, progress, fees, fees_amount, documents, contact_council,
	raw_decision, raw_category, source_page, source_position`

const sqliteUpsert = `INSERT INTO applications (` + applicationColumns + `, first_seen_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(da_number) DO UPDATE SET
	detail_url = excluded.detail_url,
	description = excluded.description,
	submitted_date = excluded.submitted_date,
	decision = excluded.decision,
	category = excluded.category,
	property_address = excluded.property_address,
	applicant = excluded.applicant,
	progress = excluded.progress,
	fees = excluded.fees,
	fees_amount = excluded.fees_amount,
	documents = excluded.documents,
	contact_council = excluded.contact_council,
	raw_decision = excluded.raw_decision,
	raw_category = excluded.raw_category,
	source_page = excluded.source_page,
	source_position = excluded.source_position,
	updated_at = excluded.updated_at`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) upsert(ctx context.Context, ex execer, rec model.ApplicationRecord) error {
	docs, err := json.Marshal(nonNilDocs(rec.Documents))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal documents")
	}
	var fees any
	if rec.FeesAmount.Valid {
		fees = rec.FeesAmount.Decimal.String()
	}
	now := s.nowFunc().UTC().Format(time.RFC3339Nano)
	_, err = ex.ExecContext(ctx, sqliteUpsert,
		rec.DANumber, rec.DetailURL, rec.Description, rec.SubmittedDate.String(),
		string(rec.Decision), string(rec.Category), rec.PropertyAddress, rec.Applicant,
		rec.Progress, rec.Fees, fees, string(docs), rec.ContactCouncil,
		rec.RawDecision, rec.RawCategory, rec.SourcePage, rec.SourcePosition,
		now, now,
	)
	return eris.Wrapf(err, "sqlite: upsert %s", rec.DANumber)
}

func (s *SQLiteStore) Upsert(ctx context.Context, rec model.ApplicationRecord) error {
	return writeFailed("upsert", s.upsert(ctx, s.db, rec))
}

func (s *SQLiteStore) CommitPage(ctx context.Context, recs []model.ApplicationRecord, cp model.FetchCheckpoint) error {
	return writeFailed("commit page", s.inTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range collapse(recs) {
			if err := s.upsert(ctx, tx, rec); err != nil {
				return err
			}
		}
		return s.saveCheckpoint(ctx, tx, cp)
	}))
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) GetAll(ctx context.Context) ([]model.ApplicationRecord, error) {
	recs, err := s.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 {
		return recs, nil
	}
	var runs int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ingest_runs`).Scan(&runs); err != nil {
		return nil, eris.Wrap(err, "sqlite: count runs")
	}
	if runs == 0 {
		return nil, ErrNoRun
	}
	return recs, nil
}

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]model.ApplicationRecord, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications`
	var where []string
	var args []any
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.Decision != "" {
		where = append(where, "decision = ?")
		args = append(args, string(f.Decision))
	}
	if f.Search != "" {
		where = append(where, `(da_number LIKE ? ESCAPE '\' OR property_address LIKE ? ESCAPE '\'`+
			` OR description LIKE ? ESCAPE '\' OR applicant LIKE ? ESCAPE '\')`)
		like := likePattern(f.Search)
		args = append(args, like, like, like, like)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list applications")
	}
	defer rows.Close() //nolint:errcheck

	recs := make([]model.ApplicationRecord, 0)
	for rows.Next() {
		rec, err := scanSQLiteApplication(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: iterate applications")
}

func (s *SQLiteStore) Get(ctx context.Context, daNumber string) (*model.ApplicationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE da_number = ?`, daNumber)
	rec, err := scanSQLiteApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM applications`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count applications")
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, dr model.DateRange) (*model.FetchCheckpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, last_completed_page, date_range_start, date_range_end, records_written, updated_at
		 FROM fetch_checkpoints WHERE range_key = ?`, dr.Key())
	cp, err := scanSQLiteCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return cp, err
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp model.FetchCheckpoint) error {
	return writeFailed("save checkpoint", s.saveCheckpoint(ctx, s.db, cp))
}

func (s *SQLiteStore) saveCheckpoint(ctx context.Context, ex execer, cp model.FetchCheckpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.nowFunc()
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO fetch_checkpoints (range_key, run_id, last_completed_page, date_range_start, date_range_end, records_written, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(range_key) DO UPDATE SET
			run_id = excluded.run_id,
			last_completed_page = excluded.last_completed_page,
			records_written = excluded.records_written,
			updated_at = excluded.updated_at`,
		cp.Range().Key(), cp.RunID, cp.LastCompletedPage, cp.DateRangeStart.String(), cp.DateRangeEnd.String(),
		cp.RecordsWrittenSoFar, cp.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return eris.Wrap(err, "sqlite: save checkpoint")
}

func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, dr model.DateRange) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM fetch_checkpoints WHERE range_key = ?`, dr.Key())
	return writeFailed("delete checkpoint", eris.Wrap(err, "sqlite: delete checkpoint"))
}

func (s *SQLiteStore) ListCheckpoints(ctx context.Context) ([]model.FetchCheckpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, last_completed_page, date_range_start, date_range_end, records_written, updated_at
		 FROM fetch_checkpoints ORDER BY date_range_start, date_range_end`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list checkpoints")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FetchCheckpoint
	for rows.Next() {
		cp, err := scanSQLiteCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate checkpoints")
}

func (s *SQLiteStore) RecordRun(ctx context.Context, report *model.RunReport) error {
	stats, err := json.Marshal(report.Statistics)
	if err != nil {
		return writeFailed("record run", eris.Wrap(err, "sqlite: marshal statistics"))
	}
	finished := report.FinishedAt
	if finished.IsZero() {
		finished = s.nowFunc()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, range_key, outcome, failed_page, resumable, error, statistics, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			outcome = excluded.outcome,
			failed_page = excluded.failed_page,
			resumable = excluded.resumable,
			error = excluded.error,
			statistics = excluded.statistics,
			finished_at = excluded.finished_at`,
		report.RunID, report.Range.Key(), string(report.Outcome), report.FailedPage,
		report.Resumable, report.Error, string(stats), finished.UTC().Format(time.RFC3339Nano),
	)
	return writeFailed("record run", eris.Wrap(err, "sqlite: record run"))
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, range_key, outcome, failed_page, resumable, error, statistics, finished_at
		 FROM ingest_runs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RunReport
	for rows.Next() {
		var (
			r                         model.RunReport
			rangeKey, stats, finished string
			outcome                   string
		)
		if err := rows.Scan(&r.RunID, &rangeKey, &outcome, &r.FailedPage, &r.Resumable, &r.Error, &stats, &finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Outcome = model.RunOutcome(outcome)
		if r.Range, err = model.ParseDateRange(rangeKey); err != nil {
			return nil, err
		}
		r.Statistics = &model.RunStatistics{}
		if err := json.Unmarshal([]byte(stats), r.Statistics); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal statistics")
		}
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: parse finished_at")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteApplication(row scannable) (*model.ApplicationRecord, error) {
	var (
		r                  model.ApplicationRecord
		submitted, docs    string
		decision, category string
		fees               sql.NullString
	)
	err := row.Scan(&r.DANumber, &r.DetailURL, &r.Description, &submitted, &decision, &category,
		&r.PropertyAddress, &r.Applicant, &r.Progress, &r.Fees, &fees, &docs, &r.ContactCouncil,
		&r.RawDecision, &r.RawCategory, &r.SourcePage, &r.SourcePosition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan application")
	}

	r.Decision = model.Decision(decision)
	r.Category = model.Category(category)
	if r.SubmittedDate, err = model.ParseDate(submitted); err != nil {
		return nil, err
	}
	if fees.Valid {
		d, err := decimal.NewFromString(fees.String)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse fees amount of %s", r.DANumber)
		}
		r.FeesAmount = decimal.NewNullDecimal(d)
	}
	if err := json.Unmarshal([]byte(docs), &r.Documents); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal documents of %s", r.DANumber)
	}
	r.Documents = nonNilDocs(r.Documents)
	return &r, nil
}

func scanSQLiteCheckpoint(row scannable) (*model.FetchCheckpoint, error) {
	var (
		cp                  model.FetchCheckpoint
		start, end, updated string
	)
	err := row.Scan(&cp.RunID, &cp.LastCompletedPage, &start, &end, &cp.RecordsWrittenSoFar, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan checkpoint")
	}
	if cp.DateRangeStart, err = model.ParseDate(start); err != nil {
		return nil, err
	}
	if cp.DateRangeEnd, err = model.ParseDate(end); err != nil {
		return nil, err
	}
	if cp.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse checkpoint updated_at")
	}
	return &cp, nil
}

func nonNilDocs(docs []string) []string {
	if docs == nil {
		return []string{}
	}
	return docs
}
