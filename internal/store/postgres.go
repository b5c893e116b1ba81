package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/da-ingest/internal/db"
	"github.com/sells-group/da-ingest/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	nowFunc func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, nowFunc: time.Now}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS applications (
	id               BIGSERIAL PRIMARY KEY,
	da_number        TEXT NOT NULL UNIQUE,
	detail_url       TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	submitted_date   DATE NOT NULL,
	decision         TEXT NOT NULL,
	category         TEXT NOT NULL,
	property_address TEXT NOT NULL DEFAULT '',
	applicant        TEXT NOT NULL DEFAULT '',
	progress         TEXT NOT NULL DEFAULT '',
	fees             TEXT NOT NULL DEFAULT '',
	fees_amount      NUMERIC,
	documents        JSONB NOT NULL DEFAULT '[]',
	contact_council  TEXT NOT NULL DEFAULT '',
	raw_decision     TEXT NOT NULL DEFAULT '',
	raw_category     TEXT NOT NULL DEFAULT '',
	source_page      INTEGER NOT NULL DEFAULT 0,
	source_position  INTEGER NOT NULL DEFAULT 0,
	first_seen_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS fetch_checkpoints (
	range_key           TEXT PRIMARY KEY,
	run_id              TEXT NOT NULL,
	last_completed_page INTEGER NOT NULL,
	date_range_start    DATE NOT NULL,
	date_range_end      DATE NOT NULL,
	records_written     BIGINT NOT NULL DEFAULT 0,
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id          TEXT PRIMARY KEY,
	range_start DATE NOT NULL,
	range_end   DATE NOT NULL,
	outcome     TEXT NOT NULL,
	failed_page INTEGER NOT NULL DEFAULT 0,
	resumable   BOOLEAN NOT NULL DEFAULT false,
	error       TEXT NOT NULL DEFAULT '',
	statistics  JSONB NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_applications_submitted ON applications(submitted_date);
CREATE INDEX IF NOT EXISTS idx_applications_category ON applications(category);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_finished ON ingest_runs(finished_at DESC);
`

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) now() time.Time {
	if s.nowFunc == nil {
		return time.Now().UTC()
	}
	return s.nowFunc().UTC()
}

// applicationUpsert stages rows with COPY. Ordering by source position keeps
// serial ids, and so GetAll order, in the order records were seen.
var applicationUpsert = db.UpsertConfig{
	Table: "applications",
	Columns: []string{
		"da_number", "detail_url", "description", "submitted_date", "decision", "category",
		"property_address", "applicant", "progress", "fees", "fees_amount", "documents",
		"contact_council", "raw_decision", "raw_category", "source_page", "source_position",
		"updated_at",
	},
	ConflictKeys: []string{"da_number"},
	OrderBy:      []string{"source_page", "source_position"},
}

func (s *PostgresStore) applicationRow(rec model.ApplicationRecord) []any {
	return []any{
		rec.DANumber, rec.DetailURL, rec.Description, rec.SubmittedDate.Time(),
		string(rec.Decision), string(rec.Category), rec.PropertyAddress, rec.Applicant,
		rec.Progress, rec.Fees, numericOf(rec.FeesAmount), nonNilDocs(rec.Documents),
		rec.ContactCouncil, rec.RawDecision, rec.RawCategory, rec.SourcePage, rec.SourcePosition,
		s.now(),
	}
}

func (s *PostgresStore) Upsert(ctx context.Context, rec model.ApplicationRecord) error {
	return writeFailed("upsert", s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := db.BulkUpsert(ctx, tx, applicationUpsert, [][]any{s.applicationRow(rec)})
		return err
	}))
}

func (s *PostgresStore) CommitPage(ctx context.Context, recs []model.ApplicationRecord, cp model.FetchCheckpoint) error {
	return writeFailed("commit page", s.inTx(ctx, func(tx pgx.Tx) error {
		collapsed := collapse(recs)
		rows := make([][]any, len(collapsed))
		for i, rec := range collapsed {
			rows[i] = s.applicationRow(rec)
		}
		if _, err := db.BulkUpsert(ctx, tx, applicationUpsert, rows); err != nil {
			return err
		}
		return s.saveCheckpoint(ctx, tx, cp)
	}))
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

const pgApplicationSelect = `SELECT da_number, detail_url, description, submitted_date, decision, category,
	property_address, applicant, progress, fees, fees_amount, documents, contact_council,
	raw_decision, raw_category, source_page, source_position FROM applications`

func (s *PostgresStore) GetAll(ctx context.Context) ([]model.ApplicationRecord, error) {
	recs, err := s.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	if len(recs) > 0 {
		return recs, nil
	}
	var runs int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ingest_runs`).Scan(&runs); err != nil {
		return nil, eris.Wrap(err, "postgres: count runs")
	}
	if runs == 0 {
		return nil, ErrNoRun
	}
	return recs, nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]model.ApplicationRecord, error) {
	query := pgApplicationSelect
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.Category != "" {
		where = append(where, "category = "+arg(string(f.Category)))
	}
	if f.Decision != "" {
		where = append(where, "decision = "+arg(string(f.Decision)))
	}
	if f.Search != "" {
		p := arg(likePattern(f.Search)) + ` ESCAPE '\'`
		where = append(where, "(da_number ILIKE "+p+" OR property_address ILIKE "+p+
			" OR description ILIKE "+p+" OR applicant ILIKE "+p+")")
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit) + " OFFSET " + arg(f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list applications")
	}
	defer rows.Close()

	recs := make([]model.ApplicationRecord, 0)
	for rows.Next() {
		rec, err := scanPgApplication(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: iterate applications")
}

func (s *PostgresStore) Get(ctx context.Context, daNumber string) (*model.ApplicationRecord, error) {
	rec, err := scanPgApplication(s.pool.QueryRow(ctx, pgApplicationSelect+` WHERE da_number = $1`, daNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM applications`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count applications")
}

const pgCheckpointSelect = `SELECT run_id, last_completed_page, date_range_start, date_range_end, records_written, updated_at
	FROM fetch_checkpoints`

func (s *PostgresStore) GetCheckpoint(ctx context.Context, dr model.DateRange) (*model.FetchCheckpoint, error) {
	cp, err := scanPgCheckpoint(s.pool.QueryRow(ctx, pgCheckpointSelect+` WHERE range_key = $1`, dr.Key()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return cp, err
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp model.FetchCheckpoint) error {
	return writeFailed("save checkpoint", s.saveCheckpoint(ctx, s.pool, cp))
}

func (s *PostgresStore) saveCheckpoint(ctx context.Context, q db.Querier, cp model.FetchCheckpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.now()
	}
	_, err := q.Exec(ctx,
		`INSERT INTO fetch_checkpoints (range_key, run_id, last_completed_page, date_range_start, date_range_end, records_written, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (range_key) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			last_completed_page = EXCLUDED.last_completed_page,
			records_written = EXCLUDED.records_written,
			updated_at = EXCLUDED.updated_at`,
		cp.Range().Key(), cp.RunID, cp.LastCompletedPage, cp.DateRangeStart.Time(), cp.DateRangeEnd.Time(),
		cp.RecordsWrittenSoFar, cp.UpdatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: save checkpoint")
}

func (s *PostgresStore) DeleteCheckpoint(ctx context.Context, dr model.DateRange) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM fetch_checkpoints WHERE range_key = $1`, dr.Key())
	return writeFailed("delete checkpoint", eris.Wrap(err, "postgres: delete checkpoint"))
}

func (s *PostgresStore) ListCheckpoints(ctx context.Context) ([]model.FetchCheckpoint, error) {
	rows, err := s.pool.Query(ctx, pgCheckpointSelect+` ORDER BY date_range_start, date_range_end`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list checkpoints")
	}
	defer rows.Close()

	var out []model.FetchCheckpoint
	for rows.Next() {
		cp, err := scanPgCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate checkpoints")
}

func (s *PostgresStore) RecordRun(ctx context.Context, report *model.RunReport) error {
	stats, err := json.Marshal(report.Statistics)
	if err != nil {
		return writeFailed("record run", eris.Wrap(err, "postgres: marshal statistics"))
	}
	finished := report.FinishedAt
	if finished.IsZero() {
		finished = s.now()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO ingest_runs (id, range_start, range_end, outcome, failed_page, resumable, error, statistics, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			failed_page = EXCLUDED.failed_page,
			resumable = EXCLUDED.resumable,
			error = EXCLUDED.error,
			statistics = EXCLUDED.statistics,
			finished_at = EXCLUDED.finished_at`,
		report.RunID, report.Range.Start.Time(), report.Range.End.Time(), string(report.Outcome),
		report.FailedPage, report.Resumable, report.Error, stats, finished.UTC(),
	)
	return writeFailed("record run", eris.Wrap(err, "postgres: record run"))
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, range_start, range_end, outcome, failed_page, resumable, error, statistics, finished_at
		 FROM ingest_runs ORDER BY finished_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.RunReport
	for rows.Next() {
		var (
			r          model.RunReport
			start, end time.Time
			outcome    string
			stats      []byte
		)
		if err := rows.Scan(&r.RunID, &start, &end, &outcome, &r.FailedPage, &r.Resumable, &r.Error, &stats, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Range = model.DateRange{Start: model.DateOf(start), End: model.DateOf(end)}
		r.Outcome = model.RunOutcome(outcome)
		r.Statistics = &model.RunStatistics{}
		if err := json.Unmarshal(stats, r.Statistics); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal statistics")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func scanPgApplication(row pgx.Row) (*model.ApplicationRecord, error) {
	var (
		r                  model.ApplicationRecord
		submitted          time.Time
		decision, category string
		fees               pgtype.Numeric
	)
	err := row.Scan(&r.DANumber, &r.DetailURL, &r.Description, &submitted, &decision, &category,
		&r.PropertyAddress, &r.Applicant, &r.Progress, &r.Fees, &fees, &r.Documents, &r.ContactCouncil,
		&r.RawDecision, &r.RawCategory, &r.SourcePage, &r.SourcePosition)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan application")
	}
	r.SubmittedDate = model.DateOf(submitted)
	r.Decision = model.Decision(decision)
	r.Category = model.Category(category)
	r.FeesAmount = decimalOf(fees)
	r.Documents = nonNilDocs(r.Documents)
	return &r, nil
}

func scanPgCheckpoint(row pgx.Row) (*model.FetchCheckpoint, error) {
	var (
		cp         model.FetchCheckpoint
		start, end time.Time
	)
	err := row.Scan(&cp.RunID, &cp.LastCompletedPage, &start, &end, &cp.RecordsWrittenSoFar, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan checkpoint")
	}
	cp.DateRangeStart = model.DateOf(start)
	cp.DateRangeEnd = model.DateOf(end)
	return &cp, nil
}

func numericOf(d decimal.NullDecimal) pgtype.Numeric {
	if !d.Valid {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: d.Decimal.Coefficient(), Exp: d.Decimal.Exponent(), Valid: true}
}

func decimalOf(n pgtype.Numeric) decimal.NullDecimal {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite || n.Int == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromBigInt(n.Int, n.Exp))
}
