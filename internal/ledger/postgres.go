package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/clinbridge/edcfill/internal/model"
)

// PgxPool is the subset of pgxpool.Pool the ledger uses; it also matches
// pgxmock's pool interface so the store is testable without a database.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresLedger implements Ledger using pgxpool.
type PostgresLedger struct {
	pool PgxPool
}

// NewPostgres creates a PostgresLedger with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresLedger{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool (or mock) without connecting.
func NewPostgresFromPool(pool PgxPool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	form_url   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'queued',
	summary    JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_fields (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	field_id    TEXT NOT NULL,
	disposition JSONB NOT NULL,
	state       TEXT NOT NULL DEFAULT 'pending',
	confirmed   BOOLEAN NOT NULL DEFAULT false,
	final_value TEXT NOT NULL DEFAULT '',
	approved    BOOLEAN NOT NULL DEFAULT false,
	finalized   BOOLEAN NOT NULL DEFAULT false,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, field_id)
);

CREATE TABLE IF NOT EXISTS fill_attempts (
	id             BIGSERIAL PRIMARY KEY,
	run_id         TEXT NOT NULL,
	field_id       TEXT NOT NULL,
	attempt_number INT NOT NULL,
	stage          TEXT NOT NULL,
	result         TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	ts             TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_fields_run_id ON run_fields(run_id);
CREATE INDEX IF NOT EXISTS idx_fill_attempts_run_field ON fill_attempts(run_id, field_id);
`

func (s *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresLedger) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresLedger) CreateRun(ctx context.Context, formURL string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, form_url, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, formURL, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		FormURL:   formURL,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresLedger) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresLedger) UpdateRunSummary(ctx context.Context, runID string, summary model.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET summary = $1, updated_at = $2 WHERE id = $3`,
		data, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run summary %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresLedger) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, form_url, status, summary, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	return scanPgRun(row)
}

func (s *PostgresLedger) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, form_url, status, summary, created_at, updated_at FROM runs`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT $` + strconv.Itoa(len(args)+1)
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET $` + strconv.Itoa(len(args)+1)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs rows")
}

func (s *PostgresLedger) InitRecord(ctx context.Context, rec model.RunRecord) error {
	dispJSON, err := json.Marshal(rec.Disposition)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal disposition")
	}
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_fields (run_id, field_id, disposition, state, confirmed, final_value, approved, finalized, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8, $9)`,
		rec.RunID, rec.FieldID, dispJSON, string(rec.State),
		rec.Confirmed, rec.FinalValue, rec.Approved, now, now,
	)
	return eris.Wrapf(err, "postgres: init record %s/%s", rec.RunID, rec.FieldID)
}

func (s *PostgresLedger) AppendAttempt(ctx context.Context, runID string, att model.FillAttempt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fill_attempts (run_id, field_id, attempt_number, stage, result, error, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		runID, att.FieldID, att.AttemptNumber, string(att.Stage), string(att.Result), att.Error, att.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "postgres: append attempt %s/%s", runID, att.FieldID)
}

func (s *PostgresLedger) FinalizeRecord(ctx context.Context, rec model.RunRecord) error {
	dispJSON, err := json.Marshal(rec.Disposition)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal disposition")
	}
	// A confirmed record is immutable; non-confirmed finalized records may be
	// superseded by a later run (resume of approved or failed fields).
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_fields SET disposition = $1, state = $2, confirmed = $3, final_value = $4, finalized = true, updated_at = $5
		 WHERE run_id = $6 AND field_id = $7 AND NOT (finalized AND confirmed)`,
		dispJSON, string(rec.State), rec.Confirmed, rec.FinalValue,
		time.Now().UTC(), rec.RunID, rec.FieldID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finalize record %s/%s", rec.RunID, rec.FieldID)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetRecord(ctx, rec.RunID, rec.FieldID); getErr != nil {
			return getErr
		}
		return ErrFinalized
	}
	return nil
}

func (s *PostgresLedger) SetApproved(ctx context.Context, runID, fieldID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_fields SET approved = true, updated_at = $1 WHERE run_id = $2 AND field_id = $3`,
		time.Now().UTC(), runID, fieldID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: approve %s/%s", runID, fieldID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "field %s", fieldID)
	}
	return nil
}

func (s *PostgresLedger) GetRecord(ctx context.Context, runID, fieldID string) (*model.RunRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT run_id, field_id, disposition, state, confirmed, final_value, approved, finalized, created_at, updated_at
		 FROM run_fields WHERE run_id = $1 AND field_id = $2`,
		runID, fieldID,
	)
	rec, err := scanPgRecord(row)
	if err != nil {
		return nil, err
	}
	attempts, err := s.attempts(ctx, runID, fieldID)
	if err != nil {
		return nil, err
	}
	rec.Attempts = attempts
	return rec, nil
}

func (s *PostgresLedger) ListRecords(ctx context.Context, runID string) ([]model.RunRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, field_id, disposition, state, confirmed, final_value, approved, finalized, created_at, updated_at
		 FROM run_fields WHERE run_id = $1 ORDER BY created_at, field_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var recs []model.RunRecord
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list records rows")
	}

	for i := range recs {
		attempts, err := s.attempts(ctx, runID, recs[i].FieldID)
		if err != nil {
			return nil, err
		}
		recs[i].Attempts = attempts
	}
	return recs, nil
}

func (s *PostgresLedger) ConfirmedFields(ctx context.Context, runID string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT field_id FROM run_fields WHERE run_id = $1 AND confirmed = true`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: confirmed fields")
	}
	defer rows.Close()

	confirmed := make(map[string]bool)
	for rows.Next() {
		var fieldID string
		if err := rows.Scan(&fieldID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan confirmed field")
		}
		confirmed[fieldID] = true
	}
	return confirmed, eris.Wrap(rows.Err(), "postgres: confirmed fields rows")
}

func (s *PostgresLedger) Summary(ctx context.Context, runID string) (*model.Summary, error) {
	recs, err := s.ListRecords(ctx, runID)
	if err != nil {
		return nil, err
	}
	var sum model.Summary
	for _, rec := range recs {
		sum.Add(rec)
	}
	return &sum, nil
}

func (s *PostgresLedger) attempts(ctx context.Context, runID, fieldID string) ([]model.FillAttempt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT field_id, attempt_number, stage, result, error, ts
		 FROM fill_attempts WHERE run_id = $1 AND field_id = $2 ORDER BY id`,
		runID, fieldID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: attempts")
	}
	defer rows.Close()

	var attempts []model.FillAttempt
	for rows.Next() {
		var att model.FillAttempt
		var stage, result string
		if err := rows.Scan(&att.FieldID, &att.AttemptNumber, &stage, &result, &att.Error, &att.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan attempt")
		}
		att.Stage = model.FillStage(stage)
		att.Result = model.ActionResult(result)
		attempts = append(attempts, att)
	}
	return attempts, eris.Wrap(rows.Err(), "postgres: attempts rows")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var status string
	var summary []byte
	err := row.Scan(&r.ID, &r.FormURL, &status, &summary, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	r.Status = model.RunStatus(status)
	if len(summary) > 0 {
		var sum model.Summary
		if err := json.Unmarshal(summary, &sum); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
		r.Summary = &sum
	}
	return &r, nil
}

func scanPgRecord(row pgx.Row) (*model.RunRecord, error) {
	var rec model.RunRecord
	var dispJSON []byte
	var state string
	err := row.Scan(&rec.RunID, &rec.FieldID, &dispJSON, &state, &rec.Confirmed,
		&rec.FinalValue, &rec.Approved, &rec.Finalized, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan record")
	}
	if err := json.Unmarshal(dispJSON, &rec.Disposition); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal disposition")
	}
	rec.State = model.FillState(state)
	return &rec, nil
}
