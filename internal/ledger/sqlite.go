package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/clinbridge/edcfill/internal/model"
)

// SQLiteLedger implements Ledger using modernc.org/sqlite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteLedger{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	form_url   TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL DEFAULT 'queued',
	summary    TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_fields (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	field_id    TEXT NOT NULL,
	disposition TEXT NOT NULL,
	state       TEXT NOT NULL DEFAULT 'pending',
	confirmed   INTEGER NOT NULL DEFAULT 0,
	final_value TEXT NOT NULL DEFAULT '',
	approved    INTEGER NOT NULL DEFAULT 0,
	finalized   INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (run_id, field_id)
);

CREATE TABLE IF NOT EXISTS fill_attempts (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         TEXT NOT NULL,
	field_id       TEXT NOT NULL,
	attempt_number INTEGER NOT NULL,
	stage          TEXT NOT NULL,
	result         TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	ts             DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_fields_run_id ON run_fields(run_id);
CREATE INDEX IF NOT EXISTS idx_fill_attempts_run_field ON fill_attempts(run_id, field_id);
`

func (s *SQLiteLedger) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

func (s *SQLiteLedger) CreateRun(ctx context.Context, formURL string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, form_url, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, formURL, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		FormURL:   formURL,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteLedger) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteLedger) UpdateRunSummary(ctx context.Context, runID string, summary model.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET summary = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run summary %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteLedger) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, form_url, status, summary, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteLedger) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, form_url, status, summary, created_at, updated_at FROM runs`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs rows")
}

func (s *SQLiteLedger) InitRecord(ctx context.Context, rec model.RunRecord) error {
	dispJSON, err := json.Marshal(rec.Disposition)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal disposition")
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_fields (run_id, field_id, disposition, state, confirmed, final_value, approved, finalized, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		rec.RunID, rec.FieldID, string(dispJSON), string(rec.State),
		boolInt(rec.Confirmed), rec.FinalValue, boolInt(rec.Approved), now, now,
	)
	return eris.Wrapf(err, "sqlite: init record %s/%s", rec.RunID, rec.FieldID)
}

func (s *SQLiteLedger) AppendAttempt(ctx context.Context, runID string, att model.FillAttempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fill_attempts (run_id, field_id, attempt_number, stage, result, error, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, att.FieldID, att.AttemptNumber, string(att.Stage), string(att.Result), att.Error, att.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "sqlite: append attempt %s/%s", runID, att.FieldID)
}

func (s *SQLiteLedger) FinalizeRecord(ctx context.Context, rec model.RunRecord) error {
	dispJSON, err := json.Marshal(rec.Disposition)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal disposition")
	}
	// A confirmed record is immutable. Anything else (pending, failed) may be
	// superseded by a later run over the same ledger, which is how resume
	// picks up approved and previously failed fields.
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_fields SET disposition = ?, state = ?, confirmed = ?, final_value = ?, finalized = 1, updated_at = ?
		 WHERE run_id = ? AND field_id = ? AND NOT (finalized = 1 AND confirmed = 1)`,
		string(dispJSON), string(rec.State), boolInt(rec.Confirmed), rec.FinalValue,
		time.Now().UTC(), rec.RunID, rec.FieldID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finalize record %s/%s", rec.RunID, rec.FieldID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		if _, getErr := s.GetRecord(ctx, rec.RunID, rec.FieldID); getErr != nil {
			return getErr
		}
		return ErrFinalized
	}
	return nil
}

func (s *SQLiteLedger) SetApproved(ctx context.Context, runID, fieldID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_fields SET approved = 1, updated_at = ? WHERE run_id = ? AND field_id = ?`,
		time.Now().UTC(), runID, fieldID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: approve %s/%s", runID, fieldID)
	}
	return checkRowsAffected(res, fieldID)
}

func (s *SQLiteLedger) GetRecord(ctx context.Context, runID, fieldID string) (*model.RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, field_id, disposition, state, confirmed, final_value, approved, finalized, created_at, updated_at
		 FROM run_fields WHERE run_id = ? AND field_id = ?`,
		runID, fieldID,
	)
	rec, err := scanRecord(row)
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

func (s *SQLiteLedger) ListRecords(ctx context.Context, runID string) ([]model.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, field_id, disposition, state, confirmed, final_value, approved, finalized, created_at, updated_at
		 FROM run_fields WHERE run_id = ? ORDER BY created_at, field_id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var recs []model.RunRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list records rows")
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

func (s *SQLiteLedger) ConfirmedFields(ctx context.Context, runID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field_id FROM run_fields WHERE run_id = ? AND confirmed = 1`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: confirmed fields")
	}
	defer rows.Close()

	confirmed := make(map[string]bool)
	for rows.Next() {
		var fieldID string
		if err := rows.Scan(&fieldID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan confirmed field")
		}
		confirmed[fieldID] = true
	}
	return confirmed, eris.Wrap(rows.Err(), "sqlite: confirmed fields rows")
}

func (s *SQLiteLedger) Summary(ctx context.Context, runID string) (*model.Summary, error) {
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

func (s *SQLiteLedger) attempts(ctx context.Context, runID, fieldID string) ([]model.FillAttempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field_id, attempt_number, stage, result, error, ts
		 FROM fill_attempts WHERE run_id = ? AND field_id = ? ORDER BY id`,
		runID, fieldID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: attempts")
	}
	defer rows.Close()

	var attempts []model.FillAttempt
	for rows.Next() {
		var att model.FillAttempt
		var stage, result string
		if err := rows.Scan(&att.FieldID, &att.AttemptNumber, &stage, &result, &att.Error, &att.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan attempt")
		}
		att.Stage = model.FillStage(stage)
		att.Result = model.ActionResult(result)
		attempts = append(attempts, att)
	}
	return attempts, eris.Wrap(rows.Err(), "sqlite: attempts rows")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*model.Run, error) {
	var r model.Run
	var status string
	var summary sql.NullString
	err := row.Scan(&r.ID, &r.FormURL, &status, &summary, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.Status = model.RunStatus(status)
	if summary.Valid && summary.String != "" {
		var sum model.Summary
		if err := json.Unmarshal([]byte(summary.String), &sum); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
		r.Summary = &sum
	}
	return &r, nil
}

func scanRecord(row rowScanner) (*model.RunRecord, error) {
	var rec model.RunRecord
	var dispJSON, state string
	var confirmed, approved, finalized int
	err := row.Scan(&rec.RunID, &rec.FieldID, &dispJSON, &state, &confirmed,
		&rec.FinalValue, &approved, &finalized, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan record")
	}
	if err := json.Unmarshal([]byte(dispJSON), &rec.Disposition); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal disposition")
	}
	rec.State = model.FillState(state)
	rec.Confirmed = confirmed != 0
	rec.Approved = approved != 0
	rec.Finalized = finalized != 0
	return &rec, nil
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "id %s", id)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
