// Package ledger is the append-only record keeper for fill runs. It holds no
// business logic: callers record outcomes, the ledger preserves them. A record
// finalized as confirmed is never mutated; other finalized records can only be
// superseded by a later run over the same ledger. Append operations assume a
// single writer per ledger store.
package ledger

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/clinbridge/edcfill/internal/model"
)

// ErrFinalized is returned when a caller attempts to rewrite a record that was
// finalized as confirmed. Non-confirmed finalized records may be finalized
// again by a later run over the same ledger.
var ErrFinalized = eris.New("ledger: record already finalized")

// ErrNotFound is returned when a run or record does not exist.
var ErrNotFound = eris.New("ledger: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Ledger defines the persistence interface for run bookkeeping.
type Ledger interface {
	// Runs
	CreateRun(ctx context.Context, formURL string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunSummary(ctx context.Context, runID string, summary model.Summary) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Field records
	InitRecord(ctx context.Context, rec model.RunRecord) error
	AppendAttempt(ctx context.Context, runID string, att model.FillAttempt) error
	FinalizeRecord(ctx context.Context, rec model.RunRecord) error
	SetApproved(ctx context.Context, runID, fieldID string) error
	GetRecord(ctx context.Context, runID, fieldID string) (*model.RunRecord, error)
	ListRecords(ctx context.Context, runID string) ([]model.RunRecord, error)

	// ConfirmedFields returns the set of field_ids already confirmed in the
	// given run, used to skip completed work on resume.
	ConfirmedFields(ctx context.Context, runID string) (map[string]bool, error)

	// Summary tallies field outcomes for a run from its records.
	Summary(ctx context.Context, runID string) (*model.Summary, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
