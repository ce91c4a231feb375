package model

import "time"

// RunStatus tracks a fill run through its lifecycle.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// FillState is the per-field fill state machine position.
type FillState string

const (
	FillPending   FillState = "pending"
	FillLocating  FillState = "locating"
	FillWriting   FillState = "writing"
	FillVerifying FillState = "verifying"
	FillConfirmed FillState = "confirmed"
	FillFailed    FillState = "failed"
)

// ActionResult classifies the outcome of a single automation-target call.
type ActionResult string

const (
	ActionSuccess          ActionResult = "success"
	ActionTransientFailure ActionResult = "transient_failure"
	ActionPermanentFailure ActionResult = "permanent_failure"
)

// FillStage names which target operation an attempt exercised.
type FillStage string

const (
	StageLocate FillStage = "locate"
	StageWrite  FillStage = "write"
	StageVerify FillStage = "verify"
)

// FillAttempt records one automation-target call against one field.
// Append-only: attempts are recorded as they happen and never rewritten.
type FillAttempt struct {
	FieldID       string       `json:"field_id"`
	AttemptNumber int          `json:"attempt_number"`
	Stage         FillStage    `json:"stage"`
	Result        ActionResult `json:"result"`
	Error         string       `json:"error,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

// RunRecord is the audit record for one field in one run. Confirmed is set
// only after the written value was independently read back and matched the
// intended value; it is never inferred from a write call not erroring.
type RunRecord struct {
	RunID       string        `json:"run_id"`
	FieldID     string        `json:"field_id"`
	Disposition Disposition   `json:"disposition"`
	State       FillState     `json:"state"`
	Attempts    []FillAttempt `json:"attempts,omitempty"`
	Confirmed   bool          `json:"confirmed"`
	FinalValue  string        `json:"final_value,omitempty"`
	Approved    bool          `json:"approved"`
	Finalized   bool          `json:"finalized"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Run is one extraction-to-form run against a single form instance.
type Run struct {
	ID        string    `json:"id"`
	FormURL   string    `json:"form_url,omitempty"`
	Status    RunStatus `json:"status"`
	Summary   *Summary  `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary tallies field outcomes for a run.
type Summary struct {
	AcceptedCount  int `json:"accepted_count"`
	ReviewCount    int `json:"review_count"`
	RejectedCount  int `json:"rejected_count"`
	ConfirmedCount int `json:"confirmed_count"`
	FailedCount    int `json:"failed_count"`
}

// Add folds one record into the summary.
func (s *Summary) Add(rec RunRecord) {
	switch rec.Disposition.Status {
	case StatusAccepted:
		s.AcceptedCount++
	case StatusNeedsReview:
		s.ReviewCount++
	case StatusRejected:
		s.RejectedCount++
	}
	if rec.Confirmed {
		s.ConfirmedCount++
	}
	if rec.State == FillFailed {
		s.FailedCount++
	}
}
