package fill

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/clinbridge/edcfill/internal/config"
	"github.com/clinbridge/edcfill/internal/ledger"
	"github.com/clinbridge/edcfill/internal/model"
	"github.com/clinbridge/edcfill/internal/resilience"
)

// verifyTolerance is the relative tolerance for numeric read-back comparison.
// Forms round displayed values, so exact float equality is too strict.
const verifyTolerance = 0.001

// Orchestrator sequences form-fill actions for one run. Fields are processed
// strictly in schema declaration order so identical inputs always produce
// identical action sequences, and already-confirmed fields are skipped on
// resume. The orchestrator never dispatches Rejected or unapproved
// NeedsReview fields; they stay Pending and are surfaced for manual handling.
type Orchestrator struct {
	registry *model.Registry
	target   Target
	ledger   ledger.Ledger
	cfg      config.FillConfig
	limiter  *rate.Limiter
	clock    func() time.Time
}

// New builds an orchestrator. Zero-valued attempt budgets default to 3.
func New(registry *model.Registry, target Target, led ledger.Ledger, cfg config.FillConfig) *Orchestrator {
	if cfg.MaxLocateAttempts <= 0 {
		cfg.MaxLocateAttempts = 3
	}
	if cfg.MaxWriteAttempts <= 0 {
		cfg.MaxWriteAttempts = 3
	}
	if cfg.CallTimeoutSecs <= 0 {
		cfg.CallTimeoutSecs = 30
	}
	o := &Orchestrator{
		registry: registry,
		target:   target,
		ledger:   led,
		cfg:      cfg,
		clock:    time.Now,
	}
	if cfg.ActionsPerSecond > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(cfg.ActionsPerSecond), 1)
	}
	return o
}

// Run fills every dispatchable field for the given run. The approved set
// unlocks NeedsReview fields that a human has signed off on. Returns the
// run's summary; a non-nil error means ledger bookkeeping failed, never a
// single field's automation failure (those are field-scoped).
func (o *Orchestrator) Run(ctx context.Context, runID string, dispositions []model.Disposition, approved map[string]bool) (*model.Summary, error) {
	confirmed, err := o.ledger.ConfirmedFields(ctx, runID)
	if err != nil {
		return nil, err
	}

	byField := make(map[string]model.Disposition, len(dispositions))
	for _, d := range dispositions {
		byField[d.FieldID] = d
	}

	cancelled := false
	for _, spec := range o.registry.Fields() {
		// Cooperative cancellation checkpoint: a run may stop between
		// fields, never in the middle of one.
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		disp, ok := byField[spec.FieldID]
		if !ok {
			continue
		}

		if confirmed[spec.FieldID] {
			zap.L().Info("fill: skipping already-confirmed field",
				zap.String("run_id", runID),
				zap.String("field_id", spec.FieldID),
			)
			continue
		}

		if !disp.Fillable(approved[spec.FieldID]) {
			// Stays Pending; surfaced for manual handling.
			if err := o.finalize(ctx, runID, disp, model.FillPending, false, ""); err != nil {
				return nil, err
			}
			continue
		}

		state, finalValue, fillErr := o.fillField(ctx, runID, &spec, disp)
		if fillErr != nil {
			return nil, fillErr
		}
		if state == "" {
			// Cancelled mid-field: leave the record unfinalized so a
			// resumed run re-verifies and re-writes it.
			cancelled = true
			break
		}
		if err := o.finalize(ctx, runID, disp, state, state == model.FillConfirmed, finalValue); err != nil {
			return nil, err
		}
	}

	status := model.RunStatusCompleted
	if cancelled {
		status = model.RunStatusCancelled
	}

	summary, err := o.ledger.Summary(context.WithoutCancel(ctx), runID)
	if err != nil {
		return nil, err
	}
	if err := o.ledger.UpdateRunSummary(context.WithoutCancel(ctx), runID, *summary); err != nil {
		return nil, err
	}
	if err := o.ledger.UpdateRunStatus(context.WithoutCancel(ctx), runID, status); err != nil {
		return nil, err
	}
	return summary, nil
}

// fillField runs the per-field state machine:
//
//	Pending → Locating → Writing → Verifying → {Confirmed | Failed}
//
// An empty returned state means the run was cancelled mid-field after the
// current attempt completed. The returned string is the read-back value on
// confirmation.
func (o *Orchestrator) fillField(ctx context.Context, runID string, spec *model.FieldSpec, disp model.Disposition) (model.FillState, string, error) {
	intended := disp.Value.String()
	log := zap.L().With(
		zap.String("run_id", runID),
		zap.String("field_id", spec.FieldID),
	)

	// Locating.
	var handle Handle
	located := false
	for attempt := 1; attempt <= o.cfg.MaxLocateAttempts; attempt++ {
		h, err := call(ctx, o, func(callCtx context.Context) (Handle, error) {
			return o.target.Locate(callCtx, spec.FieldID)
		})
		if err == nil {
			if recErr := o.record(ctx, runID, spec.FieldID, attempt, model.StageLocate, model.ActionSuccess, ""); recErr != nil {
				return "", "", recErr
			}
			handle = h
			located = true
			break
		}

		result := classify(err)
		if recErr := o.record(ctx, runID, spec.FieldID, attempt, model.StageLocate, result, err.Error()); recErr != nil {
			return "", "", recErr
		}
		if ctx.Err() != nil {
			return "", "", nil
		}
		if result == model.ActionPermanentFailure || attempt == o.cfg.MaxLocateAttempts {
			log.Warn("fill: locate failed", zap.Int("attempts", attempt), zap.Error(err))
			return model.FillFailed, "", nil
		}
	}
	if !located {
		return model.FillFailed, "", nil
	}

	// Writing / Verifying. A read-back mismatch re-enters Writing until the
	// attempt budget is exhausted.
	for attempt := 1; attempt <= o.cfg.MaxWriteAttempts; attempt++ {
		err := o.callErr(ctx, func(callCtx context.Context) error {
			return o.target.Write(callCtx, handle, intended)
		})
		if err != nil {
			result := classify(err)
			if recErr := o.record(ctx, runID, spec.FieldID, attempt, model.StageWrite, result, err.Error()); recErr != nil {
				return "", "", recErr
			}
			if ctx.Err() != nil {
				return "", "", nil
			}
			if result == model.ActionPermanentFailure || attempt == o.cfg.MaxWriteAttempts {
				log.Warn("fill: write failed", zap.Int("attempts", attempt), zap.Error(err))
				return model.FillFailed, "", nil
			}
			continue
		}
		if recErr := o.record(ctx, runID, spec.FieldID, attempt, model.StageWrite, model.ActionSuccess, ""); recErr != nil {
			return "", "", recErr
		}

		got, err := call(ctx, o, func(callCtx context.Context) (string, error) {
			return o.target.ReadBack(callCtx, handle)
		})
		if err != nil {
			result := classify(err)
			if recErr := o.record(ctx, runID, spec.FieldID, attempt, model.StageVerify, result, err.Error()); recErr != nil {
				return "", "", recErr
			}
			if ctx.Err() != nil {
				return "", "", nil
			}
			if result == model.ActionPermanentFailure || attempt == o.cfg.MaxWriteAttempts {
				log.Warn("fill: read-back failed", zap.Int("attempts", attempt), zap.Error(err))
				return model.FillFailed, "", nil
			}
			continue
		}

		if valuesMatch(spec, intended, got) {
			if recErr := o.record(ctx, runID, spec.FieldID, attempt, model.StageVerify, model.ActionSuccess, ""); recErr != nil {
				return "", "", recErr
			}
			log.Info("fill: field confirmed",
				zap.String("value", got),
				zap.Int("attempts", attempt),
			)
			return model.FillConfirmed, got, nil
		}

		mismatch := "read-back mismatch: wrote " + intended + ", got " + got
		if recErr := o.record(ctx, runID, spec.FieldID, attempt, model.StageVerify, model.ActionTransientFailure, mismatch); recErr != nil {
			return "", "", recErr
		}
		if ctx.Err() != nil {
			return "", "", nil
		}
		if attempt == o.cfg.MaxWriteAttempts {
			log.Warn("fill: verification exhausted", zap.String("got", got), zap.String("intended", intended))
			return model.FillFailed, "", nil
		}
	}

	return model.FillFailed, "", nil
}

// call wraps one automation-target operation with pacing and a bounded
// timeout. An expired timeout surfaces as a transient failure.
func call[T any](ctx context.Context, o *Orchestrator, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return zero, err
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout())
	defer cancel()
	return fn(callCtx)
}

func (o *Orchestrator) callErr(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := call(ctx, o, func(callCtx context.Context) (struct{}, error) {
		return struct{}{}, fn(callCtx)
	})
	return err
}

func (o *Orchestrator) record(ctx context.Context, runID, fieldID string, attempt int, stage model.FillStage, result model.ActionResult, errMsg string) error {
	att := model.FillAttempt{
		FieldID:       fieldID,
		AttemptNumber: attempt,
		Stage:         stage,
		Result:        result,
		Error:         errMsg,
		Timestamp:     o.clock(),
	}
	// Attempts already made must land in the ledger even when the run
	// context was just cancelled.
	if err := o.ledger.AppendAttempt(context.WithoutCancel(ctx), runID, att); err != nil {
		return eris.Wrap(err, "fill: record attempt")
	}
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, runID string, disp model.Disposition, state model.FillState, confirmed bool, finalValue string) error {
	rec := model.RunRecord{
		RunID:       runID,
		FieldID:     disp.FieldID,
		Disposition: disp,
		State:       state,
		Confirmed:   confirmed,
		FinalValue:  finalValue,
	}
	if err := o.ledger.FinalizeRecord(context.WithoutCancel(ctx), rec); err != nil {
		return eris.Wrapf(err, "fill: finalize %s", disp.FieldID)
	}
	return nil
}

func classify(err error) model.ActionResult {
	if resilience.IsTransient(err) {
		return model.ActionTransientFailure
	}
	return model.ActionPermanentFailure
}

// valuesMatch compares the intended and read-back values with type-specific
// tolerance: numerics within verifyTolerance, enums case-insensitively,
// everything else after whitespace trimming.
func valuesMatch(spec *model.FieldSpec, intended, got string) bool {
	switch spec.DataType {
	case model.TypeNumeric:
		a, errA := strconv.ParseFloat(strings.TrimSpace(intended), 64)
		b, errB := strconv.ParseFloat(strings.TrimSpace(got), 64)
		if errA != nil || errB != nil {
			return strings.TrimSpace(intended) == strings.TrimSpace(got)
		}
		return model.NumbersAgree(a, b, verifyTolerance)
	case model.TypeEnum:
		return strings.EqualFold(strings.TrimSpace(intended), strings.TrimSpace(got))
	default:
		return strings.TrimSpace(intended) == strings.TrimSpace(got)
	}
}
