// Package mapping assigns a terminal disposition to every declared field from
// its candidate set. The engine is deterministic: the same candidates always
// produce the same dispositions, and ambiguity always resolves toward the
// more conservative outcome.
package mapping

import (
	"go.uber.org/zap"

	"github.com/clinbridge/edcfill/internal/config"
	"github.com/clinbridge/edcfill/internal/model"
)

// Engine maps candidate sets onto dispositions using the loaded registry.
type Engine struct {
	registry *model.Registry
	cfg      config.MappingConfig
}

// New builds a mapping engine. Zero-valued thresholds fall back to the
// documented defaults.
func New(registry *model.Registry, cfg config.MappingConfig) *Engine {
	if cfg.AutoAcceptThreshold <= 0 {
		cfg.AutoAcceptThreshold = 0.85
	}
	if cfg.ConflictTolerance <= 0 {
		cfg.ConflictTolerance = 0.01
	}
	if cfg.UnitPenalty <= 0 {
		cfg.UnitPenalty = 0.15
	}
	if cfg.RangePenalty <= 0 {
		cfg.RangePenalty = 0.25
	}
	return &Engine{registry: registry, cfg: cfg}
}

// Dispositions produces exactly one disposition per declared field, in schema
// declaration order. Candidates referencing undeclared fields were already
// dropped by the normalizer and never reach this point.
func (e *Engine) Dispositions(candidates []model.Candidate) []model.Disposition {
	byField := make(map[string][]model.Candidate)
	for _, c := range candidates {
		if e.registry.ByID(c.FieldID) == nil {
			zap.L().Warn("mapping: candidate for undeclared field dropped",
				zap.String("field_id", c.FieldID),
			)
			continue
		}
		byField[c.FieldID] = append(byField[c.FieldID], c)
	}

	out := make([]model.Disposition, 0, e.registry.Len())
	for _, spec := range e.registry.Fields() {
		out = append(out, e.disposition(&spec, byField[spec.FieldID]))
	}
	return out
}

func (e *Engine) disposition(spec *model.FieldSpec, cands []model.Candidate) model.Disposition {
	d := model.Disposition{FieldID: spec.FieldID, Candidates: len(cands)}

	if len(cands) == 0 {
		d.Status = model.StatusRejected
		if spec.Required {
			d.Reason = "missing"
		} else {
			d.Reason = "not present"
		}
		return d
	}

	best := highestConfidence(cands)
	effective := e.effectiveConfidence(spec, best)
	d.Value = best.Value
	d.HasValue = true
	d.Confidence = effective
	d.Status = model.StatusAccepted

	// Each check can only push the status toward the cautious end. The first
	// check that escalates owns the reason.
	demote := func(status model.DispositionStatus, reason string) {
		if next := model.MoreConservative(d.Status, status); next != d.Status {
			d.Status = next
			d.Reason = reason
		}
	}

	if conflicting(cands, e.cfg.ConflictTolerance) {
		demote(model.StatusNeedsReview, "conflicting sources")
	}
	if !e.inRange(spec, best.Value) {
		// Out-of-range values are never auto-accepted.
		demote(model.StatusNeedsReview, "out of range")
	}
	if effective < e.cfg.AutoAcceptThreshold {
		demote(model.StatusNeedsReview, "below auto-accept threshold")
	}
	return d
}

// effectiveConfidence is the candidate's confidence minus penalties for an
// unresolved source unit and an out-of-range value, clamped to [0,1].
func (e *Engine) effectiveConfidence(spec *model.FieldSpec, c model.Candidate) float64 {
	conf := c.Confidence
	if c.UnitUnresolved {
		conf -= e.cfg.UnitPenalty
	}
	if !e.inRange(spec, c.Value) {
		conf -= e.cfg.RangePenalty
	}
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

func (e *Engine) inRange(spec *model.FieldSpec, v model.Value) bool {
	if spec.DataType != model.TypeNumeric || !spec.HasRange() {
		return true
	}
	return spec.InRange(v.Number)
}

// conflicting reports whether any two candidates disagree beyond the
// type-specific tolerance.
func conflicting(cands []model.Candidate, tolerance float64) bool {
	for i := 0; i < len(cands); i++ {
		for j := i + 1; j < len(cands); j++ {
			if !cands[i].Value.Equal(cands[j].Value, tolerance) {
				return true
			}
		}
	}
	return false
}

// highestConfidence returns the candidate with the highest confidence,
// preferring earlier input order on ties so the choice is stable.
func highestConfidence(cands []model.Candidate) model.Candidate {
	best := cands[0]
	for _, c := range cands[1:] {
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	return best
}
