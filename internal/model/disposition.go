package model

// DispositionStatus is the terminal decision for a field in a run.
type DispositionStatus string

const (
	StatusAccepted    DispositionStatus = "accepted"
	StatusNeedsReview DispositionStatus = "needs_review"
	StatusRejected    DispositionStatus = "rejected"
)

// Disposition is the mapping engine's verdict for one field: either a value
// safe to auto-fill, a suggested value held for human review, or a rejection.
// Exactly one Disposition exists per declared field per run.
type Disposition struct {
	FieldID    string            `json:"field_id"`
	Status     DispositionStatus `json:"status"`
	Value      Value             `json:"value,omitempty"`
	HasValue   bool              `json:"has_value"`
	Reason     string            `json:"reason,omitempty"`
	Confidence float64           `json:"confidence"`
	Candidates int               `json:"candidates"`
}

// Fillable reports whether the field may be written to the form. NeedsReview
// fields become fillable only after external approval.
func (d Disposition) Fillable(approved bool) bool {
	switch d.Status {
	case StatusAccepted:
		return d.HasValue
	case StatusNeedsReview:
		return approved && d.HasValue
	default:
		return false
	}
}

// MoreConservative returns the more cautious of two statuses. Rejected beats
// NeedsReview beats Accepted; ties in disposition logic always resolve this way.
func MoreConservative(a, b DispositionStatus) DispositionStatus {
	rank := func(s DispositionStatus) int {
		switch s {
		case StatusRejected:
			return 2
		case StatusNeedsReview:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
