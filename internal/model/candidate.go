package model

// SourceSpan references the document region a candidate was extracted from.
type SourceSpan struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page,omitempty"`
	Region     string `json:"region,omitempty"`
}

// Candidate is a typed, confidence-scored field value produced by the
// normalizer. Zero or more candidates may exist per field (multiple source
// mentions). Candidates are never mutated after creation.
type Candidate struct {
	FieldID        string     `json:"field_id"`
	RawKey         string     `json:"raw_key"`
	RawValue       string     `json:"raw_value"`
	Value          Value      `json:"value"`
	Unit           string     `json:"unit,omitempty"`
	Confidence     float64    `json:"confidence"`
	UnitUnresolved bool       `json:"unit_unresolved,omitempty"`
	Span           SourceSpan `json:"span"`
}

// ConfidenceLevel buckets a confidence score for reporting.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// LevelFor buckets a confidence score: high >= 0.9, medium >= 0.7, low below.
func LevelFor(confidence float64) ConfidenceLevel {
	switch {
	case confidence >= 0.9:
		return ConfidenceHigh
	case confidence >= 0.7:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// OverallConfidence returns the mean confidence across candidates, 0 if none.
func OverallConfidence(candidates []Candidate) float64 {
	if len(candidates) == 0 {
		return 0
	}
	var sum float64
	for _, c := range candidates {
		sum += c.Confidence
	}
	return sum / float64(len(candidates))
}
