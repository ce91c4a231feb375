package model

// RawObservation is one key/value guess produced by the vision pipeline for
// one document, before any resolution or type checking. This is the boundary
// type between the out-of-scope ingestion front-end and the normalizer; no
// ordering is assumed across documents.
type RawObservation struct {
	DocumentID string  `json:"document_id"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Unit       string  `json:"unit,omitempty"`
	Confidence float64 `json:"confidence"`
	Page       int     `json:"page,omitempty"`
	Region     string  `json:"region,omitempty"`
}
