package vision

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/clinbridge/edcfill/internal/model"
)

// flexFloat tolerates numeric fields that arrive as JSON numbers or as
// quoted strings, with or without surrounding whitespace. Anything else,
// like a "pending" culture result, leaves the field unset so the entry is
// skipped as incomplete instead of failing the whole document.
type flexFloat struct {
	value float64
	set   bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	f.value = v
	f.set = true
	return nil
}

// flexString tolerates string fields that arrive as bare JSON numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var out string
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		*f = flexString(out)
		return nil
	}
	*f = flexString(s)
	return nil
}

type labResult struct {
	TestName       flexString `json:"test_name"`
	Value          flexFloat  `json:"value"`
	Unit           flexString `json:"unit"`
	ReferenceRange flexString `json:"reference_range"`
	DateCollected  flexString `json:"date_collected"`
	AbnormalFlag   flexString `json:"abnormal_flag"`
	Confidence     flexFloat  `json:"confidence"`
}

type vitalSign struct {
	Parameter  flexString `json:"parameter"`
	Value      flexFloat  `json:"value"`
	Unit       flexString `json:"unit"`
	Confidence flexFloat  `json:"confidence"`
}

type bloodPressure struct {
	Systolic   flexFloat  `json:"systolic"`
	Diastolic  flexFloat  `json:"diastolic"`
	Unit       flexString `json:"unit"`
	Confidence flexFloat  `json:"confidence"`
}

type extractionPayload struct {
	LabResults    []labResult    `json:"lab_results"`
	VitalSigns    []vitalSign    `json:"vital_signs"`
	BloodPressure *bloodPressure `json:"blood_pressure"`
}

// ParseExtraction decodes the model's extraction response into raw
// observations. The response is parsed leniently: code fences and any
// prose around the JSON object are stripped before decoding.
func ParseExtraction(docID, text string) ([]model.RawObservation, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, eris.Wrap(err, "vision: decoding extraction payload")
	}

	var observations []model.RawObservation

	for _, lab := range payload.LabResults {
		name := strings.TrimSpace(string(lab.TestName))
		if name == "" || !lab.Value.set {
			continue
		}
		observations = append(observations, model.RawObservation{
			DocumentID: docID,
			Key:        name,
			Value:      formatFloat(lab.Value.value),
			Unit:       strings.TrimSpace(string(lab.Unit)),
			Confidence: confidenceOrDefault(lab.Confidence),
		})
		if flag := strings.TrimSpace(string(lab.AbnormalFlag)); flag != "" {
			observations = append(observations, model.RawObservation{
				DocumentID: docID,
				Key:        name + " flag",
				Value:      flag,
				Confidence: confidenceOrDefault(lab.Confidence),
			})
		}
	}

	for _, vital := range payload.VitalSigns {
		name := strings.TrimSpace(string(vital.Parameter))
		if name == "" || !vital.Value.set {
			continue
		}
		observations = append(observations, model.RawObservation{
			DocumentID: docID,
			Key:        name,
			Value:      formatFloat(vital.Value.value),
			Unit:       strings.TrimSpace(string(vital.Unit)),
			Confidence: confidenceOrDefault(vital.Confidence),
		})
	}

	if bp := payload.BloodPressure; bp != nil && bp.Systolic.set && bp.Diastolic.set {
		observations = append(observations, model.RawObservation{
			DocumentID: docID,
			Key:        "blood_pressure",
			Value:      fmt.Sprintf("%s/%s", formatFloat(bp.Systolic.value), formatFloat(bp.Diastolic.value)),
			Unit:       strings.TrimSpace(string(bp.Unit)),
			Confidence: confidenceOrDefault(bp.Confidence),
		})
	}

	return observations, nil
}

// extractJSON pulls the first JSON object out of a response that may be
// wrapped in markdown fences or surrounded by commentary.
func extractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", eris.New("vision: no JSON object in extraction response")
	}
	return text[start : end+1], nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func confidenceOrDefault(f flexFloat) float64 {
	if !f.set {
		return 0.5
	}
	return f.value
}
