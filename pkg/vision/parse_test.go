package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleResponse = `{
  "lab_results": [
    {"test_name": "Glucose", "value": 95, "unit": "mg/dL", "reference_range": "70-100", "date_collected": "2024-01-15", "abnormal_flag": "N", "confidence": 0.95},
    {"test_name": "Hemoglobin", "value": "14.2", "unit": "g/dL", "abnormal_flag": null, "confidence": 0.9}
  ],
  "vital_signs": [
    {"parameter": "heart_rate", "value": 72, "unit": "bpm", "confidence": 0.98},
    {"parameter": "temperature", "value": "98.6", "unit": "F", "confidence": 0.92}
  ],
  "blood_pressure": {"systolic": 120, "diastolic": 80, "unit": "mmHg", "confidence": 0.97}
}`

func TestParseExtraction(t *testing.T) {
	t.Parallel()

	obs, err := ParseExtraction("doc1", sampleResponse)
	require.NoError(t, err)

	// Two labs, one flag, two vitals, one composite BP.
	require.Len(t, obs, 6)

	assert.Equal(t, "Glucose", obs[0].Key)
	assert.Equal(t, "95", obs[0].Value)
	assert.Equal(t, "mg/dL", obs[0].Unit)
	assert.Equal(t, 0.95, obs[0].Confidence)
	assert.Equal(t, "doc1", obs[0].DocumentID)

	assert.Equal(t, "Glucose flag", obs[1].Key)
	assert.Equal(t, "N", obs[1].Value)

	// Quoted numbers are tolerated.
	assert.Equal(t, "Hemoglobin", obs[2].Key)
	assert.Equal(t, "14.2", obs[2].Value)

	assert.Equal(t, "heart_rate", obs[3].Key)
	assert.Equal(t, "temperature", obs[4].Key)
	assert.Equal(t, "98.6", obs[4].Value)

	bp := obs[5]
	assert.Equal(t, "blood_pressure", bp.Key)
	assert.Equal(t, "120/80", bp.Value)
	assert.Equal(t, "mmHg", bp.Unit)
}

func TestParseExtraction_FencedAndProse(t *testing.T) {
	t.Parallel()

	wrapped := "Here is the extracted data:\n```json\n" + sampleResponse + "\n```\nLet me know if you need more."
	obs, err := ParseExtraction("doc1", wrapped)
	require.NoError(t, err)
	assert.Len(t, obs, 6)
}

func TestParseExtraction_PartialPayload(t *testing.T) {
	t.Parallel()

	obs, err := ParseExtraction("doc1", `{"vital_signs":[{"parameter":"heart_rate","value":70}]}`)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	// Missing confidence defaults to the midpoint.
	assert.Equal(t, 0.5, obs[0].Confidence)
}

func TestParseExtraction_SkipsIncompleteEntries(t *testing.T) {
	t.Parallel()

	obs, err := ParseExtraction("doc1", `{
		"lab_results": [
			{"test_name": "", "value": 5},
			{"test_name": "Sodium"},
			{"test_name": "Potassium", "value": 4.1, "confidence": 0.9}
		],
		"blood_pressure": {"systolic": 120}
	}`)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "Potassium", obs[0].Key)
}

func TestParseExtraction_NonNumericValueSkipsEntryOnly(t *testing.T) {
	t.Parallel()

	// A qualitative result must not fail the rest of the document.
	obs, err := ParseExtraction("doc1", `{
		"lab_results": [
			{"test_name": "Blood Culture", "value": "pending", "confidence": 0.9},
			{"test_name": "Glucose", "value": 95, "unit": "mg/dL", "confidence": 0.95}
		],
		"vital_signs": [
			{"parameter": "Heart Rate", "value": "n/a"}
		]
	}`)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "Glucose", obs[0].Key)
	assert.Equal(t, "95", obs[0].Value)
}

func TestParseExtraction_Errors(t *testing.T) {
	t.Parallel()

	_, err := ParseExtraction("doc1", "no json here at all")
	assert.Error(t, err)

	_, err = ParseExtraction("doc1", `{"lab_results": "not an array"}`)
	assert.Error(t, err)
}
