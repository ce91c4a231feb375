package normalize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinbridge/edcfill/internal/model"
)

func fptr(v float64) *float64 { return &v }

func testRegistry(t *testing.T) *model.Registry {
	t.Helper()
	reg, err := model.NewRegistry([]model.FieldSpec{
		{FieldID: "glucose", DataType: model.TypeNumeric, Unit: "mg/dL", Min: fptr(0), Max: fptr(500), Required: true},
		{FieldID: "glucose_flag", DataType: model.TypeEnum, EnumValues: []string{"H", "L", "N"}},
		{FieldID: "temperature", DataType: model.TypeNumeric, Unit: "C"},
		{FieldID: "heart_rate", DataType: model.TypeNumeric, Unit: "/min", Min: fptr(20), Max: fptr(300)},
		{FieldID: "systolic_bp", DataType: model.TypeNumeric, Unit: "mmHg", Min: fptr(50), Max: fptr(300)},
		{FieldID: "diastolic_bp", DataType: model.TypeNumeric, Unit: "mmHg", Min: fptr(20), Max: fptr(200)},
		{FieldID: "collected_date", DataType: model.TypeDate},
		{FieldID: "notes", DataType: model.TypeText},
	})
	require.NoError(t, err)
	return reg
}

func testAliases() map[string]string {
	return map[string]string{
		"blood sugar": "glucose",
		"hr":          "heart_rate",
		"pulse":       "heart_rate",
		"temp":        "temperature",
		"ghost":       "undeclared_field",
	}
}

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	return New(testRegistry(t), testAliases(), 0.80, 2)
}

func TestNormalizeDocument_ExactAndAliasResolution(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer(t)

	res := n.NormalizeDocument("doc1", []model.RawObservation{
		{DocumentID: "doc1", Key: "Glucose", Value: "95", Unit: "mg/dL", Confidence: 0.95},
		{DocumentID: "doc1", Key: "blood sugar", Value: "97", Unit: "mg/dL", Confidence: 0.90},
		{DocumentID: "doc1", Key: "HR", Value: "72", Confidence: 0.98},
	})

	require.Len(t, res.Candidates, 3)
	assert.Empty(t, res.Anomalies)
	assert.Equal(t, "glucose", res.Candidates[0].FieldID)
	assert.Equal(t, 95.0, res.Candidates[0].Value.Number)
	assert.Equal(t, "glucose", res.Candidates[1].FieldID)
	assert.Equal(t, "heart_rate", res.Candidates[2].FieldID)
}

func TestNormalizeDocument_FuzzyResolution(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer(t)

	// One-character typo still resolves; gibberish does not.
	res := n.NormalizeDocument("doc1", []model.RawObservation{
		{DocumentID: "doc1", Key: "hart rate", Value: "80", Confidence: 0.9},
		{DocumentID: "doc1", Key: "zzz qqq vvv", Value: "1", Confidence: 0.9},
	})

	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "heart_rate", res.Candidates[0].FieldID)

	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, "unresolved key", res.Anomalies[0].Reason)
	assert.Equal(t, "zzz qqq vvv", res.Anomalies[0].Key)
}

func TestNormalizeDocument_BloodPressureSplit(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer(t)

	res := n.NormalizeDocument("doc1", []model.RawObservation{
		{DocumentID: "doc1", Key: "BP", Value: "118/76", Unit: "mmHg", Confidence: 0.97},
		{DocumentID: "doc1", Key: "Blood Pressure", Value: "120/80 mmHg", Confidence: 0.9},
	})

	require.Len(t, res.Candidates, 4)
	assert.Equal(t, "systolic_bp", res.Candidates[0].FieldID)
	assert.Equal(t, 118.0, res.Candidates[0].Value.Number)
	assert.Equal(t, "diastolic_bp", res.Candidates[1].FieldID)
	assert.Equal(t, 76.0, res.Candidates[1].Value.Number)

	// Trailing unit on the composite value is tolerated.
	assert.Equal(t, 120.0, res.Candidates[2].Value.Number)
	assert.Equal(t, 80.0, res.Candidates[3].Value.Number)
}

func TestNormalizeDocument_UnitConversion(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer(t)

	res := n.NormalizeDocument("doc1", []model.RawObservation{
		{DocumentID: "doc1", Key: "temp", Value: "98.6", Unit: "F", Confidence: 0.95},
	})

	require.Len(t, res.Candidates, 1)
	c := res.Candidates[0]
	assert.Equal(t, "temperature", c.FieldID)
	assert.InDelta(t, 37.0, c.Value.Number, 0.001)
	assert.Equal(t, "C", c.Unit)
	assert.False(t, c.UnitUnresolved)
}

func TestNormalizeDocument_UnresolvableUnitFlagged(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer(t)

	res := n.NormalizeDocument("doc1", []model.RawObservation{
		{DocumentID: "doc1", Key: "glucose", Value: "0.95", Unit: "g/L", Confidence: 0.9},
	})

	require.Len(t, res.Candidates, 1)
	c := res.Candidates[0]
	assert.True(t, c.UnitUnresolved)
	// Value passes through unconverted.
	assert.Equal(t, 0.95, c.Value.Number)
}

func TestNormalizeDocument_InlineUnit(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer(t)

	res := n.NormalizeDocument("doc1", []model.RawObservation{
		{DocumentID: "doc1", Key: "heart rate", Value: "72 bpm", Confidence: 0.9},
	})

	require.Len(t, res.Candidates, 1)
	assert.Equal(t, 72.0, res.Candidates[0].Value.Number)
	assert.Equal(t, "/min", res.Candidates[0].Unit)
}

func TestNormalizeDocument_EnumFlagMatching(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer(t)

	res := n.NormalizeDocument("doc1", []model.RawObservation{
		{DocumentID: "doc1", Key: "glucose flag", Value: "HIGH", Confidence: 0.9},
		{DocumentID: "doc1", Key: "glucose flag", Value: "n", Confidence: 0.9},
		{DocumentID: "doc1", Key: "glucose flag", Value: "bogus", Confidence: 0.9},
	})

	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "H", res.Candidates[0].Value.Text)
	assert.Equal(t, "N", res.Candidates[1].Value.Text)

	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, "value not in enum", res.Anomalies[0].Reason)
}

func TestNormalizeDocument_Dates(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer(t)

	res := n.NormalizeDocument("doc1", []model.RawObservation{
		{DocumentID: "doc1", Key: "collected date", Value: "2024-01-15", Confidence: 0.9},
		{DocumentID: "doc1", Key: "collected date", Value: "01/15/2024", Confidence: 0.9},
		{DocumentID: "doc1", Key: "collected date", Value: "yesterdayish", Confidence: 0.9},
	})

	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "2024-01-15", res.Candidates[0].Value.String())
	assert.Equal(t, "2024-01-15", res.Candidates[1].Value.String())
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, "unparseable date value", res.Anomalies[0].Reason)
}

func TestNormalizeDocument_UnparseableNumeric(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer(t)

	res := n.NormalizeDocument("doc1", []model.RawObservation{
		{DocumentID: "doc1", Key: "glucose", Value: "pending", Confidence: 0.9},
	})

	assert.Empty(t, res.Candidates)
	require.Len(t, res.Anomalies, 1)
	assert.Equal(t, "unparseable numeric value", res.Anomalies[0].Reason)
}

func TestNormalize_DeterministicAcrossDocuments(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer(t)

	observations := []model.RawObservation{
		{DocumentID: "doc-b", Key: "glucose", Value: "100", Confidence: 0.9},
		{DocumentID: "doc-a", Key: "heart rate", Value: "70", Confidence: 0.9},
		{DocumentID: "doc-a", Key: "temp", Value: "37", Unit: "C", Confidence: 0.9},
	}

	first, err := n.Normalize(context.Background(), observations)
	require.NoError(t, err)

	for range 5 {
		again, err := n.Normalize(context.Background(), observations)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	// doc-a's candidates come first regardless of input order.
	require.Len(t, first.Candidates, 3)
	assert.Equal(t, "doc-a", first.Candidates[0].Span.DocumentID)
	assert.Equal(t, "doc-a", first.Candidates[1].Span.DocumentID)
	assert.Equal(t, "doc-b", first.Candidates[2].Span.DocumentID)
}

func TestNormalize_CancelledContext(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := n.Normalize(ctx, []model.RawObservation{
		{DocumentID: "doc1", Key: "glucose", Value: "95", Confidence: 0.9},
	})
	assert.Error(t, err)
}

func TestNew_DropsAliasesForUndeclaredFields(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer(t)

	// "ghost" targets a field the schema does not declare.
	res := n.NormalizeDocument("doc1", []model.RawObservation{
		{DocumentID: "doc1", Key: "ghost", Value: "42", Confidence: 0.9},
	})
	assert.Empty(t, res.Candidates)
	require.Len(t, res.Anomalies, 1)
}

func TestCanonicalKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "heart rate", canonicalKey("Heart_Rate"))
	assert.Equal(t, "heart rate", canonicalKey("  heart-rate  "))
	assert.Equal(t, "o2 sat", canonicalKey("O2.Sat"))
}

func TestStripUnitSuffix(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "118/76", stripUnitSuffix("118/76 mmHg"))
	assert.Equal(t, "118/76", stripUnitSuffix("118/76"))
	assert.Equal(t, "37.2", stripUnitSuffix("37.2 C"))
}
