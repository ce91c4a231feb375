package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValue_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "98.6", NumberValue(98.6).String())
	assert.Equal(t, "120", NumberValue(120).String())
	assert.Equal(t, "H", EnumValue("H").String())
	assert.Equal(t, "patient stable", TextValue("patient stable").String())

	d := time.Date(2024, 1, 15, 13, 45, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-15", DateValue(d).String())
}

func TestValue_Equal(t *testing.T) {
	t.Parallel()

	t.Run("numeric within tolerance", func(t *testing.T) {
		t.Parallel()
		assert.True(t, NumberValue(120).Equal(NumberValue(120.5), 0.01))
		assert.False(t, NumberValue(120).Equal(NumberValue(125), 0.01))
	})

	t.Run("kind mismatch never equal", func(t *testing.T) {
		t.Parallel()
		assert.False(t, NumberValue(1).Equal(TextValue("1"), 0.01))
	})

	t.Run("enum case-insensitive", func(t *testing.T) {
		t.Parallel()
		assert.True(t, EnumValue("H").Equal(EnumValue("h"), 0))
		assert.False(t, EnumValue("H").Equal(EnumValue("L"), 0))
	})

	t.Run("date at day precision", func(t *testing.T) {
		t.Parallel()
		a := DateValue(time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC))
		b := DateValue(time.Date(2024, 1, 15, 23, 0, 0, 0, time.UTC))
		assert.True(t, a.Equal(b, 0))
	})

	t.Run("text exact", func(t *testing.T) {
		t.Parallel()
		assert.True(t, TextValue("abc").Equal(TextValue("abc"), 0))
		assert.False(t, TextValue("abc").Equal(TextValue("ABC"), 0))
	})
}

func TestNumbersAgree(t *testing.T) {
	t.Parallel()

	// Relative comparison at normal scale.
	assert.True(t, NumbersAgree(100, 100.9, 0.01))
	assert.False(t, NumbersAgree(100, 102, 0.01))

	// Absolute fallback near zero.
	assert.True(t, NumbersAgree(0, 0.005, 0.01))
	assert.False(t, NumbersAgree(0, 0.02, 0.01))

	assert.True(t, NumbersAgree(-50, -50.4, 0.01))
}

func TestLevelFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ConfidenceHigh, LevelFor(0.95))
	assert.Equal(t, ConfidenceHigh, LevelFor(0.9))
	assert.Equal(t, ConfidenceMedium, LevelFor(0.7))
	assert.Equal(t, ConfidenceLow, LevelFor(0.69))
}

func TestOverallConfidence(t *testing.T) {
	t.Parallel()

	assert.Zero(t, OverallConfidence(nil))
	assert.InDelta(t, 0.8, OverallConfidence([]Candidate{
		{Confidence: 0.9},
		{Confidence: 0.7},
	}), 1e-9)
}

func TestMoreConservative(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StatusNeedsReview, MoreConservative(StatusAccepted, StatusNeedsReview))
	assert.Equal(t, StatusNeedsReview, MoreConservative(StatusNeedsReview, StatusAccepted))
	assert.Equal(t, StatusRejected, MoreConservative(StatusNeedsReview, StatusRejected))
	assert.Equal(t, StatusAccepted, MoreConservative(StatusAccepted, StatusAccepted))
}

func TestDisposition_Fillable(t *testing.T) {
	t.Parallel()

	accepted := Disposition{Status: StatusAccepted, HasValue: true}
	assert.True(t, accepted.Fillable(false))

	review := Disposition{Status: StatusNeedsReview, HasValue: true}
	assert.False(t, review.Fillable(false))
	assert.True(t, review.Fillable(true))

	rejected := Disposition{Status: StatusRejected}
	assert.False(t, rejected.Fillable(true))

	noValue := Disposition{Status: StatusAccepted}
	assert.False(t, noValue.Fillable(false))
}
