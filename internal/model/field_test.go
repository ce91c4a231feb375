package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fptr(v float64) *float64 { return &v }

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	fields := []FieldSpec{
		{FieldID: "glucose", DataType: TypeNumeric, Unit: "mg/dL", Min: fptr(0), Max: fptr(500), Required: true},
		{FieldID: "glucose_flag", DataType: TypeEnum, EnumValues: []string{"H", "L", "N"}},
		{FieldID: "visit_date", DataType: TypeDate},
	}

	reg, err := NewRegistry(fields)
	require.NoError(t, err)

	assert.Equal(t, 3, reg.Len())
	assert.Equal(t, "glucose", reg.Fields()[0].FieldID)
	assert.Nil(t, reg.ByID("nope"))
	require.NotNil(t, reg.ByID("glucose_flag"))
	assert.Equal(t, TypeEnum, reg.ByID("glucose_flag").DataType)

	required := reg.Required()
	require.Len(t, required, 1)
	assert.Equal(t, "glucose", required[0].FieldID)
}

func TestNewRegistry_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		fields []FieldSpec
	}{
		{"empty schema", nil},
		{"empty field_id", []FieldSpec{{DataType: TypeText}}},
		{"unknown data type", []FieldSpec{{FieldID: "x", DataType: "float"}}},
		{"duplicate field_id", []FieldSpec{
			{FieldID: "x", DataType: TypeText},
			{FieldID: "x", DataType: TypeNumeric},
		}},
		{"min greater than max", []FieldSpec{
			{FieldID: "x", DataType: TypeNumeric, Min: fptr(10), Max: fptr(5)},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewRegistry(tt.fields)
			assert.Error(t, err)
		})
	}
}

func TestFieldSpec_InRange(t *testing.T) {
	t.Parallel()

	spec := FieldSpec{FieldID: "hr", DataType: TypeNumeric, Min: fptr(30), Max: fptr(200)}
	assert.True(t, spec.HasRange())
	assert.True(t, spec.InRange(72))
	assert.True(t, spec.InRange(30))
	assert.True(t, spec.InRange(200))
	assert.False(t, spec.InRange(29.9))
	assert.False(t, spec.InRange(201))

	open := FieldSpec{FieldID: "x", DataType: TypeNumeric}
	assert.False(t, open.HasRange())
	assert.True(t, open.InRange(-1e9))

	minOnly := FieldSpec{FieldID: "y", DataType: TypeNumeric, Min: fptr(0)}
	assert.True(t, minOnly.HasRange())
	assert.True(t, minOnly.InRange(0))
	assert.False(t, minOnly.InRange(-0.1))
}
