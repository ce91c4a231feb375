package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinbridge/edcfill/internal/model"
)

const sampleSchema = `
form: vitals_v2
fields:
  - field_id: heart_rate
    display_name: Heart Rate
    data_type: numeric
    unit: /min
    min: 30
    max: 250
    required: true
    aliases: [pulse rate]
  - field_id: glucose_flag
    data_type: enum
    enum_values: [H, L, N]
  - field_id: visit_date
    data_type: date
aliases:
  hr: heart_rate
`

func TestParse(t *testing.T) {
	t.Parallel()

	reg, aliases, err := Parse([]byte(sampleSchema))
	require.NoError(t, err)

	assert.Equal(t, 3, reg.Len())

	hr := reg.ByID("heart_rate")
	require.NotNil(t, hr)
	assert.Equal(t, model.TypeNumeric, hr.DataType)
	assert.True(t, hr.Required)
	require.NotNil(t, hr.Min)
	assert.Equal(t, 30.0, *hr.Min)

	// Global and per-field aliases both land in the table.
	assert.Equal(t, "heart_rate", aliases["hr"])
	assert.Equal(t, "heart_rate", aliases["pulse rate"])
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
	}{
		{"invalid yaml", "fields: [unclosed"},
		{"no fields", "form: empty"},
		{"alias targets unknown field", `
fields:
  - field_id: a
    data_type: text
aliases:
  x: nope
`},
		{"conflicting per-field alias", `
fields:
  - field_id: a
    data_type: text
    aliases: [shared]
  - field_id: b
    data_type: text
    aliases: [shared]
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleSchema), 0o644))

	reg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, reg.Len())

	_, _, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadAliases(t *testing.T) {
	t.Parallel()

	reg, _, err := Parse([]byte(sampleSchema))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "aliases.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ticker: heart_rate\nfs: glucose_flag\n"), 0o644))

	aliases, err := LoadAliases(path, reg)
	require.NoError(t, err)
	assert.Equal(t, "heart_rate", aliases["ticker"])
	assert.Equal(t, "glucose_flag", aliases["fs"])
}

func TestLoadAliases_Errors(t *testing.T) {
	t.Parallel()

	reg, _, err := Parse([]byte(sampleSchema))
	require.NoError(t, err)

	dir := t.TempDir()

	_, err = LoadAliases(filepath.Join(dir, "missing.yaml"), reg)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("x: no_such_field\n"), 0o644))
	_, err = LoadAliases(bad, reg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
}

func TestDefaultAliases(t *testing.T) {
	t.Parallel()

	aliases := DefaultAliases()
	assert.Equal(t, "blood_pressure", aliases["bp"])
	assert.Equal(t, "heart_rate", aliases["hr"])
	assert.Equal(t, "oxygen_saturation", aliases["spo2"])
	assert.Equal(t, "glucose", aliases["blood sugar"])
}

func TestMergeAliases(t *testing.T) {
	t.Parallel()

	merged := MergeAliases(
		map[string]string{"hr": "heart_rate", "temp": "temperature"},
		map[string]string{"hr": "pulse_field"},
	)
	assert.Equal(t, "pulse_field", merged["hr"])
	assert.Equal(t, "temperature", merged["temp"])
}
