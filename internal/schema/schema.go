// Package schema loads the declarative form schema and alias table consumed
// by the rest of the pipeline. Load failures are fatal to the run: a form
// schema that cannot be trusted must never be filled against.
package schema

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/clinbridge/edcfill/internal/model"
)

// File is the on-disk schema document.
type File struct {
	Form    string            `yaml:"form,omitempty"`
	Fields  []model.FieldSpec `yaml:"fields"`
	Aliases map[string]string `yaml:"aliases,omitempty"`
}

// Load reads a schema file and returns the indexed registry plus the alias
// table (alias key → field_id), merging per-field aliases into the global map.
func Load(path string) (*model.Registry, map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "schema: read %s", path)
	}
	return Parse(data)
}

// Parse decodes schema YAML and builds the registry.
func Parse(data []byte) (*model.Registry, map[string]string, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, eris.Wrap(err, "schema: unmarshal")
	}

	reg, err := model.NewRegistry(f.Fields)
	if err != nil {
		return nil, nil, eris.Wrap(err, "schema: build registry")
	}

	aliases := make(map[string]string, len(f.Aliases))
	for alias, fieldID := range f.Aliases {
		if reg.ByID(fieldID) == nil {
			return nil, nil, eris.Errorf("schema: alias %q targets unknown field %s", alias, fieldID)
		}
		aliases[alias] = fieldID
	}
	for _, spec := range reg.Fields() {
		for _, alias := range spec.Aliases {
			if prev, ok := aliases[alias]; ok && prev != spec.FieldID {
				return nil, nil, eris.Errorf("schema: alias %q maps to both %s and %s", alias, prev, spec.FieldID)
			}
			aliases[alias] = spec.FieldID
		}
	}

	return reg, aliases, nil
}

// LoadAliases reads a standalone alias file (alias key → field_id YAML map)
// kept outside the schema, typically a site-specific overlay maintained
// separately from the form definition. Every alias must target a declared
// field.
func LoadAliases(path string, reg *model.Registry) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "schema: read aliases %s", path)
	}

	var aliases map[string]string
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return nil, eris.Wrap(err, "schema: unmarshal aliases")
	}

	for alias, fieldID := range aliases {
		if reg.ByID(fieldID) == nil {
			return nil, eris.Errorf("schema: alias %q targets unknown field %s", alias, fieldID)
		}
	}
	return aliases, nil
}

// DefaultAliases is the built-in alias table for common vital-sign and lab
// shorthand seen in source documents. Schema-file aliases take precedence.
func DefaultAliases() map[string]string {
	return map[string]string{
		"bp":          "blood_pressure",
		"hr":          "heart_rate",
		"pulse":       "heart_rate",
		"temp":        "temperature",
		"rr":          "respiratory_rate",
		"resp rate":   "respiratory_rate",
		"spo2":        "oxygen_saturation",
		"o2 sat":      "oxygen_saturation",
		"sat":         "oxygen_saturation",
		"sbp":         "systolic_bp",
		"dbp":         "diastolic_bp",
		"systolic":    "systolic_bp",
		"diastolic":   "diastolic_bp",
		"hgb":         "hemoglobin",
		"hb":          "hemoglobin",
		"wbc":         "white_blood_cells",
		"glu":         "glucose",
		"blood sugar": "glucose",
	}
}

// MergeAliases overlays schema aliases on top of the defaults.
func MergeAliases(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
