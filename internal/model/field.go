package model

import (
	"github.com/rotisserie/eris"
)

// DataType enumerates the value types a form field can declare.
type DataType string

const (
	TypeNumeric DataType = "numeric"
	TypeEnum    DataType = "enum"
	TypeText    DataType = "text"
	TypeDate    DataType = "date"
)

// Valid reports whether the data type is one of the declared kinds.
func (d DataType) Valid() bool {
	switch d {
	case TypeNumeric, TypeEnum, TypeText, TypeDate:
		return true
	}
	return false
}

// FieldSpec declares a single target form field: its identity, type, unit,
// and validation constraints. Immutable once loaded into a Registry.
type FieldSpec struct {
	FieldID     string   `yaml:"field_id" json:"field_id"`
	DisplayName string   `yaml:"display_name" json:"display_name"`
	DataType    DataType `yaml:"data_type" json:"data_type"`
	Unit        string   `yaml:"unit,omitempty" json:"unit,omitempty"`
	Min         *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max         *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Required    bool     `yaml:"required" json:"required"`
	EnumValues  []string `yaml:"enum_values,omitempty" json:"enum_values,omitempty"`
	Aliases     []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Selector    string   `yaml:"selector,omitempty" json:"selector,omitempty"`
}

// HasRange reports whether the spec declares a numeric valid range.
func (f *FieldSpec) HasRange() bool {
	return f.Min != nil || f.Max != nil
}

// InRange reports whether v falls inside the declared valid range. A spec
// without a range accepts any value.
func (f *FieldSpec) InRange(v float64) bool {
	if f.Min != nil && v < *f.Min {
		return false
	}
	if f.Max != nil && v > *f.Max {
		return false
	}
	return true
}

// Registry is an indexed, read-only collection of field specs. Declaration
// order is preserved: Fields() drives the fill order, so identical schemas
// always produce identical action sequences.
type Registry struct {
	fields   []FieldSpec
	byID     map[string]*FieldSpec
	required []*FieldSpec
}

// NewRegistry builds a Registry from the declared specs. A missing or
// duplicate field_id is a configuration error fatal to the run.
func NewRegistry(fields []FieldSpec) (*Registry, error) {
	if len(fields) == 0 {
		return nil, eris.New("model: schema declares no fields")
	}
	r := &Registry{
		fields: fields,
		byID:   make(map[string]*FieldSpec, len(fields)),
	}
	for i := range r.fields {
		f := &r.fields[i]
		if f.FieldID == "" {
			return nil, eris.Errorf("model: field at index %d has empty field_id", i)
		}
		if !f.DataType.Valid() {
			return nil, eris.Errorf("model: field %s has unknown data_type %q", f.FieldID, f.DataType)
		}
		if _, dup := r.byID[f.FieldID]; dup {
			return nil, eris.Errorf("model: duplicate field_id %s", f.FieldID)
		}
		if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
			return nil, eris.Errorf("model: field %s has min > max", f.FieldID)
		}
		r.byID[f.FieldID] = f
		if f.Required {
			r.required = append(r.required, f)
		}
	}
	return r, nil
}

// ByID returns the spec for the given field_id, or nil if not declared.
func (r *Registry) ByID(id string) *FieldSpec {
	return r.byID[id]
}

// Fields returns all specs in declaration order.
func (r *Registry) Fields() []FieldSpec {
	return r.fields
}

// Required returns all required specs in declaration order.
func (r *Registry) Required() []*FieldSpec {
	return r.required
}

// Len returns the number of declared fields.
func (r *Registry) Len() int {
	return len(r.fields)
}
