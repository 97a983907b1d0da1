// Package descriptor defines the typed, self-describing metadata that analysis
// units publish about their inputs (parameters) and outputs (result columns).
// Descriptors are plain values: they carry no behaviour and serialize to the
// same JSON shape across process and network boundaries.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ParamType is the semantic type of an input parameter.
type ParamType string

const (
	ParamTypeString   ParamType = "string"
	ParamTypeNumber   ParamType = "number"
	ParamTypeDate     ParamType = "date"
	ParamTypeDateTime ParamType = "datetime"
	ParamTypeBoolean  ParamType = "boolean"
	ParamTypeSelect   ParamType = "select"
)

// ColumnType is the semantic type of a result column.
type ColumnType string

const (
	ColumnString   ColumnType = "string"
	ColumnInteger  ColumnType = "integer"
	ColumnNumber   ColumnType = "number"
	ColumnDecimal  ColumnType = "decimal"
	ColumnDate     ColumnType = "date"
	ColumnDateTime ColumnType = "datetime"
	ColumnBoolean  ColumnType = "boolean"
	ColumnCurrency ColumnType = "currency"
	ColumnPercent  ColumnType = "percent"
)

// ValidParamTypes lists every parameter type the framework understands.
var ValidParamTypes = []ParamType{
	ParamTypeString, ParamTypeNumber, ParamTypeDate,
	ParamTypeDateTime, ParamTypeBoolean, ParamTypeSelect,
}

// ValidColumnTypes lists every column type the framework understands.
var ValidColumnTypes = []ColumnType{
	ColumnString, ColumnInteger, ColumnNumber, ColumnDecimal, ColumnDate,
	ColumnDateTime, ColumnBoolean, ColumnCurrency, ColumnPercent,
}

// Valid reports whether t is a known parameter type.
func (t ParamType) Valid() bool {
	for _, v := range ValidParamTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Valid reports whether t is a known column type.
func (t ColumnType) Valid() bool {
	for _, v := range ValidColumnTypes {
		if t == v {
			return true
		}
	}
	return false
}

var (
	ErrNoOptions          = errors.New("select parameter requires at least one option")
	ErrMissingKey         = errors.New("descriptor key is required")
	ErrMissingDisplayName = errors.New("descriptor display name is required")
	ErrUnknownType        = errors.New("unknown descriptor type")
	ErrDuplicateKey       = errors.New("duplicate descriptor key")
)

// Option is one choice of a select parameter.
type Option struct {
	Value any    `json:"value"`
	Label string `json:"label"`
}

// NewOption builds a select option.
func NewOption(value any, label string) Option {
	return Option{Value: value, Label: label}
}

// Parameter describes one input of an analysis unit.
// Key, DisplayName, Type, Required and DefaultValue are always serialized;
// Options only for select parameters.
type Parameter struct {
	Key          string    `json:"key"`
	DisplayName  string    `json:"displayName"`
	Type         ParamType `json:"type"`
	Required     bool      `json:"required"`
	DefaultValue any       `json:"defaultValue"`
	Options      []Option  `json:"options,omitempty"`
}

// ParamOption customizes a Parameter at construction.
type ParamOption func(*Parameter)

// Required marks the parameter as mandatory.
func Required() ParamOption {
	return func(p *Parameter) { p.Required = true }
}

// Default sets the value used when the caller supplies none.
func Default(v any) ParamOption {
	return func(p *Parameter) { p.DefaultValue = v }
}

func newParam(key, displayName string, t ParamType, opts []ParamOption) Parameter {
	p := Parameter{Key: key, DisplayName: displayName, Type: t}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// ParamString describes a free-text parameter.
func ParamString(key, displayName string, opts ...ParamOption) Parameter {
	return newParam(key, displayName, ParamTypeString, opts)
}

// ParamNumber describes a numeric parameter.
func ParamNumber(key, displayName string, opts ...ParamOption) Parameter {
	return newParam(key, displayName, ParamTypeNumber, opts)
}

// ParamDate describes a calendar-date parameter (YYYY-MM-DD).
func ParamDate(key, displayName string, opts ...ParamOption) Parameter {
	return newParam(key, displayName, ParamTypeDate, opts)
}

// ParamDateTime describes a timestamp parameter.
func ParamDateTime(key, displayName string, opts ...ParamOption) Parameter {
	return newParam(key, displayName, ParamTypeDateTime, opts)
}

// ParamBoolean describes a yes/no parameter.
func ParamBoolean(key, displayName string, opts ...ParamOption) Parameter {
	return newParam(key, displayName, ParamTypeBoolean, opts)
}

// ParamSelect describes an enumerated-choice parameter. The option order is
// preserved for form rendering. An empty option list is rejected.
func ParamSelect(key, displayName string, options []Option, opts ...ParamOption) (Parameter, error) {
	if len(options) == 0 {
		return Parameter{}, fmt.Errorf("%s: %w", key, ErrNoOptions)
	}
	p := newParam(key, displayName, ParamTypeSelect, opts)
	p.Options = append([]Option(nil), options...)
	return p, nil
}

// MustSelect is ParamSelect for option lists known at compile time.
func MustSelect(key, displayName string, options []Option, opts ...ParamOption) Parameter {
	p, err := ParamSelect(key, displayName, options, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// HasOption reports whether v matches one of the select options.
func (p Parameter) HasOption(v any) bool {
	for _, o := range p.Options {
		if fmt.Sprint(o.Value) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}

// Column describes one field of a result row.
type Column struct {
	Key         string     `json:"key"`
	DisplayName string     `json:"displayName"`
	Type        ColumnType `json:"type"`
}

// Col builds a column descriptor.
func Col(key, displayName string, t ColumnType) Column {
	return Column{Key: key, DisplayName: displayName, Type: t}
}

// Schema is the ordered list of result columns. Order is display order.
type Schema []Column

// NewSchema returns the columns in the order given.
func NewSchema(cols ...Column) Schema {
	return append(Schema{}, cols...)
}

// Keys returns the column keys in order.
func (s Schema) Keys() []string {
	keys := make([]string, len(s))
	for i, c := range s {
		keys[i] = c.Key
	}
	return keys
}

// Column looks up a column by key.
func (s Schema) Column(key string) (Column, bool) {
	for _, c := range s {
		if c.Key == key {
			return c, true
		}
	}
	return Column{}, false
}

type schemaJSON struct {
	Columns []Column `json:"columns"`
}

// MarshalJSON wraps the columns as {"columns": [...]}. A nil schema still
// serializes as an empty column list.
func (s Schema) MarshalJSON() ([]byte, error) {
	cols := []Column(s)
	if cols == nil {
		cols = []Column{}
	}
	return json.Marshal(schemaJSON{Columns: cols})
}

// UnmarshalJSON reads the {"columns": [...]} form.
func (s *Schema) UnmarshalJSON(data []byte) error {
	var sj schemaJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return err
	}
	*s = Schema(sj.Columns)
	return nil
}

// Definition is what a unit's Define returns: its inputs, its outputs, and
// the catalog metadata the unit declares about itself.
type Definition struct {
	Parameters []Parameter `json:"parameters"`
	Schema     Schema      `json:"schema"`
	Category   string      `json:"category,omitempty"`
	Labels     []string    `json:"labels,omitempty"`
	// Requires names the ledger tables the unit reads.
	Requires []string `json:"requires,omitempty"`
}

// MarshalJSON keeps "parameters" an array even when the unit declares none.
func (d Definition) MarshalJSON() ([]byte, error) {
	type alias Definition
	a := alias(d)
	if a.Parameters == nil {
		a.Parameters = []Parameter{}
	}
	return json.Marshal(a)
}

// Parameter looks up a parameter by key.
func (d Definition) Parameter(key string) (Parameter, bool) {
	for _, p := range d.Parameters {
		if p.Key == key {
			return p, true
		}
	}
	return Parameter{}, false
}

// Validate checks key presence, key uniqueness and type names. Unknown types
// are rejected here rather than at construction so that a unit fails once,
// when it is loaded, with every problem reported.
func (d Definition) Validate() error {
	var errs []error

	seen := make(map[string]bool)
	for i, p := range d.Parameters {
		switch {
		case p.Key == "":
			errs = append(errs, fmt.Errorf("parameter %d: %w", i, ErrMissingKey))
		case seen[p.Key]:
			errs = append(errs, fmt.Errorf("parameter %q: %w", p.Key, ErrDuplicateKey))
		}
		seen[p.Key] = true
		if p.DisplayName == "" {
			errs = append(errs, fmt.Errorf("parameter %q: %w", p.Key, ErrMissingDisplayName))
		}
		if !p.Type.Valid() {
			errs = append(errs, fmt.Errorf("parameter %q: %w %q", p.Key, ErrUnknownType, p.Type))
		}
		if p.Type == ParamTypeSelect && len(p.Options) == 0 {
			errs = append(errs, fmt.Errorf("parameter %q: %w", p.Key, ErrNoOptions))
		}
	}

	seen = make(map[string]bool)
	for i, c := range d.Schema {
		switch {
		case c.Key == "":
			errs = append(errs, fmt.Errorf("column %d: %w", i, ErrMissingKey))
		case seen[c.Key]:
			errs = append(errs, fmt.Errorf("column %q: %w", c.Key, ErrDuplicateKey))
		}
		seen[c.Key] = true
		if c.DisplayName == "" {
			errs = append(errs, fmt.Errorf("column %q: %w", c.Key, ErrMissingDisplayName))
		}
		if !c.Type.Valid() {
			errs = append(errs, fmt.Errorf("column %q: %w %q", c.Key, ErrUnknownType, c.Type))
		}
	}

	for i, t := range d.Requires {
		if t == "" {
			errs = append(errs, fmt.Errorf("requirement %d: %w", i, ErrMissingKey))
		}
	}

	return errors.Join(errs...)
}
