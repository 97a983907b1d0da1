package unit

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"auditkit/internal/descriptor"

	"fortio.org/safecast"
)

var (
	ErrMissingParameter = errors.New("required parameter missing")
	ErrInvalidParameter = errors.New("invalid parameter value")
)

// Params holds the bound inputs of one invocation. It is immutable: every
// accessor reads from a private copy made at construction.
type Params struct {
	values map[string]any
}

// NewParams copies values into a Params without coercion.
func NewParams(values map[string]any) Params {
	cp := make(map[string]any, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return Params{values: cp}
}

// Get returns the value for key, or def when absent or nil.
func (p Params) Get(key string, def any) any {
	if v, ok := p.values[key]; ok && v != nil {
		return v
	}
	return def
}

// Has reports whether key has a non-nil value.
func (p Params) Has(key string) bool {
	v, ok := p.values[key]
	return ok && v != nil
}

// Map returns a copy of all values.
func (p Params) Map() map[string]any {
	cp := make(map[string]any, len(p.values))
	for k, v := range p.values {
		cp[k] = v
	}
	return cp
}

// String returns key as a string, or def.
func (p Params) String(key, def string) string {
	v := p.Get(key, nil)
	if v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Float returns key as a float64, or def when absent or not numeric.
func (p Params) Float(key string, def float64) float64 {
	f, err := toFloat(p.Get(key, nil))
	if err != nil {
		return def
	}
	return f
}

// Int returns key as an int, or def when absent, fractional or out of range.
func (p Params) Int(key string, def int) int {
	f, err := toFloat(p.Get(key, nil))
	if err != nil {
		return def
	}
	n, err := safecast.Convert[int](f)
	if err != nil {
		return def
	}
	return n
}

// Bool returns key as a bool, or def.
func (p Params) Bool(key string, def bool) bool {
	b, err := toBool(p.Get(key, nil))
	if err != nil {
		return def
	}
	return b
}

// Time returns key as a time.Time, or def.
func (p Params) Time(key string, def time.Time) time.Time {
	switch v := p.Get(key, nil).(type) {
	case time.Time:
		return v
	case string:
		if t, err := parseTime(v); err == nil {
			return t
		}
	}
	return def
}

// Bind coerces raw caller values to the declared parameter types, filling in
// defaults for absent keys. Keys not declared by the unit pass through as-is.
func Bind(params []descriptor.Parameter, raw map[string]any) (Params, error) {
	values := make(map[string]any, len(raw)+len(params))
	for k, v := range raw {
		values[k] = v
	}

	var errs []error
	for _, p := range params {
		v, present := raw[p.Key]
		if !present || v == nil || v == "" {
			if p.DefaultValue == nil {
				if p.Required {
					errs = append(errs, fmt.Errorf("%s: %w", p.Key, ErrMissingParameter))
				}
				values[p.Key] = nil
				continue
			}
			v = p.DefaultValue
		}
		cv, err := coerce(p, v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w: %v", p.Key, ErrInvalidParameter, err))
			continue
		}
		values[p.Key] = cv
	}
	if err := errors.Join(errs...); err != nil {
		return Params{}, err
	}
	return Params{values: values}, nil
}

func coerce(p descriptor.Parameter, v any) (any, error) {
	switch p.Type {
	case descriptor.ParamTypeNumber:
		return toFloat(v)
	case descriptor.ParamTypeBoolean:
		return toBool(v)
	case descriptor.ParamTypeDate:
		t, err := toTime(v)
		if err != nil {
			return nil, err
		}
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	case descriptor.ParamTypeDateTime:
		return toTime(v)
	case descriptor.ParamTypeSelect:
		if !p.HasOption(v) {
			return nil, fmt.Errorf("%v is not one of the options", v)
		}
		for _, o := range p.Options {
			if fmt.Sprint(o.Value) == fmt.Sprint(v) {
				return o.Value, nil
			}
		}
		return v, nil
	default:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(n, ",", "")), 64)
	case nil:
		return 0, errors.New("no value")
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off", "":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", b)
	case nil:
		return false, errors.New("no value")
	default:
		f, err := toFloat(v)
		if err != nil {
			return false, fmt.Errorf("not a boolean: %T", v)
		}
		return f != 0, nil
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return parseTime(t)
	default:
		return time.Time{}, fmt.Errorf("not a date: %T", v)
	}
}
