// Package output turns unit results into the response documents consumers
// read: a schema block, ordered data rows and the parameters the unit
// declares.
package output

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"auditkit/internal/descriptor"
	"auditkit/internal/unit"
)

// Envelope is the response document for one invocation.
type Envelope struct {
	Schema     descriptor.Schema      `json:"schema"`
	Data       []OrderedRow           `json:"data"`
	Parameters []descriptor.Parameter `json:"parameters,omitempty"`
}

// OrderedRow is a result row whose keys serialize in schema order.
type OrderedRow struct {
	Keys   []string
	Values map[string]any
}

// Get returns the value stored under key.
func (r OrderedRow) Get(key string) any { return r.Values[key] }

// MarshalJSON writes the row as an object with keys in column order.
func (r OrderedRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(r.Values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// EncodeMsgpack writes the row as a map with keys in column order.
func (r OrderedRow) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeMapLen(len(r.Keys)); err != nil {
		return err
	}
	for _, k := range r.Keys {
		if err := enc.EncodeString(k); err != nil {
			return err
		}
		if err := enc.Encode(r.Values[k]); err != nil {
			return err
		}
	}
	return nil
}

// Build projects rows onto schema. Each row gets exactly the schema keys in
// schema order: absent fields become null and undeclared keys are dropped.
// With an empty schema the columns are the sorted union of the row keys,
// typed as strings. params are the unit's parameter descriptors; nil omits
// the block.
func Build(rows []unit.Row, schema descriptor.Schema, params []descriptor.Parameter) Envelope {
	if len(schema) == 0 {
		schema = inferSchema(rows)
	}
	keys := schema.Keys()

	data := make([]OrderedRow, 0, len(rows))
	for _, row := range rows {
		values := make(map[string]any, len(schema))
		for _, c := range schema {
			values[c.Key] = Normalize(row[c.Key], c.Type)
		}
		data = append(data, OrderedRow{Keys: keys, Values: values})
	}

	env := Envelope{Schema: schema, Data: data}
	if params != nil {
		env.Parameters = make([]descriptor.Parameter, len(params))
		for i, p := range params {
			env.Parameters[i] = normalizeParam(p)
		}
	}
	return env
}

func inferSchema(rows []unit.Row) descriptor.Schema {
	seen := make(map[string]bool)
	var keys []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	schema := make(descriptor.Schema, 0, len(keys))
	for _, k := range keys {
		schema = append(schema, descriptor.Col(k, k, descriptor.ColumnString))
	}
	return schema
}

// normalizeParam returns a copy of p whose default and option values are
// rendered the way bound values of its type are: dates as YYYY-MM-DD,
// timestamps as ISO-8601.
func normalizeParam(p descriptor.Parameter) descriptor.Parameter {
	col := descriptor.ColumnString
	switch p.Type {
	case descriptor.ParamTypeDate:
		col = descriptor.ColumnDate
	case descriptor.ParamTypeDateTime:
		col = descriptor.ColumnDateTime
	case descriptor.ParamTypeNumber:
		col = descriptor.ColumnNumber
	case descriptor.ParamTypeBoolean:
		col = descriptor.ColumnBoolean
	}
	out := p
	if p.DefaultValue != nil {
		out.DefaultValue = Normalize(p.DefaultValue, col)
	}
	if p.Options != nil {
		out.Options = make([]descriptor.Option, len(p.Options))
		for i, o := range p.Options {
			out.Options[i] = descriptor.Option{Value: Normalize(o.Value, col), Label: o.Label}
		}
	}
	return out
}
