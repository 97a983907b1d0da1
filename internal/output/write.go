package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/vmihailenco/msgpack/v5"

	"auditkit/internal/descriptor"
	"auditkit/internal/logging"
)

// Format selects a writer.
type Format string

const (
	FormatJSON    Format = "json"
	FormatTable   Format = "table"
	FormatMsgpack Format = "msgpack"
)

// ParseFormat maps a flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatTable, FormatMsgpack:
		return f, nil
	case "":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown output format %q (want json, table or msgpack)", s)
}

// Write dispatches to the writer for f.
func Write(w io.Writer, f Format, env Envelope) error {
	logging.OutputDebug("Writing %d rows as %s", len(env.Data), f)
	switch f {
	case FormatTable:
		return WriteTable(w, env)
	case FormatMsgpack:
		return WriteMsgpack(w, env)
	default:
		return WriteJSON(w, env)
	}
}

// WriteJSON writes env as indented JSON.
func WriteJSON(w io.Writer, env Envelope) error {
	if env.Data == nil {
		env.Data = []OrderedRow{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(env)
}

// WriteError writes {"error": message}.
func WriteError(w io.Writer, err error) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(struct {
		Error string `json:"error"`
	}{Error: err.Error()})
}

type msgpackColumn struct {
	Key         string `msgpack:"key"`
	DisplayName string `msgpack:"displayName"`
	Type        string `msgpack:"type"`
}

type msgpackOption struct {
	Value any    `msgpack:"value"`
	Label string `msgpack:"label"`
}

type msgpackParameter struct {
	Key          string          `msgpack:"key"`
	DisplayName  string          `msgpack:"displayName"`
	Type         string          `msgpack:"type"`
	Required     bool            `msgpack:"required"`
	DefaultValue any             `msgpack:"defaultValue"`
	Options      []msgpackOption `msgpack:"options,omitempty"`
}

type msgpackEnvelope struct {
	Schema struct {
		Columns []msgpackColumn `msgpack:"columns"`
	} `msgpack:"schema"`
	Data       []OrderedRow       `msgpack:"data"`
	Parameters []msgpackParameter `msgpack:"parameters,omitempty"`
}

// WriteMsgpack writes env in the same shape as WriteJSON, msgpack encoded.
func WriteMsgpack(w io.Writer, env Envelope) error {
	var m msgpackEnvelope
	m.Schema.Columns = make([]msgpackColumn, 0, len(env.Schema))
	for _, c := range env.Schema {
		m.Schema.Columns = append(m.Schema.Columns, msgpackColumn{Key: c.Key, DisplayName: c.DisplayName, Type: string(c.Type)})
	}
	m.Data = env.Data
	if m.Data == nil {
		m.Data = []OrderedRow{}
	}
	for _, p := range env.Parameters {
		mp := msgpackParameter{
			Key:          p.Key,
			DisplayName:  p.DisplayName,
			Type:         string(p.Type),
			Required:     p.Required,
			DefaultValue: p.DefaultValue,
		}
		for _, o := range p.Options {
			mp.Options = append(mp.Options, msgpackOption{Value: o.Value, Label: o.Label})
		}
		m.Parameters = append(m.Parameters, mp)
	}
	return msgpack.NewEncoder(w).Encode(&m)
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// WriteTable renders env as a bordered table headed by display names,
// followed by a row count.
func WriteTable(w io.Writer, env Envelope) error {
	headers := make([]string, len(env.Schema))
	for i, c := range env.Schema {
		headers[i] = c.DisplayName
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col < len(env.Schema) && numeric(env.Schema[col].Type) {
				return numberStyle
			}
			return cellStyle
		})

	for _, r := range env.Data {
		cells := make([]string, len(env.Schema))
		for i, c := range env.Schema {
			cells[i] = cell(r.Get(c.Key), c.Type)
		}
		t.Row(cells...)
	}

	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Total rows: %d\n", len(env.Data))
	return err
}

func numeric(t descriptor.ColumnType) bool {
	switch t {
	case descriptor.ColumnInteger, descriptor.ColumnNumber, descriptor.ColumnDecimal,
		descriptor.ColumnCurrency, descriptor.ColumnPercent:
		return true
	}
	return false
}

func cell(v any, t descriptor.ColumnType) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		switch t {
		case descriptor.ColumnCurrency:
			return strconv.FormatFloat(x, 'f', 2, 64)
		case descriptor.ColumnPercent:
			return strconv.FormatFloat(x, 'f', 2, 64) + "%"
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case string:
		return x
	}
	return fmt.Sprint(v)
}

// WriteCSV writes env as CSV: a header of column keys, then one record per
// row. Values are written unformatted so the file can be re-imported.
func WriteCSV(w io.Writer, env Envelope) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(env.Schema.Keys()); err != nil {
		return err
	}
	record := make([]string, len(env.Schema))
	for _, r := range env.Data {
		for i, c := range env.Schema {
			record[i] = csvCell(r.Get(c.Key))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}
