package store

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// IDColumn is the primary-key column every staged write addresses.
const IDColumn = "Id"

// Record is one row keyed by column name.
type Record map[string]any

// Result reports the outcome of a write statement.
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

var (
	ErrBadIdentifier = errors.New("invalid SQL identifier")
	ErrNotFound      = errors.New("record not found")
	ErrMissingID     = errors.New("record has no " + IDColumn)
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier rejects anything that is not a plain table or column name.
func ValidIdentifier(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrBadIdentifier, name)
	}
	return nil
}

func quote(name string) string {
	return `"` + name + `"`
}

// columns returns the sorted union of keys across recs, validated.
func columns(recs []Record) ([]string, error) {
	set := make(map[string]bool)
	for _, r := range recs {
		for k := range r {
			set[k] = true
		}
	}
	cols := make([]string, 0, len(set))
	for k := range set {
		if err := ValidIdentifier(k); err != nil {
			return nil, err
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols, nil
}

func insertSQL(table string, cols []string, upsert bool) string {
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
		marks[i] = "?"
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	if !upsert {
		return q
	}
	var sets []string
	for _, c := range cols {
		if c == IDColumn {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", quote(c), quote(c)))
	}
	if len(sets) == 0 {
		return q + fmt.Sprintf(" ON CONFLICT(%s) DO NOTHING", quote(IDColumn))
	}
	return q + fmt.Sprintf(" ON CONFLICT(%s) DO UPDATE SET %s", quote(IDColumn), strings.Join(sets, ", "))
}

func updateSQL(table string, cols []string) string {
	var sets []string
	for _, c := range cols {
		if c == IDColumn {
			continue
		}
		sets = append(sets, quote(c)+" = ?")
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", quote(table), strings.Join(sets, ", "), quote(IDColumn))
}

func values(r Record, cols []string) []any {
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = r[c]
	}
	return args
}

// scanRecords drains rows into Records. []byte values become strings so that
// results are plain serializable values.
func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []Record{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(Record, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[c] = string(b)
			} else {
				rec[c] = vals[i]
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
