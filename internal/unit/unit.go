// Package unit defines the contract every analysis unit satisfies and the
// per-invocation values passed to it.
package unit

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"auditkit/internal/descriptor"
	"auditkit/internal/store"
)

// Unit is one pluggable analytical routine. Define must be pure and return
// the same Definition on every call. Execute may read through the session but
// cannot write; params carries this invocation's bound inputs.
type Unit interface {
	Define() descriptor.Definition
	Execute(ctx context.Context, s *store.ReadOnlySession, params Params) ([]Row, error)
}

// Row is one result row, keyed by the column keys of the unit's schema.
type Row map[string]any

// ErrRowShape reports a row whose keys differ from the declared schema.
var ErrRowShape = errors.New("row does not match schema")

// DefineFunc and ExecuteFunc are the two halves of a Unit.
type (
	DefineFunc  func() descriptor.Definition
	ExecuteFunc func(ctx context.Context, s *store.ReadOnlySession, params Params) ([]Row, error)
)

// Func adapts a pair of functions into a Unit. A nil define yields an empty
// Definition.
func Func(define DefineFunc, execute ExecuteFunc) Unit {
	return funcUnit{define: define, execute: execute}
}

type funcUnit struct {
	define  DefineFunc
	execute ExecuteFunc
}

func (f funcUnit) Define() descriptor.Definition {
	if f.define == nil {
		return descriptor.Definition{}
	}
	return f.define()
}

func (f funcUnit) Execute(ctx context.Context, s *store.ReadOnlySession, params Params) ([]Row, error) {
	return f.execute(ctx, s, params)
}

// CheckRow reports missing and extra keys of row against schema.
func CheckRow(schema descriptor.Schema, row Row) error {
	want := make(map[string]bool, len(schema))
	for _, c := range schema {
		want[c.Key] = true
	}
	var missing, extra []string
	for k := range want {
		if _, ok := row[k]; !ok {
			missing = append(missing, k)
		}
	}
	for k := range row {
		if !want[k] {
			extra = append(extra, k)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return fmt.Errorf("%w: missing %v, extra %v", ErrRowShape, missing, extra)
}

// CheckRows applies CheckRow to every row and reports the first mismatch.
func CheckRows(schema descriptor.Schema, rows []Row) error {
	for i, r := range rows {
		if err := CheckRow(schema, r); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}
