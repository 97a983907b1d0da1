package loader

import (
	"context"
	"fmt"
	"sort"

	"auditkit/internal/ledger"
)

// DefaultRequirement is assumed for units that declare no tables.
const DefaultRequirement = ledger.TableTransactions

// UnitRequirement is the data one unit needs.
type UnitRequirement struct {
	Name     string   `json:"name"`
	Tables   []string `json:"tables"`
	Declared bool     `json:"declared"`
}

// Requirements is the merged data need of a set of units.
type Requirements struct {
	Units  []UnitRequirement `json:"units"`
	Tables []string          `json:"tables"`
}

// Requirements describes each named unit and merges the tables they read.
// With no names every listed unit is included. Tables come back sorted and
// without duplicates.
func (r *Registry) Requirements(ctx context.Context, names ...string) (Requirements, error) {
	if len(names) == 0 {
		entries, err := r.List()
		if err != nil {
			return Requirements{}, err
		}
		for _, e := range entries {
			names = append(names, e.Name)
		}
	}

	out := Requirements{Units: make([]UnitRequirement, 0, len(names)), Tables: []string{}}
	seen := make(map[string]bool)
	for _, name := range names {
		def, err := r.Describe(ctx, name)
		if err != nil {
			return Requirements{}, fmt.Errorf("%s: %w", name, err)
		}
		req := UnitRequirement{Name: name, Tables: def.Requires, Declared: len(def.Requires) > 0}
		if !req.Declared {
			req.Tables = []string{DefaultRequirement}
		}
		for _, t := range req.Tables {
			if !seen[t] {
				seen[t] = true
				out.Tables = append(out.Tables, t)
			}
		}
		out.Units = append(out.Units, req)
	}
	sort.Strings(out.Tables)
	return out, nil
}
