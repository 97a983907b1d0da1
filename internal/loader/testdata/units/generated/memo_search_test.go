// Payments by memo
// Memo Search
package main

import (
	"context"
	"strings"

	"auditkit/internal/descriptor"
	"auditkit/internal/store"
	"auditkit/internal/unit"
)

func Define() descriptor.Definition {
	return descriptor.Definition{
		Parameters: []descriptor.Parameter{
			descriptor.ParamString("term", "Search term", descriptor.Required()),
		},
		Schema: descriptor.NewSchema(
			descriptor.Col("Id", "ID", descriptor.ColumnInteger),
			descriptor.Col("Memo", "Memo", descriptor.ColumnString),
		),
		Category: "text",
	}
}

func Execute(ctx context.Context, s *store.ReadOnlySession, p unit.Params) ([]unit.Row, error) {
	recs, err := s.Query(ctx, "SELECT Id, Memo FROM payments WHERE Memo IS NOT NULL ORDER BY Id")
	if err != nil {
		return nil, err
	}
	term := strings.ToLower(p.String("term", ""))
	var rows []unit.Row
	for _, r := range recs {
		memo, _ := r["Memo"].(string)
		if strings.Contains(strings.ToLower(memo), term) {
			rows = append(rows, unit.Row{"Id": r["Id"], "Memo": memo})
		}
	}
	return rows, nil
}
