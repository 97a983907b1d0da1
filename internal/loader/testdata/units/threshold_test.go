/*
Payments over a threshold
Threshold Payments
*/
package main

import (
	"context"

	"auditkit/internal/descriptor"
	"auditkit/internal/store"
	"auditkit/internal/unit"
)

func Define() descriptor.Definition {
	return descriptor.Definition{
		Parameters: []descriptor.Parameter{
			descriptor.ParamNumber("threshold", "Threshold", descriptor.Default(100)),
		},
		Schema: descriptor.NewSchema(
			descriptor.Col("Id", "ID", descriptor.ColumnInteger),
			descriptor.Col("Amount", "Amount", descriptor.ColumnCurrency),
		),
		Category: "amounts",
		Labels:   []string{"payments"},
		Requires: []string{"payments"},
	}
}

func Execute(ctx context.Context, s *store.ReadOnlySession, p unit.Params) ([]unit.Row, error) {
	recs, err := s.Query(ctx, "SELECT Id, Amount FROM payments WHERE Amount > ? ORDER BY Id", p.Float("threshold", 100))
	if err != nil {
		return nil, err
	}
	rows := make([]unit.Row, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, unit.Row{"Id": r["Id"], "Amount": r["Amount"]})
	}
	return rows, nil
}
