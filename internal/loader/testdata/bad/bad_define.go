package main

import (
	"context"

	"auditkit/internal/descriptor"
	"auditkit/internal/store"
	"auditkit/internal/unit"
)

func Define() descriptor.Definition {
	return descriptor.Definition{
		Schema: descriptor.NewSchema(descriptor.Col("x", "X", descriptor.ColumnType("money"))),
	}
}

func Execute(ctx context.Context, s *store.ReadOnlySession, p unit.Params) ([]unit.Row, error) {
	return nil, nil
}
