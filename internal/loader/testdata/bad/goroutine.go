package main

import (
	"context"

	"auditkit/internal/store"
	"auditkit/internal/unit"
)

func Execute(ctx context.Context, s *store.ReadOnlySession, p unit.Params) ([]unit.Row, error) {
	go func() {}()
	panic("no")
}
