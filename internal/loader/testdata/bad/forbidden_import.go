package main

import (
	"context"
	"os"

	"auditkit/internal/store"
	"auditkit/internal/unit"
)

func Execute(ctx context.Context, s *store.ReadOnlySession, p unit.Params) ([]unit.Row, error) {
	os.Exit(1)
	return nil, nil
}
