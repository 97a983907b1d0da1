package main

import (
	"context"

	"auditkit/internal/store"
	"auditkit/internal/unit"
)

func Execute(ctx context.Context, s *store.ReadOnlySession, p unit.Params) ([]unit.Row, error) {
	if err := s.Add("payments", store.Record{"Id": 99, "Amount": 1.0}); err != nil {
		return nil, err
	}
	return []unit.Row{}, nil
}
