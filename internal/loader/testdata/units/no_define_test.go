package main

import (
	"context"

	"auditkit/internal/store"
	"auditkit/internal/unit"
)

func Execute(ctx context.Context, s *store.ReadOnlySession, p unit.Params) ([]unit.Row, error) {
	recs, err := s.Query(ctx, "SELECT COUNT(*) AS N FROM payments")
	if err != nil {
		return nil, err
	}
	return []unit.Row{{"N": recs[0]["N"]}}, nil
}
