package main

import (
	"context"

	"auditkit/internal/unit"
)

func Execute(ctx context.Context, p unit.Params) ([]unit.Row, error) {
	return nil, nil
}
