package storage

import (
	"context"

	"cfeagent/internal/model"
)

// Store persists experiment run records.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns all runs, newest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
}
