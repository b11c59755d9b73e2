// internal/database/store.go
package database

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("run not found")

// Store persists completed runs and per-sensor history.
type Store interface {
	// Run operations
	SaveRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, filters RunFilters) ([]RunSummary, error)

	// Sensor history
	GetSensorHistory(ctx context.Context, hostname string, since time.Time) ([]SensorStatus, error)

	// Maintenance
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error)
	GetDatabaseStats(ctx context.Context) (*DatabaseStats, error)
	CompactDatabase(ctx context.Context) error

	Close() error
}
