// internal/failover/log.go
package failover

import (
	"sync"

	"sensorqa/internal/model"
)

// Log is the append-only record of terminal failovers shared by all
// sensor workers of a run.
type Log struct {
	mu      sync.Mutex
	records []model.FailoverRecord
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Append(rec model.FailoverRecord) {
	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()
}

// Records returns a copy of the records in append order.
func (l *Log) Records() []model.FailoverRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.FailoverRecord(nil), l.records...)
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
