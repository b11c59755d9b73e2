// internal/database/boltstore.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"sensorqa/internal/model"
)

var (
	RunsBucket       = []byte("runs")
	RunIndexBucket   = []byte("run_index")
	SensorHistBucket = []byte("sensor_history")
	MetaBucket       = []byte("meta")

	allBuckets = [][]byte{RunsBucket, RunIndexBucket, SensorHistBucket, MetaBucket}
)

// BoltStore is safe for concurrent use. Compaction swaps the underlying
// database and excludes every other operation while it runs.
type BoltStore struct {
	mu   sync.RWMutex
	db   *bbolt.DB
	path string
}

func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := openBolt(path)
	if err != nil {
		return nil, err
	}

	store := &BoltStore{db: db, path: path}
	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return store, nil
}

func openBolt(path string) (*bbolt.DB, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}
	return db, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// runTime orders runs; the report start time when known.
func runTime(run *RunRecord) time.Time {
	if !run.Report.StartedAt.IsZero() {
		return run.Report.StartedAt
	}
	return run.CreatedAt
}

func indexKey(t time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d:%s", t.UnixNano(), id))
}

func historyKey(hostname string, t time.Time) []byte {
	return []byte(fmt.Sprintf("%s:%020d", hostname, t.UnixNano()))
}

func (s *BoltStore) SaveRun(ctx context.Context, run *RunRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Report.RunID == "" {
		run.Report.RunID = run.ID
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	at := runTime(run)

	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("failed to marshal run: %w", err)
		}
		if err := tx.Bucket(RunsBucket).Put([]byte(run.ID), data); err != nil {
			return err
		}
		if err := tx.Bucket(RunIndexBucket).Put(indexKey(at, run.ID), []byte(run.ID)); err != nil {
			return err
		}

		hb := tx.Bucket(SensorHistBucket)
		for _, sr := range run.Report.Sensors {
			status := SensorStatus{
				RunID:         run.ID,
				Hostname:      sr.Hostname,
				Address:       sr.Address,
				ActiveAddress: sr.ActiveAddress,
				Passed:        sr.Count(model.StatusPassed),
				Failed:        sr.Count(model.StatusFailed),
				Incomplete:    sr.Count(model.StatusIncomplete),
				Timestamp:     at,
			}
			data, err := json.Marshal(status)
			if err != nil {
				return fmt.Errorf("failed to marshal sensor status: %w", err)
			}
			if err := hb.Put(historyKey(sr.Hostname, at), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var run RunRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(RunsBucket).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns runs newest first.
func (s *BoltStore) ListRuns(ctx context.Context, filters RunFilters) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := []RunSummary{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		rb := tx.Bucket(RunsBucket)
		c := tx.Bucket(RunIndexBucket).Cursor()

		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			v := rb.Get(id)
			if v == nil {
				continue
			}
			var run RunRecord
			if err := json.Unmarshal(v, &run); err != nil {
				continue // Skip malformed entries
			}
			if filters.Since != nil && runTime(&run).Before(*filters.Since) {
				break
			}
			runs = append(runs, summarize(&run))
			if filters.Limit > 0 && len(runs) >= filters.Limit {
				break
			}
		}
		return nil
	})
	return runs, err
}

func (s *BoltStore) GetSensorHistory(ctx context.Context, hostname string, since time.Time) ([]SensorStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var statuses []SensorStatus

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(SensorHistBucket).Cursor()
		prefix := hostname + ":"

		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var status SensorStatus
			if err := json.Unmarshal(v, &status); err != nil {
				continue
			}
			if status.Timestamp.After(since) {
				statuses = append(statuses, status)
			}
		}
		return nil
	})
	return statuses, err
}

func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Close()
}
