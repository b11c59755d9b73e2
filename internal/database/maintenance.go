// internal/database/maintenance.go
package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

// DeleteRunsBefore purges runs started before cutoff together with their
// sensor history entries.
func (s *BoltStore) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deleted := 0
	limit := []byte(fmt.Sprintf("%020d", cutoff.UnixNano()))

	err := s.db.Update(func(tx *bbolt.Tx) error {
		rb := tx.Bucket(RunsBucket)
		ib := tx.Bucket(RunIndexBucket)

		var indexKeys, runIDs [][]byte
		c := ib.Cursor()
		for k, id := c.First(); k != nil && bytes.Compare(k[:len(limit)], limit) < 0; k, id = c.Next() {
			indexKeys = append(indexKeys, copyBytes(k))
			runIDs = append(runIDs, copyBytes(id))
		}
		for i := range indexKeys {
			if err := ib.Delete(indexKeys[i]); err != nil {
				return fmt.Errorf("failed to delete run index: %w", err)
			}
			if err := rb.Delete(runIDs[i]); err != nil {
				return fmt.Errorf("failed to delete run: %w", err)
			}
			deleted++
		}

		hb := tx.Bucket(SensorHistBucket)
		var stale [][]byte
		err := hb.ForEach(func(k, v []byte) error {
			var status SensorStatus
			if err := json.Unmarshal(v, &status); err != nil || status.Timestamp.Before(cutoff) {
				stale = append(stale, copyBytes(k))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := hb.Delete(k); err != nil {
				return fmt.Errorf("failed to delete sensor history: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		logrus.WithFields(logrus.Fields{
			"deleted": deleted,
			"cutoff":  cutoff.Format(time.RFC3339),
		}).Info("Purged old runs")
	}
	return deleted, nil
}

func (s *BoltStore) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &DatabaseStats{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		stats.TotalRuns = tx.Bucket(RunsBucket).Stats().KeyN
		stats.TotalHistorySize = tx.Bucket(SensorHistBucket).Stats().KeyN

		c := tx.Bucket(RunIndexBucket).Cursor()
		if k, _ := c.First(); k != nil {
			stats.OldestEntry = indexTime(k)
		}
		if k, _ := c.Last(); k != nil {
			stats.NewestEntry = indexTime(k)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get database stats: %w", err)
	}

	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.DatabaseSize = fileInfo.Size()
	}
	return stats, nil
}

func indexTime(k []byte) time.Time {
	var nanos int64
	if _, err := fmt.Sscanf(string(k[:20]), "%d", &nanos); err != nil {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// CompactDatabase rewrites the file into a fresh database and swaps it in.
func (s *BoltStore) CompactDatabase(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logrus.Info("Starting database compaction")

	tmpPath := s.path + ".compact.tmp"
	dst, err := openBolt(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}
	defer os.Remove(tmpPath)

	if err := bbolt.Compact(dst, s.db, 1<<20); err != nil {
		dst.Close()
		return fmt.Errorf("failed to copy data to compact database: %w", err)
	}
	dst.Close()
	s.db.Close()

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace database: %w", err)
	}
	s.db, err = openBolt(s.path)
	if err != nil {
		return fmt.Errorf("failed to reopen compacted database: %w", err)
	}

	logrus.Info("Database compaction completed successfully")
	return nil
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	copied := make([]byte, len(b))
	copy(copied, b)
	return copied
}
