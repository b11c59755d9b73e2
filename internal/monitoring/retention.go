// internal/monitoring/retention.go
package monitoring

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"sensorqa/internal/database"
)

// PurgeHistory deletes runs older than the retention window.
func PurgeHistory(ctx context.Context, store database.Store, retention time.Duration) (int, error) {
	return store.DeleteRunsBefore(ctx, time.Now().Add(-retention))
}

// SchedulePeriodicPurge purges once now and then every interval until ctx
// is done.
func SchedulePeriodicPurge(ctx context.Context, store database.Store, retention, interval time.Duration) {
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	go func() {
		if _, err := PurgeHistory(ctx, store, retention); err != nil {
			logrus.WithError(err).Error("Initial history purge failed")
		}
	}()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logrus.Debug("Stopping periodic purge scheduler")
				return
			case <-ticker.C:
				logrus.Debug("Running scheduled history purge")
				if _, err := PurgeHistory(ctx, store, retention); err != nil {
					logrus.WithError(err).Error("Scheduled history purge failed")
				}
			}
		}
	}()

	logrus.WithFields(logrus.Fields{
		"interval":  interval,
		"retention": retention,
	}).Info("Scheduled periodic history purging")
}
