// internal/metrics/prometheus.go
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/sirupsen/logrus"

	"sensorqa/internal/database"
	"sensorqa/internal/model"
	"sensorqa/internal/report"
)

// Prometheus metrics
var (
	TestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sensorqa_test_duration_seconds",
			Help:    "Time spent executing sensor tests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host", "category", "status"},
	)

	TestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorqa_tests_total",
			Help: "Total number of sensor tests executed",
		},
		[]string{"host", "category", "status"},
	)

	SensorFailedTests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sensorqa_sensor_failed_tests",
			Help: "Failed or incomplete tests per sensor in the last run",
		},
		[]string{"host"},
	)

	FailoverEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorqa_failover_events_total",
			Help: "Terminal failover records by reason",
		},
		[]string{"host", "reason"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorqa_runs_total",
			Help: "Completed fleet runs",
		},
		[]string{"trigger", "result"},
	)

	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensorqa_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		},
	)

	StoredRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensorqa_stored_runs_total",
			Help: "Number of runs kept in history",
		},
	)

	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorqa_database_operations_total",
			Help: "Total database operations performed",
		},
		[]string{"operation", "status"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensorqa_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)
)

// Collector feeds run events into the metrics above. It satisfies
// fleet.Observer.
type Collector struct {
	store database.Store
}

func NewCollector(store database.Store) *Collector {
	return &Collector{store: store}
}

func (c *Collector) TestCompleted(sensor model.SensorEndpoint, category string, result model.TestResult) {
	status := statusLabel(result.Status)
	TestDuration.WithLabelValues(sensor.Hostname, category, status).Observe(result.Duration.Seconds())
	TestTotal.WithLabelValues(sensor.Hostname, category, status).Inc()
}

func (c *Collector) FailoverRecorded(record model.FailoverRecord) {
	FailoverEvents.WithLabelValues(record.Hostname, record.Reason).Inc()
}

func (c *Collector) SensorCompleted(result model.SensorResult) {
	bad := result.Count(model.StatusFailed) + result.Count(model.StatusIncomplete)
	SensorFailedTests.WithLabelValues(result.Hostname).Set(float64(bad))
}

// RecordRun counts a finished run.
func (c *Collector) RecordRun(trigger string, summary report.Summary, finished time.Time) {
	result := "ok"
	if !summary.OK() {
		result = "failed"
	}
	RunsTotal.WithLabelValues(trigger, result).Inc()
	LastRunTimestamp.Set(float64(finished.Unix()))
}

func (c *Collector) RecordDatabaseOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperations.WithLabelValues(operation, status).Inc()
}

func (c *Collector) UpdateSystemMetrics(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	stats, err := c.store.GetDatabaseStats(ctx)
	c.RecordDatabaseOperation("get_stats", err)
	if err != nil {
		return err
	}
	StoredRuns.Set(float64(stats.TotalRuns))
	return nil
}

func (c *Collector) RecordWebSocketConnection(delta int) {
	WebSocketConnections.Add(float64(delta))
}

// Push sends the default registry to a Prometheus pushgateway.
func Push(ctx context.Context, gateway, job string) error {
	err := push.New(gateway, job).
		Gatherer(prometheus.DefaultGatherer).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", gateway, err)
	}
	logrus.WithField("gateway", gateway).Debug("Pushed metrics")
	return nil
}

func statusLabel(s model.Status) string {
	switch s {
	case model.StatusPassed:
		return "passed"
	case model.StatusFailed:
		return "failed"
	default:
		return "incomplete"
	}
}
