// internal/report/report.go
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"sensorqa/internal/model"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"

	fileTimeLayout = "2006-01-02_15-04-05"
)

// Report is the hand-off to renderers and the persisted run record.
type Report struct {
	RunID       string                 `json:"run_id" yaml:"run_id"`
	Title       string                 `json:"title" yaml:"title"`
	GeneratedAt time.Time              `json:"generated_at" yaml:"generated_at"`
	StartedAt   time.Time              `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time              `json:"finished_at" yaml:"finished_at"`
	Summary     Summary                `json:"summary" yaml:"summary"`
	Sensors     []model.SensorResult   `json:"sensors" yaml:"sensors"`
	Failovers   []model.FailoverRecord `json:"failover_events" yaml:"failover_events"`
}

func New(runID, title string, started, finished time.Time, results []model.SensorResult, events []model.FailoverRecord) *Report {
	if events == nil {
		events = []model.FailoverRecord{}
	}
	return &Report{
		RunID:       runID,
		Title:       title,
		GeneratedAt: time.Now(),
		StartedAt:   started,
		FinishedAt:  finished,
		Summary:     Summarize(results, events),
		Sensors:     results,
		Failovers:   events,
	}
}

// FileName is the timestamped report file name for a format.
func FileName(at time.Time, format string) string {
	ext := FormatJSON
	if strings.EqualFold(format, FormatYAML) || strings.EqualFold(format, "yml") {
		ext = FormatYAML
	}
	return fmt.Sprintf("report_%s.%s", at.Format(fileTimeLayout), ext)
}

// Encode renders the report in the given format.
func (r *Report) Encode(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", FormatJSON:
		return json.MarshalIndent(r, "", "  ")
	case FormatYAML, "yml":
		return yaml.Marshal(r)
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// Write stores the report under dir and returns the file path.
func (r *Report) Write(dir, format string) (string, error) {
	data, err := r.Encode(format)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}
	path, err := securejoin.SecureJoin(dir, FileName(r.GeneratedAt, format))
	if err != nil {
		return "", fmt.Errorf("failed to resolve report path: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"path":   path,
		"run_id": r.RunID,
	}).Info("Report written")
	return path, nil
}
