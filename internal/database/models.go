// internal/database/models.go
package database

import (
	"time"

	"sensorqa/internal/report"
)

const (
	TriggerCLI       = "cli"
	TriggerAPI       = "api"
	TriggerScheduled = "scheduled"
)

// RunRecord is one stored run: the full report plus how it was started.
type RunRecord struct {
	ID         string        `json:"id"`
	Trigger    string        `json:"trigger"`
	CreatedAt  time.Time     `json:"created_at"`
	ReportPath string        `json:"report_path,omitempty"`
	Report     report.Report `json:"report"`
}

// RunSummary is the list view of a run.
type RunSummary struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Trigger    string         `json:"trigger"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Summary    report.Summary `json:"summary"`
	OK         bool           `json:"ok"`
}

// SensorStatus is one sensor's outcome in one run.
type SensorStatus struct {
	RunID         string    `json:"run_id"`
	Hostname      string    `json:"hostname"`
	Address       string    `json:"ip_address"`
	ActiveAddress string    `json:"active_address,omitempty"`
	Passed        int       `json:"passed"`
	Failed        int       `json:"failed"`
	Incomplete    int       `json:"incomplete"`
	Timestamp     time.Time `json:"timestamp"`
}

type RunFilters struct {
	Since *time.Time
	Limit int
}

type DatabaseStats struct {
	TotalRuns        int       `json:"total_runs"`
	TotalHistorySize int       `json:"total_history_size"`
	DatabaseSize     int64     `json:"database_size_bytes"`
	OldestEntry      time.Time `json:"oldest_entry"`
	NewestEntry      time.Time `json:"newest_entry"`
}

func summarize(run *RunRecord) RunSummary {
	return RunSummary{
		ID:         run.ID,
		Title:      run.Report.Title,
		Trigger:    run.Trigger,
		StartedAt:  run.Report.StartedAt,
		FinishedAt: run.Report.FinishedAt,
		Summary:    run.Report.Summary,
		OK:         run.Report.Summary.OK(),
	}
}
