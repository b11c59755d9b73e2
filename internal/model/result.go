// internal/model/result.go
package model

import (
	"time"
)

type Status string

const (
	StatusPassed     Status = "Passed"
	StatusFailed     Status = "Failed"
	StatusIncomplete Status = "Incomplete"
)

// CommandOutcome is the result of one remote command. Success means the
// command wrote nothing to its error stream; the exit status is not consulted.
// Err classifies transport failures (dial, auth, session) and is nil when the
// command reached the device.
type CommandOutcome struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// NewOutcome applies the error-stream success predicate.
func NewOutcome(stdout, stderr string) CommandOutcome {
	return CommandOutcome{
		Stdout:  stdout,
		Stderr:  stderr,
		Success: stderr == "",
	}
}

// TransportFailure builds the outcome for a command that never ran.
func TransportFailure(err error) CommandOutcome {
	return CommandOutcome{
		Stderr:  err.Error(),
		Success: false,
		Err:     err,
	}
}

type TestResult struct {
	TestName  string        `json:"test_name" yaml:"test_name"`
	Output    string        `json:"output" yaml:"output"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
	LogOutput string        `json:"log_output,omitempty" yaml:"log_output,omitempty"`
	Status    Status        `json:"status" yaml:"status"`
	Duration  time.Duration `json:"duration_ns" yaml:"duration_ns"`
}

type CategoryResult struct {
	Category string       `json:"category" yaml:"category"`
	Tests    []TestResult `json:"tests" yaml:"tests"`
}

// SensorResult is built by a single worker and not modified afterwards.
type SensorResult struct {
	Hostname      string           `json:"hostname" yaml:"hostname"`
	Address       string           `json:"ip_address" yaml:"ip_address"`
	ActiveAddress string           `json:"active_address,omitempty" yaml:"active_address,omitempty"`
	Categories    []CategoryResult `json:"categories" yaml:"categories"`
	StartedAt     time.Time        `json:"started_at" yaml:"started_at"`
	FinishedAt    time.Time        `json:"finished_at" yaml:"finished_at"`
}

// Results returns the category to tests view of the result.
func (r SensorResult) Results() map[string][]TestResult {
	out := make(map[string][]TestResult, len(r.Categories))
	for _, c := range r.Categories {
		out[c.Category] = c.Tests
	}
	return out
}

// Count returns the number of tests with the given status.
func (r SensorResult) Count(status Status) int {
	n := 0
	for _, c := range r.Categories {
		for _, t := range c.Tests {
			if t.Status == status {
				n++
			}
		}
	}
	return n
}

// FailoverRecord is written once both the original address and the
// prefix-swapped candidate have failed. No retry follows it.
type FailoverRecord struct {
	Hostname        string    `json:"hostname" yaml:"hostname"`
	OriginalAddress string    `json:"original_address" yaml:"original_address"`
	UpdatedAddress  string    `json:"updated_address" yaml:"updated_address"`
	Reason          string    `json:"reason" yaml:"reason"`
	TestName        string    `json:"test_name,omitempty" yaml:"test_name,omitempty"`
	Timestamp       time.Time `json:"timestamp" yaml:"timestamp"`
}
