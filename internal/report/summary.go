// internal/report/summary.go
package report

import (
	"sensorqa/internal/model"
)

// Summary holds run totals across all sensors.
type Summary struct {
	Sensors        int `json:"sensors" yaml:"sensors"`
	Passed         int `json:"passed" yaml:"passed"`
	Failed         int `json:"failed" yaml:"failed"`
	Incomplete     int `json:"incomplete" yaml:"incomplete"`
	FailoverEvents int `json:"failover_events" yaml:"failover_events"`
}

// Summarize counts verdicts. It does not modify its inputs.
func Summarize(results []model.SensorResult, events []model.FailoverRecord) Summary {
	s := Summary{
		Sensors:        len(results),
		FailoverEvents: len(events),
	}
	for _, r := range results {
		s.Passed += r.Count(model.StatusPassed)
		s.Failed += r.Count(model.StatusFailed)
		s.Incomplete += r.Count(model.StatusIncomplete)
	}
	return s
}

func (s Summary) Total() int {
	return s.Passed + s.Failed + s.Incomplete
}

// OK is false when anything failed, did not finish or needed an
// unresolved failover.
func (s Summary) OK() bool {
	return s.Failed == 0 && s.Incomplete == 0 && s.FailoverEvents == 0
}
