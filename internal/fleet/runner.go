// internal/fleet/runner.go
package fleet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"sensorqa/internal/failover"
	"sensorqa/internal/model"
	"sensorqa/internal/remote"
)

const DefaultWorkers = 8

// Observer receives run events as they happen. Calls come from worker
// goroutines concurrently; implementations must be safe for that.
type Observer interface {
	TestCompleted(sensor model.SensorEndpoint, category string, result model.TestResult)
	FailoverRecorded(record model.FailoverRecord)
	SensorCompleted(result model.SensorResult)
}

// Runner executes a test catalog against a set of sensors.
type Runner struct {
	exec      remote.Executor
	policy    *failover.Policy
	workers   int
	timeout   time.Duration
	observers []Observer
}

type Option func(*Runner)

func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithTimeout bounds a whole run. Tests that have not finished when it
// expires are reported Incomplete.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithObserver(o Observer) Option {
	return func(r *Runner) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

func NewRunner(exec remote.Executor, policy *failover.Policy, opts ...Option) *Runner {
	r := &Runner{
		exec:    exec,
		policy:  policy,
		workers: DefaultWorkers,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the failover policy, whose log holds the run's records.
func (r *Runner) Policy() *failover.Policy {
	return r.policy
}

// Run returns exactly one result per sensor, in registry order, each holding
// exactly one test result per catalog definition.
func (r *Runner) Run(ctx context.Context, sensors []model.SensorEndpoint, catalog *model.Catalog) []model.SensorResult {
	results := make([]model.SensorResult, len(sensors))
	if len(sensors) == 0 {
		return results
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	limit := r.workers
	if len(sensors) < limit {
		limit = len(sensors)
	}

	logrus.WithFields(logrus.Fields{
		"sensors": len(sensors),
		"tests":   catalog.Len(),
		"workers": limit,
	}).Info("Starting fleet run")

	var g errgroup.Group
	g.SetLimit(limit)
	for i, sensor := range sensors {
		g.Go(func() error {
			results[i] = r.runSensor(ctx, sensor, catalog)
			r.sensorCompleted(results[i])
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (r *Runner) runSensor(ctx context.Context, sensor model.SensorEndpoint, catalog *model.Catalog) model.SensorResult {
	res := model.SensorResult{
		Hostname:   sensor.Hostname,
		Address:    sensor.Address,
		Categories: make([]model.CategoryResult, 0, len(catalog.Categories)),
		StartedAt:  time.Now(),
	}

	// active is this worker's copy; it moves to the candidate after a
	// successful failover and stays there for the remaining tests.
	active := sensor
	var terminal *model.FailoverRecord

	for _, cat := range catalog.Categories {
		cr := model.CategoryResult{
			Category: cat.Name,
			Tests:    make([]model.TestResult, 0, len(cat.Tests)),
		}
		for _, def := range cat.Tests {
			var tr model.TestResult
			switch {
			case ctx.Err() != nil:
				tr = incomplete(def, ctx.Err())
			case terminal != nil:
				tr = model.TestResult{
					TestName: def.Name,
					Status:   model.StatusFailed,
					Error:    fmt.Sprintf("not run: %s (%s)", terminal.Reason, terminal.UpdatedAddress),
				}
			default:
				var rec *model.FailoverRecord
				tr, active, rec = r.runTest(ctx, active, def)
				if rec != nil {
					terminal = rec
					r.failoverRecorded(*rec)
				}
			}

			logrus.WithFields(logrus.Fields{
				"host":     sensor.Hostname,
				"ip":       active.Address,
				"category": cat.Name,
				"test":     def.Name,
				"status":   tr.Status,
				"duration": tr.Duration,
			}).Info("Test completed")

			cr.Tests = append(cr.Tests, tr)
			r.testCompleted(active, cat.Name, tr)
		}
		res.Categories = append(res.Categories, cr)
	}

	if active.Address != sensor.Address {
		res.ActiveAddress = active.Address
	}
	res.FinishedAt = time.Now()
	return res
}

// runTest executes one definition through the failover policy and returns
// the verdict, the endpoint to use next and a terminal record if one was
// produced.
func (r *Runner) runTest(ctx context.Context, active model.SensorEndpoint, def model.TestDefinition) (model.TestResult, model.SensorEndpoint, *model.FailoverRecord) {
	start := time.Now()
	att := failover.Do(ctx, r.policy, active, def.Name, func(ctx context.Context, ep model.SensorEndpoint) (model.CommandOutcome, error) {
		out := r.exec.Execute(ctx, ep, def.Render(ep))
		return out, out.Err
	})
	out := att.Value

	tr := model.TestResult{
		TestName: def.Name,
		Output:   out.Stdout,
		Error:    out.Stderr,
	}
	switch {
	case out.Success:
		tr.Status = model.StatusPassed
	case ctx.Err() != nil:
		tr.Status = model.StatusIncomplete
		if tr.Error == "" {
			tr.Error = ctx.Err().Error()
		}
	default:
		tr.Status = model.StatusFailed
	}

	next := active
	if att.FailedOver && att.OK() {
		next = att.Endpoint
	}

	if def.LogCheck != "" && att.OK() && ctx.Err() == nil {
		lc := r.exec.Execute(ctx, att.Endpoint, def.RenderLogCheck(att.Endpoint))
		tr.LogOutput = logOutput(lc)
	}

	tr.Duration = time.Since(start)
	return tr, next, att.Record
}

func logOutput(out model.CommandOutcome) string {
	if out.Stderr == "" {
		return out.Stdout
	}
	if out.Stdout == "" {
		return out.Stderr
	}
	return strings.TrimRight(out.Stdout, "\n") + "\n" + out.Stderr
}

func incomplete(def model.TestDefinition, err error) model.TestResult {
	return model.TestResult{
		TestName: def.Name,
		Status:   model.StatusIncomplete,
		Error:    fmt.Sprintf("not run: %v", err),
	}
}

func (r *Runner) testCompleted(sensor model.SensorEndpoint, category string, tr model.TestResult) {
	for _, o := range r.observers {
		o.TestCompleted(sensor, category, tr)
	}
}

func (r *Runner) failoverRecorded(rec model.FailoverRecord) {
	for _, o := range r.observers {
		o.FailoverRecorded(rec)
	}
}

func (r *Runner) sensorCompleted(res model.SensorResult) {
	for _, o := range r.observers {
		o.SensorCompleted(res)
	}
}
