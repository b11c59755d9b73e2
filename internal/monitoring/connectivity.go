// internal/monitoring/connectivity.go
package monitoring

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"sensorqa/internal/failover"
	"sensorqa/internal/model"
	"sensorqa/internal/probe"
)

type Reachability string

const (
	Reachable             Reachability = "reachable"
	ReachableViaCandidate Reachability = "reachable_via_candidate"
	Unreachable           Reachability = "unreachable"
)

// ConnectivityResult is the outcome of probing one sensor.
type ConnectivityResult struct {
	Hostname   string       `json:"hostname" yaml:"hostname"`
	Address    string       `json:"ip_address" yaml:"ip_address"`
	Candidate  string       `json:"candidate,omitempty" yaml:"candidate,omitempty"`
	Status     Reachability `json:"status" yaml:"status"`
	Diagnostic string       `json:"diagnostic" yaml:"diagnostic"`
}

// CheckConnectivity probes every sensor and, when the registered address
// does not answer, its prefix-swapped candidate. Results keep registry order.
func CheckConnectivity(ctx context.Context, sensors []model.SensorEndpoint, prober probe.Prober, policy *failover.Policy, workers int) []ConnectivityResult {
	results := make([]ConnectivityResult, len(sensors))
	if len(sensors) == 0 {
		return results
	}
	if workers <= 0 || workers > len(sensors) {
		workers = len(sensors)
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, sensor := range sensors {
		g.Go(func() error {
			results[i] = checkOne(ctx, sensor, prober, policy)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func checkOne(ctx context.Context, sensor model.SensorEndpoint, prober probe.Prober, policy *failover.Policy) ConnectivityResult {
	res := ConnectivityResult{
		Hostname: sensor.Hostname,
		Address:  sensor.Address,
		Status:   Unreachable,
	}

	ok, diag := prober.Probe(ctx, sensor.Address)
	res.Diagnostic = diag
	if ok {
		res.Status = Reachable
		return res
	}

	fields := logrus.Fields{
		"host": sensor.Hostname,
		"ip":   sensor.Address,
	}
	candidate, err := policy.Candidate(sensor)
	if err != nil {
		logrus.WithFields(fields).WithField("probe", diag).Warn("Sensor unreachable, no alternate prefix")
		return res
	}
	res.Candidate = candidate.Address

	ok, candDiag := prober.Probe(ctx, candidate.Address)
	if ok {
		res.Status = ReachableViaCandidate
		res.Diagnostic = candDiag
		logrus.WithFields(fields).WithField("candidate", candidate.Address).Warn("Sensor only reachable on alternate prefix")
		return res
	}
	res.Diagnostic = diag + "; " + candDiag
	logrus.WithFields(fields).WithField("candidate", candidate.Address).Error("Sensor unreachable on both prefixes")
	return res
}

// CountUnreachable returns how many sensors answered on neither address.
func CountUnreachable(results []ConnectivityResult) int {
	n := 0
	for _, r := range results {
		if r.Status == Unreachable {
			n++
		}
	}
	return n
}
