// internal/provision/checker.go
package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"sensorqa/internal/failover"
	"sensorqa/internal/model"
	"sensorqa/internal/remote"
)

type ToolFailure struct {
	Package string `json:"package" yaml:"package"`
	Error   string `json:"error" yaml:"error"`
}

// SensorTools is the tool inventory of one sensor. Missing tools were not
// installed because installation was not requested; Failed tools were
// attempted and are still absent.
type SensorTools struct {
	Hostname       string                `json:"hostname" yaml:"hostname"`
	Address        string                `json:"ip_address" yaml:"ip_address"`
	ActiveAddress  string                `json:"active_address,omitempty" yaml:"active_address,omitempty"`
	PackageManager PackageManager        `json:"package_manager,omitempty" yaml:"package_manager,omitempty"`
	Present        []string              `json:"present" yaml:"present"`
	Installed      []string              `json:"installed" yaml:"installed"`
	Missing        []string              `json:"missing" yaml:"missing"`
	Failed         []ToolFailure         `json:"failed,omitempty" yaml:"failed,omitempty"`
	Upgradable     []string              `json:"upgradable,omitempty" yaml:"upgradable,omitempty"`
	Failover       *model.FailoverRecord `json:"failover,omitempty" yaml:"failover,omitempty"`
	Error          string                `json:"error,omitempty" yaml:"error,omitempty"`
}

// OK reports whether every tool is on the sensor.
func (s SensorTools) OK() bool {
	return s.Error == "" && len(s.Missing) == 0 && len(s.Failed) == 0
}

// Checker inspects and optionally installs tools on sensors. Every remote
// call goes through the failover policy; the address that answered is kept
// for the rest of the sensor's calls.
type Checker struct {
	exec       remote.Executor
	policy     *failover.Policy
	install    bool
	upgradable bool
	workers    int
}

type Option func(*Checker)

func WithInstall(install bool) Option {
	return func(c *Checker) {
		c.install = install
	}
}

func WithUpgradable(list bool) Option {
	return func(c *Checker) {
		c.upgradable = list
	}
}

func WithWorkers(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.workers = n
		}
	}
}

func NewChecker(exec remote.Executor, policy *failover.Policy, opts ...Option) *Checker {
	c := &Checker{
		exec:    exec,
		policy:  policy,
		workers: 8,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckFleet checks every sensor with bounded concurrency. Results keep
// registry order.
func (c *Checker) CheckFleet(ctx context.Context, sensors []model.SensorEndpoint, tools []Tool) []SensorTools {
	results := make([]SensorTools, len(sensors))
	if len(sensors) == 0 {
		return results
	}
	limit := c.workers
	if len(sensors) < limit {
		limit = len(sensors)
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, sensor := range sensors {
		g.Go(func() error {
			results[i] = c.Check(ctx, sensor, tools)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// session tracks one sensor's active endpoint across calls.
type session struct {
	active model.SensorEndpoint
	res    *SensorTools
}

// call runs op through the failover policy. It returns false when the
// sensor could not be reached, after recording why.
func call[T any](ctx context.Context, p *failover.Policy, s *session, label string, op failover.Op[T]) (T, bool) {
	att := failover.Do(ctx, p, s.active, label, op)
	if att.OK() {
		if att.FailedOver {
			s.active = att.Endpoint
		}
		return att.Value, true
	}
	if att.Record != nil {
		s.res.Failover = att.Record
		s.res.Error = fmt.Sprintf("%s (%s)", att.Record.Reason, att.Record.UpdatedAddress)
	} else {
		s.res.Error = att.Err.Error()
	}
	var zero T
	return zero, false
}

func (c *Checker) Check(ctx context.Context, sensor model.SensorEndpoint, tools []Tool) SensorTools {
	res := SensorTools{
		Hostname: sensor.Hostname,
		Address:  sensor.Address,
	}
	s := &session{active: sensor, res: &res}
	c.check(ctx, s, tools)
	if s.active.Address != sensor.Address {
		res.ActiveAddress = s.active.Address
	}

	entry := logrus.WithFields(logrus.Fields{
		"host":      sensor.Hostname,
		"ip":        s.active.Address,
		"manager":   res.PackageManager,
		"present":   len(res.Present),
		"installed": len(res.Installed),
		"missing":   len(res.Missing) + len(res.Failed),
	})
	if res.Error != "" {
		entry.WithField("error", res.Error).Error("Tool check failed")
	} else {
		entry.Info("Tool check completed")
	}
	return res
}

func (c *Checker) check(ctx context.Context, s *session, tools []Tool) {
	mgr, ok := call(ctx, c.policy, s, "detect package manager", c.detect)
	if !ok {
		return
	}
	s.res.PackageManager = mgr

	var absent []Tool
	for _, t := range tools {
		present, ok := call(ctx, c.policy, s, "which "+t.Binary, c.present(t))
		if !ok {
			return
		}
		if present {
			s.res.Present = append(s.res.Present, t.Package)
		} else {
			absent = append(absent, t)
		}
	}

	switch {
	case len(absent) == 0:
	case !c.install:
		for _, t := range absent {
			s.res.Missing = append(s.res.Missing, t.Package)
		}
	case mgr == Unknown:
		for _, t := range absent {
			s.res.Failed = append(s.res.Failed, ToolFailure{Package: t.Package, Error: "no supported package manager"})
		}
	default:
		if !c.installAll(ctx, s, mgr, absent) {
			return
		}
	}

	if c.upgradable && mgr != Unknown {
		pkgs, ok := call(ctx, c.policy, s, "list upgradable packages", c.listUpgradable(mgr))
		if !ok {
			return
		}
		s.res.Upgradable = pkgs
	}
}

func (c *Checker) installAll(ctx context.Context, s *session, mgr PackageManager, absent []Tool) bool {
	out, ok := call(ctx, c.policy, s, "refresh package index", c.command(mgr.refreshCommand()))
	if !ok {
		return false
	}
	if !out.Success {
		logrus.WithFields(logrus.Fields{
			"host":    s.active.Hostname,
			"manager": mgr,
			"stderr":  firstLine(out.Stderr),
		}).Warn("Package index refresh reported errors")
	}

	for _, t := range absent {
		out, ok := call(ctx, c.policy, s, "install "+t.Package, c.command(mgr.installCommand(t.Package)))
		if !ok {
			return false
		}
		present, ok := call(ctx, c.policy, s, "which "+t.Binary, c.present(t))
		if !ok {
			return false
		}
		if present {
			s.res.Installed = append(s.res.Installed, t.Package)
			continue
		}
		msg := firstLine(out.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("%s not found after install", t.Binary)
		}
		s.res.Failed = append(s.res.Failed, ToolFailure{Package: t.Package, Error: msg})
	}
	return true
}

func (c *Checker) detect(ctx context.Context, ep model.SensorEndpoint) (PackageManager, error) {
	out := c.exec.Execute(ctx, ep, DetectCommand)
	if out.Err != nil {
		return Unknown, out.Err
	}
	return ManagerFromPath(out.Stdout), nil
}

func (c *Checker) present(t Tool) failover.Op[bool] {
	return func(ctx context.Context, ep model.SensorEndpoint) (bool, error) {
		out := c.exec.Execute(ctx, ep, presenceCommand(t))
		if out.Err != nil {
			return false, out.Err
		}
		return strings.TrimSpace(out.Stdout) != "", nil
	}
}

func (c *Checker) command(command string) failover.Op[model.CommandOutcome] {
	return func(ctx context.Context, ep model.SensorEndpoint) (model.CommandOutcome, error) {
		out := c.exec.Execute(ctx, ep, command)
		return out, out.Err
	}
}

func (c *Checker) listUpgradable(mgr PackageManager) failover.Op[[]string] {
	return func(ctx context.Context, ep model.SensorEndpoint) ([]string, error) {
		out := c.exec.Execute(ctx, ep, mgr.upgradableCommand())
		if out.Err != nil {
			return nil, out.Err
		}
		return ParseUpgradable(mgr, out.Stdout), nil
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
