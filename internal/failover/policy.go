// internal/failover/policy.go
package failover

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"sensorqa/internal/model"
	"sensorqa/internal/probe"
)

const (
	ReasonNoCandidate = "no alternate prefix for address"
	ReasonUnreachable = "unreachable after prefix swap"
	ReasonRetryFailed = "command failed after prefix swap"
	DefaultPrimary    = "10.8"
	DefaultAlternate  = "10.3"
)

var ErrNoCandidate = errors.New(ReasonNoCandidate)

// Policy retries a failed operation once against the address obtained by
// swapping the first two octets between two overlay prefixes. Sensors are
// dual-homed and sometimes registered under the wrong overlay.
type Policy struct {
	prefixA string
	prefixB string
	prober  probe.Prober
	log     *Log
	enabled bool
}

type Option func(*Policy)

func WithPrefixes(a, b string) Option {
	return func(p *Policy) {
		if a != "" && b != "" {
			p.prefixA = strings.TrimSuffix(a, ".")
			p.prefixB = strings.TrimSuffix(b, ".")
		}
	}
}

func WithLog(l *Log) Option {
	return func(p *Policy) {
		if l != nil {
			p.log = l
		}
	}
}

// Disabled turns the policy into a pass-through: failures are returned
// unchanged and nothing is recorded.
func Disabled() Option {
	return func(p *Policy) {
		p.enabled = false
	}
}

func NewPolicy(prober probe.Prober, opts ...Option) *Policy {
	p := &Policy{
		prefixA: DefaultPrimary,
		prefixB: DefaultAlternate,
		prober:  prober,
		log:     NewLog(),
		enabled: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Log returns the shared record log the policy appends to.
func (p *Policy) Log() *Log {
	return p.log
}

// Candidate derives the alternate endpoint. The argument is not modified.
func (p *Policy) Candidate(endpoint model.SensorEndpoint) (model.SensorEndpoint, error) {
	addr, err := SwapPrefix(endpoint.Address, p.prefixA, p.prefixB)
	if err != nil {
		return endpoint, err
	}
	return endpoint.WithAddress(addr), nil
}

// SwapPrefix replaces the first two octets of an IPv4 address: a <-> b.
func SwapPrefix(address, a, b string) (string, error) {
	ip := net.ParseIP(address)
	if ip == nil || ip.To4() == nil {
		return "", fmt.Errorf("%w: %q is not IPv4", ErrNoCandidate, address)
	}
	parts := strings.Split(ip.To4().String(), ".")
	prefix := parts[0] + "." + parts[1]

	var target string
	switch prefix {
	case a:
		target = b
	case b:
		target = a
	default:
		return "", fmt.Errorf("%w: %s", ErrNoCandidate, address)
	}
	octets := strings.SplitN(target, ".", 2)
	if len(octets) != 2 {
		return "", fmt.Errorf("%w: malformed prefix %q", ErrNoCandidate, target)
	}
	parts[0], parts[1] = octets[0], octets[1]
	return strings.Join(parts, "."), nil
}

// Op is one remote operation against an endpoint. A non-nil error is the
// failure signal that triggers failover.
type Op[T any] func(ctx context.Context, endpoint model.SensorEndpoint) (T, error)

// Attempt describes how an operation concluded.
type Attempt[T any] struct {
	Value      T
	Endpoint   model.SensorEndpoint
	FailedOver bool
	Record     *model.FailoverRecord
	Err        error
	Attempts   int
}

// OK reports whether the final attempt succeeded.
func (a Attempt[T]) OK() bool {
	return a.Err == nil
}

// Do runs op against endpoint and, on failure, at most once more against the
// prefix-swapped candidate. The caller's endpoint is never modified.
func Do[T any](ctx context.Context, p *Policy, endpoint model.SensorEndpoint, label string, op Op[T]) Attempt[T] {
	value, err := op(ctx, endpoint)
	att := Attempt[T]{Value: value, Endpoint: endpoint, Err: err, Attempts: 1}
	if err == nil || !p.enabled || ctx.Err() != nil {
		return att
	}

	fields := logrus.Fields{
		"host": endpoint.Hostname,
		"ip":   endpoint.Address,
		"test": label,
	}
	logrus.WithFields(fields).WithError(err).Warn("First attempt failed")

	candidate, cerr := p.Candidate(endpoint)
	if cerr != nil {
		att.Record = p.record(endpoint, endpoint.Address, ReasonNoCandidate, label)
		return att
	}

	reachable, diag := p.prober.Probe(ctx, candidate.Address)
	if ctx.Err() != nil {
		return att
	}
	if !reachable {
		logrus.WithFields(fields).WithFields(logrus.Fields{
			"candidate": candidate.Address,
			"probe":     diag,
		}).Error("Candidate address is not reachable")
		att.Record = p.record(endpoint, candidate.Address, ReasonUnreachable, label)
		return att
	}

	value, err = op(ctx, candidate)
	att = Attempt[T]{Value: value, Endpoint: candidate, FailedOver: true, Err: err, Attempts: 2}
	if err == nil {
		logrus.WithFields(fields).WithField("candidate", candidate.Address).Info("Recovered via prefix swap")
		return att
	}
	if ctx.Err() != nil {
		return att
	}
	logrus.WithFields(fields).WithField("candidate", candidate.Address).WithError(err).Error("Retry attempt failed")
	att.Record = p.record(endpoint, candidate.Address, ReasonRetryFailed, label)
	return att
}

func (p *Policy) record(endpoint model.SensorEndpoint, updated, reason, label string) *model.FailoverRecord {
	rec := model.FailoverRecord{
		Hostname:        endpoint.Hostname,
		OriginalAddress: endpoint.Address,
		UpdatedAddress:  updated,
		Reason:          reason,
		TestName:        label,
		Timestamp:       time.Now(),
	}
	p.log.Append(rec)
	return &rec
}
