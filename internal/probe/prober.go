// internal/probe/prober.go
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	MethodICMP = "icmp"
	MethodTCP  = "tcp"
)

// Prober answers whether an address is reachable within a bounded time.
// A timeout is reported as unreachable, never as an error.
type Prober interface {
	Probe(ctx context.Context, address string) (reachable bool, diagnostic string)
}

// New returns the prober for a configured method.
func New(method string, timeout time.Duration, tcpPort int) (Prober, error) {
	switch strings.ToLower(method) {
	case "", MethodICMP:
		return &ICMPProber{Timeout: timeout}, nil
	case MethodTCP:
		return &TCPProber{Timeout: timeout, Port: tcpPort}, nil
	default:
		return nil, fmt.Errorf("unknown probe method %q", method)
	}
}

var (
	lossRegex = regexp.MustCompile(`(\d+(?:\.\d+)?)% packet loss`)
	rttRegex  = regexp.MustCompile(`= [\d.]+/([\d.]+)/`)
)

// ICMPProber sends a single echo request through the system ping binary.
type ICMPProber struct {
	Timeout time.Duration
	Binary  string
}

func (p *ICMPProber) Probe(ctx context.Context, address string) (bool, string) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	binary := p.Binary
	if binary == "" {
		binary = "ping"
	}
	wait := int(timeout.Seconds())
	if wait < 1 {
		wait = 1
	}

	// One extra second lets ping report its own timeout before we kill it.
	ctx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, "-c", "1", "-W", strconv.Itoa(wait), address)
	output, err := cmd.CombinedOutput()
	text := string(output)

	if ctx.Err() != nil {
		return false, fmt.Sprintf("ping %s timed out after %s", address, timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, fmt.Sprintf("ping %s failed: %s", address, summarize(text))
		}
		return false, fmt.Sprintf("ping %s could not run: %v", address, err)
	}

	diag := fmt.Sprintf("ping %s ok", address)
	if m := rttRegex.FindStringSubmatch(text); len(m) > 1 {
		diag += fmt.Sprintf(" rtt=%sms", m[1])
	}
	if m := lossRegex.FindStringSubmatch(text); len(m) > 1 {
		diag += fmt.Sprintf(" loss=%s%%", m[1])
	}
	logrus.WithFields(logrus.Fields{
		"ip":     address,
		"result": diag,
	}).Debug("ICMP probe")
	return true, diag
}

func summarize(output string) string {
	if m := lossRegex.FindString(output); m != "" {
		return m
	}
	output = strings.TrimSpace(output)
	if i := strings.LastIndex(output, "\n"); i >= 0 {
		output = output[i+1:]
	}
	if output == "" {
		return "no reply"
	}
	return output
}

// TCPProber performs one TCP connect, by default to the SSH port.
type TCPProber struct {
	Timeout time.Duration
	Port    int
}

func (p *TCPProber) Probe(ctx context.Context, address string) (bool, string) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	port := p.Port
	if port == 0 {
		port = 22
	}
	target := net.JoinHostPort(address, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: timeout}
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return false, fmt.Sprintf("tcp connect %s timed out after %s", target, timeout)
		}
		return false, fmt.Sprintf("tcp connect %s failed: %v", target, err)
	}
	_ = conn.Close()
	return true, fmt.Sprintf("tcp connect %s ok in %s", target, time.Since(start).Round(time.Millisecond))
}

// StaticProber answers from a fixed table. Unknown addresses are unreachable.
type StaticProber struct {
	mu        sync.Mutex
	reachable map[string]bool
	probes    []string
}

func NewStaticProber(reachable map[string]bool) *StaticProber {
	copied := make(map[string]bool, len(reachable))
	for k, v := range reachable {
		copied[k] = v
	}
	return &StaticProber{reachable: copied}
}

func (p *StaticProber) Probe(_ context.Context, address string) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes = append(p.probes, address)
	if p.reachable[address] {
		return true, "reachable"
	}
	return false, "unreachable"
}

// Probes returns the addresses probed so far, in order.
func (p *StaticProber) Probes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.probes...)
}
