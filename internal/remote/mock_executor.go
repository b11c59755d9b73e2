// internal/remote/mock_executor.go
package remote

import (
	"context"
	"sync"
	"time"

	"sensorqa/internal/model"
)

// MockExecutor returns scripted outcomes. Lookups try address+command, then
// any command on the address, then the command on any address, then the
// catch-all entry.
type MockExecutor struct {
	mu      sync.Mutex
	scripts map[mockKey]MockResult
	calls   []MockCall
}

type MockResult struct {
	Stdout string
	Stderr string
	Err    error
	Delay  time.Duration
}

type MockCall struct {
	Address string
	Command string
}

type mockKey struct {
	address string
	command string
}

func NewMockExecutor() *MockExecutor {
	return &MockExecutor{scripts: map[mockKey]MockResult{}}
}

// Set scripts a result. An empty address or command acts as a wildcard.
func (m *MockExecutor) Set(address, command string, res MockResult) {
	m.mu.Lock()
	m.scripts[mockKey{address, command}] = res
	m.mu.Unlock()
}

func (m *MockExecutor) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallsTo counts calls made against one address.
func (m *MockExecutor) CallsTo(address string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Address == address {
			n++
		}
	}
	return n
}

func (m *MockExecutor) Execute(ctx context.Context, endpoint model.SensorEndpoint, command string) model.CommandOutcome {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Address: endpoint.Address, Command: command})
	r, ok := m.scripts[mockKey{endpoint.Address, command}]
	if !ok {
		r, ok = m.scripts[mockKey{endpoint.Address, ""}]
	}
	if !ok {
		r, ok = m.scripts[mockKey{"", command}]
	}
	if !ok {
		r, ok = m.scripts[mockKey{}]
	}
	m.mu.Unlock()

	if !ok {
		return model.NewOutcome("", "mock: no script for command")
	}
	if r.Delay > 0 {
		select {
		case <-ctx.Done():
			return model.TransportFailure(ctx.Err())
		case <-time.After(r.Delay):
		}
	}
	if r.Err != nil {
		return model.TransportFailure(r.Err)
	}
	return model.NewOutcome(r.Stdout, r.Stderr)
}
