package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"sensorqa/internal/model"
)

type execHandler func(command string) (stdout, stderr string, status uint32)

// startSSHServer runs a minimal exec-only SSH server on loopback.
func startSSHServer(t *testing.T, password string, handler execHandler) model.SensorEndpoint {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg, handler)
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return model.SensorEndpoint{Hostname: "S1", Address: host, Port: port, Username: "sensorz"}
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig, handler execHandler) {
	defer conn.Close()
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range requests {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				_ = ssh.Unmarshal(req.Payload, &payload)
				_ = req.Reply(true, nil)
				stdout, stderr, status := handler(payload.Command)
				_, _ = io.WriteString(ch, stdout)
				_, _ = io.WriteString(ch.Stderr(), stderr)
				_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				return
			}
		}()
	}
}

func newTestExecutor(t *testing.T, cfg SSHConfig, secret string) *SSHExecutor {
	t.Helper()
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	exec, err := NewSSHExecutor(cfg, NewStaticCredentials(map[string]string{"PASSWORD_SENSORZ": secret}, "PASSWORD_SENSORZ"))
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	return exec
}

func TestSSHExecutorSuccessPredicate(t *testing.T) {
	ep := startSSHServer(t, "sensorz1234", func(cmd string) (string, string, uint32) {
		switch cmd {
		case "echo ok":
			return "ok\n", "", 0
		case "cat /root/secret":
			return "ok\n", "permission denied\n", 1
		case "false":
			return "", "", 1
		}
		return "", "unknown command\n", 127
	})
	exec := newTestExecutor(t, SSHConfig{}, "sensorz1234")

	cases := []struct {
		cmd     string
		success bool
		stdout  string
	}{
		{"echo ok", true, "ok\n"},
		{"cat /root/secret", false, "ok\n"},
		{"false", true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.cmd, func(t *testing.T) {
			out := exec.Execute(context.Background(), ep, tc.cmd)
			if out.Err != nil {
				t.Fatalf("unexpected transport error: %v", out.Err)
			}
			if out.Success != tc.success {
				t.Fatalf("success = %v, want %v (stderr %q)", out.Success, tc.success, out.Stderr)
			}
			if out.Stdout != tc.stdout {
				t.Fatalf("stdout = %q, want %q", out.Stdout, tc.stdout)
			}
		})
	}
}

func TestSSHExecutorAuthFailure(t *testing.T) {
	ep := startSSHServer(t, "right", func(string) (string, string, uint32) { return "ok", "", 0 })
	exec := newTestExecutor(t, SSHConfig{}, "wrong")

	out := exec.Execute(context.Background(), ep, "echo ok")
	if out.Success {
		t.Fatal("expected failure")
	}
	if !errors.Is(out.Err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", out.Err)
	}
	if out.Stderr == "" {
		t.Fatal("error text must be surfaced in stderr")
	}
}

func TestSSHExecutorMissingCredential(t *testing.T) {
	ep := model.SensorEndpoint{Hostname: "S1", Address: "127.0.0.1", Username: "sensorz", CredentialRef: "OTHER"}
	exec, err := NewSSHExecutor(SSHConfig{}, NewStaticCredentials(nil, ""))
	if err != nil {
		t.Fatal(err)
	}
	out := exec.Execute(context.Background(), ep, "echo ok")
	if !errors.Is(out.Err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", out.Err)
	}
}

func TestSSHExecutorDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ln.Close()

	exec := newTestExecutor(t, SSHConfig{}, "x")
	out := exec.Execute(context.Background(), model.SensorEndpoint{Hostname: "S1", Address: host, Port: port, Username: "u"}, "echo ok")
	if !errors.Is(out.Err, ErrDial) {
		t.Fatalf("expected ErrDial, got %v", out.Err)
	}
}

func TestSSHExecutorCommandTimeoutIsCommandFailure(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	ep := startSSHServer(t, "pw", func(string) (string, string, uint32) {
		<-release
		return "", "", 0
	})
	exec := newTestExecutor(t, SSHConfig{CommandTimeout: 200 * time.Millisecond}, "pw")

	out := exec.Execute(context.Background(), ep, "sleep 60")
	if out.Err != nil {
		t.Fatalf("timeout must not be a transport failure: %v", out.Err)
	}
	if out.Success || !strings.Contains(out.Stderr, "timed out") {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestSSHExecutorCancelledContext(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	ep := startSSHServer(t, "pw", func(string) (string, string, uint32) {
		<-release
		return "", "", 0
	})
	exec := newTestExecutor(t, SSHConfig{}, "pw")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	out := exec.Execute(ctx, ep, "sleep 60")
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", out.Err)
	}
}

func TestMockExecutorLookupOrder(t *testing.T) {
	m := NewMockExecutor()
	m.Set("10.8.0.5", "uptime", MockResult{Stdout: "exact"})
	m.Set("10.8.0.5", "", MockResult{Stdout: "address"})
	m.Set("", "uptime", MockResult{Stdout: "command"})
	m.Set("10.3.0.5", "", MockResult{Err: ErrDial})

	ep := model.SensorEndpoint{Address: "10.8.0.5"}
	if out := m.Execute(context.Background(), ep, "uptime"); out.Stdout != "exact" {
		t.Fatalf("got %q", out.Stdout)
	}
	if out := m.Execute(context.Background(), ep, "df"); out.Stdout != "address" {
		t.Fatalf("got %q", out.Stdout)
	}
	if out := m.Execute(context.Background(), ep.WithAddress("10.9.0.1"), "uptime"); out.Stdout != "command" {
		t.Fatalf("got %q", out.Stdout)
	}
	if out := m.Execute(context.Background(), ep.WithAddress("10.3.0.5"), "uptime"); !errors.Is(out.Err, ErrDial) {
		t.Fatalf("expected dial error, got %v", out.Err)
	}
	if m.CallsTo("10.8.0.5") != 2 {
		t.Fatalf("unexpected call count %d", m.CallsTo("10.8.0.5"))
	}
}

func TestSSHExecutorDialPacingPastDeadlineIsCancellation(t *testing.T) {
	exec := newTestExecutor(t, SSHConfig{DialRate: 0.05, DialBurst: 1}, "x")
	// Spend the only token so the next call must wait twenty seconds.
	if !exec.limiter.Allow() {
		t.Fatal("expected an initial token")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	start := time.Now()
	out := exec.Execute(ctx, model.SensorEndpoint{Hostname: "S5", Address: "10.8.0.5", Username: "u"}, "echo ok")

	if errors.Is(out.Err, ErrDial) {
		t.Fatalf("pacing must not look like a dial failure: %v", out.Err)
	}
	if !errors.Is(out.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", out.Err)
	}
	if ctx.Err() == nil {
		t.Fatal("outcome returned before the context ended")
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("returned after %s, before the deadline", elapsed)
	}
}
