// internal/remote/executor.go
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/time/rate"

	"sensorqa/internal/model"
)

// Transport failure classes. They are carried in CommandOutcome.Err and are
// the only failures the failover policy reacts to.
var (
	ErrDial    = errors.New("ssh dial failed")
	ErrAuth    = errors.New("ssh authentication failed")
	ErrSession = errors.New("ssh session failed")
)

// Executor runs one command on one sensor. Implementations never return Go
// errors: every failure is folded into the outcome.
type Executor interface {
	Execute(ctx context.Context, endpoint model.SensorEndpoint, command string) model.CommandOutcome
}

type SSHConfig struct {
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	DialRate       float64
	DialBurst      int
	KnownHostsFile string
	KeyFile        string
}

// SSHExecutor opens a fresh client and session for every call.
type SSHExecutor struct {
	creds           CredentialSource
	connectTimeout  time.Duration
	commandTimeout  time.Duration
	limiter         *rate.Limiter
	hostKeyCallback ssh.HostKeyCallback
	signer          ssh.Signer
}

func NewSSHExecutor(cfg SSHConfig, creds CredentialSource) (*SSHExecutor, error) {
	e := &SSHExecutor{
		creds:           creds,
		connectTimeout:  cfg.ConnectTimeout,
		commandTimeout:  cfg.CommandTimeout,
		hostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}
	if e.connectTimeout <= 0 {
		e.connectTimeout = 20 * time.Second
	}

	if cfg.DialRate > 0 {
		burst := cfg.DialBurst
		if burst <= 0 {
			burst = int(cfg.DialRate)
			if burst < 1 {
				burst = 1
			}
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.DialRate), burst)
	}

	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		e.hostKeyCallback = cb
	}

	if cfg.KeyFile != "" {
		pem, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		e.signer = signer
	}

	return e, nil
}

func (e *SSHExecutor) Execute(ctx context.Context, endpoint model.SensorEndpoint, command string) model.CommandOutcome {
	start := time.Now()
	out := e.execute(ctx, endpoint, command)
	out.Duration = time.Since(start)

	fields := logrus.Fields{
		"host":     endpoint.Hostname,
		"ip":       endpoint.Address,
		"duration": out.Duration,
	}
	switch {
	case out.Err != nil:
		logrus.WithFields(fields).WithError(out.Err).Warn("Remote command did not run")
	case !out.Success:
		logrus.WithFields(fields).WithField("stderr", strings.TrimSpace(out.Stderr)).Debug("Remote command wrote to stderr")
	default:
		logrus.WithFields(fields).Debug("Remote command executed")
	}
	return out
}

func (e *SSHExecutor) execute(ctx context.Context, endpoint model.SensorEndpoint, command string) model.CommandOutcome {
	if e.limiter != nil {
		// Wait fails early when the next token falls past the deadline. No
		// dial happened, so report cancellation once the context ends.
		if err := e.limiter.Wait(ctx); err != nil {
			<-ctx.Done()
			return model.TransportFailure(fmt.Errorf("%w: %w", ErrSession, ctx.Err()))
		}
	}

	client, err := e.connect(ctx, endpoint)
	if err != nil {
		return model.TransportFailure(err)
	}
	defer client.Close()

	runCtx := ctx
	if e.commandTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.commandTimeout)
		defer cancel()
	}
	// Closing the client is the only way to interrupt a running command.
	stop := context.AfterFunc(runCtx, func() { _ = client.Close() })
	defer stop()

	session, err := client.NewSession()
	if err != nil {
		return model.TransportFailure(fmt.Errorf("%w: %v", ErrSession, err))
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runErr := session.Run(command)

	if ctx.Err() != nil {
		out := model.TransportFailure(fmt.Errorf("%w: %w", ErrSession, ctx.Err()))
		out.Stdout = stdout.String()
		return out
	}
	if runCtx.Err() != nil {
		msg := stderr.String()
		if msg != "" && !strings.HasSuffix(msg, "\n") {
			msg += "\n"
		}
		msg += fmt.Sprintf("command timed out after %s", e.commandTimeout)
		return model.NewOutcome(stdout.String(), msg)
	}
	if runErr != nil {
		// A non-zero exit status is not a failure signal on its own.
		var exitErr *ssh.ExitError
		if !errors.As(runErr, &exitErr) {
			out := model.TransportFailure(fmt.Errorf("%w: %v", ErrSession, runErr))
			out.Stdout = stdout.String()
			return out
		}
	}
	return model.NewOutcome(stdout.String(), stderr.String())
}

func (e *SSHExecutor) connect(ctx context.Context, endpoint model.SensorEndpoint) (*ssh.Client, error) {
	auth, err := e.authMethods(endpoint)
	if err != nil {
		return nil, err
	}
	config := &ssh.ClientConfig{
		User:            endpoint.Username,
		Auth:            auth,
		HostKeyCallback: e.hostKeyCallback,
		Timeout:         e.connectTimeout,
	}

	addr := endpoint.DialAddress()
	dialer := net.Dialer{Timeout: e.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDial, err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetDeadline(time.Now().Add(e.connectTimeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, fmt.Errorf("%w: %v", ErrAuth, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDial, err)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (e *SSHExecutor) authMethods(endpoint model.SensorEndpoint) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if e.signer != nil {
		methods = append(methods, ssh.PublicKeys(e.signer))
	}
	if e.creds != nil {
		if secret, ok := e.creds.Secret(endpoint.CredentialRef); ok {
			methods = append(methods,
				ssh.Password(secret),
				ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
					answers := make([]string, len(questions))
					for i := range answers {
						answers[i] = secret
					}
					return answers, nil
				}),
			)
		}
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: no credential available for ref %q", ErrAuth, endpoint.CredentialRef)
	}
	return methods, nil
}
