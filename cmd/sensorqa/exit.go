// cmd/sensorqa/exit.go
package main

import (
	"errors"
)

// Exit codes
const (
	ExitSuccess     = 0
	ExitConfigError = 1
	ExitFailures    = 2
)

var (
	errRunFailed   = errors.New("run finished with failed or incomplete tests")
	errUnreachable = errors.New("some sensors are unreachable")
)

// exitError carries the process exit code for an error. Quiet errors have
// already been reported to the user.
type exitError struct {
	code  int
	err   error
	quiet bool
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func configError(err error) error {
	return &exitError{code: ExitConfigError, err: err}
}

func failures(err error) error {
	return &exitError{code: ExitFailures, err: err, quiet: true}
}

func exitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	return ExitConfigError
}

func isQuiet(err error) bool {
	var e *exitError
	return errors.As(err, &e) && e.quiet
}
