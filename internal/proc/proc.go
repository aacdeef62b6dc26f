// Package proc runs external commands with an argument list, a hard timeout
// and captured output. Commands never inherit the caller's stdin or TTY.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// ErrTimeout is returned when a command outlives its Spec.Timeout.
var ErrTimeout = errors.New("process timed out")

// waitDelay bounds how long Wait keeps draining pipes after the process
// group was killed; orphaned grandchildren may still hold them open.
const waitDelay = 2 * time.Second

type Spec struct {
	Argv    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

type Output struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Runner abstracts command execution so handlers can be tested with fakes.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Output, error)
}

// Exec runs commands with os/exec in their own process group.
type Exec struct{}

// Run starts spec.Argv and waits for it. A non-zero exit status is reported
// through Output.ExitCode, not as an error. On timeout the whole process group
// is killed and the partial output is returned together with ErrTimeout.
func (Exec) Run(ctx context.Context, spec Spec) (Output, error) {
	if len(spec.Argv) == 0 {
		return Output{ExitCode: -1}, errors.New("empty command")
	}
	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdin = nil
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	isolate(cmd)

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Output{ExitCode: -1}, fmt.Errorf("start command: %w", err)
	}
	waitErr := cmd.Wait()
	out := Output{
		ExitCode: -1,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(started),
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return out, fmt.Errorf("%w after %s", ErrTimeout, spec.Timeout)
	}
	if ctx.Err() != nil {
		return out, fmt.Errorf("wait command: %w", ctx.Err())
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return out, nil
		}
		if errors.Is(waitErr, exec.ErrWaitDelay) {
			return out, nil
		}
		return out, fmt.Errorf("wait command: %w", waitErr)
	}
	return out, nil
}
