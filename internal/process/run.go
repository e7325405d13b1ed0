package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Result is the outcome of a synchronous invocation.
type Result struct {
	Command  []string
	Output   string // stdout and stderr, interleaved as written
	ExitCode int
	Duration time.Duration
}

// RunSync runs spec to completion and captures its merged output. A
// non-zero exit yields the Result together with an *ExitError. Cancelling
// ctx kills the whole process group.
func RunSync(ctx context.Context, spec Spec) (Result, error) {
	if err := spec.Validate(); err != nil {
		return Result{ExitCode: -1}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cmd := spec.BuildCommand(ctx)
	cmd.Cancel = func() error { return killGroup(cmd.Process.Pid) }
	cmd.WaitDelay = spec.killTimeout()

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Command:  cmd.Args,
		Output:   buf.String(),
		ExitCode: -1,
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err == nil {
		return res, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) && ctx.Err() == nil {
		return res, &ExitError{Command: res.Command, ExitCode: res.ExitCode, Output: res.Output}
	}
	return res, fmt.Errorf("run %s: %w", strings.Join(res.Command, " "), err)
}
