package build

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/polybuild/internal/history"
	"github.com/loykin/polybuild/internal/metrics"
	"github.com/loykin/polybuild/internal/process"
)

// ErrNotRunnable is returned by Run for models built as libraries or
// objects.
var ErrNotRunnable = errors.New("model output is not runnable")

// RunResult is the outcome of one model run. A non-zero exit is reported
// here rather than as an error from Run.
type RunResult struct {
	PID      int
	ExitCode int
	Err      error
	Lines    int
	Killed   bool
	Duration time.Duration
}

// Command returns the argv that runs the built model with args appended.
func (o *Orchestrator) Command(args ...string) ([]string, error) {
	if o.State() != Built {
		return nil, ErrNotBuilt
	}
	if o.lang.Kind == Interpreted {
		o.mu.Lock()
		interp := o.interpreter
		o.mu.Unlock()
		argv := []string{interp}
		for _, s := range o.req.Sources {
			argv = append(argv, absPath(s))
		}
		argv = append(argv, o.req.Args...)
		return append(argv, args...), nil
	}
	if !o.Runnable() {
		return nil, ErrNotRunnable
	}
	argv := []string{absPath(o.Output())}
	argv = append(argv, o.req.Args...)
	return append(argv, args...), nil
}

func absPath(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return p
}

// Run starts the built model and supervises it until its output ends: each
// line is forwarded to the output writer, then the process gets the stop
// timeout to exit before it is killed. Cancelling ctx kills the model.
// Only one run of a model may be active; a second one gets ErrRunning.
func (o *Orchestrator) Run(ctx context.Context, args ...string) (RunResult, error) {
	if !o.running.CompareAndSwap(false, true) {
		return RunResult{ExitCode: -1}, ErrRunning
	}
	defer o.running.Store(false)
	argv, err := o.Command(args...)
	if err != nil {
		return RunResult{ExitCode: -1}, err
	}
	spec := process.Spec{
		Name:         o.req.Name,
		Args:         argv,
		Env:          o.env.Merge(o.req.Env),
		WorkDir:      o.req.WorkDir,
		Tracers:      o.tracers,
		TracerFlags:  o.req.TracerFlags,
		StopTimeout:  o.stopTimeout,
		KillTimeout:  o.killTimeout,
		DrainTimeout: o.drainTimeout,
		GOOS:         goos(o.platform),
	}
	p, err := process.Start(spec, process.WithLogger(o.log))
	if err != nil {
		return RunResult{ExitCode: -1}, fmt.Errorf("start model %s: %w", o.req.Name, err)
	}
	o.pid.Store(int64(p.PID()))
	defer o.pid.Store(0)
	metrics.IncRunning()
	defer metrics.DecRunning()
	o.log.Info("model started", "pid", p.PID(), "argv", spec.Argv())
	o.record(ctx, history.EventModelStart, history.Record{Command: strings.Join(spec.Argv(), " "), PID: p.PID()})

	start := time.Now()
	lines, cancelled := o.supervise(ctx, p)
	if err := p.Stop(o.stopTimeout); err != nil {
		o.log.Error("stop model", "error", err)
	}
	st := p.Snapshot()
	res := RunResult{
		PID:      st.PID,
		ExitCode: st.ExitCode,
		Err:      st.ExitErr,
		Lines:    lines,
		Killed:   cancelled || st.ExitCode < 0,
		Duration: time.Since(start),
	}
	metrics.AddLines(o.req.Name, lines)
	metrics.IncExit(o.req.Name, res.ExitCode, res.Killed)
	if res.ExitCode != 0 {
		o.log.Warn("model exited", "exit_code", res.ExitCode, "killed", res.Killed, "error", res.Err)
	} else {
		o.log.Info("model exited", "exit_code", 0, "lines", lines, "duration", res.Duration)
	}
	o.record(ctx, history.EventModelStop, history.Record{
		PID:      res.PID,
		ExitCode: res.ExitCode,
		Duration: res.Duration.Milliseconds(),
		Error:    errString(res.Err),
	})
	return res, nil
}

// supervise is the control loop: poll the line queue without blocking,
// forward lines, and sleep briefly when it is empty. It returns once the
// end-of-output sentinel arrives. After the process exits, output that is
// still open past the drain timeout (a child holding the pipe) is cut off
// by killing the model.
func (o *Orchestrator) supervise(ctx context.Context, p *process.Process) (lines int, cancelled bool) {
	drain := o.drainTimeout
	if drain <= 0 {
		drain = process.DefaultDrainTimeout
	}
	exited := p.Done()
	var drainDeadline <-chan time.Time
	for {
		l, ok := p.Poll()
		if !ok {
			if cancelled {
				time.Sleep(o.pollInterval)
				continue
			}
			select {
			case <-ctx.Done():
				cancelled = true
				o.log.Warn("run cancelled, killing model", "error", ctx.Err())
				if err := p.Kill(); err != nil {
					o.log.Error("kill model", "error", err)
				}
			case <-exited:
				exited = nil
				drainDeadline = time.After(drain)
			case <-drainDeadline:
				drainDeadline = nil
				o.log.Warn("model exited but its output is still open, killing", "timeout", drain)
				if err := p.Kill(); err != nil {
					o.log.Error("kill model", "error", err)
				}
			case <-time.After(o.pollInterval):
			}
			continue
		}
		if l.EOF {
			return lines, cancelled
		}
		lines++
		o.forward(l.Text)
	}
}

func (o *Orchestrator) forward(line string) {
	if o.out == nil {
		o.log.Debug("model output", "line", line)
		return
	}
	if _, err := fmt.Fprintln(o.out, line); err != nil {
		o.log.Debug("model output dropped", "error", err)
	}
}

// Runnable reports whether the model builds something Run can start.
func (o *Orchestrator) Runnable() bool {
	if o.lang.Kind == Interpreted {
		return true
	}
	return !o.req.DontLink && o.req.LibType == ""
}
