// Package process runs tool invocations synchronously and supervises the
// long-running model process, streaming its output line by line.
package process

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Line is one line of model output. The final value sent on the queue has
// EOF set and no text.
type Line struct {
	Text string
	EOF  bool
}

const lineQueueSize = 1024

type Process struct {
	spec Spec
	log  *slog.Logger

	mu     sync.Mutex
	status Status
	pid    int

	reader    *os.File
	lines     chan Line
	abort     chan struct{}
	abortOnce sync.Once
	waitDone  chan struct{} // closed once cmd.Wait returns
	drainDone chan struct{} // closed once the drain goroutine exits

	killCalled   atomic.Bool
	killComplete atomic.Bool
}

// Option configures Start.
type Option func(*Process)

// WithLogger sets the logger used for supervision events.
func WithLogger(l *slog.Logger) Option {
	return func(p *Process) {
		if l != nil {
			p.log = l
		}
	}
}

// Start launches spec asynchronously. Stdout and stderr share one pipe read
// by a dedicated drain goroutine that enqueues each line in order.
func Start(spec Spec, opts ...Option) (*Process, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	p := &Process{
		spec:      spec,
		log:       slog.Default(),
		lines:     make(chan Line, lineQueueSize),
		abort:     make(chan struct{}),
		waitDone:  make(chan struct{}),
		drainDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With("process", spec.Name)

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("output pipe: %w", err)
	}
	cmd := spec.BuildCommand(nil)
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("start %s: %w", strings.Join(cmd.Args, " "), err)
	}
	// The child holds its own copy of the write end; ours must go so the
	// reader sees EOF when the child exits.
	_ = pw.Close()

	p.reader = pr
	p.pid = cmd.Process.Pid
	p.status = Status{Name: spec.Name, Running: true, PID: p.pid, StartedAt: time.Now(), ExitCode: -1}
	p.log.Debug("process started", "pid", p.pid, "argv", cmd.Args)

	go p.drain(pr)
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.status.Running = false
		p.status.StoppedAt = time.Now()
		p.status.ExitErr = err
		if cmd.ProcessState != nil {
			p.status.ExitCode = cmd.ProcessState.ExitCode()
		}
		p.mu.Unlock()
		close(p.waitDone)
	}()
	return p, nil
}

func (p *Process) drain(r *os.File) {
	defer func() { _ = r.Close() }()
	defer close(p.drainDone)
	defer close(p.lines)
	br := bufio.NewReader(r)
	for {
		s, err := br.ReadString('\n')
		if s != "" {
			if !p.push(Line{Text: strings.TrimRight(s, "\r\n")}) {
				return
			}
		}
		if err != nil {
			break
		}
	}
	p.push(Line{EOF: true})
}

func (p *Process) push(l Line) bool {
	select {
	case p.lines <- l:
		return true
	case <-p.abort:
		return false
	}
}

// Lines exposes the output queue. It is closed after the EOF line.
func (p *Process) Lines() <-chan Line { return p.lines }

// Poll returns the next queued line without blocking. ok is false when
// nothing is queued. After the queue is exhausted Poll keeps returning the
// EOF line.
func (p *Process) Poll() (Line, bool) {
	select {
	case l, open := <-p.lines:
		if !open {
			return Line{EOF: true}, true
		}
		return l, true
	default:
		return Line{}, false
	}
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} { return p.waitDone }

// Wait blocks until the process exits or ctx is done.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Process) PID() int { return p.pid }

// Running reports whether the process has not exited yet.
func (p *Process) Running() bool {
	select {
	case <-p.waitDone:
		return false
	default:
		return true
	}
}

// ExitCode is -1 while running or when the process died from a signal.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.ExitCode
}

// Err returns the exit error recorded by Wait, if any. A non-zero exit is
// state for the caller to inspect, not a failure of the supervisor.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.ExitErr
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	s := p.status
	p.mu.Unlock()
	s.Killed = p.killCalled.Load()
	return s
}

func (p *Process) KillCalled() bool   { return p.killCalled.Load() }
func (p *Process) KillComplete() bool { return p.killComplete.Load() }

// Stop waits up to timeout (Spec.StopTimeout when <= 0) for the process
// to finish on its own and kills it otherwise.
func (p *Process) Stop(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = p.spec.stopTimeout()
	}
	select {
	case <-p.waitDone:
	case <-time.After(timeout):
		p.log.Info("stop timeout elapsed, killing", "timeout", timeout)
	}
	return p.Kill()
}

// Kill force-kills the process group if it is still running, then waits
// (bounded) for the exit and for the drain goroutine, closing the read end
// of the pipe when draining does not finish in time. Only the first call
// acts; later and concurrent calls return immediately.
func (p *Process) Kill() error {
	if !p.killCalled.CompareAndSwap(false, true) {
		return nil
	}
	defer p.killComplete.Store(true)

	var err error
	select {
	case <-p.waitDone:
	default:
		if kerr := killGroup(p.pid); kerr != nil {
			err = fmt.Errorf("kill %s (pid %d): %w", p.spec.Name, p.pid, kerr)
			p.log.Error("kill failed", "pid", p.pid, "error", kerr)
		}
		select {
		case <-p.waitDone:
		case <-time.After(p.spec.killTimeout()):
			p.log.Error("process did not exit after kill", "pid", p.pid, "error", ErrProcessTimeout)
		}
	}

	select {
	case <-p.drainDone:
	case <-time.After(p.spec.drainTimeout()):
		p.log.Error("output drain did not finish", "pid", p.pid, "error", ErrProcessTimeout)
		p.abortOnce.Do(func() { close(p.abort) })
		_ = p.reader.Close()
	}
	return err
}

// Close abandons any unread output and releases the pipe. It does not
// signal the process.
func (p *Process) Close() {
	p.abortOnce.Do(func() { close(p.abort) })
	_ = p.reader.Close()
}
