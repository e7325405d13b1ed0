package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func collect(t *testing.T, p *Process, timeout time.Duration) []Line {
	t.Helper()
	var out []Line
	deadline := time.After(timeout)
	for {
		select {
		case l, ok := <-p.Lines():
			if !ok {
				return out
			}
			out = append(out, l)
		case <-deadline:
			t.Fatalf("timed out collecting lines, got %+v", out)
		}
	}
}

func TestStartDrainsLinesThenSentinel(t *testing.T) {
	requireUnix(t)
	p, err := Start(Spec{Name: "ab", Command: `printf 'A\nB\n'`})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	lines := collect(t, p, 5*time.Second)
	want := []Line{{Text: "A"}, {Text: "B"}, {EOF: true}}
	if len(lines) != len(want) {
		t.Fatalf("got %+v want %+v", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: got %+v want %+v", i, lines[i], want[i])
		}
	}
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if p.ExitCode() != 0 || p.Err() != nil {
		t.Fatalf("unexpected exit state code=%d err=%v", p.ExitCode(), p.Err())
	}

	if err := p.Kill(); err != nil {
		t.Fatalf("first Kill on exited process: %v", err)
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("second Kill: %v", err)
	}
	if !p.KillCalled() || !p.KillComplete() {
		t.Fatalf("kill flags not set: called=%v complete=%v", p.KillCalled(), p.KillComplete())
	}
	if l, ok := p.Poll(); !ok || !l.EOF {
		t.Fatalf("Poll after end should keep yielding EOF, got %+v %v", l, ok)
	}
}

func TestStderrIsMergedAndPartialLineKept(t *testing.T) {
	requireUnix(t)
	p, err := Start(Spec{Name: "merge", Command: `echo out; echo err 1>&2; printf tail`})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	var texts []string
	for _, l := range collect(t, p, 5*time.Second) {
		if !l.EOF {
			texts = append(texts, l.Text)
		}
	}
	if strings.Join(texts, ",") != "out,err,tail" {
		t.Fatalf("unexpected lines %q", texts)
	}
}

func TestNonZeroExitIsStateNotError(t *testing.T) {
	requireUnix(t)
	p, err := Start(Spec{Name: "fail", Command: "sh -c 'exit 3'"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = collect(t, p, 5*time.Second)
	if err := p.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.ExitCode() != 3 {
		t.Fatalf("exit code = %d", p.ExitCode())
	}
	if p.Err() == nil {
		t.Fatalf("expected exit error recorded")
	}
}

func TestStopKillsAfterTimeout(t *testing.T) {
	requireUnix(t)
	p, err := Start(Spec{Name: "sleeper", Command: "sh -c 'echo ready; sleep 30'", KillTimeout: 3 * time.Second})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if l, ok := p.Poll(); ok && l.Text == "ready" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("never saw ready line")
		}
		time.Sleep(10 * time.Millisecond)
	}

	start := time.Now()
	if err := p.Stop(100 * time.Millisecond); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("stop took too long: %v", time.Since(start))
	}
	if p.Running() {
		t.Fatalf("process still running after Stop")
	}
	if st := p.Snapshot(); !st.Killed || st.ExitCode != -1 {
		t.Fatalf("unexpected status after kill: %+v", st)
	}
	if processExists(p.PID()) {
		t.Fatalf("pid %d still exists", p.PID())
	}
}

func TestConcurrentKillIsNoOp(t *testing.T) {
	requireUnix(t)
	p, err := Start(Spec{Name: "k", Command: "sleep 30"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Kill()
		}()
	}
	wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("process not reaped after kill: %v", err)
	}
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	if _, err := Start(Spec{Name: "none"}); err == nil {
		t.Fatalf("expected error for empty command")
	}
	if _, err := Start(Spec{Args: []string{"a"}, Tracers: []Tracer{Dtruss, Strace}}); err == nil {
		t.Fatalf("expected tracer error")
	}
}

func TestRunSyncCapturesOutputAndExitCode(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	res, err := RunSync(context.Background(), Spec{
		Command: "sh -c 'echo $GREETING; pwd; echo oops 1>&2'",
		Env:     []string{"GREETING=hello", "PATH=" + os.Getenv("PATH")},
		WorkDir: dir,
	})
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	resolved, _ := filepath.EvalSymlinks(dir)
	if !strings.Contains(res.Output, "hello\n") || !strings.Contains(res.Output, "oops") {
		t.Fatalf("unexpected output %q", res.Output)
	}
	if !strings.Contains(res.Output, resolved) && !strings.Contains(res.Output, dir) {
		t.Fatalf("workdir not applied: %q", res.Output)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d", res.ExitCode)
	}

	res, err = RunSync(context.Background(), Spec{Command: "sh -c 'echo failing; exit 7'"})
	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if ee.ExitCode != 7 || res.ExitCode != 7 || !strings.Contains(ee.Output, "failing") {
		t.Fatalf("unexpected exit error %+v / result %+v", ee, res)
	}
}

func TestRunSyncContextCancelKillsGroup(t *testing.T) {
	requireUnix(t)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := RunSync(ctx, Spec{Command: "sh -c 'sleep 30 & wait'", KillTimeout: time.Second})
	if err == nil {
		t.Fatalf("expected error on cancellation")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("cancellation not bounded: %v", time.Since(start))
	}
}

func TestRunSyncMissingExecutable(t *testing.T) {
	res, err := RunSync(context.Background(), Spec{Args: []string{"polybuild-definitely-missing-tool"}})
	if err == nil {
		t.Fatalf("expected error")
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		t.Fatalf("missing executable is not an exit error")
	}
	if res.ExitCode != -1 {
		t.Fatalf("exit code = %d", res.ExitCode)
	}
}

func TestBuildCommandSetsProcessGroup(t *testing.T) {
	s := Spec{Args: []string{"true"}, WorkDir: "/tmp", Env: []string{"A=1"}}
	cmd := s.BuildCommand(nil)
	if cmd.Dir != "/tmp" || len(cmd.Env) != 1 {
		t.Fatalf("dir/env not applied: %q %v", cmd.Dir, cmd.Env)
	}
	checkSysProcAttrs(t, cmd)
}
