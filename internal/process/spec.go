package process

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Default bounded waits applied when a Spec leaves them unset.
const (
	DefaultStopTimeout  = 10 * time.Second
	DefaultKillTimeout  = 2 * time.Second
	DefaultDrainTimeout = 2 * time.Second
)

// Spec describes a command to run, either a tool invocation or a model.
type Spec struct {
	Name string `json:"name"`
	// Args is the argv to execute. When empty, Command is split (or run
	// through the shell when it contains metacharacters).
	Args    []string `json:"args"`
	Command string   `json:"command"`
	// Env is the complete environment ("K=V"); nil inherits the parent's.
	Env     []string `json:"env"`
	WorkDir string   `json:"work_dir"`

	// Tracers wrap the command; at most one may be set.
	Tracers     []Tracer `json:"tracers"`
	TracerFlags []string `json:"tracer_flags"`

	StopTimeout  time.Duration `json:"stop_timeout"`
	KillTimeout  time.Duration `json:"kill_timeout"`
	DrainTimeout time.Duration `json:"drain_timeout"`

	// GOOS overrides the operating system used for tracer validation.
	GOOS string `json:"-"`
}

var errNoCommand = errors.New("process requires a command")

// Validate checks the command and the tracer selection. Tracer problems are
// reported here so callers can fail before anything is spawned.
func (s *Spec) Validate() error {
	if len(s.Args) == 0 && strings.TrimSpace(s.Command) == "" {
		return errNoCommand
	}
	if len(s.Args) > 0 && strings.TrimSpace(s.Args[0]) == "" {
		return errNoCommand
	}
	_, err := s.tracer()
	return err
}

func (s *Spec) goos() string {
	if s.GOOS != "" {
		return s.GOOS
	}
	return runtime.GOOS
}

func (s *Spec) tracer() (Tracer, error) {
	switch len(s.Tracers) {
	case 0:
		return "", nil
	case 1:
	default:
		return "", &TracerError{Tracers: s.Tracers, Reason: "only one tracer may be active"}
	}
	t := s.Tracers[0]
	if !t.Supports(s.goos()) {
		return "", &TracerError{Tracers: s.Tracers, Reason: "not supported on " + s.goos()}
	}
	return t, nil
}

// Argv returns the argv that will be executed, tracer included.
func (s *Spec) Argv() []string {
	argv := append([]string{}, s.Args...)
	if len(argv) == 0 {
		argv = splitCommand(s.Command)
	}
	if t, err := s.tracer(); err == nil && t != "" {
		argv = t.Wrap(argv, s.TracerFlags)
	}
	return argv
}

// BuildCommand constructs the *exec.Cmd for s. ctx may be nil.
func (s *Spec) BuildCommand(ctx context.Context) *exec.Cmd {
	argv := s.Argv()
	var cmd *exec.Cmd
	// #nosec G204
	if ctx != nil {
		cmd = exec.CommandContext(ctx, argv[0], argv[1:]...)
	} else {
		cmd = exec.Command(argv[0], argv[1:]...)
	}
	cmd.Dir = s.WorkDir
	if s.Env != nil {
		cmd.Env = s.Env
	}
	configureSysProcAttr(cmd)
	return cmd
}

// splitCommand avoids a shell when the command has no metacharacters and
// honours an explicit "sh -c" prefix without wrapping it again.
func splitCommand(cmdStr string) []string {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return trueArgv()
	}
	if after, ok := parseExplicitShell(cmdStr); ok {
		return shellArgv(after)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return shellArgv(cmdStr)
	}
	return strings.Fields(cmdStr)
}

// parseExplicitShell detects "sh -c <ARG>" style prefixes and returns the
// script, with one pair of surrounding quotes removed.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		after := trim[len(p):]
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}

func (s *Spec) stopTimeout() time.Duration  { return durOr(s.StopTimeout, DefaultStopTimeout) }
func (s *Spec) killTimeout() time.Duration  { return durOr(s.KillTimeout, DefaultKillTimeout) }
func (s *Spec) drainTimeout() time.Duration { return durOr(s.DrainTimeout, DefaultDrainTimeout) }

func durOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
