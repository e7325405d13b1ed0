package build

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownLanguage = errors.New("unknown language")
	ErrNotBuilt        = errors.New("model is not built")
	ErrNoSources       = errors.New("no sources given")
	ErrRunning         = errors.New("model is running")
	// ErrStillPresent is returned when a product survives removal for the
	// whole cleanup wait.
	ErrStillPresent = errors.New("path still present after removal")
)

// CompilationFailure reports a tool invocation that exited non-zero or did
// not produce its declared output.
type CompilationFailure struct {
	Model    string
	Tool     string
	Command  []string
	Output   string
	ExitCode int
	Reason   string
	Err      error
}

func (e *CompilationFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "build %s: %s failed", e.Model, e.Tool)
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	} else {
		fmt.Fprintf(&b, " with exit code %d", e.ExitCode)
	}
	if len(e.Command) > 0 {
		fmt.Fprintf(&b, "\ncommand: %s", strings.Join(e.Command, " "))
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, "\noutput:\n%s", out)
	}
	return b.String()
}

func (e *CompilationFailure) Unwrap() error { return e.Err }

// UnsafeCleanupError refuses to delete a product that looks like source.
type UnsafeCleanupError struct {
	Path string
	// File is the offending file inside Path when Path is a directory.
	File string
	Ext  string
}

func (e *UnsafeCleanupError) Error() string {
	if e.File != "" && e.File != e.Path {
		return fmt.Sprintf("refusing to remove %s: %s has source extension %s", e.Path, e.File, e.Ext)
	}
	return fmt.Sprintf("refusing to remove %s: source extension %s", e.Path, e.Ext)
}

// TransitionError rejects a state change the build state machine does not
// allow.
type TransitionError struct {
	Model    string
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("model %s: invalid state transition %s -> %s", e.Model, e.From, e.To)
}
