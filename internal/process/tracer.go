package process

import (
	"fmt"
	"slices"
	"strings"
)

// Tracer is a program that wraps a model command to observe it.
type Tracer string

const (
	Strace   Tracer = "strace"
	Ltrace   Tracer = "ltrace"
	Valgrind Tracer = "valgrind"
	Dtruss   Tracer = "dtruss"
)

var tracerPlatforms = map[Tracer][]string{
	Strace:   {"linux"},
	Ltrace:   {"linux"},
	Valgrind: {"linux", "darwin"},
	Dtruss:   {"darwin"},
}

var tracerDefaults = map[Tracer][]string{
	Strace:   {"-f"},
	Valgrind: {"--leak-check=full", "--error-exitcode=1"},
}

// ParseTracer maps a name onto a Tracer. The empty string means none.
func ParseTracer(name string) (Tracer, error) {
	t := Tracer(strings.ToLower(strings.TrimSpace(name)))
	if t == "" {
		return "", nil
	}
	if _, ok := tracerPlatforms[t]; !ok {
		return "", &TracerError{Tracers: []Tracer{t}, Reason: "unknown tracer"}
	}
	return t, nil
}

// Supports reports whether t runs on goos.
func (t Tracer) Supports(goos string) bool {
	return slices.Contains(tracerPlatforms[t], goos)
}

// Wrap prefixes argv with the tracer and its flags. Explicit flags replace
// the tracer's defaults.
func (t Tracer) Wrap(argv, flags []string) []string {
	if len(flags) == 0 {
		flags = tracerDefaults[t]
	}
	out := make([]string, 0, 1+len(flags)+len(argv))
	out = append(out, string(t))
	out = append(out, flags...)
	return append(out, argv...)
}

// TracerError rejects an unsupported or conflicting tracer selection.
type TracerError struct {
	Tracers []Tracer
	Reason  string
}

func (e *TracerError) Error() string {
	names := make([]string, len(e.Tracers))
	for i, t := range e.Tracers {
		names[i] = string(t)
	}
	return fmt.Sprintf("tracer %s: %s", strings.Join(names, ","), e.Reason)
}
