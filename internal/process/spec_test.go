package process

import (
	"errors"
	"runtime"
	"slices"
	"testing"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func TestSplitCommand_ExplicitShellNoDoubleWrap(t *testing.T) {
	requireUnix(t)
	s := Spec{Name: "x", Command: "sh -c 'echo hi'"}
	argv := s.Argv()
	if !slices.Equal(argv, []string{"/bin/sh", "-c", "echo hi"}) {
		t.Fatalf("unexpected argv: %#v", argv)
	}
}

func TestSplitCommand_MetacharTriggersShell(t *testing.T) {
	requireUnix(t)
	s := Spec{Name: "y", Command: "echo hi | wc -c"}
	argv := s.Argv()
	if len(argv) != 3 || argv[1] != "-c" {
		t.Fatalf("expected shell -c wrapping, got argv=%#v", argv)
	}
}

func TestArgsTakePrecedenceOverCommand(t *testing.T) {
	s := Spec{Args: []string{"gcc", "-c", "foo.c"}, Command: "ignored"}
	if got := s.Argv(); !slices.Equal(got, []string{"gcc", "-c", "foo.c"}) {
		t.Fatalf("unexpected argv %#v", got)
	}
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
		tracer  bool
	}{
		{name: "command", spec: Spec{Command: "echo hello"}},
		{name: "args", spec: Spec{Args: []string{"echo"}}},
		{name: "empty", spec: Spec{}, wantErr: true},
		{name: "blank argv0", spec: Spec{Args: []string{" "}}, wantErr: true},
		{name: "strace on linux", spec: Spec{Args: []string{"a"}, Tracers: []Tracer{Strace}, GOOS: "linux"}},
		{name: "valgrind on darwin", spec: Spec{Args: []string{"a"}, Tracers: []Tracer{Valgrind}, GOOS: "darwin"}},
		{name: "strace on darwin", spec: Spec{Args: []string{"a"}, Tracers: []Tracer{Strace}, GOOS: "darwin"}, wantErr: true, tracer: true},
		{name: "dtruss on windows", spec: Spec{Args: []string{"a"}, Tracers: []Tracer{Dtruss}, GOOS: "windows"}, wantErr: true, tracer: true},
		{name: "two tracers", spec: Spec{Args: []string{"a"}, Tracers: []Tracer{Strace, Valgrind}, GOOS: "linux"}, wantErr: true, tracer: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
			var te *TracerError
			if tc.tracer && !errors.As(err, &te) {
				t.Fatalf("expected TracerError, got %v", err)
			}
		})
	}
}

func TestTracerWrap(t *testing.T) {
	s := Spec{Args: []string{"./model.out", "--x"}, Tracers: []Tracer{Valgrind}, GOOS: "linux"}
	want := []string{"valgrind", "--leak-check=full", "--error-exitcode=1", "./model.out", "--x"}
	if got := s.Argv(); !slices.Equal(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}
	s.TracerFlags = []string{"-o", "trace.txt"}
	s.Tracers = []Tracer{Strace}
	want = []string{"strace", "-o", "trace.txt", "./model.out", "--x"}
	if got := s.Argv(); !slices.Equal(got, want) {
		t.Fatalf("got %#v want %#v", got, want)
	}

	if tr, err := ParseTracer(" LTrace "); err != nil || tr != Ltrace {
		t.Fatalf("ParseTracer = %q, %v", tr, err)
	}
	if tr, err := ParseTracer(""); err != nil || tr != "" {
		t.Fatalf("empty tracer should be none, got %q, %v", tr, err)
	}
	if _, err := ParseTracer("gdb"); err == nil {
		t.Fatalf("expected unknown tracer error")
	}
}
