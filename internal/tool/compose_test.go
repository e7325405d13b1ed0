package tool

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/loykin/polybuild/internal/flags"
)

func noEnv(string) string { return "" }

func builtin(t *testing.T, p Platform, typ Type, name string) (*Registry, *Descriptor) {
	t.Helper()
	r := newTestRegistry(p)
	r.MustRegister(Builtins()...)
	d, err := r.Resolve(typ, name)
	if err != nil {
		t.Fatalf("resolve %s: %v", name, err)
	}
	return r, d
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCompileOnlyFlags(t *testing.T) {
	_, gcc := builtin(t, Linux, Compiler, "gcc")
	fs, err := gcc.Flags(FlagRequest{
		Flags:      []string{"-Wall"},
		Options:    map[string]any{"include_dirs": []string{"inc"}, "definitions": []string{"A=1"}},
		OutputFile: "foo_c.o",
		DontLink:   true,
		Getenv:     noEnv,
	})
	if err != nil {
		t.Fatalf("Flags: %v", err)
	}
	want := []string{"-Wall", "-c", "-DA=1", "-Iinc", "-o", "foo_c.o"}
	if !equal(fs.Flags, want) {
		t.Fatalf("got %#v want %#v", fs.Flags, want)
	}
	args := gcc.Command(fs, []string{"foo.c"}, noEnv)
	if args[0] != "gcc" || args[len(args)-1] != "foo.c" {
		t.Fatalf("unexpected argv %#v", args)
	}
}

func TestCombinedCompileAppendsLinkerFlagsLast(t *testing.T) {
	r, gcc := builtin(t, Linux, Compiler, "gcc")
	linker, err := r.LinkerFor(gcc)
	if err != nil {
		t.Fatalf("LinkerFor: %v", err)
	}
	fs, err := gcc.Flags(FlagRequest{
		OutputFile:    "foo.out",
		Getenv:        noEnv,
		Linker:        linker,
		LinkerOptions: map[string]any{"libraries": []string{"m"}},
	})
	if err != nil {
		t.Fatalf("Flags: %v", err)
	}
	args := fs.Args([]string{"foo.c"})
	want := []string{"-o", "foo.out", "foo.c", "-lm"}
	if !equal(args, want) {
		t.Fatalf("got %#v want %#v", args, want)
	}
}

func TestFlagsEnvDefaults(t *testing.T) {
	_, gcc := builtin(t, Linux, Compiler, "gcc")
	env := func(k string) string {
		if k == "CFLAGS" {
			return "-O2  -pipe"
		}
		return ""
	}
	fs, err := gcc.Flags(FlagRequest{DontLink: true, Getenv: env})
	if err != nil {
		t.Fatalf("Flags: %v", err)
	}
	if !equal(fs.Flags, []string{"-O2", "-pipe", "-c"}) {
		t.Fatalf("unexpected flags %#v", fs.Flags)
	}
	if _, err := gcc.Flags(FlagRequest{DontLink: true, Getenv: env, Options: map[string]any{"optimization": 3}}); err == nil {
		t.Fatalf("expected duplicate optimization flag error")
	} else {
		var dup *flags.DuplicateFlagError
		if !errors.As(err, &dup) {
			t.Fatalf("expected DuplicateFlagError, got %v", err)
		}
	}
}

func TestArchiverOutputFirst(t *testing.T) {
	_, ar := builtin(t, Linux, Archiver, "ar")
	fs, err := ar.Flags(FlagRequest{OutputFile: "libfoo.a", Getenv: noEnv})
	if err != nil {
		t.Fatalf("Flags: %v", err)
	}
	args := fs.Args([]string{"a.o", "b.o"})
	if !equal(args, []string{"-rcs", "libfoo.a", "a.o", "b.o"}) {
		t.Fatalf("unexpected archiver args %#v", args)
	}
}

func TestMSVCSeparateLinkAndSwitch(t *testing.T) {
	r, cl := builtin(t, Windows, Compiler, "cl")
	fs, err := cl.Flags(FlagRequest{OutputFile: "foo_c.obj", DontLink: true, Getenv: noEnv})
	if err != nil {
		t.Fatalf("Flags: %v", err)
	}
	if !equal(fs.Flags, []string{"/nologo", "/c", "/Fofoo_c.obj"}) {
		t.Fatalf("unexpected cl flags %#v", fs.Flags)
	}

	combined := cl.Clone()
	yes := true
	combined.CombineWithLinker = &yes
	link, err := r.LinkerFor(cl)
	if err != nil {
		t.Fatalf("LinkerFor: %v", err)
	}
	fs, err = combined.Flags(FlagRequest{OutputFile: "foo.exe", Getenv: noEnv, Linker: link, LinkerOptions: map[string]any{"debug": true}})
	if err != nil {
		t.Fatalf("Flags: %v", err)
	}
	args := fs.Args([]string{"foo.c"})
	want := []string{"/nologo", "/Fefoo.exe", "foo.c", "/link", "/NOLOGO", "/DEBUG"}
	if !equal(args, want) {
		t.Fatalf("got %#v want %#v", args, want)
	}
}

func TestNoSeparateLinkingIgnoresCompileOnly(t *testing.T) {
	_, mk := builtin(t, Linux, Compiler, "make")
	fs, err := mk.Flags(FlagRequest{DontLink: true, Getenv: noEnv, Options: map[string]any{"makefile": "Makefile", "target": "all"}})
	if err != nil {
		t.Fatalf("Flags: %v", err)
	}
	if !equal(fs.Flags, []string{"-f", "Makefile", "all"}) {
		t.Fatalf("unexpected make flags %#v", fs.Flags)
	}
	if !mk.CombinesWithLinker() {
		t.Fatalf("build-file drivers always combine")
	}
}

func TestOutputName(t *testing.T) {
	src := filepath.Join("src", "foo.c")
	cases := []struct {
		kind OutputKind
		p    Platform
		want string
	}{
		{OutputObject, Linux, filepath.Join("src", "foo_c.o")},
		{OutputObject, Windows, filepath.Join("src", "foo_c.obj")},
		{OutputExecutable, Linux, filepath.Join("src", "foo.out")},
		{OutputExecutable, Windows, filepath.Join("src", "foo.exe")},
		{OutputStatic, Linux, filepath.Join("src", "libfoo.a")},
		{OutputShared, MacOS, filepath.Join("src", "libfoo.dylib")},
		{OutputShared, Windows, filepath.Join("src", "foo.dll")},
	}
	for _, tc := range cases {
		if got := OutputName(src, tc.kind, tc.p, ""); got != tc.want {
			t.Fatalf("OutputName(%v,%v) = %q want %q", tc.kind, tc.p, got, tc.want)
		}
	}
	if got := OutputName(filepath.Join("x", "bar.cpp"), OutputObject, Linux, ""); got != filepath.Join("x", "bar_cpp.o") {
		t.Fatalf("unexpected c++ object name %q", got)
	}
	if got := OutputName("libzmq.c", OutputShared, Linux, "_py311"); got != "libzmq_py311.so" {
		t.Fatalf("unexpected suffixed name %q", got)
	}
}
