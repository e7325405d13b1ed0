package build

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/polybuild/internal/deps"
	"github.com/loykin/polybuild/internal/env"
	"github.com/loykin/polybuild/internal/history"
	"github.com/loykin/polybuild/internal/process"
	"github.com/loykin/polybuild/internal/tool"
)

// fakeRunner records tool invocations and creates the artifacts they name.
type fakeRunner struct {
	mu       sync.Mutex
	calls    [][]string
	fail     func(argv []string) bool
	noOutput bool
	output   string
	content  []byte
}

var artifactExts = []string{".o", ".out", ".a", ".so"}

func (f *fakeRunner) run(_ context.Context, spec process.Spec) (process.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, slices.Clone(spec.Args))
	f.mu.Unlock()
	res := process.Result{Command: spec.Args, Output: f.output}
	if f.fail != nil && f.fail(spec.Args) {
		res.ExitCode = 1
		res.Output = "boom"
		return res, &process.ExitError{Command: spec.Args, ExitCode: 1, Output: "boom"}
	}
	if f.noOutput {
		return res, nil
	}
	content := f.content
	if content == nil {
		content = []byte("x")
	}
	for _, a := range spec.Args[1:] {
		if strings.Contains(a, "=") || !slices.Contains(artifactExts, filepath.Ext(a)) {
			continue
		}
		if !filepath.IsAbs(a) && spec.WorkDir != "" {
			a = filepath.Join(spec.WorkDir, a)
		}
		if _, err := os.Stat(a); err == nil {
			continue
		}
		if err := os.WriteFile(a, content, 0o755); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (f *fakeRunner) argv(i int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) types() []history.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []history.EventType
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func testRegistry() *tool.Registry {
	r := tool.NewRegistry(
		tool.WithPlatform(tool.Linux),
		tool.WithDetector(func(*tool.Descriptor) bool { return true }),
	)
	r.MustRegister(tool.Builtins()...)
	return r
}

func newTest(t *testing.T, req Request, f *fakeRunner, opts ...Option) *Orchestrator {
	t.Helper()
	base := []Option{
		WithRegistry(testRegistry()),
		WithRunner(f.run),
		WithEnv(env.FromMap(map[string]string{"PATH": os.Getenv("PATH")})),
		WithPlatform(tool.Linux),
	}
	o, err := New(req, append(base, opts...)...)
	require.NoError(t, err)
	return o
}

func source(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	touch(t, p)
	return p
}

func TestCompileDontLinkReturnsObject(t *testing.T) {
	dir := t.TempDir()
	src := source(t, dir, "foo.c")
	f := &fakeRunner{}
	o := newTest(t, Request{Name: "foo", Language: "c", Sources: []string{src}}, f)

	out, err := o.CompileModel(context.Background(), CompileOptions{Sources: []string{src}, DontLink: true})
	require.NoError(t, err)
	assert.Equal(t, ".o", filepath.Ext(out))
	assert.True(t, strings.HasPrefix(filepath.Base(out), "foo"))
	require.Equal(t, 1, f.count())
	argv := f.argv(0)
	assert.Equal(t, "gcc", argv[0])
	assert.Contains(t, argv, "-c")
	assert.Equal(t, src, argv[len(argv)-1])
}

func TestBuildLinksExecutable(t *testing.T) {
	dir := t.TempDir()
	src := source(t, dir, "foo.c")
	f := &fakeRunner{}
	sink := &memSink{}
	o := newTest(t, Request{Name: "foo", Language: "c", Sources: []string{src}}, f, WithHistory(sink))

	out, err := o.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "foo.out"), out)
	assert.Equal(t, Built, o.State())
	assert.Equal(t, out, o.Output())
	// gcc links in the same invocation
	require.Equal(t, 1, f.count())
	assert.NotContains(t, f.argv(0), "-c")
	assert.Equal(t, []string{out}, o.Products().Paths())
	assert.Equal(t, []history.EventType{history.EventToolCall, history.EventBuilt}, sink.types())
}

func TestBuildSeparateLinkForSharedLibrary(t *testing.T) {
	dir := t.TempDir()
	src := source(t, dir, "foo.c")
	f := &fakeRunner{}
	o := newTest(t, Request{Name: "foo", Language: "c", Sources: []string{src}, LibType: deps.Shared}, f)

	out, err := o.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "libfoo.so"), out)
	require.Equal(t, 2, f.count())
	assert.Contains(t, f.argv(0), "-fPIC")
	assert.Contains(t, f.argv(1), "-shared")
	assert.False(t, o.Runnable())
	_, err = o.Command()
	assert.ErrorIs(t, err, ErrNotRunnable)
}

func TestBuildInjectsDependencies(t *testing.T) {
	dir := t.TempDir()
	inc := filepath.Join(dir, "include")
	util := source(t, dir, "util.c")
	src := source(t, dir, "model.c")
	cat, err := deps.NewCatalog(&deps.Dependency{
		Name:        "util",
		Kind:        deps.Internal,
		LibType:     deps.Static,
		Sources:     []string{util},
		IncludeDirs: []string{inc},
		Definitions: []string{"USE_UTIL"},
	})
	require.NoError(t, err)
	f := &fakeRunner{}
	o := newTest(t, Request{Name: "model", Language: "c", Sources: []string{src}, Dependencies: []string{"util"}}, f, WithCatalog(cat))

	out, err := o.Build(context.Background())
	require.NoError(t, err)
	lib := filepath.Join(dir, "libutil.a")
	require.Equal(t, 3, f.count())

	// dependency object, then archive, then the model
	assert.Equal(t, "gcc", f.argv(0)[0])
	assert.Contains(t, f.argv(0), "-I"+inc)
	assert.Equal(t, []string{"ar", "-rcs", lib, filepath.Join(dir, "util_c.o")}, f.argv(1))

	model := f.argv(2)
	assert.Contains(t, model, "-DUSE_UTIL")
	assert.Contains(t, model, "-I"+inc)
	assert.Less(t, slices.Index(model, src), slices.Index(model, lib), "library must follow the source")
	assert.Equal(t, filepath.Join(dir, "model.out"), out)

	path, err := cat.LibraryPath("util", deps.Static, tool.Linux, "")
	require.NoError(t, err)
	assert.Equal(t, lib, path)
}

func TestObjectDependencyLinksEveryObject(t *testing.T) {
	dir := t.TempDir()
	a := source(t, dir, "a.c")
	b := source(t, dir, "b.c")
	src := source(t, dir, "model.c")
	cat, err := deps.NewCatalog(&deps.Dependency{
		Name:    "objs",
		Kind:    deps.Internal,
		LibType: deps.Object,
		Sources: []string{a, b},
	})
	require.NoError(t, err)
	f := &fakeRunner{}
	o := newTest(t, Request{Name: "model", Language: "c", Sources: []string{src}, Dependencies: []string{"objs"}}, f, WithCatalog(cat))

	_, err = o.Build(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, f.count())

	aObj, bObj := filepath.Join(dir, "a_c.o"), filepath.Join(dir, "b_c.o")
	assert.Contains(t, f.argv(0), a)
	assert.Contains(t, f.argv(1), b)
	model := f.argv(2)
	assert.Contains(t, model, aObj)
	assert.Contains(t, model, bObj)
	assert.Equal(t, []string{aObj, bObj}, cat.ObjectFiles("objs"))
}

func TestBuildRollsBackOnFailure(t *testing.T) {
	dir := t.TempDir()
	util := source(t, dir, "util.c")
	src := source(t, dir, "model.c")
	cat, err := deps.NewCatalog(&deps.Dependency{Name: "util", Kind: deps.Internal, LibType: deps.Static, Sources: []string{util}})
	require.NoError(t, err)
	f := &fakeRunner{fail: func(argv []string) bool { return slices.Contains(argv, src) }}
	sink := &memSink{}
	o := newTest(t, Request{Name: "model", Language: "c", Sources: []string{src}, Dependencies: []string{"util"}}, f,
		WithCatalog(cat), WithHistory(sink))

	_, err = o.Build(context.Background())
	var cf *CompilationFailure
	require.ErrorAs(t, err, &cf)
	assert.Equal(t, 1, cf.ExitCode)
	assert.Equal(t, "boom", cf.Output)
	assert.Contains(t, err.Error(), "command: gcc")
	assert.Equal(t, Failed, o.State())

	assert.False(t, exists(filepath.Join(dir, "util_c.o")), "object not rolled back")
	assert.False(t, exists(filepath.Join(dir, "libutil.a")), "archive not rolled back")
	assert.True(t, exists(util))
	assert.True(t, exists(src))
	assert.Zero(t, o.Products().Len())
	assert.Contains(t, sink.types(), history.EventBuildFailed)
}

func TestMissingOutputIsCompilationFailure(t *testing.T) {
	dir := t.TempDir()
	src := source(t, dir, "foo.c")
	f := &fakeRunner{noOutput: true}
	o := newTest(t, Request{Name: "foo", Language: "c", Sources: []string{src}, DontLink: true}, f)

	_, err := o.Build(context.Background())
	var cf *CompilationFailure
	require.ErrorAs(t, err, &cf)
	assert.Contains(t, cf.Reason, "not produced")
}

func TestCompileCacheHit(t *testing.T) {
	dir := t.TempDir()
	src := source(t, dir, "foo.c")
	obj := filepath.Join(dir, "foo_c.o")
	touch(t, obj)
	f := &fakeRunner{}
	o := newTest(t, Request{Name: "foo", Language: "c", Sources: []string{src}}, f)

	out, err := o.CompileModel(context.Background(), CompileOptions{Sources: []string{src}, DontLink: true})
	require.NoError(t, err)
	assert.Equal(t, obj, out)
	assert.Zero(t, f.count())

	o = newTest(t, Request{Name: "foo", Language: "c", Sources: []string{src}, Overwrite: true}, f)
	_, err = o.CompileModel(context.Background(), CompileOptions{Sources: []string{src}, DontLink: true})
	require.NoError(t, err)
	assert.Equal(t, 1, f.count())
}

func TestCompileDelegatesToOtherLanguage(t *testing.T) {
	dir := t.TempDir()
	src := source(t, dir, "glue.c")
	f := &fakeRunner{}
	o := newTest(t, Request{Name: "model", Language: "c++", Sources: []string{source(t, dir, "model.cpp")}}, f)
	assert.Equal(t, "g++", o.Compiler().Name)

	out, err := o.CompileModel(context.Background(), CompileOptions{Language: "c", Sources: []string{src}, DontLink: true})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "glue_c.o"), out)
	assert.Equal(t, "gcc", f.argv(0)[0])
	// delegated products roll back with the model
	assert.Equal(t, []string{out}, o.Products().Paths())
}

func TestMakeDriverPassesToolchain(t *testing.T) {
	dir := t.TempDir()
	makefile := source(t, dir, "Makefile")
	f := &fakeRunner{}
	o := newTest(t, Request{
		Name:          "model",
		Language:      "make",
		Sources:       []string{makefile},
		CompilerFlags: []string{"-O2"},
	}, f)

	out, err := o.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "model.out"), out)
	require.Equal(t, 1, f.count())
	argv := f.argv(0)
	assert.Equal(t, "make", argv[0])
	assert.Contains(t, argv, "CC=gcc")
	assert.Contains(t, argv, "CFLAGS=-O2")
	assert.Equal(t, "model.out", argv[len(argv)-1])
	assert.NotContains(t, argv, "-O2")
}

func TestCMakeDriverConfiguresAndBuilds(t *testing.T) {
	dir := t.TempDir()
	lists := source(t, dir, "CMakeLists.txt")
	f := &fakeRunner{}
	o := newTest(t, Request{Name: "model", Language: "cmake", Sources: []string{lists}}, f)

	out, err := o.CompileModel(context.Background(), CompileOptions{Sources: []string{lists}})
	// the fake cannot produce an extension-less executable
	var cf *CompilationFailure
	require.ErrorAs(t, err, &cf)
	assert.Equal(t, filepath.Join(dir, "model"), out)
	require.Equal(t, 2, f.count())
	configure := f.argv(0)
	assert.Equal(t, "cmake", configure[0])
	assert.Contains(t, configure, "-DCMAKE_C_COMPILER=gcc")
	assert.Contains(t, configure, "-DCMAKE_RUNTIME_OUTPUT_DIRECTORY="+dir)
	assert.Equal(t, []string{"cmake", "--build", filepath.Join(dir, "model_build"), "--target", "model"}, f.argv(1))

	list := o.Products().List()
	require.Len(t, list, 1)
	assert.Equal(t, SourceLike, list[0].Kind)
}

func TestInterpretedLanguageChecksInterpreter(t *testing.T) {
	dir := t.TempDir()
	script := source(t, dir, "model.py")
	f := &fakeRunner{output: "Python 3.12.1\n"}
	o := newTest(t, Request{Name: "model", Language: "python", Sources: []string{script}, Args: []string{"--fast"}}, f)
	assert.Nil(t, o.Compiler())

	out, err := o.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, script, out)
	assert.Equal(t, []string{"python3", "--version"}, f.argv(0))

	argv, err := o.Command("x")
	require.NoError(t, err)
	assert.Equal(t, []string{"python3", script, "--fast", "x"}, argv)
}

func TestInterpreterMissing(t *testing.T) {
	dir := t.TempDir()
	f := &fakeRunner{fail: func([]string) bool { return true }}
	o := newTest(t, Request{Name: "model", Language: "python", Sources: []string{source(t, dir, "m.py")}}, f)
	_, err := o.Build(context.Background())
	var cf *CompilationFailure
	require.ErrorAs(t, err, &cf)
	assert.Equal(t, "python3", cf.Tool)
}

func TestUnresolvedExternalDependency(t *testing.T) {
	dir := t.TempDir()
	cat, err := deps.NewCatalog(&deps.Dependency{Name: "zmq", Kind: deps.External, LibType: deps.Shared, Language: "c"})
	require.NoError(t, err)
	f := &fakeRunner{}
	o := newTest(t, Request{Name: "m", Language: "c", Sources: []string{source(t, dir, "m.c")}, Dependencies: []string{"zmq"}}, f, WithCatalog(cat))

	_, err = o.Build(context.Background())
	var dre *deps.DependencyResolutionError
	require.ErrorAs(t, err, &dre)
	assert.Equal(t, "zmq", dre.Name)
	assert.Zero(t, f.count())
}

func TestStoreSelectsCompiler(t *testing.T) {
	dir := t.TempDir()
	f := &fakeRunner{}
	st := mapStore{"c.compiler": "clang"}
	o := newTest(t, Request{Name: "m", Language: "c", Sources: []string{source(t, dir, "m.c")}}, f, WithStore(st))
	assert.Equal(t, "clang", o.Compiler().Name)

	o = newTest(t, Request{Name: "m", Language: "c", Compiler: "gcc", Sources: []string{source(t, dir, "m.c")}}, f, WithStore(st))
	assert.Equal(t, "gcc", o.Compiler().Name)
}

type mapStore map[string]string

func (m mapStore) Get(section, option string) (string, bool) {
	v, ok := m[section+"."+option]
	return v, ok
}

func TestNewRejectsBadRequests(t *testing.T) {
	f := &fakeRunner{}
	base := []Option{WithRegistry(testRegistry()), WithRunner(f.run), WithPlatform(tool.Linux)}

	_, err := New(Request{Name: "m", Language: "cobol"}, base...)
	assert.ErrorIs(t, err, ErrUnknownLanguage)

	_, err = New(Request{Name: "m", Language: "c", Tracer: "strace,valgrind"}, base...)
	var te *process.TracerError
	assert.ErrorAs(t, err, &te)

	_, err = New(Request{Name: "m", Language: "c", Tracer: "dtruss"}, base...)
	assert.ErrorAs(t, err, &te)

	_, err = New(Request{Name: "m", Language: "c", Compiler: "nope"}, base...)
	var nf *tool.ToolNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestStateMachine(t *testing.T) {
	assert.True(t, Unbuilt.CanTransition(Compiling))
	assert.False(t, Unbuilt.CanTransition(Linking))
	assert.False(t, Built.CanTransition(Linking))
	assert.True(t, Failed.CanTransition(Compiling))

	dir := t.TempDir()
	f := &fakeRunner{}
	o := newTest(t, Request{Name: "m", Language: "c", Sources: []string{source(t, dir, "m.c")}}, f)
	var te *TransitionError
	require.ErrorAs(t, o.setState(Built), &te)
	assert.Equal(t, Unbuilt, te.From)

	_, err := o.Run(context.Background())
	assert.ErrorIs(t, err, ErrNotBuilt)
}

func TestCleanupResetsModel(t *testing.T) {
	dir := t.TempDir()
	src := source(t, dir, "foo.c")
	f := &fakeRunner{}
	o := newTest(t, Request{Name: "foo", Language: "c", Sources: []string{src}}, f)
	out, err := o.Build(context.Background())
	require.NoError(t, err)
	require.True(t, exists(out))

	require.NoError(t, o.Cleanup(context.Background()))
	assert.False(t, exists(out))
	assert.True(t, exists(src))
	assert.Equal(t, Unbuilt, o.State())
	assert.Empty(t, o.Output())
}

func TestLanguageTable(t *testing.T) {
	l, ok := Lookup("C++")
	require.True(t, ok)
	assert.Equal(t, Compiled, l.Kind)
	assert.Equal(t, []string{"c"}, l.Base)
	assert.Contains(t, Languages(), "python")
	assert.Error(t, RegisterLanguage(Language{Name: "c"}))
	assert.Error(t, RegisterLanguage(Language{}))
}

func TestWithOutputReceivesLines(t *testing.T) {
	var buf bytes.Buffer
	f := &fakeRunner{}
	o := newTest(t, Request{Name: "m", Language: "c", Sources: []string{source(t, t.TempDir(), "m.c")}}, f, WithOutput(&buf))
	o.forward("hello")
	assert.Equal(t, "hello\n", buf.String())
}
