// Package build turns a model declaration into built artifacts and a
// supervised running process: it resolves the language's tools, builds
// dependency libraries in order, compiles and links the model, tracks every
// product for rollback, and runs the result.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/polybuild/internal/deps"
	"github.com/loykin/polybuild/internal/env"
	"github.com/loykin/polybuild/internal/history"
	"github.com/loykin/polybuild/internal/metrics"
	"github.com/loykin/polybuild/internal/process"
	"github.com/loykin/polybuild/internal/tool"
)

// DefaultPollInterval is the sleep between polls of a running model's
// output queue.
const DefaultPollInterval = 10 * time.Millisecond

// Runner executes a tool invocation to completion.
type Runner func(ctx context.Context, spec process.Spec) (process.Result, error)

// Request declares one model.
type Request struct {
	Name     string
	Language string
	Sources  []string

	// Compiler, Linker and Archiver override the tools found through the
	// configuration store or the registry.
	Compiler      string
	Linker        string
	Archiver      string
	CompilerFlags []string
	LinkerFlags   []string

	// WorkDir receives build outputs and is the model's working directory.
	WorkDir   string
	Overwrite bool

	Dependencies []string
	// LibType builds the model as a library; empty builds an executable.
	LibType  deps.LibType
	DontLink bool

	// Tracer wraps the running model; a comma separated list is rejected.
	Tracer      string
	TracerFlags []string

	// Target is the build-file target for driver languages.
	Target string
	Env    []string
	Args   []string
}

type settings struct {
	registry *tool.Registry
	catalog  *deps.Catalog
	store    deps.Store
	env      *env.Env
	logger   *slog.Logger
	run      Runner
	hist     history.Sink
	platform tool.Platform
	out      io.Writer
	products *Products

	stopTimeout  time.Duration
	killTimeout  time.Duration
	drainTimeout time.Duration
	pollInterval time.Duration
	cleanupWait  time.Duration
}

// Option configures an Orchestrator.
type Option func(*settings)

func WithRegistry(r *tool.Registry) Option { return func(s *settings) { s.registry = r } }
func WithCatalog(c *deps.Catalog) Option   { return func(s *settings) { s.catalog = c } }

// WithStore sets the read-only configuration consulted for default tool
// names (option "compiler", "linker", "archiver", "interpreter" in the
// language's section).
func WithStore(st deps.Store) Option { return func(s *settings) { s.store = st } }

func WithEnv(e *env.Env) Option { return func(s *settings) { s.env = e } }

func WithLogger(l *slog.Logger) Option { return func(s *settings) { s.logger = l } }

// WithRunner replaces process.RunSync for tool invocations.
func WithRunner(r Runner) Option { return func(s *settings) { s.run = r } }

func WithHistory(h history.Sink) Option { return func(s *settings) { s.hist = h } }

func WithPlatform(p tool.Platform) Option { return func(s *settings) { s.platform = p } }

// WithOutput receives every line the running model prints.
func WithOutput(w io.Writer) Option { return func(s *settings) { s.out = w } }

// WithTimeouts sets the stop, kill and drain waits of a model run. Zero
// keeps the supervisor defaults.
func WithTimeouts(stop, kill, drain time.Duration) Option {
	return func(s *settings) {
		s.stopTimeout, s.killTimeout, s.drainTimeout = stop, kill, drain
	}
}

func WithPollInterval(d time.Duration) Option { return func(s *settings) { s.pollInterval = d } }

func WithCleanupWait(d time.Duration) Option { return func(s *settings) { s.cleanupWait = d } }

func withSettings(src settings) Option { return func(s *settings) { *s = src } }

// Orchestrator builds and runs one model. It is driven by a single control
// goroutine; State, Output and PID may be read concurrently.
type Orchestrator struct {
	settings
	req      Request
	lang     Language
	log      *slog.Logger
	compiler *tool.Descriptor
	tracers  []process.Tracer

	mu          sync.Mutex
	state       State
	output      string
	interpreter string
	delegates   map[string]LanguageOrchestrator

	pid     atomic.Int64
	running atomic.Bool
}

var _ LanguageOrchestrator = (*Orchestrator)(nil)

// New validates req and resolves the language's compiler. Tool and tracer
// problems are reported here, before anything runs.
func New(req Request, opts ...Option) (*Orchestrator, error) {
	lang, ok := Lookup(req.Language)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLanguage, req.Language)
	}
	if req.Name == "" && len(req.Sources) > 0 {
		base := filepath.Base(req.Sources[0])
		req.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if req.Name == "" {
		return nil, errors.New("model requires a name or sources")
	}
	req.Language = lang.Name

	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	if s.registry == nil {
		s.registry = tool.Default()
	}
	if s.platform == "" {
		s.platform = s.registry.Platform()
	}
	if s.catalog == nil {
		s.catalog, _ = deps.NewCatalog()
	}
	if s.env == nil {
		s.env = env.New()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.run == nil {
		s.run = process.RunSync
	}
	if s.hist == nil {
		s.hist = history.Discard
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}
	if s.products == nil {
		s.products = NewProducts(s.cleanupWait)
	}

	o := &Orchestrator{
		settings:  s,
		req:       req,
		lang:      lang,
		delegates: make(map[string]LanguageOrchestrator),
	}
	o.log = s.logger.With("model", req.Name, "language", lang.Name)

	tracers, err := parseTracers(req.Tracer)
	if err != nil {
		return nil, err
	}
	probe := process.Spec{Name: req.Name, Args: []string{req.Name}, Tracers: tracers, GOOS: goos(s.platform)}
	if err := probe.Validate(); err != nil {
		return nil, err
	}
	o.tracers = tracers

	if lang.Kind != Interpreted {
		if o.compiler, err = o.resolveTool(tool.Compiler, req.Compiler); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func parseTracers(s string) ([]process.Tracer, error) {
	var out []process.Tracer
	for _, name := range strings.Split(s, ",") {
		t, err := process.ParseTracer(name)
		if err != nil {
			return nil, err
		}
		if t != "" {
			out = append(out, t)
		}
	}
	return out, nil
}

func goos(p tool.Platform) string {
	switch p {
	case tool.Windows:
		return "windows"
	case tool.MacOS:
		return "darwin"
	default:
		return "linux"
	}
}

func (o *Orchestrator) Name() string     { return o.req.Name }
func (o *Orchestrator) Language() string { return o.lang.Name }

// Request returns the model declaration as normalised by New.
func (o *Orchestrator) Request() Request { return o.req }

// Compiler is the resolved compiler, nil for interpreted languages.
func (o *Orchestrator) Compiler() *tool.Descriptor { return o.compiler }

func (o *Orchestrator) Products() *Products { return o.products }

// Output is the built artifact, empty until Build succeeds.
func (o *Orchestrator) Output() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.output
}

// PID is the pid of the running model, 0 when it is not running.
func (o *Orchestrator) PID() int { return int(o.pid.Load()) }

func (o *Orchestrator) getenv(k string) string { return o.env.Getenv(k) }

// configured returns option from the language's section of the store.
func (o *Orchestrator) configured(option string) string {
	if o.store == nil {
		return ""
	}
	v, _ := o.store.Get(o.lang.Name, option)
	return v
}

func (o *Orchestrator) resolveTool(t tool.Type, name string) (*tool.Descriptor, error) {
	if name == "" {
		name = o.configured(string(t))
	}
	if name != "" {
		return o.registry.Resolve(t, name)
	}
	switch t {
	case tool.Linker:
		return o.registry.LinkerFor(o.compiler)
	case tool.Archiver:
		return o.registry.ArchiverFor(o.compiler, o.lang.Name)
	default:
		return o.registry.FindCompatible(t, o.lang.Name)
	}
}

func (o *Orchestrator) linker() (*tool.Descriptor, error) {
	return o.resolveTool(tool.Linker, o.req.Linker)
}

func (o *Orchestrator) archiver() (*tool.Descriptor, error) {
	return o.resolveTool(tool.Archiver, o.req.Archiver)
}

// orchestratorFor returns the orchestrator of another language, created on
// first use with the same settings so products are shared for rollback.
func (o *Orchestrator) orchestratorFor(name string) (LanguageOrchestrator, error) {
	l, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLanguage, name)
	}
	if l.Name == o.lang.Name {
		return o, nil
	}
	o.mu.Lock()
	impl, ok := o.delegates[l.Name]
	o.mu.Unlock()
	if ok {
		return impl, nil
	}
	req := Request{
		Name:      o.req.Name,
		Language:  l.Name,
		WorkDir:   o.req.WorkDir,
		Overwrite: o.req.Overwrite,
		Env:       o.req.Env,
	}
	if o.lang.Kind == Driver {
		req.CompilerFlags = o.req.CompilerFlags
		req.LinkerFlags = o.req.LinkerFlags
	}
	factory := l.New
	if factory == nil {
		factory = func(r Request, opts ...Option) (LanguageOrchestrator, error) { return New(r, opts...) }
	}
	impl, err := factory(req, withSettings(o.settings))
	if err != nil {
		return nil, fmt.Errorf("orchestrator for %s: %w", l.Name, err)
	}
	o.mu.Lock()
	o.delegates[l.Name] = impl
	o.mu.Unlock()
	return impl, nil
}

// modelDir is where model-level artifacts are written.
func (o *Orchestrator) modelDir() string {
	if o.req.WorkDir != "" {
		return o.req.WorkDir
	}
	if len(o.req.Sources) > 0 {
		return filepath.Dir(o.req.Sources[0])
	}
	return "."
}

// objectPath names the object built from src, inside WorkDir when set.
func (o *Orchestrator) objectPath(src string) string {
	name := tool.OutputName(src, tool.OutputObject, o.platform, "")
	if o.req.WorkDir != "" {
		name = filepath.Join(o.req.WorkDir, filepath.Base(name))
	}
	return name
}

// artifactPath names a linked artifact called name.
func (o *Orchestrator) artifactPath(name string, lt deps.LibType, suffix string) string {
	kind := tool.OutputExecutable
	switch lt {
	case deps.Static:
		kind = tool.OutputStatic
	case deps.Shared:
		kind = tool.OutputShared
	}
	return tool.OutputName(filepath.Join(o.modelDir(), name), kind, o.platform, suffix)
}

// cached reports an existing output that may be reused.
func (o *Orchestrator) cached(path string) bool {
	if o.req.Overwrite || path == "" {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}
	o.log.Debug("using existing output", "path", path)
	return true
}

type call struct {
	tool     string
	step     string
	argv     []string
	dir      string
	output   string
	siblings []string
}

// invoke runs one tool synchronously and records its output as a product.
// A non-zero exit or a missing output is a *CompilationFailure.
func (o *Orchestrator) invoke(ctx context.Context, c call) (process.Result, error) {
	spec := process.Spec{
		Name:        o.req.Name + ":" + c.tool,
		Args:        c.argv,
		Env:         o.env.Merge(o.req.Env),
		WorkDir:     c.dir,
		KillTimeout: o.killTimeout,
	}
	o.log.Debug("invoking tool", "tool", c.tool, "step", c.step, "argv", c.argv)
	res, err := o.run(ctx, spec)
	metrics.ObserveToolCall(c.tool, c.step, res.Duration.Seconds(), err == nil)
	o.record(ctx, history.EventToolCall, history.Record{
		Tool:     c.tool,
		Command:  strings.Join(c.argv, " "),
		ExitCode: res.ExitCode,
		Duration: res.Duration.Milliseconds(),
		Error:    errString(err),
	})
	if err != nil {
		f := &CompilationFailure{
			Model:    o.req.Name,
			Tool:     c.tool,
			Command:  c.argv,
			Output:   res.Output,
			ExitCode: res.ExitCode,
			Err:      err,
		}
		var ee *process.ExitError
		if !errors.As(err, &ee) {
			f.Reason = err.Error()
		}
		return res, f
	}
	if c.output != "" {
		if _, serr := os.Stat(c.output); serr != nil {
			return res, &CompilationFailure{
				Model:    o.req.Name,
				Tool:     c.tool,
				Command:  c.argv,
				Output:   res.Output,
				ExitCode: res.ExitCode,
				Reason:   fmt.Sprintf("output %s was not produced", c.output),
				Err:      serr,
			}
		}
		o.products.Add(c.output, c.siblings...)
	}
	return res, nil
}

func (o *Orchestrator) record(ctx context.Context, t history.EventType, r history.Record) {
	r.Model = o.req.Name
	r.Language = o.lang.Name
	if err := o.hist.Send(context.WithoutCancel(ctx), history.New(t, r)); err != nil {
		o.log.Warn("history send failed", "event", string(t), "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Build compiles the dependencies and the model. On failure every product
// recorded so far is removed before the error is returned.
func (o *Orchestrator) Build(ctx context.Context) (out string, err error) {
	if err := o.setState(Compiling); err != nil {
		return "", err
	}
	start := time.Now()
	o.log.Info("building model")
	defer func() {
		metrics.ObserveBuild(o.req.Name, o.lang.Name, time.Since(start).Seconds(), err == nil)
		if err != nil {
			o.rollback(ctx, err)
			_ = o.setState(Failed)
			o.record(ctx, history.EventBuildFailed, history.Record{
				Duration: time.Since(start).Milliseconds(),
				Error:    err.Error(),
				ExitCode: exitCode(err),
			})
			return
		}
		o.mu.Lock()
		o.output = out
		o.mu.Unlock()
		_ = o.setState(Built)
		o.log.Info("model built", "output", out, "duration", time.Since(start))
		o.record(ctx, history.EventBuilt, history.Record{
			Duration: time.Since(start).Milliseconds(),
			Products: o.products.Paths(),
		})
	}()

	if err = o.CompileDependencies(ctx); err != nil {
		return "", err
	}
	return o.buildModel(ctx)
}

func exitCode(err error) int {
	var f *CompilationFailure
	if errors.As(err, &f) {
		return f.ExitCode
	}
	return 0
}

func (o *Orchestrator) buildModel(ctx context.Context) (string, error) {
	names, err := o.orderedDependencies()
	if err != nil {
		return "", err
	}
	opts := CompileOptions{
		Sources:      o.req.Sources,
		Flags:        o.req.CompilerFlags,
		LinkerFlags:  o.req.LinkerFlags,
		LibType:      o.req.LibType,
		DontLink:     o.req.DontLink,
		Dependencies: names,
	}
	if o.lang.Kind == Driver {
		opts.Flags = nil
	}
	if o.lang.Kind != Compiled || opts.DontLink || opts.LibType == deps.Object {
		return o.CompileModel(ctx, opts)
	}
	if opts.LibType == "" {
		combined, _, err := o.combines()
		if err != nil {
			return "", err
		}
		if combined {
			return o.CompileModel(ctx, opts)
		}
	}
	if len(opts.Sources) == 0 {
		return "", ErrNoSources
	}
	objects, err := o.compileObjects(ctx, opts)
	if err != nil {
		return "", err
	}
	if err := o.setState(Linking); err != nil {
		return "", err
	}
	return o.CallLinker(ctx, objects, LinkOptions{
		LibType:      opts.LibType,
		Flags:        opts.LinkerFlags,
		Dependencies: names,
	})
}

func (o *Orchestrator) rollback(ctx context.Context, cause error) {
	n, err := o.products.Cleanup(SourceExtensions())
	metrics.AddProductsRemoved(o.req.Name, n)
	if err != nil {
		metrics.IncCleanupFailure(o.req.Name)
		o.log.Error("rollback incomplete", "error", err)
	}
	o.log.Warn("build failed, products removed", "removed", n, "error", cause)
	o.record(ctx, history.EventCleanup, history.Record{Error: errString(err)})
}

// Cleanup removes every recorded product and returns the model to
// Unbuilt.
func (o *Orchestrator) Cleanup(ctx context.Context) error {
	if o.running.Load() {
		return ErrRunning
	}
	paths := o.products.Paths()
	n, err := o.products.Cleanup(SourceExtensions())
	metrics.AddProductsRemoved(o.req.Name, n)
	if err != nil {
		metrics.IncCleanupFailure(o.req.Name)
	}
	o.record(ctx, history.EventCleanup, history.Record{Products: paths, Error: errString(err)})
	if err != nil {
		return err
	}
	if s := o.State(); s == Built || s == Failed {
		o.mu.Lock()
		o.output = ""
		o.mu.Unlock()
		return o.setState(Unbuilt)
	}
	return nil
}
