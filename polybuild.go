// Package polybuild builds and runs models written in C, C++, Fortran,
// Python or behind make/cmake build files. It is a thin facade over the
// internal packages for embedding in other programs.
package polybuild

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/polybuild/internal/build"
	cfg "github.com/loykin/polybuild/internal/config"
	"github.com/loykin/polybuild/internal/deps"
	"github.com/loykin/polybuild/internal/env"
	"github.com/loykin/polybuild/internal/history"
	"github.com/loykin/polybuild/internal/history/factory"
	"github.com/loykin/polybuild/internal/logger"
	"github.com/loykin/polybuild/internal/metrics"
	"github.com/loykin/polybuild/internal/server"
	"github.com/loykin/polybuild/internal/tool"
)

// Re-export core types for external consumers.

type Request = build.Request

type Orchestrator = build.Orchestrator

type Option = build.Option

type RunResult = build.RunResult

type State = build.State

type Descriptor = tool.Descriptor

type Dependency = deps.Dependency

type Catalog = deps.Catalog

type Config = cfg.Config

type ModelConfig = cfg.ModelConfig

type HistorySink = history.Sink

type Router = server.Router

type SamplerConfig = metrics.SamplerConfig

// New builds an orchestrator for req.
func New(req Request, opts ...Option) (*Orchestrator, error) { return build.New(req, opts...) }

// RegisterTool adds d to the process-wide tool registry.
func RegisterTool(d *Descriptor) error { return tool.Default().Register(d) }

// LoadConfig reads a TOML configuration file.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewHistorySink opens one sink per DSN; no DSN yields a sink that drops
// events.
func NewHistorySink(dsns ...string) (HistorySink, error) { return factory.NewSinks(dsns...) }

// NewLogger builds the tool logger described by the configuration.
func NewLogger(c *Config, console io.Writer) (*slog.Logger, io.Closer, error) {
	return logger.New(logConfig(c), console)
}

func logConfig(c *Config) logger.Config {
	l := c.File.Log
	return logger.Config{
		Level:      l.Level,
		Format:     l.Format,
		Dir:        c.Resolve(l.Dir),
		File:       c.Resolve(l.File),
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
	}
}

// CatalogFromConfig builds the dependency catalog declared in c and fills
// external library paths from its language sections. The returned items
// are settings the configuration still lacks.
func CatalogFromConfig(c *Config) (*Catalog, []deps.ConfigItem, error) {
	cat, err := deps.NewCatalog()
	if err != nil {
		return nil, nil, err
	}
	for _, dc := range c.File.Dependencies {
		d := &deps.Dependency{
			Name:        dc.Name,
			Kind:        deps.Kind(strings.ToLower(dc.Kind)),
			LibType:     deps.LibType(strings.ToLower(dc.LibType)),
			Language:    strings.ToLower(dc.Language),
			Sources:     c.ResolveAll(dc.Sources),
			IncludeDirs: c.ResolveAll(dc.IncludeDirs),
			Definitions: dc.Definitions,
			Include:     c.Resolve(dc.Include),
			Internal:    dc.Internal,
		}
		if err := validLibType(d.LibType); err != nil {
			return nil, nil, fmt.Errorf("dependency %s: %w", dc.Name, err)
		}
		if dc.Path != "" {
			lt := d.LibType
			if lt == "" {
				lt = deps.Shared
			}
			d.Paths = map[deps.LibType]string{lt: c.Resolve(dc.Path)}
		}
		if err := cat.Add(d); err != nil {
			return nil, nil, err
		}
	}
	return cat, cat.Configure(c), nil
}

func validLibType(lt deps.LibType) error {
	switch lt {
	case "", deps.HeaderOnly, deps.Object, deps.Static, deps.Shared:
		return nil
	}
	return fmt.Errorf("unknown libtype %q", lt)
}

// RequestFromConfig maps a model declaration onto a build request. Relative
// paths are taken from the configuration file's directory.
func RequestFromConfig(c *Config, m ModelConfig) (Request, error) {
	lt := deps.LibType(strings.ToLower(m.LibType))
	if err := validLibType(lt); err != nil {
		return Request{}, fmt.Errorf("model %s: %w", m.Name, err)
	}
	b := c.File.Build
	workDir := m.WorkDir
	if workDir == "" {
		workDir = b.WorkDir
	}
	overwrite := b.Overwrite
	if m.Overwrite != nil {
		overwrite = *m.Overwrite
	}
	return Request{
		Name:          m.Name,
		Language:      m.Language,
		Sources:       c.ResolveAll(m.Sources),
		Compiler:      m.Compiler,
		Linker:        m.Linker,
		Archiver:      m.Archiver,
		CompilerFlags: m.CompilerFlags,
		LinkerFlags:   m.LinkerFlags,
		WorkDir:       c.Resolve(workDir),
		Overwrite:     overwrite,
		Dependencies:  m.Dependencies,
		LibType:       lt,
		DontLink:      m.DontLink,
		Tracer:        c.File.Run.Tracer,
		TracerFlags:   c.File.Run.TracerFlags,
		Target:        m.Target,
		Env:           m.Env,
		Args:          m.Args,
	}, nil
}

// Project holds the models declared in one configuration together with the
// shared catalog, logger and history sink their orchestrators use.
type Project struct {
	cfg      *Config
	catalog  *Catalog
	registry *tool.Registry
	log      *slog.Logger
	hist     HistorySink
	opts     []Option
	// Missing lists configuration the external dependencies still need.
	Missing []deps.ConfigItem

	mu      sync.Mutex
	models  map[string]*Orchestrator
	writers []io.Closer
}

// Open prepares a project from c. Extra options are applied to every
// model after the ones derived from the configuration.
func Open(c *Config, log *slog.Logger, hist HistorySink, extra ...Option) (*Project, error) {
	if log == nil {
		log = slog.Default()
	}
	if hist == nil {
		hist = history.Discard
	}
	cat, missing, err := CatalogFromConfig(c)
	if err != nil {
		return nil, err
	}
	globalEnv, err := c.GlobalEnv()
	if err != nil {
		return nil, fmt.Errorf("global env: %w", err)
	}
	e := env.New()
	for _, kv := range globalEnv {
		if k, v, ok := strings.Cut(kv, "="); ok {
			e.Set(k, v)
		}
	}
	run := c.File.Run
	opts := []Option{
		build.WithRegistry(tool.Default()),
		build.WithCatalog(cat),
		build.WithStore(c),
		build.WithEnv(e),
		build.WithLogger(log),
		build.WithHistory(hist),
		build.WithTimeouts(run.StopTimeout, run.KillTimeout, run.DrainTimeout),
	}
	if run.PollInterval > 0 {
		opts = append(opts, build.WithPollInterval(run.PollInterval))
	}
	if w := c.File.Build.CleanupWait; w > 0 {
		opts = append(opts, build.WithCleanupWait(w))
	}
	for _, item := range missing {
		log.Warn("dependency setting missing", "setting", item.String())
	}
	return &Project{
		cfg:      c,
		catalog:  cat,
		registry: tool.Default(),
		log:      log,
		hist:     hist,
		opts:     append(opts, extra...),
		Missing:  missing,
		models:   make(map[string]*Orchestrator),
	}, nil
}

// Catalog returns the project's dependency catalog.
func (p *Project) Catalog() *Catalog { return p.catalog }

// Names lists the declared models in sorted order.
func (p *Project) Names() []string {
	out := make([]string, 0, len(p.cfg.File.Models))
	for _, m := range p.cfg.File.Models {
		out = append(out, m.Name)
	}
	sort.Strings(out)
	return out
}

// Model returns the orchestrator of the named model, creating it on first
// use. When a log directory is configured the model's output lines go to
// <dir>/<model>.log.
func (p *Project) Model(name string) (*Orchestrator, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o, ok := p.models[name]; ok {
		return o, nil
	}
	m, ok := p.cfg.Model(name)
	if !ok {
		return nil, fmt.Errorf("unknown model %q", name)
	}
	req, err := RequestFromConfig(p.cfg, m)
	if err != nil {
		return nil, err
	}
	opts := p.opts
	if w := logConfig(p.cfg).ModelWriter(name); w != nil {
		p.writers = append(p.writers, w)
		opts = append([]Option{build.WithOutput(w)}, opts...)
	}
	o, err := build.New(req, opts...)
	if err != nil {
		return nil, err
	}
	p.models[name] = o
	p.log.Debug("model prepared", "model", name, "language", req.Language, "sources", len(req.Sources))
	return o, nil
}

// Build builds the named model and returns its output path.
func (p *Project) Build(ctx context.Context, name string) (string, error) {
	o, err := p.Model(name)
	if err != nil {
		return "", err
	}
	return o.Build(ctx)
}

// Run builds the named model when needed and runs it with args.
func (p *Project) Run(ctx context.Context, name string, args ...string) (RunResult, error) {
	o, err := p.Model(name)
	if err != nil {
		return RunResult{ExitCode: -1}, err
	}
	if o.State() != build.Built {
		if _, err := o.Build(ctx); err != nil {
			return RunResult{ExitCode: -1}, err
		}
	}
	return o.Run(ctx, args...)
}

// Cleanup removes the products of every model created so far.
func (p *Project) Cleanup(ctx context.Context) error {
	p.mu.Lock()
	models := make([]*Orchestrator, 0, len(p.models))
	for _, o := range p.models {
		models = append(models, o)
	}
	p.mu.Unlock()
	var errs []error
	for _, o := range models {
		if err := o.Cleanup(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Router exposes every declared model over HTTP.
func (p *Project) Router(basePath string) (*Router, error) {
	r := server.NewRouter(p.registry, p.catalog, basePath)
	for _, name := range p.Names() {
		o, err := p.Model(name)
		if err != nil {
			return nil, err
		}
		r.AddModel(o)
	}
	return r, nil
}

// Close releases the model log writers and the history sink.
func (p *Project) Close() error {
	p.mu.Lock()
	writers := p.writers
	p.writers = nil
	p.mu.Unlock()
	var errs []error
	for _, w := range writers {
		errs = append(errs, w.Close())
	}
	if c, ok := p.hist.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// NewHTTPServer starts an HTTP server exposing r.
func NewHTTPServer(addr string, r *Router) (*http.Server, error) {
	return server.NewServer(addr, r)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// NewSampler returns a resource sampler for running models.
func NewSampler(c SamplerConfig) *metrics.Sampler { return metrics.NewSampler(c) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
