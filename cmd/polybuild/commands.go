package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/polybuild"
	"github.com/loykin/polybuild/internal/build"
	"github.com/loykin/polybuild/internal/metrics"
	"github.com/loykin/polybuild/internal/tool"
)

type command struct {
	global *GlobalFlags
	stdout io.Writer
	stderr io.Writer
}

type buildResult struct {
	Model  string `json:"model"`
	State  string `json:"state"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Build builds the named models, or every declared model with --all.
// It stops at the first failure.
func (c *command) Build(ctx context.Context, f BuildFlags, names []string) error {
	s, err := openSession(c.global, c.stderr)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if f.All {
		names = s.project.Names()
	}
	if len(names) == 0 {
		return fmt.Errorf("model name is required (or use --all)")
	}
	var results []buildResult
	defer func() { printJSON(c.stdout, results) }()
	for _, name := range names {
		out, err := s.project.Build(ctx, name)
		r := buildResult{Model: name, Output: out}
		if o, oerr := s.project.Model(name); oerr == nil {
			r.State = o.State().String()
		}
		if err != nil {
			r.Error = err.Error()
			results = append(results, r)
			return fmt.Errorf("build %s: %w", name, err)
		}
		results = append(results, r)
	}
	return nil
}

// exitError carries a model's non-zero exit status to main.
type exitError struct {
	model string
	code  int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("model %s exited with code %d", e.model, e.code)
}

// Run builds the model when needed, runs it with args and forwards its
// output to stdout. SIGINT or SIGTERM kills the model.
func (c *command) Run(ctx context.Context, f RunFlags, name string, args []string) error {
	s, err := openSession(c.global, c.stderr, build.WithOutput(c.stdout))
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	o, err := s.project.Model(name)
	if err != nil {
		return err
	}
	interval := s.cfg.File.Metrics.SampleInterval
	if interval <= 0 {
		interval = time.Second
	}
	sampler := polybuild.NewSampler(polybuild.SamplerConfig{Enabled: true, Interval: interval})
	// the model stays listed with pid 0 after exit so its samples are kept
	sampler.Start(ctx, func() map[string]int32 { return map[string]int32{name: int32(o.PID())} })

	res, err := s.project.Run(ctx, name, args...)
	sampler.Stop()
	if samples, ok := sampler.History(name); ok {
		if peak, ok := peakMemory(samples); ok {
			s.log.Info("model resources", "model", name, "samples", len(samples),
				"peak_memory_mb", peak.MemoryMB, "peak_cpu_percent", peak.CPUPercent, "threads", peak.NumThreads)
		}
	}
	if f.Clean {
		if cerr := s.project.Cleanup(context.WithoutCancel(ctx)); cerr != nil {
			s.log.Error("cleanup failed", "model", name, "error", cerr)
			err = errors.Join(err, cerr)
		}
	}
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &exitError{model: name, code: res.ExitCode}
	}
	return nil
}

// peakMemory returns the sample with the largest resident memory.
func peakMemory(samples []metrics.Sample) (metrics.Sample, bool) {
	if len(samples) == 0 {
		return metrics.Sample{}, false
	}
	peak := samples[0]
	for _, sm := range samples[1:] {
		if sm.MemoryRSS > peak.MemoryRSS {
			peak = sm
		}
	}
	return peak, true
}

// Tools lists the registered tools, the ones compatible with a language,
// or probes each tool's executable for its version.
func (c *command) Tools(ctx context.Context, f ToolsFlags) error {
	reg := tool.Default()
	types := tool.Types
	if f.Type != "" {
		t := tool.Type(strings.ToLower(f.Type))
		if !slices.Contains(tool.Types, t) {
			return fmt.Errorf("unknown tool type %q", f.Type)
		}
		types = []tool.Type{t}
	}
	if f.Probe {
		infos := slices.DeleteFunc(reg.ProbeAll(ctx), func(i tool.ToolInfo) bool {
			return !slices.Contains(types, i.Type)
		})
		printJSON(c.stdout, infos)
		return nil
	}
	type row struct {
		Name      string    `json:"name"`
		Type      tool.Type `json:"type"`
		Languages []string  `json:"languages"`
		Detected  bool      `json:"detected"`
	}
	var rows []row
	for _, t := range types {
		ds := reg.All(t)
		if f.Language != "" {
			ds = reg.Compatible(t, f.Language)
		}
		for _, d := range ds {
			rows = append(rows, row{Name: d.Name, Type: d.Type, Languages: d.Languages, Detected: reg.Detected(d)})
		}
	}
	printJSON(c.stdout, rows)
	return nil
}

// Order prints the build order of the named dependencies.
func (c *command) Order(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("dependency name is required")
	}
	cfg, err := loadConfig(c.global)
	if err != nil {
		return err
	}
	cat, missing, err := polybuild.CatalogFromConfig(cfg)
	if err != nil {
		return err
	}
	for _, m := range missing {
		_, _ = fmt.Fprintf(c.stderr, "missing setting %s\n", m)
	}
	order, err := cat.Order(names)
	if err != nil {
		return err
	}
	printJSON(c.stdout, order)
	return nil
}

// Languages prints the supported languages and their source extensions.
func (c *command) Languages() error {
	type row struct {
		Name       string   `json:"name"`
		Kind       string   `json:"kind"`
		Extensions []string `json:"extensions,omitempty"`
		Base       []string `json:"base,omitempty"`
	}
	var rows []row
	for _, name := range build.Languages() {
		l, _ := build.Lookup(name)
		rows = append(rows, row{Name: l.Name, Kind: l.Kind.String(), Extensions: l.Extensions, Base: l.Base})
	}
	printJSON(c.stdout, rows)
	return nil
}

// Serve exposes the declared models over HTTP until SIGINT or SIGTERM.
func (c *command) Serve(ctx context.Context, f ServeFlags) error {
	s, err := openSession(c.global, c.stderr)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	sc := s.cfg.File

	listen := f.Listen
	if listen == "" {
		listen = sc.Server.Listen
	}
	if listen == "" {
		return fmt.Errorf("server listen address required: set [server].listen or --listen")
	}
	basePath := f.BasePath
	if basePath == "" {
		basePath = sc.Server.BasePath
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	router, err := s.project.Router(basePath)
	if err != nil {
		return err
	}
	sampler := polybuild.NewSampler(polybuild.SamplerConfig{
		Enabled:  sc.Metrics.SampleInterval > 0,
		Interval: sc.Metrics.SampleInterval,
	})
	if err := sampler.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		s.log.Warn("register sampler metrics", "error", err)
	}
	sampler.Start(ctx, router.PIDs)
	defer sampler.Stop()

	if sc.Metrics.Listen != "" {
		go func() {
			if err := polybuild.ServeMetrics(sc.Metrics.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("metrics server", "error", err)
			}
		}()
	}

	srv, err := polybuild.NewHTTPServer(listen, router)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}
	s.log.Info("serving", "listen", listen, "base_path", basePath, "models", len(s.project.Names()))
	if f.NonBlocking {
		return srv.Close()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	s.log.Info("shutting down")
	return srv.Close()
}
