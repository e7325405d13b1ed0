package build

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/loykin/polybuild/internal/deps"
	"github.com/loykin/polybuild/internal/env"
	"github.com/loykin/polybuild/internal/tool"
)

// CompileOptions describes one compile step.
type CompileOptions struct {
	// Language delegates the step to that language's orchestrator when it
	// differs from the orchestrator's own.
	Language string
	Sources  []string
	Flags    []string
	// Options are semantic flag options keyed by tool.FlagOption name.
	Options     map[string]any
	IncludeDirs []string
	Definitions []string
	// Output overrides the derived artifact path.
	Output      string
	DontLink    bool
	LibType     deps.LibType
	LinkerFlags []string
	// Dependencies are catalog names whose include directories,
	// definitions and libraries are injected.
	Dependencies []string
}

// LinkOptions describes one link or archive step.
type LinkOptions struct {
	// LibType selects the archiver for static libraries and the linker
	// otherwise; empty links an executable.
	LibType      deps.LibType
	Output       string
	Flags        []string
	Options      map[string]any
	Dependencies []string
}

// dependencyNames lists the interface libraries of the language and its
// base languages, deepest base first, followed by the model's own
// dependencies.
func (o *Orchestrator) dependencyNames() []string {
	var names []string
	add := func(n string) {
		if n != "" && !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	seen := make(map[string]bool)
	var visit func(string)
	visit = func(lang string) {
		if seen[lang] {
			return
		}
		seen[lang] = true
		l, ok := Lookup(lang)
		if !ok {
			return
		}
		for _, b := range l.Base {
			visit(b)
		}
		if _, ok := o.catalog.Get(l.Interface); ok {
			add(l.Interface)
		}
	}
	visit(o.lang.Name)
	for _, d := range o.req.Dependencies {
		add(d)
	}
	return names
}

func (o *Orchestrator) orderedDependencies() ([]string, error) {
	names := o.dependencyNames()
	if len(names) == 0 {
		return nil, nil
	}
	return o.catalog.Order(names)
}

// CompileDependencies builds every dependency the model needs, in
// dependency order. Internal dependencies with sources are compiled to
// their libtype; external ones only have their library resolved.
func (o *Orchestrator) CompileDependencies(ctx context.Context) error {
	names, err := o.orderedDependencies()
	if err != nil {
		return err
	}
	for _, name := range names {
		d, ok := o.catalog.Get(name)
		if !ok {
			return &deps.DependencyResolutionError{Name: name, Reason: "unknown dependency"}
		}
		if err := o.buildDependency(ctx, d); err != nil {
			return fmt.Errorf("dependency %s: %w", name, err)
		}
	}
	return nil
}

func (o *Orchestrator) buildDependency(ctx context.Context, d *deps.Dependency) error {
	if !d.LibType.Linkable() {
		return nil
	}
	if d.Kind == deps.External || len(d.Sources) == 0 {
		_, err := o.catalog.LibraryPath(d.Name, d.LibType, o.platform, "")
		return err
	}
	lang := d.Language
	if lang == "" {
		lang = o.lang.Name
	}
	if l, ok := Lookup(lang); !ok || l.Kind != Compiled {
		return &deps.DependencyResolutionError{Name: d.Name, LibType: d.LibType, Reason: "language " + lang + " cannot build libraries"}
	}
	internal, err := o.catalog.Order(d.Internal)
	if err != nil {
		return err
	}
	opts := CompileOptions{
		Language:     lang,
		Sources:      d.Sources,
		IncludeDirs:  d.IncludeDirs,
		Definitions:  d.Definitions,
		LibType:      d.LibType,
		Dependencies: internal,
	}
	if d.LibType != deps.Object {
		opts.Output = o.artifactPath(d.Name, d.LibType, o.catalog.Suffix)
	}
	impl, err := o.orchestratorFor(lang)
	if err != nil {
		return err
	}
	if d.LibType == deps.Object {
		// one compile per source; every object is linked into dependents
		objects := make([]string, 0, len(d.Sources))
		for _, src := range d.Sources {
			one := opts
			one.Sources = []string{src}
			path, err := impl.CompileModel(ctx, one)
			if err != nil {
				return err
			}
			objects = append(objects, path)
		}
		o.log.Info("dependency built", "dependency", d.Name, "libtype", string(d.LibType), "objects", objects)
		return o.catalog.SetObjects(d.Name, objects)
	}
	path, err := impl.CompileModel(ctx, opts)
	if err != nil {
		return err
	}
	o.log.Info("dependency built", "dependency", d.Name, "libtype", string(d.LibType), "path", path)
	return o.catalog.SetPath(d.Name, d.LibType, path)
}

// CompileModel compiles opts.Sources. With DontLink (or libtype object) it
// returns the object of the first source, so object dependencies compile
// one source per call. A static or shared libtype compiles objects and
// hands them to CallLinker; otherwise it links an executable, in one
// invocation when the compiler combines with its linker. An existing
// output is reused unless the request overwrites.
func (o *Orchestrator) CompileModel(ctx context.Context, opts CompileOptions) (string, error) {
	if opts.Language != "" && !strings.EqualFold(opts.Language, o.lang.Name) {
		impl, err := o.orchestratorFor(opts.Language)
		if err != nil {
			return "", err
		}
		o.log.Debug("delegating compile step", "to", impl.Language())
		opts.Language = ""
		return impl.CompileModel(ctx, opts)
	}
	switch o.lang.Kind {
	case Interpreted:
		if len(opts.Sources) == 0 {
			return "", ErrNoSources
		}
		if err := o.checkInterpreter(ctx); err != nil {
			return "", err
		}
		return opts.Sources[0], nil
	case Driver:
		return o.buildDriver(ctx, opts)
	}

	if len(opts.Sources) == 0 {
		return "", ErrNoSources
	}
	if opts.DontLink || opts.LibType == deps.Object {
		objects, err := o.compileObjects(ctx, opts)
		if err != nil {
			return "", err
		}
		return objects[0], nil
	}
	if opts.LibType == "" {
		combined, ln, err := o.combines()
		if err != nil {
			return "", err
		}
		if combined {
			return o.compileLinked(ctx, opts, ln)
		}
	}
	objects, err := o.compileObjects(ctx, opts)
	if err != nil {
		return "", err
	}
	return o.CallLinker(ctx, objects, LinkOptions{
		LibType:      opts.LibType,
		Output:       opts.Output,
		Flags:        opts.LinkerFlags,
		Dependencies: opts.Dependencies,
	})
}

// combines reports whether the compiler links in the same invocation,
// which requires the linker to be the compiler's own.
func (o *Orchestrator) combines() (bool, *tool.Descriptor, error) {
	if !o.compiler.CombinesWithLinker() {
		return false, nil, nil
	}
	ln, err := o.linker()
	if err != nil {
		return false, nil, err
	}
	return o.compiler.NoSeparateLinking || ln.Name == o.compiler.Name, ln, nil
}

func (o *Orchestrator) compileObjects(ctx context.Context, opts CompileOptions) ([]string, error) {
	objects := make([]string, 0, len(opts.Sources))
	for _, src := range opts.Sources {
		out := o.objectPath(src)
		if opts.Output != "" && len(opts.Sources) == 1 && (opts.DontLink || opts.LibType == deps.Object) {
			out = opts.Output
		}
		if o.cached(out) {
			objects = append(objects, out)
			continue
		}
		req := o.compileRequest(opts)
		req.DontLink = true
		req.OutputFile = out
		fs, err := o.compiler.Flags(req)
		if err != nil {
			return nil, err
		}
		_, err = o.invoke(ctx, call{
			tool:     o.compiler.Name,
			step:     "compile",
			argv:     o.compiler.Command(fs, []string{src}, o.getenv),
			output:   out,
			siblings: o.compiler.Siblings(out),
		})
		if err != nil {
			return nil, err
		}
		objects = append(objects, out)
	}
	return objects, nil
}

func (o *Orchestrator) compileLinked(ctx context.Context, opts CompileOptions, ln *tool.Descriptor) (string, error) {
	out := opts.Output
	if out == "" {
		out = o.artifactPath(o.req.Name, "", "")
	}
	if o.cached(out) {
		return out, nil
	}
	lopts, err := o.linkOptions(LinkOptions{Dependencies: opts.Dependencies})
	if err != nil {
		return "", err
	}
	req := o.compileRequest(opts)
	req.OutputFile = out
	req.Linker = ln
	req.LinkerFlags = opts.LinkerFlags
	req.LinkerOptions = lopts
	fs, err := o.compiler.Flags(req)
	if err != nil {
		return "", err
	}
	_, err = o.invoke(ctx, call{
		tool:     o.compiler.Name,
		step:     "compile",
		argv:     o.compiler.Command(fs, opts.Sources, o.getenv),
		output:   out,
		siblings: o.compiler.Siblings(out),
	})
	return out, err
}

// CallLinker links objects into an executable or shared library, or
// archives them for a static library. Every linkable dependency must
// resolve to a library file.
func (o *Orchestrator) CallLinker(ctx context.Context, objects []string, opts LinkOptions) (string, error) {
	if len(objects) == 0 {
		return "", ErrNoSources
	}
	out := opts.Output
	if out == "" {
		out = o.artifactPath(o.req.Name, opts.LibType, "")
	}
	if o.cached(out) {
		return out, nil
	}
	if opts.LibType == deps.Static {
		ar, err := o.archiver()
		if err != nil {
			return "", err
		}
		fs, err := ar.Flags(tool.FlagRequest{Flags: opts.Flags, Options: opts.Options, OutputFile: out, Getenv: o.getenv})
		if err != nil {
			return "", err
		}
		_, err = o.invoke(ctx, call{
			tool:     ar.Name,
			step:     "archive",
			argv:     ar.Command(fs, objects, o.getenv),
			output:   out,
			siblings: ar.Siblings(out),
		})
		return out, err
	}
	ln, err := o.linker()
	if err != nil {
		return "", err
	}
	lopts, err := o.linkOptions(opts)
	if err != nil {
		return "", err
	}
	fs, err := ln.Flags(tool.FlagRequest{Flags: opts.Flags, Options: lopts, OutputFile: out, Getenv: o.getenv})
	if err != nil {
		return "", err
	}
	_, err = o.invoke(ctx, call{
		tool:     ln.Name,
		step:     "link",
		argv:     ln.Command(fs, objects, o.getenv),
		output:   out,
		siblings: ln.Siblings(out),
	})
	return out, err
}

// Toolchain composes the compiler and linker flags a build-file driver
// passes on for this language.
func (o *Orchestrator) Toolchain(depNames []string) (Toolchain, error) {
	if o.lang.Kind != Compiled {
		return Toolchain{}, fmt.Errorf("language %s has no toolchain", o.lang.Name)
	}
	cfs, err := o.compiler.Flags(o.compileRequest(CompileOptions{Flags: o.req.CompilerFlags, Dependencies: depNames}))
	if err != nil {
		return Toolchain{}, err
	}
	ln, err := o.linker()
	if err != nil {
		return Toolchain{}, err
	}
	lopts, err := o.linkOptions(LinkOptions{Dependencies: depNames})
	if err != nil {
		return Toolchain{}, err
	}
	lfs, err := ln.Flags(tool.FlagRequest{Flags: o.req.LinkerFlags, Options: lopts, Getenv: o.getenv})
	if err != nil {
		return Toolchain{}, err
	}
	return Toolchain{Compiler: o.compiler, Linker: ln, CompilerFlags: cfs.Flags, LinkerFlags: lfs.Flags}, nil
}

// compileRequest injects include directories and definitions from the
// dependencies and the active environment prefix.
func (o *Orchestrator) compileRequest(opts CompileOptions) tool.FlagRequest {
	options := maps.Clone(opts.Options)
	if options == nil {
		options = make(map[string]any)
	}
	include := slices.Clone(opts.IncludeDirs)
	include = append(include, o.catalog.IncludeDirs(opts.Dependencies)...)
	if p, ok := env.ActivePrefix(o.getenv); ok {
		include = append(include, p.IncludeDirs(o.platform == tool.Windows)...)
	}
	mergeStrings(options, "include_dirs", include)
	defs := slices.Clone(opts.Definitions)
	mergeStrings(options, "definitions", append(defs, o.catalog.Definitions(opts.Dependencies)...))
	if opts.LibType == deps.Shared {
		options["position_independent"] = true
	}
	return tool.FlagRequest{Flags: opts.Flags, Options: options, Getenv: o.getenv}
}

func (o *Orchestrator) linkOptions(opts LinkOptions) (map[string]any, error) {
	options := maps.Clone(opts.Options)
	if options == nil {
		options = make(map[string]any)
	}
	if opts.LibType == deps.Shared {
		options["shared"] = true
	}
	files, err := o.libraryFiles(opts.Dependencies)
	if err != nil {
		return nil, err
	}
	mergeStrings(options, "library_files", files)
	if p, ok := env.ActivePrefix(o.getenv); ok {
		mergeStrings(options, "library_dirs", p.LibraryDirs(o.platform == tool.Windows))
	}
	return options, nil
}

// libraryFiles resolves the library of every linkable dependency. names
// are in dependency order; the result lists dependents first so static
// linkers see every symbol's user before its provider.
func (o *Orchestrator) libraryFiles(names []string) ([]string, error) {
	var files []string
	for i := len(names) - 1; i >= 0; i-- {
		d, ok := o.catalog.Get(names[i])
		if !ok {
			return nil, &deps.DependencyResolutionError{Name: names[i], Reason: "unknown dependency"}
		}
		if !d.LibType.Linkable() {
			continue
		}
		paths := o.catalog.ObjectFiles(d.Name)
		if d.LibType != deps.Object || len(paths) == 0 {
			path, err := o.catalog.LibraryPath(d.Name, d.LibType, o.platform, "")
			if err != nil {
				return nil, err
			}
			paths = []string{path}
		}
		for _, path := range paths {
			if !slices.Contains(files, path) {
				files = append(files, path)
			}
		}
	}
	return files, nil
}

func mergeStrings(options map[string]any, key string, vals []string) {
	if len(vals) == 0 {
		return
	}
	var cur []string
	switch v := options[key].(type) {
	case string:
		cur = []string{v}
	case []string:
		cur = slices.Clone(v)
	case []any:
		for _, x := range v {
			cur = append(cur, fmt.Sprint(x))
		}
	}
	for _, s := range vals {
		if !slices.Contains(cur, s) {
			cur = append(cur, s)
		}
	}
	options[key] = cur
}

// checkInterpreter runs the interpreter's version command once.
func (o *Orchestrator) checkInterpreter(ctx context.Context) error {
	name := o.configured("interpreter")
	if name == "" && o.lang.InterpreterEnv != "" {
		name = strings.TrimSpace(o.getenv(o.lang.InterpreterEnv))
	}
	if name == "" {
		name = o.lang.Interpreter
	}
	argv := append([]string{name}, o.lang.VersionFlags...)
	res, err := o.invoke(ctx, call{tool: filepath.Base(name), step: "version", argv: argv})
	if err != nil {
		return err
	}
	version := strings.TrimSpace(res.Output)
	if i := strings.IndexByte(version, '\n'); i >= 0 {
		version = version[:i]
	}
	o.mu.Lock()
	o.interpreter = name
	o.mu.Unlock()
	o.log.Info("interpreter available", "interpreter", name, "version", version)
	return nil
}
