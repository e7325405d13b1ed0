package tool

import (
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Detector reports whether a tool's executable is available on the host.
type Detector func(d *Descriptor) bool

// LookPathDetector detects tools with exec.LookPath on their effective
// executable name.
func LookPathDetector(d *Descriptor) bool {
	_, err := exec.LookPath(d.ExecutableName(nil))
	return err == nil
}

// Registry is a catalog of tool descriptors indexed by tooltype and name
// and by tooltype and language. It is append-only.
//
// Precedence: FindCompatible applies LastRegisteredWins. Among descriptors
// registered for the same language that support the current platform and
// are detected on the host, the one registered last is returned. Callers
// that need a specific tool must resolve it by name.
type Registry struct {
	mu        sync.RWMutex
	names     map[Type]map[string]*Descriptor
	languages map[Type]map[string][]*Descriptor
	linkers   map[*Descriptor]*Descriptor
	order     map[Type][]*Descriptor

	platform Platform
	detect   Detector
	detected map[*Descriptor]bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithPlatform overrides the platform used for compatibility checks.
func WithPlatform(p Platform) RegistryOption {
	return func(r *Registry) { r.platform = p }
}

// WithDetector overrides executable detection.
func WithDetector(d Detector) RegistryOption {
	return func(r *Registry) { r.detect = d }
}

// NewRegistry returns an empty registry for the current platform.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		names:     make(map[Type]map[string]*Descriptor),
		languages: make(map[Type]map[string][]*Descriptor),
		linkers:   make(map[*Descriptor]*Descriptor),
		order:     make(map[Type][]*Descriptor),
		platform:  CurrentPlatform(),
		detect:    LookPathDetector,
		detected:  make(map[*Descriptor]bool),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Platform returns the platform the registry resolves for.
func (r *Registry) Platform() Platform { return r.platform }

// Register inserts d under its toolname, every alias and each of its
// languages. Registering the same descriptor again is a no-op. A compiler
// with IsLinker also registers its companion linker.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || strings.TrimSpace(d.Name) == "" {
		return &InvalidDescriptorError{Reason: "toolname is required"}
	}
	if !d.Type.valid() {
		return &InvalidDescriptorError{Name: d.Name, Reason: "unknown tooltype " + string(d.Type)}
	}
	if slices.Contains(d.Aliases, d.Name) {
		return &InvalidDescriptorError{Name: d.Name, Reason: "alias equals toolname"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(d)
}

func (r *Registry) registerLocked(d *Descriptor) error {
	byName := r.names[d.Type]
	if byName == nil {
		byName = make(map[string]*Descriptor)
		r.names[d.Type] = byName
	}
	if existing := byName[d.Name]; existing == d {
		return nil
	}
	keys := append([]string{d.Name}, d.Aliases...)
	for _, k := range keys {
		if existing, ok := byName[k]; ok && existing != d {
			return &RegistrationConflict{Type: d.Type, Key: k, Existing: existing.Name, New: d.Name}
		}
	}

	var companion *Descriptor
	if d.Type == Compiler && d.IsLinker {
		companion = d.linkerDescriptor()
		lnames := r.names[Linker]
		for _, k := range append([]string{companion.Name}, companion.Aliases...) {
			if existing, ok := lnames[k]; ok {
				return &RegistrationConflict{Type: Linker, Key: k, Existing: existing.Name, New: companion.Name}
			}
		}
	}

	for _, k := range keys {
		byName[k] = d
	}
	r.order[d.Type] = append(r.order[d.Type], d)
	byLang := r.languages[d.Type]
	if byLang == nil {
		byLang = make(map[string][]*Descriptor)
		r.languages[d.Type] = byLang
	}
	for _, lang := range d.Languages {
		lang = strings.ToLower(lang)
		byLang[lang] = append(byLang[lang], d)
	}

	if companion != nil {
		if err := r.registerLocked(companion); err != nil {
			return err
		}
		r.linkers[d] = companion
	}
	return nil
}

// MustRegister registers each descriptor and panics on failure. It is meant
// for init-time registration of built-in tools.
func (r *Registry) MustRegister(ds ...*Descriptor) {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

// candidates returns the lookup keys tried for nameOrPath, in order.
func candidates(nameOrPath string) []string {
	s := strings.TrimSpace(nameOrPath)
	base := s
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	noExt := strings.TrimSuffix(base, filepath.Ext(base))
	out := make([]string, 0, 5)
	for _, k := range []string{s, strings.ToLower(s), base, noExt, strings.ToLower(noExt)} {
		if k != "" && !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}

// TryResolve looks up a tool by exact toolname, lower-case name, basename or
// basename without extension and reports whether one matched.
func (r *Registry) TryResolve(t Type, nameOrPath string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byName := r.names[t]
	for _, k := range candidates(nameOrPath) {
		if d, ok := byName[k]; ok {
			return d, true
		}
	}
	return nil, false
}

// Resolve is TryResolve returning a *ToolNotFoundError when nothing matches.
func (r *Registry) Resolve(t Type, nameOrPath string) (*Descriptor, error) {
	if d, ok := r.TryResolve(t, nameOrPath); ok {
		return d, nil
	}
	return nil, &ToolNotFoundError{Type: t, Name: nameOrPath}
}

// ResolveOr is Resolve returning def when nothing matches.
func (r *Registry) ResolveOr(t Type, nameOrPath string, def *Descriptor) *Descriptor {
	if d, ok := r.TryResolve(t, nameOrPath); ok {
		return d
	}
	return def
}

// Compatible returns the descriptors registered for language that support
// the registry platform and are detected on the host, highest precedence
// first (i.e. reverse registration order).
func (r *Registry) Compatible(t Type, language string) []*Descriptor {
	r.mu.RLock()
	bucket := slices.Clone(r.languages[t][strings.ToLower(language)])
	r.mu.RUnlock()

	out := make([]*Descriptor, 0, len(bucket))
	for i := len(bucket) - 1; i >= 0; i-- {
		d := bucket[i]
		if d.SupportsPlatform(r.platform) && r.isDetected(d) {
			out = append(out, d)
		}
	}
	return out
}

// TryFindCompatible reports the highest-precedence compatible tool.
func (r *Registry) TryFindCompatible(t Type, language string) (*Descriptor, bool) {
	c := r.Compatible(t, language)
	if len(c) == 0 {
		return nil, false
	}
	return c[0], true
}

// FindCompatible returns the last registered tool of type t for language
// that supports the current platform and is installed.
func (r *Registry) FindCompatible(t Type, language string) (*Descriptor, error) {
	if d, ok := r.TryFindCompatible(t, language); ok {
		return d, nil
	}
	return nil, &ToolNotFoundError{Type: t, Language: language, Platform: r.platform}
}

// LinkerFor returns the linker a compiler delegates to: its companion when
// it is its own linker, otherwise its DefaultLinker resolved by name.
func (r *Registry) LinkerFor(compiler *Descriptor) (*Descriptor, error) {
	r.mu.RLock()
	l, ok := r.linkers[compiler]
	r.mu.RUnlock()
	if ok && (compiler.DefaultLinker == "" || compiler.DefaultLinker == compiler.Name) {
		return l, nil
	}
	if compiler.DefaultLinker == "" {
		return nil, &ToolNotFoundError{Type: Linker, Name: compiler.Name}
	}
	return r.Resolve(Linker, compiler.DefaultLinker)
}

// ArchiverFor returns the compiler's DefaultArchiver, or the compatible
// archiver for language when the compiler names none.
func (r *Registry) ArchiverFor(compiler *Descriptor, language string) (*Descriptor, error) {
	if compiler != nil && compiler.DefaultArchiver != "" {
		return r.Resolve(Archiver, compiler.DefaultArchiver)
	}
	return r.FindCompatible(Archiver, language)
}

// All returns every descriptor of type t in registration order.
func (r *Registry) All(t Type) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order[t])
}

// Detected reports (and memoises) whether d's executable is on the host.
func (r *Registry) Detected(d *Descriptor) bool { return r.isDetected(d) }

func (r *Registry) isDetected(d *Descriptor) bool {
	r.mu.RLock()
	v, ok := r.detected[d]
	r.mu.RUnlock()
	if ok {
		return v
	}
	v = r.detect == nil || r.detect(d)
	r.mu.Lock()
	r.detected[d] = v
	r.mu.Unlock()
	return v
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry populated with built-in tools
// during package initialisation.
func Default() *Registry { return defaultRegistry }
