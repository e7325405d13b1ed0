package build

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/loykin/polybuild/internal/tool"
)

// Kind classifies how a language turns sources into a runnable model.
type Kind int

const (
	// Compiled languages are compiled and linked by registry tools.
	Compiled Kind = iota
	// Driver languages hand a build file to a driver tool (make, cmake)
	// that receives flags generated for a target compiled language.
	Driver
	// Interpreted languages have no compile step.
	Interpreted
)

func (k Kind) String() string {
	switch k {
	case Compiled:
		return "compiled"
	case Driver:
		return "driver"
	case Interpreted:
		return "interpreted"
	default:
		return "unknown"
	}
}

// Factory creates the orchestrator for a language.
type Factory func(req Request, opts ...Option) (LanguageOrchestrator, error)

// Language is one entry of the language table.
type Language struct {
	Name       string
	Kind       Kind
	Extensions []string
	// Base languages have their interface libraries built first.
	Base []string
	// Interface names the catalog dependency holding the language's
	// runtime library, if any.
	Interface string
	// Target is the compiled language a driver generates flags for.
	Target string

	Interpreter    string
	InterpreterEnv string
	VersionFlags   []string

	// New overrides the default orchestrator.
	New Factory
}

// Toolchain is the resolved compiler and linker of a compiled language
// together with their composed flags, as handed to a build-file driver.
type Toolchain struct {
	Compiler      *tool.Descriptor
	Linker        *tool.Descriptor
	CompilerFlags []string
	LinkerFlags   []string
}

// LanguageOrchestrator is the contract every language implementation
// offers to the others: compile, link and expose its toolchain.
type LanguageOrchestrator interface {
	Language() string
	CompileDependencies(ctx context.Context) error
	CompileModel(ctx context.Context, opts CompileOptions) (string, error)
	CallLinker(ctx context.Context, objects []string, opts LinkOptions) (string, error)
	Toolchain(deps []string) (Toolchain, error)
}

var (
	langMu    sync.RWMutex
	languages = make(map[string]*Language)
)

// RegisterLanguage adds l to the language table. It is meant to be called
// from init functions; a duplicate name is an error.
func RegisterLanguage(l Language) error {
	name := strings.ToLower(strings.TrimSpace(l.Name))
	if name == "" {
		return fmt.Errorf("language name is required")
	}
	l.Name = name
	langMu.Lock()
	defer langMu.Unlock()
	if _, ok := languages[name]; ok {
		return fmt.Errorf("language %s already registered", name)
	}
	l.Extensions = slices.Clone(l.Extensions)
	l.Base = slices.Clone(l.Base)
	languages[name] = &l
	return nil
}

// Lookup returns the named language.
func Lookup(name string) (Language, bool) {
	langMu.RLock()
	defer langMu.RUnlock()
	l, ok := languages[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Language{}, false
	}
	return *l, true
}

// Languages lists the registered language names in sorted order.
func Languages() []string {
	langMu.RLock()
	defer langMu.RUnlock()
	out := make([]string, 0, len(languages))
	for n := range languages {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// SourceExtensions lists the source extensions of every registered
// language. Cleanup refuses to delete ordinary products carrying one.
func SourceExtensions() []string {
	langMu.RLock()
	defer langMu.RUnlock()
	var out []string
	for _, l := range languages {
		for _, e := range l.Extensions {
			if !slices.Contains(out, e) {
				out = append(out, e)
			}
		}
	}
	sort.Strings(out)
	return out
}

func mustRegister(ls ...Language) {
	for _, l := range ls {
		if err := RegisterLanguage(l); err != nil {
			panic(err)
		}
	}
}

func init() {
	mustRegister(
		Language{Name: "c", Kind: Compiled, Extensions: []string{".c", ".h"}},
		Language{Name: "c++", Kind: Compiled, Extensions: []string{".cpp", ".cc", ".cxx", ".hpp"}, Base: []string{"c"}},
		Language{Name: "fortran", Kind: Compiled, Extensions: []string{".f", ".f90", ".f77"}, Base: []string{"c"}},
		Language{Name: "make", Kind: Driver, Target: "c"},
		Language{Name: "cmake", Kind: Driver, Target: "c"},
		Language{
			Name:           "python",
			Kind:           Interpreted,
			Extensions:     []string{".py"},
			Interpreter:    "python3",
			InterpreterEnv: "PYTHON",
			VersionFlags:   []string{"--version"},
		},
	)
}
