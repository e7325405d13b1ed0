// Package tool describes compilers, linkers and archivers and keeps the
// process-wide catalog used to resolve them by name or by language.
package tool

import (
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
)

// Type is the kind of build tool.
type Type string

const (
	Compiler Type = "compiler"
	Linker   Type = "linker"
	Archiver Type = "archiver"
)

// Types lists every tool type in resolution order.
var Types = []Type{Compiler, Linker, Archiver}

func (t Type) valid() bool { return t == Compiler || t == Linker || t == Archiver }

// Platform is the host operating system family a tool supports.
type Platform string

const (
	Linux   Platform = "linux"
	MacOS   Platform = "macos"
	Windows Platform = "windows"
)

// CurrentPlatform maps runtime.GOOS onto a Platform.
func CurrentPlatform() Platform {
	switch runtime.GOOS {
	case "windows":
		return Windows
	case "darwin":
		return MacOS
	default:
		return Linux
	}
}

// FlagOption maps a semantic option name onto a flag template.
// Position nil appends; see flags.At for the meaning of explicit positions.
type FlagOption struct {
	Name         string
	Template     string
	Position     *int
	NoDuplicates bool
}

// Pos is a helper for FlagOption.Position literals.
func Pos(n int) *int { return &n }

// LinkerAttrs configures the linker derived from a compiler with IsLinker.
type LinkerAttrs struct {
	DefaultFlags  []string
	FlagsEnv      string
	FlagOptions   []FlagOption
	SearchPathEnv []string
	OutputKey     string
	ProductFiles  []string
}

// Descriptor is the immutable metadata of one build tool. Descriptors are
// registered once and must not be modified afterwards; use Clone to derive.
type Descriptor struct {
	Name      string
	Aliases   []string
	Type      Type
	Languages []string
	Platforms []Platform

	// Executable is the default program name; ExecutableEnv, when set in
	// the environment, overrides it (e.g. CC).
	Executable    string
	ExecutableEnv string

	DefaultFlags []string
	// FlagsEnv names an environment variable holding extra default flags.
	FlagsEnv    string
	FlagOptions []FlagOption

	// OutputKey is the template used for the output file. LinkedOutputKey
	// overrides it when a compiler also links in the same invocation.
	OutputKey       string
	LinkedOutputKey string
	OutputFirst     bool
	CompileOnlyFlag string
	// LinkerSwitch separates compiler flags from linker flags in a
	// combined invocation (e.g. cl's /link).
	LinkerSwitch string

	// SearchPathEnv lists PATH-like variables holding include or library
	// search directories for this tool.
	SearchPathEnv []string
	// ProductFiles are sibling artifact patterns where %s is the output
	// path without its extension.
	ProductFiles []string
	VersionFlags []string

	IsLinker        bool
	Linker          *LinkerAttrs
	DefaultLinker   string
	DefaultArchiver string
	// CombineWithLinker overrides the default combine policy when set.
	CombineWithLinker *bool
	NoSeparateLinking bool
}

// Clone returns a deep copy that may be modified before registration.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Aliases = slices.Clone(d.Aliases)
	c.Languages = slices.Clone(d.Languages)
	c.Platforms = slices.Clone(d.Platforms)
	c.DefaultFlags = slices.Clone(d.DefaultFlags)
	c.FlagOptions = slices.Clone(d.FlagOptions)
	c.SearchPathEnv = slices.Clone(d.SearchPathEnv)
	c.ProductFiles = slices.Clone(d.ProductFiles)
	c.VersionFlags = slices.Clone(d.VersionFlags)
	if d.Linker != nil {
		l := *d.Linker
		c.Linker = &l
	}
	return &c
}

// SupportsLanguage reports whether lang is one of the tool's languages.
func (d *Descriptor) SupportsLanguage(lang string) bool {
	return slices.Contains(d.Languages, strings.ToLower(lang))
}

// SupportsPlatform reports whether p is one of the tool's platforms.
func (d *Descriptor) SupportsPlatform(p Platform) bool {
	return slices.Contains(d.Platforms, p)
}

// CombinesWithLinker reports whether a single compiler invocation also links.
// Build-file drivers always combine; otherwise the default is true when the
// compiler's default linker is the compiler itself.
func (d *Descriptor) CombinesWithLinker() bool {
	if d.NoSeparateLinking {
		return true
	}
	if d.CombineWithLinker != nil {
		return *d.CombineWithLinker
	}
	return d.Type == Compiler && d.DefaultLinker != "" && d.DefaultLinker == d.Name
}

// ExecutableName returns the executable to invoke, honouring ExecutableEnv.
func (d *Descriptor) ExecutableName(getenv func(string) string) string {
	if getenv == nil {
		getenv = os.Getenv
	}
	if d.ExecutableEnv != "" {
		if v := strings.TrimSpace(getenv(d.ExecutableEnv)); v != "" {
			return v
		}
	}
	if d.Executable != "" {
		return d.Executable
	}
	return d.Name
}

// SearchPaths returns the directories listed in the tool's search-path
// variables, in order and without duplicates.
func (d *Descriptor) SearchPaths(getenv func(string) string) []string {
	if getenv == nil {
		getenv = os.Getenv
	}
	var out []string
	for _, name := range d.SearchPathEnv {
		for _, p := range filepath.SplitList(getenv(name)) {
			if p != "" && !slices.Contains(out, p) {
				out = append(out, p)
			}
		}
	}
	return out
}

// Siblings expands ProductFiles for output, e.g. foo.dll -> foo.pdb.
func (d *Descriptor) Siblings(output string) []string {
	if output == "" || len(d.ProductFiles) == 0 {
		return nil
	}
	base := strings.TrimSuffix(output, filepath.Ext(output))
	out := make([]string, 0, len(d.ProductFiles))
	for _, p := range d.ProductFiles {
		s := strings.ReplaceAll(p, "%s", base)
		if s != output {
			out = append(out, s)
		}
	}
	return out
}

// linkerDescriptor derives the companion linker of an IsLinker compiler.
func (d *Descriptor) linkerDescriptor() *Descriptor {
	l := &Descriptor{
		Name:          d.Name,
		Aliases:       slices.Clone(d.Aliases),
		Type:          Linker,
		Languages:     slices.Clone(d.Languages),
		Platforms:     slices.Clone(d.Platforms),
		Executable:    d.Executable,
		ExecutableEnv: d.ExecutableEnv,
		OutputKey:     d.OutputKey,
		VersionFlags:  slices.Clone(d.VersionFlags),
	}
	if a := d.Linker; a != nil {
		l.DefaultFlags = slices.Clone(a.DefaultFlags)
		l.FlagsEnv = a.FlagsEnv
		l.FlagOptions = slices.Clone(a.FlagOptions)
		l.SearchPathEnv = slices.Clone(a.SearchPathEnv)
		l.ProductFiles = slices.Clone(a.ProductFiles)
		if a.OutputKey != "" {
			l.OutputKey = a.OutputKey
		}
	}
	return l
}
