package tool

import (
	"path/filepath"
	"strings"
)

// OutputKind classifies the artifact a build step produces.
type OutputKind int

const (
	OutputObject OutputKind = iota
	OutputExecutable
	OutputStatic
	OutputShared
)

// ObjectExt is the object file extension for p.
func ObjectExt(p Platform) string {
	if p == Windows {
		return ".obj"
	}
	return ".o"
}

// ExecutableExt is the extension given to linked executables on p.
func ExecutableExt(p Platform) string {
	if p == Windows {
		return ".exe"
	}
	return ".out"
}

// StaticLibExt is the static archive extension for p.
func StaticLibExt(p Platform) string {
	if p == Windows {
		return ".lib"
	}
	return ".a"
}

// SharedLibExt is the shared library extension for p.
func SharedLibExt(p Platform) string {
	switch p {
	case Windows:
		return ".dll"
	case MacOS:
		return ".dylib"
	default:
		return ".so"
	}
}

// LibPrefix is the library file prefix for p.
func LibPrefix(p Platform) string {
	if p == Windows {
		return ""
	}
	return "lib"
}

// OutputName derives the artifact path for src. Objects carry the source
// extension as an infix so foo.c and foo.cpp do not collide; libraries get
// the platform prefix and suffix (plus suffix, e.g. a conda environment
// name, before the extension).
func OutputName(src string, kind OutputKind, p Platform, suffix string) string {
	dir := filepath.Dir(src)
	file := filepath.Base(src)
	ext := filepath.Ext(file)
	base := strings.TrimSuffix(file, ext)
	switch kind {
	case OutputObject:
		infix := strings.TrimPrefix(ext, ".")
		if infix != "" {
			base += "_" + strings.NewReplacer("+", "x").Replace(infix)
		}
		return filepath.Join(dir, base+ObjectExt(p))
	case OutputStatic:
		return filepath.Join(dir, LibPrefix(p)+strings.TrimPrefix(base, "lib")+suffix+StaticLibExt(p))
	case OutputShared:
		return filepath.Join(dir, LibPrefix(p)+strings.TrimPrefix(base, "lib")+suffix+SharedLibExt(p))
	default:
		return filepath.Join(dir, base+ExecutableExt(p))
	}
}
