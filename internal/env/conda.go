package env

import (
	"path/filepath"
	"strings"
)

// Virtual environment variables, in lookup order.
const (
	CondaPrefix = "CONDA_PREFIX"
	VirtualEnv  = "VIRTUAL_ENV"
)

// Prefix is an active conda or virtualenv installation prefix.
type Prefix struct {
	Dir   string
	Conda bool
}

// ActivePrefix reports the active environment prefix, preferring conda.
func ActivePrefix(getenv func(string) string) (Prefix, bool) {
	if v := strings.TrimSpace(getenv(CondaPrefix)); v != "" {
		return Prefix{Dir: v, Conda: true}, true
	}
	if v := strings.TrimSpace(getenv(VirtualEnv)); v != "" {
		return Prefix{Dir: v}, true
	}
	return Prefix{}, false
}

// IncludeDirs are the header directories below the prefix.
func (p Prefix) IncludeDirs(windows bool) []string {
	if p.Dir == "" {
		return nil
	}
	if windows && p.Conda {
		return []string{filepath.Join(p.Dir, "Library", "include"), filepath.Join(p.Dir, "include")}
	}
	return []string{filepath.Join(p.Dir, "include")}
}

// LibraryDirs are the library directories below the prefix.
func (p Prefix) LibraryDirs(windows bool) []string {
	if p.Dir == "" {
		return nil
	}
	if windows && p.Conda {
		return []string{filepath.Join(p.Dir, "Library", "lib"), filepath.Join(p.Dir, "libs")}
	}
	return []string{filepath.Join(p.Dir, "lib")}
}

// Suffix is appended to dependency library names built inside the prefix so
// builds from different environments do not overwrite each other.
func (p Prefix) Suffix() string {
	if p.Dir == "" {
		return ""
	}
	name := filepath.Base(filepath.Clean(p.Dir))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return "_" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
}
