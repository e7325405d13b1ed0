package deps

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/loykin/polybuild/internal/tool"
)

// Store is the read-only configuration source for external library paths.
type Store interface {
	Get(section, option string) (string, bool)
}

// includeOption is the option suffix holding a dependency's header path.
const includeOption = "include"

// Configure fills unset external library paths from store. Section is the
// dependency language and option is "<name>_<libtype>" (or
// "<name>_include" for the header). Values store does not know are returned
// as ConfigItems for the caller to report.
func (c *Catalog) Configure(store Store) []ConfigItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	var missing []ConfigItem
	for _, name := range sortedKeys(c.deps) {
		d := c.deps[name]
		if d.Kind != External {
			continue
		}
		if d.Include == "" {
			opt := d.Name + "_" + includeOption
			if v, ok := store.Get(d.Language, opt); ok && v != "" {
				d.Include = v
			} else {
				missing = append(missing, ConfigItem{
					Section:     d.Language,
					Option:      opt,
					Description: fmt.Sprintf("full path to the %s header file", d.Name),
				})
			}
		}
		if !d.LibType.Linkable() || d.Paths[d.LibType] != "" {
			continue
		}
		opt := d.Name + "_" + string(d.LibType)
		if v, ok := store.Get(d.Language, opt); ok && v != "" {
			if d.Paths == nil {
				d.Paths = make(map[LibType]string)
			}
			d.Paths[d.LibType] = v
			continue
		}
		missing = append(missing, ConfigItem{
			Section:     d.Language,
			Option:      opt,
			Description: fmt.Sprintf("full path to the %s %s library", d.Name, d.LibType),
		})
	}
	return missing
}

// LibraryPath returns the artifact of libtype lt for name: the recorded
// path, else a matching file in SearchDirs, else def. With none of them it
// fails with *DependencyResolutionError.
func (c *Catalog) LibraryPath(name string, lt LibType, p tool.Platform, def string) (string, error) {
	c.mu.RLock()
	d, ok := c.deps[name]
	var recorded string
	if ok {
		recorded = d.Paths[lt]
	}
	dirs := c.SearchDirs
	suffix := c.Suffix
	c.mu.RUnlock()
	if !ok {
		if def != "" {
			return def, nil
		}
		return "", &DependencyResolutionError{Name: name, LibType: lt, Reason: "unknown dependency"}
	}
	if recorded != "" {
		return recorded, nil
	}
	if lt == Static || lt == Shared {
		kind := tool.OutputShared
		if lt == Static {
			kind = tool.OutputStatic
		}
		candidates := []string{filepath.Base(tool.OutputName(name, kind, p, suffix))}
		if suffix != "" {
			candidates = append(candidates, filepath.Base(tool.OutputName(name, kind, p, "")))
		}
		for _, dir := range dirs {
			for _, file := range candidates {
				path := filepath.Join(dir, file)
				if st, err := os.Stat(path); err == nil && !st.IsDir() {
					return path, nil
				}
			}
		}
	}
	if def != "" {
		return def, nil
	}
	return "", &DependencyResolutionError{Name: name, LibType: lt, Reason: "no library found and no default given"}
}

// IncludeDirs returns the include directories of each named dependency,
// header directories first, without duplicates.
func (c *Catalog) IncludeDirs(names []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	add := func(s string) {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	for _, n := range names {
		d, ok := c.deps[n]
		if !ok {
			continue
		}
		if d.Include != "" {
			add(filepath.Dir(d.Include))
		}
		for _, dir := range d.IncludeDirs {
			add(dir)
		}
	}
	return out
}

// Definitions returns the preprocessor definitions of each named dependency.
func (c *Catalog) Definitions(names []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for _, n := range names {
		if d, ok := c.deps[n]; ok {
			out = append(out, d.Definitions...)
		}
	}
	return out
}

func sortedKeys(m map[string]*Dependency) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
