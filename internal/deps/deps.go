// Package deps describes the libraries a model builds against and orders
// them so every internal dependency is built before its dependents.
package deps

import (
	"fmt"
	"slices"
	"sync"
)

// Kind tells whether a dependency is built here or supplied by the host.
type Kind string

const (
	Internal Kind = "internal"
	External Kind = "external"
)

// LibType is the artifact a dependency yields.
type LibType string

const (
	HeaderOnly LibType = "header_only"
	Object     LibType = "object"
	Static     LibType = "static"
	Shared     LibType = "shared"
)

// Linkable reports whether the libtype produces something to link against.
func (l LibType) Linkable() bool { return l == Static || l == Shared || l == Object }

// Dependency is one library in the catalog.
type Dependency struct {
	Name     string
	Kind     Kind
	LibType  LibType
	Language string

	// Sources are compiled for internal dependencies.
	Sources     []string
	IncludeDirs []string
	Definitions []string
	// Include is a header file whose directory is added to the include path.
	Include string
	// Paths holds pre-built or already-built artifacts per libtype.
	Paths map[LibType]string
	// Objects are every object file of an object dependency, one per
	// source. Paths[Object] is the first of them.
	Objects []string
	// Internal lists the names of dependencies this one is built on.
	Internal []string
}

// Catalog is a named collection of dependencies.
type Catalog struct {
	mu   sync.RWMutex
	deps map[string]*Dependency
	// SearchDirs are scanned for external libraries without an explicit path.
	SearchDirs []string
	// Suffix is inserted before the extension of library file names.
	Suffix string
}

// NewCatalog returns a catalog holding ds.
func NewCatalog(ds ...*Dependency) (*Catalog, error) {
	c := &Catalog{deps: make(map[string]*Dependency)}
	for _, d := range ds {
		if err := c.Add(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add inserts d. Names are unique.
func (c *Catalog) Add(d *Dependency) error {
	if d == nil || d.Name == "" {
		return &DependencyResolutionError{Reason: "dependency name is required"}
	}
	if d.Kind == "" {
		d.Kind = External
	}
	if d.LibType == "" {
		d.LibType = Shared
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deps == nil {
		c.deps = make(map[string]*Dependency)
	}
	if existing, ok := c.deps[d.Name]; ok && existing != d {
		return &DependencyResolutionError{Name: d.Name, Reason: "already declared"}
	}
	c.deps[d.Name] = d
	return nil
}

// Get returns the named dependency.
func (c *Catalog) Get(name string) (*Dependency, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.deps[name]
	return d, ok
}

// Names lists every dependency name in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.deps)
}

// SetPath records the artifact of libtype for name, e.g. once built.
func (c *Catalog) SetPath(name string, lt LibType, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.deps[name]
	if !ok {
		return &DependencyResolutionError{Name: name, LibType: lt, Reason: "unknown dependency"}
	}
	if d.Paths == nil {
		d.Paths = make(map[LibType]string)
	}
	d.Paths[lt] = path
	return nil
}

// SetObjects records the object files built for an object dependency.
func (c *Catalog) SetObjects(name string, objects []string) error {
	if len(objects) == 0 {
		return &DependencyResolutionError{Name: name, LibType: Object, Reason: "no objects built"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.deps[name]
	if !ok {
		return &DependencyResolutionError{Name: name, LibType: Object, Reason: "unknown dependency"}
	}
	if d.Paths == nil {
		d.Paths = make(map[LibType]string)
	}
	d.Paths[Object] = objects[0]
	d.Objects = slices.Clone(objects)
	return nil
}

// ObjectFiles returns the recorded objects of name, if any.
func (c *Catalog) ObjectFiles(name string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if d, ok := c.deps[name]; ok {
		return slices.Clone(d.Objects)
	}
	return nil
}

func (d *Dependency) String() string {
	return fmt.Sprintf("%s(%s %s)", d.Name, d.Kind, d.LibType)
}
