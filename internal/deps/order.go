package deps

import (
	"slices"
)

// Order returns names together with all their transitive internal
// dependencies such that every dependency precedes its dependents. Input
// order is kept wherever the dependency relation allows it, so ordering an
// already ordered list returns it unchanged.
func (c *Catalog) Order(names []string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o := orderer{deps: c.deps, reach: make(map[string]map[string]bool)}
	var out []string
	for _, n := range names {
		var err error
		if out, err = o.place(out, n, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type orderer struct {
	deps  map[string]*Dependency
	reach map[string]map[string]bool
}

func (o *orderer) place(out []string, name string, stack []string) ([]string, error) {
	if i := slices.Index(stack, name); i >= 0 {
		return nil, &CycleError{Path: append(slices.Clone(stack[i:]), name)}
	}
	d, ok := o.deps[name]
	if !ok {
		return nil, &DependencyResolutionError{Name: name, Reason: "unknown dependency"}
	}
	stack = append(stack, name)
	var err error
	for _, sub := range d.Internal {
		if out, err = o.place(out, sub, stack); err != nil {
			return nil, err
		}
	}

	limit := len(out)
	for i, placed := range out {
		if o.dependsOn(placed, name) {
			limit = i
			break
		}
	}
	if i := slices.Index(out, name); i >= 0 {
		if i > limit {
			return nil, ErrInconsistentOrder
		}
		return out, nil
	}
	return slices.Insert(out, limit, name), nil
}

// dependsOn reports whether a transitively requires b.
func (o *orderer) dependsOn(a, b string) bool {
	r, ok := o.reach[a]
	if !ok {
		r = make(map[string]bool)
		o.collect(a, r)
		o.reach[a] = r
	}
	return r[b]
}

func (o *orderer) collect(name string, seen map[string]bool) {
	d, ok := o.deps[name]
	if !ok {
		return
	}
	for _, sub := range d.Internal {
		if seen[sub] {
			continue
		}
		seen[sub] = true
		o.collect(sub, seen)
	}
}
