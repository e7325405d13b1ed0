package deps

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInconsistentOrder means a name already placed by Order sits after one
// of its dependents. It indicates a bug, not bad input.
var ErrInconsistentOrder = errors.New("dependency order is inconsistent")

// CycleError reports a cycle among internal dependencies.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

// DependencyResolutionError means a dependency has no usable source or
// library and no default was supplied.
type DependencyResolutionError struct {
	Name    string
	LibType LibType
	Reason  string
}

func (e *DependencyResolutionError) Error() string {
	switch {
	case e.Name == "":
		return "dependency: " + e.Reason
	case e.LibType == "":
		return fmt.Sprintf("dependency %q: %s", e.Name, e.Reason)
	default:
		return fmt.Sprintf("dependency %q (%s): %s", e.Name, e.LibType, e.Reason)
	}
}

// ConfigItem is a configuration value the caller must provide before the
// dependency can be used. It is reported, never raised.
type ConfigItem struct {
	Section     string
	Option      string
	Description string
}

func (c ConfigItem) String() string {
	return fmt.Sprintf("[%s] %s: %s", c.Section, c.Option, c.Description)
}
