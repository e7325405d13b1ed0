package tool

import (
	"fmt"
	"strings"
)

// ToolNotFoundError is returned when no tool matches a name or a
// language/platform pair and no default was supplied.
type ToolNotFoundError struct {
	Type     Type
	Name     string
	Language string
	Platform Platform
}

func (e *ToolNotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("no %s registered under %q", e.Type, e.Name)
	}
	return fmt.Sprintf("no installed %s for language %q on %s", e.Type, e.Language, e.Platform)
}

// RegistrationConflict is returned when a toolname or alias is already
// claimed by a different descriptor of the same type.
type RegistrationConflict struct {
	Type     Type
	Key      string
	Existing string
	New      string
}

func (e *RegistrationConflict) Error() string {
	return fmt.Sprintf("%s key %q registered by %q cannot be claimed by %q", e.Type, e.Key, e.Existing, e.New)
}

// InvalidDescriptorError reports a descriptor that cannot be registered.
type InvalidDescriptorError struct {
	Name   string
	Reason string
}

func (e *InvalidDescriptorError) Error() string {
	if strings.TrimSpace(e.Name) == "" {
		return "invalid tool descriptor: " + e.Reason
	}
	return fmt.Sprintf("invalid tool descriptor %q: %s", e.Name, e.Reason)
}
