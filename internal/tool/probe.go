package tool

import (
	"context"
	"errors"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// ToolInfo captures availability and version details for a tool.
type ToolInfo struct {
	Name      string `json:"name"`
	Type      Type   `json:"type"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

var versionRegex = regexp.MustCompile(`[0-9]+(?:\.[0-9]+){1,3}`)

// Probe locates d's executable and reads its version line.
func Probe(ctx context.Context, d *Descriptor) ToolInfo {
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	info := ToolInfo{Name: d.Name, Type: d.Type}
	path, err := exec.LookPath(d.ExecutableName(nil))
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			info.Error = "not found"
		} else {
			info.Error = err.Error()
		}
		return info
	}
	info.Path = path
	info.Available = true
	if len(d.VersionFlags) == 0 {
		return info
	}
	// #nosec G204
	cmd := exec.CommandContext(ctx, path, d.VersionFlags...)
	output, err := cmd.CombinedOutput()
	if err != nil && len(output) == 0 {
		info.Error = err.Error()
		return info
	}
	info.Version = normalizeVersion(firstLine(strings.TrimSpace(string(output))))
	return info
}

// ProbeAll probes every registered descriptor of each type.
func (r *Registry) ProbeAll(ctx context.Context) []ToolInfo {
	var out []ToolInfo
	for _, t := range Types {
		for _, d := range r.All(t) {
			out = append(out, Probe(ctx, d))
		}
	}
	return out
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}

func normalizeVersion(line string) string {
	if m := versionRegex.FindString(line); m != "" {
		return m
	}
	return line
}
