package tool

import (
	"os"
	"slices"
	"strings"

	"github.com/loykin/polybuild/internal/flags"
)

// FlagRequest carries the semantic options of one tool invocation.
type FlagRequest struct {
	// Flags are explicit instance flags appended after the defaults.
	Flags []string
	// Options are keyed by FlagOption.Name.
	Options      map[string]any
	OutputFile   string
	DontLink     bool
	SkipDefaults bool
	Getenv       func(string) string

	// Linker, LinkerFlags and LinkerOptions describe the trailing linker
	// flags of a combined compile+link invocation.
	Linker        *Descriptor
	LinkerFlags   []string
	LinkerOptions map[string]any
}

// FlagSet is a composed flag list. Inputs (sources or objects) must be
// placed at LinkerAt, before any trailing linker flags.
type FlagSet struct {
	Flags    []string
	LinkerAt int
}

// Args splices inputs into the flag list at LinkerAt.
func (fs FlagSet) Args(inputs []string) []string {
	out := make([]string, 0, len(fs.Flags)+len(inputs))
	out = append(out, fs.Flags[:fs.LinkerAt]...)
	out = append(out, inputs...)
	return append(out, fs.Flags[fs.LinkerAt:]...)
}

// Flags composes the command-line flags for d: defaults and explicit flags,
// every FlagOption present in req.Options, the output flag, and for a
// compiler that links in the same invocation the linker's flags last.
func (d *Descriptor) Flags(req FlagRequest) (FlagSet, error) {
	getenv := req.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	var out []string
	if !req.SkipDefaults {
		out = append(out, d.DefaultFlags...)
		if d.FlagsEnv != "" {
			out = append(out, strings.Fields(getenv(d.FlagsEnv))...)
		}
	}
	out = append(out, req.Flags...)
	head := len(out)

	linking := d.Type == Compiler && !req.DontLink && d.CombinesWithLinker()
	if d.Type == Compiler && req.DontLink && !d.NoSeparateLinking && d.CompileOnlyFlag != "" {
		if !slices.Contains(out, d.CompileOnlyFlag) {
			out = append(out, d.CompileOnlyFlag)
		}
	}

	var err error
	for _, opt := range d.FlagOptions {
		v, ok := req.Options[opt.Name]
		if !ok {
			continue
		}
		if out, err = appendOption(out, opt, v); err != nil {
			return FlagSet{}, err
		}
	}

	if req.OutputFile != "" {
		key := d.OutputKey
		if linking && d.LinkedOutputKey != "" {
			key = d.LinkedOutputKey
		}
		pos := flags.At(-1)
		if d.OutputFirst {
			pos = flags.At(head)
		}
		if out, err = flags.AppendFlags(out, key, req.OutputFile, pos); err != nil {
			return FlagSet{}, err
		}
	}

	fs := FlagSet{Flags: out, LinkerAt: len(out)}
	if !linking || req.Linker == nil {
		return fs, nil
	}
	lfs, err := req.Linker.Flags(FlagRequest{
		Flags:   req.LinkerFlags,
		Options: req.LinkerOptions,
		Getenv:  req.Getenv,
	})
	if err != nil {
		return FlagSet{}, err
	}
	if len(lfs.Flags) > 0 && d.LinkerSwitch != "" {
		fs.Flags = append(fs.Flags, d.LinkerSwitch)
	}
	fs.Flags = append(fs.Flags, lfs.Flags...)
	return fs, nil
}

func appendOption(list []string, opt FlagOption, v any) ([]string, error) {
	var o []flags.Option
	if opt.Position != nil {
		o = append(o, flags.At(*opt.Position))
	}
	if opt.NoDuplicates {
		o = append(o, flags.NoDuplicates())
	}
	return flags.AppendFlags(list, opt.Template, v, o...)
}

// Command returns the argv for invoking d with inputs.
func (d *Descriptor) Command(fs FlagSet, inputs []string, getenv func(string) string) []string {
	return append([]string{d.ExecutableName(getenv)}, fs.Args(inputs)...)
}
