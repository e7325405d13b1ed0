package build

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"strings"

	"github.com/loykin/polybuild/internal/tool"
)

// buildDriver runs a build-file driver. Compiler and linker flags come from
// the target language's orchestrator and are passed as make variables or
// CMake cache definitions.
func (o *Orchestrator) buildDriver(ctx context.Context, opts CompileOptions) (string, error) {
	target := o.configured("target_language")
	if target == "" {
		target = o.lang.Target
	}
	if target == "" {
		target = "c"
	}
	impl, err := o.orchestratorFor(target)
	if err != nil {
		return "", err
	}
	tc, err := impl.Toolchain(opts.Dependencies)
	if err != nil {
		return "", err
	}
	name := o.req.Target
	if name == "" {
		name = o.req.Name
	}
	if o.lang.Name == "cmake" {
		return o.runCMake(ctx, opts, tc, impl.Language(), name)
	}
	return o.runMake(ctx, opts, tc, name)
}

func (o *Orchestrator) runMake(ctx context.Context, opts CompileOptions, tc Toolchain, name string) (string, error) {
	options := maps.Clone(opts.Options)
	if options == nil {
		options = make(map[string]any)
	}
	dir := o.req.WorkDir
	if len(opts.Sources) > 0 {
		makefile, err := filepath.Abs(opts.Sources[0])
		if err != nil {
			return "", err
		}
		options["makefile"] = makefile
		if dir == "" {
			dir = filepath.Dir(makefile)
		}
	}
	if dir == "" {
		dir = "."
	}
	options["directory"] = dir
	out := tool.OutputName(filepath.Join(dir, name), tool.OutputExecutable, o.platform, "")
	if o.cached(out) {
		return out, nil
	}

	var vars []string
	if c := tc.Compiler; c != nil {
		if c.ExecutableEnv != "" {
			vars = append(vars, c.ExecutableEnv+"="+c.ExecutableName(o.getenv))
		}
		if c.FlagsEnv != "" && len(tc.CompilerFlags) > 0 {
			vars = append(vars, c.FlagsEnv+"="+strings.Join(tc.CompilerFlags, " "))
		}
	}
	if len(tc.LinkerFlags) > 0 {
		key := "LDFLAGS"
		if tc.Linker != nil && tc.Linker.FlagsEnv != "" {
			key = tc.Linker.FlagsEnv
		}
		vars = append(vars, key+"="+strings.Join(tc.LinkerFlags, " "))
	}
	options["variables"] = vars
	options["target"] = filepath.Base(out)

	fs, err := o.compiler.Flags(tool.FlagRequest{Flags: opts.Flags, Options: options, Getenv: o.getenv})
	if err != nil {
		return "", err
	}
	_, err = o.invoke(ctx, call{
		tool:   o.compiler.Name,
		step:   "make",
		argv:   o.compiler.Command(fs, nil, o.getenv),
		dir:    dir,
		output: out,
	})
	return out, err
}

// cmakeLanguages maps a language onto the <LANG> of CMAKE_<LANG>_COMPILER.
var cmakeLanguages = map[string]string{
	"c":       "C",
	"c++":     "CXX",
	"fortran": "Fortran",
}

func (o *Orchestrator) runCMake(ctx context.Context, opts CompileOptions, tc Toolchain, lang, name string) (string, error) {
	src := "."
	if len(opts.Sources) > 0 {
		src = opts.Sources[0]
		if filepath.Base(src) == "CMakeLists.txt" {
			src = filepath.Dir(src)
		}
	}
	dir := o.req.WorkDir
	if dir == "" {
		dir = src
	}
	out := filepath.Join(dir, name)
	if o.platform == tool.Windows {
		out += tool.ExecutableExt(o.platform)
	}
	if o.cached(out) {
		return out, nil
	}
	buildDir := filepath.Join(dir, name+"_build")

	defs := []string{"CMAKE_RUNTIME_OUTPUT_DIRECTORY=" + dir}
	if cl, ok := cmakeLanguages[lang]; ok && tc.Compiler != nil {
		defs = append(defs, fmt.Sprintf("CMAKE_%s_COMPILER=%s", cl, tc.Compiler.ExecutableName(o.getenv)))
		if len(tc.CompilerFlags) > 0 {
			defs = append(defs, fmt.Sprintf("CMAKE_%s_FLAGS=%s", cl, strings.Join(tc.CompilerFlags, " ")))
		}
	}
	if len(tc.LinkerFlags) > 0 {
		defs = append(defs, "CMAKE_EXE_LINKER_FLAGS="+strings.Join(tc.LinkerFlags, " "))
	}

	configure := maps.Clone(opts.Options)
	if configure == nil {
		configure = make(map[string]any)
	}
	configure["source_dir"] = src
	configure["build_dir"] = buildDir
	mergeStrings(configure, "definitions", defs)
	fs, err := o.compiler.Flags(tool.FlagRequest{Flags: opts.Flags, Options: configure, Getenv: o.getenv})
	if err != nil {
		return "", err
	}
	// The build tree holds CMake's own probe sources; it is generated here
	// and removed without the source check.
	o.products.AddSource(buildDir)
	if _, err := o.invoke(ctx, call{
		tool: o.compiler.Name,
		step: "configure",
		argv: o.compiler.Command(fs, nil, o.getenv),
	}); err != nil {
		return "", err
	}

	fs, err = o.compiler.Flags(tool.FlagRequest{
		Options: map[string]any{"build": buildDir, "target": name},
		Getenv:  o.getenv,
	})
	if err != nil {
		return "", err
	}
	_, err = o.invoke(ctx, call{
		tool:   o.compiler.Name,
		step:   "build",
		argv:   o.compiler.Command(fs, nil, o.getenv),
		output: out,
	})
	return out, err
}
