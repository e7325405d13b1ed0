package tool

// Built-in tools. Registration order matters for FindCompatible: within a
// language, later registrations take precedence on the platforms they
// support (clang before gcc so gcc wins on Linux when both are installed).

var unixLinkerAttrs = LinkerAttrs{
	FlagsEnv: "LDFLAGS",
	FlagOptions: []FlagOption{
		{Name: "shared", Template: "-shared"},
		{Name: "library_dirs", Template: "-L%s"},
		{Name: "rpath", Template: "-Wl,-rpath,%s"},
		{Name: "library_files", Template: ""},
		{Name: "libraries", Template: "-l%s"},
	},
	SearchPathEnv: []string{"LIBRARY_PATH", "LD_LIBRARY_PATH", "DYLD_LIBRARY_PATH"},
	OutputKey:     "-o",
}

func unixCompilerOptions() []FlagOption {
	return []FlagOption{
		{Name: "definitions", Template: "-D%s"},
		{Name: "include_dirs", Template: "-I%s"},
		{Name: "standard", Template: "-std=%s", NoDuplicates: true},
		{Name: "optimization", Template: "-O%s", NoDuplicates: true},
		{Name: "debug", Template: "-g"},
		{Name: "position_independent", Template: "-fPIC"},
		{Name: "warnings", Template: "-W%s"},
	}
}

func unixCompiler(name, lang, env, flagsEnv string, includeEnv []string, platforms ...Platform) *Descriptor {
	la := unixLinkerAttrs
	return &Descriptor{
		Name:            name,
		Type:            Compiler,
		Languages:       []string{lang},
		Platforms:       platforms,
		Executable:      name,
		ExecutableEnv:   env,
		FlagsEnv:        flagsEnv,
		FlagOptions:     unixCompilerOptions(),
		OutputKey:       "-o",
		CompileOnlyFlag: "-c",
		SearchPathEnv:   includeEnv,
		VersionFlags:    []string{"--version"},
		IsLinker:        true,
		Linker:          &la,
		DefaultLinker:   name,
		DefaultArchiver: "ar",
	}
}

// Builtins returns fresh descriptors for every built-in tool.
func Builtins() []*Descriptor {
	clang := unixCompiler("clang", "c", "CC", "CFLAGS", []string{"C_INCLUDE_PATH", "CPATH"}, MacOS, Linux)
	gcc := unixCompiler("gcc", "c", "CC", "CFLAGS", []string{"C_INCLUDE_PATH", "CPATH"}, Linux, Windows)
	clangxx := unixCompiler("clang++", "c++", "CXX", "CXXFLAGS", []string{"CPLUS_INCLUDE_PATH", "CPATH"}, MacOS, Linux)
	clangxx.Aliases = []string{"clangxx"}
	gxx := unixCompiler("g++", "c++", "CXX", "CXXFLAGS", []string{"CPLUS_INCLUDE_PATH", "CPATH"}, Linux, Windows)
	gxx.Aliases = []string{"gxx"}
	gfortran := unixCompiler("gfortran", "fortran", "FC", "FFLAGS", []string{"CPATH"}, Linux, MacOS, Windows)
	gfortran.FlagOptions = append(gfortran.FlagOptions, FlagOption{Name: "module_dirs", Template: "-J%s"})

	cl := &Descriptor{
		Name:          "cl",
		Aliases:       []string{"msvc"},
		Type:          Compiler,
		Languages:     []string{"c", "c++"},
		Platforms:     []Platform{Windows},
		Executable:    "cl",
		ExecutableEnv: "CC",
		DefaultFlags:  []string{"/nologo"},
		FlagsEnv:      "CL",
		FlagOptions: []FlagOption{
			{Name: "definitions", Template: "/D%s"},
			{Name: "include_dirs", Template: "/I%s"},
			{Name: "standard", Template: "/std:%s", NoDuplicates: true},
			{Name: "optimization", Template: "/O%s", NoDuplicates: true},
			{Name: "debug", Template: "/Zi"},
			{Name: "warnings", Template: "/W%s"},
		},
		OutputKey:       "/Fo%s",
		LinkedOutputKey: "/Fe%s",
		CompileOnlyFlag: "/c",
		LinkerSwitch:    "/link",
		SearchPathEnv:   []string{"INCLUDE"},
		ProductFiles:    []string{"%s.pdb", "%s.ilk"},
		DefaultLinker:   "LINK",
		DefaultArchiver: "LIB",
	}
	link := &Descriptor{
		Name:         "LINK",
		Aliases:      []string{"link"},
		Type:         Linker,
		Languages:    []string{"c", "c++", "fortran"},
		Platforms:    []Platform{Windows},
		Executable:   "link",
		DefaultFlags: []string{"/NOLOGO"},
		FlagsEnv:     "LINK",
		FlagOptions: []FlagOption{
			{Name: "shared", Template: "/DLL"},
			{Name: "debug", Template: "/DEBUG"},
			{Name: "library_dirs", Template: "/LIBPATH:%s"},
			{Name: "library_files", Template: ""},
			{Name: "libraries", Template: "%s.lib"},
		},
		OutputKey:     "/OUT:%s",
		SearchPathEnv: []string{"LIB"},
		ProductFiles:  []string{"%s.lib", "%s.exp", "%s.pdb", "%s.ilk"},
	}
	ar := &Descriptor{
		Name:          "ar",
		Type:          Archiver,
		Languages:     []string{"c", "c++", "fortran"},
		Platforms:     []Platform{Linux, MacOS},
		Executable:    "ar",
		ExecutableEnv: "AR",
		DefaultFlags:  []string{"-rcs"},
		OutputFirst:   true,
		VersionFlags:  []string{"--version"},
	}
	lib := &Descriptor{
		Name:         "LIB",
		Aliases:      []string{"lib"},
		Type:         Archiver,
		Languages:    []string{"c", "c++", "fortran"},
		Platforms:    []Platform{Windows},
		Executable:   "lib",
		DefaultFlags: []string{"/NOLOGO"},
		OutputKey:    "/OUT:%s",
	}
	mk := &Descriptor{
		Name:          "make",
		Aliases:       []string{"gmake"},
		Type:          Compiler,
		Languages:     []string{"make"},
		Platforms:     []Platform{Linux, MacOS},
		Executable:    "make",
		ExecutableEnv: "MAKE",
		FlagOptions: []FlagOption{
			{Name: "makefile", Template: "-f"},
			{Name: "directory", Template: "-C"},
			{Name: "jobs", Template: "-j%s", NoDuplicates: true},
			{Name: "variables", Template: ""},
			{Name: "target", Template: ""},
		},
		VersionFlags:      []string{"--version"},
		NoSeparateLinking: true,
	}
	nmake := &Descriptor{
		Name:         "nmake",
		Type:         Compiler,
		Languages:    []string{"make"},
		Platforms:    []Platform{Windows},
		Executable:   "nmake",
		DefaultFlags: []string{"/NOLOGO"},
		FlagOptions: []FlagOption{
			{Name: "makefile", Template: "/F"},
			{Name: "variables", Template: ""},
			{Name: "target", Template: ""},
		},
		NoSeparateLinking: true,
	}
	cmake := &Descriptor{
		Name:       "cmake",
		Type:       Compiler,
		Languages:  []string{"cmake"},
		Platforms:  []Platform{Linux, MacOS, Windows},
		Executable: "cmake",
		FlagOptions: []FlagOption{
			{Name: "build", Template: "--build"},
			{Name: "source_dir", Template: "-S"},
			{Name: "build_dir", Template: "-B"},
			{Name: "generator", Template: "-G"},
			{Name: "definitions", Template: "-D%s"},
			{Name: "config", Template: "--config"},
			{Name: "target", Template: "--target"},
		},
		VersionFlags:      []string{"--version"},
		NoSeparateLinking: true,
	}
	return []*Descriptor{clang, gcc, clangxx, gxx, gfortran, cl, link, ar, lib, mk, nmake, cmake}
}

func init() {
	defaultRegistry.MustRegister(Builtins()...)
}
