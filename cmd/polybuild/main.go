package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout, os.Stderr)
	if err := root.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands writing to stdout
// and stderr.
func buildRoot(stdout, stderr io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	c := &command{global: globalFlags, stdout: stdout, stderr: stderr}

	root := createRootCommand(globalFlags)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.AddCommand(
		createBuildCommand(c),
		createRunCommand(c),
		createToolsCommand(c),
		createOrderCommand(c),
		createLanguagesCommand(c),
		createServeCommand(c),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "polybuild",
		Short: "Build and run models written in compiled or interpreted languages",
		Long: `Polybuild compiles model sources with the toolchain registered for their
language, builds the libraries they depend on in order, and runs the result
while streaming its output.

Examples:
  polybuild --config polybuild.toml build hello
  polybuild --config polybuild.toml run hello -- --steps 10
  polybuild tools --type compiler --language fortran
  polybuild --config polybuild.toml serve`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "override [log].level (debug, info, warn, error)")
	return root
}

func createBuildCommand(c *command) *cobra.Command {
	f := &BuildFlags{}
	cmd := &cobra.Command{
		Use:   "build [model...]",
		Short: "Build declared models",
		Long: `Build the named models from the configuration and print each output path.

Examples:
  polybuild --config polybuild.toml build hello solver
  polybuild --config polybuild.toml build --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Build(cmd.Context(), *f, args)
		},
	}
	cmd.Flags().BoolVar(&f.All, "all", false, "build every declared model")
	return cmd
}

func createRunCommand(c *command) *cobra.Command {
	f := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run model [-- args...]",
		Short: "Build a model if needed and run it",
		Long: `Run a declared model. Arguments after -- are passed to the model. The
command exits with the model's exit code.

Examples:
  polybuild --config polybuild.toml run hello
  polybuild --config polybuild.toml run hello --clean --timeout 30s -- input.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), *f, args[0], args[1:])
		},
	}
	cmd.Flags().BoolVar(&f.Clean, "clean", false, "remove build products after the model exits")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 0, "kill the model after this long (0 = no limit)")
	return cmd
}

func createToolsCommand(c *command) *cobra.Command {
	f := &ToolsFlags{}
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List registered compilers, linkers and archivers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Tools(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Type, "type", "", "compiler, linker or archiver")
	cmd.Flags().StringVar(&f.Language, "language", "", "only tools supporting this language")
	cmd.Flags().BoolVar(&f.Probe, "probe", false, "locate each executable and read its version")
	return cmd
}

func createOrderCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "order dependency...",
		Short: "Print the build order of dependencies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Order(args)
		},
	}
}

func createLanguagesCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List supported languages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Languages()
		},
	}
}

func createServeCommand(c *command) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tool registry and declared models over HTTP",
		Long: `Start an HTTP server exposing the tool registry, dependency order and the
declared models, which can be built and cleaned through the API.

Examples:
  polybuild --config polybuild.toml serve
  polybuild --config polybuild.toml serve --listen :8080 --base-path /api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Serve(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "listen address (overrides [server].listen)")
	cmd.Flags().StringVar(&f.BasePath, "base-path", "", "API base path (overrides [server].base_path)")
	cmd.Flags().BoolVar(&f.NonBlocking, "non-blocking", false, "return once the server has started")
	return cmd
}
