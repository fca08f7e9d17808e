package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "loom",
		Short: "Loom - dynamic WebAssembly instrumentation engine",
		Long: `Loom attaches to a WebAssembly host runtime and rewrites modules as
they load, driven by a composed pipeline of instrumentation plugins.

Features:
  - Rule-based exclusion of runtime and generated namespaces
  - Plugin pipeline composed once at attach
  - Starlark-scripted plugins
  - OPA-gated plugin admission
  - Persistent load-event journal
  - Prometheus metrics and OpenTelemetry tracing`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (CUE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newAttachCommand(version))
	rootCmd.AddCommand(newPluginsCommand(version))
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}
