package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomengine/loom/pkg/config"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate configuration files",
		Long: `Parse the given CUE configuration sources, unify them with the
configuration schema, and report the effective engine setup. With no
arguments the --config flag (or the defaults) is validated.`,
		Example: `  # Validate the default config
  loom validate --config loom.cue

  # Validate a directory of CUE files
  loom validate ./configs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := args
			if len(sources) == 0 && configPath != "" {
				sources = []string{configPath}
			}

			cfg, err := config.NewParser().Load(sources...)
			if err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}

			if jsonOutput {
				return printJSON(cfg)
			}

			fmt.Println("configuration valid")
			fmt.Printf("  service:    %s %s (%s)\n", cfg.Service.Name, cfg.Service.Version, cfg.Service.Environment)
			fmt.Printf("  exclusions: %d rules (%d configured)\n", len(cfg.AllExclusions()), len(cfg.Engine.Exclusions))
			plugins := len(cfg.Plugins.Scripts)
			if cfg.Plugins.Watermark.Enabled {
				plugins++
			}
			fmt.Printf("  plugins:    %d\n", plugins)
			if cfg.Journal.Enabled {
				fmt.Printf("  journal:    %s\n", cfg.Journal.Path)
			} else {
				fmt.Println("  journal:    disabled")
			}
			if len(cfg.Policy.Paths) > 0 {
				fmt.Printf("  policies:   %v (watch=%v)\n", cfg.Policy.Paths, cfg.Policy.Watch)
			}
			return nil
		},
	}

	return cmd
}
