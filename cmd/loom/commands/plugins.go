package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/loomengine/loom/pkg/engine"
	"github.com/loomengine/loom/pkg/policy"
)

// pluginReport is one configured plugin as shown by `loom plugins`.
type pluginReport struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Rules        []string `json:"rules,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Admitted     bool     `json:"admitted"`
	DenialReason string   `json:"denial_reason,omitempty"`
}

func newPluginsCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List configured plugins and their admission verdicts",
		Long: `Build the configured plugin set, collect each plugin's rules and
capabilities, and evaluate the admission policies against it. This is a
dry run of plugin discovery: nothing attaches, nothing loads.`,
		Example: `  # Show the plugin set for the default config
  loom plugins

  # Against a specific config
  loom plugins --config loom.cue --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(version)
			if err != nil {
				return err
			}
			logger := zerolog.New(nil).Level(zerolog.Disabled)

			set, err := buildPlugins(cfg, logger)
			if err != nil {
				return err
			}
			admission, err := policy.NewEngine(cfg.PolicyEnvironment(), logger)
			if err != nil {
				return err
			}
			if len(cfg.Policy.Paths) > 0 {
				custom, err := policy.NewLoader(logger).LoadFromPaths(ctx, cfg.Policy.Paths)
				if err != nil {
					return err
				}
				if err := admission.ReplacePolicies(ctx, custom); err != nil {
					return err
				}
			}

			reports := make([]pluginReport, 0, len(set))
			for _, p := range set {
				rep := pluginReport{Name: p.Name(), Version: p.Version()}

				rules, err := p.ContributeRules()
				if err != nil {
					rep.DenialReason = fmt.Sprintf("rule construction failed: %v", err)
					reports = append(reports, rep)
					continue
				}
				for _, r := range rules {
					rep.Rules = append(rep.Rules, r.Name)
				}
				if cd, ok := p.(engine.CapabilityDeclarer); ok {
					rep.Capabilities = cd.Capabilities()
				}

				info := engine.PluginInfo{
					Name:         rep.Name,
					Version:      rep.Version,
					Rules:        len(rules),
					Capabilities: rep.Capabilities,
				}
				if err := admission.Admit(ctx, info); err != nil {
					rep.DenialReason = err.Error()
				} else {
					rep.Admitted = true
				}
				reports = append(reports, rep)
			}

			if jsonOutput {
				return printJSON(reports)
			}
			for _, rep := range reports {
				status := "admitted"
				if !rep.Admitted {
					status = "denied: " + rep.DenialReason
				}
				fmt.Printf("%s %s\n", rep.Name, rep.Version)
				fmt.Printf("  rules:        %v\n", rep.Rules)
				if len(rep.Capabilities) > 0 {
					fmt.Printf("  capabilities: %v\n", rep.Capabilities)
				}
				fmt.Printf("  admission:    %s\n", status)
			}
			if len(reports) == 0 {
				fmt.Println("no plugins configured")
			}
			return nil
		},
	}

	return cmd
}
