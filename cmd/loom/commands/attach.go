package commands

import (
	"github.com/spf13/cobra"

	"github.com/loomengine/loom/pkg/engine"
	"github.com/loomengine/loom/pkg/host"
)

func newAttachCommand(version string) *cobra.Command {
	var (
		contextName string
		enableWASI  bool
	)

	cmd := &cobra.Command{
		Use:   "attach <module.wasm> [module.wasm...]",
		Short: "Load modules first, then attach with retransformation",
		Long: `Load the given modules into a plain host, then attach the engine to
it. Installation replays the already-loaded modules through the new
subscription, so late attachment still instruments everything the host
holds.`,
		Example: `  # Attach to a host that already loaded its modules
  loom attach app.wasm helper.wasm`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := setupRuntime(ctx, version)
			if err != nil {
				return err
			}
			defer rt.shutdown()

			h, err := host.NewWASMHost(ctx, host.WASMHostConfig{EnableWASI: enableWASI}, rt.logger)
			if err != nil {
				return err
			}
			defer func() { _ = h.Close(ctx) }()

			// Loads happen before any subscription exists.
			lc := h.NewContext(contextName, engine.ContextKindApplication)
			for _, path := range args {
				binary, err := readModule(path)
				if err != nil {
					return err
				}
				if _, err := h.LoadModule(ctx, moduleName(path), binary, lc); err != nil {
					return err
				}
			}
			rt.logger.Info().
				Strs("modules", h.Loaded()).
				Msg("Modules loaded before attach")

			res, err := rt.attach(ctx, h)
			if err != nil {
				return err
			}
			defer rt.finish(ctx, res)

			return printAttachResult(res)
		},
	}

	cmd.Flags().StringVar(&contextName, "context", "main", "loading context name")
	cmd.Flags().BoolVar(&enableWASI, "wasi", false, "instantiate WASI imports")

	return cmd
}
