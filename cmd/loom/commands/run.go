package commands

import (
	"github.com/spf13/cobra"

	"github.com/loomengine/loom/pkg/engine"
	"github.com/loomengine/loom/pkg/host"
)

func newRunCommand(version string) *cobra.Command {
	var (
		contextName string
		enableWASI  bool
	)

	cmd := &cobra.Command{
		Use:   "run <module.wasm> [module.wasm...]",
		Short: "Attach the engine, then load modules through it",
		Long: `Attach the instrumentation engine to a fresh WebAssembly host before
any module loads, then load the given modules through it. Every load
passes the exclusion filter and the plugin pipeline on its way in.`,
		Example: `  # Run a module under instrumentation
  loom run app.wasm

  # Load several modules into a named context
  loom run --context workers api.wasm worker.wasm

  # Modules built against WASI
  loom run --wasi app.wasm`,
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

			res, err := rt.attach(ctx, h)
			if err != nil {
				return err
			}
			defer rt.finish(ctx, res)

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

			if err := printAttachResult(res); err != nil {
				return err
			}
			rt.logger.Info().
				Strs("modules", h.Loaded()).
				Str("context", contextName).
				Msg("Modules loaded")
			return nil
		},
	}

	cmd.Flags().StringVar(&contextName, "context", "main", "loading context name")
	cmd.Flags().BoolVar(&enableWASI, "wasi", false, "instantiate WASI imports")

	return cmd
}
