package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/loomengine/loom/pkg/config"
	"github.com/loomengine/loom/pkg/engine"
	"github.com/loomengine/loom/pkg/plugins"
	"github.com/loomengine/loom/pkg/policy"
	"github.com/loomengine/loom/pkg/stores"
	"github.com/loomengine/loom/pkg/telemetry"
)

// runtime is everything one engine instance needs wired together: config,
// telemetry, journal, admission, and the engine itself.
type runtime struct {
	cfg       *config.Config
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
	store     *stores.SQLiteStore
	sink      *telemetry.BufferedSink
	admission *policy.Engine
	policies  *policy.Loader
	eng       *engine.Engine
}

// loadConfig parses the configured CUE sources, falling back to defaults
// when no --config was given.
func loadConfig(version string) (*config.Config, error) {
	parser := config.NewParser()

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = parser.Load(configPath)
	} else {
		cfg, err = parser.Load()
	}
	if err != nil {
		return nil, err
	}

	if cfg.Service.Version == "dev" && version != "" {
		cfg.Service.Version = version
	}
	return cfg, nil
}

// setupRuntime builds the full engine runtime from configuration.
func setupRuntime(ctx context.Context, version string) (*runtime, error) {
	cfg, err := loadConfig(version)
	if err != nil {
		return nil, err
	}

	tcfg, err := cfg.ToTelemetry()
	if err != nil {
		return nil, err
	}
	if verbose {
		tcfg.Logging.Level = "debug"
	}
	if err := tcfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	logger, err := telemetry.NewLogger(tcfg.Logging)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger}

	rt.metrics, err = telemetry.NewMetrics(tcfg.Metrics, logger)
	if err != nil {
		return nil, err
	}
	if err := rt.metrics.StartMetricsServer(); err != nil {
		return nil, err
	}

	rt.tracer, err = telemetry.NewTracer(tcfg.Tracing, cfg.Service.Name, cfg.Service.Version, cfg.Service.Environment)
	if err != nil {
		return nil, err
	}

	if cfg.Journal.Enabled {
		rt.store, err = stores.NewSQLiteStore(stores.Config{Path: cfg.Journal.Path})
		if err != nil {
			return nil, err
		}
		if err := rt.store.Init(ctx); err != nil {
			return nil, err
		}
		if err := rt.store.Migrate(ctx); err != nil {
			return nil, err
		}
		rt.sink = telemetry.NewBufferedSink(tcfg.Journal, rt.store, logger)
	}

	rt.admission, err = policy.NewEngine(cfg.PolicyEnvironment(), logger)
	if err != nil {
		return nil, err
	}
	if len(cfg.Policy.Paths) > 0 {
		rt.policies = policy.NewLoader(logger)
		custom, err := rt.policies.LoadFromPaths(ctx, cfg.Policy.Paths)
		if err != nil {
			return nil, err
		}
		if err := rt.admission.ReplacePolicies(ctx, custom); err != nil {
			return nil, err
		}
		if cfg.Policy.Watch {
			reload := func(ps []policy.Policy) error {
				return rt.admission.ReplacePolicies(context.Background(), ps)
			}
			if err := rt.policies.Watch(ctx, cfg.Policy.Paths, reload); err != nil {
				return nil, err
			}
		}
	}

	pluginSet, err := buildPlugins(cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithStats(rt.metrics),
		engine.WithTracer(rt.tracer.Tracer()),
	}
	if rt.sink != nil {
		opts = append(opts, engine.WithEventSink(rt.sink))
	}

	rt.eng, err = engine.New(cfg.AllExclusions(), pluginSet, logger, opts...)
	if err != nil {
		return nil, err
	}
	rt.eng.SetAdmissionPolicy(rt.admission)

	return rt, nil
}

// buildPlugins constructs the configured plugin set.
func buildPlugins(cfg *config.Config, logger zerolog.Logger) ([]engine.Plugin, error) {
	var set []engine.Plugin

	if cfg.Plugins.Watermark.Enabled {
		set = append(set, plugins.NewWatermarkPlugin(cfg.WatermarkVersion(), logger))
	}

	for _, sc := range cfg.Plugins.Scripts {
		source, err := sc.Resolve()
		if err != nil {
			return nil, err
		}
		sp, err := plugins.NewScriptPlugin(sc.Name, sc.Version, source, logger)
		if err != nil {
			return nil, fmt.Errorf("script plugin %s: %w", sc.Name, err)
		}
		set = append(set, sp)
	}

	return set, nil
}

// attach attaches the engine to the host and records the attach in the
// journal, which binds subsequent load events to its ID.
func (rt *runtime) attach(ctx context.Context, host engine.Host) (*engine.AttachResult, error) {
	res, err := rt.eng.Attach(ctx, host)
	if err != nil {
		return nil, err
	}
	if rt.store != nil {
		if err := rt.store.CreateAttach(ctx, res); err != nil {
			rt.logger.Warn().Err(err).Msg("Failed to journal attach")
		}
	}
	return res, nil
}

// finish detaches and closes the attach journal record.
func (rt *runtime) finish(ctx context.Context, res *engine.AttachResult) {
	if err := rt.eng.Detach(ctx); err != nil {
		rt.logger.Warn().Err(err).Msg("Detach failed")
	}
	if rt.store != nil && res != nil {
		if err := rt.store.MarkDetached(ctx, res.ID); err != nil {
			rt.logger.Warn().Err(err).Msg("Failed to mark attach detached")
		}
	}
}

// shutdown flushes and releases everything in dependency order.
func (rt *runtime) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if rt.policies != nil {
		if err := rt.policies.StopWatching(); err != nil {
			rt.logger.Warn().Err(err).Msg("Failed to stop policy watcher")
		}
	}
	if rt.sink != nil {
		if err := rt.sink.Shutdown(ctx); err != nil {
			rt.logger.Warn().Err(err).Msg("Event sink shutdown failed")
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Warn().Err(err).Msg("Journal close failed")
		}
	}
	if rt.tracer != nil {
		if err := rt.tracer.Shutdown(ctx); err != nil {
			rt.logger.Warn().Err(err).Msg("Tracer shutdown failed")
		}
	}
}

// printAttachResult reports an attach in the selected output format.
func printAttachResult(res *engine.AttachResult) error {
	if jsonOutput {
		return printJSON(res)
	}

	fmt.Printf("attached: id=%s plugins=%d rules=%d\n", res.ID, res.Plugins, res.Rules)
	for _, d := range res.Dropped {
		fmt.Printf("  dropped plugin %s: %s\n", d.Name, d.Reason)
	}
	return nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// moduleName derives a unit name from a module file path.
func moduleName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".wasm")
}

// readModule reads one module binary from disk.
func readModule(path string) ([]byte, error) {
	binary, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read module %s: %w", path, err)
	}
	return binary, nil
}
