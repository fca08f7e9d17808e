package config

import (
	"github.com/loomengine/loom/pkg/engine"
)

// Default returns the configuration a file-less run gets. It mirrors the
// defaults in the embedded schema.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "loom",
			Version:     "dev",
			Environment: "development",
		},
		Plugins: PluginsConfig{
			Watermark: WatermarkConfig{Enabled: true},
		},
		Telemetry: TelemetryConfig{
			Logging: LogConfig{
				Level:  "info",
				Format: "console",
				Output: "stderr",
			},
			Tracing: TraceConfig{
				Exporter:     "none",
				SamplingRate: 1.0,
				Insecure:     true,
			},
			Metrics: MetricConfig{
				Enabled:       true,
				ListenAddress: ":9090",
				Path:          "/metrics",
			},
		},
		Journal: JournalConfig{
			Enabled:       true,
			Path:          "loom-journal.db",
			BufferSize:    1024,
			FlushInterval: "1s",
			MaxBatchSize:  128,
		},
	}
}

// DefaultExclusions is the default exclusion catalogue. The engine's own
// namespace and the runtime surfaces it rides on never carry user logic,
// and generated proxy and bridge modules are rewritten on every build,
// so stamping them is wasted work.
func DefaultExclusions() []engine.RuleDescriptor {
	return []engine.RuleDescriptor{
		{Kind: engine.KindPrefix, Value: "loom."},
		{Kind: engine.KindPrefix, Value: "runtime."},
		{Kind: engine.KindPrefix, Value: "wasi_snapshot_preview1."},
		{Kind: engine.KindPrefix, Value: "env."},
		{Kind: engine.KindPrefix, Value: "spectest."},
		{Kind: engine.KindSubstring, Value: "$proxy"},
		{Kind: engine.KindSubstring, Value: "__bridge"},
		{Kind: engine.KindSubstring, Value: ".generated."},
	}
}
