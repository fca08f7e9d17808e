package config

import (
	"fmt"
	"os"
	"time"

	"github.com/loomengine/loom/pkg/engine"
	"github.com/loomengine/loom/pkg/telemetry"
)

// Config is the full engine configuration as decoded from CUE.
type Config struct {
	// Service identifies this engine instance.
	Service ServiceConfig `json:"service"`

	// Engine configures the transformation engine itself.
	Engine EngineConfig `json:"engine"`

	// Plugins configures the built-in plugin set.
	Plugins PluginsConfig `json:"plugins"`

	// Telemetry configures logging, tracing, and metrics.
	Telemetry TelemetryConfig `json:"telemetry"`

	// Journal configures the load-event journal.
	Journal JournalConfig `json:"journal"`

	// Policy configures plugin admission.
	Policy PolicyConfig `json:"policy"`
}

// ServiceConfig identifies the engine instance.
type ServiceConfig struct {
	// Name is the service name used in telemetry.
	Name string `json:"name" validate:"required"`

	// Version is the service version.
	Version string `json:"version"`

	// Environment is the deployment environment (development, staging,
	// production).
	Environment string `json:"environment"`
}

// EngineConfig configures the transformation engine.
type EngineConfig struct {
	// Exclusions are the configured exclusion rule descriptors, applied
	// on top of the default catalogue. The list is ordered and fixed at
	// attach.
	Exclusions []engine.RuleDescriptor `json:"exclusions" validate:"dive"`

	// DisableDefaultExclusions drops the default catalogue, leaving only
	// the configured descriptors. The bootstrap, reflection, and
	// call-site context kinds stay excluded regardless.
	DisableDefaultExclusions bool `json:"disable_default_exclusions"`
}

// PluginsConfig configures the built-in plugins.
type PluginsConfig struct {
	// Watermark configures the watermark plugin.
	Watermark WatermarkConfig `json:"watermark"`

	// Scripts are Starlark-scripted plugins.
	Scripts []ScriptConfig `json:"scripts" validate:"dive"`
}

// WatermarkConfig configures the watermark plugin.
type WatermarkConfig struct {
	// Enabled controls whether transformed modules are stamped.
	Enabled bool `json:"enabled"`

	// Version overrides the stamped engine version. Empty uses the
	// service version.
	Version string `json:"version"`
}

// ScriptConfig configures one Starlark-scripted plugin. Exactly one of
// Path and Source must be set.
type ScriptConfig struct {
	// Name is the plugin name.
	Name string `json:"name" validate:"required"`

	// Version is the plugin version.
	Version string `json:"version"`

	// Path is a file containing the script.
	Path string `json:"path"`

	// Source is the script inline.
	Source string `json:"source"`
}

// Resolve returns the script source, reading Path when Source is empty.
func (s ScriptConfig) Resolve() (string, error) {
	switch {
	case s.Source != "" && s.Path != "":
		return "", fmt.Errorf("script %s: path and source are mutually exclusive", s.Name)
	case s.Source != "":
		return s.Source, nil
	case s.Path != "":
		data, err := os.ReadFile(s.Path)
		if err != nil {
			return "", fmt.Errorf("script %s: failed to read %s: %w", s.Name, s.Path, err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("script %s: either path or source is required", s.Name)
	}
}

// TelemetryConfig configures logging, tracing, and metrics.
type TelemetryConfig struct {
	Logging LogConfig    `json:"logging"`
	Tracing TraceConfig  `json:"tracing"`
	Metrics MetricConfig `json:"metrics"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is the minimum log level.
	Level string `json:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// Format is console or json.
	Format string `json:"format" validate:"omitempty,oneof=console json"`

	// Output is stdout, stderr, or a file path.
	Output string `json:"output"`

	// Caller adds file:line caller information.
	Caller bool `json:"caller"`

	// Sampling enables burst sampling of high-frequency load events.
	Sampling bool `json:"sampling"`
}

// TraceConfig configures distributed tracing.
type TraceConfig struct {
	Enabled bool `json:"enabled"`

	// Exporter is otlp, stdout, or none.
	Exporter string `json:"exporter" validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP endpoint.
	Endpoint string `json:"endpoint"`

	// SamplingRate is the trace sampling rate.
	SamplingRate float64 `json:"sampling_rate" validate:"gte=0,lte=1"`

	// Insecure disables TLS for the exporter connection.
	Insecure bool `json:"insecure"`
}

// MetricConfig configures the metrics endpoint.
type MetricConfig struct {
	Enabled bool `json:"enabled"`

	// ListenAddress is the metrics HTTP listen address.
	ListenAddress string `json:"listen_address"`

	// Path is the metrics HTTP path.
	Path string `json:"path"`
}

// JournalConfig configures the load-event journal.
type JournalConfig struct {
	Enabled bool `json:"enabled"`

	// Path is the SQLite database file.
	Path string `json:"path"`

	// BufferSize is the in-memory event buffer size.
	BufferSize int `json:"buffer_size" validate:"omitempty,gt=0"`

	// FlushInterval is the buffer flush interval as a duration string.
	FlushInterval string `json:"flush_interval"`

	// MaxBatchSize is the maximum events written per batch.
	MaxBatchSize int `json:"max_batch_size" validate:"omitempty,gt=0"`
}

// PolicyConfig configures plugin admission.
type PolicyConfig struct {
	// Environment passed to policy evaluation. Empty uses the service
	// environment.
	Environment string `json:"environment"`

	// Paths are directories or files of custom admission policies.
	Paths []string `json:"paths"`

	// Watch reloads custom policies on file change. Reloads affect
	// future attaches only.
	Watch bool `json:"watch"`
}

// AllExclusions returns the effective descriptor list: the default
// catalogue followed by the configured descriptors, unless the defaults
// are disabled.
func (c *Config) AllExclusions() []engine.RuleDescriptor {
	if c.Engine.DisableDefaultExclusions {
		return c.Engine.Exclusions
	}
	defaults := DefaultExclusions()
	all := make([]engine.RuleDescriptor, 0, len(defaults)+len(c.Engine.Exclusions))
	all = append(all, defaults...)
	all = append(all, c.Engine.Exclusions...)
	return all
}

// PolicyEnvironment returns the admission environment, falling back to
// the service environment.
func (c *Config) PolicyEnvironment() string {
	if c.Policy.Environment != "" {
		return c.Policy.Environment
	}
	return c.Service.Environment
}

// WatermarkVersion returns the version stamped by the watermark plugin,
// falling back to the service version.
func (c *Config) WatermarkVersion() string {
	if c.Plugins.Watermark.Version != "" {
		return c.Plugins.Watermark.Version
	}
	return c.Service.Version
}

// Validate performs the semantic checks struct tags cannot express: the
// exclusion descriptors must compile into a matcher, script configs must
// name exactly one source, and durations must parse.
func (c *Config) Validate() error {
	if _, err := engine.NewExclusionMatcher(c.AllExclusions()); err != nil {
		return fmt.Errorf("invalid exclusion rules: %w", err)
	}

	seen := make(map[string]struct{}, len(c.Plugins.Scripts))
	for _, s := range c.Plugins.Scripts {
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("duplicate script plugin name: %s", s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.Source != "" && s.Path != "" {
			return fmt.Errorf("script %s: path and source are mutually exclusive", s.Name)
		}
		if s.Source == "" && s.Path == "" {
			return fmt.Errorf("script %s: either path or source is required", s.Name)
		}
	}

	if c.Journal.FlushInterval != "" {
		if _, err := time.ParseDuration(c.Journal.FlushInterval); err != nil {
			return fmt.Errorf("invalid journal flush interval %q: %w", c.Journal.FlushInterval, err)
		}
	}
	return nil
}

// ToTelemetry maps the configuration onto a telemetry configuration.
func (c *Config) ToTelemetry() (*telemetry.Config, error) {
	tc := telemetry.DefaultConfig()
	tc.ServiceName = c.Service.Name
	tc.ServiceVersion = c.Service.Version
	tc.Environment = c.Service.Environment

	if c.Telemetry.Logging.Level != "" {
		tc.Logging.Level = c.Telemetry.Logging.Level
	}
	if c.Telemetry.Logging.Format != "" {
		tc.Logging.Format = c.Telemetry.Logging.Format
	}
	if c.Telemetry.Logging.Output != "" {
		tc.Logging.Output = c.Telemetry.Logging.Output
	}
	tc.Logging.EnableCaller = c.Telemetry.Logging.Caller
	tc.Logging.EnableSampling = c.Telemetry.Logging.Sampling

	tc.Tracing.Enabled = c.Telemetry.Tracing.Enabled
	if c.Telemetry.Tracing.Exporter != "" {
		tc.Tracing.Exporter = c.Telemetry.Tracing.Exporter
	}
	tc.Tracing.Endpoint = c.Telemetry.Tracing.Endpoint
	if c.Telemetry.Tracing.SamplingRate > 0 {
		tc.Tracing.SamplingRate = c.Telemetry.Tracing.SamplingRate
	}
	tc.Tracing.Insecure = c.Telemetry.Tracing.Insecure

	tc.Metrics.Enabled = c.Telemetry.Metrics.Enabled
	if c.Telemetry.Metrics.ListenAddress != "" {
		tc.Metrics.ListenAddress = c.Telemetry.Metrics.ListenAddress
	}
	if c.Telemetry.Metrics.Path != "" {
		tc.Metrics.Path = c.Telemetry.Metrics.Path
	}

	tc.Journal.Enabled = c.Journal.Enabled
	if c.Journal.BufferSize > 0 {
		tc.Journal.BufferSize = c.Journal.BufferSize
	}
	if c.Journal.MaxBatchSize > 0 {
		tc.Journal.MaxBatchSize = c.Journal.MaxBatchSize
	}
	if c.Journal.FlushInterval != "" {
		d, err := time.ParseDuration(c.Journal.FlushInterval)
		if err != nil {
			return nil, fmt.Errorf("invalid journal flush interval %q: %w", c.Journal.FlushInterval, err)
		}
		tc.Journal.FlushInterval = d
	}

	return tc, nil
}
