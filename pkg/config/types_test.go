package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loomengine/loom/pkg/engine"
)

func TestConfig_AllExclusions(t *testing.T) {
	cfg := Default()
	cfg.Engine.Exclusions = []engine.RuleDescriptor{
		{Kind: engine.KindPrefix, Value: "vendor."},
	}

	all := cfg.AllExclusions()
	if len(all) != len(DefaultExclusions())+1 {
		t.Fatalf("AllExclusions = %d rules, want defaults plus one", len(all))
	}
	if all[len(all)-1].Value != "vendor." {
		t.Errorf("Configured rule must follow the catalogue, got %+v", all[len(all)-1])
	}

	cfg.Engine.DisableDefaultExclusions = true
	only := cfg.AllExclusions()
	if len(only) != 1 || only[0].Value != "vendor." {
		t.Errorf("Disabled defaults must leave only configured rules, got %+v", only)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name: "broken pattern",
			mutate: func(c *Config) {
				c.Engine.Exclusions = []engine.RuleDescriptor{{Kind: engine.KindPattern, Value: "["}}
			},
			wantErr: true,
		},
		{
			name: "script with both path and source",
			mutate: func(c *Config) {
				c.Plugins.Scripts = []ScriptConfig{{Name: "s", Path: "/x", Source: "def"}}
			},
			wantErr: true,
		},
		{
			name: "script with neither path nor source",
			mutate: func(c *Config) {
				c.Plugins.Scripts = []ScriptConfig{{Name: "s"}}
			},
			wantErr: true,
		},
		{
			name: "duplicate script names",
			mutate: func(c *Config) {
				c.Plugins.Scripts = []ScriptConfig{
					{Name: "s", Source: "a"},
					{Name: "s", Source: "b"},
				}
			},
			wantErr: true,
		},
		{
			name: "bad flush interval",
			mutate: func(c *Config) {
				c.Journal.FlushInterval = "soon"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ToTelemetry(t *testing.T) {
	cfg := Default()
	cfg.Service.Name = "loom-prod"
	cfg.Service.Environment = "production"
	cfg.Telemetry.Logging.Level = "warn"
	cfg.Telemetry.Tracing.Enabled = true
	cfg.Telemetry.Tracing.Exporter = "otlp"
	cfg.Telemetry.Tracing.SamplingRate = 0.25
	cfg.Journal.FlushInterval = "250ms"
	cfg.Journal.BufferSize = 64

	tc, err := cfg.ToTelemetry()
	if err != nil {
		t.Fatalf("ToTelemetry failed: %v", err)
	}
	if tc.ServiceName != "loom-prod" || tc.Environment != "production" {
		t.Errorf("Service identity not mapped: %+v", tc)
	}
	if tc.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", tc.Logging.Level)
	}
	if !tc.Tracing.Enabled || tc.Tracing.Exporter != "otlp" || tc.Tracing.SamplingRate != 0.25 {
		t.Errorf("Tracing not mapped: %+v", tc.Tracing)
	}
	if tc.Journal.FlushInterval != 250*time.Millisecond {
		t.Errorf("FlushInterval = %v, want 250ms", tc.Journal.FlushInterval)
	}
	if tc.Journal.BufferSize != 64 {
		t.Errorf("BufferSize = %d, want 64", tc.Journal.BufferSize)
	}
	if err := tc.Validate(); err != nil {
		t.Errorf("Mapped telemetry config must validate: %v", err)
	}
}

func TestConfig_PolicyEnvironmentFallback(t *testing.T) {
	cfg := Default()
	cfg.Service.Environment = "staging"
	if got := cfg.PolicyEnvironment(); got != "staging" {
		t.Errorf("PolicyEnvironment = %q, want staging", got)
	}

	cfg.Policy.Environment = "production"
	if got := cfg.PolicyEnvironment(); got != "production" {
		t.Errorf("PolicyEnvironment = %q, want production", got)
	}
}

func TestScriptConfig_Resolve(t *testing.T) {
	if src, err := (ScriptConfig{Name: "s", Source: "def"}).Resolve(); err != nil || src != "def" {
		t.Errorf("Resolve inline = %q, %v", src, err)
	}

	path := filepath.Join(t.TempDir(), "s.star")
	if err := os.WriteFile(path, []byte("def matches(name): return True"), 0644); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	src, err := (ScriptConfig{Name: "s", Path: path}).Resolve()
	if err != nil || src == "" {
		t.Errorf("Resolve from path = %q, %v", src, err)
	}

	if _, err := (ScriptConfig{Name: "s"}).Resolve(); err == nil {
		t.Error("Resolve without source must error")
	}
}

func TestDefaultExclusions_CompileAndExclude(t *testing.T) {
	m, err := engine.NewExclusionMatcher(DefaultExclusions())
	if err != nil {
		t.Fatalf("Default catalogue must compile: %v", err)
	}

	lc := engine.NewLoadingContext("app", engine.ContextKindApplication)
	excluded := []string{
		"loom.internal/tracker",
		"runtime.gc",
		"wasi_snapshot_preview1.fd_write",
		"env.host_call",
		"pkg/gen/$proxy17",
		"svc.generated.stubs",
	}
	for _, name := range excluded {
		if !m.Excluded(name, lc) {
			t.Errorf("Excluded(%q) = false, want true", name)
		}
	}
	if m.Excluded("app/handlers", lc) {
		t.Error("Ordinary unit must not be excluded")
	}
}
