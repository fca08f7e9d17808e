package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testConfig = `
service: {
	name:        "loom-test"
	environment: "staging"
}

engine: exclusions: [
	{kind: "prefix", value: "vendor."},
	{kind: "substring", value: ".gen."},
]

plugins: scripts: [{
	name:   "tagger"
	source: """
		def matches(name):
		    return True

		def annotate(name):
		    return name
		"""
}]

journal: path: "test.db"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestParser_LoadFile(t *testing.T) {
	path := writeConfig(t, "loom.cue", testConfig)

	cfg, err := NewParser().Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Service.Name != "loom-test" {
		t.Errorf("Service.Name = %q, want loom-test", cfg.Service.Name)
	}
	if cfg.Service.Environment != "staging" {
		t.Errorf("Service.Environment = %q, want staging", cfg.Service.Environment)
	}
	if len(cfg.Engine.Exclusions) != 2 {
		t.Fatalf("Exclusions = %d, want 2", len(cfg.Engine.Exclusions))
	}
	if cfg.Engine.Exclusions[0].Value != "vendor." {
		t.Errorf("Exclusions[0].Value = %q", cfg.Engine.Exclusions[0].Value)
	}
	if len(cfg.Plugins.Scripts) != 1 || cfg.Plugins.Scripts[0].Name != "tagger" {
		t.Errorf("Scripts = %+v", cfg.Plugins.Scripts)
	}
	if cfg.Journal.Path != "test.db" {
		t.Errorf("Journal.Path = %q, want test.db", cfg.Journal.Path)
	}
}

func TestParser_SchemaDefaultsApplied(t *testing.T) {
	cfg, err := NewParser().ParseInline(`service: name: "minimal"`)
	if err != nil {
		t.Fatalf("ParseInline failed: %v", err)
	}

	if cfg.Service.Version != "dev" {
		t.Errorf("Service.Version = %q, want dev", cfg.Service.Version)
	}
	if !cfg.Plugins.Watermark.Enabled {
		t.Error("Watermark must default to enabled")
	}
	if cfg.Telemetry.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Telemetry.Logging.Level)
	}
	if cfg.Journal.BufferSize != 1024 {
		t.Errorf("Journal.BufferSize = %d, want 1024", cfg.Journal.BufferSize)
	}
	if cfg.Journal.FlushInterval != "1s" {
		t.Errorf("Journal.FlushInterval = %q, want 1s", cfg.Journal.FlushInterval)
	}
}

func TestParser_UnknownFieldRejected(t *testing.T) {
	_, err := NewParser().ParseInline(`engine: exclusionz: []`)
	if err == nil {
		t.Fatal("Misspelled field must be rejected")
	}
}

func TestParser_InvalidRuleKindRejected(t *testing.T) {
	_, err := NewParser().ParseInline(`engine: exclusions: [{kind: "glob", value: "*"}]`)
	if err == nil {
		t.Fatal("Unknown rule kind must be rejected")
	}
}

func TestParser_InvalidLogLevelRejected(t *testing.T) {
	_, err := NewParser().ParseInline(`telemetry: logging: level: "verbose"`)
	if err == nil {
		t.Fatal("Unknown log level must be rejected")
	}
}

func TestParser_BrokenSyntaxReportsPosition(t *testing.T) {
	path := writeConfig(t, "broken.cue", "service: {\nname =")

	_, err := NewParser().Load(path)
	if err == nil {
		t.Fatal("Broken syntax must error")
	}
	if !strings.Contains(err.Error(), "broken.cue") {
		t.Errorf("Error %q does not name the file", err)
	}
}

func TestParser_MultipleFilesUnify(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.cue")
	b := filepath.Join(dir, "b.cue")
	if err := os.WriteFile(a, []byte(`service: name: "multi"`), 0644); err != nil {
		t.Fatalf("Failed to write a.cue: %v", err)
	}
	if err := os.WriteFile(b, []byte(`journal: path: "multi.db"`), 0644); err != nil {
		t.Fatalf("Failed to write b.cue: %v", err)
	}

	cfg, err := NewParser().Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Service.Name != "multi" || cfg.Journal.Path != "multi.db" {
		t.Errorf("Unified config = %+v", cfg)
	}
}

func TestParser_ConflictingFilesRejected(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.cue"), []byte(`journal: path: "a.db"`), 0644); err != nil {
		t.Fatalf("Failed to write a.cue: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.cue"), []byte(`journal: path: "b.db"`), 0644); err != nil {
		t.Fatalf("Failed to write b.cue: %v", err)
	}

	if _, err := NewParser().Load(dir); err == nil {
		t.Fatal("Conflicting values must fail unification")
	}
}

func TestParser_NoSourcesReturnsDefaults(t *testing.T) {
	cfg, err := NewParser().Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Service.Name != "loom" || !cfg.Journal.Enabled {
		t.Errorf("Defaults = %+v", cfg)
	}
}

func TestParser_MissingSource(t *testing.T) {
	if _, err := NewParser().Load("/does/not/exist.cue"); err == nil {
		t.Fatal("Missing source must error")
	}
}

func TestParser_BadPatternRejected(t *testing.T) {
	_, err := NewParser().ParseInline(`engine: exclusions: [{kind: "pattern", value: "["}]`)
	if err == nil {
		t.Fatal("Unparseable pattern must be rejected")
	}
}
