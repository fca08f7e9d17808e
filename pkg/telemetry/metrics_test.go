package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func TestMetrics_RecordsPipelineCounters(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "loom", ListenAddress: ":0"}, testLogger())
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.UnitDiscovered()
	m.UnitDiscovered()
	m.UnitTransformed(3)
	m.UnitIgnored("excluded")
	m.UnitIgnored("excluded")
	m.UnitIgnored("unmatched")
	m.UnitErrored()
	m.ContextRegistered()
	m.ObserveTransform(50 * time.Microsecond)
	m.RecordComposition(2, 5, 1)

	if got := testutil.ToFloat64(m.unitsDiscovered); got != 2 {
		t.Errorf("units_discovered_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.unitsTransformed); got != 1 {
		t.Errorf("units_transformed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.rulesApplied); got != 3 {
		t.Errorf("rules_applied_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.unitsIgnored.WithLabelValues("excluded")); got != 2 {
		t.Errorf("units_ignored_total{reason=excluded} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.unitsErrored); got != 1 {
		t.Errorf("units_errored_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.contextsRegistered); got != 1 {
		t.Errorf("contexts_registered_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.pluginsComposed); got != 2 {
		t.Errorf("plugins_composed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.rulesComposed); got != 5 {
		t.Errorf("rules_composed = %v, want 5", got)
	}
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false}, testLogger())
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	// Must not panic on any recorder method.
	m.UnitDiscovered()
	m.UnitTransformed(1)
	m.UnitIgnored("excluded")
	m.UnitErrored()
	m.ContextRegistered()
	m.ObserveTransform(time.Millisecond)
	m.RecordComposition(1, 1, 0)
}
