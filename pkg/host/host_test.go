package host

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/loomengine/loom/pkg/engine"
)

// emptyModule is the smallest valid WebAssembly binary: magic + version.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// customSection encodes a wasm custom section (id 0) with the given name
// and payload, sized for the short lengths used in tests.
func customSection(name string, payload []byte) []byte {
	body := append([]byte{byte(len(name))}, name...)
	body = append(body, payload...)
	return append([]byte{0x00, byte(len(body))}, body...)
}

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func newTestHost(t *testing.T) *WASMHost {
	t.Helper()
	h, err := NewWASMHost(context.Background(), WASMHostConfig{}, testLogger())
	if err != nil {
		t.Fatalf("Failed to create host: %v", err)
	}
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	return h
}

// tagPlugin appends a custom section to every module matching prefix.
func tagPlugin(prefix string, calls *atomic.Int64) engine.Plugin {
	return pluginFunc{
		name: "tagger",
		rules: []engine.Rule{{
			Name:    "tagger.section",
			Matches: func(u engine.TypeUnit) bool { return strings.HasPrefix(u.Name, prefix) },
			Transform: func(u engine.TypeUnit) ([]byte, error) {
				if calls != nil {
					calls.Add(1)
				}
				return append(append([]byte{}, u.Bytecode...), customSection("loom.tag", []byte{0x01})...), nil
			},
		}},
	}
}

type pluginFunc struct {
	name  string
	rules []engine.Rule
}

func (p pluginFunc) Name() string                           { return p.name }
func (p pluginFunc) Version() string                        { return "0.0.0-test" }
func (p pluginFunc) ContributeRules() ([]engine.Rule, error) { return p.rules, nil }

func TestWASMHost_LoadModuleWithoutSubscription(t *testing.T) {
	h := newTestHost(t)
	mod, err := h.LoadModule(context.Background(), "plain", emptyModule, h.NewContext("app", engine.ContextKindApplication))
	if err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	if mod == nil {
		t.Fatal("Module is nil")
	}
}

func TestWASMHost_TransformedModuleLoads(t *testing.T) {
	h := newTestHost(t)

	eng, err := engine.New(nil, []engine.Plugin{tagPlugin("demo/", nil)}, testLogger())
	if err != nil {
		t.Fatalf("Failed to build engine: %v", err)
	}
	if _, err := eng.Attach(context.Background(), h); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	lc := h.NewContext("app", engine.ContextKindApplication)
	if _, err := h.LoadModule(context.Background(), "demo/hello", emptyModule, lc); err != nil {
		t.Fatalf("LoadModule failed: %v", err)
	}
	// The appended custom section keeps the binary valid, so the
	// rewritten module instantiated and the context registered.
	if eng.Tracker().Len() != 1 {
		t.Errorf("Tracker membership = %d, want 1", eng.Tracker().Len())
	}
}

func TestWASMHost_BrokenRewriteFallsBackToOriginal(t *testing.T) {
	h := newTestHost(t)

	corrupting := pluginFunc{
		name: "corruptor",
		rules: []engine.Rule{{
			Name:    "corruptor.rule",
			Matches: func(u engine.TypeUnit) bool { return true },
			Transform: func(u engine.TypeUnit) ([]byte, error) {
				return []byte("not wasm"), nil
			},
		}},
	}
	eng, err := engine.New(nil, []engine.Plugin{corrupting}, testLogger())
	if err != nil {
		t.Fatalf("Failed to build engine: %v", err)
	}
	if _, err := eng.Attach(context.Background(), h); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	lc := h.NewContext("app", engine.ContextKindApplication)
	mod, err := h.LoadModule(context.Background(), "demo/hello", emptyModule, lc)
	if err != nil {
		t.Fatalf("Load must fall back to the original binary: %v", err)
	}
	if mod == nil {
		t.Fatal("Module is nil after fallback")
	}
}

func TestWASMHost_InstallTwiceFails(t *testing.T) {
	h := newTestHost(t)
	sub := &engine.Subscription{Listener: noopListener{}}
	if err := h.Install(context.Background(), sub); err != nil {
		t.Fatalf("First install failed: %v", err)
	}
	if err := h.Install(context.Background(), sub); err == nil {
		t.Fatal("Second install must fail")
	}
	if err := h.Uninstall(context.Background()); err != nil {
		t.Fatalf("Uninstall failed: %v", err)
	}
	if err := h.Install(context.Background(), sub); err != nil {
		t.Errorf("Install after uninstall failed: %v", err)
	}
}

func TestWASMHost_RetransformAlreadyLoaded(t *testing.T) {
	h := newTestHost(t)

	lc := h.NewContext("app", engine.ContextKindApplication)
	if _, err := h.LoadModule(context.Background(), "demo/early", emptyModule, lc); err != nil {
		t.Fatalf("Pre-attach load failed: %v", err)
	}

	var calls atomic.Int64
	eng, err := engine.New(nil, []engine.Plugin{tagPlugin("demo/", &calls)}, testLogger())
	if err != nil {
		t.Fatalf("Failed to build engine: %v", err)
	}
	if _, err := eng.Attach(context.Background(), h); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	// Attach with Retransform replays the already-loaded module.
	if calls.Load() != 1 {
		t.Errorf("Retransform calls = %d, want 1", calls.Load())
	}
	if eng.Tracker().Len() != 1 {
		t.Errorf("Tracker membership = %d, want 1 after retransform", eng.Tracker().Len())
	}
	if got := h.Loaded(); len(got) != 1 || got[0] != "demo/early" {
		t.Errorf("Loaded = %v", got)
	}
}

func TestWASMHost_ClosedHostRejectsLoads(t *testing.T) {
	h := newTestHost(t)
	if err := h.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := h.LoadModule(context.Background(), "late", emptyModule, nil); err == nil {
		t.Fatal("Load on closed host must fail")
	}
	if err := h.Install(context.Background(), &engine.Subscription{Listener: noopListener{}}); err == nil {
		t.Fatal("Install on closed host must fail")
	}
}

func TestCustomSectionEncoding(t *testing.T) {
	sec := customSection("loom.tag", []byte{0x01})
	want := append([]byte{0x00, 0x0a, 0x08}, append([]byte("loom.tag"), 0x01)...)
	if !bytes.Equal(sec, want) {
		t.Errorf("customSection = %x, want %x", sec, want)
	}
}

type noopListener struct{}

func (noopListener) OnDiscovery(string, *engine.LoadingContext)                      {}
func (noopListener) OnTransformation(engine.TypeUnit, *engine.LoadingContext, []byte) {}
func (noopListener) OnIgnored(engine.TypeUnit, *engine.LoadingContext)               {}
func (noopListener) OnComplete(string, *engine.LoadingContext)                       {}
func (noopListener) OnError(string, *engine.LoadingContext, error)                   {}
