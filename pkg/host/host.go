// Package host provides the runtimes the loom engine attaches to. The
// production host is a wazero-backed WebAssembly runtime that routes every
// module load through the installed subscription; the engine itself only
// depends on the narrow engine.Host contract.
package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/loomengine/loom/pkg/engine"
)

// WASMHostConfig configures the WebAssembly host.
type WASMHostConfig struct {
	// MemoryLimitPages is the per-module memory limit in 64KB pages.
	// Default is 256 pages (16MB).
	MemoryLimitPages uint32

	// EnableWASI instantiates wasi_snapshot_preview1 so that modules
	// built against WASI link.
	EnableWASI bool
}

// loadedModule is the host's record of one loaded module, kept so that a
// later subscription install can retransform already-loaded units.
type loadedModule struct {
	name     string
	original []byte
	lc       *engine.LoadingContext
	mod      api.Module
}

// WASMHost is a wazero runtime whose module loads are observable and
// rewritable through an engine subscription. It implements engine.Host.
type WASMHost struct {
	runtime wazero.Runtime
	logger  zerolog.Logger

	mu     sync.RWMutex
	sub    *engine.Subscription
	loaded []*loadedModule
	closed bool
}

var _ engine.Host = (*WASMHost)(nil)

// NewWASMHost creates the host runtime.
func NewWASMHost(ctx context.Context, cfg WASMHostConfig, logger zerolog.Logger) (*WASMHost, error) {
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = 256
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if cfg.EnableWASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
			_ = runtime.Close(ctx)
			return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
		}
	}

	return &WASMHost{
		runtime: runtime,
		logger:  logger.With().Str("component", "wasm-host").Logger(),
	}, nil
}

// NewContext mints a loading context owned by this host. The engine only
// ever references it weakly.
func (h *WASMHost) NewContext(name string, kind engine.ContextKind) *engine.LoadingContext {
	return engine.NewLoadingContext(name, kind)
}

// Install wires the subscription into the load path. Installing a second
// subscription is an explicit error. When the subscription asks for
// retransformation, every already-loaded module is replayed through it.
func (h *WASMHost) Install(ctx context.Context, sub *engine.Subscription) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return fmt.Errorf("host is closed")
	}
	if h.sub != nil {
		h.mu.Unlock()
		return fmt.Errorf("subscription already installed")
	}
	h.sub = sub
	replay := make([]*loadedModule, len(h.loaded))
	copy(replay, h.loaded)
	h.mu.Unlock()

	if sub.Retransform {
		for _, rec := range replay {
			h.retransform(ctx, sub, rec)
		}
	}
	h.logger.Info().Bool("retransform", sub.Retransform).Int("replayed", len(replay)).Msg("Subscription installed")
	return nil
}

// Uninstall removes the subscription. Best-effort: loads already dispatched
// complete against the subscription they started with.
func (h *WASMHost) Uninstall(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sub = nil
	return nil
}

// LoadModule loads one WebAssembly module into the runtime, routing it
// through the installed subscription: exclusion pre-filter, pipeline
// rewrite, listener events. A transformation failure never aborts the
// load; the original binary is instantiated instead.
func (h *WASMHost) LoadModule(ctx context.Context, name string, binary []byte, lc *engine.LoadingContext) (api.Module, error) {
	h.mu.RLock()
	sub := h.sub
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("host is closed")
	}

	final, transformed := h.processLoad(sub, engine.TypeUnit{Name: name, Bytecode: binary}, lc)

	mod, err := h.instantiate(ctx, name, final)
	if err != nil && transformed {
		// The rewritten binary is broken; fall back to the original so
		// that instrumentation never changes program correctness.
		h.logger.Error().Err(err).Str("module", name).Msg("Rewritten module failed to instantiate; loading original")
		if sub != nil {
			sub.Listener.OnError(name, lc, err)
		}
		mod, err = h.instantiate(ctx, name, binary)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate module %s: %w", name, err)
	}

	h.mu.Lock()
	h.loaded = append(h.loaded, &loadedModule{name: name, original: binary, lc: lc, mod: mod})
	h.mu.Unlock()
	return mod, nil
}

// processLoad runs the subscription's event sequence for one unit and
// returns the bytes to load plus whether a rewrite applied.
func (h *WASMHost) processLoad(sub *engine.Subscription, unit engine.TypeUnit, lc *engine.LoadingContext) ([]byte, bool) {
	if sub == nil {
		return unit.Bytecode, false
	}
	if sub.Filter != nil && sub.Filter(unit.Name, lc) {
		sub.Listener.OnIgnored(unit, lc)
		sub.Listener.OnComplete(unit.Name, lc)
		return unit.Bytecode, false
	}

	sub.Listener.OnDiscovery(unit.Name, lc)
	out := sub.Transform(unit, lc)
	final := unit.Bytecode
	transformed := false
	switch out.Status {
	case engine.StatusTransformed:
		final = out.Output
		transformed = true
		sub.Listener.OnTransformation(unit, lc, out.Output)
	case engine.StatusUnmatched:
		sub.Listener.OnIgnored(unit, lc)
	case engine.StatusFailed:
		sub.Listener.OnError(unit.Name, lc, out.Err)
	}
	sub.Listener.OnComplete(unit.Name, lc)
	return final, transformed
}

// retransform replays one already-loaded module through a freshly installed
// subscription, replacing the live instance when a rewrite applies.
func (h *WASMHost) retransform(ctx context.Context, sub *engine.Subscription, rec *loadedModule) {
	final, transformed := h.processLoad(sub, engine.TypeUnit{Name: rec.name, Bytecode: rec.original}, rec.lc)
	if !transformed {
		return
	}

	if err := rec.mod.Close(ctx); err != nil {
		h.logger.Warn().Err(err).Str("module", rec.name).Msg("Failed to close module for retransformation")
		return
	}
	mod, err := h.instantiate(ctx, rec.name, final)
	if err != nil {
		h.logger.Error().Err(err).Str("module", rec.name).Msg("Retransformed module failed to instantiate; restoring original")
		sub.Listener.OnError(rec.name, rec.lc, err)
		mod, err = h.instantiate(ctx, rec.name, rec.original)
		if err != nil {
			h.logger.Error().Err(err).Str("module", rec.name).Msg("Failed to restore original module")
			return
		}
	}

	h.mu.Lock()
	rec.mod = mod
	h.mu.Unlock()
}

// instantiate compiles and instantiates a binary without invoking its start
// functions; the host loads code, it does not run it.
func (h *WASMHost) instantiate(ctx context.Context, name string, binary []byte) (api.Module, error) {
	cfg := wazero.NewModuleConfig().WithName(name).WithStartFunctions()
	return h.runtime.InstantiateWithConfig(ctx, binary, cfg)
}

// Loaded returns the names of the currently loaded modules.
func (h *WASMHost) Loaded() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, len(h.loaded))
	for i, rec := range h.loaded {
		names[i] = rec.name
	}
	return names
}

// Close shuts the runtime down and releases every loaded module.
func (h *WASMHost) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.sub = nil
	h.loaded = nil
	return h.runtime.Close(ctx)
}
