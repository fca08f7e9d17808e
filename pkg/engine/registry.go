package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// PluginRegistry discovers the available plugins and composes their rule
// contributions into one transformation pipeline. Discovery iterates an
// explicit registration list assembled at startup, so the discovered set
// and its order are deterministic and reproducible across runs.
type PluginRegistry struct {
	plugins   []Plugin
	admission AdmissionPolicy
	logger    zerolog.Logger

	mu       sync.Mutex
	composed bool
}

// RegistryOption configures a PluginRegistry.
type RegistryOption func(*PluginRegistry)

// WithAdmissionPolicy gates discovered plugins through an admission policy.
// A denied plugin is dropped exactly like a plugin whose rule construction
// fails.
func WithAdmissionPolicy(p AdmissionPolicy) RegistryOption {
	return func(r *PluginRegistry) { r.admission = p }
}

// NewPluginRegistry creates a registry over the given registration list.
// The slice order is the discovery order and therefore the pipeline order.
func NewPluginRegistry(plugins []Plugin, logger zerolog.Logger, opts ...RegistryOption) *PluginRegistry {
	r := &PluginRegistry{
		plugins: plugins,
		logger:  logger.With().Str("component", "plugin-registry").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DiscoverAndCompose folds every admitted plugin's rules, in discovery
// order, into a single pipeline. Invoked exactly once per attach; a second
// call is an error so that accidental re-composition is visible rather
// than silently divergent.
//
// One broken plugin never prevents composition: a plugin whose
// ContributeRules errors or panics, or that the admission policy denies, is
// logged and dropped while the remaining plugins compose normally.
func (r *PluginRegistry) DiscoverAndCompose(ctx context.Context) (*Pipeline, []DroppedPlugin, error) {
	r.mu.Lock()
	if r.composed {
		r.mu.Unlock()
		return nil, nil, fmt.Errorf("plugin discovery already performed")
	}
	r.composed = true
	r.mu.Unlock()

	var rules []Rule
	var dropped []DroppedPlugin
	composedPlugins := 0

	for _, p := range r.plugins {
		contributed, err := contributeRules(p)
		if err != nil {
			derr := NewDiscoveryError(p.Name(), err)
			r.logger.Error().Err(derr).Str("plugin", p.Name()).Msg("Dropping plugin: rule construction failed")
			dropped = append(dropped, DroppedPlugin{Name: p.Name(), Reason: err.Error()})
			continue
		}

		if r.admission != nil {
			info := PluginInfo{Name: p.Name(), Version: p.Version(), Rules: len(contributed)}
			if cd, ok := p.(CapabilityDeclarer); ok {
				info.Capabilities = cd.Capabilities()
			}
			if err := r.admission.Admit(ctx, info); err != nil {
				r.logger.Error().Err(err).Str("plugin", p.Name()).Msg("Dropping plugin: denied by admission policy")
				dropped = append(dropped, DroppedPlugin{Name: p.Name(), Reason: err.Error()})
				continue
			}
		}

		r.logger.Info().
			Str("plugin", p.Name()).
			Str("version", p.Version()).
			Int("rules", len(contributed)).
			Msg("Composed plugin rules")
		rules = append(rules, contributed...)
		composedPlugins++
	}

	return &Pipeline{rules: rules, plugins: composedPlugins}, dropped, nil
}

// contributeRules calls ContributeRules with panic containment, so a plugin
// that throws during its own rule construction degrades to an error.
func contributeRules(p Plugin) (rules []Rule, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			rules = nil
			err = fmt.Errorf("panic in ContributeRules: %v", rec)
		}
	}()
	return p.ContributeRules()
}

// Pipeline is the ordered composition of all discovered plugins' rules.
// It is immutable after composition and safe for unsynchronized concurrent
// application; rule order is deterministic per unit but independent across
// concurrently loaded units.
type Pipeline struct {
	rules   []Rule
	plugins int
}

// Len returns the number of rules in the pipeline.
func (p *Pipeline) Len() int { return len(p.rules) }

// Plugins returns the number of plugins that contributed rules.
func (p *Pipeline) Plugins() int { return p.plugins }

// RuleNames returns the rule names in application order.
func (p *Pipeline) RuleNames() []string {
	names := make([]string, len(p.rules))
	for i, r := range p.rules {
		names[i] = r.Name
	}
	return names
}

// Apply runs the unit through every matching rule in order. Later rules see
// the output of earlier rewrites, so when two rules touch the same unit the
// last applied wins and all are applied. A rule whose transform fails is
// skipped and the remaining rules run against the last good bytes,
// maximizing instrumentation coverage.
func (p *Pipeline) Apply(unit TypeUnit) TransformOutcome {
	current := unit.Bytecode
	var applied []string
	var errs error

	for _, r := range p.rules {
		staged := TypeUnit{Name: unit.Name, Bytecode: current}
		if r.Matches != nil && !r.Matches(staged) {
			continue
		}
		rewritten, err := applyTransform(r, staged)
		if err != nil {
			errs = joinErr(errs, fmt.Errorf("rule %s: %w", r.Name, err))
			continue
		}
		current = rewritten
		applied = append(applied, r.Name)
	}

	switch {
	case len(applied) > 0:
		return TransformOutcome{Status: StatusTransformed, Output: current, AppliedRules: applied, Err: errs}
	case errs != nil:
		return TransformOutcome{Status: StatusFailed, Err: errs}
	default:
		return TransformOutcome{Status: StatusUnmatched}
	}
}

// applyTransform runs one rule transform with panic containment.
func applyTransform(r Rule, unit TypeUnit) (out []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = fmt.Errorf("panic in transform: %v", rec)
		}
	}()
	if r.Transform == nil {
		return unit.Bytecode, nil
	}
	return r.Transform(unit)
}

// joinErr folds per-rule failures without losing either side.
func joinErr(a, b error) error {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return fmt.Errorf("%w; %w", a, b)
}
