package engine

import (
	"context"
	"time"
)

// ContextKind classifies a loading context. Bootstrap, reflection and
// call-site contexts host synthetic code that must never be rewritten;
// rewriting them could corrupt runtime bootstrapping.
type ContextKind string

const (
	// ContextKindBootstrap is the platform's root context.
	ContextKindBootstrap ContextKind = "bootstrap"

	// ContextKindReflection is a reflection-helper context.
	ContextKindReflection ContextKind = "reflection"

	// ContextKindCallSite is a dynamically generated call-site context.
	ContextKindCallSite ContextKind = "call-site"

	// ContextKindApplication is an ordinary application context.
	ContextKindApplication ContextKind = "application"
)

// LoadingContext is an opaque isolation boundary for a group of loaded
// units. Contexts are created and owned by the host runtime, never by the
// engine; the engine holds them only through non-owning references so that
// a context with no surviving external references stays collectible.
// Identity is pointer identity.
type LoadingContext struct {
	name string
	kind ContextKind
}

// NewLoadingContext creates a loading context. Intended for hosts; the
// engine itself never mints contexts.
func NewLoadingContext(name string, kind ContextKind) *LoadingContext {
	if kind == "" {
		kind = ContextKindApplication
	}
	return &LoadingContext{name: name, kind: kind}
}

// Name returns the host-assigned context name.
func (lc *LoadingContext) Name() string { return lc.name }

// Kind returns the context classification.
func (lc *LoadingContext) Kind() ContextKind { return lc.kind }

// TypeUnit is one named unit of executable code observed at load time.
// It is transient: it exists for the duration of a single load event.
type TypeUnit struct {
	// Name is the fully qualified unit name.
	Name string

	// Bytecode is the raw code of the unit as delivered by the host.
	Bytecode []byte
}

// TransformStatus is the explicit outcome of running a unit through the
// pipeline. Status values replace exception-based control flow: the caller
// branches on the status instead of recovering from a panic.
type TransformStatus string

const (
	// StatusTransformed means at least one rule rewrote the unit.
	StatusTransformed TransformStatus = "transformed"

	// StatusUnmatched means no rule applied; the unit passes through
	// unchanged. This is the common case and is cheap.
	StatusUnmatched TransformStatus = "unmatched"

	// StatusFailed means every matching rule failed; the original unit
	// must be loaded unmodified.
	StatusFailed TransformStatus = "failed"
)

// TransformOutcome carries the result of a pipeline application.
type TransformOutcome struct {
	// Status is the explicit outcome.
	Status TransformStatus

	// Output is the rewritten bytecode when Status is StatusTransformed.
	Output []byte

	// AppliedRules lists the names of the rules that rewrote the unit,
	// in application order.
	AppliedRules []string

	// Err aggregates per-rule failures. It may be non-nil even when
	// Status is StatusTransformed (some rules applied, others failed).
	Err error
}

// TransformFunc rewrites a unit's bytecode. The rewrite primitive itself is
// an opaque capability supplied by the plugin; the engine only sequences
// and contains it.
type TransformFunc func(unit TypeUnit) ([]byte, error)

// Rule is one instrumentation rule contributed by a plugin.
type Rule struct {
	// Name identifies the rule in logs, metrics and journal entries.
	Name string

	// Matches reports whether the rule applies to the unit. A nil
	// Matches applies to every unit.
	Matches func(unit TypeUnit) bool

	// Transform rewrites the unit. Must be safe to call concurrently
	// for different units.
	Transform TransformFunc
}

// Plugin contributes zero or more instrumentation rules to the pipeline.
// Plugins are discovered once at attach time from an explicit registration
// list and are stateless with respect to the engine.
type Plugin interface {
	// Name is the unique plugin name.
	Name() string

	// Version is the plugin version.
	Version() string

	// ContributeRules builds the plugin's rules. An error (or panic)
	// drops only this plugin's contribution.
	ContributeRules() ([]Rule, error)
}

// CapabilityDeclarer is optionally implemented by plugins that require
// host capabilities. Declared capabilities are visible to the admission
// policy at discovery time.
type CapabilityDeclarer interface {
	Capabilities() []string
}

// PluginInfo is the admission-policy view of a discovered plugin.
type PluginInfo struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Rules        int      `json:"rules"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// AdmissionPolicy decides at discovery time whether a plugin may contribute
// rules. A non-nil error drops the plugin exactly like a failed rule
// construction: logged, excluded, attach proceeds.
type AdmissionPolicy interface {
	Admit(ctx context.Context, info PluginInfo) error
}

// DroppedPlugin records a plugin excluded during discovery and why.
type DroppedPlugin struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// AttachResult reports a successful attach.
type AttachResult struct {
	// ID uniquely identifies this attach.
	ID string `json:"id"`

	// Plugins is the number of plugins whose rules were composed.
	Plugins int `json:"plugins"`

	// Rules is the total number of rules in the pipeline.
	Rules int `json:"rules"`

	// Dropped lists plugins excluded during discovery.
	Dropped []DroppedPlugin `json:"dropped,omitempty"`

	// AttachedAt is when the subscription was installed.
	AttachedAt time.Time `json:"attached_at"`
}

// LoadEventListener observes every stage of a unit's processing. Callbacks
// are invoked by the host from whichever goroutine triggered the load, so
// implementations must be safe for concurrent use.
type LoadEventListener interface {
	// OnDiscovery fires when a unit is identified as a transformation
	// candidate.
	OnDiscovery(unitName string, lc *LoadingContext)

	// OnTransformation fires when a rewrite was actually applied. This
	// is the only event that triggers context registration.
	OnTransformation(unit TypeUnit, lc *LoadingContext, rewritten []byte)

	// OnIgnored fires when the unit matched exclusion or no rule
	// applied.
	OnIgnored(unit TypeUnit, lc *LoadingContext)

	// OnComplete fires when processing finished, success or no-op.
	OnComplete(unitName string, lc *LoadingContext)

	// OnError fires when processing failed. The load proceeds with the
	// original, unmodified unit.
	OnError(unitName string, lc *LoadingContext, cause error)
}

// LoadEventType tags a journal entry.
type LoadEventType string

const (
	EventDiscovery      LoadEventType = "discovery"
	EventTransformation LoadEventType = "transformation"
	EventIgnored        LoadEventType = "ignored"
	EventComplete       LoadEventType = "complete"
	EventError          LoadEventType = "error"
	EventRegistration   LoadEventType = "registration"
)

// LoadEvent is the journalled form of a listener callback.
type LoadEvent struct {
	Type        LoadEventType `json:"type"`
	UnitName    string        `json:"unit_name,omitempty"`
	ContextName string        `json:"context_name,omitempty"`
	Rules       []string      `json:"rules,omitempty"`
	Error       string        `json:"error,omitempty"`
	OccurredAt  time.Time     `json:"occurred_at"`
}

// EventSink receives load events for persistence. Sink failures are logged
// and never affect load processing.
type EventSink interface {
	Record(ctx context.Context, ev LoadEvent) error
}

// StatsRecorder receives engine counters. Implemented by pkg/telemetry;
// a nil recorder disables metrics.
type StatsRecorder interface {
	UnitDiscovered()
	UnitTransformed(rules int)
	UnitIgnored(reason string)
	UnitErrored()
	ContextRegistered()
	ObserveTransform(d time.Duration)
}

// RegistrationFunc is the downstream registration collaborator, invoked at
// most once per loading context. It may fail; failure is logged and the
// context stays marked as registered.
type RegistrationFunc func(lc *LoadingContext) error
