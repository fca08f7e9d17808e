package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Host is the runtime the engine attaches to. Install wires a subscription
// into the host's load path; installing twice must fail with an explicit
// error. Uninstall is best-effort: load events already dispatched complete
// normally.
type Host interface {
	Install(ctx context.Context, sub *Subscription) error
	Uninstall(ctx context.Context) error
}

// Subscription is the load-event wiring the engine installs on a host.
type Subscription struct {
	// Filter is the exclusion pre-filter. A true result means the unit
	// never reaches the pipeline.
	Filter func(unitName string, lc *LoadingContext) bool

	// Transform applies the composed pipeline to one unit.
	Transform func(unit TypeUnit, lc *LoadingContext) TransformOutcome

	// Listener observes every stage of processing.
	Listener LoadEventListener

	// AllowShapeChange tells the host transformed units may change
	// shape; format preservation is disabled.
	AllowShapeChange bool

	// Retransform asks the host to replay already-loaded units through
	// the subscription at install time.
	Retransform bool
}

// Engine is the transformation engine. It is constructed unattached; Attach
// composes the pipeline and installs the subscription, after which the
// matcher and pipeline are immutable, concurrently shared data.
type Engine struct {
	matcher  *ExclusionMatcher
	registry *PluginRegistry
	tracker  *ContextTracker
	listener *LoadEventListenerRef
	stats    StatsRecorder
	sink     EventSink
	logger   zerolog.Logger
	tracer   trace.Tracer

	attached atomic.Bool
	pipeline atomic.Pointer[Pipeline]
	host     atomic.Pointer[hostRef]
}

// hostRef wraps the host for atomic storage.
type hostRef struct{ h Host }

// LoadEventListenerRef holds the single shared listener instance.
type LoadEventListenerRef struct{ LoadEventListener }

// Option configures an Engine.
type Option func(*Engine)

// WithEventSink journals every load event to the sink.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithStats records engine counters to the recorder.
func WithStats(stats StatsRecorder) Option {
	return func(e *Engine) { e.stats = stats }
}

// WithTracer emits attach and transform spans through the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithRegistration sets the downstream registration collaborator invoked at
// most once per loading context.
func WithRegistration(register RegistrationFunc) Option {
	return func(e *Engine) { e.tracker = NewContextTracker(register, e.logger) }
}

// New creates an unattached engine. exclusions is the ordered rule
// descriptor list, fixed for the engine's lifetime; plugins is the explicit
// registration list discovered at attach.
func New(exclusions []RuleDescriptor, plugins []Plugin, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	matcher, err := NewExclusionMatcher(exclusions)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		matcher: matcher,
		logger:  logger.With().Str("component", "engine").Logger(),
		tracer:  noop.NewTracerProvider().Tracer("loom"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracker == nil {
		e.tracker = NewContextTracker(nil, e.logger)
	}

	e.registry = NewPluginRegistry(plugins, e.logger)
	e.listener = &LoadEventListenerRef{NewLoadListener(e.tracker, e.sink, e.stats, e.logger)}
	return e, nil
}

// SetAdmissionPolicy gates plugin discovery through the policy. Must be
// called before Attach; changes after attach have no effect since
// discovery runs exactly once.
func (e *Engine) SetAdmissionPolicy(p AdmissionPolicy) {
	e.registry.admission = p
}

// Tracker exposes the context tracker, primarily for inspection.
func (e *Engine) Tracker() *ContextTracker { return e.tracker }

// Listener exposes the shared load-event listener instance.
func (e *Engine) Listener() LoadEventListener { return e.listener }

// Attach composes the pipeline and installs the load-event subscription on
// the host: shape changes allowed, retransformation of already-loaded units
// enabled, the exclusion matcher wired as pre-filter, and the listener
// observing every event. A second Attach returns ErrAlreadyAttached. A
// host-level installation failure is fatal and leaves no partial-attach
// state.
func (e *Engine) Attach(ctx context.Context, host Host) (*AttachResult, error) {
	if !e.attached.CompareAndSwap(false, true) {
		return nil, ErrAlreadyAttached
	}

	ctx, span := e.tracer.Start(ctx, "engine.attach")
	defer span.End()

	pipeline, dropped, err := e.registry.DiscoverAndCompose(ctx)
	if err != nil {
		e.attached.Store(false)
		return nil, NewAttachError(err)
	}
	e.pipeline.Store(pipeline)

	sub := &Subscription{
		Filter:           e.matcher.Excluded,
		Transform:        e.transform,
		Listener:         e.listener,
		AllowShapeChange: true,
		Retransform:      true,
	}
	if err := host.Install(ctx, sub); err != nil {
		e.attached.Store(false)
		e.pipeline.Store(nil)
		return nil, NewAttachError(err)
	}
	e.host.Store(&hostRef{h: host})

	result := &AttachResult{
		ID:         uuid.NewString(),
		Plugins:    pipeline.Plugins(),
		Rules:      pipeline.Len(),
		Dropped:    dropped,
		AttachedAt: time.Now().UTC(),
	}
	span.SetAttributes(
		attribute.String("attach.id", result.ID),
		attribute.Int("attach.plugins", result.Plugins),
		attribute.Int("attach.rules", result.Rules),
	)
	e.logger.Info().
		Str("attach_id", result.ID).
		Int("plugins", result.Plugins).
		Int("rules", result.Rules).
		Int("dropped", len(dropped)).
		Msg("Engine attached")
	return result, nil
}

// Detach uninstalls the subscription. Best-effort: in-flight load events
// complete normally, and a detach on an unattached engine is a no-op.
func (e *Engine) Detach(ctx context.Context) error {
	if !e.attached.CompareAndSwap(true, false) {
		return nil
	}
	ref := e.host.Swap(nil)
	if ref == nil {
		return nil
	}
	if err := ref.h.Uninstall(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Host uninstall failed")
		return err
	}
	e.logger.Info().Msg("Engine detached")
	return nil
}

// Attached reports whether the engine currently holds an installed
// subscription.
func (e *Engine) Attached() bool { return e.attached.Load() }

// transform applies the composed pipeline to one unit. The pipeline is
// evaluated against its precomputed rule set; an unmatched unit passes
// through with no allocation beyond the outcome itself.
func (e *Engine) transform(unit TypeUnit, lc *LoadingContext) TransformOutcome {
	pipeline := e.pipeline.Load()
	if pipeline == nil {
		return TransformOutcome{Status: StatusUnmatched}
	}

	start := time.Now()
	_, span := e.tracer.Start(context.Background(), "engine.transform",
		trace.WithAttributes(attribute.String("unit", unit.Name)))
	out := pipeline.Apply(unit)
	span.SetAttributes(attribute.String("status", string(out.Status)))
	span.End()

	if e.stats != nil {
		e.stats.ObserveTransform(time.Since(start))
	}
	if out.Status == StatusTransformed && out.Err != nil {
		// Partial failure: some rules applied, others were skipped.
		e.logger.Warn().Err(out.Err).Str("unit", unit.Name).Msg("Some pipeline rules failed; unit transformed by the rest")
	}
	return out
}
