package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LoadListener is the engine's passive observer of load events. It is
// stateless except for its collaborator references: the context tracker
// (the single injected, lifetime-scoped mutable collaborator), an optional
// event sink for the journal, and an optional stats recorder. A single
// instance is shared across all load events.
type LoadListener struct {
	tracker *ContextTracker
	sink    EventSink
	stats   StatsRecorder
	logger  zerolog.Logger
}

var _ LoadEventListener = (*LoadListener)(nil)

// NewLoadListener creates the listener. sink and stats may be nil.
func NewLoadListener(tracker *ContextTracker, sink EventSink, stats StatsRecorder, logger zerolog.Logger) *LoadListener {
	return &LoadListener{
		tracker: tracker,
		sink:    sink,
		stats:   stats,
		logger:  logger.With().Str("component", "load-listener").Logger(),
	}
}

// OnDiscovery records that a unit was identified as a transformation
// candidate. No side effects beyond observation.
func (l *LoadListener) OnDiscovery(unitName string, lc *LoadingContext) {
	l.logger.Trace().Str("unit", unitName).Str("context", contextName(lc)).Msg("Discovered unit")
	if l.stats != nil {
		l.stats.UnitDiscovered()
	}
	l.record(LoadEvent{Type: EventDiscovery, UnitName: unitName, ContextName: contextName(lc)})
}

// OnTransformation records an applied rewrite. This is the only event that
// triggers context registration; a nil context is intentionally skipped.
func (l *LoadListener) OnTransformation(unit TypeUnit, lc *LoadingContext, rewritten []byte) {
	l.logger.Debug().
		Str("unit", unit.Name).
		Str("context", contextName(lc)).
		Int("size", len(rewritten)).
		Msg("Transformed unit")
	if l.stats != nil {
		l.stats.UnitTransformed(1)
	}
	l.record(LoadEvent{Type: EventTransformation, UnitName: unit.Name, ContextName: contextName(lc)})

	if lc == nil {
		return
	}
	if l.tracker.RegisterOnce(lc) {
		if l.stats != nil {
			l.stats.ContextRegistered()
		}
		l.record(LoadEvent{Type: EventRegistration, ContextName: lc.Name()})
	}
}

// OnIgnored records a unit that matched exclusion or that no rule applied
// to. No registration side effect.
func (l *LoadListener) OnIgnored(unit TypeUnit, lc *LoadingContext) {
	l.logger.Trace().Str("unit", unit.Name).Str("context", contextName(lc)).Msg("Ignored unit")
	if l.stats != nil {
		l.stats.UnitIgnored("unmatched")
	}
	l.record(LoadEvent{Type: EventIgnored, UnitName: unit.Name, ContextName: contextName(lc)})
}

// OnComplete records the end of processing for a unit, success or no-op.
func (l *LoadListener) OnComplete(unitName string, lc *LoadingContext) {
	l.record(LoadEvent{Type: EventComplete, UnitName: unitName, ContextName: contextName(lc)})
}

// OnError records a processing failure. The failure is contained here: the
// host proceeds with the original, unmodified unit and class loading is
// never aborted.
func (l *LoadListener) OnError(unitName string, lc *LoadingContext, cause error) {
	terr := NewTransformationError(unitName, cause)
	l.logger.Error().Err(terr).Str("unit", unitName).Str("context", contextName(lc)).Msg("Failed to handle unit for transformation")
	if l.stats != nil {
		l.stats.UnitErrored()
	}
	ev := LoadEvent{Type: EventError, UnitName: unitName, ContextName: contextName(lc)}
	if cause != nil {
		ev.Error = cause.Error()
	}
	l.record(ev)
}

// record forwards the event to the sink, if any. Sink failures are logged
// and never affect load processing.
func (l *LoadListener) record(ev LoadEvent) {
	if l.sink == nil {
		return
	}
	ev.OccurredAt = time.Now().UTC()
	if err := l.sink.Record(context.Background(), ev); err != nil {
		l.logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("Event sink rejected load event")
	}
}

func contextName(lc *LoadingContext) string {
	if lc == nil {
		return ""
	}
	return lc.Name()
}
