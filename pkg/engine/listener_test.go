package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

// memorySink collects journalled events in memory.
type memorySink struct {
	mu     sync.Mutex
	events []LoadEvent
	err    error
}

func (s *memorySink) Record(_ context.Context, ev LoadEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *memorySink) byType(t LoadEventType) []LoadEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []LoadEvent
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func TestListener_TransformationRegistersOnce(t *testing.T) {
	var registrations atomic.Int64
	tracker := NewContextTracker(func(lc *LoadingContext) error {
		registrations.Add(1)
		return nil
	}, testLogger())
	sink := &memorySink{}
	listener := NewLoadListener(tracker, sink, nil, testLogger())

	lc := NewLoadingContext("app", ContextKindApplication)
	unit := TypeUnit{Name: "demo.HelloService", Bytecode: []byte("x")}

	listener.OnTransformation(unit, lc, []byte("x'"))
	listener.OnTransformation(TypeUnit{Name: "demo.HelloServiceImpl"}, lc, []byte("y'"))

	if got := registrations.Load(); got != 1 {
		t.Errorf("Registrations = %d, want 1 (second unit in same context skips)", got)
	}
	if got := len(sink.byType(EventTransformation)); got != 2 {
		t.Errorf("Journalled transformations = %d, want 2", got)
	}
	if got := len(sink.byType(EventRegistration)); got != 1 {
		t.Errorf("Journalled registrations = %d, want 1", got)
	}
}

func TestListener_NilContextSkipsRegistration(t *testing.T) {
	var registrations atomic.Int64
	tracker := NewContextTracker(func(lc *LoadingContext) error {
		registrations.Add(1)
		return nil
	}, testLogger())
	listener := NewLoadListener(tracker, nil, nil, testLogger())

	listener.OnTransformation(TypeUnit{Name: "boot.Unit"}, nil, []byte("x"))

	if registrations.Load() != 0 {
		t.Error("Nil context must skip registration")
	}
}

func TestListener_IgnoredAndErrorHaveNoRegistrationSideEffect(t *testing.T) {
	var registrations atomic.Int64
	tracker := NewContextTracker(func(lc *LoadingContext) error {
		registrations.Add(1)
		return nil
	}, testLogger())
	sink := &memorySink{}
	listener := NewLoadListener(tracker, sink, nil, testLogger())

	lc := NewLoadingContext("app", ContextKindApplication)
	listener.OnIgnored(TypeUnit{Name: "java.lang.String"}, lc)
	listener.OnError("demo.Broken", lc, errors.New("boom"))
	listener.OnComplete("demo.Broken", lc)

	if registrations.Load() != 0 {
		t.Error("Ignored/error/complete must not register")
	}
	errs := sink.byType(EventError)
	if len(errs) != 1 || errs[0].Error != "boom" {
		t.Errorf("Error event = %+v, want cause %q", errs, "boom")
	}
}

func TestListener_SinkFailureIsContained(t *testing.T) {
	tracker := NewContextTracker(nil, testLogger())
	sink := &memorySink{err: errors.New("journal closed")}
	listener := NewLoadListener(tracker, sink, nil, testLogger())

	lc := NewLoadingContext("app", ContextKindApplication)
	// Must not panic or propagate.
	listener.OnDiscovery("demo.HelloService", lc)
	listener.OnTransformation(TypeUnit{Name: "demo.HelloService"}, lc, []byte("x"))

	if !tracker.Registered(lc) {
		t.Error("Registration must proceed despite sink failure")
	}
}
