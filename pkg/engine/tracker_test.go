package engine

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegisterOnce_ConcurrentSingleRegistration(t *testing.T) {
	var calls atomic.Int64
	tracker := NewContextTracker(func(lc *LoadingContext) error {
		calls.Add(1)
		return nil
	}, testLogger())

	lc := NewLoadingContext("app", ContextKindApplication)

	const n = 64
	var firsts atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if tracker.RegisterOnce(lc) {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("Collaborator called %d times, want exactly 1", got)
	}
	if got := firsts.Load(); got != 1 {
		t.Errorf("%d callers observed first-time registration, want 1", got)
	}
	if !tracker.Registered(lc) {
		t.Error("Context not marked registered")
	}
}

func TestRegisterOnce_IndependentContexts(t *testing.T) {
	var calls atomic.Int64
	tracker := NewContextTracker(func(lc *LoadingContext) error {
		calls.Add(1)
		return nil
	}, testLogger())

	contexts := make([]*LoadingContext, 16)
	for i := range contexts {
		contexts[i] = NewLoadingContext("ctx", ContextKindApplication)
	}

	var wg sync.WaitGroup
	for _, lc := range contexts {
		wg.Add(1)
		go func(lc *LoadingContext) {
			defer wg.Done()
			tracker.RegisterOnce(lc)
			tracker.RegisterOnce(lc)
		}(lc)
	}
	wg.Wait()

	if got := calls.Load(); got != int64(len(contexts)) {
		t.Errorf("Collaborator called %d times, want %d (identity, not name, keys the set)", got, len(contexts))
	}
}

func TestRegisterOnce_NilContextSkipped(t *testing.T) {
	var calls atomic.Int64
	tracker := NewContextTracker(func(lc *LoadingContext) error {
		calls.Add(1)
		return nil
	}, testLogger())

	if tracker.RegisterOnce(nil) {
		t.Error("Nil context must not register")
	}
	if calls.Load() != 0 {
		t.Error("Collaborator invoked for nil context")
	}
}

func TestRegisterOnce_FailureStaysMarked(t *testing.T) {
	var calls atomic.Int64
	tracker := NewContextTracker(func(lc *LoadingContext) error {
		calls.Add(1)
		return errors.New("downstream unavailable")
	}, testLogger())

	lc := NewLoadingContext("app", ContextKindApplication)

	if !tracker.RegisterOnce(lc) {
		t.Fatal("First registration must report true even when the collaborator fails")
	}
	// At-most-once: no retry on subsequent events in the same context.
	if tracker.RegisterOnce(lc) {
		t.Error("Failed registration must not be retried")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("Collaborator called %d times, want 1", got)
	}
}

func TestTracker_ReleasesCollectedContexts(t *testing.T) {
	tracker := NewContextTracker(nil, testLogger())

	const n = 128
	keep := NewLoadingContext("keeper", ContextKindApplication)
	tracker.RegisterOnce(keep)

	registerTransient := func() {
		for i := 0; i < n; i++ {
			tracker.RegisterOnce(NewLoadingContext("transient", ContextKindApplication))
		}
	}
	registerTransient()

	if tracker.Len() != n+1 {
		t.Fatalf("Membership = %d, want %d", tracker.Len(), n+1)
	}

	// Drop the transient contexts and let cleanups run. Reclamation is
	// asynchronous, so poll rather than assert after a single GC.
	deadline := time.Now().Add(5 * time.Second)
	for tracker.Len() > n/2 && time.Now().Before(deadline) {
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}

	if got := tracker.Len(); got > n/2 {
		t.Errorf("Membership = %d after collection, want it to shrink toward 1", got)
	}
	if !tracker.Registered(keep) {
		t.Error("Strongly referenced context was evicted")
	}
	runtime.KeepAlive(keep)
}
