package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/loomengine/loom/pkg/engine"
)

type captureSink struct {
	mu     sync.Mutex
	events []engine.LoadEvent
}

func (s *captureSink) Record(_ context.Context, ev engine.LoadEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestBufferedSink_FlushesOnShutdown(t *testing.T) {
	downstream := &captureSink{}
	sink := NewBufferedSink(JournalConfig{
		Enabled:       true,
		BufferSize:    64,
		FlushInterval: time.Hour,
		MaxBatchSize:  16,
	}, downstream, testLogger())

	for i := 0; i < 10; i++ {
		if err := sink.Record(context.Background(), engine.LoadEvent{Type: engine.EventDiscovery}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sink.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if got := downstream.len(); got != 10 {
		t.Errorf("Downstream received %d events, want 10", got)
	}
}

func TestBufferedSink_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	// No downstream drain: Enabled but with a sink that is never read
	// fast enough. Use a tiny buffer and a long flush interval so the
	// processor is effectively idle between our writes.
	downstream := &captureSink{}
	sink := NewBufferedSink(JournalConfig{
		Enabled:       true,
		BufferSize:    1,
		FlushInterval: time.Hour,
		MaxBatchSize:  1000,
	}, downstream, testLogger())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = sink.Shutdown(ctx)
	}()

	var errs int
	for i := 0; i < 100; i++ {
		if err := sink.Record(context.Background(), engine.LoadEvent{Type: engine.EventDiscovery}); err != nil {
			errs++
		}
	}
	// Some records must have been rejected rather than blocking; the exact
	// count depends on processor scheduling.
	if errs == 0 && sink.Dropped() == 0 {
		t.Skip("processor drained every event; nothing to assert")
	}
	if sink.Dropped() != int64(errs) {
		t.Errorf("Dropped = %d, rejected records = %d", sink.Dropped(), errs)
	}
}

func TestBufferedSink_DisabledDiscards(t *testing.T) {
	sink := NewBufferedSink(JournalConfig{Enabled: false}, &captureSink{}, testLogger())
	if err := sink.Record(context.Background(), engine.LoadEvent{Type: engine.EventDiscovery}); err != nil {
		t.Errorf("Disabled sink must accept and discard, got %v", err)
	}
	if err := sink.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown of disabled sink = %v", err)
	}
}

func TestBufferedSink_BatchFlushOnSize(t *testing.T) {
	downstream := &captureSink{}
	sink := NewBufferedSink(JournalConfig{
		Enabled:       true,
		BufferSize:    64,
		FlushInterval: time.Hour,
		MaxBatchSize:  4,
	}, downstream, testLogger())

	for i := 0; i < 8; i++ {
		_ = sink.Record(context.Background(), engine.LoadEvent{Type: engine.EventTransformation})
	}

	deadline := time.Now().Add(5 * time.Second)
	for downstream.len() < 8 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := downstream.len(); got < 8 {
		t.Errorf("Downstream received %d events before shutdown, want 8 via size-triggered flushes", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = sink.Shutdown(ctx)
}
