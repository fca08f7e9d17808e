package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/loomengine/loom/pkg/engine"
)

// BufferedSink decouples the load path from the event journal. Record never
// blocks: events land in an in-memory buffer and a background goroutine
// writes them downstream in batches. When the buffer is full the event is
// dropped and counted rather than stalling a module load.
type BufferedSink struct {
	config     JournalConfig
	downstream engine.EventSink
	logger     zerolog.Logger

	buffer chan engine.LoadEvent
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	dropped int64
}

var _ engine.EventSink = (*BufferedSink)(nil)

// NewBufferedSink creates the buffer in front of downstream. A disabled
// configuration yields a sink that discards everything.
func NewBufferedSink(cfg JournalConfig, downstream engine.EventSink, logger zerolog.Logger) *BufferedSink {
	s := &BufferedSink{
		config:     cfg,
		downstream: downstream,
		logger:     logger.With().Str("component", "event-buffer").Logger(),
	}
	if !cfg.Enabled || downstream == nil {
		return s
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	s.config = cfg

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.buffer = make(chan engine.LoadEvent, cfg.BufferSize)
	s.wg.Add(1)
	go s.processEvents()
	return s
}

// Record queues one event for journalling. It never blocks.
func (s *BufferedSink) Record(_ context.Context, ev engine.LoadEvent) error {
	if s.buffer == nil {
		return nil
	}
	select {
	case s.buffer <- ev:
		return nil
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		return fmt.Errorf("event buffer full, event dropped")
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (s *BufferedSink) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// processEvents drains the buffer into downstream batches.
func (s *BufferedSink) processEvents() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]engine.LoadEvent, 0, s.config.MaxBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.flushBatch(batch)
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-s.buffer:
			batch = append(batch, ev)
			if len(batch) >= s.config.MaxBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.ctx.Done():
			// Drain whatever is still queued before shutting down.
			for {
				select {
				case ev := <-s.buffer:
					batch = append(batch, ev)
					if len(batch) >= s.config.MaxBatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// flushBatch writes one batch downstream. Journal failures are logged, not
// propagated; the journal is an audit trail, never a gate.
func (s *BufferedSink) flushBatch(batch []engine.LoadEvent) {
	for _, ev := range batch {
		if err := s.downstream.Record(context.Background(), ev); err != nil {
			s.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("Failed to journal event")
		}
	}
}

// Shutdown flushes buffered events and stops the background goroutine.
func (s *BufferedSink) Shutdown(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event buffer shutdown timeout")
	}
}
