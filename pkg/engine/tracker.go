package engine

import (
	"hash/maphash"
	"runtime"
	"sync"
	"weak"

	"github.com/rs/zerolog"
)

// trackerStripes is the number of per-context lock stripes. Two load events
// for the same context always hash to the same stripe and are therefore
// serialized with respect to registration; unrelated contexts rarely
// collide.
const trackerStripes = 64

// ContextTracker maintains the set of loading contexts that have already
// completed one-time post-load registration. Membership is held through
// weak pointers so that the tracker is never the reason a context stays
// alive: when no other owner references a context, the runtime's cleanup
// facility removes its entry without any explicit destroy call from the
// host.
type ContextTracker struct {
	register RegistrationFunc
	logger   zerolog.Logger
	seed     maphash.Seed

	locks [trackerStripes]sync.Mutex

	// mu guards members. Held only for the map access itself, never
	// across the registration side effect.
	mu      sync.Mutex
	members map[weak.Pointer[LoadingContext]]struct{}
}

// NewContextTracker creates a tracker that invokes register at most once
// per loading context. register may be nil, in which case registration is
// pure bookkeeping.
func NewContextTracker(register RegistrationFunc, logger zerolog.Logger) *ContextTracker {
	return &ContextTracker{
		register: register,
		logger:   logger.With().Str("component", "context-tracker").Logger(),
		seed:     maphash.MakeSeed(),
		members:  make(map[weak.Pointer[LoadingContext]]struct{}),
	}
}

// RegisterOnce performs first-time registration for the context and returns
// true, or returns false when the context is already registered. A nil
// context is skipped: the host reports no context for bootstrap loads,
// which the exclusion matcher already filters, but the tracker defends
// against it independently.
//
// The check-insert-register sequence runs under the context's stripe lock,
// so N concurrent calls for the same context perform exactly one downstream
// registration. A failing registration is logged and the context stays
// marked: at-most-once, never at-least-once.
func (t *ContextTracker) RegisterOnce(lc *LoadingContext) bool {
	if lc == nil {
		return false
	}

	stripe := &t.locks[maphash.Comparable(t.seed, lc)%trackerStripes]
	stripe.Lock()
	defer stripe.Unlock()

	handle := weak.Make(lc)

	t.mu.Lock()
	_, seen := t.members[handle]
	if !seen {
		t.members[handle] = struct{}{}
	}
	t.mu.Unlock()

	if seen {
		return false
	}

	// Reclaim the entry when the context becomes unreachable. The
	// cleanup captures only the weak handle, never the context.
	runtime.AddCleanup(lc, func(h weak.Pointer[LoadingContext]) {
		t.mu.Lock()
		delete(t.members, h)
		t.mu.Unlock()
	}, handle)

	if t.register != nil {
		if err := t.register(lc); err != nil {
			rerr := NewRegistrationError(lc.Name(), err)
			t.logger.Error().Err(rerr).Str("context", lc.Name()).Msg("Registration collaborator failed")
		}
	}

	t.logger.Debug().Str("context", lc.Name()).Msg("Registered loading context")
	return true
}

// Registered reports whether the context currently holds a registration
// record.
func (t *ContextTracker) Registered(lc *LoadingContext) bool {
	if lc == nil {
		return false
	}
	handle := weak.Make(lc)
	t.mu.Lock()
	_, ok := t.members[handle]
	t.mu.Unlock()
	return ok
}

// Len returns the current membership size. Entries for collected contexts
// disappear asynchronously after garbage collection.
func (t *ContextTracker) Len() int {
	t.mu.Lock()
	n := len(t.members)
	t.mu.Unlock()
	return n
}
