// Package dispatch delivers typed engine events to a single registered
// subscriber under a mutex (spec.md §4.3), a deliberate narrowing of the
// teacher's multi-subscriber events.Broker down to the one callback slot
// the engine's public API exposes.
package dispatch

import (
	"sync"

	"github.com/dnaproject/dna-core/pkg/metrics"
	"github.com/dnaproject/dna-core/pkg/types"
)

// Callback receives one event. It must not block for long; the
// dispatcher invokes it outside any lock but on the calling goroutine.
type Callback func(types.Event)

// Dispatcher is a single mutex-guarded callback slot.
type Dispatcher struct {
	mu sync.Mutex
	cb Callback
}

func New() *Dispatcher { return &Dispatcher{} }

// Register replaces the current subscriber. Passing nil unregisters.
func (d *Dispatcher) Register(cb Callback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cb = cb
}

// Dispatch takes the mutex, copies the callback, releases, then invokes —
// the dispatcher never invokes under the lock (spec.md §4.3).
func (d *Dispatcher) Dispatch(event types.Event) {
	metrics.EventsDispatchedTotal.WithLabelValues(string(event.Type)).Inc()
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	if cb != nil {
		cb(event)
	}
}
