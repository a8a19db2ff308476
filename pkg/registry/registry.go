// Package registry allocates monotonic request IDs for the Task Queue
// (spec.md §4.5). 0 is reserved for "invalid"; IDs are never reused
// during the engine's lifetime.
package registry

import "sync/atomic"

// Registry issues monotonically increasing request IDs.
type Registry struct {
	counter atomic.Uint64
}

func New() *Registry { return &Registry{} }

// Next returns the next request ID, starting at 1.
func (r *Registry) Next() uint64 {
	return r.counter.Add(1)
}
