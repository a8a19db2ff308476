// Package memdht is an in-memory dhtfacade.Facade used by tests and by
// the dnad demo subcommand to run two local identities against each other
// without a real DHT node. It has no network stack: a real DHT client is
// an explicit external collaborator (spec.md §1), and this type exists
// solely to make the engine independently testable, the same role
// pkg/storage's interface-first design plays in the teacher's codebase.
package memdht

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnaproject/dna-core/pkg/apperr"
	"github.com/dnaproject/dna-core/pkg/dhtfacade"
)

type storedValue struct {
	data    []byte
	signed  bool
	valueID uint64
}

// subscription serializes delivery to guarantee per-listener ordering
// (spec.md §3 Event: "events from a single listener are totally ordered").
type subscription struct {
	mu        sync.Mutex
	key       string
	onValue   dhtfacade.ValueCallback
	onCleanup func()
	active    bool
	cleanedUp bool
}

func (s *subscription) deliver(value []byte, expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	if !s.onValue(value, expired) {
		s.deactivateLocked()
	}
}

func (s *subscription) deactivateLocked() {
	s.active = false
	if !s.cleanedUp {
		s.cleanedUp = true
		cb := s.onCleanup
		if cb != nil {
			go cb()
		}
	}
}

// Facade is the in-memory reference implementation of dhtfacade.Facade.
type Facade struct {
	mu        sync.Mutex
	values    map[string]storedValue
	subs      map[string]*subscription
	suspended []*subscription
	nextToken uint64

	nodeCount atomic.Int64
	ready     atomic.Bool
}

// New returns a Facade with zero nodes and not ready, matching a freshly
// constructed DHT context before bootstrap.
func New() *Facade {
	return &Facade{
		values: make(map[string]storedValue),
		subs:   make(map[string]*subscription),
	}
}

// SetNodeCount and SetReady are test/demo hooks simulating routing-table
// growth; a real facade derives these from the DHT node's own state.
func (f *Facade) SetNodeCount(n int) { f.nodeCount.Store(int64(n)) }
func (f *Facade) SetReady(ready bool) { f.ready.Store(ready) }

func (f *Facade) Get(_ context.Context, key []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[string(key)]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "key not found")
	}
	return v.data, nil
}

func (f *Facade) Put(_ context.Context, key, value []byte) error {
	subs := f.putLocked(key, storedValue{data: value})
	for _, s := range subs {
		s.deliver(value, false)
	}
	return nil
}

func (f *Facade) PutSignedPermanent(_ context.Context, key, value []byte, valueID uint64, tag string) error {
	f.mu.Lock()
	if existing, ok := f.values[string(key)]; ok && existing.signed && existing.valueID != valueID {
		f.mu.Unlock()
		return apperr.New(apperr.Permission, "signed-permanent slot owned by a different writer")
	}
	f.mu.Unlock()

	subs := f.putLocked(key, storedValue{data: value, signed: true, valueID: valueID})
	_ = tag // tag is opaque metadata the reference facade does not interpret
	for _, s := range subs {
		s.deliver(value, false)
	}
	return nil
}

func (f *Facade) putLocked(key []byte, v storedValue) []*subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[string(key)] = v
	var matching []*subscription
	for _, s := range f.subs {
		if s.key == string(key) {
			matching = append(matching, s)
		}
	}
	return matching
}

func (f *Facade) Listen(key []byte, onValue dhtfacade.ValueCallback, onCleanup func()) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	token := fmt.Sprintf("tok-%d", f.nextToken)
	f.nextToken++
	f.subs[token] = &subscription{key: string(key), onValue: onValue, onCleanup: onCleanup, active: true}
	return token, nil
}

func (f *Facade) CancelListen(token string) error {
	f.mu.Lock()
	s, ok := f.subs[token]
	if ok {
		delete(f.subs, token)
	}
	f.mu.Unlock()
	if !ok {
		return apperr.New(apperr.NotFound, "unknown listener token")
	}
	s.mu.Lock()
	s.deactivateLocked()
	s.mu.Unlock()
	return nil
}

func (f *Facade) IsListenerActive(token string) bool {
	f.mu.Lock()
	s, ok := f.subs[token]
	f.mu.Unlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SuspendAll moves every live subscription into the suspended set without
// invoking onCleanup, preserving key bytes and callback/user-data per
// spec.md §4.2.
func (f *Facade) SuspendAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for token, s := range f.subs {
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		f.suspended = append(f.suspended, s)
		delete(f.subs, token)
	}
}

// ResubscribeAll re-registers every suspended subscription under a fresh
// token, matching the teacher's re-subscribe-after-reconnect shape.
func (f *Facade) ResubscribeAll() ([]dhtfacade.Resubscription, error) {
	f.mu.Lock()
	pending := f.suspended
	f.suspended = nil
	f.mu.Unlock()

	out := make([]dhtfacade.Resubscription, 0, len(pending))
	for _, s := range pending {
		token, err := f.Listen([]byte(s.key), s.onValue, s.onCleanup)
		if err != nil {
			return out, fmt.Errorf("resubscribe %q: %w", s.key, err)
		}
		out = append(out, dhtfacade.Resubscription{Key: []byte(s.key), Token: token})
	}
	return out, nil
}

func (f *Facade) NodeCount() int { return int(f.nodeCount.Load()) }
func (f *Facade) IsReady() bool  { return f.ready.Load() }

// WaitForReady polls IsReady every 100ms until ready, ctx is cancelled, or
// timeout elapses, per spec.md §4.2's wait_for_ready(timeout).
func (f *Facade) WaitForReady(ctx context.Context, timeout time.Duration) bool {
	if f.IsReady() {
		return true
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return f.IsReady()
		case <-ticker.C:
			if f.IsReady() {
				return true
			}
		}
	}
}

var _ dhtfacade.Facade = (*Facade)(nil)
