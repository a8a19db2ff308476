package listenermgr

import (
	"sync"

	"github.com/dnaproject/dna-core/pkg/apperr"
	"github.com/dnaproject/dna-core/pkg/dhtfacade"
	"github.com/dnaproject/dna-core/pkg/types"
)

// registry is one listener class's bookkeeping: a capacity-bounded map
// from key-id to descriptor, guarded independently of the other three
// classes (spec.md §4.7: "four registries...each guarded by its own
// mutex").
type registry struct {
	class types.ListenerClass
	max   int

	mu    sync.Mutex
	byKey map[string]*types.ListenerDescriptor
}

func newRegistry(class types.ListenerClass, max int) *registry {
	return &registry{class: class, max: max, byKey: make(map[string]*types.ListenerDescriptor)}
}

// beginStart is phase 1 of the three-phase start pattern (spec.md §4.7
// lock-order rule): under the registry mutex, report a still-active
// existing token if one exists, otherwise check capacity and release the
// mutex before the caller touches the facade. A non-empty token means
// the caller should return it without subscribing again.
func (r *registry) beginStart(keyID string, facade dhtfacade.Facade) (existingToken string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.byKey[keyID]; ok && d.Active {
		if facade.IsListenerActive(d.Token) {
			return d.Token, nil
		}
		d.Active = false
	}
	if len(r.byKey) >= r.max {
		return "", apperr.New(apperr.Internal, "listener registry at capacity: "+string(r.class))
	}
	return "", nil
}

// commitStart is phase 3: re-acquire the mutex, re-check for a concurrent
// winner, and record the descriptor. ok=false means another goroutine
// already installed an active descriptor for keyID while the caller's
// facade.Listen call in phase 2 was outstanding; the caller must cancel
// its own subscription and use the winner's token instead.
func (r *registry) commitStart(keyID, token string, extra func(*types.ListenerDescriptor)) (ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, exists := r.byKey[keyID]; exists && d.Active {
		return false
	}
	d := &types.ListenerDescriptor{Class: r.class, KeyID: keyID, Token: token, Active: true}
	if extra != nil {
		extra(d)
	}
	r.byKey[keyID] = d
	return true
}

func (r *registry) get(keyID string) (*types.ListenerDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byKey[keyID]
	return d, ok
}

func (r *registry) remove(keyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKey, keyID)
}

// markInactiveIfToken is the facade's on_cleanup hook. It only marks a
// descriptor inactive if it still carries the token the now-cleaned-up
// subscription was started with: a cancel()+restart() pair can replace
// keyID's descriptor with a fresh one before the old subscription's
// cleanup goroutine runs, and without the token check that stale
// cleanup would incorrectly deactivate the new descriptor (spec.md §4.7
// user-data lifetime rule; spec.md §1's token-staleness hazard).
func (r *registry) markInactiveIfToken(keyID, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.byKey[keyID]; ok && d.Token == token {
		d.Active = false
	}
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}

func (r *registry) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		out = append(out, k)
	}
	return out
}
