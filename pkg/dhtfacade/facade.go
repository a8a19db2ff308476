// Package dhtfacade defines the uniform interface the engine uses to talk
// to the DHT node (spec.md §4.2): PUT, GET, signed-PUT, LISTEN/CANCEL,
// suspend/resubscribe, readiness and node count. The DHT node itself is an
// external collaborator (spec.md §1); this package owns only the contract
// and an in-memory reference implementation under ./memdht.
package dhtfacade

import (
	"context"
	"time"
)

// ValueCallback is invoked on every delivery for a subscription. Returning
// false asks the facade to terminate the subscription (spec.md §4.7
// Callback semantics).
type ValueCallback func(value []byte, expired bool) bool

// Facade matches spec.md §4.2 exactly. Implementations must guarantee
// that, for every successful Listen, the onCleanup passed to it is
// invoked exactly once, after CancelListen has rendered the subscription
// inert, or after a suspended subscription is dropped instead of being
// resubscribed. SuspendAll itself does not invoke it, since ResubscribeAll
// reuses the same callbacks. The engine frees listener contexts relying
// on that guarantee.
type Facade interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Put(ctx context.Context, key, value []byte) error
	PutSignedPermanent(ctx context.Context, key, value []byte, valueID uint64, tag string) error

	Listen(key []byte, onValue ValueCallback, onCleanup func()) (token string, err error)
	CancelListen(token string) error
	IsListenerActive(token string) bool

	// SuspendAll preserves every subscription's key bytes and
	// callback/user-data without tearing them down; ResubscribeAll
	// re-registers them, re-minting tokens.
	SuspendAll()
	ResubscribeAll() ([]Resubscription, error)

	NodeCount() int
	IsReady() bool
	WaitForReady(ctx context.Context, timeout time.Duration) bool
}

// Resubscription reports one subscription's new token after
// ResubscribeAll, keyed by the original subscription key so the Listener
// Manager can refresh the matching descriptor.
type Resubscription struct {
	Key   []byte
	Token string
}
