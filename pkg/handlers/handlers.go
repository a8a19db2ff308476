// Package handlers implements the handler-set component of spec.md §4.6:
// one struct per family (identity, contacts, messaging, groups, wallet,
// feed, backup/sync, profile), each reading and writing through
// pkg/store.Store and pkg/dhtfacade.Facade the way the teacher's Manager
// reads and writes through storage.Store. Handlers are the business logic
// invoked by pkg/taskqueue handlers; they hold no task-queue-specific
// state of their own.
package handlers

import (
	"github.com/dnaproject/dna-core/pkg/dhtfacade"
	"github.com/dnaproject/dna-core/pkg/dispatch"
	"github.com/dnaproject/dna-core/pkg/keystore"
	"github.com/dnaproject/dna-core/pkg/pqcrypto"
	"github.com/dnaproject/dna-core/pkg/store"
)

// Deps is the shared set of collaborators every handler family is
// constructed from, mirroring the way the teacher's Manager is built from
// one storage.Store plus the cluster's other singletons.
type Deps struct {
	Store    store.Store
	DHT      dhtfacade.Facade
	Crypto   pqcrypto.Suite
	Keys     *keystore.Store
	Dispatch *dispatch.Dispatcher
}
