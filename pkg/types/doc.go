// Package types defines the data structures the engine owns and passes
// between its components: identity, engine state, queued tasks, listener
// descriptors, outgoing messages, send-queue entries, presence records and
// dispatched events. Contact, group and wallet records round out the local
// relational caches pkg/store persists.
//
// Enumerations use typed string or int constants, matching the reference
// style this codebase's domain model follows elsewhere.
package types
