// Package listenermgr owns the four DHT subscription registries the
// engine keeps alive for one loaded identity: outbox, presence,
// contact-request, and ACK (spec.md §4.7 Listener Manager). Each
// registry enforces its own capacity and idempotent start/cancel, and
// the manager fans a contact's outbox+presence+ack trio in or out
// together so pkg/handlers never has to know the registries exist.
package listenermgr
