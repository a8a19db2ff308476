// Package stabilize runs the Stabilization Coordinator (spec.md §4.12):
// on identity load, wait briefly for the DHT routing table to gain
// enough peers, then trigger a best-effort background sync of the
// engine's cached domain state and retry any pending messages.
package stabilize
