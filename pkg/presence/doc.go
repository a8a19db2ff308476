// Package presence runs the single heartbeat thread that republishes our
// presence record and drives day-bucket rotation checks (spec.md §4.9
// Presence & Heartbeat). It holds no message state of its own; every wake
// either no-ops or calls out to the DHT facade and the Listener Manager.
package presence
