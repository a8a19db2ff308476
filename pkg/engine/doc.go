// Package engine implements the Lifecycle Controller and the engine's
// public API surface (spec.md §4.10, §6): it owns the single loaded
// identity, wires every other package into one running system, and
// exposes an asynchronous submit-task-return-request-ID API in front of
// the task queue. State transitions (UNLOADED/ACTIVE/PAUSED) are taken
// under one state mutex, mirroring the teacher's Manager orchestrating
// Bootstrap/Join/Shutdown over every cluster subsystem it owns.
package engine
