// Package metrics exposes the engine's Prometheus metrics and health/
// readiness/liveness HTTP handlers.
//
// Counters and histograms are incremented inline at their source (task
// dispatch in pkg/taskqueue, event dispatch in pkg/dispatch, wallet sends
// in pkg/handlers) the same way Warren instruments pkg/scheduler and
// pkg/reconciler directly rather than only through a poll loop. Gauges
// that reflect point-in-time counts the engine doesn't already track as
// a running total (contacts, groups, listener counts, DHT node count,
// engine state) are republished on an interval by Collector, which polls
// an EngineSource, satisfied by (*engine.Engine).Stats, so this package
// never imports pkg/engine and the dependency edge stays one-way.
//
// HealthChecker tracks named component health (dht, store, engine) and
// answers /health (overall), /ready (critical components only), and
// /live (process liveness) the way cmd/dnad's HTTP server would mount
// them alongside Handler()'s /metrics endpoint.
package metrics
