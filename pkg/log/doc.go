// Package log provides structured logging for the engine via zerolog.
//
// A single global Logger is configured once with Init, then every
// subsystem derives a child logger carrying its own context fields
// (component, fingerprint, listener token, request ID) so that a single
// grep over JSON output can isolate one identity's activity even when
// several are loaded in the same test binary.
package log
