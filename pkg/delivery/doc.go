// Package delivery is the bulletproof-delivery retry loop (spec.md §4.8
// Delivery Engine). It owns no state of its own beyond an in-flight
// mutex: every outgoing message's retry count, status, and staleness is
// read from and written back to the Store, so a process restart resumes
// retrying exactly where it left off.
package delivery
