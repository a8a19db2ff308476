// Package sendqueue is the bounded, back-pressured front door for
// outgoing direct messages (spec.md §4.11 Message Send Queue): enqueue
// reserves a slot and fires a send task carrying that slot's ID, and the
// send handler frees the slot once the task completes.
package sendqueue
