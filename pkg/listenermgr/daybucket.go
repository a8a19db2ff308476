package listenermgr

import (
	"container/heap"
	"sync"
	"time"
)

// rotationEntry schedules one contact's next DM-outbox key rotation, at
// the following UTC midnight after the listener was (re)started.
type rotationEntry struct {
	fingerprint string
	dayBucket   int
	rotateAt    time.Time
	index       int
}

// rotationHeap orders entries by rotateAt, the time-indexed min-heap
// spec.md §9's redesign note calls for in place of an O(listeners)
// heartbeat sweep.
type rotationHeap []*rotationEntry

func (h rotationHeap) Len() int            { return len(h) }
func (h rotationHeap) Less(i, j int) bool  { return h[i].rotateAt.Before(h[j].rotateAt) }
func (h rotationHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *rotationHeap) Push(x any) {
	e := x.(*rotationEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *rotationHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// rotationSchedule is the mutex-guarded handle the manager drives from
// its heartbeat tick.
type rotationSchedule struct {
	mu sync.Mutex
	h  rotationHeap
}

func newRotationSchedule() *rotationSchedule {
	s := &rotationSchedule{}
	heap.Init(&s.h)
	return s
}

// currentDayBucket is the UTC day integer embedded in DM outbox keys.
func currentDayBucket(now time.Time) int {
	return int(now.UTC().Unix() / 86400)
}

// nextMidnightUTC is the rotateAt for a listener started at now.
func nextMidnightUTC(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}

func (s *rotationSchedule) schedule(fingerprint string, dayBucket int, rotateAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	heap.Push(&s.h, &rotationEntry{fingerprint: fingerprint, dayBucket: dayBucket, rotateAt: rotateAt})
}

// due pops every entry whose rotateAt has passed, up to and including now.
func (s *rotationSchedule) due(now time.Time) []*rotationEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*rotationEntry
	for s.h.Len() > 0 && !s.h[0].rotateAt.After(now) {
		out = append(out, heap.Pop(&s.h).(*rotationEntry))
	}
	return out
}

func (s *rotationSchedule) remove(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < s.h.Len(); {
		if s.h[i].fingerprint == fingerprint {
			heap.Remove(&s.h, i)
			continue
		}
		i++
	}
}
