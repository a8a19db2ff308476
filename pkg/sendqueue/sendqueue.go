package sendqueue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dnaproject/dna-core/pkg/apperr"
	"github.com/dnaproject/dna-core/pkg/metrics"
	"github.com/dnaproject/dna-core/pkg/types"
)

// SubmitFunc fires the fire-and-forget send task carrying a reserved
// slot's ID in its user-data (spec.md §4.11). It must not block the
// caller of Enqueue for longer than it takes to hand the task to the
// worker pool.
type SubmitFunc func(entry *types.SendQueueEntry)

// Queue is the bounded mutex-protected slot array, generalized from the
// teacher's `Worker.containers map[string]*types.Container` +
// `containersMu sync.RWMutex` bookkeeping to a fixed-capacity array with
// monotonic slot IDs instead of map keys.
type Queue struct {
	mu          sync.Mutex
	slots       []*types.SendQueueEntry
	maxCapacity int
	nextSlotID  atomic.Uint64
	submit      SubmitFunc
}

// New builds a Queue with the given starting capacity, bounded above by
// maxCapacity (spec.md §4.11: "default capacity N, max N_MAX").
func New(capacity, maxCapacity int, submit SubmitFunc) *Queue {
	if capacity > maxCapacity {
		capacity = maxCapacity
	}
	return &Queue{
		slots:       make([]*types.SendQueueEntry, capacity),
		maxCapacity: maxCapacity,
		submit:      submit,
	}
}

// Enqueue reserves a free slot, records the plaintext and a monotonic
// slot ID, and submits the send task. It fails rather than blocking when
// every slot is in use (spec.md §4.11: "enqueue fails when full").
func (q *Queue) Enqueue(recipient, groupID string, plaintext []byte) (uint64, error) {
	q.mu.Lock()
	idx := -1
	for i, s := range q.slots {
		if s == nil {
			idx = i
			break
		}
	}
	if idx == -1 {
		q.mu.Unlock()
		metrics.SendQueueRejectedTotal.Inc()
		return 0, apperr.New(apperr.Internal, "send queue is full")
	}
	entry := &types.SendQueueEntry{
		SlotID:    q.nextSlotID.Add(1),
		Recipient: recipient,
		GroupID:   groupID,
		Plaintext: plaintext,
		QueuedAt:  time.Now(),
		InUse:     true,
	}
	q.slots[idx] = entry
	q.mu.Unlock()

	if q.submit != nil {
		q.submit(entry)
	}
	return entry.SlotID, nil
}

// Free releases the slot carrying slotID, matched by the send handler on
// task completion. Freeing an unknown slot ID is a no-op.
func (q *Queue) Free(slotID uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, s := range q.slots {
		if s != nil && s.SlotID == slotID {
			q.slots[i] = nil
			return
		}
	}
}

// Capacity reports the current slot array size.
func (q *Queue) Capacity() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.slots)
}

// InUse reports how many slots currently hold a reserved entry.
func (q *Queue) InUse() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, s := range q.slots {
		if s != nil {
			n++
		}
	}
	return n
}

// Resize changes capacity upward at any time, or downward only to at
// least the number of slots currently in use (spec.md §4.11).
func (q *Queue) Resize(newCapacity int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if newCapacity > q.maxCapacity {
		return apperr.New(apperr.InvalidParam, "capacity exceeds configured maximum")
	}
	current := len(q.slots)
	if newCapacity > current {
		q.slots = append(q.slots, make([]*types.SendQueueEntry, newCapacity-current)...)
		return nil
	}
	if newCapacity == current {
		return nil
	}

	inUse := 0
	for _, s := range q.slots {
		if s != nil {
			inUse++
		}
	}
	if newCapacity < inUse {
		return apperr.New(apperr.InvalidParam, "cannot shrink below the number of slots in use")
	}

	// Compact in-use entries to the front, then truncate the free tail.
	compacted := make([]*types.SendQueueEntry, 0, newCapacity)
	for _, s := range q.slots {
		if s != nil {
			compacted = append(compacted, s)
		}
	}
	for len(compacted) < newCapacity {
		compacted = append(compacted, nil)
	}
	q.slots = compacted
	return nil
}
