package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextIsMonotonicAndNeverZero(t *testing.T) {
	r := New()
	seen := make(map[uint64]bool)
	for i := 0; i < 1000; i++ {
		id := r.Next()
		assert.NotZero(t, id)
		assert.False(t, seen[id], "id %d reused", id)
		seen[id] = true
	}
}

func TestNextIsSafeForConcurrentUse(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	ids := make(chan uint64, 500)
	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- r.Next()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, seen, 500)
}
