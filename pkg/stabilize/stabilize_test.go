package stabilize

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnaproject/dna-core/pkg/dhtfacade/memdht"
)

type fakeSyncer struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSyncer) Sync(ctx context.Context) error {
	f.calls.Add(1)
	return f.err
}

func TestStabilizeRunsSyncOnceQuorumReached(t *testing.T) {
	facade := memdht.New()
	facade.SetNodeCount(2)
	syncer := &fakeSyncer{}
	c := New(facade, syncer)

	c.Stabilize(context.Background())

	require.Eventually(t, func() bool { return syncer.calls.Load() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !c.IsRunning() }, time.Second, time.Millisecond)
}

func TestStabilizeSkipsConcurrentSpawn(t *testing.T) {
	facade := memdht.New()
	facade.SetNodeCount(0)
	syncer := &fakeSyncer{}
	c := New(facade, syncer)

	c.Stabilize(context.Background())
	assert.True(t, c.IsRunning())
	c.Stabilize(context.Background()) // should be a no-op, not a second goroutine

	facade.SetNodeCount(2)
	require.Eventually(t, func() bool { return syncer.calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), syncer.calls.Load())
}

func TestWaitForQuorumFailsWhenContextCancelled(t *testing.T) {
	facade := memdht.New()
	c := New(facade, &fakeSyncer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, c.waitForQuorum(ctx))
}
