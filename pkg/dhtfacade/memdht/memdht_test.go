package memdht

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	f := New()
	ctx := context.Background()
	require.NoError(t, f.Put(ctx, []byte("k"), []byte("v1")))

	v, err := f.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)
}

func TestListenDeliversOnPut(t *testing.T) {
	f := New()
	ctx := context.Background()

	delivered := make(chan []byte, 1)
	token, err := f.Listen([]byte("topic"), func(value []byte, expired bool) bool {
		delivered <- value
		return true
	}, nil)
	require.NoError(t, err)
	assert.True(t, f.IsListenerActive(token))

	require.NoError(t, f.Put(ctx, []byte("topic"), []byte("hello")))

	select {
	case v := <-delivered:
		assert.Equal(t, []byte("hello"), v)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestCancelListenInvokesCleanupExactlyOnce(t *testing.T) {
	f := New()
	cleanups := make(chan struct{}, 4)
	token, err := f.Listen([]byte("topic"), func([]byte, bool) bool { return true }, func() {
		cleanups <- struct{}{}
	})
	require.NoError(t, err)

	require.NoError(t, f.CancelListen(token))
	require.Error(t, f.CancelListen(token))
	assert.False(t, f.IsListenerActive(token))

	select {
	case <-cleanups:
	case <-time.After(time.Second):
		t.Fatal("cleanup not invoked")
	}
	select {
	case <-cleanups:
		t.Fatal("cleanup invoked more than once")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReturningFalseTerminatesSubscription(t *testing.T) {
	f := New()
	ctx := context.Background()
	cleaned := make(chan struct{}, 1)

	token, err := f.Listen([]byte("topic"), func([]byte, bool) bool {
		return false
	}, func() { cleaned <- struct{}{} })
	require.NoError(t, err)

	require.NoError(t, f.Put(ctx, []byte("topic"), []byte("once")))

	select {
	case <-cleaned:
	case <-time.After(time.Second):
		t.Fatal("cleanup not invoked after callback returned false")
	}
	assert.False(t, f.IsListenerActive(token))
}

func TestSuspendAndResubscribePreservesKeyAndReMintsToken(t *testing.T) {
	f := New()
	oldToken, err := f.Listen([]byte("topic"), func([]byte, bool) bool { return true }, nil)
	require.NoError(t, err)

	f.SuspendAll()
	assert.False(t, f.IsListenerActive(oldToken))

	resubs, err := f.ResubscribeAll()
	require.NoError(t, err)
	require.Len(t, resubs, 1)
	assert.Equal(t, []byte("topic"), resubs[0].Key)
	assert.NotEqual(t, oldToken, resubs[0].Token)
	assert.True(t, f.IsListenerActive(resubs[0].Token))
}

func TestSignedPermanentRejectsForeignWriter(t *testing.T) {
	f := New()
	ctx := context.Background()
	require.NoError(t, f.PutSignedPermanent(ctx, []byte("version"), []byte("v1"), 1, "tag"))
	err := f.PutSignedPermanent(ctx, []byte("version"), []byte("v2"), 2, "tag")
	assert.Error(t, err)
}

func TestWaitForReady(t *testing.T) {
	f := New()
	f.SetReady(true)
	assert.True(t, f.WaitForReady(context.Background(), time.Second))

	f2 := New()
	assert.False(t, f2.WaitForReady(context.Background(), 50*time.Millisecond))
}
