package taskqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnaproject/dna-core/pkg/apperr"
	"github.com/dnaproject/dna-core/pkg/types"
)

func TestCallbackInvokedExactlyOnceOnSuccess(t *testing.T) {
	q := New(4)
	q.RegisterHandler(types.TaskSendMessage, func(ctx context.Context, task *types.Task) {
		task.Callback(types.Result{Value: "ok"})
	})
	q.Start(context.Background(), 2)
	defer q.Shutdown()

	var calls int
	var mu sync.Mutex
	done := make(chan struct{})
	require.NoError(t, q.Submit(&types.Task{
		RequestID: 1,
		Type:      types.TaskSendMessage,
		Callback: func(r types.Result) {
			mu.Lock()
			calls++
			mu.Unlock()
			close(done)
		},
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("callback never invoked")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestCancelledTaskSkipsExecution(t *testing.T) {
	q := New(4)
	executed := false
	q.RegisterHandler(types.TaskSendMessage, func(ctx context.Context, task *types.Task) {
		executed = true
		task.Callback(types.Result{})
	})
	q.Start(context.Background(), 1)
	defer q.Shutdown()

	task := &types.Task{RequestID: 2, Type: types.TaskSendMessage}
	task.Cancel()

	done := make(chan types.Result, 1)
	task.Callback = func(r types.Result) { done <- r }
	require.NoError(t, q.Submit(task))

	select {
	case r := <-done:
		assert.Equal(t, apperr.InvalidParam, apperr.CodeOf(r.Err))
	case <-time.After(time.Second):
		t.Fatal("callback never invoked for cancelled task")
	}
	assert.False(t, executed)
}

func TestUnregisteredTaskTypeReturnsInternal(t *testing.T) {
	q := New(4)
	q.Start(context.Background(), 1)
	defer q.Shutdown()

	done := make(chan types.Result, 1)
	require.NoError(t, q.Submit(&types.Task{
		RequestID: 3,
		Type:      "unknown.type",
		Callback:  func(r types.Result) { done <- r },
	}))

	select {
	case r := <-done:
		assert.Equal(t, apperr.Internal, apperr.CodeOf(r.Err))
	case <-time.After(time.Second):
		t.Fatal("callback never invoked")
	}
}

func TestSubmitAfterShutdownFails(t *testing.T) {
	q := New(4)
	q.Start(context.Background(), 1)
	q.Shutdown()

	err := q.Submit(&types.Task{RequestID: 4, Type: types.TaskSendMessage})
	assert.Equal(t, apperr.NotInitialized, apperr.CodeOf(err))
}

func TestWorkerCountBounds(t *testing.T) {
	assert.GreaterOrEqual(t, WorkerCount(10, 100), 10)
	assert.LessOrEqual(t, WorkerCount(1, 2), 2)
}
