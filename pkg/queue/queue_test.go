package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	q := New(4)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Task{ID: "t1", Kind: KindProcess, BatchNum: 3}))

	got, ok := q.Dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, 3, got.BatchNum)
	assert.False(t, got.EnqueuedAt.IsZero())
}

func TestDequeueDeliversEachTaskOnce(t *testing.T) {
	q := New(4)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Task{ID: "a"}))
	require.NoError(t, q.Enqueue(ctx, Task{ID: "b"}))

	first, _ := q.Dequeue(ctx)
	second, _ := q.Dequeue(ctx)
	assert.ElementsMatch(t, []string{"a", "b"}, []string{first.ID, second.ID})
}

func TestDequeueRespectsContextCancellation(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := q.Dequeue(ctx)
	assert.False(t, ok)
}

func TestCloseStopsFurtherEnqueues(t *testing.T) {
	q := New(1)
	q.Close()

	err := q.Enqueue(context.Background(), Task{ID: "x"})
	assert.Error(t, err)
}

func TestLenReflectsBufferedTasks(t *testing.T) {
	q := New(4)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Task{ID: "a"}))
	require.NoError(t, q.Enqueue(ctx, Task{ID: "b"}))
	assert.Equal(t, 2, q.Len())
}
