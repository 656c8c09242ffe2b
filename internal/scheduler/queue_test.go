package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := newTaskQueue()
	a, b, c := &Task{ID: "a"}, &Task{ID: "b"}, &Task{ID: "c"}
	q.push(a)
	q.push(b)
	q.push(c)
	assert.Equal(t, 3, q.len())

	ctx := context.Background()
	for _, want := range []*Task{a, b, c} {
		got, err := q.pop(ctx)
		require.NoError(t, err)
		assert.Same(t, want, got)
	}
	assert.Zero(t, q.len())
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := newTaskQueue()
	want := &Task{ID: "a"}
	done := make(chan *Task)
	go func() {
		got, err := q.pop(context.Background())
		assert.NoError(t, err)
		done <- got
	}()

	time.Sleep(10 * time.Millisecond)
	q.push(want)
	select {
	case got := <-done:
		assert.Same(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatal("pop did not return after push")
	}
}

func TestQueuePopHonorsCancellation(t *testing.T) {
	q := newTaskQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.pop(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueueDrain(t *testing.T) {
	q := newTaskQueue()
	q.push(&Task{ID: "a"})
	q.push(&Task{ID: "b"})
	drained := q.drain()
	assert.Len(t, drained, 2)
	assert.Zero(t, q.len())
}
