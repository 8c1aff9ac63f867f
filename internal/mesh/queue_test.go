package mesh

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkQueueRunsInOrder(t *testing.T) {
	q := newWorkQueue()

	var mu sync.Mutex
	var got []int
	for i := range 100 {
		require.True(t, q.push(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	require.True(t, q.finish(func() {}))
	<-q.done

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestWorkQueueFinishDropsPending(t *testing.T) {
	q := newWorkQueue()

	started := make(chan struct{})
	unblock := make(chan struct{})
	q.push(func() {
		close(started)
		<-unblock
	})
	<-started

	ran := false
	q.push(func() { ran = true })

	last := false
	require.True(t, q.finish(func() { last = true }))
	assert.False(t, q.finish(func() {}))
	assert.False(t, q.push(func() {}))

	close(unblock)
	select {
	case <-q.done:
	case <-time.After(time.Second):
		t.Fatal("queue did not stop")
	}
	assert.False(t, ran)
	assert.True(t, last)
}

func TestWorkQueueFinishFromTask(t *testing.T) {
	q := newWorkQueue()

	var order []string
	q.push(func() {
		q.finish(func() { order = append(order, "last") })
		order = append(order, "task")
	})

	select {
	case <-q.done:
	case <-time.After(time.Second):
		t.Fatal("queue did not stop")
	}
	assert.Equal(t, []string{"task", "last"}, order)
}
