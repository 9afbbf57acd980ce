package mq

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueEvictsOldest(t *testing.T) {
	q := New(4)
	for i := 0; i < 7; i++ {
		q.Push(fmt.Sprintf("n%d", i))
	}

	require.True(t, q.IsDirty())
	require.Equal(t, 4, q.Len())
	require.Equal(t, []string{"n3", "n4", "n5", "n6"}, q.Drain(true))
	require.Equal(t, uint64(3), q.Dropped())
}

func TestDrainKeepsWindow(t *testing.T) {
	q := New(3)
	q.Push("a")
	q.Push("b")

	require.Equal(t, []string{"a", "b"}, q.Drain(true))
	require.False(t, q.IsDirty())

	require.Equal(t, []string{"a", "b"}, q.Drain(true))

	q.Push("c")
	q.Push("d")
	require.True(t, q.IsDirty())
	require.Equal(t, []string{"b", "c", "d"}, q.Drain(false))
	require.True(t, q.IsDirty())
}

func TestDrainReturnsCopy(t *testing.T) {
	q := New(2)
	q.Push("a")

	snap := q.Drain(true)
	snap[0] = "mutated"
	require.Equal(t, []string{"a"}, q.Drain(true))
}

func TestClear(t *testing.T) {
	q := New(2)
	q.Push("a")
	q.Drain(false)
	q.Push("b")

	q.Clear()
	require.False(t, q.IsDirty())
	require.Empty(t, q.Drain(true))
}

func TestConcurrentProducers(t *testing.T) {
	q := New(16)

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Pushf("p%d-%d", p, i)
			}
		}(p)
	}

	done := make(chan struct{})
	oversized := make(chan int, 1)
	go func() {
		defer close(oversized)
		for {
			select {
			case <-done:
				return
			default:
				if n := len(q.Drain(true)); n > 16 {
					oversized <- n
					return
				}
			}
		}
	}()

	wg.Wait()
	close(done)
	for n := range oversized {
		t.Fatalf("drain returned %d items", n)
	}

	require.Len(t, q.Drain(true), 16)
	require.Equal(t, uint64(800-16), q.Dropped())
}

func TestHubTopics(t *testing.T) {
	h := NewHub(8, nil)
	main := h.Topic("main_log")
	require.Same(t, main, h.Topic("main_log"))
	require.NotSame(t, main, h.Topic("progress"))
	require.Equal(t, 8, main.Capacity())
	require.Equal(t, "main_log", main.Name())
}

func TestFlushEmptiesWindow(t *testing.T) {
	q := New(3)
	q.Push("a")
	q.Push("b")

	require.Equal(t, []string{"a", "b"}, q.Flush())
	require.False(t, q.IsDirty())
	require.Empty(t, q.Flush())

	q.Push("c")
	require.Equal(t, []string{"c"}, q.Drain(true))
}

func TestFlushLosesNothingUnderConcurrentPushes(t *testing.T) {
	q := New(1024)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Pushf("p%d-%d", p, i)
			}
		}(p)
	}

	seen := make(map[string]int)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for finished := false; !finished; {
		select {
		case <-done:
			finished = true
		default:
		}
		for _, item := range q.Flush() {
			seen[item]++
		}
	}

	require.Len(t, seen, 200)
	for item, n := range seen {
		require.Equal(t, 1, n, item)
	}
	require.Zero(t, q.Dropped())
}
