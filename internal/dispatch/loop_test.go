package dispatch

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunBlocksUntilComplete(t *testing.T) {
	l := New()
	defer l.Close()

	var n int32
	l.Run(func() { atomic.AddInt32(&n, 1) })
	require.Equal(t, int32(1), atomic.LoadInt32(&n))
}

func TestRunSerializesConcurrentCallers(t *testing.T) {
	l := New()
	defer l.Close()

	var n int
	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		go func() {
			l.Run(func() { n++ })
			done <- struct{}{}
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}
	require.Equal(t, 50, n)
}

func TestPostWaitsForBusyLoopButNotForCompletion(t *testing.T) {
	l := New()
	defer l.Close()

	gate := make(chan struct{})
	l.Post(func() { <-gate })

	finished := make(chan struct{})
	go func() {
		l.Post(func() {})
		close(finished)
	}()

	select {
	case <-finished:
		t.Fatal("Post should have waited until the busy loop goroutine accepted the work")
	case <-time.After(20 * time.Millisecond):
	}
	close(gate)
}

func TestCloseStopsAcceptingWork(t *testing.T) {
	l := New()
	l.Close()

	ran := false
	l.Run(func() { ran = true })
	require.False(t, ran)
}
