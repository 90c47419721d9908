package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutDeliversToBothViews(t *testing.T) {
	q := New[int]()
	q.Put(7)

	got, ok := q.GetCooperative(context.Background())
	require.True(t, ok)
	assert.Equal(t, 7, got)

	got, ok = q.GetPreemptive(false, 0)
	require.True(t, ok)
	assert.Equal(t, 7, got)
}

func TestConsumersAreIndependent(t *testing.T) {
	q := New[int]()
	q.Put(1)
	q.Put(2)

	// Draining the cooperative view leaves the preemptive view intact.
	_, _ = q.GetCooperative(context.Background())
	_, _ = q.GetCooperative(context.Background())
	assert.Equal(t, 0, q.CooperativeLen())
	assert.Equal(t, 2, q.PreemptiveLen())
}

func TestGetPreemptiveNonBlockingEmpty(t *testing.T) {
	q := New[string]()
	_, ok := q.GetPreemptive(false, 0)
	assert.False(t, ok)
}

func TestGetPreemptiveTimeout(t *testing.T) {
	q := New[string]()
	start := time.Now()
	_, ok := q.GetPreemptive(true, 50*time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestGetCooperativeContextCancel(t *testing.T) {
	q := New[string]()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.GetCooperative(ctx)
		done <- ok
	}()

	cancel()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("GetCooperative did not return after cancellation")
	}
}

func TestFIFOOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 10; i++ {
		q.Put(i)
	}
	for i := 0; i < 10; i++ {
		got, ok := q.GetCooperative(context.Background())
		require.True(t, ok)
		assert.Equal(t, i, got)
	}
}

func TestNoItemLostUnderConcurrency(t *testing.T) {
	const producers = 4
	const perProducer = 250

	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Put(i)
			}
		}()
	}

	coopSeen := make(chan int, 1)
	go func() {
		n := 0
		for n < producers*perProducer {
			if _, ok := q.GetCooperative(ctx); !ok {
				break
			}
			n++
		}
		coopSeen <- n
	}()

	preSeen := 0
	for preSeen < producers*perProducer {
		if _, ok := q.GetPreemptive(true, time.Second); !ok {
			break
		}
		preSeen++
	}

	wg.Wait()
	assert.Equal(t, producers*perProducer, <-coopSeen)
	assert.Equal(t, producers*perProducer, preSeen)
}
