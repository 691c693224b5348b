package download

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// gate lets a queued task block until released, so a single-worker
// queue's pending backlog can be inspected deterministically before the
// next task starts.
func gate() (wait func(), release func()) {
	ch := make(chan struct{})
	return func() { <-ch }, func() { close(ch) }
}

func TestQueueFIFOOrder(t *testing.T) {
	// Invariant 10: default discharge order is submission order.
	t.Parallel()

	q := newQueue(1, FIFO)
	defer q.close()

	wait, release := gate()
	var order []int
	done := make(chan struct{})

	q.schedule(PriorityNormal, func() { wait() })
	for i := 0; i < 3; i++ {
		i := i
		q.schedule(PriorityNormal, func() {
			order = append(order, i)
			if i == 2 {
				close(done)
			}
		})
	}
	release()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not all run")
	}
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestQueueLIFOOrder(t *testing.T) {
	// Invariant 11: LIFO discharges most-recently-submitted first.
	t.Parallel()

	q := newQueue(1, LIFO)
	defer q.close()

	wait, release := gate()
	var order []int
	done := make(chan struct{})

	q.schedule(PriorityNormal, func() { wait() })
	for i := 0; i < 3; i++ {
		i := i
		q.schedule(PriorityNormal, func() {
			order = append(order, i)
			if len(order) == 3 {
				close(done)
			}
		})
	}
	release()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not all run")
	}
	require.Equal(t, []int{2, 1, 0}, order)
}

func TestQueueHighPriorityJumpsAhead(t *testing.T) {
	t.Parallel()

	q := newQueue(1, FIFO)
	defer q.close()

	wait, release := gate()
	var order []string
	done := make(chan struct{})

	q.schedule(PriorityNormal, func() { wait() })
	q.schedule(PriorityLow, func() { order = append(order, "low") })
	q.schedule(PriorityNormal, func() { order = append(order, "normal") })
	q.schedule(PriorityHigh, func() {
		order = append(order, "high")
		close(done)
	})
	release()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("high priority task never ran")
	}
	require.Equal(t, "high", order[0])
}

func TestQueueSuspendBlocksDispatch(t *testing.T) {
	t.Parallel()

	q := newQueue(1, FIFO)
	defer q.close()

	q.setSuspended(true)
	ran := make(chan struct{})
	q.schedule(PriorityNormal, func() { close(ran) })

	select {
	case <-ran:
		t.Fatal("task ran while suspended")
	case <-time.After(100 * time.Millisecond):
	}

	q.setSuspended(false)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran after resume")
	}
}

func TestQueueMaxConcurrency(t *testing.T) {
	t.Parallel()

	q := newQueue(2, FIFO)
	defer q.close()

	var peak, current int32
	var mu = make(chan struct{}, 1)
	mu <- struct{}{}
	release := make(chan struct{})
	started := make(chan struct{}, 4)

	inc := func() {
		<-mu
		current++
		if current > peak {
			peak = current
		}
		mu <- struct{}{}
	}
	dec := func() {
		<-mu
		current--
		mu <- struct{}{}
	}

	for i := 0; i < 4; i++ {
		q.schedule(PriorityNormal, func() {
			inc()
			started <- struct{}{}
			<-release
			dec()
		})
	}
	for i := 0; i < 2; i++ {
		<-started
	}
	require.LessOrEqual(t, int(peak), 2)
	close(release)
}
