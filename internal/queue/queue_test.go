package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sensorpulse/ingest/internal/domain"
	"github.com/sensorpulse/ingest/internal/metrics"
)

func newTestQueue(t *testing.T, capacity int) *Queue {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	return New(capacity, m)
}

func TestQueue_TryPush_RespectsCapacity(t *testing.T) {
	q := newTestQueue(t, 2)

	if !q.TryPush(&domain.EnqueuedTask{RequestID: "a"}) {
		t.Fatal("expected first push to succeed")
	}
	if !q.TryPush(&domain.EnqueuedTask{RequestID: "b"}) {
		t.Fatal("expected second push to succeed")
	}
	if q.TryPush(&domain.EnqueuedTask{RequestID: "c"}) {
		t.Fatal("expected third push to fail: queue at capacity")
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestQueue_FIFOOrder(t *testing.T) {
	q := newTestQueue(t, 10)

	for _, id := range []string{"a", "b", "c"} {
		if !q.TryPush(&domain.EnqueuedTask{RequestID: id}) {
			t.Fatalf("push %s failed", id)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		task, ok := q.Pop()
		if !ok {
			t.Fatal("expected a task")
		}
		if task.RequestID != want {
			t.Errorf("Pop() = %s, want %s", task.RequestID, want)
		}
	}
}

func TestQueue_StopWakesPop(t *testing.T) {
	q := newTestQueue(t, 1)

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Stop()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected Pop to report stopped/empty, got a task")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up after Stop")
	}
}

func TestQueue_StopRejectsTryPush(t *testing.T) {
	q := newTestQueue(t, 1)
	q.Stop()

	if q.TryPush(&domain.EnqueuedTask{RequestID: "x"}) {
		t.Error("expected TryPush to fail after Stop")
	}
}

func TestQueue_ConcurrentProducersConsumers(t *testing.T) {
	q := newTestQueue(t, 50)
	const n = 500

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for !q.TryPush(&domain.EnqueuedTask{RequestID: "t"}) {
				time.Sleep(time.Millisecond)
			}
		}
	}()

	received := 0
	go func() {
		for received < n {
			if _, ok := q.Pop(); ok {
				received++
			}
		}
	}()

	wg.Wait()
	deadline := time.After(5 * time.Second)
	for received < n {
		select {
		case <-deadline:
			t.Fatalf("only received %d/%d tasks", received, n)
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestQueue_ZeroCapacityPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected New(0, ...) to panic")
		}
	}()
	newTestQueue(t, 0)
}
