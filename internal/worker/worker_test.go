package worker

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tpool/internal/events"
	"tpool/internal/logger"
)

func newTestPool(size int, bus *events.Bus) *Pool {
	return NewPoolWithConfig(PoolConfig{
		Size:   size,
		Logger: logger.Discard(),
		Bus:    bus,
	})
}

// recoverErr は f の panic 値を error として返す
func recoverErr(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(error)
			if !ok {
				panic(r)
			}
			err = e
		}
	}()
	f()
	return nil
}

func TestNewPool(t *testing.T) {
	pool := newTestPool(4, nil)
	defer pool.Close()

	if pool.Size() != 4 {
		t.Errorf("expected 4 workers, got %d", pool.Size())
	}
	if pool.QueueLen() != 0 {
		t.Errorf("expected empty queue, got %d", pool.QueueLen())
	}
}

func TestNewPoolInvalidSize(t *testing.T) {
	for _, size := range []int{0, -1, -5} {
		err := recoverErr(func() { NewPool(size) })
		if !errors.Is(err, ErrInvalidSize) {
			t.Errorf("NewPool(%d): expected ErrInvalidSize panic, got %v", size, err)
		}
	}
}

func TestPoolCloseWithoutWork(t *testing.T) {
	for size := 1; size <= 8; size++ {
		pool := newTestPool(size, nil)

		done := make(chan struct{})
		go func() {
			pool.Close()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("size %d: Close deadlocked", size)
		}

		want := make([]WorkerInfo, size)
		for i := range want {
			want[i] = WorkerInfo{ID: i, State: "Stopped", Joined: true}
		}
		if diff := cmp.Diff(want, pool.Workers()); diff != "" {
			t.Errorf("size %d: workers mismatch (-want +got):\n%s", size, diff)
		}
	}
}

func TestPoolExecutesEachJobOnce(t *testing.T) {
	for _, m := range []int{0, 1, 10, 1000} {
		pool := newTestPool(3, nil)
		counts := make([]atomic.Int32, m)

		for i := range m {
			pool.Execute(func() {
				counts[i].Add(1)
			})
		}
		pool.Close()

		for i := range counts {
			if got := counts[i].Load(); got != 1 {
				t.Fatalf("m=%d: job %d ran %d times", m, i, got)
			}
		}

		stats := pool.Stats()
		if stats.Submitted != uint64(m) || stats.Completed != uint64(m) {
			t.Errorf("m=%d: unexpected stats %+v", m, stats)
		}
	}
}

func TestPoolConcurrentExecute(t *testing.T) {
	pool := newTestPool(4, nil)

	const numGoroutines = 10
	const jobsPerGoroutine = 100

	var counter atomic.Int32
	var wg sync.WaitGroup

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobsPerGoroutine {
				pool.Execute(func() {
					counter.Add(1)
				})
			}
		}()
	}

	wg.Wait()
	pool.Close()

	expected := int32(numGoroutines * jobsPerGoroutine)
	if counter.Load() != expected {
		t.Errorf("expected %d jobs completed, got %d", expected, counter.Load())
	}
}

func TestPoolCloseWaitsForRunningJobs(t *testing.T) {
	pool := newTestPool(2, nil)

	const delay = 100 * time.Millisecond
	var finished atomic.Bool

	start := time.Now()
	pool.Execute(func() {
		time.Sleep(delay)
		finished.Store(true)
	})
	pool.Close()

	if !finished.Load() {
		t.Error("Close returned before the job finished")
	}
	if elapsed := time.Since(start); elapsed < delay {
		t.Errorf("Close returned after %v, expected at least %v", elapsed, delay)
	}
}

func TestPoolCounter(t *testing.T) {
	pool := newTestPool(2, nil)

	var counter atomic.Int32
	for range 5 {
		pool.Execute(func() {
			counter.Add(1)
		})
	}
	pool.Close()

	if counter.Load() != 5 {
		t.Errorf("expected counter 5, got %d", counter.Load())
	}
}

func TestPoolSingleWorkerSerializes(t *testing.T) {
	pool := newTestPool(1, nil)

	const delay = 50 * time.Millisecond
	var ranAt time.Time

	start := time.Now()
	pool.Execute(func() {
		time.Sleep(delay)
	})
	pool.Execute(func() {
		ranAt = time.Now()
	})
	pool.Close()

	if gap := ranAt.Sub(start); gap < delay {
		t.Errorf("second job ran %v after submission, expected at least %v", gap, delay)
	}
}

func TestPoolFIFOWithSingleWorker(t *testing.T) {
	pool := newTestPool(1, nil)

	var order []int
	for i := range 20 {
		pool.Execute(func() {
			order = append(order, i)
		})
	}
	pool.Close()

	want := make([]int, 20)
	for i := range want {
		want[i] = i
	}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("execution order mismatch (-want +got):\n%s", diff)
	}
}

func TestPoolPanicIsolation(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe()
	pool := newTestPool(1, bus)

	var ran atomic.Int32
	pool.Execute(func() {
		panic("boom")
	})
	for range 3 {
		pool.Execute(func() {
			ran.Add(1)
		})
	}
	pool.Close()

	if ran.Load() != 3 {
		t.Errorf("expected 3 jobs after panic, got %d", ran.Load())
	}

	stats := pool.Stats()
	if stats.Panicked != 1 || stats.Completed != 3 {
		t.Errorf("unexpected stats %+v", stats)
	}

	found := false
	for len(ch) > 0 {
		ev := <-ch
		if ev.Type == events.EventJobPanicked {
			found = true
			if ev.Data.Error != "boom" {
				t.Errorf("expected panic value boom, got %q", ev.Data.Error)
			}
		}
	}
	if !found {
		t.Error("expected job_panicked event")
	}
}

func TestPoolGoexitKeepsCapacity(t *testing.T) {
	pool := newTestPool(1, nil)

	var ran atomic.Bool
	pool.Execute(func() {
		runtime.Goexit()
	})
	pool.Execute(func() {
		ran.Store(true)
	})

	done := make(chan struct{})
	go func() {
		pool.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close deadlocked after Goexit")
	}

	if !ran.Load() {
		t.Error("expected job after Goexit to run")
	}
	if pool.Stats().Panicked != 1 {
		t.Errorf("expected Goexit counted as failure, got %+v", pool.Stats())
	}
}

func TestPoolExecuteAfterClose(t *testing.T) {
	pool := newTestPool(2, nil)
	pool.Close()

	err := recoverErr(func() { pool.Execute(func() {}) })
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed panic, got %v", err)
	}
	if pool.Stats().Submitted != 0 {
		t.Errorf("rejected job should not be counted, got %+v", pool.Stats())
	}
}

func TestPoolExecuteNil(t *testing.T) {
	pool := newTestPool(1, nil)
	defer pool.Close()

	err := recoverErr(func() { pool.Execute(nil) })
	if !errors.Is(err, ErrNilJob) {
		t.Errorf("expected ErrNilJob panic, got %v", err)
	}
}

func TestPoolCloseTwice(t *testing.T) {
	pool := newTestPool(2, nil)

	var counter atomic.Int32
	pool.Execute(func() { counter.Add(1) })

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Close()
		}()
	}
	wg.Wait()

	if counter.Load() != 1 {
		t.Errorf("expected job to run once, got %d", counter.Load())
	}
}

func TestPoolLifecycleEvents(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe()
	pool := newTestPool(3, bus)
	pool.Close()

	counts := map[events.EventType]int{}
	for len(ch) > 0 {
		ev := <-ch
		counts[ev.Type]++
	}

	want := map[events.EventType]int{
		events.EventWorkerStarted:    3,
		events.EventWorkerTerminated: 3,
		events.EventPoolClosed:       1,
	}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Errorf("event counts mismatch (-want +got):\n%s", diff)
	}
}

func TestWorkerStopsOnClosedQueue(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe()
	pool := newTestPool(2, bus)

	// Terminate を送らずにキューを閉じる
	pool.queue.close()
	for _, w := range pool.workers {
		select {
		case <-w.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("worker %d kept running on a closed queue", w.id)
		}
	}
	pool.Close()

	disconnected, terminated := 0, 0
	for len(ch) > 0 {
		switch (<-ch).Type {
		case events.EventWorkerDisconnected:
			disconnected++
		case events.EventWorkerTerminated:
			terminated++
		}
	}
	if disconnected != 2 || terminated != 0 {
		t.Errorf("expected 2 disconnected and 0 terminated, got %d and %d", disconnected, terminated)
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	done     int
	panicked int
}

func (o *recordingObserver) JobDone(_ int, _ time.Duration, panicked bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done++
	if panicked {
		o.panicked++
	}
}

func TestPoolObserver(t *testing.T) {
	obs := &recordingObserver{}
	pool := NewPoolWithConfig(PoolConfig{Size: 2, Logger: logger.Discard(), Observer: obs})

	for range 4 {
		pool.Execute(func() {})
	}
	pool.Execute(func() { panic(errors.New("bad job")) })
	pool.Close()

	if obs.done != 5 || obs.panicked != 1 {
		t.Errorf("expected 5 done and 1 panicked, got %d and %d", obs.done, obs.panicked)
	}
}

func TestPoolBusyGauge(t *testing.T) {
	pool := newTestPool(2, nil)

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	for range 2 {
		pool.Execute(func() {
			started.Done()
			<-release
		})
	}
	started.Wait()

	if busy := pool.Stats().Busy; busy != 2 {
		t.Errorf("expected 2 busy workers, got %d", busy)
	}
	for _, info := range pool.Workers() {
		if info.State != "Running" {
			t.Errorf("worker %d: expected Running, got %s", info.ID, info.State)
		}
	}

	close(release)
	pool.Close()

	if busy := pool.Stats().Busy; busy != 0 {
		t.Errorf("expected 0 busy workers after Close, got %d", busy)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateIdle:    "Idle",
		StateRunning: "Running",
		StateStopped: "Stopped",
		State(42):    "Unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %s, want %s", s, got, want)
		}
	}
}
