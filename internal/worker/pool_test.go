package worker_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"schedq/internal/retry"
	"schedq/internal/scheduler"
	"schedq/internal/store"
	"schedq/internal/worker"
)

func newScheduler(t *testing.T, opts *scheduler.Opts) scheduler.Scheduler {
	t.Helper()

	st, err := store.NewStore(&store.Opts{Path: filepath.Join(t.TempDir(), "tasks.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})

	if opts == nil {
		opts = &scheduler.Opts{}
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	if opts.SweepInterval == 0 {
		opts.SweepInterval = 10 * time.Millisecond
	}

	sched, err := scheduler.New(st, opts)
	if err != nil {
		t.Fatal(err)
	}

	if err := sched.Run(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sched.Stop)

	return sched
}

func newPool(t *testing.T, sched scheduler.Scheduler, opts *worker.Opts) *worker.Pool {
	t.Helper()

	if opts == nil {
		opts = &worker.Opts{}
	}
	if opts.Size == 0 {
		opts.Size = 2
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}

	p := worker.NewPool(sched, opts)

	return p
}

func waitForState(t *testing.T, sched scheduler.Scheduler, id string, want store.TaskState) *store.Task {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := sched.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if task.State == want {
			return task
		}

		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("task %s never reached state %s", id, want)
	return nil
}

func TestPoolExecutesAndAcks(t *testing.T) {
	sched := newScheduler(t, nil)
	pool := newPool(t, sched, nil)

	var got atomic.Value
	pool.Register("echo", func(ctx context.Context, job worker.Job) error {
		got.Store(string(job.Payload))
		return nil
	})

	id, err := sched.Enqueue(scheduler.EnqueueRequest{
		Kind:    "echo",
		Payload: []byte(`{"msg":"hello"}`),
	})
	if err != nil {
		t.Fatal(err)
	}

	pool.Run()
	t.Cleanup(pool.Stop)

	waitForState(t, sched, id, store.StateSucceeded)

	if got.Load() != `{"msg":"hello"}` {
		t.Errorf("handler saw payload %v", got.Load())
	}
}

func TestPoolRetriesTransientFailure(t *testing.T) {
	sched := newScheduler(t, &scheduler.Opts{
		Policy: retry.Policy{Base: 20 * time.Millisecond, Max: 100 * time.Millisecond},
	})
	pool := newPool(t, sched, nil)

	var calls atomic.Int32
	pool.Register("flaky", func(ctx context.Context, job worker.Job) error {
		if calls.Add(1) == 1 {
			return fmt.Errorf("downstream unavailable")
		}
		return nil
	})

	id, err := sched.Enqueue(scheduler.EnqueueRequest{Kind: "flaky"})
	if err != nil {
		t.Fatal(err)
	}

	pool.Run()
	t.Cleanup(pool.Stop)

	task := waitForState(t, sched, id, store.StateSucceeded)

	if calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2", calls.Load())
	}
	if task.AttemptCount != 2 {
		t.Errorf("attempt count is %d, want 2", task.AttemptCount)
	}
}

func TestPoolPoisonDeadLettersImmediately(t *testing.T) {
	sched := newScheduler(t, nil)
	pool := newPool(t, sched, nil)

	var calls atomic.Int32
	pool.Register("corrupt", func(ctx context.Context, job worker.Job) error {
		calls.Add(1)
		return worker.Poisoned(fmt.Errorf("unparseable payload"))
	})

	id, err := sched.Enqueue(scheduler.EnqueueRequest{Kind: "corrupt", MaxAttempts: 5})
	if err != nil {
		t.Fatal(err)
	}

	pool.Run()
	t.Cleanup(pool.Stop)

	task := waitForState(t, sched, id, store.StateDead)

	if calls.Load() != 1 {
		t.Errorf("poison task ran %d times, want 1", calls.Load())
	}
	if task.LastError != "unparseable payload" {
		t.Errorf("last error is %q", task.LastError)
	}
}

func TestPoolUnregisteredKindDeadLetters(t *testing.T) {
	sched := newScheduler(t, nil)
	pool := newPool(t, sched, nil)

	id, err := sched.Enqueue(scheduler.EnqueueRequest{Kind: "unknown"})
	if err != nil {
		t.Fatal(err)
	}

	pool.Run()
	t.Cleanup(pool.Stop)

	task := waitForState(t, sched, id, store.StateDead)

	if task.LastError != `no handler for kind "unknown"` {
		t.Errorf("last error is %q", task.LastError)
	}
}

func TestPoolPanicRecoveredAndRedelivered(t *testing.T) {
	sched := newScheduler(t, nil)
	pool := newPool(t, sched, &worker.Opts{LeaseDuration: 50 * time.Millisecond})

	var calls atomic.Int32
	pool.Register("crashy", func(ctx context.Context, job worker.Job) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	})

	id, err := sched.Enqueue(scheduler.EnqueueRequest{Kind: "crashy"})
	if err != nil {
		t.Fatal(err)
	}

	pool.Run()
	t.Cleanup(pool.Stop)

	// The first attempt panics, is not acked or failed, and comes back
	// through lease expiry.
	task := waitForState(t, sched, id, store.StateSucceeded)

	if calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2", calls.Load())
	}
	if task.AttemptCount != 2 {
		t.Errorf("attempt count is %d, want 2", task.AttemptCount)
	}
}

func TestPoolExtendKeepsLeaseAlive(t *testing.T) {
	sched := newScheduler(t, nil)
	pool := newPool(t, sched, &worker.Opts{Size: 1, LeaseDuration: 80 * time.Millisecond})

	var calls atomic.Int32
	pool.Register("slow", func(ctx context.Context, job worker.Job) error {
		calls.Add(1)
		for i := 0; i < 4; i++ {
			time.Sleep(40 * time.Millisecond)
			if err := job.Extend(200 * time.Millisecond); err != nil {
				return err
			}
		}
		return nil
	})

	id, err := sched.Enqueue(scheduler.EnqueueRequest{Kind: "slow"})
	if err != nil {
		t.Fatal(err)
	}

	pool.Run()
	t.Cleanup(pool.Stop)

	task := waitForState(t, sched, id, store.StateSucceeded)

	if calls.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", calls.Load())
	}
	if task.AttemptCount != 1 {
		t.Errorf("attempt count is %d, want 1", task.AttemptCount)
	}
}
