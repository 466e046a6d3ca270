package scheduler

import (
	"encoding/json"
	"time"

	"schedq/internal/retry"
	"schedq/internal/store"
)

// Scheduler is the single entry point producers and workers use. It
// orchestrates the task store, priority index and lease manager so all
// invariant enforcement happens on one path.
type Scheduler interface {
	// Enqueue records a task and makes it dequeuable once its delay
	// elapses. It only fails when the task store is unavailable.
	Enqueue(req EnqueueRequest) (id string, err error)

	// Dequeue pops the highest-priority eligible task, grants a lease
	// over it and counts the attempt. Returns ErrEmpty when no eligible
	// task exists; callers pace their own polling.
	Dequeue(leaseDuration time.Duration) (t *LeasedTask, err error)

	// Ack marks the task succeeded. Acking an already-succeeded task is
	// a no-op: duplicate acks are expected under at-least-once delivery.
	Ack(id string, leaseID string) (err error)

	// Fail reports a failed attempt. The retry policy decides between a
	// delayed re-enqueue and the dead-letter set.
	Fail(id string, leaseID string, kind retry.FailureKind, reason string) (err error)

	// ExtendLease pushes the visibility deadline forward so long-running
	// handlers avoid false expiry.
	ExtendLease(id string, leaseID string, extra time.Duration) (expiresAt time.Time, err error)

	// Cancel dead-letters a task that is still ready. Canceling a leased
	// task is not supported.
	Cancel(id string) (err error)

	// Get returns the stored record of a task.
	Get(id string) (t *store.Task, err error)

	// PeekDeadLetters lists permanently failed tasks for inspection.
	// Dead letters are never deleted automatically.
	PeekDeadLetters(limit int) (tasks []store.Task, err error)

	// Stats reports queue depth per priority, in-flight and dead counts,
	// and the lease-expiry total.
	Stats() (st *Stats, err error)

	// Run rebuilds the index and lease set from the store, then starts
	// the lease sweep.
	Run() error

	Stop()
}

type EnqueueRequest struct {
	Kind        string
	Payload     json.RawMessage
	Priority    int
	MaxAttempts int
	Delay       time.Duration
}

// LeasedTask is what a worker receives from Dequeue: the payload plus
// the fencing token it must present on ack, fail and extend.
type LeasedTask struct {
	TaskID         string
	Kind           string
	Payload        json.RawMessage
	Priority       int
	AttemptCount   int
	LeaseID        string
	LeaseExpiresAt time.Time
}

type Stats struct {
	ReadyByPriority map[int]int
	Leased          int
	Dead            int
	LeaseExpiries   uint64
}
