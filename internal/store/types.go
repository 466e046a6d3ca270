package store

import (
	"encoding/json"
	"time"
)

// Store is the durable record of tasks and the single source of truth.
// The priority index and lease set hold only references and are rebuilt
// from a Scan on startup.
type Store interface {
	Close() error

	// Put persists a new task and assigns its id if unset.
	Put(t *Task) (id string, err error)

	// Get retrieves a task by id.
	Get(id string) (t *Task, err error)

	// Update applies mutate to the task atomically. It fails with
	// ErrConflict if the stored version no longer matches expectedVersion,
	// forcing the caller to re-read and retry. On success the version
	// counter is bumped and the updated task returned.
	Update(id string, expectedVersion uint64, mutate func(*Task)) (t *Task, err error)

	// Scan returns every task matching pred, oldest key first.
	// Used for recovery and dead-letter inspection.
	Scan(pred func(*Task) bool) (tasks []*Task, err error)

	// List retrieves a page of tasks, oldest key first.
	List(skip uint64, limit uint64) (tasks []Task, err error)
}

type TaskState string

const (
	StateReady           TaskState = "ready"
	StateLeased          TaskState = "leased"
	StateSucceeded       TaskState = "succeeded"
	StateFailedRetryable TaskState = "failed_retryable"
	StateDead            TaskState = "dead"
)

// Terminal reports whether no further transition is possible from s.
func (s TaskState) Terminal() bool {
	return s == StateSucceeded || s == StateDead
}

// Well-known priority levels. Priority is an open integer scale,
// higher is more urgent; these are conveniences, not bounds.
const (
	PriorityLow      = 1
	PriorityNormal   = 5
	PriorityHigh     = 10
	PriorityCritical = 20
)

type Task struct {
	ID       string
	Kind     string
	Payload  json.RawMessage
	Priority int

	State        TaskState
	AttemptCount int
	MaxAttempts  int
	EligibleAt   time.Time
	LastError    string

	// Lease fields are set only while State is StateLeased.
	LeaseID        string
	LeaseExpiresAt time.Time

	// Version is the optimistic-concurrency counter, bumped on every update.
	Version uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewTask(kind string, payload json.RawMessage, priority int, maxAttempts int, eligibleAt time.Time) *Task {
	return &Task{
		Kind:        kind,
		Payload:     payload,
		Priority:    priority,
		State:       StateReady,
		MaxAttempts: maxAttempts,
		EligibleAt:  eligibleAt,
	}
}

func Encode(t *Task) ([]byte, error) {
	return json.Marshal(t)
}

func Decode(data []byte) (*Task, error) {
	t := &Task{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, err
	}
	return t, nil
}

var BucketTasks = ns("tasks")

func ns(name string) string {
	return "schedq:" + name
}

// TaskKey builds a key used by a single task record
func TaskKey(id string) string {
	return ns("task:" + id)
}
