package scheduler

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	errs "schedq/internal/errors"
	"schedq/internal/index"
	"schedq/internal/lease"
	"schedq/internal/retry"
	"schedq/internal/store"
)

const (
	DefaultMaxAttempts   = 3
	DefaultLeaseDuration = 30 * time.Second

	// conflictRetries bounds how often optimistic-concurrency races are
	// retried internally before surfacing ErrUnavailable.
	conflictRetries = 5
)

type scheduler struct {
	logger *slog.Logger
	st     store.Store
	idx    *index.Index
	leases *lease.Manager
	policy retry.Policy

	metrics        *metrics
	leaseExpiry    atomic.Uint64
	defaultLease   time.Duration
	defaultRetries int
}

type Opts struct {
	Logger *slog.Logger
	Policy retry.Policy

	// SweepInterval controls the lease-expiry sweep cadence.
	SweepInterval time.Duration

	// DefaultLeaseDuration applies when Dequeue is called without one.
	DefaultLeaseDuration time.Duration

	// DefaultMaxAttempts applies when Enqueue is called without one.
	DefaultMaxAttempts int

	// Registerer receives the scheduler's metrics collectors.
	Registerer prometheus.Registerer
}

func New(st store.Store, opts *Opts) (Scheduler, error) {
	o := defaultOpts(opts)

	s := &scheduler{
		logger:         o.Logger,
		st:             st,
		idx:            index.New(),
		policy:         o.Policy,
		defaultLease:   o.DefaultLeaseDuration,
		defaultRetries: o.DefaultMaxAttempts,
	}

	s.leases = lease.NewManager(&lease.Opts{
		Logger:        o.Logger,
		SweepInterval: o.SweepInterval,
		OnExpire:      s.onLeaseExpired,
	})

	m, err := newMetrics(o.Registerer, func() float64 {
		return float64(s.idx.Len())
	})
	if err != nil {
		return nil, err
	}
	s.metrics = m

	return s, nil
}

func defaultOpts(o *Opts) *Opts {
	def := &Opts{
		Logger:               slog.Default(),
		Policy:               retry.DefaultPolicy(),
		SweepInterval:        time.Second,
		DefaultLeaseDuration: DefaultLeaseDuration,
		DefaultMaxAttempts:   DefaultMaxAttempts,
		Registerer:           prometheus.DefaultRegisterer,
	}
	if o == nil {
		return def
	}
	if o.Logger != nil {
		def.Logger = o.Logger
	}
	if o.Policy.Base > 0 {
		def.Policy = o.Policy
	}
	if o.SweepInterval > 0 {
		def.SweepInterval = o.SweepInterval
	}
	if o.DefaultLeaseDuration > 0 {
		def.DefaultLeaseDuration = o.DefaultLeaseDuration
	}
	if o.DefaultMaxAttempts > 0 {
		def.DefaultMaxAttempts = o.DefaultMaxAttempts
	}
	if o.Registerer != nil {
		def.Registerer = o.Registerer
	}

	return def
}

func (s *scheduler) Run() error {
	if err := s.recover(); err != nil {
		s.logger.
			With("err", err).
			Error("failed to rebuild scheduler state")
		return err
	}

	s.leases.Run()
	return nil
}

func (s *scheduler) Stop() {
	s.leases.Stop()
}

// recover rebuilds the priority index and active-lease set from a store
// scan. Leases granted before a crash keep their stored deadlines so
// in-flight work expires naturally instead of being duplicated.
func (s *scheduler) recover() error {
	tasks, err := s.st.Scan(nil)
	if err != nil {
		return fmt.Errorf("failed to scan store: %w", err)
	}

	indexed, leased := 0, 0
	for _, t := range tasks {
		switch t.State {
		case store.StateReady, store.StateFailedRetryable:
			s.idx.Insert(t.ID, t.Priority, t.EligibleAt)
			indexed += 1
		case store.StateLeased:
			s.leases.ReRegister(t.ID, t.LeaseID, t.LeaseExpiresAt)
			leased += 1
		}
	}

	s.logger.
		With("indexed", indexed).
		With("leased", leased).
		Info("scheduler state rebuilt")

	return nil
}

func (s *scheduler) Enqueue(req EnqueueRequest) (id string, err error) {
	if err := s.validate(&req); err != nil {
		s.logger.
			With("err", err).
			With("kind", req.Kind).
			Error("unable to enqueue, invalid task")
		return "", err
	}

	t := store.NewTask(
		req.Kind,
		req.Payload,
		req.Priority,
		req.MaxAttempts,
		time.Now().Add(req.Delay),
	)

	id, err = s.st.Put(t)
	if err != nil {
		s.logger.
			With("err", err).
			With("kind", req.Kind).
			Error("failed to record task")
		return "", fmt.Errorf("failed to record task: %w", err)
	}

	s.idx.Insert(id, t.Priority, t.EligibleAt)
	s.metrics.enqueued.Inc()

	s.logger.
		With("task_id", id).
		With("kind", req.Kind).
		With("priority", t.Priority).
		Debug("task enqueued")

	return id, nil
}

func (s *scheduler) validate(req *EnqueueRequest) error {
	if len(req.Kind) == 0 {
		return fmt.Errorf("task kind is required")
	}

	if req.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must be greater than or equal to 0")
	}
	if req.MaxAttempts == 0 {
		req.MaxAttempts = s.defaultRetries
	}

	if req.Delay < 0 {
		return fmt.Errorf("delay must be greater than or equal to 0")
	}

	return nil
}

func (s *scheduler) Dequeue(leaseDuration time.Duration) (*LeasedTask, error) {
	if leaseDuration <= 0 {
		leaseDuration = s.defaultLease
	}

	for attempt := 0; attempt < conflictRetries; attempt++ {
		e, ok := s.idx.PopHighest(time.Now())
		if !ok {
			return nil, errs.ErrEmpty
		}

		t, err := s.st.Get(e.ID)
		if err != nil {
			if isNotFound(err) {
				// stale reference, drop it
				continue
			}

			// The pop is not durable until the leased state persists;
			// put the reference back before surfacing the error.
			s.idx.Insert(e.ID, e.Priority, e.EligibleAt)
			return nil, fmt.Errorf("failed to read task: %w", err)
		}

		if t.State != store.StateReady && t.State != store.StateFailedRetryable {
			// canceled or completed while indexed, drop the reference
			continue
		}

		l := s.leases.Grant(t.ID, leaseDuration)

		updated, err := s.st.Update(t.ID, t.Version, func(task *store.Task) {
			task.State = store.StateLeased
			task.AttemptCount += 1
			task.LeaseID = l.ID
			task.LeaseExpiresAt = l.ExpiresAt
		})
		if err != nil {
			_ = s.leases.Release(t.ID, l.ID)
			s.idx.Insert(e.ID, e.Priority, e.EligibleAt)

			if isConflict(err) {
				continue
			}
			return nil, fmt.Errorf("failed to persist lease: %w", err)
		}

		s.metrics.dequeued.Inc()

		s.logger.
			With("task_id", updated.ID).
			With("lease_id", l.ID).
			With("attempt", updated.AttemptCount).
			Debug("task dequeued")

		return &LeasedTask{
			TaskID:         updated.ID,
			Kind:           updated.Kind,
			Payload:        updated.Payload,
			Priority:       updated.Priority,
			AttemptCount:   updated.AttemptCount,
			LeaseID:        l.ID,
			LeaseExpiresAt: l.ExpiresAt,
		}, nil
	}

	return nil, errs.NewErrUnavailable("scheduler")
}

func (s *scheduler) Ack(id string, leaseID string) error {
	for attempt := 0; attempt < conflictRetries; attempt++ {
		t, err := s.st.Get(id)
		if err != nil {
			return err
		}

		if t.State == store.StateSucceeded {
			// duplicate ack, expected under at-least-once delivery
			return nil
		}

		if t.State != store.StateLeased || t.LeaseID != leaseID {
			return errs.NewErrFenced("ack")
		}

		_, err = s.st.Update(id, t.Version, func(task *store.Task) {
			task.State = store.StateSucceeded
			task.LeaseID = ""
			task.LeaseExpiresAt = time.Time{}
		})
		if err != nil {
			if isConflict(err) {
				continue
			}
			return fmt.Errorf("failed to persist ack: %w", err)
		}

		_ = s.leases.Release(id, leaseID)
		s.metrics.acked.Inc()

		s.logger.
			With("task_id", id).
			Debug("task acknowledged")

		return nil
	}

	return errs.NewErrUnavailable("scheduler")
}

func (s *scheduler) Fail(id string, leaseID string, kind retry.FailureKind, reason string) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown failure kind: %s", kind)
	}

	for attempt := 0; attempt < conflictRetries; attempt++ {
		t, err := s.st.Get(id)
		if err != nil {
			return err
		}

		if t.State != store.StateLeased || t.LeaseID != leaseID {
			return errs.NewErrFenced("fail")
		}

		decision := s.policy.Decide(t.AttemptCount, t.MaxAttempts, kind)
		eligibleAt := time.Now().Add(decision.Delay)

		updated, err := s.st.Update(id, t.Version, func(task *store.Task) {
			task.LeaseID = ""
			task.LeaseExpiresAt = time.Time{}
			task.LastError = reason

			if decision.Dead {
				task.State = store.StateDead
				return
			}

			task.State = store.StateFailedRetryable
			task.EligibleAt = eligibleAt
		})
		if err != nil {
			if isConflict(err) {
				continue
			}
			return fmt.Errorf("failed to persist failure: %w", err)
		}

		_ = s.leases.Release(id, leaseID)
		s.metrics.failed.WithLabelValues(string(kind)).Inc()

		if decision.Dead {
			s.metrics.dead.Inc()
			s.logger.
				With("task_id", id).
				With("attempts", updated.AttemptCount).
				With("kind", string(kind)).
				Info("task dead-lettered")
			return nil
		}

		s.idx.Insert(id, updated.Priority, updated.EligibleAt)

		s.logger.
			With("task_id", id).
			With("attempt", updated.AttemptCount).
			With("delay", decision.Delay.String()).
			Debug("task scheduled for retry")

		return nil
	}

	return errs.NewErrUnavailable("scheduler")
}

func (s *scheduler) ExtendLease(id string, leaseID string, extra time.Duration) (time.Time, error) {
	if extra <= 0 {
		return time.Time{}, fmt.Errorf("extension must be greater than 0")
	}

	deadline, err := s.leases.Extend(id, leaseID, extra)
	if err != nil {
		return time.Time{}, err
	}

	for attempt := 0; attempt < conflictRetries; attempt++ {
		t, err := s.st.Get(id)
		if err != nil {
			return time.Time{}, err
		}

		if t.State != store.StateLeased || t.LeaseID != leaseID {
			return time.Time{}, errs.NewErrFenced("extend")
		}

		_, err = s.st.Update(id, t.Version, func(task *store.Task) {
			task.LeaseExpiresAt = deadline
		})
		if err != nil {
			if isConflict(err) {
				continue
			}
			return time.Time{}, fmt.Errorf("failed to persist lease extension: %w", err)
		}

		return deadline, nil
	}

	return time.Time{}, errs.NewErrUnavailable("scheduler")
}

func (s *scheduler) Cancel(id string) error {
	for attempt := 0; attempt < conflictRetries; attempt++ {
		t, err := s.st.Get(id)
		if err != nil {
			return err
		}

		if t.State == store.StateDead {
			return nil
		}

		if t.State != store.StateReady && t.State != store.StateFailedRetryable {
			return fmt.Errorf("only ready tasks can be canceled, task is %s", t.State)
		}

		_, err = s.st.Update(id, t.Version, func(task *store.Task) {
			task.State = store.StateDead
			task.LastError = "canceled"
		})
		if err != nil {
			if isConflict(err) {
				continue
			}
			return fmt.Errorf("failed to persist cancellation: %w", err)
		}

		s.idx.Remove(id)
		s.metrics.dead.Inc()

		s.logger.
			With("task_id", id).
			Info("task canceled")

		return nil
	}

	return errs.NewErrUnavailable("scheduler")
}

func (s *scheduler) Get(id string) (*store.Task, error) {
	return s.st.Get(id)
}

func (s *scheduler) PeekDeadLetters(limit int) ([]store.Task, error) {
	if limit <= 0 {
		limit = 100
	}

	dead, err := s.st.Scan(func(t *store.Task) bool {
		return t.State == store.StateDead
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan dead letters: %w", err)
	}

	if len(dead) > limit {
		dead = dead[:limit]
	}

	tasks := make([]store.Task, 0, len(dead))
	for _, t := range dead {
		tasks = append(tasks, *t)
	}

	return tasks, nil
}

func (s *scheduler) Stats() (*Stats, error) {
	dead, err := s.st.Scan(func(t *store.Task) bool {
		return t.State == store.StateDead
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan store: %w", err)
	}

	return &Stats{
		ReadyByPriority: s.idx.Depths(),
		Leased:          s.leases.Active(),
		Dead:            len(dead),
		LeaseExpiries:   s.leaseExpiry.Load(),
	}, nil
}

// onLeaseExpired returns an abandoned task to the ready set. The attempt
// was already counted at grant time, so nothing else is incremented.
// This is the only state transition not driven by an explicit caller.
func (s *scheduler) onLeaseExpired(taskID string, leaseID string) {
	for attempt := 0; attempt < conflictRetries; attempt++ {
		t, err := s.st.Get(taskID)
		if err != nil {
			s.logger.
				With("err", err).
				With("task_id", taskID).
				Error("failed to read task for lease expiry")
			return
		}

		if t.State != store.StateLeased || t.LeaseID != leaseID {
			// acked or failed just before the sweep caught it
			return
		}

		updated, err := s.st.Update(taskID, t.Version, func(task *store.Task) {
			task.LeaseID = ""
			task.LeaseExpiresAt = time.Time{}

			// Redelivering would push the attempt count past the cap,
			// so an expiry on the final attempt is terminal.
			if task.AttemptCount >= task.MaxAttempts {
				task.State = store.StateDead
				task.LastError = "lease expired on final attempt"
				return
			}

			task.State = store.StateReady
			task.EligibleAt = time.Now()
		})
		if err != nil {
			if isConflict(err) {
				continue
			}
			s.logger.
				With("err", err).
				With("task_id", taskID).
				Error("failed to return expired lease to ready")
			return
		}

		s.leaseExpiry.Add(1)
		s.metrics.leasesExpired.Inc()

		if updated.State == store.StateDead {
			s.metrics.dead.Inc()
			s.logger.
				With("task_id", taskID).
				With("attempts", updated.AttemptCount).
				Info("lease expired on final attempt, task dead-lettered")
			return
		}

		s.idx.Insert(taskID, updated.Priority, updated.EligibleAt)

		s.logger.
			With("task_id", taskID).
			With("lease_id", leaseID).
			With("attempt", updated.AttemptCount).
			Info("lease expired, task returned to ready")

		return
	}

	s.logger.
		With("task_id", taskID).
		Error("gave up returning expired lease after repeated conflicts")
}
