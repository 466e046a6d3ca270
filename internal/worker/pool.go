// Package worker runs a bounded set of executors pulling leased tasks
// from the scheduler and invoking registered handlers. Workers never
// touch the store, index or lease set directly.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	errs "schedq/internal/errors"
	"schedq/internal/retry"
	"schedq/internal/scheduler"
	"schedq/internal/utils"
)

// Job is the unit handed to a handler.
type Job struct {
	TaskID  string
	Kind    string
	Payload json.RawMessage
	Attempt int

	// Extend pushes the lease deadline forward. Long-running handlers
	// call it to avoid false expiry.
	Extend func(extra time.Duration) error
}

// Handler executes one task attempt. A nil return acknowledges the
// task. Errors are treated as transient unless wrapped with Poisoned.
// A panic or a context deadline is reported to no one: the lease simply
// expires and the sweep reclaims the task, which treats a hung handler
// and a dead worker identically.
type Handler func(ctx context.Context, job Job) error

type poisonError struct {
	err error
}

func (e *poisonError) Error() string { return e.err.Error() }

func (e *poisonError) Unwrap() error { return e.err }

// Poisoned wraps a handler error to signal a deterministic failure that
// retrying cannot help; the task dead-letters immediately.
func Poisoned(err error) error {
	return &poisonError{err: err}
}

type Pool struct {
	logger *slog.Logger
	sched  scheduler.Scheduler
	opts   *Opts

	mu       sync.RWMutex
	handlers map[string]Handler

	limiter *rate.Limiter
	eg      *errgroup.Group
	cancel  context.CancelFunc
}

type Opts struct {
	Logger *slog.Logger

	// Size is the number of concurrent executors.
	Size int

	// LeaseDuration is requested on every dequeue and bounds handler
	// execution time.
	LeaseDuration time.Duration

	// PollInterval paces dequeue attempts across the whole pool while
	// the queue is empty.
	PollInterval time.Duration
}

func NewPool(sched scheduler.Scheduler, opts *Opts) *Pool {
	o := defaultOpts(opts)

	return &Pool{
		logger:   o.Logger,
		sched:    sched,
		opts:     o,
		handlers: make(map[string]Handler),
		limiter:  rate.NewLimiter(rate.Every(o.PollInterval), o.Size),
	}
}

func defaultOpts(o *Opts) *Opts {
	def := &Opts{
		Logger:        slog.Default(),
		Size:          4,
		LeaseDuration: scheduler.DefaultLeaseDuration,
		PollInterval:  100 * time.Millisecond,
	}
	if o == nil {
		return def
	}
	if o.Logger != nil {
		def.Logger = o.Logger
	}
	if o.Size > 0 {
		def.Size = o.Size
	}
	if o.LeaseDuration > 0 {
		def.LeaseDuration = o.LeaseDuration
	}
	if o.PollInterval > 0 {
		def.PollInterval = o.PollInterval
	}

	return def
}

// Register binds a handler to a task kind. Tasks of unregistered kinds
// are dead-lettered as poison: no amount of retrying will find them a
// handler on this pool.
func (p *Pool) Register(kind string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.handlers[kind] = h
}

// Registered returns the number of bound handlers.
func (p *Pool) Registered() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.handlers)
}

func (p *Pool) handler(kind string) (Handler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	h, ok := p.handlers[kind]
	return h, ok
}

func (p *Pool) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.eg, ctx = errgroup.WithContext(ctx)
	for i := 0; i < p.opts.Size; i++ {
		worker := i
		p.eg.Go(func() error {
			p.run(ctx, worker)
			return nil
		})
	}

	p.logger.
		With("size", p.opts.Size).
		Info("worker pool started")
}

func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}

	p.cancel()
	_ = p.eg.Wait()

	p.logger.Info("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, worker int) {
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		leased, err := p.sched.Dequeue(p.opts.LeaseDuration)
		if err != nil {
			if errors.Is(err, errs.ErrEmpty) {
				continue
			}

			p.logger.
				With("err", err).
				With("worker", worker).
				Error("failed to dequeue task")
			continue
		}

		p.execute(ctx, worker, leased)
	}
}

func (p *Pool) execute(ctx context.Context, worker int, leased *scheduler.LeasedTask) {
	h, ok := p.handler(leased.Kind)
	if !ok {
		p.logger.
			With("task_id", leased.TaskID).
			With("kind", leased.Kind).
			Error("no handler registered for task kind")

		p.fail(leased, retry.Poison, fmt.Sprintf("no handler for kind %q", leased.Kind))
		return
	}

	hctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		deadline = leased.LeaseExpiresAt
		timedOut bool
	)

	job := Job{
		TaskID:  leased.TaskID,
		Kind:    leased.Kind,
		Payload: leased.Payload,
		Attempt: leased.AttemptCount,
		Extend: func(extra time.Duration) error {
			expiresAt, err := p.sched.ExtendLease(leased.TaskID, leased.LeaseID, extra)
			if err != nil {
				return err
			}

			mu.Lock()
			deadline = expiresAt
			mu.Unlock()
			return nil
		},
	}

	// The handler gets until the lease deadline, extensions included.
	// On timeout nothing is reported; the lease expires and the sweep
	// reclaims the task.
	done := make(chan utils.Empty)
	defer close(done)

	go func() {
		for {
			mu.Lock()
			d := deadline
			mu.Unlock()

			wait := time.Until(d)
			if wait <= 0 {
				mu.Lock()
				timedOut = true
				mu.Unlock()
				cancel()
				return
			}

			select {
			case <-done:
				return
			case <-time.After(wait):
			}
		}
	}()

	err := p.invoke(hctx, h, job)

	mu.Lock()
	expired := timedOut
	mu.Unlock()

	if expired && !errors.Is(err, errHandlerPanic) {
		p.logger.
			With("task_id", leased.TaskID).
			With("worker", worker).
			Warn("handler timed out, leaving lease to expire")
		return
	}

	if ctx.Err() != nil && err != nil {
		// pool is shutting down, leave the lease to expire elsewhere
		return
	}

	switch {
	case err == nil:
		if ackErr := p.sched.Ack(leased.TaskID, leased.LeaseID); ackErr != nil {
			p.logger.
				With("err", ackErr).
				With("task_id", leased.TaskID).
				Error("failed to ack task")
		}
	case errors.Is(err, errHandlerPanic):
		// handler crash = implicit retry via lease expiry
	default:
		kind := retry.Transient
		var poison *poisonError
		if errors.As(err, &poison) {
			kind = retry.Poison
		}

		p.fail(leased, kind, err.Error())
	}
}

var errHandlerPanic = fmt.Errorf("handler panicked")

func (p *Pool) invoke(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.
				With("task_id", job.TaskID).
				With("panic", fmt.Sprintf("%v", rec)).
				Error("handler panicked")
			err = errHandlerPanic
		}
	}()

	return h(ctx, job)
}

func (p *Pool) fail(leased *scheduler.LeasedTask, kind retry.FailureKind, reason string) {
	err := p.sched.Fail(leased.TaskID, leased.LeaseID, kind, reason)
	if err != nil && !errors.Is(err, errs.ErrFenced) {
		p.logger.
			With("err", err).
			With("task_id", leased.TaskID).
			Error("failed to report task failure")
	}
}
