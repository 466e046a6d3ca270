// Package lease tracks in-flight tasks and enforces visibility timeouts.
// Leases are a derived structure: the authoritative lease fields live on
// the task record, and the in-memory set is rebuilt on startup.
package lease

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	errs "schedq/internal/errors"
	"schedq/internal/utils"
)

// Lease is a time-bounded, uniquely-tokened claim over one task attempt.
type Lease struct {
	TaskID    string
	ID        string
	ExpiresAt time.Time
}

// ExpireFunc is invoked once per expired lease, outside the manager lock.
type ExpireFunc func(taskID string, leaseID string)

type Manager struct {
	mu     sync.Mutex
	byTask map[string]*Lease

	logger   *slog.Logger
	interval time.Duration
	onExpire ExpireFunc

	stop chan utils.Empty
	wg   sync.WaitGroup
}

type Opts struct {
	Logger *slog.Logger

	// SweepInterval controls how often expired leases are reclaimed.
	SweepInterval time.Duration

	// OnExpire receives each reclaimed lease exactly once.
	OnExpire ExpireFunc
}

func NewManager(opts *Opts) *Manager {
	o := defaultOpts(opts)

	return &Manager{
		byTask:   make(map[string]*Lease),
		logger:   o.Logger,
		interval: o.SweepInterval,
		onExpire: o.OnExpire,
		stop:     make(chan utils.Empty, 1),
	}
}

func defaultOpts(o *Opts) *Opts {
	def := &Opts{
		Logger:        slog.Default(),
		SweepInterval: time.Second,
	}
	if o == nil {
		return def
	}
	if o.Logger != nil {
		def.Logger = o.Logger
	}
	if o.SweepInterval > 0 {
		def.SweepInterval = o.SweepInterval
	}
	def.OnExpire = o.OnExpire

	return def
}

// Grant issues a fresh lease over the task. Any previous in-memory claim
// for the task is superseded; the new token fences the old one out.
func (m *Manager) Grant(taskID string, duration time.Duration) *Lease {
	l := &Lease{
		TaskID:    taskID,
		ID:        uuid.NewString(),
		ExpiresAt: time.Now().Add(duration),
	}

	m.mu.Lock()
	m.byTask[taskID] = l
	m.mu.Unlock()

	return l
}

// ReRegister restores a lease surviving a restart, keeping its original
// token and deadline so the pre-crash claim is honored, not duplicated.
func (m *Manager) ReRegister(taskID string, leaseID string, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byTask[taskID] = &Lease{
		TaskID:    taskID,
		ID:        leaseID,
		ExpiresAt: expiresAt,
	}
}

// Extend pushes the deadline of an active lease forward. It returns
// ErrFenced when leaseID no longer matches the active claim and
// ErrExpired when the claim has lapsed but is not yet reclaimed.
func (m *Manager) Extend(taskID string, leaseID string, extra time.Duration) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.byTask[taskID]
	if !ok || l.ID != leaseID {
		return time.Time{}, errs.NewErrFenced("lease")
	}

	if time.Now().After(l.ExpiresAt) {
		return time.Time{}, errs.NewErrExpired("lease")
	}

	l.ExpiresAt = l.ExpiresAt.Add(extra)
	return l.ExpiresAt, nil
}

// Release retires an active lease after ack or fail.
func (m *Manager) Release(taskID string, leaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.byTask[taskID]
	if !ok || l.ID != leaseID {
		return errs.NewErrFenced("lease")
	}

	delete(m.byTask, taskID)
	return nil
}

// Active returns the count of tracked leases.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.byTask)
}

// Run starts the background sweep that reclaims expired leases.
func (m *Manager) Run() {
	m.wg.Add(1)

	timer := time.NewTimer(m.interval)
	go func() {
		defer func() {
			timer.Stop()
			m.wg.Done()
		}()

		for {
			select {
			case <-m.stop:
				return
			case <-timer.C:
				m.sweep(time.Now())
				timer.Reset(m.interval)
			}
		}
	}()
}

func (m *Manager) sweep(now time.Time) {
	m.mu.Lock()
	var expired []*Lease
	for taskID, l := range m.byTask {
		if now.After(l.ExpiresAt) {
			expired = append(expired, l)
			delete(m.byTask, taskID)
		}
	}
	m.mu.Unlock()

	if len(expired) == 0 {
		return
	}

	m.logger.
		With("count", len(expired)).
		Debug("reclaiming expired leases")

	if m.onExpire == nil {
		return
	}

	for _, l := range expired {
		m.onExpire(l.TaskID, l.ID)
	}
}

func (m *Manager) Stop() {
	m.stop <- utils.Empty{}

	m.wg.Wait()
}
