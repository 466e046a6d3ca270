// Package schedq wires the task store, scheduler, worker pool and HTTP
// server into a single embeddable service.
package schedq

import (
	"log"
	"log/slog"
	"os"
	"path/filepath"

	"schedq/internal/retry"
	"schedq/internal/scheduler"
	"schedq/internal/server"
	"schedq/internal/store"
	"schedq/internal/utils"
	"schedq/internal/worker"
)

type Schedq struct {
	opts *Options

	stop chan utils.Empty

	logger *slog.Logger

	st    store.Store
	sched scheduler.Scheduler
	pool  *worker.Pool

	hs *server.Server
}

func NewSchedq(opts *Options) *Schedq {
	o := DefaultOptions(opts)

	logger := slog.NewTextHandler(
		os.Stdout,
		&slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	)

	sq := &Schedq{
		opts:   o,
		logger: slog.New(logger),
		stop:   make(chan utils.Empty, 1),
	}
	if err := sq.init(); err != nil {
		sq.logger.
			With("err", err).
			Error("failed to initialize schedq")
		log.Fatalf("failed to initialize schedq: %v", err)
	}

	return sq
}

func (s *Schedq) init() error {
	s.mkdir(s.opts.StorePath)
	st, err := store.NewStore(&store.Opts{
		Logger: s.logger,
		Path:   s.opts.StorePath,
	})
	if err != nil {
		s.logger.
			With("err", err).
			Error("failed to create task store")
		log.Fatalf("failed to create task store: %v", err)
	}
	s.st = st

	sched, err := scheduler.New(st, &scheduler.Opts{
		Logger: s.logger,
		Policy: retry.Policy{
			Base: s.opts.BackoffBase,
			Max:  s.opts.BackoffMax,
		},
		SweepInterval:        s.opts.SweepInterval,
		DefaultLeaseDuration: s.opts.LeaseDuration,
		DefaultMaxAttempts:   s.opts.MaxAttempts,
	})
	if err != nil {
		s.logger.
			With("err", err).
			Error("failed to create scheduler")
		log.Fatalf("failed to create scheduler: %v", err)
	}
	s.sched = sched

	s.pool = worker.NewPool(sched, &worker.Opts{
		Logger:        s.logger,
		Size:          s.opts.Workers,
		LeaseDuration: s.opts.LeaseDuration,
		PollInterval:  s.opts.PollInterval,
	})

	hs := server.NewServer(&server.Options{
		Addr:   s.opts.Addr,
		Logger: s.logger,
	},
		s.sched,
		s.st,
	)
	s.hs = hs

	return nil
}

func (s *Schedq) mkdir(path string) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.logger.
			With("err", err).
			Error("failed to create directory")
		log.Fatalf("failed to create directory: %v", err)
	}
	s.logger.
		With("dir", dir).
		Info("directory created")
}

// Register binds a handler to a task kind on the embedded worker pool.
// Call before Run.
func (s *Schedq) Register(kind string, h worker.Handler) {
	s.pool.Register(kind, h)
}

// Scheduler exposes the underlying scheduler for embedding callers that
// enqueue directly instead of going through the HTTP API.
func (s *Schedq) Scheduler() scheduler.Scheduler {
	return s.sched
}

func (s *Schedq) Run() error {
	if err := s.sched.Run(); err != nil {
		s.logger.
			With("err", err).
			Error("failed to run scheduler")
		return err
	}

	// Without handlers the pool would dead-letter every task it pulls,
	// so it only starts when this process actually executes work.
	runPool := s.opts.Workers > 0 && s.pool.Registered() > 0
	if runPool {
		s.pool.Run()
	}

	if err := s.hs.Run(); err != nil {
		s.logger.
			With("err", err).
			Error("failed to run server")
		return err
	}

	<-s.stop

	s.logger.Info("schedq is stopping")
	if err := s.hs.Close(); err != nil {
		s.logger.
			With("err", err).
			Error("failed to close server")
	}

	if runPool {
		s.pool.Stop()
	}

	s.sched.Stop()

	if err := s.st.Close(); err != nil {
		s.logger.
			With("err", err).
			Error("failed to close task store")
	}

	s.logger.Info("schedq is stopped")

	return nil
}

func (s *Schedq) Close() {
	s.stop <- utils.Empty{}
}
