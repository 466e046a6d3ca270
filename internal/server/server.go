package server

import (
	"log/slog"
	"net/http"

	httpin_integ "github.com/ggicci/httpin/integration"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schedq/internal/scheduler"
	"schedq/internal/store"
)

type Options struct {
	Addr   string
	Logger *slog.Logger
}

type runtime struct {
	logger *slog.Logger
	sched  scheduler.Scheduler
	st     store.Store
}

type Server struct {
	opts    *Options
	logger  *slog.Logger
	sm      chi.Router
	hs      *http.Server
	runtime *runtime
}

func NewServer(opts *Options, sched scheduler.Scheduler, st store.Store) *Server {
	o := defaultOpts(opts)

	s := &Server{
		logger: o.Logger,
		opts:   o,
		sm:     chi.NewRouter(),
		runtime: &runtime{
			logger: o.Logger,
			sched:  sched,
			st:     st,
		},
	}

	s.registerV1()

	hs := http.Server{
		Addr:    o.Addr,
		Handler: s.sm,
	}
	s.hs = &hs

	return s
}

func defaultOpts(opts *Options) *Options {
	o := &Options{
		Addr:   ":8321",
		Logger: slog.Default(),
	}

	if opts == nil {
		return o
	}
	if len(opts.Addr) > 0 {
		o.Addr = opts.Addr
	}
	if opts.Logger != nil {
		o.Logger = opts.Logger
	}

	return o
}

func init() {
	httpin_integ.UseGochiURLParam("path", chi.URLParam)
}

func (s *Server) registerV1() {
	enqueueTask(s.sm, s.runtime)
	dequeueTask(s.sm, s.runtime)
	ackTask(s.sm, s.runtime)
	failTask(s.sm, s.runtime)
	extendLease(s.sm, s.runtime)
	cancelTask(s.sm, s.runtime)
	getTask(s.sm, s.runtime)
	listTasks(s.sm, s.runtime)
	listDeadLetters(s.sm, s.runtime)
	stats(s.sm, s.runtime)

	s.sm.Handle("/metrics", promhttp.Handler())
}

// Handler exposes the routing table for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.sm
}

func (s *Server) Run() error {
	go func() {
		s.logger.
			With("addr", s.opts.Addr).
			Info("server is running")

		err := s.hs.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			s.logger.
				With("err", err).
				Error("failed to run server")
			return
		}
	}()

	return nil
}

func (s *Server) Close() error {
	s.logger.Info("server is closing")
	return s.hs.Close()
}
