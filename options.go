package schedq

import "time"

type Options struct {
	Addr      string
	StorePath string

	LeaseDuration time.Duration
	SweepInterval time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffMax    time.Duration

	Workers      int
	PollInterval time.Duration
}

func DefaultOptions(opts *Options) *Options {
	o := &Options{
		Addr:          ":8321",
		StorePath:     "schedq/tasks.db",
		LeaseDuration: 30 * time.Second,
		SweepInterval: time.Second,
		MaxAttempts:   3,
		BackoffBase:   time.Second,
		BackoffMax:    5 * time.Minute,
		Workers:       4,
		PollInterval:  100 * time.Millisecond,
	}

	if opts == nil {
		return o
	}

	if len(opts.Addr) > 0 {
		o.Addr = opts.Addr
	}
	if len(opts.StorePath) > 0 {
		o.StorePath = opts.StorePath
	}
	if opts.LeaseDuration > 0 {
		o.LeaseDuration = opts.LeaseDuration
	}
	if opts.SweepInterval > 0 {
		o.SweepInterval = opts.SweepInterval
	}
	if opts.MaxAttempts > 0 {
		o.MaxAttempts = opts.MaxAttempts
	}
	if opts.BackoffBase > 0 {
		o.BackoffBase = opts.BackoffBase
	}
	if opts.BackoffMax > 0 {
		o.BackoffMax = opts.BackoffMax
	}
	if opts.Workers > 0 {
		o.Workers = opts.Workers
	}
	if opts.PollInterval > 0 {
		o.PollInterval = opts.PollInterval
	}

	return o
}
