package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"schedq"
	"schedq/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	sq := schedq.NewSchedq(&schedq.Options{
		Addr:          cfg.Server.Address(),
		StorePath:     filepath.Join(cfg.Store.Path, "tasks.db"),
		LeaseDuration: cfg.Queue.LeaseDuration,
		SweepInterval: cfg.Queue.SweepInterval,
		MaxAttempts:   cfg.Queue.MaxAttempts,
		BackoffBase:   cfg.Queue.BackoffBase,
		BackoffMax:    cfg.Queue.BackoffMax,
		Workers:       cfg.Workers.Size,
		PollInterval:  cfg.Workers.PollInterval,
	})

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
	)
	defer stop()

	go func() {
		err := sq.Run()
		if err != nil {
			stop()
		}
	}()

	<-ctx.Done()

	sq.Close()

	os.Exit(0)
}
