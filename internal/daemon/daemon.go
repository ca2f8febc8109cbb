// Package daemon owns the collector's run/sleep/stop lifecycle: cycles run
// back-to-back or on a fixed interval, and cancellation is cooperative,
// interrupting only the wait between cycles.
package daemon

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// CycleRunner executes one full collection pass. It contains its own failure
// handling; the daemon only schedules it.
type CycleRunner interface {
	RunCycle(ctx context.Context)
}

// Daemon drives a CycleRunner. With a zero frequency it runs exactly one
// cycle; otherwise it loops until stopped.
type Daemon struct {
	runner    CycleRunner
	frequency time.Duration // 0 = one-shot

	// PreLoop and PostLoop run before the first cycle and after the last,
	// respectively. Either may be nil.
	PreLoop  func(ctx context.Context) error
	PostLoop func(ctx context.Context) error

	waitTick time.Duration
	mustRun  atomic.Bool
	log      *slog.Logger
}

// New creates a Daemon that runs one cycle per frequency interval, or a
// single cycle when frequency is zero.
func New(runner CycleRunner, frequency time.Duration) *Daemon {
	return &Daemon{
		runner:    runner,
		frequency: frequency,
		waitTick:  time.Second,
		log:       slog.Default().With("component", "daemon"),
	}
}

// Run executes the main loop until a one-shot run completes, Stop is
// called, or ctx is cancelled. Cancelling ctx only flips the run flag: the
// inter-cycle wait ends within one tick, but a cycle already in progress
// always finishes on its own terms.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("starting main loop", "frequency", d.frequency)
	d.mustRun.Store(true)

	// Signal-to-stop adapter: external cancellation only flips the flag.
	unregister := context.AfterFunc(ctx, d.Stop)
	defer unregister()

	if d.PreLoop != nil {
		if err := d.PreLoop(ctx); err != nil {
			return err
		}
	}

	// Cycles run on a context detached from the stop signal so that
	// in-flight per-contract work is never cut off mid-cycle.
	cycleCtx := context.WithoutCancel(ctx)

	for d.mustRun.Load() {
		d.log.Debug("running collection cycle")
		d.runner.RunCycle(cycleCtx)

		if d.frequency <= 0 {
			d.log.Info("no frequency configured, one-shot run")
			d.mustRun.Store(false)
			break
		}
		d.wait()
	}

	d.log.Info("main loop stopped")

	if d.PostLoop != nil {
		return d.PostLoop(ctx)
	}
	return nil
}

// wait sleeps for the configured frequency in small ticks, re-checking the
// run flag each tick so a stop request takes effect promptly.
func (d *Daemon) wait() {
	d.log.Debug("waiting before next cycle", "frequency", d.frequency)
	for elapsed := time.Duration(0); elapsed < d.frequency && d.mustRun.Load(); elapsed += d.waitTick {
		time.Sleep(d.waitTick)
	}
}

// Stop requests a cooperative stop. Safe to call from any goroutine,
// including a signal handler path, concurrently with Run.
func (d *Daemon) Stop() {
	d.mustRun.Store(false)
}

// Running reports whether the main loop is set to keep going.
func (d *Daemon) Running() bool {
	return d.mustRun.Load()
}
