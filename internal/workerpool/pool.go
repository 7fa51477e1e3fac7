// Package workerpool implements the bounded goroutine pool backing
// fire-and-forget event hooks and detached plugin work.
package workerpool

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Pool bounds concurrent goroutine usage with a channel semaphore, the same
// pattern the prior implementation's scheduler handlers use inline for email polling —
// generalised here into a reusable, metered primitive.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup

	started   atomic.Int64
	completed atomic.Int64
	errored   atomic.Int64

	tasksStarted   prometheus.Counter
	tasksCompleted prometheus.Counter
	tasksErrored   prometheus.Counter
	activeWorkers  prometheus.Gauge
}

// New creates a pool that runs at most capacity tasks concurrently. name
// labels the pool's metrics (e.g. "hooks", "plugins") so multiple pools
// can coexist under one prometheus registry without collisions.
func New(reg prometheus.Registerer, name string, capacity int) *Pool {
	if capacity <= 0 {
		capacity = 1
	}
	p := &Pool{
		sem: make(chan struct{}, capacity),
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "chimesgate_workerpool_tasks_started_total",
			Help:        "Tasks submitted to the worker pool.",
			ConstLabels: prometheus.Labels{"pool": name},
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "chimesgate_workerpool_tasks_completed_total",
			Help:        "Tasks that finished without error.",
			ConstLabels: prometheus.Labels{"pool": name},
		}),
		tasksErrored: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "chimesgate_workerpool_tasks_errored_total",
			Help:        "Tasks that returned an error.",
			ConstLabels: prometheus.Labels{"pool": name},
		}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "chimesgate_workerpool_active_workers",
			Help:        "Goroutines currently running a task.",
			ConstLabels: prometheus.Labels{"pool": name},
		}),
	}
	if reg != nil {
		reg.MustRegister(p.tasksStarted, p.tasksCompleted, p.tasksErrored, p.activeWorkers)
	}
	return p
}

// Submit runs fn and blocks until it completes, returning its error. Use
// for a hook or plugin call whose result the caller needs before
// continuing the invocation pipeline.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context) error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	var runErr error
	p.run(ctx, fn, func(err error) { runErr = err })
	return runErr
}

// SubmitDetached runs fn in its own goroutine without waiting for it to
// finish or reporting its result anywhere but the pool's metrics and logs.
// Use for event hooks. Returns immediately even if the pool is momentarily full,
// because the spawning goroutine itself blocks on the semaphore rather than
// the caller.
func (p *Pool) SubmitDetached(fn func(context.Context) error) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		p.run(context.Background(), fn, func(err error) {
			if err != nil {
				log.Printf("workerpool: detached task failed: %v", err)
			}
		})
	}()
}

// Go runs fn in its own goroutine and returns a channel carrying its
// error once it completes — the "awaited but non-blocking" submission kind
// used when a caller wants to start several tasks and gather their results
// later (e.g. a fan-out plugin call) without serialising them.
func (p *Pool) Go(ctx context.Context, fn func(context.Context) error) <-chan error {
	out := make(chan error, 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			out <- ctx.Err()
			close(out)
			return
		}
		defer func() { <-p.sem }()
		p.run(ctx, fn, func(err error) {
			out <- err
			close(out)
		})
	}()
	return out
}

func (p *Pool) run(ctx context.Context, fn func(context.Context) error, report func(error)) {
	p.started.Add(1)
	p.tasksStarted.Inc()
	p.activeWorkers.Inc()
	defer p.activeWorkers.Dec()

	err := fn(ctx)
	if err != nil {
		p.errored.Add(1)
		p.tasksErrored.Inc()
	} else {
		p.completed.Add(1)
		p.tasksCompleted.Inc()
	}
	report(err)
}

// Counters is a point-in-time snapshot of the pool's lifetime task counts.
type Counters struct {
	Started   int64
	Completed int64
	Errored   int64
}

// Stats returns the pool's current counters.
func (p *Pool) Stats() Counters {
	return Counters{
		Started:   p.started.Load(),
		Completed: p.completed.Load(),
		Errored:   p.errored.Load(),
	}
}

// Shutdown waits for every detached/Go task already in flight to finish.
// It does not stop accepting new submissions itself — callers should stop
// calling Submit/SubmitDetached/Go before invoking Shutdown.
func (p *Pool) Shutdown() {
	p.wg.Wait()
}
