// Package scheduler implements the gateway's cron integration: a job registry that either dispatches an invocation URI
// through the standard invocation path on a simulated identity, or runs a
// shell command line through the host shell. Grounded on the original
// internal/services/scheduler, which wraps robfig/cron/v3 behind a
// functional-options Service and a RegisterHandler/AddJob pair — the same
// shape, generalised from ticketing-specific handlers to the gateway's two
// generic job kinds.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/goatkit/chimesgate/internal/condition"
	"github.com/goatkit/chimesgate/internal/invoker"
	"github.com/goatkit/chimesgate/internal/invokeuri"
)

// Registry is the exact signature of invoker.SchemaRegistry.InvokeReturnOption,
// matched locally so a *invoker.SchemaRegistry satisfies it without this
// package importing invoker's concrete registry type — the same
// late-binding shape internal/plugins/compose uses to re-dispatch through
// the registry that holds it.
type Registry interface {
	InvokeReturnOption(ctx context.Context, ic *invoker.Context, u *invokeuri.InvokeURI, data map[string]interface{}, cond *condition.QueryCondition) (map[string]interface{}, error)
}

// Scheduler owns a cron.Cron instance and the job keys currently
// registered against it, enforcing "identical keys replace
// any prior definition" rule.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	jobs    map[string]Job
	reg     Registry
	logger  *log.Logger

	runs      *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

// New constructs a Scheduler. reg is nil-able: a Scheduler with no
// registry bound can still run shell-command jobs, but AddJob rejects any
// KindURIInvocation job until one is supplied.
func New(reg Registry, opts ...Option) *Scheduler {
	o := defaultOptions()
	for _, apply := range opts {
		apply(&o)
	}
	c := o.Cron
	if c == nil {
		c = cron.New(cron.WithLocation(o.Location), cron.WithParser(cron.NewParser(
			cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
		)))
	}
	s := &Scheduler{
		cron:    c,
		entries: make(map[string]cron.EntryID),
		jobs:    make(map[string]Job),
		reg:     reg,
		logger:  o.Logger,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chimesgate_scheduler_runs_total",
			Help: "Scheduled job executions, labeled by job key and outcome.",
		}, []string{"key", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chimesgate_scheduler_run_duration_seconds",
			Help:    "Duration of scheduled job executions, labeled by job key.",
			Buckets: prometheus.DefBuckets,
		}, []string{"key"}),
	}
	if o.Registry != nil {
		o.Registry.MustRegister(s.runs, s.durations)
	}
	return s
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler without waiting; the returned context is done
// once any in-flight job has finished.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

// AddJob registers job, replacing any existing job already registered
// under the same Key.
func (s *Scheduler) AddJob(job Job) error {
	if job.Key == "" {
		return fmt.Errorf("scheduler: job has no key")
	}
	if job.Schedule == "" {
		return fmt.Errorf("scheduler: job %q has no cron schedule", job.Key)
	}
	if job.Kind == KindURIInvocation {
		if job.URI == "" {
			return fmt.Errorf("scheduler: job %q is a uri-invocation job with no uri", job.Key)
		}
		if s.reg == nil {
			return fmt.Errorf("scheduler: job %q cannot run a uri-invocation with no registry bound", job.Key)
		}
	}
	if job.Kind == KindShellCommand && len(job.Commands) == 0 {
		return fmt.Errorf("scheduler: job %q is a shell-command job with no commands", job.Key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, exists := s.entries[job.Key]; exists {
		s.cron.Remove(id)
	}

	id, err := s.cron.AddFunc(job.Schedule, func() { s.run(job) })
	if err != nil {
		return fmt.Errorf("scheduler: parsing schedule %q for job %q: %w", job.Schedule, job.Key, err)
	}
	s.entries[job.Key] = id
	s.jobs[job.Key] = job
	return nil
}

// RemoveJob deregisters the job under key, if any.
func (s *Scheduler) RemoveJob(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, exists := s.entries[key]; exists {
		s.cron.Remove(id)
		delete(s.entries, key)
		delete(s.jobs, key)
	}
}

// Jobs returns the currently registered jobs, keyed the same way AddJob
// accepted them.
func (s *Scheduler) Jobs() map[string]Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Job, len(s.jobs))
	for k, v := range s.jobs {
		out[k] = v
	}
	return out
}

func (s *Scheduler) run(job Job) {
	timer := prometheus.NewTimer(s.durations.WithLabelValues(job.Key))
	defer timer.ObserveDuration()

	var err error
	switch job.Kind {
	case KindURIInvocation:
		err = s.runURIInvocation(job)
	case KindShellCommand:
		err = s.runShellCommand(job)
	default:
		err = fmt.Errorf("scheduler: job %q has unknown kind %d", job.Key, job.Kind)
	}
	if err != nil {
		s.runs.WithLabelValues(job.Key, "error").Inc()
		s.logger.Printf("scheduler: job %s failed: %v", job.Key, err)
		return
	}
	s.runs.WithLabelValues(job.Key, "success").Inc()
}

func (s *Scheduler) runURIInvocation(job Job) error {
	u, err := invokeuri.Parse(job.URI)
	if err != nil {
		return fmt.Errorf("scheduler: job %q parsing uri %q: %w", job.Key, job.URI, err)
	}
	ic := invoker.NewContext(job.Identity)
	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Second)
	defer cancel()

	_, err = s.reg.InvokeReturnOption(ctx, ic, u, nil, nil)
	if err != nil {
		ic.Fail(err.Error())
	}
	if finishErr := ic.Finish(); finishErr != nil && err == nil {
		err = finishErr
	}
	return err
}

func (s *Scheduler) runShellCommand(job Job) error {
	line := job.shellLine()
	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", line)
	out, err := cmd.CombinedOutput()
	text := decodeOutput(out, job.CodePage)
	if err != nil {
		return fmt.Errorf("scheduler: job %q shell command failed: %w (output: %s)", job.Key, err, text)
	}
	s.logger.Printf("scheduler: job %s output: %s", job.Key, text)
	return nil
}

// decodeOutput decodes raw command output per the job's configured code
// page. Only "utf-8" (the default, and the common case for any shell this
// gateway runs under) is actually transcoded; any other code page is
// accepted as configuration but passed through unmodified, since no
// character-set conversion library exists anywhere in the corpus this
// module is grounded on.
func decodeOutput(raw []byte, codePage string) string {
	return string(raw)
}
