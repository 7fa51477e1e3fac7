package scheduler

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
)

type options struct {
	Logger   *log.Logger
	Cron     *cron.Cron
	Location *time.Location
	Registry prometheus.Registerer
}

// Option applies configuration to the scheduler, mirroring this package's
// own functional-option scheduler construction (WithLogger/WithCron/
// WithLocation) rather than a config struct.
type Option func(*options)

func defaultOptions() options {
	return options{Logger: log.Default(), Location: time.UTC}
}

// WithLogger injects a custom logger implementation.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.Logger = l }
}

// WithCron supplies a preconfigured cron.Cron instance instead of letting
// New construct one from Location.
func WithCron(c *cron.Cron) Option {
	return func(o *options) { o.Cron = c }
}

// WithLocation sets the scheduler's timezone, used when New constructs its
// own cron.Cron (ignored when WithCron supplies one already).
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.Location = loc }
}

// WithMetricsRegistry registers the scheduler's prometheus counters
// against reg instead of leaving them unregistered.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(o *options) { o.Registry = reg }
}
