package core

import (
	"log/slog"
	"time"

	"fieldtrack/internal/notify"
)

const defaultBatchWorkers = 4

type options struct {
	logger       *slog.Logger
	location     *time.Location
	now          func() time.Time
	notifier     notify.Notifier
	batchWorkers int
}

// Option configures the core services.
type Option func(*options)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLocation sets the time zone used to evaluate work-hour windows.
func WithLocation(location *time.Location) Option {
	return func(o *options) {
		if location != nil {
			o.location = location
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithNotifier sets the lifecycle notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithBatchWorkers sets the number of concurrent batch ingestion workers.
func WithBatchWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchWorkers = n
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{
		logger:       slog.Default(),
		location:     time.Local,
		now:          time.Now,
		notifier:     &notify.NoOpNotifier{},
		batchWorkers: defaultBatchWorkers,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) localNow() time.Time {
	return o.now().In(o.location)
}
