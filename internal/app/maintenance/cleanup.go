package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/pinnotify/pkg/logger"
	"github.com/charlesng35/pinnotify/pkg/metrics"
)

const (
	defaultRetentionDays = 30
	defaultSchedule      = "0 3 * * *"
)

// NotificationPurger removes notifications created before a cutoff.
type NotificationPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CounterPurger removes expired counter entries from a persistent counter store.
type CounterPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Cleaner runs the retention sweep: old notifications are deleted and expired
// counter rows are dropped on a cron schedule.
type Cleaner struct {
	notifications NotificationPurger
	counters      CounterPurger
	cron          *cron.Cron
	now           func() time.Time
	log           *zap.Logger
	retention     int
	schedule      string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cutoff computation.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithRetentionDays adjusts how long notifications are kept. Zero or negative
// values disable the notification sweep.
func WithRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		cleaner.retention = days
	}
}

// WithSchedule overrides the cron expression of the sweep.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// WithCounterPurger enables removal of expired counter rows.
func WithCounterPurger(p CounterPurger) Option {
	return func(cleaner *Cleaner) {
		cleaner.counters = p
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. A nil purger disables
// the corresponding job.
func NewCleaner(notifications NotificationPurger, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		notifications: notifications,
		now:           time.Now,
		retention:     defaultRetentionDays,
		schedule:      defaultSchedule,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

func (c *Cleaner) enabled() bool {
	return (c.notifications != nil && c.retention > 0) || c.counters != nil
}

// Start registers the sweep with the cron scheduler and launches it when any job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled() {
		return nil
	}

	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("retention sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return c.cron.Stop()
}

// RunOnce executes the sweep immediately.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.notifications != nil && c.retention > 0 {
		cutoff := c.now().AddDate(0, 0, -c.retention)
		deleted, err := c.notifications.PurgeOlderThan(ctx, cutoff)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else if deleted > 0 {
			metrics.RetentionDeleted.Add(float64(deleted))
			c.log.Info("purged notifications", zap.Int64("deleted", deleted), zap.Time("cutoff", cutoff))
		}
	}

	if c.counters != nil {
		if _, err := c.counters.PurgeExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
