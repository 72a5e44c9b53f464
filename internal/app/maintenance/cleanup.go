package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/smallworld/internal/models"
	"github.com/charlesng35/smallworld/pkg/logger"
	"github.com/charlesng35/smallworld/pkg/metrics"
)

const (
	defaultNotificationRetentionDays = 90
	defaultTextBlastRetentionDays    = 30
	defaultRegistrationDays          = 30

	defaultNotificationSpec = "@daily"
	defaultTextBlastSpec    = "@daily"
	defaultRegistrationSpec = "@weekly"
	defaultRateCounterSpec  = "@hourly"

	jobNotifications = "notifications"
	jobTextBlasts    = "text_blasts"
	jobRegistrations = "registrations"
	jobRateCounters  = "rate_counters"
)

// OwnerResolver finds identities that a device's signals correlate with.
type OwnerResolver interface {
	ResolveOwnerCandidates(ctx context.Context, deviceID, fingerprint string) ([]models.Identity, error)
}

// ExpiredPruner removes expired rows from a shared store.
type ExpiredPruner interface {
	PruneExpired(ctx context.Context) (int64, error)
}

// JobStatus describes the most recent run of a cleanup job.
type JobStatus struct {
	Job       string    `json:"job"`
	LastRunAt time.Time `json:"last_run_at"`
	Removed   int64     `json:"removed"`
	LastError string    `json:"last_error,omitempty"`
	Failures  int       `json:"consecutive_failures"`
}

type cleanupJob struct {
	spec string
	name string
	run  func(context.Context) (int64, error)
}

// Cleaner coordinates background retention tasks: pruning delivered notifications,
// sent text blasts and push registrations nobody ever claimed.
type Cleaner struct {
	db       *gorm.DB
	resolver OwnerResolver
	counters ExpiredPruner
	cron     *cron.Cron
	now      func() time.Time
	log      *zap.Logger

	notificationRetention int
	textBlastRetention    int
	registrationRetention int

	notificationSchedule string
	textBlastSchedule    string
	registrationSchedule string

	mu       sync.Mutex
	statuses map[string]JobStatus
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

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithRetention adjusts how many days each kind of row is kept. Non-positive values keep the default.
func WithRetention(notificationDays, textBlastDays, registrationDays int) Option {
	return func(cleaner *Cleaner) {
		if notificationDays > 0 {
			cleaner.notificationRetention = notificationDays
		}
		if textBlastDays > 0 {
			cleaner.textBlastRetention = textBlastDays
		}
		if registrationDays > 0 {
			cleaner.registrationRetention = registrationDays
		}
	}
}

// WithSchedules overrides the cron specifications. Empty values keep the default.
func WithSchedules(notifications, textBlasts, registrations string) Option {
	return func(cleaner *Cleaner) {
		if notifications != "" {
			cleaner.notificationSchedule = notifications
		}
		if textBlasts != "" {
			cleaner.textBlastSchedule = textBlasts
		}
		if registrations != "" {
			cleaner.registrationSchedule = registrations
		}
	}
}

// WithRateCounters prunes expired rate limit counters every hour.
func WithRateCounters(pruner ExpiredPruner) Option {
	return func(cleaner *Cleaner) {
		cleaner.counters = pruner
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. A nil resolver disables
// registration pruning.
func NewCleaner(db *gorm.DB, resolver OwnerResolver, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:                    db,
		resolver:              resolver,
		now:                   time.Now,
		notificationRetention: defaultNotificationRetentionDays,
		textBlastRetention:    defaultTextBlastRetentionDays,
		registrationRetention: defaultRegistrationDays,
		notificationSchedule:  defaultNotificationSpec,
		textBlastSchedule:     defaultTextBlastSpec,
		registrationSchedule:  defaultRegistrationSpec,
		log:                   logger.WithModule("maintenance"),
		statuses:              make(map[string]JobStatus),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.db == nil {
		return nil
	}

	for _, job := range c.jobs() {
		job := job
		if _, err := c.cron.AddFunc(job.spec, func() {
			if err := c.runJob(context.Background(), job); err != nil {
				c.log.Warn("cleanup failed", zap.String("job", job.name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("schedule %s cleanup: %w", job.name, err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily used in tests
// and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.db == nil {
		return errors.New("maintenance: db is required")
	}

	var errs error
	for _, job := range c.jobs() {
		errs = multierr.Append(errs, c.runJob(ctx, job))
	}
	return errs
}

// Statuses reports the last run of every job that has run at least once, ordered by job name.
func (c *Cleaner) Statuses() []JobStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]JobStatus, 0, len(c.statuses))
	for _, status := range c.statuses {
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

func (c *Cleaner) jobs() []cleanupJob {
	jobs := []cleanupJob{
		{c.notificationSchedule, jobNotifications, c.PruneNotifications},
		{c.textBlastSchedule, jobTextBlasts, c.PruneTextBlasts},
	}
	if c.resolver != nil {
		jobs = append(jobs, cleanupJob{c.registrationSchedule, jobRegistrations, c.PruneUnattributedRegistrations})
	}
	if c.counters != nil {
		jobs = append(jobs, cleanupJob{defaultRateCounterSpec, jobRateCounters, c.pruneRateCounters})
	}
	return jobs
}

func (c *Cleaner) runJob(ctx context.Context, job cleanupJob) error {
	removed, err := job.run(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	status := c.statuses[job.name]
	status.Job = job.name
	status.LastRunAt = c.now().UTC()
	status.Removed = removed
	if err != nil {
		status.LastError = err.Error()
		status.Failures++
	} else {
		status.LastError = ""
		status.Failures = 0
	}
	c.statuses[job.name] = status
	return err
}

// PruneNotifications removes notifications delivered before the retention window.
// Undelivered rows are kept so pending pushes are never lost.
func (c *Cleaner) PruneNotifications(ctx context.Context) (int64, error) {
	cutoff := c.cutoff(c.notificationRetention)
	result := c.db.WithContext(ctx).
		Where("delivered_at IS NOT NULL AND delivered_at < ?", cutoff).
		Delete(&models.Notification{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup notifications: %w", result.Error)
	}
	c.record(jobNotifications, result.RowsAffected)
	return result.RowsAffected, nil
}

// PruneTextBlasts removes text blasts sent before the retention window.
func (c *Cleaner) PruneTextBlasts(ctx context.Context) (int64, error) {
	cutoff := c.cutoff(c.textBlastRetention)
	result := c.db.WithContext(ctx).
		Where("sent_at IS NOT NULL AND sent_at < ?", cutoff).
		Delete(&models.TextBlast{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup text blasts: %w", result.Error)
	}
	c.record(jobTextBlasts, result.RowsAffected)
	return result.RowsAffected, nil
}

// PruneUnattributedRegistrations removes registrations that stayed without an owner past the
// retention window and whose signals still correlate with nobody. Subscriptions left without
// any registration are removed with them.
func (c *Cleaner) PruneUnattributedRegistrations(ctx context.Context) (int64, error) {
	if c.resolver == nil {
		return 0, nil
	}

	cutoff := c.cutoff(c.registrationRetention)
	var stale []models.PushRegistration
	if err := c.db.WithContext(ctx).
		Where("owner_id = '' AND created_at < ?", cutoff).
		Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("cleanup registrations: load: %w", err)
	}

	var removed int64
	for _, reg := range stale {
		candidates, err := c.resolver.ResolveOwnerCandidates(ctx, reg.DeviceID, reg.DeviceFingerprint)
		if err != nil {
			return removed, fmt.Errorf("cleanup registrations: resolve: %w", err)
		}
		if len(candidates) > 0 {
			continue
		}

		err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Delete(&models.PushRegistration{}, "id = ?", reg.ID).Error; err != nil {
				return err
			}
			var remaining int64
			if err := tx.Model(&models.PushRegistration{}).
				Where("push_subscription_id = ?", reg.PushSubscriptionID).
				Count(&remaining).Error; err != nil {
				return err
			}
			if remaining == 0 {
				return tx.Delete(&models.PushSubscription{}, "id = ?", reg.PushSubscriptionID).Error
			}
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("cleanup registrations: delete: %w", err)
		}
		removed++
	}

	c.record(jobRegistrations, removed)
	return removed, nil
}

func (c *Cleaner) pruneRateCounters(ctx context.Context) (int64, error) {
	removed, err := c.counters.PruneExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleanup rate counters: %w", err)
	}
	c.record(jobRateCounters, removed)
	return removed, nil
}

func (c *Cleaner) cutoff(days int) time.Time {
	return c.now().UTC().AddDate(0, 0, -days)
}

func (c *Cleaner) record(job string, removed int64) {
	if removed <= 0 {
		return
	}
	metrics.MaintenancePruned.WithLabelValues(job).Add(float64(removed))
	c.log.Info("pruned rows", zap.String("job", job), zap.Int64("removed", removed))
}
