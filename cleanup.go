package access

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CleanupReport summarizes one cleanup run.
type CleanupReport struct {
	Evicted   int           `json:"evicted"`
	Sample    []string      `json:"sample,omitempty"`
	Purged    int           `json:"purged_sessions"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Skipped   bool          `json:"skipped"`
}

// Evictor is the part of AccountManager the cleaner depends on.
type Evictor interface {
	EvictStale(ctx context.Context, olderThan time.Duration, excludeAdmins bool) (EvictionReport, error)
}

// SessionPurger removes expired sessions.
type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Cleaner runs the stale account sweep. Overlapping runs are skipped.
type Cleaner struct {
	evictor   Evictor
	purger    SessionPurger
	staleness time.Duration
	running   sync.Mutex
	now       func() time.Time
	activity  ActivitySink
	logger    Logger
}

// CleanerOption customizes cleaner construction.
type CleanerOption func(*Cleaner)

// WithCleanerClock injects a custom clock (useful for tests).
func WithCleanerClock(clock func() time.Time) CleanerOption {
	return func(c *Cleaner) {
		if clock != nil {
			c.now = clock
		}
	}
}

// WithCleanerStaleness overrides the staleness window.
func WithCleanerStaleness(d time.Duration) CleanerOption {
	return func(c *Cleaner) {
		if d > 0 {
			c.staleness = d
		}
	}
}

// WithCleanerSessionPurger also purges expired sessions on every run.
func WithCleanerSessionPurger(p SessionPurger) CleanerOption {
	return func(c *Cleaner) {
		c.purger = p
	}
}

// WithCleanerActivitySink sets the sink used to publish run summaries.
func WithCleanerActivitySink(sink ActivitySink) CleanerOption {
	return func(c *Cleaner) {
		c.activity = normalizeActivitySink(sink)
	}
}

// WithCleanerLogger overrides the cleaner logger.
func WithCleanerLogger(logger Logger) CleanerOption {
	return func(c *Cleaner) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCleaner creates a cleaner using the configured staleness window.
func NewCleaner(cfg Config, evictor Evictor, opts ...CleanerOption) *Cleaner {
	c := &Cleaner{
		evictor:   evictor,
		staleness: cfg.GetStalenessWindow(),
		now:       time.Now,
		activity:  noopActivitySink{},
		logger:    defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Staleness is the configured eviction window.
func (c *Cleaner) Staleness() time.Duration {
	return c.staleness
}

// RunOnce evicts stale unverified principals, never touching admins. Store
// failures are logged and reported as zero evictions with a recoverable
// error. A call made while another run is in flight returns Skipped.
func (c *Cleaner) RunOnce(ctx context.Context) (CleanupReport, error) {
	return c.run(ctx, c.staleness, true)
}

// RunWith is RunOnce with an explicit window and admin policy, used by
// operators running the sweep by hand.
func (c *Cleaner) RunWith(ctx context.Context, staleness time.Duration, excludeAdmins bool) (CleanupReport, error) {
	if staleness <= 0 {
		staleness = c.staleness
	}
	return c.run(ctx, staleness, excludeAdmins)
}

func (c *Cleaner) run(ctx context.Context, staleness time.Duration, excludeAdmins bool) (report CleanupReport, err error) {
	report.StartedAt = c.now().UTC()

	if !c.running.TryLock() {
		report.Skipped = true
		c.logger.Info("cleanup already running, skipping")
		return report, nil
	}
	defer c.running.Unlock()

	defer func() {
		if r := recover(); r != nil {
			report.Evicted = 0
			report.Sample = nil
			err = StoreError("cleanup", fmt.Errorf("panic: %v", r))
			c.logger.Error("cleanup panicked", "panic", r)
		}
	}()

	eviction, err := c.evictor.EvictStale(ctx, staleness, excludeAdmins)
	report.Duration = c.now().Sub(report.StartedAt)
	if err != nil {
		c.logger.Error("cleanup failed",
			"error", err,
			"evicted_before_failure", eviction.Evicted,
			"cutoff", eviction.Cutoff,
		)
		if ctx.Err() != nil {
			report.Evicted = eviction.Evicted
			report.Sample = eviction.Sample
			return report, err
		}
		return CleanupReport{StartedAt: report.StartedAt, Duration: report.Duration}, StoreError("cleanup", err)
	}

	report.Evicted = eviction.Evicted
	report.Sample = eviction.Sample

	if c.purger != nil {
		purged, err := c.purger.PurgeExpired(ctx)
		if err != nil {
			c.logger.Warn("session purge failed", "error", err)
		}
		report.Purged = purged
	}

	if report.Evicted > 0 {
		c.logger.Info("cleanup evicted unverified principals",
			"evicted", report.Evicted,
			"sample", report.Sample,
			"cutoff", eviction.Cutoff,
		)
	} else {
		c.logger.Debug("cleanup found nothing to evict", "cutoff", eviction.Cutoff)
	}

	if err := normalizeActivitySink(c.activity).Record(ctx, ActivityEvent{
		EventType:  ActivityEventCleanupCompleted,
		Actor:      SystemActor,
		Metadata:   map[string]any{"evicted": report.Evicted, "sample": report.Sample, "purged_sessions": report.Purged},
		OccurredAt: c.now().UTC(),
	}); err != nil {
		c.logger.Warn("cleanup activity sink error", "error", err)
	}

	return report, nil
}

// Start runs the sweep immediately and then every interval until ctx is
// done. It blocks, so callers usually run it in a goroutine.
func (c *Cleaner) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	c.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Cleaner) tick(ctx context.Context) {
	if _, err := c.RunOnce(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn("scheduled cleanup failed, will retry next tick", "error", err)
	}
}
