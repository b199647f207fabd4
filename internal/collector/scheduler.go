package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrLocked is returned when another process holds the collection lock.
var ErrLocked = errors.New("another collection is running")

// Scheduler runs full collections on a cron schedule. Overlapping runs in this
// process share one execution; runs in other processes (the CLI) are excluded
// through a lock file.
type Scheduler struct {
	collector *Collector
	opts      Options
	cron      *cron.Cron
	expr      string
	group     singleflight.Group
	lock      *flock.Flock
	logger    *logrus.Logger
}

// NewScheduler creates a scheduler. An empty expr disables the schedule but
// RunOnce still works.
func NewScheduler(c *Collector, expr, lockPath string, opts Options, logger *logrus.Logger) (*Scheduler, error) {
	s := &Scheduler{
		collector: c,
		opts:      opts,
		cron:      cron.New(),
		expr:      expr,
		lock:      flock.New(lockPath),
		logger:    logger,
	}
	if expr == "" {
		return s, nil
	}

	_, err := s.cron.AddFunc(expr, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.logger.WithError(err).Error("Scheduled collection failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid collection schedule %q: %w", expr, err)
	}
	return s, nil
}

// Start begins firing the schedule.
func (s *Scheduler) Start() {
	if s.expr == "" {
		return
	}
	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"schedule": s.expr,
		"next":     s.Next(time.Now()),
	}).Info("Collection scheduler started")
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Next returns when the schedule fires next after t, zero when disabled.
func (s *Scheduler) Next(t time.Time) time.Time {
	if s.expr == "" {
		return time.Time{}
	}
	sched, err := cron.ParseStandard(s.expr)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(t)
}

// RunOnce collects every directory now. Callers arriving while a run is in
// progress get that run's result.
func (s *Scheduler) RunOnce(ctx context.Context) (Stats, error) {
	v, err, shared := s.group.Do("collect", func() (any, error) {
		return s.runLocked(ctx)
	})
	if shared {
		s.logger.Debug("Joined collection already in progress")
	}
	stats, _ := v.(Stats)
	return stats, err
}

// RunDirectory collects a single root under the same lock as RunOnce.
func (s *Scheduler) RunDirectory(ctx context.Context, root string) (Stats, error) {
	v, err, _ := s.group.Do("collect:"+root, func() (any, error) {
		return WithLock(s.lock, func() (Stats, error) {
			return s.collector.CollectDirectory(ctx, root, s.opts)
		})
	})
	stats, _ := v.(Stats)
	return stats, err
}

func (s *Scheduler) runLocked(ctx context.Context) (Stats, error) {
	return WithLock(s.lock, func() (Stats, error) {
		start := time.Now()
		stats, err := s.collector.CollectAll(ctx, s.opts)
		s.logger.WithFields(logrus.Fields{
			"added":    stats.Added,
			"removed":  stats.Removed,
			"indexed":  stats.Indexed,
			"failed":   stats.Failed,
			"duration": time.Since(start).Round(time.Millisecond),
		}).Info("Collection finished")
		return stats, err
	})
}

// WithLock runs fn while holding the file lock, failing with ErrLocked when
// another process holds it.
func WithLock[T any](lock *flock.Flock, fn func() (T, error)) (T, error) {
	var zero T
	ok, err := lock.TryLock()
	if err != nil {
		return zero, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return zero, ErrLocked
	}
	defer lock.Unlock()
	return fn()
}
