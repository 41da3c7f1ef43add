// Package scheduler runs periodic maintenance jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorquota/internal/clock"
	"github.com/smallbiznis/creatorquota/internal/contentcache"
	obsmetrics "github.com/smallbiznis/creatorquota/internal/observability/metrics"
	"github.com/smallbiznis/creatorquota/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobPurgeCache = "purge_cache"

	lockKeyPrefix = "creatorquota:job:"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	GenID   *snowflake.Node
	Cache   *contentcache.Service
	Locker  *ratelimit.Locker      `optional:"true"`
	Metrics *obsmetrics.JobMetrics `optional:"true"`
	Config  Config                 `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	clock   clock.Clock
	genID   *snowflake.Node
	cache   *contentcache.Service
	locker  *ratelimit.Locker
	metrics *obsmetrics.JobMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.GenID == nil || p.Cache == nil {
		return nil, ErrInvalidConfig
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Jobs()
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		clock:   p.Clock,
		genID:   p.GenID,
		cache:   p.Cache,
		locker:  p.Locker,
		metrics: metrics,
	}, nil
}

type job struct {
	name string
	run  func(context.Context) error
}

func (s *Scheduler) jobs() []job {
	return []job{
		{JobPurgeCache, s.PurgeCacheJob},
	}
}

// RunOnce runs every enabled job once. Job errors are joined; a timed out job
// is not an error.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error
	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) {
			continue
		}
		err = errors.Join(err, s.runLeased(parent, j))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now()

	for {
		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runLeased takes the job lease when a locker is configured so that one
// instance runs each job per tick.
func (s *Scheduler) runLeased(ctx context.Context, j job) error {
	if s.locker == nil {
		return s.runJob(ctx, j.name, s.cfg.JobTimeout, j.run)
	}

	ran, err := s.locker.WithLock(ctx, lockKeyPrefix+j.name, s.cfg.LockTTL, func(ctx context.Context) error {
		return s.runJob(ctx, j.name, s.cfg.JobTimeout, j.run)
	})
	if err != nil {
		return err
	}
	if !ran {
		s.metrics.IncJobSkipped(j.name)
		s.log.Debug("job lease held elsewhere", zap.String("job", j.name))
	}
	return nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.newJobRun(ctx, name)
	s.logJobStart(ctx, run)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// PurgeCacheJob deletes content cache entries whose cached_until has passed.
func (s *Scheduler) PurgeCacheJob(ctx context.Context) error {
	removed, err := s.cache.Purge(ctx)
	if err != nil {
		return err
	}
	jobRunFromContext(ctx).AddProcessed(removed)
	s.metrics.AddItemsProcessed(JobPurgeCache, "cache_entries", removed)
	return nil
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
