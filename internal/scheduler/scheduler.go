// Package scheduler owns the named interval timers that drive feed
// ingestion. Jobs run independently; a failing tick logs and waits for the
// next interval, which is the retry.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-monitor/internal/domain"
	"github.com/couchcryptid/quake-monitor/internal/observability"
)

// TickRunner executes one fetch+ingest cycle for a feed window. Implemented
// by ingest.Runner.
type TickRunner interface {
	Run(ctx context.Context, period, minMagnitude string) (domain.IngestionResult, error)
}

// JobConfig describes one job at construction time.
type JobConfig struct {
	ID           string
	Name         string
	Interval     time.Duration
	Period       string
	MinMagnitude string
	Enabled      bool
}

// JobDescriptor is the introspectable state of one job. NextRun is always
// LastRun + Interval once the job has fired, and start time + Interval
// before the first fire.
type JobDescriptor struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	NextRun  time.Time     `json:"next_run"`
	LastRun  *time.Time    `json:"last_run,omitempty"`
	Enabled  bool          `json:"enabled"`
}

type job struct {
	cfg  JobConfig
	desc JobDescriptor
}

// Scheduler runs the configured jobs on their intervals. Start and Stop are
// not safe for concurrent use with each other; Status is safe to call from
// anywhere at any time.
type Scheduler struct {
	clock       clockwork.Clock
	runner      TickRunner
	tickTimeout time.Duration
	logger      *slog.Logger
	metrics     *observability.Metrics

	mu      sync.Mutex
	jobs    []*job
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfgs []JobConfig, runner TickRunner, clock clockwork.Clock, tickTimeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	jobs := make([]*job, 0, len(cfgs))
	for _, cfg := range cfgs {
		jobs = append(jobs, &job{
			cfg: cfg,
			desc: JobDescriptor{
				ID:       cfg.ID,
				Name:     cfg.Name,
				Interval: cfg.Interval,
				Enabled:  cfg.Enabled,
			},
		})
	}
	return &Scheduler{
		clock:       clock,
		runner:      runner,
		tickTimeout: tickTimeout,
		logger:      logger,
		metrics:     metrics,
		jobs:        jobs,
	}
}

// Start begins firing every enabled job at its interval.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.metrics.SchedulerRunning.Set(1)

	now := s.clock.Now()
	for _, j := range s.jobs {
		if !j.cfg.Enabled {
			continue
		}
		j.desc.NextRun = now.Add(j.cfg.Interval)
		s.wg.Add(1)
		go s.runJob(ctx, j)
		s.logger.Info("job scheduled", "job", j.cfg.ID, "interval", j.cfg.Interval,
			"period", j.cfg.Period, "min_magnitude", j.cfg.MinMagnitude)
	}
	return nil
}

// Stop cancels the timers and waits for job goroutines to exit. A tick
// already past its timer fire completes its fetch+ingest rather than being
// aborted mid-batch; descriptor state stays intact for inspection.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.metrics.SchedulerRunning.Set(0)
	s.logger.Info("scheduler stopped")
}

// Status returns a read-only snapshot of every job descriptor.
func (s *Scheduler) Status() []JobDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobDescriptor, 0, len(s.jobs))
	for _, j := range s.jobs {
		d := j.desc
		if j.desc.LastRun != nil {
			lr := *j.desc.LastRun
			d.LastRun = &lr
		}
		out = append(out, d)
	}
	return out
}

func (s *Scheduler) runJob(ctx context.Context, j *job) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		firedAt := s.clock.Now()
		s.mu.Lock()
		j.desc.LastRun = &firedAt
		j.desc.NextRun = firedAt.Add(j.cfg.Interval)
		s.mu.Unlock()

		s.tick(j)
	}
}

// tick runs one fetch+ingest cycle under its own timeout, detached from the
// scheduler's cancellation so Stop never abandons a half-persisted batch.
func (s *Scheduler) tick(j *job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.tickTimeout)
	defer cancel()

	result, err := s.runner.Run(ctx, j.cfg.Period, j.cfg.MinMagnitude)
	if err != nil {
		// The job stays scheduled; the next interval is the retry.
		s.metrics.SchedulerTicks.WithLabelValues(j.cfg.ID, "error").Inc()
		s.logger.Error("job tick failed", "job", j.cfg.ID, "error", err)
		return
	}

	s.metrics.SchedulerTicks.WithLabelValues(j.cfg.ID, "success").Inc()
	s.logger.Info("job tick completed", "job", j.cfg.ID,
		"fetched", result.RecordsFetched,
		"new", result.RecordsNew,
		"duplicate", result.RecordsDuplicate,
		"errors", result.Errors,
	)
}
