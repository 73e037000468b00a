// Package scheduler runs the periodic scan and heartbeat jobs in agent mode.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Task is a scheduled unit of work. ctx is cancelled on Shutdown.
type Task func(ctx context.Context)

type job struct {
	name     string
	interval time.Duration
	task     Task
	job      gocron.Job
}

// Scheduler wraps gocron with named duration jobs. Each job runs in
// singleton mode: a run that is still busy when the next one is due causes
// that run to be skipped rather than overlapped.
type Scheduler struct {
	sched  gocron.Scheduler
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*job
}

// New creates a stopped scheduler
func New(logger *zap.Logger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		sched:  sched,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*job),
	}, nil
}

func (s *Scheduler) run(name string, task Task) func() {
	return func() {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Scheduled task panicked", zap.String("job", name), zap.Any("panic", r))
			}
		}()
		task(s.ctx)
		s.logger.Debug("Scheduled task finished", zap.String("job", name), zap.Duration("duration", time.Since(start)))
	}
}

func (s *Scheduler) options(name string, immediate bool) []gocron.JobOption {
	opts := []gocron.JobOption{
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if immediate {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}
	return opts
}

// Add registers a job that runs every interval. When immediate is set the
// first run happens as soon as the scheduler starts.
func (s *Scheduler) Add(name string, interval time.Duration, immediate bool, task Task) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	j, err := s.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.run(name, task)),
		s.options(name, immediate)...,
	)
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}

	s.jobs[name] = &job{name: name, interval: interval, task: task, job: j}
	s.logger.Info("Scheduled job", zap.String("job", name), zap.Duration("interval", interval))
	return nil
}

// UpdateInterval changes a job's interval. Unchanged intervals are a no-op.
func (s *Scheduler) UpdateInterval(name string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("job %s is not registered", name)
	}
	if j.interval == interval {
		return nil
	}

	updated, err := s.sched.Update(
		j.job.ID(),
		gocron.DurationJob(interval),
		gocron.NewTask(s.run(name, j.task)),
		s.options(name, false)...,
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule %s: %w", name, err)
	}

	s.logger.Info("Rescheduled job",
		zap.String("job", name),
		zap.Duration("old_interval", j.interval),
		zap.Duration("new_interval", interval))
	j.job = updated
	j.interval = interval
	return nil
}

// Interval returns the current interval of a job
func (s *Scheduler) Interval(name string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[name]
	if !ok {
		return 0, false
	}
	return j.interval, true
}

// NextRun returns when a job runs next
func (s *Scheduler) NextRun(name string) (time.Time, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, fmt.Errorf("job %s is not registered", name)
	}
	return j.job.NextRun()
}

// Start begins running jobs
func (s *Scheduler) Start() {
	s.sched.Start()
	s.mu.Lock()
	n := len(s.jobs)
	s.mu.Unlock()
	s.logger.Info("Scheduler started", zap.Int("jobs", n))
}

// Shutdown cancels running tasks and waits for them to return
func (s *Scheduler) Shutdown() error {
	s.cancel()
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown: %w", err)
	}
	s.logger.Info("Scheduler stopped")
	return nil
}
