// Package scheduler runs named recurring jobs on robfig/cron. A firing that
// finds the previous run of the same job still in progress is skipped.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job represents a scheduled task.
type Job func(ctx context.Context) error

// Scheduler manages periodic tasks.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]cron.EntryID
	ctx  context.Context
}

func New() *Scheduler {
	logger := slog.Default().With("component", "scheduler")
	cl := cronLogger{inner: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		jobs:   make(map[string]cron.EntryID),
		ctx:    context.Background(),
	}
}

// Every schedules job to run every interval (whole seconds, minimum one).
// Replaces any job already registered under name.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) error {
	if interval < time.Second {
		return fmt.Errorf("scheduling %s: interval %v is below one second", name, interval)
	}
	return s.Add(name, cron.Every(interval), job)
}

// Add schedules job on an arbitrary cron schedule.
func (s *Scheduler) Add(name string, schedule cron.Schedule, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
	}

	id := s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		start := time.Now()
		if err := job(ctx); err != nil {
			s.logger.Warn("job failed", "job", name, "error", err, "duration", time.Since(start))
			return
		}
		s.logger.Debug("job completed", "job", name, "duration", time.Since(start))
	}))

	s.jobs[name] = id
	s.logger.Debug("job added", "job", name)
	return nil
}

// Remove unschedules a job. A run already in progress is not interrupted.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
		s.logger.Debug("job removed", "job", name)
	}
}

// RunNow runs name once, synchronously, through the same chain as its
// scheduled firings. It is skipped if a run is already in progress.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	e := s.cron.Entry(id)
	if e.WrappedJob == nil {
		return fmt.Errorf("job %s not found", name)
	}
	e.WrappedJob.Run()
	return nil
}

// Start begins running scheduled jobs. Jobs receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.logger.Info("starting scheduler")
	s.cron.Start()
}

// Stop halts future firings. The returned context is done once running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("stopping scheduler")
	return s.cron.Stop()
}

// JobInfo contains information about a scheduled job.
type JobInfo struct {
	Name    string    `json:"name"`
	NextRun time.Time `json:"next_run"`
	LastRun time.Time `json:"last_run"`
}

// ListJobs returns info about scheduled jobs, sorted by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	byID := make(map[cron.EntryID]string, len(s.jobs))
	for name, id := range s.jobs {
		byID[id] = name
	}
	s.mu.Unlock()

	var infos []JobInfo
	for _, e := range s.cron.Entries() {
		name, ok := byID[e.ID]
		if !ok {
			continue
		}
		infos = append(infos, JobInfo{Name: name, NextRun: e.Next, LastRun: e.Prev})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Next returns the next scheduled run of name.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	for _, j := range s.ListJobs() {
		if j.Name == name {
			return j.NextRun, true
		}
	}
	return time.Time{}, false
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	inner *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.inner.Error(msg, append(keysAndValues, "error", err)...)
}
