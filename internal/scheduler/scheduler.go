// Package scheduler runs the periodic maintenance jobs: subscription
// refresh and task/event reconciliation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "lifecal/internal/log"
)

// specParser accepts standard 5-field specs and descriptors like @hourly.
var specParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Job is a named unit of periodic work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler wraps a cron runner. A job never overlaps with itself: a tick
// that fires while the previous run is still going is skipped.
type Scheduler struct {
	cron *cron.Cron

	mu   sync.Mutex
	jobs map[string]Job
	ctx  context.Context
}

func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithParser(specParser),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		jobs: make(map[string]Job),
		ctx:  context.Background(),
	}
}

// ValidateSpec reports whether spec parses.
func ValidateSpec(spec string) error {
	_, err := specParser.Parse(spec)
	return err
}

// Add registers job on spec.
func (s *Scheduler) Add(spec string, job Job) (cron.EntryID, error) {
	if job.Name == "" || job.Run == nil {
		return 0, errors.New("scheduler: job needs a name and a run func")
	}
	s.mu.Lock()
	if _, dup := s.jobs[job.Name]; dup {
		s.mu.Unlock()
		return 0, fmt.Errorf("scheduler: job %q already registered", job.Name)
	}
	s.jobs[job.Name] = job
	s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, func() { s.run(s.context(), job) })
	if err != nil {
		s.mu.Lock()
		delete(s.jobs, job.Name)
		s.mu.Unlock()
		return 0, fmt.Errorf("scheduler: job %q spec %q: %w", job.Name, spec, err)
	}
	appLog.Info("job scheduled", "job", job.Name, "spec", spec)
	return id, nil
}

// Start begins firing jobs. ctx is handed to every run; cancelling it
// does not stop the runner, Stop does.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	appLog.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop halts the runner and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	appLog.Info("scheduler stopped")
}

// RunNow runs the named job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	return s.run(ctx, job)
}

// Next returns the next fire time of every started job.
func (s *Scheduler) Next() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	started := time.Now()
	err := job.Run(ctx)
	if err != nil {
		appLog.Error("job failed", err, "job", job.Name, "elapsed", time.Since(started).String())
		return err
	}
	appLog.Info("job finished", "job", job.Name, "elapsed", time.Since(started).String())
	return nil
}

// cronLogger routes the runner's own messages into the app log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
