// Package scheduler runs recurring jobs on cron schedules. Every firing is
// offered to the registered TriggerListeners first; a vetoed firing is
// skipped and the job runs again at its next scheduled time. Accepted
// firings run inside a unit of work on behalf of the system principal.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ghuser/entitlements/pkg/auth"
	"github.com/ghuser/entitlements/pkg/logger"
)

// ErrJobNotFound is returned for operations on an unknown job name.
var ErrJobNotFound = errors.New("job not found")

// Job is a named unit of scheduled work.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// TriggerListener is consulted before every firing.
type TriggerListener interface {
	// VetoJobExecution returns true to skip this firing of job.
	VetoJobExecution(ctx context.Context, job string) bool
}

// UnitOfWork wraps one job execution. fn's error decides commit or rollback.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// JobStatus is a snapshot of a job's schedule and run counters.
type JobStatus struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Runs     int       `json:"runs"`
	Vetoed   int       `json:"vetoed"`
	Failed   int       `json:"failed"`
	LastRun  time.Time `json:"lastRun,omitempty"`
	LastErr  string    `json:"lastError,omitempty"`
	NextRun  time.Time `json:"nextRun,omitempty"`
}

type managedJob struct {
	Job
	entryID cron.EntryID
	runs    int
	vetoed  int
	failed  int
	lastRun time.Time
	lastErr string
}

// Scheduler wraps a robfig/cron runner.
type Scheduler struct {
	cron *cron.Cron
	uow  UnitOfWork
	log  logger.Logger

	mu        sync.RWMutex
	jobs      map[string]*managedJob
	listeners []TriggerListener
	baseCtx   context.Context
	started   bool
}

// New returns a stopped Scheduler. Overlapping firings of the same job are
// skipped and job panics are recovered and logged.
func New(uow UnitOfWork, log logger.Logger) *Scheduler {
	cl := &cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		uow:     uow,
		log:     log,
		jobs:    make(map[string]*managedJob),
		baseCtx: context.Background(),
	}
}

// AddTriggerListener appends l to the veto chain.
func (s *Scheduler) AddTriggerListener(l TriggerListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Add registers job. Names must be unique and schedules valid cron specs
// (descriptors such as "@every 1m" are accepted).
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("scheduler: job name and run func are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("scheduler: job %q already exists", job.Name)
	}

	name := job.Name
	id, err := s.cron.AddFunc(job.Schedule, func() {
		s.mu.RLock()
		ctx := s.baseCtx
		s.mu.RUnlock()
		_ = s.fire(ctx, name)
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for %s: %w", job.Schedule, job.Name, err)
	}
	s.jobs[job.Name] = &managedJob{Job: job, entryID: id}
	return nil
}

// Trigger fires job name immediately through the same veto and unit of
// work path as a scheduled firing. Returns the job's error; a vetoed
// firing returns nil.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	return s.fire(ctx, name)
}

// List returns every job sorted by name.
func (s *Scheduler) List() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, mj := range s.jobs {
		st := JobStatus{
			Name:     mj.Name,
			Schedule: mj.Schedule,
			Runs:     mj.runs,
			Vetoed:   mj.vetoed,
			Failed:   mj.failed,
			LastRun:  mj.lastRun,
			LastErr:  mj.lastErr,
		}
		if entry := s.cron.Entry(mj.entryID); !entry.Next.IsZero() {
			st.NextRun = entry.Next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Start begins firing jobs. ctx is the parent of every job context.
// Non-blocking.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.baseCtx = ctx
	s.cron.Start()
	s.started = true
	s.log.Info("scheduler: started", "jobs", len(s.jobs))
}

// Stop stops firing and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		s.log.Info("scheduler: stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler: stop timed out with jobs still running")
	}
}

func (s *Scheduler) fire(ctx context.Context, name string) error {
	s.mu.RLock()
	mj, ok := s.jobs[name]
	listeners := s.listeners
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("scheduler: %w: %s", ErrJobNotFound, name)
	}

	ctx = auth.WithPrincipal(ctx, auth.SystemPrincipal)

	for _, l := range listeners {
		if l.VetoJobExecution(ctx, name) {
			s.log.InfoContext(ctx, "scheduler: job execution vetoed", "job", name)
			s.mu.Lock()
			mj.vetoed++
			s.mu.Unlock()
			return nil
		}
	}

	ctx, span := otel.Tracer("scheduler").Start(ctx, "job "+name)
	span.SetAttributes(attribute.String("job.name", name))
	defer span.End()

	started := time.Now()
	err := s.uow.Do(ctx, mj.Run)
	elapsed := time.Since(started)

	s.mu.Lock()
	mj.runs++
	mj.lastRun = started
	mj.lastErr = ""
	if err != nil {
		mj.failed++
		mj.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.ErrorContext(ctx, "scheduler: job failed", "job", name, "duration", elapsed.String(), "error", err)
		return err
	}
	s.log.InfoContext(ctx, "scheduler: job completed", "job", name, "duration", elapsed.String())
	return nil
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
