// Package scheduler provides cron-based scheduling for automated mailbox
// rescans: a single cron.Cron plus per-job run-state bookkeeping keyed by
// job name.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RunFunc is the callback invoked when a scheduled job fires.
type RunFunc func(ctx context.Context) error

// JobStatus reports a scheduled job's run history.
type JobStatus struct {
	Name      string
	Running   bool
	LastRun   time.Time
	NextRun   time.Time
	Schedule  string
	LastError string
}

// Scheduler manages cron-based rescan scheduling.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu        sync.RWMutex
	entries   map[string]cron.EntryID
	schedules map[string]string
	running   map[string]bool
	lastRun   map[string]time.Time
	lastErr   map[string]error

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// New creates a Scheduler using the standard five-field cron grammar
// (minute hour dom month dow).
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		logger:    slog.Default(),
		entries:   make(map[string]cron.EntryID),
		schedules: make(map[string]string),
		running:   make(map[string]bool),
		lastRun:   make(map[string]time.Time),
		lastErr:   make(map[string]error),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// WithLogger sets the logger used for job lifecycle messages.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// AddJob schedules fn to run on cronExpr under name, replacing any existing
// job registered under the same name.
func (s *Scheduler) AddJob(name, cronExpr string, fn RunFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.entries[name]; exists {
		s.cron.Remove(entryID)
		delete(s.entries, name)
		delete(s.schedules, name)
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		s.mu.Lock()
		if s.stopped || s.running[name] {
			s.mu.Unlock()
			return
		}
		s.running[name] = true
		s.wg.Add(1)
		s.mu.Unlock()
		s.runJob(name, fn)
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid cron expression %q: %w", cronExpr, err)
	}

	s.entries[name] = entryID
	s.schedules[name] = cronExpr
	s.logger.Info("scheduled job", "name", name, "schedule", cronExpr, "next_run", s.cron.Entry(entryID).Next)
	return nil
}

// RemoveJob cancels the job registered under name, if any.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, exists := s.entries[name]; exists {
		s.cron.Remove(entryID)
		delete(s.entries, name)
		delete(s.schedules, name)
		s.logger.Info("removed scheduled job", "name", name)
	}
}

// Start begins executing scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.entries))
}

// IsRunning reports whether Start has been called and Stop has not.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop halts the cron loop, cancels in-flight job contexts, and returns a
// context that completes once every job goroutine has returned.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-done
		cancel()
	}()
	return ctx
}

func (s *Scheduler) runJob(name string, fn RunFunc) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running[name] = false
		s.mu.Unlock()
	}()

	s.logger.Info("starting scheduled job", "name", name)
	start := time.Now()
	err := fn(s.ctx)

	s.mu.Lock()
	if err != nil {
		s.lastErr[name] = err
		s.logger.Error("scheduled job failed", "name", name, "duration", time.Since(start), "error", err)
	} else {
		s.lastRun[name] = time.Now()
		s.lastErr[name] = nil
		s.logger.Info("scheduled job completed", "name", name, "duration", time.Since(start))
	}
	s.mu.Unlock()
}

// TriggerNow runs the named job immediately, outside its schedule.
func (s *Scheduler) TriggerNow(name string, fn RunFunc) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: stopped")
	}
	if s.running[name] {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: job %q already running", name)
	}
	s.running[name] = true
	s.wg.Add(1)
	s.mu.Unlock()
	go s.runJob(name, fn)
	return nil
}

// Status reports every scheduled job's current run state.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]JobStatus, 0, len(s.entries))
	for name, entryID := range s.entries {
		entry := s.cron.Entry(entryID)
		st := JobStatus{
			Name:     name,
			Running:  s.running[name],
			LastRun:  s.lastRun[name],
			NextRun:  entry.Next,
			Schedule: s.schedules[name],
		}
		if err := s.lastErr[name]; err != nil {
			st.LastError = err.Error()
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(expr)
	if err != nil {
		return fmt.Errorf("scheduler: invalid cron expression: %w", err)
	}
	return nil
}
