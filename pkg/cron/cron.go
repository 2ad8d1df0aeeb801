// Package cron runs the retention jobs (summarize, index, curate, prune)
// on cron schedules and records every run in the state store.
package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"ctxkeep/pkg/logger"
	"ctxkeep/pkg/state"
)

// RunFunc performs one run of a job and returns details worth recording.
type RunFunc func(ctx context.Context) (map[string]any, error)

// Job is a named task with a standard five-field cron schedule.
type Job struct {
	Name     string
	Schedule string
	Run      RunFunc
}

// JobStatus is a job's schedule plus its last recorded run.
type JobStatus struct {
	Name     string        `json:"name"`
	Schedule string        `json:"schedule"`
	NextRun  time.Time     `json:"next_run,omitempty"`
	Running  bool          `json:"running"`
	LastRun  *state.JobRun `json:"last_run,omitempty"`
}

// Manager schedules jobs. A job never overlaps itself: a tick that
// arrives while the previous run is still going is skipped.
type Manager struct {
	log       *logger.Logger
	kv        state.KV
	timeout   time.Duration
	scheduler *cron.Cron

	mu      sync.Mutex
	jobs    map[string]Job
	entries map[string]cron.EntryID
	running map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a manager. kv may be nil to skip bookkeeping.
func New(log *logger.Logger, kv state.KV) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		log:       log,
		kv:        kv,
		timeout:   30 * time.Minute,
		scheduler: cron.New(cron.WithLogger(cronLogger{log: log})),
		jobs:      make(map[string]Job),
		entries:   make(map[string]cron.EntryID),
		running:   make(map[string]bool),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Add registers and schedules job.
func (m *Manager) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run function")
	}
	if _, err := cron.ParseStandard(job.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule for %s: %w", job.Name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entryID, exists := m.entries[job.Name]; exists {
		m.scheduler.Remove(entryID)
	}
	name := job.Name
	entryID, err := m.scheduler.AddFunc(job.Schedule, func() {
		if _, err := m.RunNow(m.ctx, name); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			m.log.Error("Scheduled job failed", zap.String("job", name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", job.Name, err)
	}
	m.jobs[job.Name] = job
	m.entries[job.Name] = entryID

	m.log.Info("Scheduled job", zap.String("job", job.Name), zap.String("schedule", job.Schedule))
	return nil
}

var (
	// ErrAlreadyRunning is returned by RunNow when the job is mid-run.
	ErrAlreadyRunning = errors.New("job is already running")
	// ErrUnknownJob is returned for names that were never added.
	ErrUnknownJob = errors.New("job not found")
)

// RunNow runs the named job immediately and records the outcome.
func (m *Manager) RunNow(ctx context.Context, name string) (map[string]any, error) {
	m.mu.Lock()
	job, exists := m.jobs[name]
	if !exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if m.running[name] {
		m.mu.Unlock()
		m.log.Warn("Skipping job run, previous run still active", zap.String("job", name))
		return nil, ErrAlreadyRunning
	}
	m.running[name] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.running, name)
		m.mu.Unlock()
	}()

	runCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.log.Info("Executing job", zap.String("job", name))
	start := time.Now()
	detail, err := job.Run(runCtx)
	finish := time.Now()

	if err != nil {
		m.log.Error("Job failed", zap.String("job", name), zap.Duration("duration", finish.Sub(start)), zap.Error(err))
	} else {
		m.log.Info("Job completed", zap.String("job", name), zap.Duration("duration", finish.Sub(start)))
	}

	if m.kv != nil {
		if _, recErr := state.RecordRun(ctx, m.kv, name, start, finish, detail, err); recErr != nil {
			m.log.Error("Recording job run failed", zap.String("job", name), zap.Error(recErr))
		}
	}
	return detail, err
}

// Start starts the scheduler.
func (m *Manager) Start() {
	m.log.Info("Starting job scheduler", zap.Int("jobs", len(m.jobs)))
	m.scheduler.Start()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (m *Manager) Stop() {
	m.log.Info("Stopping job scheduler")
	done := m.scheduler.Stop()
	<-done.Done()
	m.cancel()
	m.log.Info("Job scheduler stopped")
}

// Status lists jobs with their next scheduled time and last run.
func (m *Manager) Status(ctx context.Context) ([]JobStatus, error) {
	m.mu.Lock()
	out := make([]JobStatus, 0, len(m.jobs))
	for name, job := range m.jobs {
		st := JobStatus{Name: name, Schedule: job.Schedule, Running: m.running[name]}
		if entryID, ok := m.entries[name]; ok {
			entry := m.scheduler.Entry(entryID)
			st.NextRun = entry.Next
			if st.NextRun.IsZero() && entry.Schedule != nil {
				st.NextRun = entry.Schedule.Next(time.Now())
			}
		}
		out = append(out, st)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if m.kv == nil {
		return out, nil
	}
	for i := range out {
		rec, ok, err := state.LastRun(ctx, m.kv, out[i].Name)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i].LastRun = &rec
		}
	}
	return out, nil
}

// cronLogger routes robfig/cron's internal logging to zap.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
