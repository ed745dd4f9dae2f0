package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type JobFunc func(ctx context.Context) error

type Scheduler struct {
	jobs   map[string]*job // job name -> job
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    logrus.FieldLogger
}

type job struct {
	name     string
	interval time.Duration
	run      JobFunc
	cancel   context.CancelFunc
	runs     int
	lastRun  time.Time
	lastErr  error
}

// NewScheduler initializes a new Scheduler instance
func NewScheduler(log logrus.FieldLogger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

// AddJob runs fn once immediately and then every interval. A job with the
// same name is replaced.
func (s *Scheduler) AddJob(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", name, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[name]; ok {
		existing.cancel()
	}

	jobCtx, jobCancel := context.WithCancel(s.ctx)
	j := &job{
		name:     name,
		interval: interval,
		run:      fn,
		cancel:   jobCancel,
	}
	s.jobs[name] = j

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(jobCtx, j)
		s.loop(jobCtx, j)
	}()

	s.log.WithFields(logrus.Fields{"job": name, "interval": interval.String()}).Info("job scheduled")
	return nil
}

// Stop cancels every job and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	s.log.Info("scheduler stopped")
}

type JobStatus struct {
	Name      string     `json:"name"`
	Interval  string     `json:"interval"`
	Runs      int        `json:"runs"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Status reports every job sorted by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := JobStatus{Name: j.name, Interval: j.interval.String(), Runs: j.runs}
		if j.runs > 0 {
			lastRun := j.lastRun
			st.LastRun = &lastRun
		}
		if j.lastErr != nil {
			st.LastError = j.lastErr.Error()
		}
		out = append(out, st)
	}

	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, j)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	err := j.run(ctx)

	s.mu.Lock()
	j.runs++
	j.lastRun = start
	j.lastErr = err
	s.mu.Unlock()

	entry := s.log.WithFields(logrus.Fields{"job": j.name, "duration": time.Since(start).String()})
	if err != nil {
		entry.WithError(err).Warn("job failed")
		return
	}
	entry.Debug("job finished")
}
