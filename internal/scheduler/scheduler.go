package scheduler

import (
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Scheduler runs named recurring and one-shot jobs on a Clock.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Job callbacks run on the clock's goroutine, never under the scheduler lock.
type Scheduler struct {
	clock  Clock
	logger Logger

	mu      sync.Mutex
	jobs    map[*Job]struct{}
	stopped bool
}

// Job is a scheduled callback. Cancel it to stop further runs.
type Job struct {
	Name      string
	Interval  time.Duration
	Recurring bool

	s     *Scheduler
	fn    func()
	timer Timer
	done  bool
}

// New creates a Scheduler. A nil clock means RealClock, a nil logger discards output.
func New(clock Clock, logger Logger) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Scheduler{
		clock:  clock,
		logger: logger,
		jobs:   make(map[*Job]struct{}),
	}
}

// Clock returns the clock jobs are scheduled on.
func (s *Scheduler) Clock() Clock {
	return s.clock
}

// AddJob schedules fn from a human time description.
//
// Parameters:
//   - spec: "every 5 minutes" (recurring) or "30 seconds" (once); see ParseSpec
//   - name: Label used in logs
//   - fn: Callback; panics are recovered and logged
//
// Returns:
//   - *Job: Handle for cancellation
//   - error: ErrInvalidSpec or ErrStopped
func (s *Scheduler) AddJob(spec, name string, fn func()) (*Job, error) {
	parsed, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	return s.add(name, parsed.Interval, parsed.Recurring, fn)
}

// Every schedules fn to run every interval, first after one interval.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) (*Job, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: interval %v", ErrInvalidSpec, interval)
	}
	return s.add(name, interval, true, fn)
}

// After schedules fn to run once after delay.
func (s *Scheduler) After(name string, delay time.Duration, fn func()) (*Job, error) {
	if delay < 0 {
		delay = 0
	}
	return s.add(name, delay, false, fn)
}

func (s *Scheduler) add(name string, interval time.Duration, recurring bool, fn func()) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, ErrStopped
	}

	j := &Job{Name: name, Interval: interval, Recurring: recurring, s: s, fn: fn}
	s.jobs[j] = struct{}{}
	s.arm(j)
	s.logger.Debug("job scheduled", "job", name, "interval", interval, "recurring", recurring)
	return j, nil
}

// arm starts the job's next timer. Caller holds s.mu.
func (s *Scheduler) arm(j *Job) {
	j.timer = s.clock.AfterFunc(j.Interval, func() { s.fire(j) })
}

func (s *Scheduler) fire(j *Job) {
	s.mu.Lock()
	if j.done {
		s.mu.Unlock()
		return
	}
	if j.Recurring {
		s.arm(j)
	} else {
		j.done = true
		delete(s.jobs, j)
	}
	s.mu.Unlock()

	s.run(j)
}

func (s *Scheduler) run(j *Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "job", j.Name, "panic", r)
		}
	}()
	j.fn()
}

// Cancel stops the job. Reports false if it already finished or was cancelled.
func (j *Job) Cancel() bool {
	s := j.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.done {
		return false
	}
	j.done = true
	delete(s.jobs, j)
	if j.timer != nil {
		j.timer.Stop()
	}
	return true
}

// Len returns the number of active jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Stop cancels every job and rejects new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for j := range s.jobs {
		j.done = true
		if j.timer != nil {
			j.timer.Stop()
		}
	}
	s.jobs = make(map[*Job]struct{})
}
