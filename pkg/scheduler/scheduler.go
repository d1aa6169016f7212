package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrUnknownTask = errors.New("unknown task")
	ErrTaskRunning = errors.New("task already running")
	ErrStopped     = errors.New("scheduler stopped")
)

// Schedule computes the next run of a task
type Schedule interface {
	Next(after time.Time) time.Time
}

type every struct {
	interval time.Duration
}

// Every fires on multiples of interval, e.g. on the full hour for time.Hour
func Every(interval time.Duration) Schedule {
	return every{interval: interval}
}

func (e every) Next(after time.Time) time.Time {
	return after.Truncate(e.interval).Add(e.interval)
}

type dailyAt struct {
	hour, minute int
	loc          *time.Location
}

// DailyAt fires once a day at hour:minute wall clock time in loc
func DailyAt(hour, minute int, loc *time.Location) Schedule {
	if loc == nil {
		loc = time.UTC
	}
	return dailyAt{hour: hour, minute: minute, loc: loc}
}

func (d dailyAt) Next(after time.Time) time.Time {
	t := after.In(d.loc)
	next := time.Date(t.Year(), t.Month(), t.Day(), d.hour, d.minute, 0, 0, d.loc)
	if !next.After(t) {
		next = time.Date(t.Year(), t.Month(), t.Day()+1, d.hour, d.minute, 0, 0, d.loc)
	}
	return next
}

// TaskFunc is the body of a scheduled task. ctx is cancelled on Stop.
type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	schedule Schedule
	fn       TaskFunc
	running  atomic.Bool
}

// Scheduler runs named tasks on their schedules. A tick that arrives while
// the same task is still running is skipped.
type Scheduler struct {
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	tasks   map[string]*task
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	loops  sync.WaitGroup
	runs   sync.WaitGroup
}

// New creates a scheduler without tasks
func New(logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger,
		now:    time.Now,
		tasks:  make(map[string]*task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a task. Tasks must be added before Start.
func (s *Scheduler) Add(name string, schedule Schedule, fn TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("cannot add task %q to a started scheduler", name)
	}
	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("task %q already registered", name)
	}
	s.tasks[name] = &task{name: name, schedule: schedule, fn: fn}
	return nil
}

// Start begins the timer loop of every task
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return
	}
	s.started = true

	for _, t := range s.tasks {
		s.loops.Add(1)
		go s.run(t)
	}
	s.logger.Info("Scheduler started", zap.Int("tasks", len(s.tasks)))
}

// Stop halts all timers, cancels running tasks and waits for them to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.loops.Wait()
	s.runs.Wait()
	s.logger.Info("Scheduler stopped")
}

// RunNow starts a task immediately in the background. It fails with
// ErrTaskRunning when the task is already in progress.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.trigger(t)
}

// Running reports whether the named task is in progress
func (s *Scheduler) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[name]
	return ok && t.running.Load()
}

func (s *Scheduler) run(t *task) {
	defer s.loops.Done()

	for {
		now := s.now()
		next := t.schedule.Next(now)
		s.logger.Debug("Task scheduled", zap.String("task", t.name), zap.Time("next_run", next))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := s.trigger(t); errors.Is(err, ErrTaskRunning) {
				s.logger.Warn("Skipping tick, previous run still in progress", zap.String("task", t.name))
			}
		}
	}
}

func (s *Scheduler) trigger(t *task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if !t.running.CompareAndSwap(false, true) {
		return ErrTaskRunning
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer t.running.Store(false)

		start := time.Now()
		logger := s.logger.With(zap.String("task", t.name))
		logger.Info("Task started")

		if err := t.fn(s.ctx); err != nil {
			logger.Error("Task failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
			return
		}
		logger.Info("Task completed", zap.Duration("duration", time.Since(start)))
	}()
	return nil
}
