// Package scheduler runs the periodic sweeps: alert evaluation, delivery
// retries, escalation, digest flush, counter reset and history cleanup.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/MochamaB/FormReporting-sub006/internal/errors"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/observability/metrics"
)

// defaultTimeout bounds one run of a task without its own timeout.
const defaultTimeout = 5 * time.Minute

// Task is one periodic job. Run is never called concurrently with itself.
type Task struct {
	Name     string
	Interval time.Duration
	// Timeout bounds a single run; zero means defaultTimeout.
	Timeout time.Duration
	// RunOnStart runs the task immediately instead of after the first interval.
	RunOnStart bool
	Run        func(ctx context.Context) error
}

// Scheduler runs each task on its own ticker. A failing or panicking task
// never affects the others.
type Scheduler struct {
	tasks   []Task
	metrics *metrics.Metrics
	log     logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates an empty scheduler.
func New(m *metrics.Metrics, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Discard()
	}
	return &Scheduler{metrics: m, log: log.With(logger.String("component", "scheduler"))}
}

// Add registers a task. It must be called before Start.
func (s *Scheduler) Add(task Task) error {
	if task.Name == "" || task.Run == nil {
		return errors.Newf("scheduler task needs a name and a run func").
			Component("scheduler").
			Category(errors.CategoryValidation).
			Build()
	}
	if task.Interval <= 0 {
		return errors.Newf("scheduler task %q needs a positive interval", task.Name).
			Component("scheduler").
			Category(errors.CategoryValidation).
			Context("task", task.Name).
			Build()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.Newf("scheduler already started").
			Component("scheduler").
			Category(errors.CategoryStateTransition).
			Context("task", task.Name).
			Build()
	}
	for _, t := range s.tasks {
		if t.Name == task.Name {
			return errors.Newf("scheduler task %q registered twice", task.Name).
				Component("scheduler").
				Category(errors.CategoryConflict).
				Build()
		}
	}
	s.tasks = append(s.tasks, task)
	return nil
}

// Tasks returns the registered task names in registration order.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for _, t := range s.tasks {
		names = append(names, t.Name)
	}
	return names
}

// Start launches one goroutine per task. The tasks stop when ctx is done
// or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)

	for _, task := range s.tasks {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, task)
		}()
	}
	s.log.Info("scheduler started", logger.Int("tasks", len(s.tasks)))
}

// Stop cancels every task and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	if task.RunOnStart {
		s.runSafely(ctx, task)
	}
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSafely(ctx, task)
		}
	}
}

// RunOnce runs the named task synchronously, outside its schedule.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.Lock()
	var found *Task
	for i := range s.tasks {
		if s.tasks[i].Name == name {
			found = &s.tasks[i]
			break
		}
	}
	s.mu.Unlock()
	if found == nil {
		return errors.Newf("unknown scheduler task %q", name).
			Component("scheduler").
			Category(errors.CategoryNotFound).
			Build()
	}
	return s.run(ctx, *found)
}

func (s *Scheduler) runSafely(ctx context.Context, task Task) {
	if err := s.run(ctx, task); err != nil && ctx.Err() == nil {
		s.log.Error("scheduled task failed", logger.String("task", task.Name), logger.Error(err))
	}
}

// run executes task once with its timeout, converting a panic into an error.
func (s *Scheduler) run(ctx context.Context, task Task) (err error) {
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled task panicked",
				logger.String("task", task.Name),
				logger.String("panic", fmt.Sprint(r)),
				logger.String("stack", string(debug.Stack())))
			err = errors.Newf("task %s panicked: %v", task.Name, r).
				Component("scheduler").
				Category(errors.CategorySystem).
				Context("task", task.Name).
				Build()
		}
		s.metrics.Sweep(task.Name, time.Since(start))
	}()
	return task.Run(runCtx)
}
