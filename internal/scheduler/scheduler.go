// Package scheduler runs one-shot deferred tasks. The source system
// fired its deferred stop-loss placements from bare timers with no way
// to cancel them; tasks here carry a handle so pending work can be
// cancelled, and Stop cancels everything on shutdown.
package scheduler

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// Task is the handle for one scheduled action.
type Task struct {
	ID   int64
	Name string

	mu        sync.Mutex
	timer     *time.Timer
	cancelled bool
	fired     bool
	release   func()
}

// Cancel stops the task if it has not fired yet. Returns true when the
// pending action was actually prevented.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	if t.cancelled || t.fired {
		t.mu.Unlock()
		return false
	}
	stopped := t.timer.Stop()
	if stopped {
		t.cancelled = true
	}
	t.mu.Unlock()

	if stopped {
		t.release()
	}
	return stopped
}

// Scheduler owns the pending task set.
type Scheduler struct {
	mu      sync.Mutex
	logger  *log.Logger
	tasks   map[int64]*Task
	nextID  int64
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
}

// New creates a scheduler.
func New(logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(os.Stderr, "scheduler: ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger,
		tasks:  make(map[int64]*Task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Schedule runs fn once after delay. The context passed to fn is
// cancelled when the scheduler stops. Returns nil if the scheduler has
// already been stopped.
func (s *Scheduler) Schedule(name string, delay time.Duration, fn func(ctx context.Context)) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.logger.Printf("dropping task %q: scheduler stopped", name)
		return nil
	}

	s.nextID++
	task := &Task{ID: s.nextID, Name: name}
	s.tasks[task.ID] = task
	s.wg.Add(1)

	var once sync.Once
	task.release = func() {
		once.Do(func() {
			s.remove(task.ID)
			s.wg.Done()
		})
	}

	task.timer = time.AfterFunc(delay, func() {
		defer task.release()

		task.mu.Lock()
		if task.cancelled {
			task.mu.Unlock()
			return
		}
		task.fired = true
		task.mu.Unlock()

		if s.ctx.Err() != nil {
			return
		}
		fn(s.ctx)
	})
	return task
}

// Pending returns the number of tasks not yet fired or cancelled.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop cancels all pending tasks and waits for running ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	s.cancel()
	for _, t := range tasks {
		t.Cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) remove(id int64) {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
}
