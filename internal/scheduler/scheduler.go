// Package scheduler runs background work on two queues: an immediate
// FIFO drained by a worker pool, and a wall-clock queue driven by cron
// expressions. Tasks are fire-and-forget; nothing survives a restart.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// DefaultWorkers is the immediate-queue pool size.
const DefaultWorkers = 10

// Task is one unit of background work. Run must be idempotent: the
// scheduler may be stopped and the task re-enqueued on the next boot.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Scheduler owns both queues.
type Scheduler struct {
	workers int
	queue   chan Task
	cron    *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// New builds a stopped Scheduler. workers <= 0 selects DefaultWorkers.
func New(workers int) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		workers: workers,
		queue:   make(chan Task, 256),
		// One cron runner; overlapping fires of the same job are skipped
		// so successive runs never race each other.
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker pool and the cron runner.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.cron.Start()
}

// Stop drains nothing: queued tasks not yet picked up are dropped, and
// running tasks observe the cancelled context.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cron.Stop()
	s.cancel()
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for task := range s.queue {
		s.runTask(task)
	}
}

func (s *Scheduler) runTask(task Task) {
	defer func() {
		if recovered := recover(); recovered != nil {
			log.Errorf("task %s panicked: %v", task.Name, recovered)
		}
	}()
	if errRun := task.Run(s.ctx); errRun != nil {
		log.WithError(errRun).Errorf("task %s failed", task.Name)
	}
}

// Enqueue appends one task to the immediate queue. A full or stopped
// queue drops the task with a log line rather than blocking the caller.
func (s *Scheduler) Enqueue(name string, run func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		log.Warnf("scheduler stopped, dropping task %s", name)
		return
	}
	select {
	case s.queue <- Task{Name: name, Run: run}:
	default:
		log.Errorf("task queue full, dropping task %s", name)
	}
}

// Schedule registers a cron job. The spec uses the standard five-field
// syntax, e.g. "0 23 * * *" for daily at 23:00.
func (s *Scheduler) Schedule(spec, name string, run func(ctx context.Context) error) error {
	_, errAdd := s.cron.AddFunc(spec, func() {
		s.runTask(Task{Name: name, Run: run})
	})
	if errAdd != nil {
		return fmt.Errorf("scheduler: schedule %s: %w", name, errAdd)
	}
	return nil
}
