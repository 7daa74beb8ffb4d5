// Package task runs background work for the engine: ad-hoc jobs scheduled by
// the write path (tier generation, fact decomposition, auto-enrichment) and
// recurring jobs on fixed intervals (decay, archival, session cleanup).
//
// The scheduler is deliberately simple: an in-process buffered queue, a fixed
// worker pool, no persistence, no retries. A handler error is logged and the
// task is done. Anything that must survive a restart belongs in storage, not
// in this queue.
package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQueueFull is returned when the ad-hoc queue has no room. Callers
	// treat scheduling as best effort and drop the work.
	ErrQueueFull = errors.New("task queue full")

	// ErrUnknownType is returned when no handler is registered for the
	// task's type.
	ErrUnknownType = errors.New("unknown task type")

	// ErrStopped is returned when scheduling after shutdown has begun.
	ErrStopped = errors.New("scheduler stopped")
)

// Task is one unit of background work. TenantID and WorkspaceID together
// identify the scope the work runs against; recurring tasks leave both empty.
type Task struct {
	ID          string
	Type        string
	TenantID    string
	WorkspaceID string
	Payload     map[string]interface{}
	EnqueuedAt  time.Time
}

// HandlerFunc processes one task. Errors are logged, never retried.
type HandlerFunc func(ctx context.Context, t Task) error

type recurringJob struct {
	taskType string
	interval time.Duration
}

// Stats is a point-in-time snapshot of scheduler counters.
type Stats struct {
	Processed uint64
	Failed    uint64
	Depth     int
}

// Scheduler owns the worker pool and the handler registry.
type Scheduler struct {
	mu        sync.RWMutex
	handlers  map[string]HandlerFunc
	recurring []recurringJob
	started   bool
	workers   int

	queue chan Task
	stop  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

	processed atomic.Uint64
	failed    atomic.Uint64
}

// NewScheduler builds a scheduler with the given pool size and queue buffer.
func NewScheduler(workers, queueSize int) *Scheduler {
	if workers < 1 {
		workers = 2
	}
	if queueSize < 1 {
		queueSize = 256
	}
	return &Scheduler{
		handlers: make(map[string]HandlerFunc),
		workers:  workers,
		queue:    make(chan Task, queueSize),
		stop:     make(chan struct{}),
	}
}

// Register binds a handler to a task type. Must be called before Start.
func (s *Scheduler) Register(taskType string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[taskType] = h
}

// RegisterRecurring binds a handler and enqueues a task of that type on every
// interval tick. Must be called before Start.
func (s *Scheduler) RegisterRecurring(taskType string, interval time.Duration, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[taskType] = h
	s.recurring = append(s.recurring, recurringJob{taskType: taskType, interval: interval})
}

// Schedule enqueues an ad-hoc task. It never blocks: a full queue returns
// ErrQueueFull immediately.
func (s *Scheduler) Schedule(t Task) error {
	s.mu.RLock()
	_, known := s.handlers[t.Type]
	s.mu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownType, t.Type)
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}

	select {
	case <-s.stop:
		return ErrStopped
	default:
	}

	select {
	case s.queue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the worker pool and the recurring tickers.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	recurring := append([]recurringJob(nil), s.recurring...)
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	for _, job := range recurring {
		s.wg.Add(1)
		go s.tick(ctx, job)
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case t := <-s.queue:
			s.run(ctx, t)
		case <-s.stop:
			// Drain what is already queued, then exit.
			for {
				select {
				case t := <-s.queue:
					s.run(ctx, t)
				default:
					return
				}
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, job recurringJob) {
	defer s.wg.Done()
	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Schedule(Task{Type: job.taskType}); err != nil {
				log.Printf("task: recurring %s: %v", job.taskType, err)
			}
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context, t Task) {
	s.mu.RLock()
	h := s.handlers[t.Type]
	s.mu.RUnlock()
	if h == nil {
		s.failed.Add(1)
		log.Printf("task: no handler for %s", t.Type)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.failed.Add(1)
			log.Printf("task: %s (%s) panicked: %v", t.Type, t.ID, r)
		}
	}()

	if err := h(ctx, t); err != nil {
		s.failed.Add(1)
		log.Printf("task: %s (%s): %v", t.Type, t.ID, err)
		return
	}
	s.processed.Add(1)
}

// Stop begins shutdown and waits up to timeout for workers to drain the
// queue. Returns false when the timeout expired with workers still busy.
func (s *Scheduler) Stop(timeout time.Duration) bool {
	s.once.Do(func() { close(s.stop) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		log.Printf("task: shutdown timed out after %s", timeout)
		return false
	}
}

// Stats returns the current counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Processed: s.processed.Load(),
		Failed:    s.failed.Load(),
		Depth:     len(s.queue),
	}
}
