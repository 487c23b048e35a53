package core

// initialization_replication.go implements the scheduler: a fixed-size
// worker pool draining the bounded TaskQueue and turning each task into a
// Replicator.Replicate or Replicator.Push call, following a concurrency
// model (errgroup + counting semaphore, cooperative tasks suspending at
// I/O/crypto boundaries, cancellation via context.Context). There is no
// ledger or consensus in this domain, so the scheduler's only job is
// draining the task queue.

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Scheduler runs a fixed number of worker goroutines pulling Tasks off a
// TaskQueue and executing them against a Replicator.
type Scheduler struct {
	rep     *Replicator
	queue   *TaskQueue
	workers int
	log     *logrus.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     *errgroup.Group
}

// NewScheduler constructs a scheduler with the given task queue capacity
// and worker pool size.
func NewScheduler(rep *Replicator, queueCapacity, workers int, log *logrus.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{rep: rep, queue: NewTaskQueue(queueCapacity), workers: workers, log: log}
}

// Enqueue schedules a replication task, returning ErrQueueFull under
// backpressure.
func (s *Scheduler) Enqueue(t Task) error {
	return s.queue.Enqueue(t)
}

// Start launches the worker pool. Safe to call once; a second call is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	wctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	g, gctx := errgroup.WithContext(wctx)
	s.wg = g
	sem := make(chan struct{}, s.workers)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case sem <- struct{}{}:
				}
				task, ok := s.queue.Wait()
				<-sem
				if !ok {
					return nil
				}
				s.run(gctx, task)
			}
		})
	}
}

func (s *Scheduler) run(ctx context.Context, t Task) {
	switch t.Kind {
	case TaskPull:
		if _, err := s.rep.Replicate(ctx, t.URN, t.Peer); err != nil {
			s.log.Warnf("task %s: replicate %s from %s: %v", t.ID, t.URN, t.Peer, err)
		}
	case TaskPush:
		keys, err := s.rep.currentDelegateKeys(t.URN)
		if err != nil {
			s.log.Warnf("task %s: push %s to %s: resolve delegates: %v", t.ID, t.URN, t.Peer, err)
			return
		}
		manifest, err := LoadSignedRefs(s.rep.store, t.URN, keys)
		if err != nil {
			s.log.Warnf("task %s: push %s to %s: load local refs: %v", t.ID, t.URN, t.Peer, err)
			return
		}
		if err := s.rep.Push(ctx, t.URN, t.Peer, manifest); err != nil {
			s.log.Warnf("task %s: push %s to %s: %v", t.ID, t.URN, t.Peer, err)
		}
	}
}

// Stop closes the task queue and waits for workers to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.queue.Close()
	s.cancel()
	_ = s.wg.Wait()
	s.cancel = nil
}
