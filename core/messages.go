package core

// messages.go implements the scheduler's bounded task queue: a
// fixed-capacity FIFO of replication tasks with an explicit backpressure
// signal.

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrQueueFull is returned by TaskQueue.Enqueue when the queue is at
// capacity; callers should treat this as backpressure, not a fatal error.
var ErrQueueFull = fmt.Errorf("task queue full")

// TaskKind distinguishes a pull (Replicate) task from a push (mutual
// sync) task.
type TaskKind int

const (
	TaskPull TaskKind = iota
	TaskPush
)

// Task is one unit of scheduled replication work: a (urn, peer) pair and
// the direction to run it in. ID correlates a task with its audit and log
// entries across the worker pool; callers may leave it blank and have
// Enqueue fill it in.
type Task struct {
	ID   string
	Kind TaskKind
	URN  URN
	Peer string
}

// TaskQueue is a concurrency-safe, fixed-capacity FIFO of Tasks.
type TaskQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	capacity int
	items    []Task
	closed   bool
}

// NewTaskQueue creates an empty queue bounded at capacity (0 means
// unbounded).
func NewTaskQueue(capacity int) *TaskQueue {
	q := &TaskQueue{capacity: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends t to the queue, returning ErrQueueFull if capacity is
// exceeded.
func (q *TaskQueue) Enqueue(t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("task queue closed")
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	q.items = append(q.items, t)
	q.notEmpty.Signal()
	return nil
}

// Dequeue removes and returns the next task, or ok=false if the queue is
// empty.
func (q *TaskQueue) Dequeue() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Task{}, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

// Wait blocks until a task is available or the queue is closed, then
// dequeues it.
func (q *TaskQueue) Wait() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.items) == 0 {
		return Task{}, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

// Len returns the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed, waking any blocked Wait callers.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.notEmpty.Broadcast()
	q.mu.Unlock()
}

// ParseHexPayload converts a hex string into bytes. "0x" prefix is
// optional.
func ParseHexPayload(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	return hex.DecodeString(s)
}
