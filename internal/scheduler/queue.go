// Package scheduler orders admitted pending jobs for dispatch: higher priority
// first, FIFO by enqueue sequence within a priority class.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"

	"mediaflow/internal/domain"
)

// ErrClosed is returned by Pop once the queue has been closed.
var ErrClosed = errors.New("scheduler: queue closed")

// Item is a dispatchable reference to a pending job.
type Item struct {
	JobID     string
	AccountID string
	Priority  domain.Priority
	Seq       uint64
	index     int
}

type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*Item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is a thread-safe priority queue with a blocking Pop.
type Queue struct {
	mu     sync.Mutex
	items  itemHeap
	byID   map[string]*Item
	seq    uint64
	closed bool
	// ready is signalled (non-blocking) whenever an item is pushed.
	ready chan struct{}
	done  chan struct{}
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{
		byID:  make(map[string]*Item),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// NextSeq reserves the next enqueue sequence number.
func (q *Queue) NextSeq() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	return q.seq
}

// Push enqueues item. A zero Seq is assigned the next sequence number; a
// non-zero Seq (requeue, recovery) keeps the job's original place in line.
// Pushing a job that is already queued is a no-op.
func (q *Queue) Push(item Item) (uint64, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, ErrClosed
	}
	if existing, ok := q.byID[item.JobID]; ok {
		q.mu.Unlock()
		return existing.Seq, nil
	}
	if item.Seq == 0 {
		q.seq++
		item.Seq = q.seq
	} else if item.Seq > q.seq {
		q.seq = item.Seq
	}
	it := item
	heap.Push(&q.items, &it)
	q.byID[it.JobID] = &it
	q.mu.Unlock()

	q.signal()
	return it.Seq, nil
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Pop removes and returns the highest-priority item, blocking until one is
// available, ctx is done or the queue is closed.
func (q *Queue) Pop(ctx context.Context) (Item, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Item{}, ErrClosed
		}
		if q.items.Len() > 0 {
			it := heap.Pop(&q.items).(*Item)
			delete(q.byID, it.JobID)
			more := q.items.Len() > 0
			q.mu.Unlock()
			if more {
				// wake another idle worker
				q.signal()
			}
			return *it, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Item{}, ctx.Err()
		case <-q.done:
			return Item{}, ErrClosed
		case <-q.ready:
		}
	}
}

// Remove drops jobID from the queue. It reports whether the job was queued.
func (q *Queue) Remove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byID[jobID]
	if !ok {
		return false
	}
	heap.Remove(&q.items, it.index)
	delete(q.byID, jobID)
	return true
}

// Contains reports whether jobID is waiting in the queue.
func (q *Queue) Contains(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byID[jobID]
	return ok
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Close wakes all blocked Pop calls with ErrClosed. Further pushes fail.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
