package worker

import (
	"container/heap"
	"errors"
	"sync"

	"github.com/eleflea/sense-voice-recognizer/model"
)

var ErrQueueClosed = errors.New("job queue closed")

type queuedJob struct {
	job *model.Job
	seq uint64
}

// jobHeap orders by priority descending, then by push order.
type jobHeap []queuedJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority == h[j].job.Priority {
		return h[i].seq < h[j].seq
	}
	return h[i].job.Priority > h[j].job.Priority
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) {
	*h = append(*h, x.(queuedJob))
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = queuedJob{}
	*h = old[:n-1]
	return item
}

// JobQueue is an unbounded priority queue shared by many producers and a
// single consumer. Capacity is a policy enforced above it.
type JobQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	heap   jobHeap
	seq    uint64
	closed bool
}

func NewJobQueue() *JobQueue {
	q := &JobQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push never blocks. It fails only after Close.
func (q *JobQueue) Push(job *model.Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.seq++
	heap.Push(&q.heap, queuedJob{job: job, seq: q.seq})
	q.mu.Unlock()

	q.cond.Signal()
	return nil
}

// PushIfBelow pushes only while fewer than limit jobs are pending. The check
// and the push happen under one lock.
func (q *JobQueue) PushIfBelow(job *model.Job, limit int) (bool, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, ErrQueueClosed
	}
	if q.heap.Len() >= limit {
		q.mu.Unlock()
		return false, nil
	}
	q.seq++
	heap.Push(&q.heap, queuedJob{job: job, seq: q.seq})
	q.mu.Unlock()

	q.cond.Signal()
	return true, nil
}

// Pop blocks until a job is available or the queue is closed. After Close
// it returns false even if jobs remain; those belong to Drain.
func (q *JobQueue) Pop() (*model.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.heap.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}
	item := heap.Pop(&q.heap).(queuedJob)
	return item.job, true
}

// Len is a point-in-time read; it may be stale by the time it is used.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Close stops the queue and wakes every blocked Pop. Safe to call twice.
func (q *JobQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.cond.Broadcast()
}

// Drain removes and returns every pending job in priority order.
func (q *JobQueue) Drain() []*model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]*model.Job, 0, q.heap.Len())
	for q.heap.Len() > 0 {
		jobs = append(jobs, heap.Pop(&q.heap).(queuedJob).job)
	}
	return jobs
}
