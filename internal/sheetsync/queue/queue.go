// Package queue provides the ordered sync work queue.
//
// The queue holds at most one queued job per table and enforces the
// single-flight rule: while a table's job is being worked on, further
// work for that table merges into a single pending successor instead of
// growing the queue. Within a table, jobs are delivered in enqueue
// order; across tables, no ordering is promised.
package queue

import (
	"sync"
	"time"

	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/source"
)

// Kind is the sync job kind.
type Kind int

const (
	// Incremental syncs only records changed since the last sync.
	Incremental Kind = iota
	// Full rereads the complete table snapshot.
	Full
)

func (k Kind) String() string {
	switch k {
	case Incremental:
		return "incremental"
	case Full:
		return "full"
	default:
		return "unknown"
	}
}

// Job is one unit of sync work for a table.
type Job struct {
	Table      string
	Kind       Kind
	Reason     string
	EnqueuedAt time.Time
	Attempts   int

	// Candidate is the fingerprint observed by the change detector.
	// It is committed to the state store only after the sync succeeds.
	Candidate source.Fingerprint
}

// merge coalesces a newly arriving job into an existing one for the same
// table. A full request wins over an incremental one; the newest
// candidate fingerprint and reason are kept, the original enqueue time
// survives so queue ordering is preserved.
func merge(existing, incoming Job) Job {
	out := incoming
	if existing.Kind == Full {
		out.Kind = Full
	}
	out.EnqueuedAt = existing.EnqueuedAt
	return out
}

// Queue is a blocking, single-consumer-per-table work queue.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	order  []string
	queued map[string]Job
	flight map[string]bool
	next   map[string]Job
	closed bool
}

// New creates an empty queue.
func New() *Queue {
	q := &Queue{
		queued: make(map[string]Job),
		flight: make(map[string]bool),
		next:   make(map[string]Job),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds a job, merging with any queued or in-flight work for the
// same table. Enqueueing after Close is a no-op.
func (q *Queue) Enqueue(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	if q.flight[job.Table] {
		if pending, ok := q.next[job.Table]; ok {
			q.next[job.Table] = merge(pending, job)
		} else {
			q.next[job.Table] = job
		}
		return
	}

	if existing, ok := q.queued[job.Table]; ok {
		q.queued[job.Table] = merge(existing, job)
		return
	}

	q.queued[job.Table] = job
	q.order = append(q.order, job.Table)
	q.cond.Signal()
}

// Dequeue blocks until a job is available or the queue is closed. The
// second return value is false once the queue is shutting down; any
// still-queued work is abandoned (it will be rediscovered by the change
// detector on the next start).
func (q *Queue) Dequeue() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.closed && len(q.order) == 0 {
		q.cond.Wait()
	}
	if q.closed {
		return Job{}, false
	}

	table := q.order[0]
	q.order = q.order[1:]
	job := q.queued[table]
	delete(q.queued, table)
	q.flight[table] = true
	return job, true
}

// Done releases a table's in-flight slot. If work arrived for the table
// while its job was in flight, the merged successor is queued now.
func (q *Queue) Done(table string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.flight, table)

	if pending, ok := q.next[table]; ok {
		delete(q.next, table)
		if !q.closed {
			q.queued[table] = pending
			q.order = append(q.order, table)
			q.cond.Signal()
		}
	}
}

// InFlight reports whether a job for the table is currently being worked.
func (q *Queue) InFlight(table string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flight[table]
}

// Len returns the number of queued (not in-flight) jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Close wakes all blocked consumers and makes them exit cleanly.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
