package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/source"
)

func TestEnqueueDequeue(t *testing.T) {
	q := New()
	q.Enqueue(Job{Table: "executions", Kind: Incremental, Reason: "fingerprint drift"})

	job, ok := q.Dequeue()
	if !ok {
		t.Fatal("dequeue returned closed")
	}
	if job.Table != "executions" || job.Kind != Incremental {
		t.Errorf("job = %+v", job)
	}
	if job.EnqueuedAt.IsZero() {
		t.Error("EnqueuedAt not defaulted")
	}
}

func TestQueuedJobsCoalesce(t *testing.T) {
	q := New()
	first := time.Now().Add(-time.Minute)

	fp1 := source.FingerprintRows("executions", []source.Row{{Key: "a"}})
	fp2 := source.FingerprintRows("executions", []source.Row{{Key: "a"}, {Key: "b"}})

	q.Enqueue(Job{Table: "executions", Kind: Incremental, EnqueuedAt: first, Candidate: fp1})
	q.Enqueue(Job{Table: "executions", Kind: Incremental, Candidate: fp2})

	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after coalescing", q.Len())
	}

	job, _ := q.Dequeue()
	if !job.Candidate.Equal(fp2) {
		t.Error("merge did not keep the newest candidate fingerprint")
	}
	if !job.EnqueuedAt.Equal(first) {
		t.Error("merge did not keep the original enqueue time")
	}
}

func TestFullWinsOverIncremental(t *testing.T) {
	q := New()

	q.Enqueue(Job{Table: "executions", Kind: Full})
	q.Enqueue(Job{Table: "executions", Kind: Incremental})

	job, _ := q.Dequeue()
	if job.Kind != Full {
		t.Error("incremental arrival downgraded a queued full job")
	}
}

func TestSingleFlightPerTable(t *testing.T) {
	q := New()

	q.Enqueue(Job{Table: "executions", Kind: Incremental, Reason: "first"})
	job, _ := q.Dequeue()
	if !q.InFlight("executions") {
		t.Fatal("dequeued table not marked in flight")
	}

	// Work arriving while in flight must not be dequeued yet.
	q.Enqueue(Job{Table: "executions", Kind: Full, Reason: "second"})
	if q.Len() != 0 {
		t.Fatalf("Len = %d, want 0 while job in flight", q.Len())
	}

	q.Done(job.Table)
	if q.InFlight("executions") {
		t.Error("Done did not release the in-flight slot")
	}
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1 after Done promoted the successor", q.Len())
	}

	successor, _ := q.Dequeue()
	if successor.Kind != Full || successor.Reason != "second" {
		t.Errorf("successor = %+v", successor)
	}
}

func TestCrossTableOrder(t *testing.T) {
	q := New()
	q.Enqueue(Job{Table: "alpha"})
	q.Enqueue(Job{Table: "beta"})

	a, _ := q.Dequeue()
	b, _ := q.Dequeue()
	if a.Table != "alpha" || b.Table != "beta" {
		t.Errorf("order = %s, %s", a.Table, b.Table)
	}
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New()
	got := make(chan Job)

	go func() {
		job, ok := q.Dequeue()
		if ok {
			got <- job
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Enqueue(Job{Table: "executions"})

	select {
	case job := <-got:
		if job.Table != "executions" {
			t.Errorf("job = %+v", job)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue never woke up")
	}
}

func TestCloseUnblocksConsumers(t *testing.T) {
	q := New()
	done := make(chan bool, 3)

	for i := 0; i < 3; i++ {
		go func() {
			_, ok := q.Dequeue()
			done <- ok
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Close()

	for i := 0; i < 3; i++ {
		select {
		case ok := <-done:
			if ok {
				t.Error("Dequeue returned a job from a closed queue")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("consumer still blocked after Close")
		}
	}
}

func TestEnqueueAfterClose(t *testing.T) {
	q := New()
	q.Close()
	q.Enqueue(Job{Table: "executions"})
	if q.Len() != 0 {
		t.Error("enqueue after close should be a no-op")
	}
}

func TestConcurrentSingleFlight(t *testing.T) {
	q := New()

	var mu sync.Mutex
	active := make(map[string]int)
	maxActive := 0

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, ok := q.Dequeue()
				if !ok {
					return
				}
				mu.Lock()
				active[job.Table]++
				if active[job.Table] > maxActive {
					maxActive = active[job.Table]
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active[job.Table]--
				mu.Unlock()
				q.Done(job.Table)
			}
		}()
	}

	for i := 0; i < 50; i++ {
		q.Enqueue(Job{Table: "alpha"})
		q.Enqueue(Job{Table: "beta"})
	}
	time.Sleep(200 * time.Millisecond)
	q.Close()
	wg.Wait()

	if maxActive > 1 {
		t.Errorf("observed %d concurrent jobs for one table", maxActive)
	}
}
