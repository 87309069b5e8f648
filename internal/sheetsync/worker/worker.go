package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/queue"
	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/remote"
	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/source"
	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/state"
)

// TableRuntime binds a table spec to its destination worksheet.
type TableRuntime struct {
	Spec      source.Table
	Worksheet string
}

// Outcome summarizes a completed sync job.
type Outcome struct {
	Kind     queue.Kind
	Upserts  int
	Deletes  int
	Duration time.Duration
}

// Pool drains the job queue with a bounded set of workers. The queue
// guarantees at most one in-flight job per table, so workers never race
// on the same table's state or worksheet.
type Pool struct {
	queue  *queue.Queue
	store  *state.Store
	src    source.Source
	writer remote.Writer
	tables map[string]TableRuntime
	logger *log.Logger
	size   int

	wg sync.WaitGroup
}

// NewPool builds a pool of size workers over the given components.
func NewPool(size int, q *queue.Queue, store *state.Store, src source.Source, writer remote.Writer, tables []TableRuntime, logger *log.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	byName := make(map[string]TableRuntime, len(tables))
	for _, t := range tables {
		byName[t.Spec.Name] = t
	}
	return &Pool{
		queue:  q,
		store:  store,
		src:    src,
		writer: writer,
		tables: byName,
		logger: logger,
		size:   size,
	}
}

// Run starts the workers. It returns immediately; use Wait to block
// until the queue is closed and all workers have drained.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context) {
	for {
		job, ok := p.queue.Dequeue()
		if !ok {
			return
		}
		out, err := p.RunJob(ctx, job)
		if err != nil {
			p.logger.Printf("[sync] table=%s kind=%s reason=%q failed: %v", job.Table, job.Kind, job.Reason, err)
		} else {
			p.logger.Printf("[sync] table=%s kind=%s upserts=%d deletes=%d took=%s", job.Table, out.Kind, out.Upserts, out.Deletes, out.Duration.Round(time.Millisecond))
		}
		p.queue.Done(job.Table)
	}
}

// RunJob executes a single sync job to completion. Mappings are
// persisted per confirmed chunk, so a job that fails midway and is
// retried later resumes without rewriting rows already applied.
func (p *Pool) RunJob(ctx context.Context, job queue.Job) (Outcome, error) {
	rt, ok := p.tables[job.Table]
	if !ok {
		return Outcome{}, fmt.Errorf("unknown table %q", job.Table)
	}

	start := time.Now()

	st, err := p.store.TableState(ctx, job.Table)
	if err != nil {
		return Outcome{}, p.fail(ctx, job.Table, err)
	}
	mappings, err := p.store.Mappings(ctx, job.Table)
	if err != nil {
		return Outcome{}, p.fail(ctx, job.Table, err)
	}

	kind, why := decideKind(job, st, len(mappings), rt.Spec)
	syncedAt := time.Now()

	var (
		rows        []source.Row
		currentKeys []string
	)
	if kind == queue.Full {
		rows, err = p.src.ReadRows(ctx, rt.Spec)
		if err != nil {
			return Outcome{}, p.fail(ctx, job.Table, fmt.Errorf("read rows: %w", err))
		}
	} else {
		rows, err = p.src.ReadRowsSince(ctx, rt.Spec, st.LastSyncedAt)
		if err != nil {
			return Outcome{}, p.fail(ctx, job.Table, fmt.Errorf("read changed rows: %w", err))
		}
		currentKeys, err = p.src.ReadKeys(ctx, rt.Spec)
		if err != nil {
			return Outcome{}, p.fail(ctx, job.Table, fmt.Errorf("read keys: %w", err))
		}
	}

	candidate := job.Candidate
	if candidate.IsZero() {
		if kind != queue.Full {
			return Outcome{}, p.fail(ctx, job.Table, fmt.Errorf("incremental job for %q carries no candidate fingerprint", job.Table))
		}
		candidate = source.FingerprintRows(job.Table, rows)
	}

	ops := BuildPlan(rt.Spec, rows, currentKeys, mappings)

	out := Outcome{Kind: kind}
	for _, op := range ops {
		if op.Kind == remote.OpDelete {
			out.Deletes++
		} else {
			out.Upserts++
		}
	}

	if len(ops) > 0 {
		batch := remote.Batch{Table: job.Table, Worksheet: rt.Worksheet, Ops: ops}
		progress := func(applied []remote.Op) error {
			ups, dels := mappingChanges(applied)
			return p.store.ApplyMappings(ctx, job.Table, ups, dels)
		}
		if err := p.writer.Apply(ctx, batch, progress); err != nil {
			class := "transient"
			if !remote.IsTransient(err) {
				class = "permanent"
			}
			return Outcome{}, p.fail(ctx, job.Table, fmt.Errorf("apply batch (%s): %w", class, err))
		}
	}

	if err := p.store.CommitSync(ctx, candidate, syncedAt, nil, nil); err != nil {
		return Outcome{}, p.fail(ctx, job.Table, fmt.Errorf("commit sync: %w", err))
	}

	if why != "" {
		p.logger.Printf("[sync] table=%s forced full: %s", job.Table, why)
	}
	out.Duration = time.Since(start)
	return out, nil
}

func (p *Pool) fail(ctx context.Context, table string, err error) error {
	if n, ferr := p.store.RecordFailure(ctx, table); ferr != nil {
		p.logger.Printf("[sync] table=%s failed to record failure: %v", table, ferr)
	} else if n > 1 {
		p.logger.Printf("[sync] table=%s consecutive failures: %d", table, n)
	}
	return err
}

// decideKind picks full or incremental for a job. Incremental only runs
// when the table has synced cleanly before and the persisted mappings
// agree with the committed fingerprint; any doubt falls back to full,
// which converges from any state.
func decideKind(job queue.Job, st state.SyncState, mappingCount int, spec source.Table) (queue.Kind, string) {
	if job.Kind == queue.Full {
		return queue.Full, ""
	}
	if st.LastSyncedAt.IsZero() {
		return queue.Full, "never synced"
	}
	if st.ConsecutiveFailures > 0 {
		return queue.Full, "recovering from failures"
	}
	if !spec.SupportsIncremental() {
		return queue.Full, "table has no change-tracking column"
	}
	if mappingCount != st.Fingerprint.RowCount {
		return queue.Full, fmt.Sprintf("mapping drift (%d mapped, %d fingerprinted)", mappingCount, st.Fingerprint.RowCount)
	}
	return queue.Incremental, ""
}
