// Package remote applies sync batches to the destination spreadsheet.
//
// This is the only package that performs network I/O. It splits a batch
// into chunks sized to the remote API's limit, spends a per-minute
// request budget before each call (sleeping out the window when the
// budget is gone), and retries transient failures with jittered
// exponential backoff. Chunks that succeeded are reported through a
// progress callback so a job retried later does not rewrite them.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"
)

// OpKind distinguishes batch operations.
type OpKind int

const (
	// OpUpsert writes a record's values at its spreadsheet row.
	OpUpsert OpKind = iota
	// OpDelete clears a record's spreadsheet row. Rows are cleared, not
	// shifted, so the remaining row mappings stay valid.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpUpsert:
		return "upsert"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is one spreadsheet row operation. RowIndex is 1-based over data
// rows; the writer adds the worksheet's header offset. Delete ops carry
// blank Values spanning the table's columns, which is what clearing the
// row writes.
type Op struct {
	Kind     OpKind
	Key      string
	RowIndex int
	Values   []string
}

// Batch is the ordered set of row operations one sync job produced for
// one worksheet.
type Batch struct {
	Table     string
	Worksheet string
	Ops       []Op
}

// Progress is invoked after each chunk is confirmed written, with the
// ops of that chunk. Implementations persist the corresponding row
// mappings so retried jobs skip already-written rows.
type Progress func(applied []Op) error

// Writer applies batches to the destination.
type Writer interface {
	Apply(ctx context.Context, batch Batch, progress Progress) error
}

// ErrorClass separates failures that may succeed on retry from those
// that cannot.
type ErrorClass int

const (
	// Transient covers rate-limit rejections, timeouts, and server-side
	// errors. Retried with backoff.
	Transient ErrorClass = iota
	// Permanent covers auth/authz failures and malformed requests.
	// Surfaced immediately; retrying cannot succeed.
	Permanent
)

func (c ErrorClass) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

// Error is a classified remote failure.
type Error struct {
	Class  ErrorClass
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s remote error (HTTP %d): %v", e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("%s remote error: %v", e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried. Errors that carry
// no classification (plain network failures) count as transient.
func IsTransient(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Class == Transient
	}
	return true
}

// ChunkSender issues one remote call for one chunk of operations.
// Implementations classify their failures as *Error.
type ChunkSender interface {
	SendChunk(ctx context.Context, worksheet string, ops []Op) error
}

// WriterConfig tunes the batching writer.
type WriterConfig struct {
	// MaxBatchSize is the largest number of ops per remote call.
	MaxBatchSize int

	// MaxAttempts bounds retries of a single chunk.
	MaxAttempts int

	// BaseDelay and MaxDelay shape the retry backoff curve.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// Budget is the per-minute request budget. Nil disables accounting.
	Budget *Budget

	// Logger for retry and quota activity.
	Logger *log.Logger
}

// DefaultWriterConfig returns the writer defaults sized to the Sheets
// API's published per-minute quota.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		MaxBatchSize: 100,
		MaxAttempts:  5,
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
	}
}

type batchWriter struct {
	sender ChunkSender
	cfg    WriterConfig

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWriter wraps a ChunkSender with chunking, quota accounting, and
// retry/backoff.
func NewWriter(sender ChunkSender, cfg WriterConfig) Writer {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultWriterConfig().MaxBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultWriterConfig().MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultWriterConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultWriterConfig().MaxDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &batchWriter{
		sender: sender,
		cfg:    cfg,
		sleep:  sleepCtx,
	}
}

// Apply sends the batch chunk by chunk. A chunk that exhausts its
// retries fails the whole job, but chunks already confirmed are not
// resent: their progress was reported, so the retried job's fresh plan
// will not include them.
func (w *batchWriter) Apply(ctx context.Context, batch Batch, progress Progress) error {
	chunks := chunkOps(batch.Ops, w.cfg.MaxBatchSize)

	for i, chunk := range chunks {
		if err := w.sendWithRetry(ctx, batch.Worksheet, chunk); err != nil {
			return fmt.Errorf("chunk %d/%d of %s: %w", i+1, len(chunks), batch.Table, err)
		}
		if progress != nil {
			if err := progress(chunk); err != nil {
				return fmt.Errorf("record progress for %s: %w", batch.Table, err)
			}
		}
	}
	return nil
}

func (w *batchWriter) sendWithRetry(ctx context.Context, worksheet string, chunk []Op) error {
	var lastErr error
	for attempt := 0; attempt < w.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := NextDelay(attempt-1, w.cfg.BaseDelay, w.cfg.MaxDelay)
			w.cfg.Logger.Printf("retrying chunk after %v (attempt %d/%d): %v",
				delay.Round(time.Millisecond), attempt+1, w.cfg.MaxAttempts, lastErr)
			if err := w.sleep(ctx, delay); err != nil {
				return err
			}
		}

		if w.cfg.Budget != nil {
			if err := w.cfg.Budget.Acquire(ctx); err != nil {
				return err
			}
		}

		err := w.sender.SendChunk(ctx, worksheet, chunk)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			return err
		}
	}
	return fmt.Errorf("retries exhausted: %w", lastErr)
}

func chunkOps(ops []Op, size int) [][]Op {
	var chunks [][]Op
	for len(ops) > size {
		chunks = append(chunks, ops[:size])
		ops = ops[size:]
	}
	if len(ops) > 0 {
		chunks = append(chunks, ops)
	}
	return chunks
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
