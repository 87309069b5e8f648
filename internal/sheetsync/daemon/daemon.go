// Package daemon ties the sync components together into a long-running
// process: detector feeding debouncer feeding queue feeding workers,
// with a PID file claiming exclusive ownership of the state database.
package daemon

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/config"
	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/detect"
	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/queue"
	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/remote"
	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/source"
	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/state"
	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/worker"
)

// State is the daemon lifecycle phase.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// WriterFactory builds the remote writer once the daemon is starting.
type WriterFactory func(ctx context.Context) (remote.Writer, error)

// Daemon owns the component lifecycle. Run blocks until the context is
// canceled, then shuts the pipeline down in dependency order.
type Daemon struct {
	cfg       config.Config
	logger    *log.Logger
	newWriter WriterFactory
	state     atomic.Int32
}

// New builds a daemon that writes to Google Sheets.
func New(cfg config.Config, logger *log.Logger) *Daemon {
	d := &Daemon{cfg: cfg, logger: logger}
	d.newWriter = func(ctx context.Context) (remote.Writer, error) {
		sender, err := remote.NewSheetsSender(ctx, cfg.Sheet.CredentialsFile, cfg.Sheet.SpreadsheetID, cfg.Sheet.HeaderRows)
		if err != nil {
			return nil, err
		}
		wcfg := remote.WriterConfig{
			MaxBatchSize: cfg.Sync.MaxBatchSize,
			MaxAttempts:  cfg.Sync.MaxAttempts,
			BaseDelay:    cfg.Sync.BaseDelay,
			MaxDelay:     cfg.Sync.MaxDelay,
			Budget:       remote.NewBudget(cfg.Sync.RequestLimit, cfg.Sync.RequestWindow),
			Logger:       logger,
		}
		return remote.NewWriter(sender, wcfg), nil
	}
	return d
}

// NewWithWriterFactory builds a daemon with a custom remote writer,
// used by tests and offline runs.
func NewWithWriterFactory(cfg config.Config, logger *log.Logger, factory WriterFactory) *Daemon {
	d := New(cfg, logger)
	d.newWriter = factory
	return d
}

// State reports the current lifecycle phase.
func (d *Daemon) State() State {
	return State(d.state.Load())
}

func (d *Daemon) setState(s State) {
	d.state.Store(int32(s))
	d.logger.Printf("[daemon] %s", s)
}

// Run claims the PID file, starts the pipeline, and blocks until ctx is
// canceled. Components stop in reverse dependency order so no event or
// job is handed to a component that has already shut down.
func (d *Daemon) Run(ctx context.Context) error {
	if s := d.State(); s != Stopped {
		return fmt.Errorf("daemon is %s, cannot start", s)
	}
	d.setState(Starting)
	defer d.setState(Stopped)

	if err := CheckNotRunning(d.cfg.PIDFile); err != nil {
		return err
	}
	if err := WritePIDFile(d.cfg.PIDFile); err != nil {
		return err
	}
	defer func() {
		if err := RemovePIDFile(d.cfg.PIDFile); err != nil {
			d.logger.Printf("[daemon] %v", err)
		}
	}()

	src, err := source.Open(d.cfg.SourceKind(), d.cfg.Source.Addr)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	store, err := state.Open(d.cfg.StateDB)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	writer, err := d.newWriter(ctx)
	if err != nil {
		return fmt.Errorf("build remote writer: %w", err)
	}

	q := queue.New()

	var tableSpecs []detect.TableSpec
	var runtimes []worker.TableRuntime
	for i, spec := range d.cfg.SourceTables() {
		tableSpecs = append(tableSpecs, detect.TableSpec{
			Table:        spec,
			PollInterval: d.cfg.Tables[i].PollInterval,
		})
		runtimes = append(runtimes, worker.TableRuntime{
			Spec:      spec,
			Worksheet: d.cfg.Tables[i].Worksheet,
		})
	}

	detector := detect.New(src, store, tableSpecs, d.logger)
	debouncer := detect.NewDebouncer(d.cfg.Detect.Quiet, d.cfg.Detect.MaxAge, func(ev detect.Event) {
		q.Enqueue(queue.Job{
			Table:      ev.Table,
			Kind:       queue.Incremental,
			Reason:     ev.Reason,
			EnqueuedAt: time.Now(),
			Candidate:  ev.Candidate,
		})
	})

	// Workers drain through the queue close, not the shutdown signal:
	// a job caught mid-flight finishes its current remote chunk instead
	// of aborting with a canceled context.
	pool := worker.NewPool(d.cfg.Sync.Workers, q, store, src, writer, runtimes, d.logger)
	pool.Run(context.WithoutCancel(ctx))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		detector.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		for ev := range detector.Events() {
			debouncer.OnEvent(ev)
		}
	}()

	d.setState(Running)
	d.logger.Printf("[daemon] watching %d table(s) on %s source", len(runtimes), d.cfg.Source.Kind)

	<-ctx.Done()
	d.setState(Stopping)

	wg.Wait()
	debouncer.Stop()
	q.Close()
	pool.Wait()

	d.logger.Printf("[daemon] drained, shutting down")
	return nil
}

// TableReport is one table's sync state for status output. MappedRows
// differing from RowCount means the next sync will be forced full.
type TableReport struct {
	Table               string
	RowCount            int
	MappedRows          int
	LastSyncedAt        time.Time
	ConsecutiveFailures int
}

// Report is a point-in-time view of the daemon, assembled from the PID
// file and the state database without talking to the process.
type Report struct {
	Status Status
	Tables []TableReport
}

// BuildReport inspects the PID file and state database for status output.
func BuildReport(ctx context.Context, cfg config.Config) (Report, error) {
	status, err := ReadStatus(cfg.PIDFile)
	if err != nil {
		return Report{}, err
	}
	report := Report{Status: status}

	store, err := state.Open(cfg.StateDB)
	if err != nil {
		return Report{}, fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	for _, t := range cfg.Tables {
		st, err := store.TableState(ctx, t.Name)
		if err != nil {
			return Report{}, fmt.Errorf("read state for %s: %w", t.Name, err)
		}
		mapped, err := store.MappingCount(ctx, t.Name)
		if err != nil {
			return Report{}, fmt.Errorf("count mappings for %s: %w", t.Name, err)
		}
		report.Tables = append(report.Tables, TableReport{
			Table:               t.Name,
			RowCount:            st.Fingerprint.RowCount,
			MappedRows:          mapped,
			LastSyncedAt:        st.LastSyncedAt,
			ConsecutiveFailures: st.ConsecutiveFailures,
		})
	}
	return report, nil
}
