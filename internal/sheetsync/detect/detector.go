// Package detect notices content changes in monitored tables and
// coalesces bursts of them into single sync triggers.
//
// One polling loop runs per monitored table. Each tick recomputes the
// table's fingerprint and compares it to the last committed one; a
// mismatch emits a change event carrying the candidate fingerprint.
// Detection never blocks on sync completion — events flow through the
// debounce buffer into the sync queue and the detector keeps polling.
//
// Embedded-file backends get a cheap pre-filter: the modification times
// of the database file and its WAL/journal siblings are checked before
// recomputing, and an fsnotify watch on the file wakes the loops early
// so changes are noticed without waiting out the tick. Networked
// backends have nothing to watch and poll the fingerprint directly on a
// shorter interval.
package detect

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/source"
	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/state"
)

// Default poll intervals by backend class. Embedded backends can afford
// the longer tick because the mtime pre-filter makes an idle tick nearly
// free and fsnotify wakes them early on writes.
const (
	DefaultNetworkedInterval = 5 * time.Second
	DefaultEmbeddedInterval  = 15 * time.Second
)

// Event reports that a table's content no longer matches its last
// committed fingerprint.
type Event struct {
	Table     string
	Candidate source.Fingerprint
	Reason    string
}

// TableSpec is one monitored table plus its polling interval.
type TableSpec struct {
	Table        source.Table
	PollInterval time.Duration
}

// StateReader is the read-only slice of the state store the detector
// needs: the last committed fingerprint per table.
type StateReader interface {
	TableState(ctx context.Context, table string) (state.SyncState, error)
}

// Detector runs the per-table polling loops.
type Detector struct {
	src    source.Source
	states StateReader
	tables []TableSpec
	logger *log.Logger

	events chan Event
	kicks  []chan struct{}
	wg     sync.WaitGroup
}

// New creates a detector for the given tables. Tables with a zero
// PollInterval get the default for the source's backend class.
func New(src source.Source, states StateReader, tables []TableSpec, logger *log.Logger) *Detector {
	if logger == nil {
		logger = log.New(os.Stderr, "[detect] ", log.LstdFlags)
	}

	specs := make([]TableSpec, len(tables))
	copy(specs, tables)
	for i := range specs {
		if specs[i].PollInterval <= 0 {
			if src.Kind().Networked() {
				specs[i].PollInterval = DefaultNetworkedInterval
			} else {
				specs[i].PollInterval = DefaultEmbeddedInterval
			}
		}
	}

	d := &Detector{
		src:    src,
		states: states,
		tables: specs,
		logger: logger,
		events: make(chan Event, len(specs)*4),
	}
	for range specs {
		d.kicks = append(d.kicks, make(chan struct{}, 1))
	}
	return d
}

// Events returns the channel change events are delivered on.
func (d *Detector) Events() <-chan Event {
	return d.events
}

// Run starts the polling loops and blocks until ctx is cancelled. The
// events channel is closed once all loops have stopped.
func (d *Detector) Run(ctx context.Context) {
	if fb, ok := d.src.(source.FileBacked); ok {
		d.wg.Add(1)
		go d.watchFile(ctx, fb.Path())
	}

	for i := range d.tables {
		d.wg.Add(1)
		go d.pollLoop(ctx, d.tables[i], d.kicks[i])
	}

	d.wg.Wait()
	close(d.events)
}

// pollLoop polls one table until shutdown. Source errors are logged and
// retried on the next tick; they are never fatal to the daemon.
func (d *Detector) pollLoop(ctx context.Context, spec TableSpec, kick <-chan struct{}) {
	defer d.wg.Done()

	ticker := time.NewTicker(spec.PollInterval)
	defer ticker.Stop()

	fb, fileBacked := d.src.(source.FileBacked)

	var (
		lastMTime time.Time
		lastClean bool
	)

	check := func() {
		// mtime pre-filter for file-backed sources: skip the
		// fingerprint recompute when neither the file nor its WAL or
		// journal siblings have moved and the previous poll found
		// nothing pending. A pending change keeps polling so a failed
		// sync is re-detected.
		if fileBacked {
			if mt, ok := newestMTime(fb.Path()); ok {
				if lastClean && !mt.After(lastMTime) {
					return
				}
				lastMTime = mt
			}
		}

		ev, err := d.Poll(ctx, spec.Table)
		if err != nil {
			d.logger.Printf("poll %s: %v", spec.Table.Name, err)
			lastClean = false
			return
		}
		if ev == nil {
			lastClean = true
			return
		}

		lastClean = false
		select {
		case d.events <- *ev:
		case <-ctx.Done():
		}
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		case <-kick:
			check()
		}
	}
}

// newestMTime returns the latest modification time across the database
// file and its WAL and journal siblings. A WAL-mode commit touches only
// the -wal sibling, so the main file's mtime alone goes stale.
func newestMTime(path string) (time.Time, bool) {
	var newest time.Time
	found := false
	for _, p := range []string{path, path + "-wal", path + "-journal"} {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		found = true
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest, found
}

// Poll computes the table's current fingerprint and compares it to the
// last committed one. Returns nil when nothing changed.
func (d *Detector) Poll(ctx context.Context, table source.Table) (*Event, error) {
	fp, err := d.src.ComputeFingerprint(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("compute fingerprint: %w", err)
	}

	st, err := d.states.TableState(ctx, table.Name)
	if err != nil {
		return nil, fmt.Errorf("read committed state: %w", err)
	}

	if fp.Equal(st.Fingerprint) {
		return nil, nil
	}

	reason := "fingerprint drift"
	if st.Fingerprint.IsZero() {
		reason = "initial sync"
	}
	return &Event{Table: table.Name, Candidate: fp, Reason: reason}, nil
}

// watchFile kicks every poll loop when the database file (or its WAL
// sibling) is written, so embedded backends react within the debounce
// window instead of the poll interval.
func (d *Detector) watchFile(ctx context.Context, path string) {
	defer d.wg.Done()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.Printf("file watch unavailable, relying on polls: %v", err)
		return
	}
	defer watcher.Close()

	// Watch the directory: SQLite swaps the WAL and journal files in
	// and out, and fsnotify watches on replaced files go stale.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		d.logger.Printf("watch %s: %v", filepath.Dir(path), err)
		return
	}

	base := filepath.Base(path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if name != base && name != base+"-wal" && name != base+"-journal" {
				continue
			}
			for _, kick := range d.kicks {
				select {
				case kick <- struct{}{}:
				default:
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			d.logger.Printf("file watch error: %v", err)
		}
	}
}
