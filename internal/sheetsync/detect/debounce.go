package detect

import (
	"sync"
	"time"
)

// Debouncer absorbs rapid successive change events for the same table
// into a single flush. Each event starts or resets a per-table quiet
// timer (sliding window); a maximum buffer age bounds the sliding so a
// table under continuous writes still makes forward progress.
type Debouncer struct {
	quiet  time.Duration
	maxAge time.Duration
	flush  func(Event)

	mu      sync.Mutex
	pending map[string]*debounceEntry
	stopped bool
}

type debounceEntry struct {
	event   Event
	timer   *time.Timer
	firstAt time.Time
}

// NewDebouncer creates a debouncer that calls flush with the coalesced
// event once a table has been quiet for the given period, or once the
// oldest buffered event reaches maxAge.
func NewDebouncer(quiet, maxAge time.Duration, flush func(Event)) *Debouncer {
	return &Debouncer{
		quiet:   quiet,
		maxAge:  maxAge,
		flush:   flush,
		pending: make(map[string]*debounceEntry),
	}
}

// OnEvent buffers a change event. The newest candidate fingerprint
// replaces any buffered one — summarizing the burst is just keeping the
// latest observation.
func (d *Debouncer) OnEvent(ev Event) {
	d.mu.Lock()

	if d.stopped {
		d.mu.Unlock()
		return
	}

	entry, ok := d.pending[ev.Table]
	if !ok {
		entry = &debounceEntry{event: ev, firstAt: time.Now()}
		entry.timer = time.AfterFunc(d.quiet, func() { d.fire(ev.Table) })
		d.pending[ev.Table] = entry
		d.mu.Unlock()
		return
	}

	entry.event = ev
	if time.Since(entry.firstAt) >= d.maxAge {
		// Forward-progress bound: stop sliding and flush now.
		entry.timer.Stop()
		d.mu.Unlock()
		d.fire(ev.Table)
		return
	}

	entry.timer.Reset(d.quiet)
	d.mu.Unlock()
}

// fire flushes the buffered event for a table, if one is still pending.
func (d *Debouncer) fire(table string) {
	d.mu.Lock()
	entry, ok := d.pending[table]
	if ok {
		delete(d.pending, table)
	}
	stopped := d.stopped
	d.mu.Unlock()

	if !ok || stopped {
		return
	}
	d.flush(entry.event)
}

// Stop cancels all pending timers and drops buffered events. Used at
// daemon shutdown: the changes stay pending in the source and will be
// re-detected on the next start.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for table, entry := range d.pending {
		entry.timer.Stop()
		delete(d.pending, table)
	}
}
