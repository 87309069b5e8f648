// Package source provides read access to the training pipeline's execution
// database for the spreadsheet sync engine.
//
// The engine never writes to the source store. It needs three capabilities
// from it: enumerate the rows of a monitored table, enumerate rows changed
// since a cursor (when the table carries an updated-at column), and compute
// a content fingerprint cheap enough to run on every poll tick.
//
// Three backends are supported, selected at configuration time:
//   - sqlite:   embedded single-file database (the default local install)
//   - postgres: networked PostgreSQL server
//   - libsql:   networked libSQL/sqld server
//
// Embedded backends additionally expose their file path so the change
// detector can use the file modification time as a pre-filter before
// recomputing a fingerprint.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// Kind identifies a source database backend.
type Kind string

const (
	// KindSQLite is an embedded single-file SQLite database.
	KindSQLite Kind = "sqlite"
	// KindPostgres is a networked PostgreSQL server.
	KindPostgres Kind = "postgres"
	// KindLibSQL is a networked libSQL (sqld) server.
	KindLibSQL Kind = "libsql"
)

// Networked reports whether the backend is reached over the network.
// Networked backends have no file to watch, so the change detector polls
// their fingerprint directly on a shorter interval.
func (k Kind) Networked() bool {
	return k == KindPostgres || k == KindLibSQL
}

// Valid reports whether k names a supported backend.
func (k Kind) Valid() bool {
	switch k {
	case KindSQLite, KindPostgres, KindLibSQL:
		return true
	}
	return false
}

// Table describes a monitored table as the source layer needs to see it.
// Immutable after configuration load.
type Table struct {
	// Name is the table name in the source database.
	Name string

	// KeyColumn uniquely identifies a record (e.g. the execution's job ID).
	KeyColumn string

	// Columns are the mirrored value columns, in spreadsheet order.
	// KeyColumn is always read first and is not repeated here.
	Columns []string

	// UpdatedAtColumn, when non-empty, names a modification-time column
	// used for incremental reads. Tables without one are full-sync only.
	UpdatedAtColumn string
}

// SupportsIncremental reports whether the table can serve ReadRowsSince.
func (t Table) SupportsIncremental() bool {
	return t.UpdatedAtColumn != ""
}

// Row is one record of a monitored table: its key plus the mirrored
// column values rendered as strings.
type Row struct {
	Key    string
	Values []string
}

// Digest returns a deterministic hash of the row's content, used to skip
// remote writes for unchanged rows.
func (r Row) Digest() string {
	h := sha256.New()
	h.Write([]byte(r.Key))
	for _, v := range r.Values {
		h.Write([]byte{0x1f})
		h.Write([]byte(v))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint is a cheap deterministic summary of a table's content.
// A change is detected when a freshly computed fingerprint differs from
// the last committed one.
type Fingerprint struct {
	Table      string
	Digest     string
	RowCount   int
	ComputedAt time.Time
}

// IsZero reports whether the fingerprint has never been computed.
func (fp Fingerprint) IsZero() bool {
	return fp.Digest == ""
}

// Equal compares fingerprint content, ignoring the computation timestamp.
func (fp Fingerprint) Equal(other Fingerprint) bool {
	return fp.Digest == other.Digest && fp.RowCount == other.RowCount
}

// FingerprintRows computes the fingerprint of a full row snapshot.
// Rows are hashed in key order so the digest does not depend on the
// order the backend returned them in.
func FingerprintRows(table string, rows []Row) Fingerprint {
	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	h := sha256.New()
	for _, r := range sorted {
		h.Write([]byte(r.Key))
		for _, v := range r.Values {
			h.Write([]byte{0x1f})
			h.Write([]byte(v))
		}
		h.Write([]byte{0x1e})
	}

	return Fingerprint{
		Table:      table,
		Digest:     hex.EncodeToString(h.Sum(nil)),
		RowCount:   len(rows),
		ComputedAt: time.Now(),
	}
}

// Source is the capability interface over a source database backend.
//
// Implementations must be safe for concurrent use: the change detector
// polls fingerprints while sync workers read snapshots.
type Source interface {
	// Kind identifies the backend.
	Kind() Kind

	// ComputeFingerprint summarizes the current content of a table.
	ComputeFingerprint(ctx context.Context, table Table) (Fingerprint, error)

	// ReadRows returns the complete current snapshot of a table,
	// ordered by key.
	ReadRows(ctx context.Context, table Table) ([]Row, error)

	// ReadRowsSince returns rows modified at or after the cursor.
	// Only valid for tables where SupportsIncremental is true.
	ReadRowsSince(ctx context.Context, table Table, since time.Time) ([]Row, error)

	// ReadKeys returns the current set of record keys for a table.
	// Cheap relative to ReadRows; used during incremental syncs to
	// detect deleted records.
	ReadKeys(ctx context.Context, table Table) ([]string, error)

	// Close releases the backend connection.
	Close() error
}

// FileBacked is implemented by embedded backends whose entire content
// lives in a local file.
type FileBacked interface {
	// Path returns the database file path.
	Path() string
}

// Open constructs the Source for the configured backend.
// addr is the file path for sqlite and the DSN/URL for networked backends.
func Open(kind Kind, addr string) (Source, error) {
	switch kind {
	case KindSQLite:
		return OpenSQLite(addr)
	case KindPostgres:
		return OpenPostgres(addr)
	case KindLibSQL:
		return OpenLibSQL(addr)
	}
	return nil, fmt.Errorf("unknown source backend %q", kind)
}
