package source

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// sqliteSource is the embedded-file backend. It also satisfies FileBacked
// so the change detector can pre-filter polls on the file's mtime.
type sqliteSource struct {
	dbSource
}

// OpenSQLite opens the embedded database file read-only. The pipeline
// process owns writes to this file; the sync engine only observes it.
func OpenSQLite(path string) (Source, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite backend requires a database path")
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &sqliteSource{dbSource{
		db:          db,
		kind:        KindSQLite,
		path:        path,
		placeholder: questionPlaceholder,
	}}, nil
}

// Path implements FileBacked.
func (s *sqliteSource) Path() string { return s.path }
