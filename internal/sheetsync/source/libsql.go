package source

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"
)

// OpenLibSQL connects to a networked libSQL (sqld) server.
// url is a libsql:// or http(s):// server URL, including any auth token.
func OpenLibSQL(url string) (Source, error) {
	if url == "" {
		return nil, fmt.Errorf("libsql backend requires a server URL")
	}

	db, err := sql.Open("libsql", url)
	if err != nil {
		return nil, fmt.Errorf("open libsql connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping libsql server: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &dbSource{
		db:          db,
		kind:        KindLibSQL,
		placeholder: questionPlaceholder,
	}, nil
}
