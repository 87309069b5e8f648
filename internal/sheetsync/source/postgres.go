package source

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
)

// OpenPostgres connects to a networked PostgreSQL server.
// dsn is a libpq-style connection string or postgres:// URL.
func OpenPostgres(dsn string) (Source, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres backend requires a DSN")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres server: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &dbSource{
		db:          db,
		kind:        KindPostgres,
		placeholder: dollarPlaceholder,
	}, nil
}
