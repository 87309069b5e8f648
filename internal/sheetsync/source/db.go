package source

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// dbSource implements Source over a database/sql connection. All three
// backends speak through this; only the driver, the DSN format, and the
// bind-parameter style differ.
type dbSource struct {
	db          *sql.DB
	kind        Kind
	path        string // set for file-backed backends only
	placeholder func(i int) string
}

func questionPlaceholder(int) string { return "?" }

func dollarPlaceholder(i int) string { return fmt.Sprintf("$%d", i) }

func (s *dbSource) Kind() Kind { return s.kind }

func (s *dbSource) Close() error {
	return s.db.Close()
}

// quoteIdent double-quotes an identifier. Double quotes are valid
// identifier quoting in SQLite, libSQL, and PostgreSQL alike.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// selectColumns renders the key and value columns of a table, each cast
// to text. The cast keeps scanning uniform across drivers: timestamps and
// numerics arrive as the string the spreadsheet cell will hold.
func (s *dbSource) selectColumns(table Table) string {
	cols := make([]string, 0, len(table.Columns)+1)
	cols = append(cols, castText(table.KeyColumn))
	for _, c := range table.Columns {
		cols = append(cols, castText(c))
	}
	return strings.Join(cols, ", ")
}

func castText(name string) string {
	return fmt.Sprintf("CAST(%s AS TEXT)", quoteIdent(name))
}

func (s *dbSource) ComputeFingerprint(ctx context.Context, table Table) (Fingerprint, error) {
	rows, err := s.ReadRows(ctx, table)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint %s: %w", table.Name, err)
	}
	return FingerprintRows(table.Name, rows), nil
}

func (s *dbSource) ReadRows(ctx context.Context, table Table) ([]Row, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		s.selectColumns(table), quoteIdent(table.Name), quoteIdent(table.KeyColumn))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", table.Name, err)
	}
	defer rows.Close()

	return scanRows(rows, len(table.Columns))
}

func (s *dbSource) ReadRowsSince(ctx context.Context, table Table, since time.Time) ([]Row, error) {
	if !table.SupportsIncremental() {
		return nil, fmt.Errorf("table %s has no updated-at column", table.Name)
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s >= %s ORDER BY %s",
		s.selectColumns(table), quoteIdent(table.Name),
		quoteIdent(table.UpdatedAtColumn), s.placeholder(1),
		quoteIdent(table.KeyColumn))

	rows, err := s.db.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("read %s since %s: %w", table.Name, since.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return scanRows(rows, len(table.Columns))
}

func (s *dbSource) ReadKeys(ctx context.Context, table Table) ([]string, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s",
		castText(table.KeyColumn), quoteIdent(table.Name), quoteIdent(table.KeyColumn))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read keys of %s: %w", table.Name, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys of %s: %w", table.Name, err)
	}
	return keys, nil
}

// scanRows reads a key column plus n value columns into Rows. Every value
// is rendered as a string; NULL becomes the empty string, which matches
// how the spreadsheet renders an empty cell.
func scanRows(rows *sql.Rows, n int) ([]Row, error) {
	var out []Row
	for rows.Next() {
		var key string
		values := make([]sql.NullString, n)
		dest := make([]any, 0, n+1)
		dest = append(dest, &key)
		for i := range values {
			dest = append(dest, &values[i])
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		row := Row{Key: key, Values: make([]string, n)}
		for i, v := range values {
			if v.Valid {
				row.Values[i] = v.String
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
