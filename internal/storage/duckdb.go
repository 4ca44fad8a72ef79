package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	duckdb "github.com/duckdb/duckdb-go/v2"

	"pg-dedump/internal/schema"
)

// MemoryPath selects an in-memory database. Nothing survives the process,
// so resuming is not possible.
const MemoryPath = ":memory:"

const (
	statsSchema     = "_stats"
	checkpointTable = statsSchema + ".processed_line"
	stagingPrefix   = "stage_"
)

// DuckDB is a Store backed by a DuckDB database file. Every call runs on one
// dedicated connection.
type DuckDB struct {
	db     *sql.DB
	conn   *sql.Conn
	path   string
	logger *slog.Logger
}

// OpenDuckDB opens (or creates) the database at path and prepares the
// checkpoint table.
func OpenDuckDB(ctx context.Context, path string) (*DuckDB, error) {
	dsn := path
	if path == MemoryPath {
		dsn = ""
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb %s: %w", path, err)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to duckdb %s: %w", path, err)
	}

	s := &DuckDB{
		db:     db,
		conn:   conn,
		path:   path,
		logger: slog.Default(),
	}

	if err := s.init(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// WithLogger sets the logger used for storage events.
func (s *DuckDB) WithLogger(logger *slog.Logger) *DuckDB {
	s.logger = logger
	return s
}

func (s *DuckDB) init(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, `
		CREATE SCHEMA IF NOT EXISTS `+statsSchema+`;
		CREATE TABLE IF NOT EXISTS `+checkpointTable+` (
			table_name VARCHAR PRIMARY KEY,
			line_nr BIGINT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	return nil
}

// RemoveDatabase deletes a database file and its write-ahead log.
func RemoveDatabase(path string) error {
	if path == "" || path == MemoryPath {
		return nil
	}
	for _, p := range []string{path, path + ".wal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", p, err)
		}
	}
	return nil
}

// Execute runs a schema statement on the store connection.
func (s *DuckDB) Execute(ctx context.Context, query string) error {
	if _, err := s.conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to execute statement: %w", err)
	}
	return nil
}

// Checkpoint returns the last committed line for table, 0 if none.
func (s *DuckDB) Checkpoint(ctx context.Context, table string) (int, error) {
	var line int64
	err := s.conn.QueryRowContext(ctx,
		`SELECT line_nr FROM `+checkpointTable+` WHERE table_name = ?`, table,
	).Scan(&line)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint for %s: %w", table, err)
	}
	return int(line), nil
}

// InsertChunk appends the rows to a VARCHAR staging table and copies them into
// the target table in the same transaction as the checkpoint update. The
// INSERT ... SELECT casts the text values to the declared column types.
func (s *DuckDB) InsertChunk(ctx context.Context, chunk *Chunk) error {
	if len(chunk.Rows) == 0 {
		return nil
	}
	if len(chunk.Types) != len(chunk.Columns) {
		return fmt.Errorf("chunk for %s has %d columns but %d types", chunk.Table, len(chunk.Columns), len(chunk.Types))
	}

	if _, err := s.conn.ExecContext(ctx, `BEGIN TRANSACTION`); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	rollback := func(cause error) error {
		_, _ = s.conn.ExecContext(ctx, `ROLLBACK`)
		return cause
	}

	staging := stagingPrefix + chunk.Table
	qualifiedStaging := statsSchema + "." + QuoteIdentifier(staging)

	columnDefs := make([]string, len(chunk.Columns))
	quoted := make([]string, len(chunk.Columns))
	for i, col := range chunk.Columns {
		quoted[i] = QuoteIdentifier(col)
		columnType := "VARCHAR"
		if chunk.Types[i] == schema.Array {
			columnType = "VARCHAR[]"
		}
		columnDefs[i] = quoted[i] + " " + columnType
	}

	create := fmt.Sprintf(`CREATE OR REPLACE TABLE %s (%s)`, qualifiedStaging, strings.Join(columnDefs, ", "))
	if _, err := s.conn.ExecContext(ctx, create); err != nil {
		return rollback(fmt.Errorf("create staging table for %s: %w", chunk.Table, err))
	}

	err := s.conn.Raw(func(raw any) error {
		driverConn, ok := raw.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected raw conn type %T", raw)
		}

		appender, err := duckdb.NewAppenderFromConn(driverConn, statsSchema, staging)
		if err != nil {
			return fmt.Errorf("create appender for %s: %w", chunk.Table, err)
		}

		values := make([]driver.Value, len(chunk.Columns))
		for _, row := range chunk.Rows {
			for i := range values {
				values[i] = nil
				if i < len(row) {
					values[i] = appendValue(row[i])
				}
			}
			if err := appender.AppendRow(values...); err != nil {
				_ = appender.Close()
				return fmt.Errorf("append row for %s: %w", chunk.Table, err)
			}
		}

		if err := appender.Close(); err != nil {
			return fmt.Errorf("flush appender for %s: %w", chunk.Table, err)
		}
		return nil
	})
	if err != nil {
		return rollback(err)
	}

	insert := fmt.Sprintf(`INSERT INTO %s (%s) SELECT %s FROM %s`,
		QuoteIdentifier(chunk.Table),
		strings.Join(quoted, ", "),
		strings.Join(quoted, ", "),
		qualifiedStaging,
	)
	if _, err := s.conn.ExecContext(ctx, insert); err != nil {
		return rollback(fmt.Errorf("insert chunk into %s: %w", chunk.Table, err))
	}

	if _, err := s.conn.ExecContext(ctx, `
		INSERT INTO `+checkpointTable+` (table_name, line_nr) VALUES (?, ?)
		ON CONFLICT (table_name) DO UPDATE SET line_nr = excluded.line_nr
	`, chunk.Table, int64(chunk.LastLine)); err != nil {
		return rollback(fmt.Errorf("update checkpoint for %s: %w", chunk.Table, err))
	}

	if _, err := s.conn.ExecContext(ctx, `DROP TABLE `+qualifiedStaging); err != nil {
		return rollback(fmt.Errorf("drop staging table for %s: %w", chunk.Table, err))
	}

	if _, err := s.conn.ExecContext(ctx, `COMMIT`); err != nil {
		return rollback(fmt.Errorf("commit chunk for %s: %w", chunk.Table, err))
	}

	s.logger.Debug("Committed chunk",
		"table", chunk.Table,
		"rows", len(chunk.Rows),
		"checkpoint", chunk.LastLine,
	)
	return nil
}

// appendValue maps decoded values onto types the appender accepts.
func appendValue(v any) driver.Value {
	switch val := v.(type) {
	case nil:
		return nil
	case []string:
		list := make([]any, len(val))
		for i, s := range val {
			list[i] = s
		}
		return list
	default:
		return val
	}
}

// Export writes table to path with DuckDB's COPY ... TO.
func (s *DuckDB) Export(ctx context.Context, table, path string, format Format) error {
	var options string
	switch format {
	case FormatParquet:
		options = "FORMAT parquet"
	case FormatCSV:
		options = "FORMAT csv, HEADER true"
	case FormatJSON:
		options = "FORMAT json"
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	query := fmt.Sprintf(`COPY (SELECT * FROM %s) TO %s (%s)`, QuoteIdentifier(table), quoteLiteral(path), options)
	if _, err := s.conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to export %s to %s: %w", table, path, err)
	}
	return nil
}

// Close releases the connection and the database.
func (s *DuckDB) Close() error {
	var errs []error
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}
