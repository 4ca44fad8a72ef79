// Package storage holds ingested tables, their resume checkpoints and the
// columnar export of each table.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pg-dedump/internal/schema"
)

// ErrUnsupportedFormat is returned for an output format no writer exists for.
var ErrUnsupportedFormat = errors.New("output format not supported")

// Format is an export file format.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
)

// ParseFormat validates an output format name.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatParquet, FormatCSV, FormatJSON:
		return f, nil
	case "":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// Extension returns the file extension, without a dot.
func (f Format) Extension() string {
	return string(f)
}

// Chunk is a batch of decoded rows for one table, committed together with the
// checkpoint LastLine.
type Chunk struct {
	Table    string
	Columns  []string
	Types    []schema.TypeTag
	Rows     [][]any
	LastLine int
}

// Store is the storage engine the ingestion pass writes to. Calls are made
// strictly one at a time.
type Store interface {
	// Execute runs a schema statement.
	Execute(ctx context.Context, query string) error

	// Checkpoint returns the highest input line committed for table, or 0.
	Checkpoint(ctx context.Context, table string) (int, error)

	// InsertChunk inserts the rows and advances the table checkpoint to
	// chunk.LastLine atomically: either both are committed or neither is.
	InsertChunk(ctx context.Context, chunk *Chunk) error

	// Export writes table to path in the given format.
	Export(ctx context.Context, table, path string, format Format) error

	Close() error
}

// QuoteIdentifier quotes a table or column name.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
