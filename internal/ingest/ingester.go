// Package ingest drives a dump through the statement pipeline: CREATE TABLE
// statements become tables in the store, COPY data blocks are loaded in
// checkpointed chunks, and every table is exported once the input ends.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"pg-dedump/internal/converter"
	"pg-dedump/internal/parser"
	"pg-dedump/internal/progress"
	"pg-dedump/internal/schema"
	"pg-dedump/internal/sqltree"
	"pg-dedump/internal/storage"
)

// ErrInvalidChunkSize is returned for a chunk size below 1.
var ErrInvalidChunkSize = errors.New("chunk size must be at least 1")

// Config contains configuration for an ingestion run
type Config struct {
	ChunkSize  int
	OutputDir  string
	Prefix     string
	Format     storage.Format
	Dialect    string
	TotalLines int // Expected input size, 0 if unknown
	RunID      string
}

// Statistics tracks ingestion progress
type Statistics struct {
	StartTime        time.Time
	EndTime          time.Time
	StatementsRead   int
	SchemaStatements int
	CopyBlocks       int
	OtherStatements  int
	ParseErrors      int
	RowsCommitted    int64
	RowsSkipped      int64
	ChunksFlushed    int
	LinesRead        int
	TablesProcessed  []string
	FilesExported    []string
}

// Ingester orchestrates a single pass over a dump
type Ingester struct {
	store    storage.Store
	parser   *parser.SQLParser
	registry *schema.Registry
	loader   *Loader
	reporter progress.Reporter
	config   Config
	stats    Statistics
	logger   *slog.Logger
}

// NewIngester validates config and creates an ingester writing to store.
// reporter may be nil.
func NewIngester(store storage.Store, config Config, reporter progress.Reporter) (*Ingester, error) {
	format, err := storage.ParseFormat(string(config.Format))
	if err != nil {
		return nil, err
	}
	config.Format = format

	sqlParser, err := parser.NewSQLParser(config.Dialect)
	if err != nil {
		return nil, err
	}

	loader, err := NewLoader(store, config.ChunkSize, reporter)
	if err != nil {
		return nil, err
	}
	loader.WithRun(config.RunID, config.TotalLines)

	return &Ingester{
		store:    store,
		parser:   sqlParser,
		registry: schema.NewRegistry(),
		loader:   loader,
		reporter: reporter,
		config:   config,
		logger:   slog.Default(),
	}, nil
}

// WithLogger sets the logger for the ingester and its components.
func (i *Ingester) WithLogger(logger *slog.Logger) *Ingester {
	i.logger = logger
	i.parser.WithLogger(logger)
	i.loader.WithLogger(logger)
	return i
}

// GetStatistics returns the current run statistics
func (i *Ingester) GetStatistics() Statistics {
	return i.stats
}

// Run ingests the whole input and exports every table.
func (i *Ingester) Run(ctx context.Context, lines *parser.LineReader) error {
	if err := i.Ingest(ctx, lines); err != nil {
		return err
	}
	if _, err := i.Export(ctx); err != nil {
		return err
	}
	i.logFinalStatistics(ctx)
	return nil
}

// Ingest consumes statements until the input is exhausted.
func (i *Ingester) Ingest(ctx context.Context, lines *parser.LineReader) error {
	i.stats.StartTime = time.Now()
	defer func() {
		i.stats.EndTime = time.Now()
		i.stats.ParseErrors = i.parser.Failures()
		i.stats.LinesRead = lines.Line()
	}()

	scanner := parser.NewStatementScanner(lines).WithLogger(i.logger)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := scanner.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		i.stats.StatementsRead++

		for _, stmt := range i.parser.Classify(raw) {
			switch s := stmt.(type) {
			case *parser.SchemaStatement:
				err = i.createTable(ctx, s)
			case *parser.CopyStatement:
				err = i.loadCopy(ctx, s, lines)
			default:
				i.stats.OtherStatements++
				i.logger.Debug("Ignoring statement", "line", stmt.EndLine())
			}
			if err != nil {
				return err
			}
		}
	}

	if i.reporter != nil {
		event := progress.Event{
			RunID:         i.config.RunID,
			Line:          lines.Line(),
			RowsCommitted: i.loader.Committed(),
			Total:         i.config.TotalLines,
			Time:          time.Now(),
			Done:          true,
		}
		if err := i.reporter.Report(ctx, event); err != nil {
			i.logger.Warn("Failed to report progress", "error", err)
		}
	}
	return nil
}

func (i *Ingester) createTable(ctx context.Context, s *parser.SchemaStatement) error {
	tree, table, err := schema.Normalize(s.Tree)
	if err != nil {
		return fmt.Errorf("line %d: %w", s.Line, err)
	}

	query, err := sqltree.Deparse(tree)
	if err != nil {
		return fmt.Errorf("table %s, line %d: failed to render statement: %w", table.Name, s.Line, err)
	}

	if err := i.store.Execute(ctx, query); err != nil {
		return fmt.Errorf("table %s, line %d: %w", table.Name, s.Line, err)
	}

	i.registry.Register(table)
	i.stats.SchemaStatements++
	i.logger.Debug("Created table", "table", table.Name, "columns", len(table.Columns), "line", s.Line)
	return nil
}

func (i *Ingester) loadCopy(ctx context.Context, s *parser.CopyStatement, lines *parser.LineReader) error {
	table, ok := i.registry.Lookup(s.Table)
	if !ok {
		return fmt.Errorf("%w: table %s, line %d: table was never declared", converter.ErrSchemaMismatch, s.Table, s.Line)
	}

	plan, err := converter.NewPlan(table, s.Columns)
	if err != nil {
		return fmt.Errorf("line %d: %w", s.Line, err)
	}

	result, err := i.loader.Load(ctx, lines, plan)
	i.stats.RowsCommitted += result.RowsCommitted
	i.stats.RowsSkipped += result.RowsSkipped
	i.stats.ChunksFlushed += result.Chunks
	if err != nil {
		return err
	}

	i.stats.CopyBlocks++
	i.stats.TablesProcessed = append(i.stats.TablesProcessed, s.Table)
	i.logger.Info("Loaded table data",
		"table", s.Table,
		"rows_committed", result.RowsCommitted,
		"rows_skipped", result.RowsSkipped,
		"end_line", result.SentinelLine,
	)
	return nil
}

// Export writes every registered table, in declaration order, to
// <OutputDir>/<Prefix><table>.<ext>, and returns the written paths.
func (i *Ingester) Export(ctx context.Context) ([]string, error) {
	dir := i.config.OutputDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var written []string
	for _, name := range i.registry.Tables() {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		path := filepath.Join(dir, i.config.Prefix+name+"."+i.config.Format.Extension())
		if err := i.store.Export(ctx, name, path, i.config.Format); err != nil {
			return written, err
		}

		written = append(written, path)
		i.logger.Info("Exported table", "table", name, "path", path, "format", i.config.Format)
	}

	i.stats.FilesExported = written
	return written, nil
}

// logFinalStatistics logs final ingestion statistics
func (i *Ingester) logFinalStatistics(ctx context.Context) {
	duration := i.stats.EndTime.Sub(i.stats.StartTime)

	logLevel := slog.LevelInfo
	if i.stats.ParseErrors > 0 {
		logLevel = slog.LevelWarn
	}

	logFields := []any{
		"duration", duration,
		"lines_read", i.stats.LinesRead,
		"statements_read", i.stats.StatementsRead,
		"schema_statements", i.stats.SchemaStatements,
		"copy_blocks", i.stats.CopyBlocks,
		"other_statements", i.stats.OtherStatements,
		"parse_errors", i.stats.ParseErrors,
		"rows_committed", i.stats.RowsCommitted,
		"rows_skipped", i.stats.RowsSkipped,
		"chunks_flushed", i.stats.ChunksFlushed,
		"tables_declared", i.registry.Len(),
		"tables_list", i.stats.TablesProcessed,
		"files_exported", len(i.stats.FilesExported),
	}

	if i.stats.RowsCommitted > 0 && duration.Seconds() > 0 {
		rate := float64(i.stats.RowsCommitted) / duration.Seconds()
		logFields = append(logFields, "average_rate", fmt.Sprintf("%.1f rows/sec", rate))
	}

	i.logger.Log(ctx, logLevel, "Ingestion completed", logFields...)
}
