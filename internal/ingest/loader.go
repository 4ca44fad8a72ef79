package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"pg-dedump/internal/converter"
	"pg-dedump/internal/progress"
	"pg-dedump/internal/storage"
)

// ErrTruncatedInput means the input ended inside a COPY data block.
var ErrTruncatedInput = errors.New("input ended before end-of-data marker")

const endOfData = `\.`

// LineSource is a line stream with a shared line counter.
type LineSource interface {
	Next() (string, error)
	Line() int
}

// State is the position of the loader within a COPY data block.
type State int

const (
	StateAwaitingLine State = iota
	StateBuffering
	StateFlushing
	StateDraining
	StateDrained
)

func (s State) String() string {
	switch s {
	case StateAwaitingLine:
		return "AWAITING_LINE"
	case StateBuffering:
		return "BUFFERING"
	case StateFlushing:
		return "FLUSHING"
	case StateDraining:
		return "DRAINING"
	case StateDrained:
		return "DRAINED"
	default:
		return "UNKNOWN"
	}
}

// LoadResult describes one consumed data block.
type LoadResult struct {
	Table         string
	Checkpoint    int // checkpoint found when the block started
	SentinelLine  int
	RowsCommitted int64
	RowsSkipped   int64
	Chunks        int
}

// Loader consumes COPY data blocks and commits them in chunks, each together
// with the table's checkpoint. Rows at or below the stored checkpoint were
// committed by an earlier run and are skipped.
type Loader struct {
	store     storage.Store
	chunkSize int
	reporter  progress.Reporter
	logger    *slog.Logger

	runID      string
	totalLines int
	committed  int64
	state      State
}

// NewLoader creates a loader. chunkSize must be at least 1.
func NewLoader(store storage.Store, chunkSize int, reporter progress.Reporter) (*Loader, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChunkSize, chunkSize)
	}
	return &Loader{
		store:     store,
		chunkSize: chunkSize,
		reporter:  reporter,
		logger:    slog.Default(),
		state:     StateDrained,
	}, nil
}

// WithLogger sets the logger used for chunk events.
func (l *Loader) WithLogger(logger *slog.Logger) *Loader {
	l.logger = logger
	return l
}

// WithRun tags progress events with a run id and the expected input size.
func (l *Loader) WithRun(runID string, totalLines int) *Loader {
	l.runID = runID
	l.totalLines = totalLines
	return l
}

// State returns the current loader state.
func (l *Loader) State() State {
	return l.state
}

// Committed returns the rows committed by this loader across all blocks.
func (l *Loader) Committed() int64 {
	return l.committed
}

// Load reads the data block following a COPY directive, up to and including
// its end-of-data line. The first line read is the first data line.
func (l *Loader) Load(ctx context.Context, lines LineSource, plan *converter.Plan) (LoadResult, error) {
	result := LoadResult{Table: plan.Table}

	checkpoint, err := l.store.Checkpoint(ctx, plan.Table)
	if err != nil {
		return result, err
	}
	result.Checkpoint = checkpoint
	if checkpoint > 0 {
		l.logger.Info("Resuming table from checkpoint", "table", plan.Table, "checkpoint", checkpoint)
	}

	chunk := l.newChunk(plan)
	l.state = StateAwaitingLine

	for {
		line, err := lines.Next()
		if errors.Is(err, io.EOF) {
			return result, fmt.Errorf("%w: table %s, line %d", ErrTruncatedInput, plan.Table, lines.Line())
		}
		if err != nil {
			return result, err
		}
		n := lines.Line()

		if strings.TrimRight(line, " \t\r") == endOfData {
			l.state = StateDraining
			if err := l.flush(ctx, chunk, &result); err != nil {
				return result, err
			}
			l.state = StateDrained
			result.SentinelLine = n
			return result, nil
		}

		if n <= checkpoint {
			result.RowsSkipped++
			continue
		}

		l.state = StateBuffering
		chunk.Rows = append(chunk.Rows, plan.Decode(line))
		chunk.LastLine = n

		if len(chunk.Rows) >= l.chunkSize {
			l.state = StateFlushing
			if err := l.flush(ctx, chunk, &result); err != nil {
				return result, err
			}
			l.state = StateAwaitingLine

			if err := ctx.Err(); err != nil {
				return result, err
			}
		}
	}
}

func (l *Loader) newChunk(plan *converter.Plan) *storage.Chunk {
	return &storage.Chunk{
		Table:   plan.Table,
		Columns: plan.Columns,
		Types:   plan.Types,
		Rows:    make([][]any, 0, l.chunkSize),
	}
}

func (l *Loader) flush(ctx context.Context, chunk *storage.Chunk, result *LoadResult) error {
	if len(chunk.Rows) == 0 {
		return nil
	}

	if err := l.store.InsertChunk(ctx, chunk); err != nil {
		return fmt.Errorf("table %s, line %d: %w", chunk.Table, chunk.LastLine, err)
	}

	rows := int64(len(chunk.Rows))
	result.RowsCommitted += rows
	result.Chunks++
	l.committed += rows

	l.logger.Debug("Flushed chunk",
		"table", chunk.Table,
		"rows", rows,
		"checkpoint", chunk.LastLine,
	)

	if l.reporter != nil {
		event := progress.Event{
			RunID:         l.runID,
			Table:         chunk.Table,
			Line:          chunk.LastLine,
			Checkpoint:    chunk.LastLine,
			RowsCommitted: l.committed,
			Total:         l.totalLines,
			Time:          time.Now(),
		}
		if err := l.reporter.Report(ctx, event); err != nil {
			l.logger.Warn("Failed to report progress", "error", err)
		}
	}

	chunk.Rows = chunk.Rows[:0]
	return nil
}
