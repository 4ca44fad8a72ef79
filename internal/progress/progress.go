// Package progress reports ingestion progress to the log and, optionally,
// to a Redis key and channel other tools can watch.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Event is a snapshot of a running ingestion.
type Event struct {
	RunID         string    `json:"run_id"`
	Table         string    `json:"table,omitempty"`
	Line          int       `json:"line"`
	Checkpoint    int       `json:"checkpoint"`
	RowsCommitted int64     `json:"rows_committed"`
	Total         int       `json:"total,omitempty"`
	Time          time.Time `json:"time"`
	Done          bool      `json:"done"`
}

// Percentage returns how far through the input Line is, or -1 without a
// total line hint.
func (e Event) Percentage() float64 {
	if e.Total <= 0 {
		return -1
	}
	p := float64(e.Line) / float64(e.Total) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Reporter receives progress events after every committed chunk and once at
// the end of the run.
type Reporter interface {
	Report(ctx context.Context, event Event) error
	Close() error
}

// LogReporter writes progress to a slog logger at most once per interval.
// The final event is always written.
type LogReporter struct {
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewLogReporter creates a log reporter. An interval of zero logs every event.
func NewLogReporter(logger *slog.Logger, interval time.Duration) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

func (r *LogReporter) Report(ctx context.Context, event Event) error {
	r.mu.Lock()
	now := r.now()
	if !event.Done && !r.last.IsZero() && now.Sub(r.last) < r.interval {
		r.mu.Unlock()
		return nil
	}
	r.last = now
	r.mu.Unlock()

	fields := []any{
		"table", event.Table,
		"line", event.Line,
		"checkpoint", event.Checkpoint,
		"rows_committed", event.RowsCommitted,
	}
	if p := event.Percentage(); p >= 0 {
		fields = append(fields, "percentage", fmt.Sprintf("%.1f%%", p))
	}

	msg := "Ingestion progress"
	if event.Done {
		msg = "Ingestion finished"
	}
	r.logger.Log(ctx, slog.LevelInfo, msg, fields...)
	return nil
}

func (r *LogReporter) Close() error {
	return nil
}

// Tee fans events out to several reporters.
type Tee []Reporter

func (t Tee) Report(ctx context.Context, event Event) error {
	var errs []error
	for _, r := range t {
		if err := r.Report(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t Tee) Close() error {
	var errs []error
	for _, r := range t {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}
