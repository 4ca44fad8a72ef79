package parser

import (
	"errors"
	"io"
	"log/slog"
	"strings"
)

const (
	commentMarker = "--"
	terminator    = ";"
)

// RawStatement is the text of one statement and the line it ended on.
type RawStatement struct {
	Text string
	Line int
}

// StatementScanner splits a dump into statements. A statement ends at the
// first line whose right-trimmed content ends with a semicolon. Semicolons
// inside string literals are not recognised; pg_dump output never places a
// line-final semicolon inside a literal of a CREATE TABLE or COPY statement.
type StatementScanner struct {
	lines  *LineReader
	logger *slog.Logger
}

// NewStatementScanner creates a scanner reading from lines.
func NewStatementScanner(lines *LineReader) *StatementScanner {
	return &StatementScanner{
		lines:  lines,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger used for discarded input.
func (s *StatementScanner) WithLogger(logger *slog.Logger) *StatementScanner {
	s.logger = logger
	return s
}

// Next returns the next statement, or io.EOF when the input is exhausted.
func (s *StatementScanner) Next() (RawStatement, error) {
	var current strings.Builder

	for {
		line, err := s.lines.Next()
		if errors.Is(err, io.EOF) {
			if current.Len() > 0 {
				s.logger.Warn("Discarding unterminated statement at end of input",
					"line", s.lines.Line(),
					"length", current.Len(),
				)
			}
			return RawStatement{}, io.EOF
		}
		if err != nil {
			return RawStatement{}, err
		}

		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, commentMarker) {
			continue
		}

		// psql meta-commands (\connect, \restrict in 17.6+) are client-side
		// and never terminated by a semicolon.
		if current.Len() == 0 && strings.HasPrefix(trimmed, `\`) {
			s.logger.Debug("Skipping psql meta-command", "line", s.lines.Line())
			continue
		}

		line = strings.TrimRight(line, " \t")
		if current.Len() == 0 && line == "" {
			continue
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)

		if strings.HasSuffix(line, terminator) {
			return RawStatement{Text: current.String(), Line: s.lines.Line()}, nil
		}
	}
}
