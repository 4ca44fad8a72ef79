package parser

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxLineSize bounds a single dump line. COPY rows carrying large
// text or bytea values easily exceed bufio's 64KiB default.
const DefaultMaxLineSize = 64 * 1024 * 1024

// LineReader reads lines from one or more sources as a single stream and
// numbers them from 1. The counter is shared by everything reading from it,
// so statement scanning and COPY data consumption agree on line numbers.
type LineReader struct {
	sources     []io.Reader
	scanner     *bufio.Scanner
	maxLineSize int
	line        int
}

// NewLineReader creates a reader over sources, read in order.
func NewLineReader(maxLineSize int, sources ...io.Reader) *LineReader {
	if maxLineSize <= 0 {
		maxLineSize = DefaultMaxLineSize
	}
	return &LineReader{
		sources:     sources,
		maxLineSize: maxLineSize,
	}
}

// Next returns the next line without its line terminator. It returns io.EOF
// once every source is exhausted.
func (r *LineReader) Next() (string, error) {
	for {
		if r.scanner == nil {
			if len(r.sources) == 0 {
				return "", io.EOF
			}
			r.scanner = bufio.NewScanner(r.sources[0])
			r.scanner.Buffer(make([]byte, 0, min(64*1024, r.maxLineSize)), r.maxLineSize)
			r.sources = r.sources[1:]
		}

		if r.scanner.Scan() {
			r.line++
			return strings.TrimSuffix(r.scanner.Text(), "\r"), nil
		}
		if err := r.scanner.Err(); err != nil {
			return "", fmt.Errorf("error reading dump after line %d: %w", r.line, err)
		}
		r.scanner = nil
	}
}

// Line returns the number of the line most recently returned by Next.
func (r *LineReader) Line() int {
	return r.line
}
