package parser

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func scanAll(t *testing.T, input string) []RawStatement {
	t.Helper()
	scanner := NewStatementScanner(NewLineReader(0, strings.NewReader(input)))

	var out []RawStatement
	for {
		stmt, err := scanner.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		out = append(out, stmt)
	}
}

func TestStatementScanner_Next(t *testing.T) {
	dumpData := `--
-- PostgreSQL database dump
--

SET statement_timeout = 0;

CREATE TABLE public.users (
    id integer NOT NULL,
    name text
);

  -- indented comment
COPY public.users (id, name) FROM stdin;`

	statements := scanAll(t, dumpData)

	if len(statements) != 3 {
		t.Fatalf("Expected 3 statements, got %d", len(statements))
	}

	expected := []RawStatement{
		{Text: "SET statement_timeout = 0;", Line: 5},
		{Text: "CREATE TABLE public.users (\n    id integer NOT NULL,\n    name text\n);", Line: 10},
		{Text: "COPY public.users (id, name) FROM stdin;", Line: 13},
	}
	for i, want := range expected {
		if statements[i] != want {
			t.Errorf("statement %d = %+v, want %+v", i, statements[i], want)
		}
	}
}

func TestStatementScanner_ReproducesContent(t *testing.T) {
	dumpData := "-- header\nSET a = 1;\nCREATE TABLE t (\n  id int\n);\n-- trailing\nSELECT 1;\n"

	var joined []string
	for _, stmt := range scanAll(t, dumpData) {
		joined = append(joined, stmt.Text)
	}

	var nonComment []string
	for _, line := range strings.Split(strings.TrimSpace(dumpData), "\n") {
		if !strings.HasPrefix(line, "--") {
			nonComment = append(nonComment, line)
		}
	}

	if got, want := strings.Join(joined, "\n"), strings.Join(nonComment, "\n"); got != want {
		t.Errorf("concatenated statements:\n%s\nwant:\n%s", got, want)
	}
}

func TestStatementScanner_TrailingWhitespace(t *testing.T) {
	statements := scanAll(t, "SET a = 1;   \t\nSET b = 2;\r\n")

	if len(statements) != 2 {
		t.Fatalf("Expected 2 statements, got %d", len(statements))
	}
	if statements[0].Text != "SET a = 1;" || statements[1].Text != "SET b = 2;" {
		t.Errorf("unexpected statements: %+v", statements)
	}
}

func TestStatementScanner_SkipsMetaCommands(t *testing.T) {
	statements := scanAll(t, "\\restrict abc123\nSET a = 1;\n\\unrestrict abc123\n")

	if len(statements) != 1 {
		t.Fatalf("Expected 1 statement, got %d", len(statements))
	}
	if statements[0].Text != "SET a = 1;" || statements[0].Line != 2 {
		t.Errorf("unexpected statement: %+v", statements[0])
	}
}

func TestStatementScanner_UnterminatedTail(t *testing.T) {
	statements := scanAll(t, "SET a = 1;\nCREATE TABLE t (\n  id int\n")

	if len(statements) != 1 {
		t.Errorf("Expected the unterminated tail to be discarded, got %d statements", len(statements))
	}
}

func TestStatementScanner_SemicolonInsideLiteral(t *testing.T) {
	// A line-final semicolon inside a literal ends the statement early.
	statements := scanAll(t, "COMMENT ON TABLE t IS 'a;\nb';\n")

	if len(statements) != 2 {
		t.Fatalf("Expected 2 fragments, got %d", len(statements))
	}
	if statements[0].Text != "COMMENT ON TABLE t IS 'a;" {
		t.Errorf("first fragment = %q", statements[0].Text)
	}
}

func TestLineReader_MultipleSources(t *testing.T) {
	reader := NewLineReader(0,
		strings.NewReader("a\nb"),
		strings.NewReader("c\n"),
		strings.NewReader(""),
		strings.NewReader("d\n"),
	)

	var lines []string
	for {
		line, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		lines = append(lines, line)
	}

	if strings.Join(lines, ",") != "a,b,c,d" {
		t.Errorf("lines = %v", lines)
	}
	if reader.Line() != 4 {
		t.Errorf("Line() = %d, want 4", reader.Line())
	}

	// exhausted readers stay exhausted
	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestLineReader_LineTooLong(t *testing.T) {
	reader := NewLineReader(16, strings.NewReader(strings.Repeat("x", 100)+"\n"))

	_, err := reader.Next()
	if err == nil || errors.Is(err, io.EOF) {
		t.Errorf("expected a read error for an oversized line, got %v", err)
	}
}
