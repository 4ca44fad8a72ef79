package parser

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"pg-dedump/internal/sqltree"
)

// DialectPostgres is the only dialect the statement parser understands.
const DialectPostgres = "postgres"

// ErrParse marks statements the SQL parser rejected.
var ErrParse = errors.New("failed to parse statement")

// SQLParser classifies dump statements using the PostgreSQL parser.
type SQLParser struct {
	logger   *slog.Logger
	failures int
}

// NewSQLParser creates a parser for the given dialect.
func NewSQLParser(dialect string) (*SQLParser, error) {
	switch strings.ToLower(dialect) {
	case "", DialectPostgres, "postgresql", "pg":
	default:
		return nil, fmt.Errorf("unsupported SQL dialect: %s", dialect)
	}
	return &SQLParser{logger: slog.Default()}, nil
}

// WithLogger sets the logger used to report skipped statements.
func (p *SQLParser) WithLogger(logger *slog.Logger) *SQLParser {
	p.logger = logger
	return p
}

// Parse parses a raw statement and classifies every statement it contains.
func (p *SQLParser) Parse(raw RawStatement) ([]Statement, error) {
	trees, err := sqltree.Parse(raw.Text)
	if err != nil {
		return nil, fmt.Errorf("%w ending at line %d: %v", ErrParse, raw.Line, err)
	}

	statements := make([]Statement, 0, len(trees))
	for _, tree := range trees {
		statements = append(statements, p.classify(raw, tree))
	}
	return statements, nil
}

// Classify is Parse for callers that must keep going: a statement that fails
// to parse is logged and returned as an OtherStatement.
func (p *SQLParser) Classify(raw RawStatement) []Statement {
	statements, err := p.Parse(raw)
	if err != nil {
		p.failures++
		p.logger.Warn("Skipping unparsable statement",
			"line", raw.Line,
			"error", err,
			"sql", truncate(raw.Text, 200),
		)
		return []Statement{&OtherStatement{SQL: raw.Text, Line: raw.Line}}
	}
	return statements
}

// Failures returns how many statements Classify could not parse.
func (p *SQLParser) Failures() int {
	return p.failures
}

func (p *SQLParser) classify(raw RawStatement, tree sqltree.Node) Statement {
	switch tree.Kind() {
	case "CreateStmt":
		return &SchemaStatement{SQL: raw.Text, Tree: tree, Line: raw.Line}

	case "CopyStmt":
		// Only COPY ... FROM stdin carries an inline data block.
		if tree.Bool("is_from") && !tree.Bool("is_program") && tree.Text("filename") == "" && tree.Child("query") == nil {
			rel := tree.Child("relation")
			if rel != nil {
				return &CopyStatement{
					SQL:     raw.Text,
					Table:   rel.Text("relname"),
					Columns: tree.Strings("attlist"),
					Line:    raw.Line,
				}
			}
		}
	}

	return &OtherStatement{SQL: raw.Text, Kind: tree.Kind(), Line: raw.Line}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
