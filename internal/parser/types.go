package parser

import (
	"pg-dedump/internal/sqltree"
)

// Statement is a classified statement from a dump.
type Statement interface {
	Type() string
	EndLine() int // line holding the terminating semicolon
}

// SchemaStatement is a CREATE TABLE statement.
type SchemaStatement struct {
	SQL  string       // The raw SQL statement
	Tree sqltree.Node // Parsed statement
	Line int          // Line the statement ended on
}

// Type returns the statement kind.
func (s *SchemaStatement) Type() string {
	return "schema"
}

// EndLine returns the line the statement ended on.
func (s *SchemaStatement) EndLine() int {
	return s.Line
}

// CopyStatement is a COPY ... FROM stdin directive. Its data lines follow it
// in the dump, up to a line containing only `\.`.
type CopyStatement struct {
	SQL     string
	Table   string   // Unqualified table name
	Columns []string // Column list, empty if the directive has none
	Line    int
}

// Type returns the statement kind.
func (c *CopyStatement) Type() string {
	return "copy"
}

// EndLine returns the line the statement ended on.
func (c *CopyStatement) EndLine() int {
	return c.Line
}

// OtherStatement is any statement the pipeline does not act on.
type OtherStatement struct {
	SQL  string
	Kind string // Root node kind, empty when the statement did not parse
	Line int
}

// Type returns the statement kind.
func (o *OtherStatement) Type() string {
	return "other"
}

// EndLine returns the line the statement ended on.
func (o *OtherStatement) EndLine() int {
	return o.Line
}
