// Package converter turns COPY data lines into typed rows.
//
// Each line of a COPY ... FROM stdin block holds one tab-separated field per
// column of the directive. `\N` is NULL for every type; array columns carry
// flat `{a,b,c}` literals and decode to []string; everything else is kept as
// the raw field text and cast by the storage engine on insert.
package converter

import (
	"errors"
	"fmt"
	"strings"

	"pg-dedump/internal/schema"
)

const (
	nullMarker     = `\N`
	fieldSeparator = "\t"
	arraySeparator = ","
)

// ErrSchemaMismatch means a COPY directive names a table or column the schema
// registry does not know.
var ErrSchemaMismatch = errors.New("copy directive does not match table schema")

// Plan is the resolved column layout of one COPY directive.
type Plan struct {
	Table   string
	Columns []string
	Types   []schema.TypeTag
}

// NewPlan resolves every directive column against the table schema. An empty
// column list means all columns in declaration order.
func NewPlan(table *schema.Table, columns []string) (*Plan, error) {
	if len(columns) == 0 {
		columns = table.ColumnNames()
	}

	types := make([]schema.TypeTag, len(columns))
	for i, col := range columns {
		tag, ok := table.Lookup(col)
		if !ok {
			return nil, fmt.Errorf("%w: column %q not in table %s", ErrSchemaMismatch, col, table.Name)
		}
		types[i] = tag
	}

	return &Plan{
		Table:   table.Name,
		Columns: columns,
		Types:   types,
	}, nil
}

// Decode converts one data line. Fields beyond the column list are dropped;
// missing trailing fields decode to NULL.
func (p *Plan) Decode(line string) []any {
	fields := strings.Split(line, fieldSeparator)

	row := make([]any, len(p.Columns))
	for i := range row {
		if i >= len(fields) {
			break
		}
		row[i] = ConvertValue(fields[i], p.Types[i])
	}
	return row
}

// ConvertValue converts one field according to its column type.
func ConvertValue(field string, tag schema.TypeTag) any {
	if field == nullMarker {
		return nil
	}

	if tag == schema.Array {
		return splitArray(field)
	}

	return field
}

// splitArray strips the enclosing braces and splits on commas. Quoted
// elements and nested arrays are not interpreted.
func splitArray(field string) []string {
	if len(field) < 2 {
		return []string{}
	}
	inner := field[1 : len(field)-1]
	if inner == "" {
		return []string{}
	}
	return strings.Split(inner, arraySeparator)
}
