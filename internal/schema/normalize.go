package schema

import (
	"errors"
	"fmt"
	"strings"

	"pg-dedump/internal/sqltree"
)

// ErrNotCreateTable is returned when Normalize is given any other statement.
var ErrNotCreateTable = errors.New("not a CREATE TABLE statement")

const textType = "text"

type typeClass int

const (
	classBuiltin typeClass = iota
	classTextFallback
	classGeometry
	classUserDefined
)

// PostGIS types plus the PostgreSQL geometric builtins. Dumps carry their
// values as text, so only a text column can hold them.
var geometricTypes = map[string]bool{
	"geometry":  true,
	"geography": true,
	"box2d":     true,
	"box3d":     true,
	"point":     true,
	"line":      true,
	"lseg":      true,
	"box":       true,
	"path":      true,
	"polygon":   true,
	"circle":    true,
}

// Builtins the storage engine has no type for, or whose COPY text form it
// cannot cast (bytea's \x hex). Kept as scalars, stored as text.
var textFallbackTypes = map[string]bool{
	"bytea":         true,
	"json":          true,
	"jsonb":         true,
	"xml":           true,
	"money":         true,
	"inet":          true,
	"cidr":          true,
	"macaddr":       true,
	"macaddr8":      true,
	"tsvector":      true,
	"tsquery":       true,
	"pg_lsn":        true,
	"txid_snapshot": true,
	"regclass":      true,
	"regtype":       true,
	"oid":           true,
	"name":          true,
	"int2vector":    true,
	"oidvector":     true,
}

// Builtins that may appear without a pg_catalog qualifier in a parse tree.
var builtinTypes = map[string]bool{
	"text":        true,
	"varchar":     true,
	"char":        true,
	"bpchar":      true,
	"uuid":        true,
	"date":        true,
	"time":        true,
	"timetz":      true,
	"timestamp":   true,
	"timestamptz": true,
	"interval":    true,
	"bool":        true,
	"boolean":     true,
	"int":         true,
	"int2":        true,
	"int4":        true,
	"int8":        true,
	"integer":     true,
	"smallint":    true,
	"bigint":      true,
	"serial":      true,
	"serial4":     true,
	"serial8":     true,
	"bigserial":   true,
	"smallserial": true,
	"float4":      true,
	"float8":      true,
	"real":        true,
	"numeric":     true,
	"decimal":     true,
	"bit":         true,
	"varbit":      true,
}

func classify(names []string) typeClass {
	if len(names) == 0 {
		return classBuiltin
	}

	name := strings.ToLower(names[len(names)-1])
	qualifier := ""
	if len(names) > 1 {
		qualifier = strings.ToLower(names[0])
	}

	switch {
	case geometricTypes[name]:
		return classGeometry
	case qualifier != "" && qualifier != "pg_catalog":
		return classUserDefined
	case textFallbackTypes[name]:
		return classTextFallback
	case qualifier == "pg_catalog" || builtinTypes[name]:
		return classBuiltin
	default:
		return classUserDefined
	}
}

func tagOf(typeName sqltree.Node) TypeTag {
	if typeName == nil {
		return Scalar
	}
	if len(typeName.List("array_bounds")) > 0 {
		return Array
	}

	switch classify(typeName.Strings("names")) {
	case classGeometry:
		return GeometryAsText
	case classUserDefined:
		return UserDefinedAsText
	default:
		return Scalar
	}
}

// Normalize rewrites a CREATE TABLE tree into the form executed against the
// storage engine and derives the table schema from it:
//
//   - table references lose their schema and catalog qualifiers
//   - CREATE TABLE becomes CREATE TABLE IF NOT EXISTS
//   - user-defined, geometric and engine-unsupported types become text,
//     keeping any array bounds
//   - column COLLATE clauses are dropped
//
// The input tree is not modified.
func Normalize(tree sqltree.Node) (sqltree.Node, *Table, error) {
	if tree.Kind() != "CreateStmt" {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotCreateTable, tree.Kind())
	}

	table, err := deriveTable(tree)
	if err != nil {
		return nil, nil, err
	}

	var setErr error
	set := func(n sqltree.Node, field string, value any) {
		if err := n.Set(field, value); err != nil && setErr == nil {
			setErr = err
		}
	}

	normalized, err := tree.Replace(
		func(n sqltree.Node) bool {
			switch n.Kind() {
			case "RangeVar", "CreateStmt", "ColumnDef", "TypeName":
				return true
			}
			return false
		},
		func(n sqltree.Node) sqltree.Node {
			switch n.Kind() {
			case "RangeVar":
				set(n, "schemaname", nil)
				set(n, "catalogname", nil)
			case "CreateStmt":
				set(n, "if_not_exists", true)
			case "ColumnDef":
				// collations are pg_catalog or schema-qualified names
				set(n, "coll_clause", nil)
			case "TypeName":
				if classify(n.Strings("names")) != classBuiltin {
					set(n, "names", []string{textType})
					set(n, "typmods", nil)
				}
			}
			return n
		},
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to normalize table %s: %w", table.Name, err)
	}
	if setErr != nil {
		return nil, nil, fmt.Errorf("failed to normalize table %s: %w", table.Name, setErr)
	}

	return normalized, table, nil
}

func deriveTable(tree sqltree.Node) (*Table, error) {
	rel := tree.Child("relation")
	if rel == nil || rel.Text("relname") == "" {
		return nil, fmt.Errorf("CREATE TABLE statement missing relation")
	}

	columns := make([]Column, 0)
	for _, element := range tree.List("table_elts") {
		// table constraints and LIKE clauses share the list with columns
		if element.Kind() != "ColumnDef" {
			continue
		}
		columns = append(columns, Column{
			Name: element.Text("colname"),
			Type: tagOf(element.Child("type_name")),
		})
	}

	return NewTable(rel.Text("relname"), columns), nil
}
