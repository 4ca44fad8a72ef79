package schema

// TypeTag is the decode class of a column.
type TypeTag int

const (
	// Scalar columns decode to a string or NULL.
	Scalar TypeTag = iota
	// Array columns decode to a list of strings or NULL.
	Array
	// GeometryAsText columns held a geometric type; values arrive as text
	// (hex EWKB for PostGIS) and are stored as text.
	GeometryAsText
	// UserDefinedAsText columns held a custom type (enum, domain, extension
	// type) and are stored as text.
	UserDefinedAsText
)

func (t TypeTag) String() string {
	switch t {
	case Scalar:
		return "scalar"
	case Array:
		return "array"
	case GeometryAsText:
		return "geometry"
	case UserDefinedAsText:
		return "user_defined"
	default:
		return "unknown"
	}
}

// Column is one column of a table, in declaration order.
type Column struct {
	Name string
	Type TypeTag
}

// Table is the ordered column list of one table.
type Table struct {
	Name    string
	Columns []Column

	index map[string]int
}

// NewTable creates a table schema.
func NewTable(name string, columns []Column) *Table {
	t := &Table{
		Name:    name,
		Columns: columns,
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		t.index[c.Name] = i
	}
	return t
}

// Lookup returns the type of a column.
func (t *Table) Lookup(column string) (TypeTag, bool) {
	i, ok := t.index[column]
	if !ok {
		return Scalar, false
	}
	return t.Columns[i].Type, true
}

// ColumnNames returns the column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Registry maps table names to their schemas for one ingestion run.
// Registering a name twice replaces the earlier schema but keeps its
// original position in Tables.
type Registry struct {
	tables map[string]*Table
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]*Table)}
}

// Register adds or replaces a table schema.
func (r *Registry) Register(t *Table) {
	if _, exists := r.tables[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tables[t.Name] = t
}

// Lookup returns the schema for a table.
func (r *Registry) Lookup(name string) (*Table, bool) {
	t, ok := r.tables[name]
	return t, ok
}

// Tables returns table names in first-registration order.
func (r *Registry) Tables() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tables.
func (r *Registry) Len() int {
	return len(r.order)
}
