package sqltree

import (
	"reflect"
	"strings"
	"testing"
)

func parseOne(t *testing.T, sql string) Node {
	t.Helper()
	nodes, err := Parse(sql)
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", sql, err)
	}
	if len(nodes) != 1 {
		t.Fatalf("Parse(%q) returned %d statements, want 1", sql, len(nodes))
	}
	return nodes[0]
}

func TestParse_Kinds(t *testing.T) {
	tests := []struct {
		sql  string
		kind string
	}{
		{"CREATE TABLE t (id int);", "CreateStmt"},
		{"COPY t (id) FROM stdin;", "CopyStmt"},
		{"SET statement_timeout = 0;", "VariableSetStmt"},
		{"ALTER TABLE ONLY t ADD CONSTRAINT t_pkey PRIMARY KEY (id);", "AlterTableStmt"},
	}

	for _, tt := range tests {
		if got := parseOne(t, tt.sql).Kind(); got != tt.kind {
			t.Errorf("Kind() for %q = %q, want %q", tt.sql, got, tt.kind)
		}
	}
}

func TestParse_MultipleStatements(t *testing.T) {
	nodes, err := Parse("SET a = 1; SET b = 2;")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(nodes) != 2 {
		t.Errorf("expected 2 statements, got %d", len(nodes))
	}
}

func TestParse_Error(t *testing.T) {
	if _, err := Parse("CREATE TABLE (;"); err == nil {
		t.Error("expected a parse error")
	}
}

func TestNode_Accessors(t *testing.T) {
	root := parseOne(t, "COPY public.orders (id, tags) FROM stdin;")

	if !root.Bool("is_from") {
		t.Error("is_from should be true for COPY ... FROM")
	}
	if root.Text("filename") != "" {
		t.Errorf("filename = %q, want empty", root.Text("filename"))
	}

	rel := root.Child("relation")
	if rel == nil {
		t.Fatal("relation child missing")
	}
	if rel.Kind() != "RangeVar" {
		t.Errorf("relation kind = %q", rel.Kind())
	}
	if rel.Text("schemaname") != "public" || rel.Text("relname") != "orders" {
		t.Errorf("relation = %s.%s", rel.Text("schemaname"), rel.Text("relname"))
	}

	if got := root.Strings("attlist"); !reflect.DeepEqual(got, []string{"id", "tags"}) {
		t.Errorf("attlist = %v", got)
	}

	if root.Child("no_such_field") != nil {
		t.Error("unknown field should return nil")
	}
	if root.Text("no_such_field") != "" {
		t.Error("unknown field should return empty text")
	}
}

func TestNode_Children(t *testing.T) {
	root := parseOne(t, "CREATE TABLE t (id int, name text);")

	var kinds []string
	for _, c := range root.Children() {
		kinds = append(kinds, c.Kind())
	}

	// relation first, then the two column definitions
	want := []string{"RangeVar", "ColumnDef", "ColumnDef"}
	if !reflect.DeepEqual(kinds, want) {
		t.Errorf("children kinds = %v, want %v", kinds, want)
	}

	cols := root.List("table_elts")
	if len(cols) != 2 {
		t.Fatalf("table_elts len = %d", len(cols))
	}
	if cols[1].Text("colname") != "name" {
		t.Errorf("second column = %q", cols[1].Text("colname"))
	}
	if got := cols[1].Child("type_name").Strings("names"); !reflect.DeepEqual(got, []string{"text"}) {
		t.Errorf("type names = %v", got)
	}
}

func TestNode_ReplaceLeavesInputUntouched(t *testing.T) {
	root := parseOne(t, "CREATE TABLE shop.orders (id int);")

	out, err := root.Replace(
		func(n Node) bool { return n.Kind() == "RangeVar" },
		func(n Node) Node {
			if err := n.Set("schemaname", nil); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			return n
		},
	)
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	if got := out.Child("relation").Text("schemaname"); got != "" {
		t.Errorf("rewritten schemaname = %q, want empty", got)
	}
	if got := root.Child("relation").Text("schemaname"); got != "shop" {
		t.Errorf("input schemaname = %q, want shop", got)
	}
}

func TestNode_ReplaceWithNewNode(t *testing.T) {
	root := parseOne(t, "CREATE TABLE t (a int, b int);")
	replacement := parseOne(t, "CREATE TABLE x (c text);").List("table_elts")[0]

	out, err := root.Replace(
		func(n Node) bool { return n.Kind() == "ColumnDef" && n.Text("colname") == "b" },
		func(Node) Node { return replacement },
	)
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	sql, err := Deparse(out)
	if err != nil {
		t.Fatalf("Deparse() error = %v", err)
	}
	if !strings.Contains(sql, "c text") || strings.Contains(sql, " b ") {
		t.Errorf("unexpected deparsed SQL: %s", sql)
	}
}

func TestNode_ReplaceRejectsWrongType(t *testing.T) {
	root := parseOne(t, "CREATE TABLE t (a int);")
	rangeVar := root.Child("relation")

	_, err := root.Replace(
		func(n Node) bool { return n.Kind() == "TypeName" },
		func(Node) Node { return rangeVar },
	)
	if err == nil {
		t.Error("expected an error when a TypeName is replaced by a RangeVar")
	}
}

func TestNode_Set(t *testing.T) {
	root := parseOne(t, "CREATE TABLE t (a int);")

	if err := root.Set("if_not_exists", true); err != nil {
		t.Fatalf("Set(bool) error = %v", err)
	}
	if !root.Bool("if_not_exists") {
		t.Error("if_not_exists not set")
	}

	typeName := root.List("table_elts")[0].Child("type_name")
	if err := typeName.Set("names", []string{"text"}); err != nil {
		t.Fatalf("Set([]string) error = %v", err)
	}

	sql, err := Deparse(root)
	if err != nil {
		t.Fatalf("Deparse() error = %v", err)
	}
	if !strings.Contains(sql, "IF NOT EXISTS") || !strings.Contains(sql, "a text") {
		t.Errorf("unexpected deparsed SQL: %s", sql)
	}

	if err := root.Set("if_not_exists", "yes"); err == nil {
		t.Error("expected an error assigning a string to a bool field")
	}
	if err := root.Set("missing", true); err == nil {
		t.Error("expected an error for an unknown field")
	}
}
