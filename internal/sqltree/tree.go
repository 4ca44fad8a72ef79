// Package sqltree exposes pg_query parse trees through a small generic node
// interface. Callers match nodes by kind and read or write fields by their
// protobuf names ("relname", "if_not_exists", ...) without depending on the
// generated pg_query types.
package sqltree

import (
	"fmt"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Node is a single node of a statement tree.
type Node interface {
	// Kind is the node type name, e.g. "CreateStmt", "RangeVar", "TypeName".
	Kind() string

	// Children returns every directly nested node in field declaration order.
	Children() []Node

	// Child returns the node stored in a singular field, or nil.
	Child(field string) Node

	// List returns the nodes stored in a repeated field.
	List(field string) []Node

	// Text returns a string field.
	Text(field string) string

	// Bool returns a boolean field.
	Bool(field string) bool

	// Strings returns a repeated field of String nodes as plain strings.
	// Qualified names ("public"."orders") and column lists are stored this way.
	Strings(field string) []string

	// Set assigns a field. Supported values are nil (clear), string, bool,
	// int, int32, []string (as String nodes) and Node.
	Set(field string, value any) error

	// Replace returns a rewritten copy of the tree. Every node for which match
	// returns true is passed to rewrite and substituted by its result; the
	// walk then continues into the substituted node. The receiver is left
	// untouched.
	Replace(match func(Node) bool, rewrite func(Node) Node) (Node, error)
}

type node struct {
	msg protoreflect.Message
}

var wrapperName = (&pg_query.Node{}).ProtoReflect().Descriptor().FullName()

// New wraps a pg_query statement node.
func New(stmt *pg_query.Node) Node {
	return &node{msg: stmt.ProtoReflect()}
}

// Parse parses SQL text and returns one tree per statement.
func Parse(sql string) ([]Node, error) {
	result, err := pg_query.Parse(sql)
	if err != nil {
		return nil, err
	}

	nodes := make([]Node, 0, len(result.Stmts))
	for _, raw := range result.Stmts {
		if raw.Stmt == nil {
			continue
		}
		nodes = append(nodes, New(raw.Stmt))
	}
	return nodes, nil
}

// Deparse renders a statement tree back to SQL text.
func Deparse(n Node) (string, error) {
	nd, ok := n.(*node)
	if !ok {
		return "", fmt.Errorf("sqltree: cannot deparse foreign node %T", n)
	}

	stmt, ok := nd.msg.Interface().(*pg_query.Node)
	if !ok {
		wrapped, err := wrap(nd.msg)
		if err != nil {
			return "", err
		}
		stmt = wrapped
	}

	return pg_query.Deparse(&pg_query.ParseResult{
		Stmts: []*pg_query.RawStmt{{Stmt: stmt}},
	})
}

func isWrapper(m protoreflect.Message) bool {
	return m.Descriptor().FullName() == wrapperName
}

// unwrap returns the payload of a pg_query.Node oneof wrapper, or m itself.
func unwrap(m protoreflect.Message) protoreflect.Message {
	if !isWrapper(m) {
		return m
	}
	fd := m.WhichOneof(m.Descriptor().Oneofs().Get(0))
	if fd == nil {
		return m
	}
	return m.Get(fd).Message()
}

// oneofField finds the wrapper field that holds messages of type md.
func oneofField(md protoreflect.MessageDescriptor) protoreflect.FieldDescriptor {
	fields := (&pg_query.Node{}).ProtoReflect().Descriptor().Oneofs().Get(0).Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if fd.Message() != nil && fd.Message().FullName() == md.FullName() {
			return fd
		}
	}
	return nil
}

func wrap(m protoreflect.Message) (*pg_query.Node, error) {
	fd := oneofField(m.Descriptor())
	if fd == nil {
		return nil, fmt.Errorf("sqltree: %s cannot be stored in a generic node", m.Descriptor().Name())
	}
	w := &pg_query.Node{}
	w.ProtoReflect().Set(fd, protoreflect.ValueOfMessage(m))
	return w, nil
}

func (n *node) payload() protoreflect.Message {
	return unwrap(n.msg)
}

func (n *node) field(name string) protoreflect.FieldDescriptor {
	return n.payload().Descriptor().Fields().ByName(protoreflect.Name(name))
}

func (n *node) Kind() string {
	return string(n.payload().Descriptor().Name())
}

func (n *node) Children() []Node {
	m := n.payload()
	var out []Node
	fields := m.Descriptor().Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if fd.Message() == nil || fd.IsMap() || !m.Has(fd) {
			continue
		}
		if fd.IsList() {
			list := m.Get(fd).List()
			for j := 0; j < list.Len(); j++ {
				out = append(out, &node{msg: list.Get(j).Message()})
			}
			continue
		}
		out = append(out, &node{msg: m.Get(fd).Message()})
	}
	return out
}

func (n *node) Child(field string) Node {
	fd := n.field(field)
	m := n.payload()
	if fd == nil || fd.Message() == nil || fd.IsList() || !m.Has(fd) {
		return nil
	}
	return &node{msg: m.Get(fd).Message()}
}

func (n *node) List(field string) []Node {
	fd := n.field(field)
	if fd == nil || fd.Message() == nil || !fd.IsList() {
		return nil
	}
	list := n.payload().Get(fd).List()
	out := make([]Node, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		out = append(out, &node{msg: list.Get(i).Message()})
	}
	return out
}

func (n *node) Text(field string) string {
	fd := n.field(field)
	if fd == nil || fd.Kind() != protoreflect.StringKind || fd.IsList() {
		return ""
	}
	return n.payload().Get(fd).String()
}

func (n *node) Bool(field string) bool {
	fd := n.field(field)
	if fd == nil || fd.Kind() != protoreflect.BoolKind || fd.IsList() {
		return false
	}
	return n.payload().Get(fd).Bool()
}

func (n *node) Strings(field string) []string {
	var out []string
	for _, item := range n.List(field) {
		el, ok := item.(*node).msg.Interface().(*pg_query.Node)
		if !ok {
			continue
		}
		if s := el.GetString_(); s != nil {
			out = append(out, s.Sval)
		}
	}
	return out
}

func (n *node) Set(field string, value any) error {
	m := n.payload()
	fd := n.field(field)
	if fd == nil {
		return fmt.Errorf("sqltree: %s has no field %q", n.Kind(), field)
	}

	mismatch := func() error {
		return fmt.Errorf("sqltree: cannot assign %T to %s.%s", value, n.Kind(), field)
	}

	switch v := value.(type) {
	case nil:
		m.Clear(fd)
	case string:
		if fd.Kind() != protoreflect.StringKind || fd.IsList() {
			return mismatch()
		}
		m.Set(fd, protoreflect.ValueOfString(v))
	case bool:
		if fd.Kind() != protoreflect.BoolKind || fd.IsList() {
			return mismatch()
		}
		m.Set(fd, protoreflect.ValueOfBool(v))
	case int:
		return n.Set(field, int32(v))
	case int32:
		if fd.Kind() != protoreflect.Int32Kind || fd.IsList() {
			return mismatch()
		}
		m.Set(fd, protoreflect.ValueOfInt32(v))
	case []string:
		if !fd.IsList() || fd.Message() == nil || fd.Message().FullName() != wrapperName {
			return mismatch()
		}
		list := m.Mutable(fd).List()
		list.Truncate(0)
		for _, s := range v {
			list.Append(protoreflect.ValueOfMessage(pg_query.MakeStrNode(s).ProtoReflect()))
		}
	case *node:
		if fd.Message() == nil || fd.IsList() {
			return mismatch()
		}
		msg, err := fit(v.msg, fd.Message())
		if err != nil {
			return err
		}
		m.Set(fd, protoreflect.ValueOfMessage(msg))
	default:
		return mismatch()
	}
	return nil
}

// fit converts msg so it can be stored in a field of type want, wrapping or
// unwrapping pg_query.Node as needed.
func fit(msg protoreflect.Message, want protoreflect.MessageDescriptor) (protoreflect.Message, error) {
	if msg.Descriptor().FullName() == want.FullName() {
		return msg, nil
	}
	if want.FullName() == wrapperName {
		w, err := wrap(msg)
		if err != nil {
			return nil, err
		}
		return w.ProtoReflect(), nil
	}
	if inner := unwrap(msg); inner.Descriptor().FullName() == want.FullName() {
		return inner, nil
	}
	return nil, fmt.Errorf("sqltree: %s cannot replace %s", msg.Descriptor().Name(), want.Name())
}

func (n *node) Replace(match func(Node) bool, rewrite func(Node) Node) (Node, error) {
	root := proto.Clone(n.msg.Interface()).ProtoReflect()

	root, err := visit(root, fitTo(root.Descriptor()), match, rewrite)
	if err != nil {
		return nil, err
	}
	return &node{msg: root}, nil
}

type fitter func(protoreflect.Message) (protoreflect.Message, error)

func fitTo(want protoreflect.MessageDescriptor) fitter {
	return func(msg protoreflect.Message) (protoreflect.Message, error) {
		return fit(msg, want)
	}
}

// fitPayload accepts any message a pg_query.Node wrapper can hold, so a
// rewrite may change the statement type inside a wrapper.
func fitPayload(msg protoreflect.Message) (protoreflect.Message, error) {
	msg = unwrap(msg)
	if isWrapper(msg) || oneofField(msg.Descriptor()) == nil {
		return nil, fmt.Errorf("sqltree: %s cannot be stored in a generic node", msg.Descriptor().Name())
	}
	return msg, nil
}

func visit(msg protoreflect.Message, fits fitter, match func(Node) bool, rewrite func(Node) Node) (protoreflect.Message, error) {
	if !isWrapper(msg) {
		cur := &node{msg: msg}
		if match(cur) {
			out, ok := rewrite(cur).(*node)
			if !ok || out == nil {
				return nil, fmt.Errorf("sqltree: rewrite of %s returned an unusable node", cur.Kind())
			}
			fitted, err := fits(out.msg)
			if err != nil {
				return nil, err
			}
			msg = fitted
		}
	}

	if err := replaceIn(msg, match, rewrite); err != nil {
		return nil, err
	}
	return msg, nil
}

func replaceIn(m protoreflect.Message, match func(Node) bool, rewrite func(Node) Node) error {
	if isWrapper(m) {
		fd := m.WhichOneof(m.Descriptor().Oneofs().Get(0))
		if fd == nil {
			return nil
		}
		child, err := visit(m.Get(fd).Message(), fitPayload, match, rewrite)
		if err != nil {
			return err
		}
		m.Set(oneofField(child.Descriptor()), protoreflect.ValueOfMessage(child))
		return nil
	}

	fields := m.Descriptor().Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if fd.Message() == nil || fd.IsMap() || !m.Has(fd) {
			continue
		}
		if fd.IsList() {
			list := m.Mutable(fd).List()
			for j := 0; j < list.Len(); j++ {
				child, err := visit(list.Get(j).Message(), fitTo(fd.Message()), match, rewrite)
				if err != nil {
					return err
				}
				list.Set(j, protoreflect.ValueOfMessage(child))
			}
			continue
		}
		child, err := visit(m.Get(fd).Message(), fitTo(fd.Message()), match, rewrite)
		if err != nil {
			return err
		}
		m.Set(fd, protoreflect.ValueOfMessage(child))
	}
	return nil
}
