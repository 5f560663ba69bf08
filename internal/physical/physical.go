// Package physical is the SQL syntax tree produced by dialect visitors and
// its renderer.
//
// Visitors build nodes and Push them into their parent; Render turns a
// finished statement into SQL text. Node types carry only syntax, so
// dialect differences live in the visitors that choose which nodes (and
// which Style fields) to build.
package physical

import (
	"fmt"
	"strings"
)

// QuoteFunc quotes one identifier part.
type QuoteFunc func(ident string) string

// DoubleQuote quotes with "x", escaping " as "".
func DoubleQuote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Backtick quotes with `x`, escaping ` as ``.
func Backtick(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// Bracket quotes with [x], escaping ] as ]].
func Bracket(ident string) string {
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}

// Writer accumulates SQL text. Identifiers go through Fold (case conversion)
// and then Quote.
type Writer struct {
	b     strings.Builder
	Quote QuoteFunc
	Fold  func(string) string
}

// NewWriter returns a Writer with the given quoting; a nil quote means
// DoubleQuote.
func NewWriter(q QuoteFunc, fold func(string) string) *Writer {
	if q == nil {
		q = DoubleQuote
	}
	return &Writer{Quote: q, Fold: fold}
}

func (w *Writer) WriteString(s string) { w.b.WriteString(s) }

func (w *Writer) String() string { return w.b.String() }

// Ident writes one quoted identifier.
func (w *Writer) Ident(name string) {
	w.b.WriteString(w.Quote(w.fold(name)))
}

// Qualified writes dot-joined quoted parts.
func (w *Writer) Qualified(parts []string) {
	for i, p := range parts {
		if i > 0 {
			w.b.WriteByte('.')
		}
		w.Ident(p)
	}
}

// IdentList writes quoted identifiers separated by ", ".
func (w *Writer) IdentList(names []string) {
	for i, n := range names {
		if i > 0 {
			w.b.WriteString(", ")
		}
		w.Ident(n)
	}
}

// Alias writes a bare alias (table aliases such as sink and stage are not
// quoted).
func (w *Writer) Alias(alias string) {
	w.b.WriteString(w.fold(alias))
}

func (w *Writer) fold(s string) string {
	if w.Fold == nil {
		return s
	}
	return w.Fold(s)
}

// Node is a physical SQL element.
type Node interface {
	// Push attaches a lowered child. Each node accepts only the child types
	// that make sense for it and reports anything else as an error.
	Push(child Node) error

	Render(w *Writer) error
}

// Expr is a scalar expression.
type Expr interface {
	Node
	expr()
}

// Cond is a boolean expression.
type Cond interface {
	Node
	cond()
}

// TableLike can appear in a FROM clause.
type TableLike interface {
	Node
	tableLike()
}

// Statement is a complete SQL statement.
type Statement interface {
	Node
	statement()
}

func unexpectedChild(parent string, child Node) error {
	return fmt.Errorf("physical: %s cannot accept %T", parent, child)
}

// Render renders a statement with the given writer settings.
func Render(s Statement, q QuoteFunc, fold func(string) string) (string, error) {
	w := NewWriter(q, fold)
	if err := s.Render(w); err != nil {
		return "", err
	}
	return w.String(), nil
}

// Root collects the top-level statements a visitor emits.
type Root struct {
	Statements []Statement
}

func (r *Root) Push(child Node) error {
	s, ok := child.(Statement)
	if !ok {
		return unexpectedChild("Root", child)
	}
	r.Statements = append(r.Statements, s)
	return nil
}

func (r *Root) Render(w *Writer) error {
	for i, s := range r.Statements {
		if i > 0 {
			w.WriteString(";\n")
		}
		if err := s.Render(w); err != nil {
			return err
		}
	}
	return nil
}

// Slot holds exactly one child. Visitors use it to lower a logical node in
// isolation and then place the result where it belongs.
type Slot struct {
	Node Node
}

func (s *Slot) Push(child Node) error {
	if s.Node != nil {
		return fmt.Errorf("physical: slot already holds %T, got %T", s.Node, child)
	}
	s.Node = child
	return nil
}

func (s *Slot) Render(w *Writer) error {
	if s.Node == nil {
		return fmt.Errorf("physical: empty slot")
	}
	return s.Node.Render(w)
}

func renderList[T Node](w *Writer, items []T, sep string) error {
	for i, it := range items {
		if i > 0 {
			w.WriteString(sep)
		}
		if err := it.Render(w); err != nil {
			return err
		}
	}
	return nil
}
