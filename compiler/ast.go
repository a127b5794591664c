package compiler

import (
	"fmt"

	"github.com/chazu/prism/vm"
)

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for prism
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	// Children returns the direct children in evaluation order.
	Children() []Node
	node() // marker method
}

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// ---------------------------------------------------------------------------
// Program and blocks
// ---------------------------------------------------------------------------

// Program is the root of a parsed source file.
type Program struct {
	SpanVal Span
	Body    *Block
}

func (n *Program) Span() Span       { return n.SpanVal }
func (n *Program) Children() []Node { return []Node{n.Body} }
func (n *Program) node()            {}

// Block is an ordered statement list with its own scope.
type Block struct {
	SpanVal Span
	Stmts   []Stmt
}

func (n *Block) Span() Span { return n.SpanVal }
func (n *Block) node()      {}

func (n *Block) Children() []Node {
	out := make([]Node, len(n.Stmts))
	for i, s := range n.Stmts {
		out[i] = s
	}
	return out
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// VarDecl declares a variable, a parameter or a loop variable. Init is nil
// when there is no initializer.
type VarDecl struct {
	SpanVal Span
	Type    vm.Type
	Name    string
	Init    Expr
}

func (n *VarDecl) Span() Span { return n.SpanVal }
func (n *VarDecl) node()      {}
func (n *VarDecl) stmt()      {}

func (n *VarDecl) Children() []Node {
	if n.Init == nil {
		return nil
	}
	return []Node{n.Init}
}

// FuncDecl declares a function with a body.
type FuncDecl struct {
	SpanVal Span
	Return  vm.Type
	Name    string
	Params  []*VarDecl
	Body    *Block
}

func (n *FuncDecl) Span() Span { return n.SpanVal }
func (n *FuncDecl) node()      {}
func (n *FuncDecl) stmt()      {}

func (n *FuncDecl) Children() []Node {
	out := make([]Node, 0, len(n.Params)+1)
	for _, p := range n.Params {
		out = append(out, p)
	}
	return append(out, n.Body)
}

// ExternDecl declares a host-provided function. It has no body.
type ExternDecl struct {
	SpanVal Span
	Return  vm.Type
	Name    string
	Params  []*VarDecl
}

func (n *ExternDecl) Span() Span { return n.SpanVal }
func (n *ExternDecl) node()      {}
func (n *ExternDecl) stmt()      {}

func (n *ExternDecl) Children() []Node {
	out := make([]Node, len(n.Params))
	for i, p := range n.Params {
		out[i] = p
	}
	return out
}

// TypeName is a bare type name used as a statement. It generates nothing.
type TypeName struct {
	SpanVal Span
	Type    vm.Type
}

func (n *TypeName) Span() Span       { return n.SpanVal }
func (n *TypeName) Children() []Node { return nil }
func (n *TypeName) node()            {}
func (n *TypeName) stmt()            {}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// Assign stores a value into an existing variable.
type Assign struct {
	SpanVal Span
	Name    string
	Value   Expr
}

func (n *Assign) Span() Span       { return n.SpanVal }
func (n *Assign) Children() []Node { return []Node{n.Value} }
func (n *Assign) node()            {}
func (n *Assign) stmt()            {}

// ExprStmt evaluates an expression for its effect.
type ExprStmt struct {
	SpanVal Span
	X       Expr
}

func (n *ExprStmt) Span() Span       { return n.SpanVal }
func (n *ExprStmt) Children() []Node { return []Node{n.X} }
func (n *ExprStmt) node()            {}
func (n *ExprStmt) stmt()            {}

// If is a conditional. Else may be nil.
type If struct {
	SpanVal Span
	Cond    Expr
	Then    *Block
	Else    *Block
}

func (n *If) Span() Span { return n.SpanVal }
func (n *If) node()      {}
func (n *If) stmt()      {}

func (n *If) Children() []Node {
	if n.Else == nil {
		return []Node{n.Cond, n.Then}
	}
	return []Node{n.Cond, n.Then, n.Else}
}

// ForIn iterates over a list. Var.Type is TypeUnknown when the loop
// variable's type is left to inference.
type ForIn struct {
	SpanVal Span
	Var     *VarDecl
	List    Expr
	Body    *Block
}

func (n *ForIn) Span() Span       { return n.SpanVal }
func (n *ForIn) Children() []Node { return []Node{n.List, n.Var, n.Body} }
func (n *ForIn) node()            {}
func (n *ForIn) stmt()            {}

// While runs its body, then repeats while the condition holds.
type While struct {
	SpanVal Span
	Cond    Expr
	Body    *Block
}

func (n *While) Span() Span       { return n.SpanVal }
func (n *While) Children() []Node { return []Node{n.Body, n.Cond} }
func (n *While) node()            {}
func (n *While) stmt()            {}

// Return leaves the enclosing function. Value is nil for a bare return.
type Return struct {
	SpanVal Span
	Value   Expr
}

func (n *Return) Span() Span { return n.SpanVal }
func (n *Return) node()      {}
func (n *Return) stmt()      {}

func (n *Return) Children() []Node {
	if n.Value == nil {
		return nil
	}
	return []Node{n.Value}
}

// Assert halts the program when its condition is zero.
type Assert struct {
	SpanVal Span
	Cond    Expr
}

func (n *Assert) Span() Span       { return n.SpanVal }
func (n *Assert) Children() []Node { return []Node{n.Cond} }
func (n *Assert) node()            {}
func (n *Assert) stmt()            {}

// Print writes the textual form of a value.
type Print struct {
	SpanVal Span
	Value   Expr
}

func (n *Print) Span() Span       { return n.SpanVal }
func (n *Print) Children() []Node { return []Node{n.Value} }
func (n *Print) node()            {}
func (n *Print) stmt()            {}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// IntLit represents an integer literal.
type IntLit struct {
	SpanVal Span
	Value   int64
}

func (n *IntLit) Span() Span       { return n.SpanVal }
func (n *IntLit) Children() []Node { return nil }
func (n *IntLit) node()            {}
func (n *IntLit) expr()            {}

// DoubleLit represents a floating-point literal.
type DoubleLit struct {
	SpanVal Span
	Value   float64
}

func (n *DoubleLit) Span() Span       { return n.SpanVal }
func (n *DoubleLit) Children() []Node { return nil }
func (n *DoubleLit) node()            {}
func (n *DoubleLit) expr()            {}

// StringLit represents a string literal. Value excludes the quotes and
// keeps escape sequences unresolved.
type StringLit struct {
	SpanVal Span
	Value   string
}

func (n *StringLit) Span() Span       { return n.SpanVal }
func (n *StringLit) Children() []Node { return nil }
func (n *StringLit) node()            {}
func (n *StringLit) expr()            {}

// Ident references a variable.
type Ident struct {
	SpanVal Span
	Name    string
}

func (n *Ident) Span() Span       { return n.SpanVal }
func (n *Ident) Children() []Node { return nil }
func (n *Ident) node()            {}
func (n *Ident) expr()            {}

// BinaryOp enumerates binary operators.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpAnd
	OpEq
	OpLt
)

var binaryOpNames = [...]string{"+", "-", "*", "/", "&&", "==", "<"}

func (op BinaryOp) String() string {
	if int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Boolean reports whether the operator always yields an int truth value.
func (op BinaryOp) Boolean() bool {
	return op == OpAnd || op == OpEq || op == OpLt
}

// Binary is a two-operand expression.
type Binary struct {
	SpanVal Span
	Op      BinaryOp
	Left    Expr
	Right   Expr
}

func (n *Binary) Span() Span       { return n.SpanVal }
func (n *Binary) Children() []Node { return []Node{n.Left, n.Right} }
func (n *Binary) node()            {}
func (n *Binary) expr()            {}

// Call invokes a named function.
type Call struct {
	SpanVal Span
	Name    string
	Args    []Expr
}

func (n *Call) Span() Span { return n.SpanVal }
func (n *Call) node()      {}
func (n *Call) expr()      {}

func (n *Call) Children() []Node {
	out := make([]Node, len(n.Args))
	for i, a := range n.Args {
		out[i] = a
	}
	return out
}

// ListLit builds a list from its elements.
type ListLit struct {
	SpanVal  Span
	Elements []Expr
}

func (n *ListLit) Span() Span { return n.SpanVal }
func (n *ListLit) node()      {}
func (n *ListLit) expr()      {}

func (n *ListLit) Children() []Node {
	out := make([]Node, len(n.Elements))
	for i, e := range n.Elements {
		out[i] = e
	}
	return out
}

// ---------------------------------------------------------------------------
// Traversal
// ---------------------------------------------------------------------------

// Walk visits n and then its children depth first. Returning false from fn
// skips the node's children.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children() {
		Walk(c, fn)
	}
}
