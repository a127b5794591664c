package compiler

import (
	"errors"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/chazu/prism/vm"
)

// ---------------------------------------------------------------------------
// Grammar
// ---------------------------------------------------------------------------

// The grammar structs below are parsed by participle and then converted into
// the AST in ast.go. Statements may be separated by an optional ";".

type programNode struct {
	Pos    lexer.Position
	EndPos lexer.Position
	Stmts  []*stmtNode `@@*`
}

type blockNode struct {
	Pos    lexer.Position
	EndPos lexer.Position
	Stmts  []*stmtNode `"{" @@* "}"`
}

// bodyNode is a braced block or a single statement.
type bodyNode struct {
	Block *blockNode `  @@`
	Stmt  *stmtNode  `| @@`
}

type stmtNode struct {
	Pos    lexer.Position
	EndPos lexer.Position

	Extern *externNode `(  @@`
	If     *ifNode     ` | @@`
	For    *forNode    ` | @@`
	While  *whileNode  ` | @@`
	Return *returnNode ` | @@`
	Assert *exprNode   ` | "assert" "(" @@ ")"`
	Print  *exprNode   ` | "print" @@`
	Decl   *declNode   ` | @@`
	Assign *assignNode ` | @@`
	Expr   *exprNode   ` | @@ ) ";"?`
}

type declNode struct {
	Type string    `@("int" | "double" | "string" | "list" | "void")`
	Name string    `@Ident`
	Func *funcTail `@@?`
	Init *exprNode `( "=" @@ )?`
}

type funcTail struct {
	Params []*paramNode `"(" ( @@ ( "," @@ )* )? ")"`
	Body   *blockNode   `@@`
}

type paramNode struct {
	Pos    lexer.Position
	EndPos lexer.Position
	Type   string `@("int" | "double" | "string" | "list")`
	Name   string `@Ident`
}

type externNode struct {
	Type   string       `"extern" @("int" | "double" | "string" | "list" | "void")`
	Name   string       `@Ident`
	Params []*paramNode `"(" ( @@ ( "," @@ )* )? ")"`
}

type assignNode struct {
	Name  string    `@Ident "="`
	Value *exprNode `@@`
}

type ifNode struct {
	Cond *exprNode `"if" "(" @@ ")"`
	Then *bodyNode `@@`
	Else *bodyNode `( "else" @@ )?`
}

type whileNode struct {
	Cond *exprNode `"while" "(" @@ ")"`
	Body *bodyNode `@@`
}

type forNode struct {
	Type string    `"for" @("int" | "double" | "string" | "list")?`
	Name string    `@Ident "in"`
	List *exprNode `@@`
	Body *bodyNode `@@`
}

type returnNode struct {
	Value *exprNode `"return" @@?`
}

// Expression precedence, lowest first: &&; == <; + -; * /.

type exprNode struct {
	Left *cmpNode   `@@`
	Rest []*andTail `@@*`
}

type andTail struct {
	Op    string   `@"&&"`
	Right *cmpNode `@@`
}

type cmpNode struct {
	Left  *addNode `@@`
	Op    string   `( @( "==" | "<" )`
	Right *addNode `  @@ )?`
}

type addNode struct {
	Left *mulNode   `@@`
	Rest []*addTail `@@*`
}

type addTail struct {
	Op    string   `@( "+" | "-" )`
	Right *mulNode `@@`
}

type mulNode struct {
	Left *primaryNode `@@`
	Rest []*mulTail   `@@*`
}

type mulTail struct {
	Op    string       `@( "*" | "/" )`
	Right *primaryNode `@@`
}

type primaryNode struct {
	Pos    lexer.Position
	EndPos lexer.Position

	Double *float64  `  @Double`
	Int    *int64    `| @Int`
	String *string   `| @String`
	List   *listNode `| @@`
	Call   *callNode `| @@`
	Ident  *string   `| @Ident`
	Paren  *exprNode `| "(" @@ ")"`
}

type callNode struct {
	Name string      `@Ident "("`
	Args []*exprNode `( @@ ( "," @@ )* )? ")"`
}

type listNode struct {
	Elements []*exprNode `"[" ( @@ ( "," @@ )* )? "]"`
}

var prismLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `//[^\n]*`},
	{Name: "Whitespace", Pattern: `[\s]+`},
	{Name: "Keyword", Pattern: `\b(int|double|string|list|void|extern|if|else|for|in|while|return|assert|print)\b`},
	{Name: "Double", Pattern: `[0-9]+\.[0-9]+`},
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Operator", Pattern: `&&|==|[-+*/<=]`},
	{Name: "Punct", Pattern: `[(){}\[\],;]`},
})

var grammar = participle.MustBuild[programNode](
	participle.Lexer(prismLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(2),
)

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Parse parses prism source into an AST. Syntax errors are returned as
// *Error carrying the offending position.
func Parse(filename, source string) (*Program, error) {
	tree, err := grammar.ParseString(filename, source)
	if err != nil {
		var perr participle.Error
		if errors.As(err, &perr) {
			return nil, &Error{Pos: position(perr.Position()), Msg: perr.Message()}
		}
		return nil, err
	}
	root := &Block{SpanVal: span(tree.Pos, tree.EndPos), Stmts: convertStmts(tree.Stmts)}
	return &Program{SpanVal: root.SpanVal, Body: root}, nil
}

// ---------------------------------------------------------------------------
// Conversion to AST
// ---------------------------------------------------------------------------

func position(p lexer.Position) Position {
	return Position{Offset: p.Offset, Line: p.Line, Column: p.Column}
}

func span(start, end lexer.Position) Span {
	return Span{Start: position(start), End: position(end)}
}

func typeOf(name string) vm.Type {
	if t, ok := vm.ParseType(name); ok {
		return t
	}
	return vm.TypeUnknown
}

func convertStmts(nodes []*stmtNode) []Stmt {
	out := make([]Stmt, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, convertStmt(n))
	}
	return out
}

func convertBlock(n *blockNode) *Block {
	return &Block{SpanVal: span(n.Pos, n.EndPos), Stmts: convertStmts(n.Stmts)}
}

func convertBody(n *bodyNode) *Block {
	if n.Block != nil {
		return convertBlock(n.Block)
	}
	s := convertStmt(n.Stmt)
	return &Block{SpanVal: s.Span(), Stmts: []Stmt{s}}
}

func convertParams(nodes []*paramNode) []*VarDecl {
	out := make([]*VarDecl, len(nodes))
	for i, p := range nodes {
		out[i] = &VarDecl{SpanVal: span(p.Pos, p.EndPos), Type: typeOf(p.Type), Name: p.Name}
	}
	return out
}

func convertStmt(n *stmtNode) Stmt {
	sp := span(n.Pos, n.EndPos)
	switch {
	case n.Extern != nil:
		e := n.Extern
		return &ExternDecl{SpanVal: sp, Return: typeOf(e.Type), Name: e.Name, Params: convertParams(e.Params)}
	case n.If != nil:
		s := &If{SpanVal: sp, Cond: convertExpr(n.If.Cond), Then: convertBody(n.If.Then)}
		if n.If.Else != nil {
			s.Else = convertBody(n.If.Else)
		}
		return s
	case n.For != nil:
		f := n.For
		loopVar := &VarDecl{SpanVal: sp, Type: vm.TypeUnknown, Name: f.Name}
		if f.Type != "" {
			loopVar.Type = typeOf(f.Type)
		}
		return &ForIn{SpanVal: sp, Var: loopVar, List: convertExpr(f.List), Body: convertBody(f.Body)}
	case n.While != nil:
		return &While{SpanVal: sp, Cond: convertExpr(n.While.Cond), Body: convertBody(n.While.Body)}
	case n.Return != nil:
		s := &Return{SpanVal: sp}
		if n.Return.Value != nil {
			s.Value = convertExpr(n.Return.Value)
		}
		return s
	case n.Assert != nil:
		return &Assert{SpanVal: sp, Cond: convertExpr(n.Assert)}
	case n.Print != nil:
		return &Print{SpanVal: sp, Value: convertExpr(n.Print)}
	case n.Decl != nil:
		d := n.Decl
		if d.Func != nil {
			return &FuncDecl{
				SpanVal: sp,
				Return:  typeOf(d.Type),
				Name:    d.Name,
				Params:  convertParams(d.Func.Params),
				Body:    convertBlock(d.Func.Body),
			}
		}
		v := &VarDecl{SpanVal: sp, Type: typeOf(d.Type), Name: d.Name}
		if d.Init != nil {
			v.Init = convertExpr(d.Init)
		}
		return v
	case n.Assign != nil:
		return &Assign{SpanVal: sp, Name: n.Assign.Name, Value: convertExpr(n.Assign.Value)}
	default:
		return &ExprStmt{SpanVal: sp, X: convertExpr(n.Expr)}
	}
}

var binaryOps = map[string]BinaryOp{
	"+": OpAdd, "-": OpSub, "*": OpMul, "/": OpDiv,
	"&&": OpAnd, "==": OpEq, "<": OpLt,
}

func binary(op string, left, right Expr) Expr {
	return &Binary{
		SpanVal: Span{Start: left.Span().Start, End: right.Span().End},
		Op:      binaryOps[op],
		Left:    left,
		Right:   right,
	}
}

func convertExpr(n *exprNode) Expr {
	e := convertCmp(n.Left)
	for _, t := range n.Rest {
		e = binary(t.Op, e, convertCmp(t.Right))
	}
	return e
}

func convertCmp(n *cmpNode) Expr {
	e := convertAdd(n.Left)
	if n.Right != nil {
		e = binary(n.Op, e, convertAdd(n.Right))
	}
	return e
}

func convertAdd(n *addNode) Expr {
	e := convertMul(n.Left)
	for _, t := range n.Rest {
		e = binary(t.Op, e, convertMul(t.Right))
	}
	return e
}

func convertMul(n *mulNode) Expr {
	e := convertPrimary(n.Left)
	for _, t := range n.Rest {
		e = binary(t.Op, e, convertPrimary(t.Right))
	}
	return e
}

func convertPrimary(n *primaryNode) Expr {
	sp := span(n.Pos, n.EndPos)
	switch {
	case n.Double != nil:
		return &DoubleLit{SpanVal: sp, Value: *n.Double}
	case n.Int != nil:
		return &IntLit{SpanVal: sp, Value: *n.Int}
	case n.String != nil:
		return &StringLit{SpanVal: sp, Value: strings.TrimSuffix(strings.TrimPrefix(*n.String, `"`), `"`)}
	case n.List != nil:
		elems := make([]Expr, len(n.List.Elements))
		for i, e := range n.List.Elements {
			elems[i] = convertExpr(e)
		}
		return &ListLit{SpanVal: sp, Elements: elems}
	case n.Call != nil:
		args := make([]Expr, len(n.Call.Args))
		for i, a := range n.Call.Args {
			args[i] = convertExpr(a)
		}
		return &Call{SpanVal: sp, Name: n.Call.Name, Args: args}
	case n.Ident != nil:
		return &Ident{SpanVal: sp, Name: *n.Ident}
	default:
		return convertExpr(n.Paren)
	}
}
