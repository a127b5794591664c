package compiler

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/prism/vm"
)

// ---------------------------------------------------------------------------
// Resolver: scope binding and static typing
// ---------------------------------------------------------------------------

// Resolution holds everything the resolver learned about a program. Scopes
// are built by the binding phase and never modified afterwards; facts found
// while typing live in the side tables here.
type Resolution struct {
	Root        *Scope
	Diagnostics []Diagnostic

	scopes    map[*Block]*Scope
	sigs      map[Stmt]*FuncSig
	types     map[Expr]vm.Type
	elems     map[Expr]vm.Type
	declTypes map[*VarDecl]vm.Type // inferred loop variable types
	declElems map[*VarDecl]vm.Type // element types of list variables
	refs      map[Node]*VarDecl    // identifier and assignment targets
}

// TypeOf returns the static type of an expression, or TypeUnknown.
func (r *Resolution) TypeOf(e Expr) vm.Type {
	if t, ok := r.types[e]; ok {
		return t
	}
	return vm.TypeUnknown
}

// ElemTypeOf returns the element type of a list-valued expression, or
// TypeUnknown when it cannot be determined.
func (r *Resolution) ElemTypeOf(e Expr) vm.Type {
	if t, ok := r.elems[e]; ok {
		return t
	}
	return vm.TypeUnknown
}

// VarType returns the type of a declared variable, including inferred
// loop variable types.
func (r *Resolution) VarType(d *VarDecl) vm.Type {
	if t, ok := r.declTypes[d]; ok {
		return t
	}
	return d.Type
}

// DeclOf returns the declaration an *Ident or *Assign refers to, or nil
// when the name is unbound.
func (r *Resolution) DeclOf(n Node) *VarDecl {
	return r.refs[n]
}

// ScopeOf returns the scope created for a block.
func (r *Resolution) ScopeOf(b *Block) *Scope {
	return r.scopes[b]
}

// Signature returns the signature recorded for a function or extern
// declaration.
func (r *Resolution) Signature(decl Stmt) *FuncSig {
	return r.sigs[decl]
}

type resolver struct {
	res *Resolution
	fn  *FuncSig // enclosing function while typing
	log commonlog.Logger
}

// Resolve binds every name in prog and computes a static type for every
// expression. It never fails: problems are reported as diagnostics and
// unresolvable expressions get TypeUnknown. Each call starts from scratch.
func Resolve(prog *Program) *Resolution {
	r := &resolver{
		res: &Resolution{
			scopes:    make(map[*Block]*Scope),
			sigs:      make(map[Stmt]*FuncSig),
			types:     make(map[Expr]vm.Type),
			elems:     make(map[Expr]vm.Type),
			declTypes: make(map[*VarDecl]vm.Type),
			declElems: make(map[*VarDecl]vm.Type),
			refs:      make(map[Node]*VarDecl),
		},
		log: commonlog.GetLogger("prism.compiler"),
	}
	r.res.Root = r.bind(prog.Body, nil, nil)
	r.checkBlock(prog.Body)
	return r.res
}

func (r *resolver) warn(sp Span, format string, args ...any) {
	d := Diagnostic{Span: sp, Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)}
	r.res.Diagnostics = append(r.res.Diagnostics, d)
	r.log.Warningf("%s", d)
}

// ---------------------------------------------------------------------------
// Phase 1: binding
// ---------------------------------------------------------------------------

func signature(name string, ret vm.Type, params []*VarDecl, decl Stmt, extern bool) *FuncSig {
	sig := &FuncSig{Name: name, Return: ret, Extern: extern, Decl: decl}
	for _, p := range params {
		sig.Params = append(sig.Params, p.Type)
	}
	return sig
}

func (r *resolver) bind(b *Block, outer *Scope, params []*VarDecl) *Scope {
	sc := NewScope(outer)
	r.res.scopes[b] = sc
	for _, p := range params {
		if sc.DeclareVar(p) {
			r.warn(p.SpanVal, "%s declared twice", p.Name)
		}
	}
	for _, s := range b.Stmts {
		switch s := s.(type) {
		case *VarDecl:
			if sc.DeclareVar(s) {
				r.warn(s.SpanVal, "%s redeclared in this block", s.Name)
			}
		case *FuncDecl:
			sig := signature(s.Name, s.Return, s.Params, s, false)
			r.res.sigs[s] = sig
			if sc.DeclareFunc(sig) {
				r.warn(s.SpanVal, "function %s redeclared in this block", s.Name)
			}
			r.bind(s.Body, sc, s.Params)
		case *ExternDecl:
			sig := signature(s.Name, s.Return, s.Params, s, true)
			r.res.sigs[s] = sig
			if sc.DeclareFunc(sig) {
				r.warn(s.SpanVal, "function %s redeclared in this block", s.Name)
			}
		case *If:
			r.bind(s.Then, sc, nil)
			if s.Else != nil {
				r.bind(s.Else, sc, nil)
			}
		case *While:
			r.bind(s.Body, sc, nil)
		case *ForIn:
			r.bind(s.Body, sc, []*VarDecl{s.Var})
		}
	}
	return sc
}

// ---------------------------------------------------------------------------
// Phase 2: typing
// ---------------------------------------------------------------------------

func (r *resolver) checkBlock(b *Block) {
	sc := r.res.scopes[b]
	for _, s := range b.Stmts {
		r.checkStmt(sc, s)
	}
}

func endsWithReturn(b *Block) bool {
	if len(b.Stmts) == 0 {
		return false
	}
	_, ok := b.Stmts[len(b.Stmts)-1].(*Return)
	return ok
}

func (r *resolver) checkStmt(sc *Scope, s Stmt) {
	switch s := s.(type) {
	case *VarDecl:
		if s.Type == vm.TypeVoid {
			r.warn(s.SpanVal, "variable %s declared void", s.Name)
		}
		if s.Init == nil {
			return
		}
		t := r.expr(sc, s.Init)
		if t != vm.TypeUnknown && t != s.Type {
			r.warn(s.SpanVal, "cannot initialize %s %s with %s", s.Type, s.Name, t)
		}
		if s.Type == vm.TypeList {
			r.res.declElems[s] = r.res.ElemTypeOf(s.Init)
		}

	case *FuncDecl:
		saved := r.fn
		r.fn = r.res.sigs[s]
		r.checkBlock(s.Body)
		r.fn = saved
		if s.Return != vm.TypeVoid && !endsWithReturn(s.Body) {
			r.warn(s.SpanVal, "missing return at end of %s", s.Name)
		}

	case *Assign:
		t := r.expr(sc, s.Value)
		if d, ok := sc.LookupVar(s.Name); ok {
			r.res.refs[s] = d
			if want := r.res.VarType(d); t != vm.TypeUnknown && want != vm.TypeUnknown && t != want {
				r.warn(s.SpanVal, "cannot assign %s to %s %s", t, want, s.Name)
			}
		}

	case *ExprStmt:
		r.expr(sc, s.X)

	case *If:
		r.condition(sc, s.Cond, "if")
		r.checkBlock(s.Then)
		if s.Else != nil {
			r.checkBlock(s.Else)
		}

	case *While:
		r.checkBlock(s.Body)
		r.condition(sc, s.Cond, "while")

	case *ForIn:
		t := r.expr(sc, s.List)
		if t != vm.TypeUnknown && t != vm.TypeList {
			r.warn(s.List.Span(), "cannot iterate over %s", t)
		}
		if s.Var.Type == vm.TypeUnknown {
			r.res.declTypes[s.Var] = r.res.ElemTypeOf(s.List)
		}
		r.checkBlock(s.Body)

	case *Return:
		t := vm.TypeVoid
		if s.Value != nil {
			t = r.expr(sc, s.Value)
		}
		switch {
		case r.fn == nil:
			r.warn(s.SpanVal, "return outside function")
		case t != vm.TypeUnknown && t != r.fn.Return:
			r.warn(s.SpanVal, "returning %s from %s function %s", t, r.fn.Return, r.fn.Name)
		}

	case *Assert:
		r.condition(sc, s.Cond, "assert")

	case *Print:
		if t := r.expr(sc, s.Value); t == vm.TypeVoid {
			r.warn(s.SpanVal, "cannot print a void value")
		}
	}
}

func (r *resolver) condition(sc *Scope, e Expr, what string) {
	if t := r.expr(sc, e); t != vm.TypeUnknown && t != vm.TypeInt {
		r.warn(e.Span(), "%s condition has type %s, want int", what, t)
	}
}

func (r *resolver) expr(sc *Scope, e Expr) vm.Type {
	t := r.exprType(sc, e)
	r.res.types[e] = t
	return t
}

func (r *resolver) exprType(sc *Scope, e Expr) vm.Type {
	switch e := e.(type) {
	case *IntLit:
		return vm.TypeInt
	case *DoubleLit:
		return vm.TypeDouble
	case *StringLit:
		return vm.TypeString

	case *ListLit:
		elem := vm.TypeUnknown
		for i, el := range e.Elements {
			t := r.expr(sc, el)
			switch {
			case i == 0:
				elem = t
			case t != elem && elem != vm.TypeUnknown:
				r.warn(el.Span(), "list mixes %s and %s elements", elem, t)
				elem = vm.TypeUnknown
			}
		}
		r.res.elems[e] = elem
		return vm.TypeList

	case *Ident:
		d, ok := sc.LookupVar(e.Name)
		if !ok {
			return vm.TypeUnknown
		}
		r.res.refs[e] = d
		t := r.res.VarType(d)
		if t == vm.TypeList {
			if elem, ok := r.res.declElems[d]; ok {
				r.res.elems[e] = elem
			}
		}
		return t

	case *Call:
		args := make([]vm.Type, len(e.Args))
		for i, a := range e.Args {
			args[i] = r.expr(sc, a)
		}
		sig, ok := sc.LookupFunc(e.Name)
		if !ok {
			return vm.TypeUnknown
		}
		if len(args) != len(sig.Params) {
			r.warn(e.SpanVal, "%s takes %d arguments, got %d", e.Name, len(sig.Params), len(args))
			return sig.Return
		}
		for i, t := range args {
			if t != vm.TypeUnknown && t != sig.Params[i] {
				r.warn(e.Args[i].Span(), "argument %d of %s: cannot use %s as %s", i+1, e.Name, t, sig.Params[i])
			}
		}
		return sig.Return

	case *Binary:
		lt := r.expr(sc, e.Left)
		rt := r.expr(sc, e.Right)
		if lt != vm.TypeUnknown && rt != vm.TypeUnknown && lt != rt {
			r.warn(e.SpanVal, "mismatched types %s and %s for %s", lt, rt, e.Op)
		}
		if e.Op.Boolean() {
			return vm.TypeInt
		}
		return lt
	}
	return vm.TypeUnknown
}
