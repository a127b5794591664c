package compiler

import (
	"sort"

	"github.com/chazu/prism/vm"
)

// ---------------------------------------------------------------------------
// Scope: lexical symbol table
// ---------------------------------------------------------------------------

// FuncSig is the signature of a declared function or extern.
type FuncSig struct {
	Name   string
	Return vm.Type
	Params []vm.Type
	Extern bool
	Decl   Stmt // *FuncDecl or *ExternDecl
}

// Scope maps names to declarations for one block. Lookups walk outward
// through enclosing scopes.
type Scope struct {
	outer *Scope
	vars  map[string]*VarDecl
	funcs map[string]*FuncSig
}

// NewScope creates a scope nested in outer, which may be nil.
func NewScope(outer *Scope) *Scope {
	return &Scope{
		outer: outer,
		vars:  make(map[string]*VarDecl),
		funcs: make(map[string]*FuncSig),
	}
}

// Outer returns the enclosing scope.
func (s *Scope) Outer() *Scope { return s.outer }

// DeclareVar binds a variable in this scope and reports whether the name
// was already bound here. A redeclaration replaces the earlier binding.
func (s *Scope) DeclareVar(d *VarDecl) bool {
	_, dup := s.vars[d.Name]
	s.vars[d.Name] = d
	return dup
}

// DeclareFunc binds a function in this scope and reports whether the name
// was already bound here.
func (s *Scope) DeclareFunc(sig *FuncSig) bool {
	_, dup := s.funcs[sig.Name]
	s.funcs[sig.Name] = sig
	return dup
}

// LookupVar finds the innermost variable with the given name.
func (s *Scope) LookupVar(name string) (*VarDecl, bool) {
	for sc := s; sc != nil; sc = sc.outer {
		if d, ok := sc.vars[name]; ok {
			return d, true
		}
	}
	return nil, false
}

// LookupFunc finds the innermost function with the given name.
func (s *Scope) LookupFunc(name string) (*FuncSig, bool) {
	for sc := s; sc != nil; sc = sc.outer {
		if f, ok := sc.funcs[name]; ok {
			return f, true
		}
	}
	return nil, false
}

// Names returns every variable and function name visible from s, sorted,
// with inner bindings shadowing outer ones.
func (s *Scope) Names() (vars, funcs []string) {
	seenVars := make(map[string]bool)
	seenFuncs := make(map[string]bool)
	for sc := s; sc != nil; sc = sc.outer {
		for name := range sc.vars {
			if !seenVars[name] {
				seenVars[name] = true
				vars = append(vars, name)
			}
		}
		for name := range sc.funcs {
			if !seenFuncs[name] {
				seenFuncs[name] = true
				funcs = append(funcs, name)
			}
		}
	}
	sort.Strings(vars)
	sort.Strings(funcs)
	return vars, funcs
}
