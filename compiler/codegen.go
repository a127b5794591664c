package compiler

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/prism/vm"
)

// ---------------------------------------------------------------------------
// Codegen: compile the resolved AST to instructions
// ---------------------------------------------------------------------------

// function is the code generator's record of a declared function.
type function struct {
	name   string
	extern bool
	desc   *vm.Function
	entry  *vm.Label
	calls  []callSite
	params []*VarDecl
}

type callSite struct {
	callee *function
	span   Span
}

// variable is a storage slot bound to its declaration.
type variable struct {
	addr uint16
	decl *VarDecl
}

// symbols is the generator's own symbol table. It is filled in statement
// order, so a name can only be used after its declaration.
type symbols struct {
	outer *symbols
	vars  map[string]variable
	funcs map[string]*function
}

type constKey struct {
	t vm.Type
	v any
}

// Compiler generates a Program from a resolved AST. Storage addresses are
// allocated from one counter for the whole program: every declaration gets
// a fixed slot, and arguments are passed through the callee's slots.
type Compiler struct {
	res     *Resolution
	log     commonlog.Logger
	builder *vm.Builder

	constants     []vm.Value
	constantTypes []vm.Type
	constantMap   map[constKey]int

	functions map[string]*vm.Function
	byDecl    map[*FuncDecl]*function
	all       []*function

	scope    *symbols
	fn       *function // function being generated
	loops    int       // live foreach loops in fn
	at       Span      // position for error reports
	nextAddr int
	scratch  int
	held     int
}

// NewCompiler creates a compiler for a resolved program.
func NewCompiler(res *Resolution) *Compiler {
	return &Compiler{
		res:         res,
		log:         commonlog.GetLogger("prism.compiler"),
		builder:     vm.NewBuilder(),
		constantMap: make(map[constKey]int),
		functions:   make(map[string]*vm.Function),
		byDecl:      make(map[*FuncDecl]*function),
		scratch:     -1,
		held:        -1,
	}
}

// fail aborts compilation. Compile recovers it into an *Error.
func (c *Compiler) fail(sp Span, format string, args ...any) {
	panic(&Error{Pos: sp.Start, Msg: fmt.Sprintf(format, args...)})
}

// Compile generates code for prog. The first fatal condition aborts
// compilation and is returned with a nil program.
func (c *Compiler) Compile(prog *Program) (p *vm.Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			c.log.Errorf("%s", e)
			p, err = nil, e
		}
	}()

	c.compileProgram(prog.Body)
	c.checkRecursion()

	code, err := c.builder.Link()
	if err != nil {
		return nil, fmt.Errorf("link: %w", err)
	}
	return &vm.Program{
		Code:          code,
		Constants:     c.constants,
		ConstantTypes: c.constantTypes,
		Functions:     c.functions,
		StorageSize:   c.nextAddr,
	}, nil
}

// ---------------------------------------------------------------------------
// Emission helpers
// ---------------------------------------------------------------------------

func (c *Compiler) emit(op vm.Opcode, t vm.Type, imm int) {
	c.builder.Emit(op, t, imm)
	c.check()
}

func (c *Compiler) emitOp(op vm.Opcode) {
	c.emit(op, vm.TypeInt, 0)
}

func (c *Compiler) emitJump(op vm.Opcode, l *vm.Label) {
	c.builder.EmitJump(op, l)
	c.check()
}

func (c *Compiler) mark(l *vm.Label) {
	c.builder.Mark(l)
	c.check()
}

func (c *Compiler) check() {
	if err := c.builder.Err(); err != nil {
		c.fail(c.at, "%v", err)
	}
}

func (c *Compiler) alloc() uint16 {
	if c.nextAddr > vm.MaxImmediate {
		c.fail(c.at, "storage exhausted: more than %d variables", vm.MaxImmediate+1)
	}
	addr := uint16(c.nextAddr)
	c.nextAddr++
	return addr
}

func (c *Compiler) scratchAddr() int {
	if c.scratch < 0 {
		c.scratch = int(c.alloc())
	}
	return c.scratch
}

func (c *Compiler) heldAddr() int {
	if c.held < 0 {
		c.held = int(c.alloc())
	}
	return c.held
}

func (c *Compiler) addConstant(v vm.Value, t vm.Type, key any) int {
	k := constKey{t: t, v: key}
	if idx, ok := c.constantMap[k]; ok {
		return idx
	}
	idx := len(c.constants)
	if idx > vm.MaxImmediate {
		c.fail(c.at, "constant pool exhausted: more than %d constants", vm.MaxImmediate+1)
	}
	c.constants = append(c.constants, v)
	c.constantTypes = append(c.constantTypes, t)
	c.constantMap[k] = idx
	return idx
}

// ---------------------------------------------------------------------------
// Scopes
// ---------------------------------------------------------------------------

func (c *Compiler) pushScope() {
	c.scope = &symbols{
		outer: c.scope,
		vars:  make(map[string]variable),
		funcs: make(map[string]*function),
	}
}

func (c *Compiler) popScope() {
	c.scope = c.scope.outer
}

func (c *Compiler) lookupVar(name string) (variable, bool) {
	for s := c.scope; s != nil; s = s.outer {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return variable{}, false
}

func (c *Compiler) lookupFunc(name string) (*function, bool) {
	for s := c.scope; s != nil; s = s.outer {
		if f, ok := s.funcs[name]; ok {
			return f, true
		}
	}
	return nil, false
}

func (c *Compiler) declareVar(d *VarDecl) uint16 {
	addr := c.alloc()
	c.scope.vars[d.Name] = variable{addr: addr, decl: d}
	return addr
}

// uniqueName qualifies a nested function name with its enclosing function
// and disambiguates repeats.
func (c *Compiler) uniqueName(name string) string {
	if c.fn != nil {
		name = c.fn.name + "." + name
	}
	if _, taken := c.functions[name]; !taken {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s#%d", name, i)
		if _, taken := c.functions[candidate]; !taken {
			return candidate
		}
	}
}

// predeclare enters every function and extern declared directly in stmts
// into the current scope, allocating argument slots, so calls may precede
// the callee's body in source order.
func (c *Compiler) predeclare(stmts []Stmt) {
	for _, s := range stmts {
		switch s := s.(type) {
		case *FuncDecl:
			c.at = s.SpanVal
			if _, dup := c.scope.funcs[s.Name]; dup {
				c.fail(s.SpanVal, "function %s redeclared in this block", s.Name)
			}
			name := c.uniqueName(s.Name)
			fn := &function{
				name:   name,
				desc:   &vm.Function{Name: name, Return: s.Return},
				entry:  c.builder.NewLabel(name),
				params: s.Params,
			}
			for range s.Params {
				fn.desc.Args = append(fn.desc.Args, c.alloc())
			}
			c.functions[name] = fn.desc
			c.byDecl[s] = fn
			c.all = append(c.all, fn)
			c.scope.funcs[s.Name] = fn
		case *ExternDecl:
			c.at = s.SpanVal
			if _, dup := c.scope.funcs[s.Name]; dup {
				c.fail(s.SpanVal, "function %s redeclared in this block", s.Name)
			}
			c.scope.funcs[s.Name] = &function{name: s.Name, extern: true}
		}
	}
}

// ---------------------------------------------------------------------------
// Program, functions and blocks
// ---------------------------------------------------------------------------

// compileProgram handles the top-level block. Only declarations may appear
// there: functions, externs, variables without initializers and bare type
// names. Globals are bound before any function body is generated.
func (c *Compiler) compileProgram(root *Block) {
	c.pushScope()
	c.predeclare(root.Stmts)
	for _, s := range root.Stmts {
		c.at = s.Span()
		switch s := s.(type) {
		case *FuncDecl, *ExternDecl, *TypeName:
		case *VarDecl:
			if s.Init != nil {
				c.fail(s.SpanVal, "top-level variable %s cannot have an initializer", s.Name)
			}
			c.declareVar(s)
		default:
			c.fail(s.Span(), "statement not allowed at top level; put it in a function")
		}
	}
	for _, s := range root.Stmts {
		if f, ok := s.(*FuncDecl); ok {
			c.compileFunction(f)
		}
	}
	c.popScope()
}

// compileFunction emits nested functions first, then the function's own
// entry point and body, and always ends with a return.
func (c *Compiler) compileFunction(f *FuncDecl) {
	fn := c.byDecl[f]
	savedFn, savedLoops := c.fn, c.loops
	c.fn, c.loops = fn, 0

	c.pushScope()
	for i, p := range f.Params {
		c.scope.vars[p.Name] = variable{addr: fn.desc.Args[i], decl: p}
	}
	c.predeclare(f.Body.Stmts)
	for _, s := range f.Body.Stmts {
		if nested, ok := s.(*FuncDecl); ok {
			c.compileFunction(nested)
		}
	}

	c.mark(fn.entry)
	fn.desc.Entry = fn.entry.Position()
	c.log.Debugf("function %s at %04d, args %v", fn.name, fn.desc.Entry, fn.desc.Args)

	for _, s := range f.Body.Stmts {
		c.compileStmt(s)
	}
	c.at = f.SpanVal
	if fn.desc.Return != vm.TypeVoid && !endsWithReturn(f.Body) {
		c.pushZero(fn.desc.Return)
	}
	c.emitOp(vm.OpReturn)
	c.popScope()

	c.fn, c.loops = savedFn, savedLoops
}

// pushZero pushes the value a non-void function returns when its body
// falls off the end.
func (c *Compiler) pushZero(t vm.Type) {
	switch t {
	case vm.TypeInt:
		c.emit(vm.OpPushImm, vm.TypeInt, 0)
	case vm.TypeDouble:
		c.emit(vm.OpPushConst, vm.TypeDouble, c.addConstant(vm.FromFloat64(0), vm.TypeDouble, float64(0)))
	case vm.TypeString:
		c.emit(vm.OpPushConst, vm.TypeString, c.addConstant(vm.FromString(""), vm.TypeString, ""))
	case vm.TypeList:
		c.emit(vm.OpMakeList, vm.TypeInt, 0)
	default:
		c.fail(c.at, "cannot return a value of type %s", t)
	}
}

// compileBlock emits a nested block. Functions declared in it are emitted
// first behind a jump so that falling into the block skips them.
func (c *Compiler) compileBlock(b *Block) {
	c.pushScope()
	c.predeclare(b.Stmts)

	var nested []*FuncDecl
	for _, s := range b.Stmts {
		if f, ok := s.(*FuncDecl); ok {
			nested = append(nested, f)
		}
	}
	if len(nested) > 0 {
		skip := c.builder.NewLabel("skip")
		c.emitJump(vm.OpJump, skip)
		for _, f := range nested {
			c.compileFunction(f)
		}
		c.mark(skip)
	}

	for _, s := range b.Stmts {
		c.compileStmt(s)
	}
	c.popScope()
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) compileStmt(stmt Stmt) {
	c.at = stmt.Span()
	switch s := stmt.(type) {
	case *VarDecl:
		if s.Init == nil {
			c.declareVar(s)
			return
		}
		c.compileValue(s.Init)
		// Bound after the initializer so it cannot refer to itself.
		addr := c.declareVar(s)
		c.at = s.SpanVal
		c.emit(vm.OpPopMem, vm.TypeInt, int(addr))

	case *Assign:
		v := c.variable(s, s.Name)
		c.compileValue(s.Value)
		c.at = s.SpanVal
		c.emit(vm.OpPopMem, vm.TypeInt, int(v.addr))

	case *ExprStmt:
		c.compileExpr(s.X)
		if c.typeOf(s.X) != vm.TypeVoid {
			c.emit(vm.OpPopMem, vm.TypeInt, c.scratchAddr())
		}

	case *If:
		c.compileCondition(s.Cond, "if")
		elseLabel := c.builder.NewLabel("else")
		c.emitJump(vm.OpJumpIfZero, elseLabel)
		c.compileBlock(s.Then)
		if s.Else == nil {
			c.mark(elseLabel)
			return
		}
		end := c.builder.NewLabel("endif")
		c.emitJump(vm.OpJump, end)
		c.mark(elseLabel)
		c.compileBlock(s.Else)
		c.mark(end)

	case *While:
		// The body runs once before the first test.
		top := c.builder.NewLabel("while")
		c.mark(top)
		c.compileBlock(s.Body)
		c.at = s.SpanVal
		c.compileCondition(s.Cond, "while")
		c.emitJump(vm.OpJumpIfNonZero, top)

	case *ForIn:
		c.compileForIn(s)

	case *Return:
		c.compileReturn(s)

	case *Assert:
		c.compileCondition(s.Cond, "assert")
		c.emitOp(vm.OpAssert)

	case *Print:
		c.compileValue(s.Value)
		c.at = s.SpanVal
		switch t := c.typeOf(s.Value); t {
		case vm.TypeInt, vm.TypeDouble, vm.TypeString:
			c.emit(vm.OpPrint, t, 0)
		case vm.TypeList:
			elem := c.res.ElemTypeOf(s.Value)
			if lit, ok := s.Value.(*ListLit); ok && len(lit.Elements) == 0 {
				elem = vm.TypeInt
			}
			switch elem {
			case vm.TypeInt, vm.TypeDouble, vm.TypeString:
				c.emit(vm.OpPrint, vm.TypeList, int(elem))
			case vm.TypeList:
				c.fail(s.SpanVal, "cannot print a list of lists; print its elements instead")
			default:
				c.fail(s.SpanVal, "cannot print a list whose element type is unknown")
			}
		default:
			c.fail(s.SpanVal, "cannot print a value of type %s", t)
		}

	case *FuncDecl, *ExternDecl, *TypeName:
		// Functions were emitted before the block's statements.

	default:
		c.fail(stmt.Span(), "unsupported statement %T", stmt)
	}
}

// compileForIn lays out
//
//	list; MAKE_ITER; JMP test
//	body: ITER_VALUE; POPM var; ...
//	test: LOOP_ITER body
//	POPM scratch; POPM scratch
//
// The iterator starts before the first element, so an empty list skips
// the body entirely.
func (c *Compiler) compileForIn(s *ForIn) {
	if t := c.typeOf(s.List); t != vm.TypeList {
		c.fail(s.List.Span(), "cannot iterate over %s", t)
	}
	if t := c.res.VarType(s.Var); t == vm.TypeUnknown || t == vm.TypeVoid {
		c.fail(s.SpanVal, "cannot infer the type of loop variable %s; write for <type> %s in ...", s.Var.Name, s.Var.Name)
	}
	c.compileValue(s.List)
	c.at = s.SpanVal
	c.emitOp(vm.OpMakeIter)

	body := c.builder.NewLabel("foreach")
	test := c.builder.NewLabel("foreach.test")
	c.emitJump(vm.OpJump, test)
	c.mark(body)
	c.emitOp(vm.OpIterValue)

	c.pushScope()
	addr := c.declareVar(s.Var)
	c.emit(vm.OpPopMem, vm.TypeInt, int(addr))
	c.loops++
	c.compileBlock(s.Body)
	c.loops--
	c.popScope()

	c.at = s.SpanVal
	c.mark(test)
	c.emitJump(vm.OpLoopIter, body)
	c.emit(vm.OpPopMem, vm.TypeInt, c.scratchAddr())
	c.emit(vm.OpPopMem, vm.TypeInt, c.scratchAddr())
}

// compileReturn leaves the operand stack as it was on entry, plus the
// return value: the list and iterator of every live foreach are dropped.
func (c *Compiler) compileReturn(s *Return) {
	if c.fn == nil {
		c.fail(s.SpanVal, "return outside function")
	}
	pushed := false
	if s.Value != nil {
		c.compileExpr(s.Value)
		pushed = c.typeOf(s.Value) != vm.TypeVoid
	}
	c.at = s.SpanVal
	if c.loops > 0 {
		if pushed {
			c.emit(vm.OpPopMem, vm.TypeInt, c.heldAddr())
		}
		for i := 0; i < c.loops; i++ {
			c.emit(vm.OpPopMem, vm.TypeInt, c.scratchAddr())
			c.emit(vm.OpPopMem, vm.TypeInt, c.scratchAddr())
		}
		if pushed {
			c.emit(vm.OpPushMem, vm.TypeInt, c.heldAddr())
		}
	}
	c.emitOp(vm.OpReturn)
}

func (c *Compiler) compileCondition(e Expr, what string) {
	c.compileValue(e)
	if t := c.typeOf(e); t != vm.TypeInt {
		c.fail(e.Span(), "%s condition must be int, not %s", what, t)
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (c *Compiler) typeOf(e Expr) vm.Type {
	if call, ok := e.(*Call); ok {
		if fn, ok := c.lookupFunc(call.Name); ok && fn.desc != nil {
			return fn.desc.Return
		}
	}
	return c.res.TypeOf(e)
}

// variable resolves the storage slot for a name used at n, which must be an
// *Ident or *Assign.
func (c *Compiler) variable(n Node, name string) variable {
	v, ok := c.lookupVar(name)
	if !ok {
		if _, isAssign := n.(*Assign); isAssign {
			c.fail(n.Span(), "assignment to undeclared variable %s", name)
		}
		c.fail(n.Span(), "reference to unknown variable %s", name)
	}
	if d := c.res.DeclOf(n); d != nil && d != v.decl {
		c.fail(n.Span(), "%s is used before its declaration in this block", name)
	}
	return v
}

// compileValue compiles an expression that must leave a value behind.
func (c *Compiler) compileValue(e Expr) {
	c.compileExpr(e)
	if c.typeOf(e) == vm.TypeVoid {
		c.fail(e.Span(), "expression has no value")
	}
}

var arithmeticOps = map[BinaryOp]vm.Opcode{
	OpAdd: vm.OpAdd,
	OpSub: vm.OpSub,
	OpMul: vm.OpMul,
	OpDiv: vm.OpDiv,
	OpAnd: vm.OpAnd,
	OpEq:  vm.OpEqual,
	OpLt:  vm.OpLess,
}

// operandTypes lists the operand types each operator is defined for.
var operandTypes = map[BinaryOp][]vm.Type{
	OpAdd: {vm.TypeInt, vm.TypeDouble, vm.TypeString},
	OpSub: {vm.TypeInt, vm.TypeDouble},
	OpMul: {vm.TypeInt, vm.TypeDouble},
	OpDiv: {vm.TypeInt, vm.TypeDouble},
	OpAnd: {vm.TypeInt},
	OpEq:  {vm.TypeInt, vm.TypeDouble, vm.TypeString},
	OpLt:  {vm.TypeInt, vm.TypeDouble},
}

func supports(op BinaryOp, t vm.Type) bool {
	for _, ok := range operandTypes[op] {
		if ok == t {
			return true
		}
	}
	return false
}

func (c *Compiler) compileExpr(expr Expr) {
	c.at = expr.Span()
	switch e := expr.(type) {
	case *IntLit:
		if e.Value >= 0 && e.Value <= vm.MaxImmediate {
			c.emit(vm.OpPushImm, vm.TypeInt, int(e.Value))
			return
		}
		c.emit(vm.OpPushConst, vm.TypeInt, c.addConstant(vm.FromInt(e.Value), vm.TypeInt, e.Value))

	case *DoubleLit:
		c.emit(vm.OpPushConst, vm.TypeDouble, c.addConstant(vm.FromFloat64(e.Value), vm.TypeDouble, e.Value))

	case *StringLit:
		c.emit(vm.OpPushConst, vm.TypeString, c.addConstant(vm.FromString(e.Value), vm.TypeString, e.Value))

	case *Ident:
		v := c.variable(e, e.Name)
		c.emit(vm.OpPushMem, vm.TypeInt, int(v.addr))

	case *Binary:
		c.compileValue(e.Left)
		c.compileValue(e.Right)
		c.at = e.SpanVal
		// A mismatch was already reported by the resolver; the operation
		// takes the left operand's type.
		lt := c.typeOf(e.Left)
		if !supports(e.Op, lt) {
			c.fail(e.SpanVal, "operator %s is not defined for %s", e.Op, lt)
		}
		c.emit(arithmeticOps[e.Op], lt, 0)

	case *Call:
		c.compileCall(e)

	case *ListLit:
		if len(e.Elements) > vm.MaxImmediate {
			c.fail(e.SpanVal, "list literal has %d elements, limit is %d", len(e.Elements), vm.MaxImmediate)
		}
		for _, el := range e.Elements {
			c.compileValue(el)
		}
		c.at = e.SpanVal
		c.emit(vm.OpMakeList, vm.TypeInt, len(e.Elements))

	default:
		c.fail(expr.Span(), "unsupported expression %T", expr)
	}
}

// compileCall evaluates every argument onto the stack, then stores them
// into the callee's argument slots last to first and calls it. Storing only
// after all arguments are evaluated keeps a nested call to the same callee
// from overwriting slots that were already filled.
func (c *Compiler) compileCall(e *Call) {
	fn, ok := c.lookupFunc(e.Name)
	if !ok {
		c.fail(e.SpanVal, "call to unknown function %s", e.Name)
	}
	if fn.extern {
		c.fail(e.SpanVal, "cannot call extern function %s: foreign calls are not supported", e.Name)
	}
	if len(e.Args) != len(fn.desc.Args) {
		c.fail(e.SpanVal, "%s takes %d arguments, got %d", e.Name, len(fn.desc.Args), len(e.Args))
	}
	for i, a := range e.Args {
		c.compileValue(a)
		if want, got := fn.params[i].Type, c.typeOf(a); got != want {
			c.fail(a.Span(), "argument %d of %s: cannot use %s as %s", i+1, e.Name, got, want)
		}
	}
	c.at = e.SpanVal
	for i := len(fn.desc.Args) - 1; i >= 0; i-- {
		c.emit(vm.OpPopMem, vm.TypeInt, int(fn.desc.Args[i]))
	}
	c.emitJump(vm.OpCall, fn.entry)
	if c.fn != nil {
		c.fn.calls = append(c.fn.calls, callSite{callee: fn, span: e.SpanVal})
	}
}

// ---------------------------------------------------------------------------
// Recursion check
// ---------------------------------------------------------------------------

// checkRecursion rejects any cycle in the call graph. Arguments and locals
// live at fixed addresses, so a second activation would overwrite the first.
func (c *Compiler) checkRecursion() {
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[*function]int)
	var visit func(fn *function)
	visit = func(fn *function) {
		state[fn] = active
		for _, call := range fn.calls {
			switch state[call.callee] {
			case active:
				c.fail(call.span, "recursive call to %s is not supported", call.callee.name)
			case unvisited:
				visit(call.callee)
			}
		}
		state[fn] = done
	}
	for _, fn := range c.all {
		if state[fn] == unvisited {
			visit(fn)
		}
	}
}

// ---------------------------------------------------------------------------
// Convenience entry points
// ---------------------------------------------------------------------------

// Compile resolves and generates code for a parsed program.
func Compile(prog *Program) (*vm.Program, error) {
	return NewCompiler(Resolve(prog)).Compile(prog)
}

// CompileSource parses, resolves and compiles source text. The resolution
// is returned alongside so callers can report its diagnostics.
func CompileSource(filename, source string) (*vm.Program, *Resolution, error) {
	prog, err := Parse(filename, source)
	if err != nil {
		return nil, nil, err
	}
	res := Resolve(prog)
	p, err := NewCompiler(res).Compile(prog)
	if err != nil {
		return nil, res, err
	}
	return p, res, nil
}
