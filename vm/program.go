package vm

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Function describes one compiled function: where its code starts and
// the fixed storage addresses its arguments are passed through.
type Function struct {
	Name   string
	Entry  int
	Args   []uint16
	Return Type
}

// Program is the output of code generation and the input to the machine.
type Program struct {
	Code []Instruction

	// Constant pool. ConstantTypes[i] is the tag of Constants[i].
	Constants     []Value
	ConstantTypes []Type

	Functions map[string]*Function

	// StorageSize is the number of low memory addresses reserved for
	// variables. The operand stack grows down towards it.
	StorageSize int
}

// Lookup returns the descriptor for a named function.
func (p *Program) Lookup(name string) (*Function, bool) {
	f, ok := p.Functions[name]
	return f, ok
}

// FunctionNames returns the function table keys in sorted order.
func (p *Program) FunctionNames() []string {
	names := make([]string, 0, len(p.Functions))
	for name := range p.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Disassemble renders the whole program: constants, functions and code,
// with function entry points labelled.
func (p *Program) Disassemble() string {
	var b strings.Builder
	fmt.Fprintf(&b, "; storage %d\n", p.StorageSize)
	for i, c := range p.Constants {
		fmt.Fprintf(&b, "; const %d %s %s\n", i, p.ConstantTypes[i], formatConstant(c, p.ConstantTypes[i]))
	}
	entries := make(map[int][]string)
	for _, name := range p.FunctionNames() {
		f := p.Functions[name]
		entries[f.Entry] = append(entries[f.Entry], name)
		fmt.Fprintf(&b, "; func %s entry %04d args %v returns %s\n", name, f.Entry, f.Args, f.Return)
	}
	for pc, ins := range p.Code {
		for _, name := range entries[pc] {
			fmt.Fprintf(&b, "%s:\n", name)
		}
		fmt.Fprintf(&b, "%04d  %s\n", pc, ins)
	}
	return b.String()
}

func formatConstant(v Value, t Type) string {
	switch t {
	case TypeInt:
		return strconv.FormatInt(v.Int(), 10)
	case TypeDouble:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case TypeString:
		return strconv.Quote(v.Str())
	}
	return "?"
}
