package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Type tags
// ---------------------------------------------------------------------------

// Type is the operand type tag carried in every instruction word. Typed
// opcodes branch on it instead of having one opcode per operand type.
type Type uint8

const (
	TypeInt Type = iota
	TypeDouble
	TypeString
	TypeList
	TypeUnknown
	TypeVoid
)

var typeNames = [...]string{
	TypeInt:     "int",
	TypeDouble:  "double",
	TypeString:  "string",
	TypeList:    "list",
	TypeUnknown: "unknown",
	TypeVoid:    "void",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseType maps a source-level type name to its tag.
func ParseType(name string) (Type, bool) {
	for i, n := range typeNames {
		if n == name && Type(i) != TypeUnknown {
			return Type(i), true
		}
	}
	return TypeUnknown, false
}

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies an instruction. It occupies the top 8 bits of a word.
type Opcode uint8

// Reserved codes. They encode and disassemble but the machine never
// implements them; executing one is fatal.
const (
	OpLoad    Opcode = 0x00
	OpLoadImm Opcode = 0x01
	OpStore   Opcode = 0x02
	OpPush    Opcode = 0x03
	OpPop     Opcode = 0x04
)

// Stack
const (
	OpPushImm   Opcode = 0x10 // push imm as an int
	OpPushConst Opcode = 0x11 // push constant pool entry imm
	OpPushMem   Opcode = 0x12 // push mem[imm]
	OpPopMem    Opcode = 0x13 // mem[imm] = pop
)

// Arithmetic, logic and comparison (typed)
const (
	OpAdd   Opcode = 0x20
	OpSub   Opcode = 0x21
	OpMul   Opcode = 0x22
	OpDiv   Opcode = 0x23
	OpAnd   Opcode = 0x24
	OpEqual Opcode = 0x28
	OpLess  Opcode = 0x29
)

// Lists and iteration
const (
	OpMakeList  Opcode = 0x30 // pop imm values, push a list of them
	OpMakeIter  Opcode = 0x31 // push an iterator over the list on top
	OpLoopIter  Opcode = 0x32 // advance iterator; jump to imm unless exhausted
	OpIterValue Opcode = 0x33 // push the iterator's current element
)

// Control transfer
const (
	OpJump          Opcode = 0x40
	OpJumpIfZero    Opcode = 0x41
	OpJumpIfNonZero Opcode = 0x42
	OpCall          Opcode = 0x43
	OpReturn        Opcode = 0x44
)

// Effects
const (
	OpAssert Opcode = 0x50
	OpPrint  Opcode = 0x51 // typed; for lists imm is the element type
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string
	Operand  bool // imm is meaningful
	Typed    bool // type tag is meaningful
	Target   bool // imm is an instruction address
	Reserved bool
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpLoad:    {Name: "LD", Operand: true, Reserved: true},
	OpLoadImm: {Name: "LDI", Operand: true, Reserved: true},
	OpStore:   {Name: "ST", Operand: true, Reserved: true},
	OpPush:    {Name: "PUSH", Reserved: true},
	OpPop:     {Name: "POP", Reserved: true},

	OpPushImm:   {Name: "PUSHI", Operand: true},
	OpPushConst: {Name: "PUSH_CONSTANT", Operand: true},
	OpPushMem:   {Name: "PUSHM", Operand: true},
	OpPopMem:    {Name: "POPM", Operand: true},

	OpAdd:   {Name: "ADD", Typed: true},
	OpSub:   {Name: "SUB", Typed: true},
	OpMul:   {Name: "MUL", Typed: true},
	OpDiv:   {Name: "DIV", Typed: true},
	OpAnd:   {Name: "AND", Typed: true},
	OpEqual: {Name: "CMP", Typed: true},
	OpLess:  {Name: "CLT", Typed: true},

	OpMakeList:  {Name: "MAKE_LIST", Operand: true},
	OpMakeIter:  {Name: "MAKE_ITER"},
	OpLoopIter:  {Name: "LOOP_ITER", Operand: true, Target: true},
	OpIterValue: {Name: "ITER_VALUE"},

	OpJump:          {Name: "JMP", Operand: true, Target: true},
	OpJumpIfZero:    {Name: "JZ", Operand: true, Target: true},
	OpJumpIfNonZero: {Name: "JNZ", Operand: true, Target: true},
	OpCall:          {Name: "CALL", Operand: true, Target: true},
	OpReturn:        {Name: "RET"},

	OpAssert: {Name: "ASSERT"},
	OpPrint:  {Name: "PRINT", Typed: true, Operand: true},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", uint8(op)), Reserved: true}
}

// Known reports whether op is part of the instruction set, reserved or not.
func (op Opcode) Known() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Instruction word
// ---------------------------------------------------------------------------

// Instruction is a packed 32-bit word: opcode (8) | type tag (8) | imm (16).
type Instruction uint32

// MaxImmediate is the largest operand an instruction can carry. Addresses,
// constant indices and jump targets all share this ceiling.
const MaxImmediate = 0xFFFF

// Encode packs an instruction word.
func Encode(op Opcode, t Type, imm uint16) Instruction {
	return Instruction(uint32(op)<<24 | uint32(t)<<16 | uint32(imm))
}

// Decode is the exact inverse of Encode.
func (i Instruction) Decode() (Opcode, Type, uint16) {
	return i.Op(), i.Type(), i.Imm()
}

// Op returns the opcode field.
func (i Instruction) Op() Opcode { return Opcode(i >> 24) }

// Type returns the type tag field.
func (i Instruction) Type() Type { return Type(i >> 16) }

// Imm returns the immediate field.
func (i Instruction) Imm() uint16 { return uint16(i) }

func (i Instruction) String() string {
	op, t, imm := i.Decode()
	info := op.Info()
	var b strings.Builder
	b.WriteString(info.Name)
	if info.Typed {
		b.WriteByte('.')
		b.WriteString(t.String())
	}
	switch {
	case op == OpPrint && t == TypeList:
		fmt.Fprintf(&b, " of %s", Type(imm))
	case info.Target:
		fmt.Fprintf(&b, " -> %04d", imm)
	case op == OpPushMem || op == OpPopMem:
		fmt.Fprintf(&b, " [%d]", imm)
	case info.Operand && op != OpPrint:
		fmt.Fprintf(&b, " %d", imm)
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// Disassemble returns one line per instruction, prefixed by its address.
func Disassemble(code []Instruction) string {
	var b strings.Builder
	for pc, ins := range code {
		if pc > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%04d  %s", pc, ins)
	}
	return b.String()
}
