package vm

import (
	"errors"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Opcode metadata tests
// ---------------------------------------------------------------------------

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op       Opcode
		name     string
		operand  bool
		typed    bool
		reserved bool
	}{
		{OpLoad, "LD", true, false, true},
		{OpLoadImm, "LDI", true, false, true},
		{OpStore, "ST", true, false, true},
		{OpPush, "PUSH", false, false, true},
		{OpPop, "POP", false, false, true},
		{OpPushImm, "PUSHI", true, false, false},
		{OpPushConst, "PUSH_CONSTANT", true, false, false},
		{OpPushMem, "PUSHM", true, false, false},
		{OpPopMem, "POPM", true, false, false},
		{OpAdd, "ADD", false, true, false},
		{OpSub, "SUB", false, true, false},
		{OpMul, "MUL", false, true, false},
		{OpDiv, "DIV", false, true, false},
		{OpAnd, "AND", false, true, false},
		{OpEqual, "CMP", false, true, false},
		{OpLess, "CLT", false, true, false},
		{OpMakeList, "MAKE_LIST", true, false, false},
		{OpMakeIter, "MAKE_ITER", false, false, false},
		{OpLoopIter, "LOOP_ITER", true, false, false},
		{OpIterValue, "ITER_VALUE", false, false, false},
		{OpJump, "JMP", true, false, false},
		{OpJumpIfZero, "JZ", true, false, false},
		{OpJumpIfNonZero, "JNZ", true, false, false},
		{OpCall, "CALL", true, false, false},
		{OpReturn, "RET", false, false, false},
		{OpAssert, "ASSERT", false, false, false},
		{OpPrint, "PRINT", true, true, false},
	}

	for _, tt := range tests {
		info := tt.op.Info()
		if info.Name != tt.name {
			t.Errorf("%s: Name = %q, want %q", tt.op, info.Name, tt.name)
		}
		if info.Operand != tt.operand {
			t.Errorf("%s: Operand = %v, want %v", tt.op, info.Operand, tt.operand)
		}
		if info.Typed != tt.typed {
			t.Errorf("%s: Typed = %v, want %v", tt.op, info.Typed, tt.typed)
		}
		if info.Reserved != tt.reserved {
			t.Errorf("%s: Reserved = %v, want %v", tt.op, info.Reserved, tt.reserved)
		}
		if !tt.op.Known() {
			t.Errorf("%s: Known = false", tt.op)
		}
	}
}

func TestUnknownOpcode(t *testing.T) {
	op := Opcode(0xFF)
	if op.Known() {
		t.Fatal("0xFF should not be a known opcode")
	}
	if got := op.Info().Name; got != "UNKNOWN_FF" {
		t.Errorf("Name = %q, want UNKNOWN_FF", got)
	}
}

func TestTypeNames(t *testing.T) {
	for _, name := range []string{"int", "double", "string", "list", "void"} {
		typ, ok := ParseType(name)
		if !ok {
			t.Errorf("ParseType(%q) failed", name)
			continue
		}
		if typ.String() != name {
			t.Errorf("ParseType(%q).String() = %q", name, typ.String())
		}
	}
	if _, ok := ParseType("unknown"); ok {
		t.Error("unknown must not be a source-level type")
	}
	if TypeInt != 0 || TypeVoid != 5 {
		t.Errorf("tag numbering changed: int=%d void=%d", TypeInt, TypeVoid)
	}
}

// ---------------------------------------------------------------------------
// Instruction word tests
// ---------------------------------------------------------------------------

func TestEncodeDecodeRoundTrip(t *testing.T) {
	imms := []uint16{0, 1, 2, 0x7F, 0x80, 0xFF, 0x100, 0x7FFF, 0x8000, 0xFFFE, 0xFFFF}
	for op := 0; op < 256; op++ {
		for typ := 0; typ < 256; typ++ {
			for _, imm := range imms {
				ins := Encode(Opcode(op), Type(typ), imm)
				gotOp, gotType, gotImm := ins.Decode()
				if gotOp != Opcode(op) || gotType != Type(typ) || gotImm != imm {
					t.Fatalf("Decode(Encode(%d, %d, %d)) = (%d, %d, %d)", op, typ, imm, gotOp, gotType, gotImm)
				}
			}
		}
	}
}

func TestEncodeLayout(t *testing.T) {
	ins := Encode(OpPrint, TypeString, 0x1234)
	want := uint32(OpPrint)<<24 | uint32(TypeString)<<16 | 0x1234
	if uint32(ins) != want {
		t.Errorf("Encode = %08X, want %08X", uint32(ins), want)
	}
}

func TestInstructionString(t *testing.T) {
	tests := []struct {
		ins  Instruction
		want string
	}{
		{Encode(OpPushImm, TypeInt, 7), "PUSHI 7"},
		{Encode(OpPushMem, TypeInt, 3), "PUSHM [3]"},
		{Encode(OpAdd, TypeDouble, 0), "ADD.double"},
		{Encode(OpJump, TypeInt, 12), "JMP -> 0012"},
		{Encode(OpPrint, TypeString, 0), "PRINT.string"},
		{Encode(OpPrint, TypeList, uint16(TypeDouble)), "PRINT.list of double"},
		{Encode(OpReturn, TypeInt, 0), "RET"},
	}
	for _, tt := range tests {
		if got := tt.ins.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestDisassemble(t *testing.T) {
	code := []Instruction{
		Encode(OpPushImm, TypeInt, 1),
		Encode(OpPrint, TypeInt, 0),
	}
	got := Disassemble(code)
	want := "0000  PUSHI 1\n0001  PRINT.int"
	if got != want {
		t.Errorf("Disassemble =\n%s\nwant\n%s", got, want)
	}
}

// ---------------------------------------------------------------------------
// Builder tests
// ---------------------------------------------------------------------------

func TestBuilderForwardLabel(t *testing.T) {
	b := NewBuilder()
	end := b.NewLabel("end")
	b.EmitJump(OpJump, end)
	b.Emit(OpPushImm, TypeInt, 1)
	b.Mark(end)
	b.EmitOp(OpReturn)

	code, err := b.Link()
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if got := code[0].Imm(); got != 2 {
		t.Errorf("forward jump target = %d, want 2", got)
	}
}

func TestBuilderBackwardLabel(t *testing.T) {
	b := NewBuilder()
	top := b.NewLabel("top")
	b.Mark(top)
	b.Emit(OpPushImm, TypeInt, 0)
	b.EmitJump(OpJumpIfNonZero, top)
	code, err := b.Link()
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if code[1].Op() != OpJumpIfNonZero || code[1].Imm() != 0 {
		t.Errorf("code[1] = %s", code[1])
	}
}

func TestBuilderPatchKeepsOpcodeAndTag(t *testing.T) {
	b := NewBuilder()
	b.Emit(OpPrint, TypeList, 0)
	b.Patch(0, int(TypeString))
	code, err := b.Link()
	if err != nil {
		t.Fatal(err)
	}
	op, typ, imm := code[0].Decode()
	if op != OpPrint || typ != TypeList || Type(imm) != TypeString {
		t.Errorf("patched = %s", code[0])
	}
}

func TestBuilderUnboundLabel(t *testing.T) {
	b := NewBuilder()
	l := b.NewLabel("missing")
	b.EmitJump(OpCall, l)
	_, err := b.Link()
	if !errors.Is(err, ErrUnboundLabel) {
		t.Fatalf("Link error = %v, want ErrUnboundLabel", err)
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("error should name the label: %v", err)
	}
}

func TestBuilderOperandRange(t *testing.T) {
	for _, imm := range []int{-1, MaxImmediate + 1} {
		b := NewBuilder()
		b.Emit(OpPushImm, TypeInt, imm)
		b.Emit(OpPushImm, TypeInt, 1)
		if _, err := b.Link(); !errors.Is(err, ErrOperandRange) {
			t.Errorf("imm %d: Link error = %v, want ErrOperandRange", imm, err)
		}
	}
}

func TestBuilderProgramTooLarge(t *testing.T) {
	b := NewBuilder()
	for i := 0; i < MaxImmediate+1; i++ {
		b.EmitOp(OpReturn)
	}
	if !errors.Is(b.Err(), ErrProgramTooLarge) {
		t.Fatalf("Err = %v, want ErrProgramTooLarge", b.Err())
	}
}

func TestMarkTwicePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("second Mark should panic")
		}
	}()
	b := NewBuilder()
	l := b.NewLabel("twice")
	b.Mark(l)
	b.Mark(l)
}

func FuzzEncodeDecode(f *testing.F) {
	f.Add(uint8(OpPushImm), uint8(TypeInt), uint16(0))
	f.Add(uint8(OpPrint), uint8(TypeList), uint16(TypeString))
	f.Add(uint8(0xFF), uint8(0xFF), uint16(0xFFFF))
	f.Fuzz(func(t *testing.T, op, typ uint8, imm uint16) {
		gotOp, gotType, gotImm := Encode(Opcode(op), Type(typ), imm).Decode()
		if uint8(gotOp) != op || uint8(gotType) != typ || gotImm != imm {
			t.Fatalf("round trip (%d,%d,%d) -> (%d,%d,%d)", op, typ, imm, gotOp, gotType, gotImm)
		}
	})
}
