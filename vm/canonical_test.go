package vm

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"
)

func encodeProgram(t *testing.T) *Program {
	t.Helper()
	a := newAsm(2)
	s := a.constant(FromString(`hi\n`), TypeString)
	d := a.constant(FromFloat64(2.5), TypeDouble)
	big := a.constant(FromInt(-70000), TypeInt)
	a.function("main")
	a.op(OpPushConst, TypeString, s).
		op(OpPrint, TypeString, 0).
		op(OpPushConst, TypeDouble, d).
		op(OpPrint, TypeDouble, 0).
		op(OpPushConst, TypeInt, big).
		op(OpPopMem, TypeInt, 1).
		op(OpPushMem, TypeInt, 1).
		op(OpPrint, TypeInt, 0).
		op(OpReturn, TypeInt, 0)
	p := a.program(t)
	p.Functions["main"].Args = []uint16{0}
	return p
}

func TestEncodeCanonicalContents(t *testing.T) {
	p := encodeProgram(t)
	data, err := EncodeCanonical(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var enc encodedProgram
	if err := cbor.Unmarshal(data, &enc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if enc.Version != EncodingVersion {
		t.Errorf("Version = %d", enc.Version)
	}
	if len(enc.Code) != len(p.Code) || enc.Code[0] != uint32(p.Code[0]) {
		t.Errorf("Code = %v", enc.Code)
	}
	if len(enc.Constants) != 3 || enc.Constants[0].String != `hi\n` ||
		enc.Constants[1].Double != 2.5 || enc.Constants[2].Int != -70000 {
		t.Errorf("Constants = %+v", enc.Constants)
	}
	if len(enc.Functions) != 1 || enc.Functions[0].Name != "main" || len(enc.Functions[0].Args) != 1 {
		t.Errorf("Functions = %+v", enc.Functions)
	}
	if enc.StorageSize != p.StorageSize {
		t.Errorf("StorageSize = %d, want %d", enc.StorageSize, p.StorageSize)
	}
}

func TestEncodeCanonicalIsDeterministic(t *testing.T) {
	p := encodeProgram(t)
	p.Functions["helper"] = &Function{Name: "helper", Entry: 2}
	p.Functions["aaa"] = &Function{Name: "aaa", Entry: 4}
	first, err := EncodeCanonical(p)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		again, err := EncodeCanonical(p)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("encoding differs between calls")
		}
	}
}

func TestEncodeCanonicalDistinguishesPrograms(t *testing.T) {
	p := encodeProgram(t)
	first, _ := EncodeCanonical(p)
	p.Code[0] = Encode(OpPushImm, TypeInt, 1)
	second, _ := EncodeCanonical(p)
	if bytes.Equal(first, second) {
		t.Error("different code encoded the same")
	}
}

func TestEncodeCanonicalRejectsListConstant(t *testing.T) {
	p := &Program{
		Code:          []Instruction{Encode(OpReturn, TypeInt, 0)},
		Constants:     []Value{FromList(NewList())},
		ConstantTypes: []Type{TypeList},
	}
	if _, err := EncodeCanonical(p); err == nil {
		t.Error("list constant accepted")
	}
}
