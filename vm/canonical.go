package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Canonical encoding: a stable byte form of a compiled program
// ---------------------------------------------------------------------------

// EncodingVersion is bumped whenever the encoded layout changes.
// v1: initial layout
const EncodingVersion uint32 = 1

type encodedProgram struct {
	Version     uint32            `cbor:"1,keyasint"`
	Code        []uint32          `cbor:"2,keyasint"`
	Constants   []encodedConstant `cbor:"3,keyasint,omitempty"`
	Functions   []encodedFunction `cbor:"4,keyasint,omitempty"`
	StorageSize int               `cbor:"5,keyasint"`
}

type encodedConstant struct {
	Type   Type    `cbor:"1,keyasint"`
	Int    int64   `cbor:"2,keyasint,omitempty"`
	Double float64 `cbor:"3,keyasint,omitempty"`
	String string  `cbor:"4,keyasint,omitempty"`
}

type encodedFunction struct {
	Name   string   `cbor:"1,keyasint"`
	Entry  int      `cbor:"2,keyasint"`
	Args   []uint16 `cbor:"3,keyasint,omitempty"`
	Return Type     `cbor:"4,keyasint"`
}

// Canonical mode makes equal programs encode to identical bytes.
var canonicalEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	canonicalEncMode = em
}

// EncodeCanonical returns the canonical CBOR form of p. Functions are
// written in name order. The result is used for fingerprinting; there
// is no decoder.
func EncodeCanonical(p *Program) ([]byte, error) {
	enc := encodedProgram{
		Version:     EncodingVersion,
		Code:        make([]uint32, len(p.Code)),
		StorageSize: p.StorageSize,
	}
	for i, ins := range p.Code {
		enc.Code[i] = uint32(ins)
	}
	for i, v := range p.Constants {
		c := encodedConstant{Type: p.ConstantTypes[i]}
		switch c.Type {
		case TypeInt:
			c.Int = v.Int()
		case TypeDouble:
			c.Double = v.Float64()
		case TypeString:
			c.String = v.Str()
		default:
			return nil, fmt.Errorf("vm: encode: constant %d has type %s", i, c.Type)
		}
		enc.Constants = append(enc.Constants, c)
	}
	for _, name := range p.FunctionNames() {
		f := p.Functions[name]
		enc.Functions = append(enc.Functions, encodedFunction{
			Name:   f.Name,
			Entry:  f.Entry,
			Args:   f.Args,
			Return: f.Return,
		})
	}
	return canonicalEncMode.Marshal(&enc)
}
