package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Builder: helper for constructing instruction streams
// ---------------------------------------------------------------------------

var (
	// ErrOperandRange is reported when an operand does not fit in 16 bits.
	ErrOperandRange = errors.New("operand out of 16-bit range")
	// ErrProgramTooLarge is reported when a jump target would not be encodable.
	ErrProgramTooLarge = errors.New("program exceeds addressable instruction count")
	// ErrUnboundLabel is reported when a referenced label was never marked.
	ErrUnboundLabel = errors.New("label referenced but never marked")
)

// Builder appends instructions and patches forward references. The first
// error is sticky: later emits are ignored and Link reports it.
type Builder struct {
	code   []Instruction
	labels []*Label
	err    error
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{code: make([]Instruction, 0, 64)}
}

// Len returns the address the next instruction will occupy.
func (b *Builder) Len() int {
	return len(b.code)
}

// Err returns the first error recorded while building.
func (b *Builder) Err() error {
	return b.err
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Emit appends a fully formed instruction.
func (b *Builder) Emit(op Opcode, t Type, imm int) {
	if b.err != nil {
		return
	}
	if imm < 0 || imm > MaxImmediate {
		b.fail(fmt.Errorf("%s %d: %w", op, imm, ErrOperandRange))
		return
	}
	if len(b.code) >= MaxImmediate {
		b.fail(ErrProgramTooLarge)
		return
	}
	b.code = append(b.code, Encode(op, t, uint16(imm)))
}

// EmitOp appends an instruction that carries neither tag nor operand.
func (b *Builder) EmitOp(op Opcode) {
	b.Emit(op, TypeInt, 0)
}

// ---------------------------------------------------------------------------
// Label management for jumps and calls
// ---------------------------------------------------------------------------

// Label is an instruction address that may not be known yet.
type Label struct {
	name     string
	resolved bool
	position int
	refs     []int
}

// NewLabel creates an unresolved label. The name only appears in errors.
func (b *Builder) NewLabel(name string) *Label {
	l := &Label{name: name, refs: make([]int, 0, 2)}
	b.labels = append(b.labels, l)
	return l
}

// Resolved reports whether the label has been marked.
func (l *Label) Resolved() bool { return l.resolved }

// Position returns the marked address. Only valid once resolved.
func (l *Label) Position() int { return l.position }

// Mark resolves a label to the current position and patches every
// placeholder that referenced it.
func (b *Builder) Mark(l *Label) {
	if l.resolved {
		panic("label already resolved: " + l.name)
	}
	l.resolved = true
	l.position = len(b.code)
	if l.position > MaxImmediate {
		b.fail(ErrProgramTooLarge)
		return
	}
	for _, ref := range l.refs {
		b.patch(ref, l.position)
	}
	l.refs = nil
}

// EmitJump emits a control-transfer instruction whose operand is the
// label's address. Forward references get a zero placeholder.
func (b *Builder) EmitJump(op Opcode, l *Label) {
	if l.resolved {
		b.Emit(op, TypeInt, l.position)
		return
	}
	at := len(b.code)
	b.Emit(op, TypeInt, 0)
	if b.err == nil {
		l.refs = append(l.refs, at)
	}
}

// Patch overwrites the operand of an already emitted instruction.
func (b *Builder) Patch(at, imm int) {
	if at < 0 || at >= len(b.code) {
		b.fail(fmt.Errorf("patch address %d outside program of %d", at, len(b.code)))
		return
	}
	if imm < 0 || imm > MaxImmediate {
		b.fail(fmt.Errorf("patch %d: %w", imm, ErrOperandRange))
		return
	}
	b.patch(at, imm)
}

func (b *Builder) patch(at, imm int) {
	op, t, _ := b.code[at].Decode()
	b.code[at] = Encode(op, t, uint16(imm))
}

// Link verifies that every label was resolved and returns the finished
// instruction stream.
func (b *Builder) Link() ([]Instruction, error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, l := range b.labels {
		if !l.resolved && len(l.refs) > 0 {
			return nil, fmt.Errorf("%s: %w", l.name, ErrUnboundLabel)
		}
	}
	out := make([]Instruction, len(b.code))
	copy(out, b.code)
	return out, nil
}
