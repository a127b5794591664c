package vm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a fatal runtime condition.
type ErrorKind int

const (
	UnknownOpcode ErrorKind = iota + 1
	TypeTag
	StackOverflow
	StackUnderflow
	CallStackOverflow
	MemoryBounds
	ConstantBounds
	AssertionFailed
	DivisionByZero
	IteratorExhausted
)

var kindNames = map[ErrorKind]string{
	UnknownOpcode:     "unknown opcode",
	TypeTag:           "unsupported type tag",
	StackOverflow:     "stack overflow",
	StackUnderflow:    "stack underflow",
	CallStackOverflow: "call stack overflow",
	MemoryBounds:      "memory address out of bounds",
	ConstantBounds:    "constant index out of bounds",
	AssertionFailed:   "assertion failed",
	DivisionByZero:    "division by zero",
	IteratorExhausted: "iterator exhausted",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("error(%d)", int(k))
}

// RuntimeError reports a fatal condition raised while executing. PC and
// Instr identify the faulting instruction.
type RuntimeError struct {
	Kind  ErrorKind
	PC    int
	Instr Instruction
	Msg   string
}

func (e *RuntimeError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("vm: %04d %s: %s", e.PC, e.Instr, e.Kind)
	}
	return fmt.Sprintf("vm: %04d %s: %s: %s", e.PC, e.Instr, e.Kind, e.Msg)
}

// IsKind reports whether err is a RuntimeError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Kind == kind
}

var (
	// ErrNoEntry is returned when the requested entry function is missing.
	ErrNoEntry = errors.New("entry function not found")
	// ErrStorageTooLarge is returned when a program's storage leaves no room
	// for the operand stack.
	ErrStorageTooLarge = errors.New("program storage exceeds machine memory")
)
