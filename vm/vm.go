package vm

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

const (
	// DefaultMemorySize is the capacity of the shared memory array.
	DefaultMemorySize = 65536
	// DefaultCallDepth is the capacity of the return-address stack.
	DefaultCallDepth = 128
)

// Config holds machine parameters. Zero fields take defaults.
type Config struct {
	MemorySize int
	CallDepth  int
	Output     io.Writer // print destination; os.Stdout when nil
	Trace      io.Writer // per-instruction trace; disabled when nil
}

// Machine executes programs. Storage occupies the low addresses of the
// memory array. The operand stack starts at the top and grows down.
//
// A Machine is not safe for concurrent use. Each Run starts from fresh
// memory, so runs never observe each other's state.
type Machine struct {
	cfg Config
	log commonlog.Logger

	// RunID identifies the most recent run in log output.
	RunID uuid.UUID

	prog      *Program
	mem       []Value
	sp        int // next free stack slot
	floor     int // lowest address the stack may occupy
	callStack []int
	callLimit int // return addresses allowed; Run adds one for its sentinel
	pc        int
}

// New creates a machine.
func New(cfg Config) *Machine {
	if cfg.MemorySize <= 0 {
		cfg.MemorySize = DefaultMemorySize
	}
	if cfg.CallDepth <= 0 {
		cfg.CallDepth = DefaultCallDepth
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	return &Machine{
		cfg: cfg,
		log: commonlog.GetLogger("prism.vm"),
	}
}

// Run executes the named function of p. An extra return address pointing
// at the last instruction is pushed first, so the entry function's final
// return runs off the end of the program.
func (m *Machine) Run(p *Program, entry string) error {
	fn, ok := p.Lookup(entry)
	if !ok {
		return fmt.Errorf("vm: %w: %q", ErrNoEntry, entry)
	}
	if err := m.reset(p); err != nil {
		return err
	}
	m.callStack = append(m.callStack, len(p.Code)-1)
	m.callLimit++
	return m.execute(fn.Entry, entry)
}

// RunAt executes p starting at pc with an empty call stack.
func (m *Machine) RunAt(p *Program, pc int) error {
	if err := m.reset(p); err != nil {
		return err
	}
	return m.execute(pc, strconv.Itoa(pc))
}

func (m *Machine) reset(p *Program) error {
	if p.StorageSize >= m.cfg.MemorySize {
		return fmt.Errorf("vm: %w: %d of %d", ErrStorageTooLarge, p.StorageSize, m.cfg.MemorySize)
	}
	m.prog = p
	m.mem = make([]Value, m.cfg.MemorySize)
	m.sp = len(m.mem) - 1
	m.floor = p.StorageSize
	m.callStack = make([]int, 0, m.cfg.CallDepth+1)
	m.callLimit = m.cfg.CallDepth
	m.RunID = uuid.New()
	return nil
}

func (m *Machine) execute(pc int, what string) error {
	m.log.Infof("run %s: start at %s (pc %d)", m.RunID, what, pc)
	err := m.loop(pc)
	if err != nil {
		m.log.Errorf("run %s: %s", m.RunID, err)
		return err
	}
	m.log.Infof("run %s: finished", m.RunID)
	return nil
}

// fault aborts execution. It is recovered by loop.
func (m *Machine) fault(kind ErrorKind, format string, args ...any) {
	var ins Instruction
	if m.pc >= 0 && m.pc < len(m.prog.Code) {
		ins = m.prog.Code[m.pc]
	}
	panic(&RuntimeError{Kind: kind, PC: m.pc, Instr: ins, Msg: fmt.Sprintf(format, args...)})
}

// ---------------------------------------------------------------------------
// Stack primitives
// ---------------------------------------------------------------------------

func (m *Machine) push(v Value) {
	if m.sp < m.floor {
		m.fault(StackOverflow, "operand stack reached storage at %d", m.floor)
	}
	m.mem[m.sp] = v
	m.sp--
}

func (m *Machine) pop() Value {
	if m.sp >= len(m.mem)-1 {
		m.fault(StackUnderflow, "")
	}
	m.sp++
	return m.mem[m.sp]
}

// peek returns the value at the top of the stack without removing it.
func (m *Machine) peek() Value {
	if m.sp >= len(m.mem)-1 {
		m.fault(StackUnderflow, "")
	}
	return m.mem[m.sp+1]
}

func (m *Machine) depth() int {
	return len(m.mem) - 1 - m.sp
}

func (m *Machine) storage(addr uint16) int {
	if int(addr) >= m.floor {
		m.fault(MemoryBounds, "address %d outside storage of %d", addr, m.floor)
	}
	return int(addr)
}

// ---------------------------------------------------------------------------
// Fetch-decode-execute
// ---------------------------------------------------------------------------

func (m *Machine) loop(start int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch e := r.(type) {
			case *RuntimeError:
				err = e
			case tagError:
				err = m.recovered(TypeTag, e.Error())
			default:
				panic(r)
			}
		}
	}()

	code := m.prog.Code
	m.pc = start
	for m.pc >= 0 && m.pc < len(code) {
		op, t, imm := code[m.pc].Decode()
		if m.cfg.Trace != nil {
			fmt.Fprintf(m.cfg.Trace, "%04d  %-24s depth=%d calls=%d\n", m.pc, code[m.pc], m.depth(), len(m.callStack))
		}
		next := m.pc + 1

		switch op {
		case OpPushImm:
			m.push(FromInt(int64(imm)))

		case OpPushConst:
			if int(imm) >= len(m.prog.Constants) {
				m.fault(ConstantBounds, "index %d of %d", imm, len(m.prog.Constants))
			}
			m.push(m.prog.Constants[imm])

		case OpPushMem:
			m.push(m.mem[m.storage(imm)])

		case OpPopMem:
			addr := m.storage(imm)
			m.mem[addr] = m.pop()

		case OpAdd, OpSub, OpMul, OpDiv, OpAnd, OpEqual, OpLess:
			rhs := m.pop()
			lhs := m.pop()
			m.push(m.binary(op, t, lhs, rhs))

		case OpMakeList:
			l := NewList()
			for n := int(imm); n > 0; n-- {
				l.PushFront(m.pop())
			}
			m.push(FromList(l))

		case OpMakeIter:
			m.push(fromIterator(m.peek().List().Iterate()))

		case OpLoopIter:
			if m.peek().Iterator().Advance() {
				next = int(imm)
			}

		case OpIterValue:
			v, ok := m.peek().Iterator().Current()
			if !ok {
				m.fault(IteratorExhausted, "")
			}
			m.push(v)

		case OpJump:
			next = int(imm)

		case OpJumpIfZero:
			if m.pop().Int() == 0 {
				next = int(imm)
			}

		case OpJumpIfNonZero:
			if m.pop().Int() != 0 {
				next = int(imm)
			}

		case OpCall:
			if len(m.callStack) >= m.callLimit {
				m.fault(CallStackOverflow, "depth %d", m.cfg.CallDepth)
			}
			m.callStack = append(m.callStack, m.pc)
			next = int(imm)

		case OpReturn:
			// An empty call stack makes return a no-op.
			if n := len(m.callStack); n > 0 {
				next = m.callStack[n-1] + 1
				m.callStack = m.callStack[:n-1]
			}

		case OpAssert:
			if m.pop().Int() == 0 {
				m.fault(AssertionFailed, "")
			}

		case OpPrint:
			v := m.pop()
			elem := TypeInt
			if t == TypeList {
				elem = Type(imm)
			}
			io.WriteString(m.cfg.Output, m.format(v, t, elem))

		default:
			m.fault(UnknownOpcode, "opcode %02X", uint8(op))
		}

		m.pc = next
	}
	return nil
}

func (m *Machine) recovered(kind ErrorKind, msg string) *RuntimeError {
	var ins Instruction
	if m.pc >= 0 && m.pc < len(m.prog.Code) {
		ins = m.prog.Code[m.pc]
	}
	return &RuntimeError{Kind: kind, PC: m.pc, Instr: ins, Msg: msg}
}

// binary applies a typed two-operand instruction. lhs was pushed first.
func (m *Machine) binary(op Opcode, t Type, lhs, rhs Value) Value {
	switch t {
	case TypeInt:
		a, b := lhs.Int(), rhs.Int()
		switch op {
		case OpAdd:
			return FromInt(a + b)
		case OpSub:
			return FromInt(a - b)
		case OpMul:
			return FromInt(a * b)
		case OpDiv:
			if b == 0 {
				m.fault(DivisionByZero, "")
			}
			return FromInt(a / b)
		case OpAnd:
			return boolValue(a != 0 && b != 0)
		case OpEqual:
			return boolValue(a == b)
		case OpLess:
			return boolValue(a < b)
		}
	case TypeDouble:
		a, b := lhs.Float64(), rhs.Float64()
		switch op {
		case OpAdd:
			return FromFloat64(a + b)
		case OpSub:
			return FromFloat64(a - b)
		case OpMul:
			return FromFloat64(a * b)
		case OpDiv:
			return FromFloat64(a / b)
		case OpEqual:
			return boolValue(a == b)
		case OpLess:
			return boolValue(a < b)
		}
	case TypeString:
		switch op {
		case OpAdd:
			return FromString(lhs.Str() + rhs.Str())
		case OpEqual:
			return boolValue(lhs.Str() == rhs.Str())
		}
	}
	m.fault(TypeTag, "%s not defined for %s", op, t)
	return Value{}
}

func boolValue(b bool) Value {
	if b {
		return FromInt(1)
	}
	return FromInt(0)
}

// ---------------------------------------------------------------------------
// Output formatting
// ---------------------------------------------------------------------------

var escapes = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\"`, `"`, `\\`, `\`)

// Unescape resolves the escape sequences print understands.
func Unescape(s string) string {
	return escapes.Replace(s)
}

func (m *Machine) format(v Value, t, elem Type) string {
	switch t {
	case TypeInt:
		return strconv.FormatInt(v.Int(), 10)
	case TypeDouble:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case TypeString:
		return Unescape(v.Str())
	case TypeList:
		vs := v.List().Values()
		parts := make([]string, len(vs))
		for i, e := range vs {
			if elem == TypeList {
				parts[i] = "[" + m.format(e, TypeList, TypeInt) + "]"
			} else {
				parts[i] = m.format(e, elem, TypeInt)
			}
		}
		return strings.Join(parts, ", ")
	}
	m.fault(TypeTag, "cannot print %s", t)
	return ""
}
