package vm

import (
	"container/list"
	"fmt"
	"math"
)

// Value is one memory cell. It carries no tag of its own: the instruction
// that reads it decides how to interpret it. Scalars live in num; strings,
// lists and iterators live in ref.
type Value struct {
	num uint64
	ref any
}

// tagError is raised when an accessor finds a payload of the wrong kind.
// The machine converts it into a TypeTag runtime error.
type tagError struct {
	want string
	got  any
}

func (e tagError) Error() string {
	if e.got == nil {
		return fmt.Sprintf("expected %s, found scalar", e.want)
	}
	return fmt.Sprintf("expected %s, found %T", e.want, e.got)
}

// FromInt creates an integer value.
func FromInt(n int64) Value { return Value{num: uint64(n)} }

// FromFloat64 creates a double value.
func FromFloat64(f float64) Value { return Value{num: math.Float64bits(f)} }

// FromString creates a string value.
func FromString(s string) Value { return Value{ref: s} }

// FromList creates a list value.
func FromList(l *List) Value { return Value{ref: l} }

func fromIterator(it *Iterator) Value { return Value{ref: it} }

// Int interprets the cell as an integer.
func (v Value) Int() int64 {
	if v.ref != nil {
		panic(tagError{want: "int", got: v.ref})
	}
	return int64(v.num)
}

// Float64 interprets the cell as a double.
func (v Value) Float64() float64 {
	if v.ref != nil {
		panic(tagError{want: "double", got: v.ref})
	}
	return math.Float64frombits(v.num)
}

// Str interprets the cell as a string.
func (v Value) Str() string {
	s, ok := v.ref.(string)
	if !ok {
		panic(tagError{want: "string", got: v.ref})
	}
	return s
}

// List interprets the cell as a list.
func (v Value) List() *List {
	l, ok := v.ref.(*List)
	if !ok {
		panic(tagError{want: "list", got: v.ref})
	}
	return l
}

// Iterator interprets the cell as a list iterator.
func (v Value) Iterator() *Iterator {
	it, ok := v.ref.(*Iterator)
	if !ok {
		panic(tagError{want: "iterator", got: v.ref})
	}
	return it
}

// ---------------------------------------------------------------------------
// Lists
// ---------------------------------------------------------------------------

// List is an ordered, growable sequence of values. Lists are shared by
// reference; the garbage collector reclaims them once unreachable.
type List struct {
	items list.List
}

// NewList creates a list holding vs in order.
func NewList(vs ...Value) *List {
	l := &List{}
	for _, v := range vs {
		l.items.PushBack(v)
	}
	return l
}

// PushFront prepends a value.
func (l *List) PushFront(v Value) { l.items.PushFront(v) }

// PushBack appends a value.
func (l *List) PushBack(v Value) { l.items.PushBack(v) }

// Len returns the number of elements.
func (l *List) Len() int { return l.items.Len() }

// Values returns the elements in order.
func (l *List) Values() []Value {
	out := make([]Value, 0, l.items.Len())
	for e := l.items.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Value))
	}
	return out
}

// Iterate returns an iterator positioned before the first element.
func (l *List) Iterate() *Iterator {
	return &Iterator{list: l}
}

// Iterator walks a list. It starts before the first element; the first
// Advance moves onto it.
type Iterator struct {
	list    *List
	cur     *list.Element
	started bool
}

// Advance moves to the next element and reports whether one exists.
func (it *Iterator) Advance() bool {
	if !it.started {
		it.started = true
		it.cur = it.list.items.Front()
	} else if it.cur != nil {
		it.cur = it.cur.Next()
	}
	return it.cur != nil
}

// Current returns the element under the iterator.
func (it *Iterator) Current() (Value, bool) {
	if it.cur == nil {
		return Value{}, false
	}
	return it.cur.Value.(Value), true
}
