package value

import (
	"fmt"
	"strings"
)

// TupleFlag is the small bit-flag a tuple carries alongside its elements
// (spec §3), e.g. to remember whether it was written with brackets. The
// assembler reads it on an instruction tuple as that instruction's
// breakpoint flag, and the disassembler sets it back (lang/asm).
type TupleFlag uint8

const (
	TupleBracket TupleFlag = 1 << iota
)

// Tuple is an immutable ordered sequence of values.
type Tuple struct {
	elems []Value
	flags TupleFlag
}

var _ Ordered = Tuple{}

// NewTuple returns a tuple over elems. Callers must not modify elems
// afterwards.
func NewTuple(elems []Value, flags TupleFlag) Tuple { return Tuple{elems: elems, flags: flags} }

func (t Tuple) String() string {
	var sb strings.Builder
	open, close := "(", ")"
	if t.flags&TupleBracket != 0 {
		open, close = "[", "]"
	}
	sb.WriteString(open)
	for i, e := range t.elems {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(e.String())
	}
	sb.WriteString(close)
	return sb.String()
}

func (t Tuple) Type() string     { return TypeTuple }
func (t Tuple) Truth() Bool      { return Bool(len(t.elems) > 0) }
func (t Tuple) Len() int         { return len(t.elems) }
func (t Tuple) Index(i int) Value { return t.elems[i] }
func (t Tuple) Slice() []Value   { return t.elems }
func (t Tuple) Flags() TupleFlag { return t.flags }

func (t Tuple) Cmp(y Value, depth int) (int, error) {
	if depth < 1 {
		return 0, fmt.Errorf("value: comparison recursed too deeply")
	}
	t2, err := requireType[Tuple](y, TypeTuple)
	if err != nil {
		return 0, err
	}
	for i := 0; i < len(t.elems) && i < len(t2.elems); i++ {
		c, err := compareDepth(t.elems[i], t2.elems[i], depth-1)
		if err != nil {
			return 0, err
		}
		if c != 0 {
			return c, nil
		}
	}
	return len(t.elems) - len(t2.elems), nil
}

func compareDepth(x, y Value, depth int) (int, error) {
	ox, ok := x.(Ordered)
	if !ok {
		if x == y {
			return 0, nil
		}
		return 0, fmt.Errorf("value: type %s is not ordered", x.Type())
	}
	return ox.Cmp(y, depth)
}
