package value

import "fmt"

// Array is a mutable ordered sequence of values. Grounded on the teacher
// runtime's array semantics (freeze propagation, mutation guarded by an
// active-iterator count) but rewritten against this package's own Value
// interface; the teacher's own lang/types/array.go was a stale,
// non-compiling leftover from an earlier prototype module (it imported a
// different module path and a since-renamed Cmp-less interface) and is not
// carried forward (see DESIGN.md).
type Array struct {
	elems     []Value
	frozen    bool
	itercount int
}

var _ Value = (*Array)(nil)

// NewArray returns an array containing the given elements. Callers must not
// subsequently modify elems directly.
func NewArray(elems []Value) *Array { return &Array{elems: elems} }

func (a *Array) String() string { return fmt.Sprintf("@array(%d)", len(a.elems)) }
func (a *Array) Type() string   { return TypeArray }
func (a *Array) Truth() Bool    { return Bool(len(a.elems) > 0) }
func (a *Array) Len() int       { return len(a.elems) }
func (a *Array) Index(i int) Value { return a.elems[i] }
func (a *Array) Slice() []Value    { return a.elems }

func (a *Array) Freeze() {
	if a.frozen {
		return
	}
	a.frozen = true
	for _, e := range a.elems {
		if f, ok := e.(interface{ Freeze() }); ok {
			f.Freeze()
		}
	}
}

func (a *Array) checkMutable(verb string) error {
	if a.frozen {
		return fmt.Errorf("cannot %s frozen array", verb)
	}
	if a.itercount > 0 {
		return fmt.Errorf("cannot %s array during iteration", verb)
	}
	return nil
}

func (a *Array) SetIndex(i int, v Value) error {
	if err := a.checkMutable("assign to element of"); err != nil {
		return err
	}
	a.elems[i] = v
	return nil
}

func (a *Array) Append(v Value) error {
	if err := a.checkMutable("append to"); err != nil {
		return err
	}
	a.elems = append(a.elems, v)
	return nil
}

func (a *Array) Pop() (Value, error) {
	if err := a.checkMutable("pop from"); err != nil {
		return nil, err
	}
	if len(a.elems) == 0 {
		return nil, fmt.Errorf("cannot pop from empty array")
	}
	v := a.elems[len(a.elems)-1]
	a.elems = a.elems[:len(a.elems)-1]
	return v, nil
}
