package value

import "fmt"

// Cell is a boxed slot used as an upvalue: a closure captures a Cell rather
// than a raw Value so writes made after capture are visible to the capturing
// closure, the same role lang/machine's frame-local cells play in the
// teacher runtime.
type Cell struct {
	v Value
}

// NewCell returns a cell initialized to v.
func NewCell(v Value) *Cell { return &Cell{v: v} }

func (c *Cell) Get() Value  { return c.v }
func (c *Cell) Set(v Value) { c.v = v }

// Environment is one upvalue-environment: an ordered list of cells captured
// from an enclosing function's activation, addressed by slot index. It is
// the dynamic counterpart of FuncDef.Environments.
type Environment struct {
	Cells []*Cell
}

// Function is a closure: a reference to a FuncDef plus the upvalue
// environments it closed over, one per entry of its FuncDef's Environments
// array, grounded on the teacher runtime's Function (lang/machine/function.go),
// generalized from a single Freevars tuple to the indexed multi-environment
// model spec §3 describes.
type Function struct {
	Def  *FuncDef
	Envs []*Environment
}

var _ Value = (*Function)(nil)

func (fn *Function) String() string {
	name := fn.Def.Name
	if name == "" {
		name = "<anonymous>"
	}
	return fmt.Sprintf("@function(%s)", name)
}
func (fn *Function) Type() string { return TypeFunction }
func (fn *Function) Truth() Bool  { return True }

// CFunction is a host-provided callable value, opaque to the three
// subsystems beyond its name (marshalling one requires a reverse registry
// entry, spec §4.6; there is no way to serialize its behavior).
type CFunction struct {
	Name string
	Fn   func(args []Value) (Value, error)
}

var _ Value = (*CFunction)(nil)

func (f *CFunction) String() string { return fmt.Sprintf("@cfunction(%s)", f.Name) }
func (f *CFunction) Type() string   { return TypeCFunction }
func (f *CFunction) Truth() Bool    { return True }

// Abstract is a host-owned opaque value: the three subsystems treat it as a
// black box with a type tag, recognized by the marshaller only via a
// registered symbolic reference (spec §4.6, tag ABSTRACT).
type Abstract struct {
	TypeName string
	Data     any
}

var _ Value = (*Abstract)(nil)

func (a *Abstract) String() string { return fmt.Sprintf("@abstract(%s)", a.TypeName) }
func (a *Abstract) Type() string   { return TypeAbstract }
func (a *Abstract) Truth() Bool    { return True }
