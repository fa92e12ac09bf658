package value

import (
	"fmt"

	"github.com/dolthub/swiss"
)

// Table is a mutable mapping with an optional prototype chain, backed by a
// swiss-table map exactly as the teacher runtime's Map type is (see
// lang/machine/map.go in the teacher tree): a dense open-addressing hash map
// is the natural fit for a dynamically-growing table whose keys are
// arbitrary Values.
type Table struct {
	m     *swiss.Map[Value, Value]
	proto *Table
}

var _ Value = (*Table)(nil)

// NewTable returns a table with initial capacity for at least size items.
func NewTable(size int) *Table {
	if size < 1 {
		size = 1
	}
	return &Table{m: swiss.NewMap[Value, Value](uint32(size))}
}

func (t *Table) String() string { return fmt.Sprintf("@table(%p)", t) }
func (t *Table) Type() string   { return TypeTable }
func (t *Table) Truth() Bool    { return Bool(t.m.Count() > 0) }
func (t *Table) Len() int       { return t.m.Count() }

// Prototype returns the table's prototype, or nil if it has none.
func (t *Table) Prototype() *Table { return t.proto }

// SetPrototype sets the table's prototype chain parent.
func (t *Table) SetPrototype(p *Table) { t.proto = p }

// Get looks up k, following the prototype chain on a local miss.
func (t *Table) Get(k Value) (Value, bool) {
	if v, ok := t.m.Get(k); ok {
		return v, true
	}
	if t.proto != nil {
		return t.proto.Get(k)
	}
	return nil, false
}

// GetLocal looks up k without consulting the prototype chain.
func (t *Table) GetLocal(k Value) (Value, bool) { return t.m.Get(k) }

// Put assigns k to v in this table directly (never in a prototype).
func (t *Table) Put(k, v Value) { t.m.Put(k, v) }

// Delete removes k from this table directly.
func (t *Table) Delete(k Value) { t.m.Delete(k) }

// Each iterates every local (k, v) pair, in unspecified order. It does not
// descend into the prototype chain.
func (t *Table) Each(fn func(k, v Value)) {
	t.m.Iter(func(k, v Value) bool {
		fn(k, v)
		return false
	})
}
