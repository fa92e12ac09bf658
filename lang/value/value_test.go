package value_test

import (
	"testing"

	"github.com/mna/corevm/lang/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqual(t *testing.T) {
	cases := []struct {
		desc string
		x, y value.Value
		want bool
	}{
		{"nil equals nil", value.Nil, value.Nil, true},
		{"bool equal", value.True, value.True, true},
		{"bool unequal", value.True, value.False, false},
		{"number equal", value.Number(1.5), value.Number(1.5), true},
		{"number unequal", value.Number(1), value.Number(2), false},
		{"string equal", value.String("a"), value.String("a"), true},
		{"string vs symbol never equal (different type)", value.String("a"), value.Symbol("a"), false},
		{"keyword equal", value.Keyword("k"), value.Keyword("k"), true},
	}
	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			got, err := value.Equal(c.x, c.y)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestTupleCmp(t *testing.T) {
	a := value.NewTuple([]value.Value{value.Number(1), value.String("x")}, 0)
	b := value.NewTuple([]value.Value{value.Number(1), value.String("x")}, value.TupleBracket)
	eq, err := value.Equal(a, b)
	require.NoError(t, err)
	assert.True(t, eq, "tuples compare by content, not by their bracket flag")

	c := value.NewTuple([]value.Value{value.Number(1), value.String("y")}, 0)
	cmp, err := value.Compare(a, c)
	require.NoError(t, err)
	assert.Negative(t, cmp)
}

func TestArrayMutation(t *testing.T) {
	a := value.NewArray([]value.Value{value.Number(1)})
	require.NoError(t, a.Append(value.Number(2)))
	assert.Equal(t, 2, a.Len())

	a.Freeze()
	err := a.Append(value.Number(3))
	assert.ErrorContains(t, err, "frozen")
}

func TestTablePrototypeChain(t *testing.T) {
	parent := value.NewTable(1)
	parent.Put(value.Keyword("color"), value.String("blue"))

	child := value.NewTable(1)
	child.SetPrototype(parent)
	child.Put(value.Keyword("size"), value.Number(3))

	v, ok := child.Get(value.Keyword("color"))
	require.True(t, ok)
	assert.Equal(t, value.String("blue"), v)

	_, ok = child.GetLocal(value.Keyword("color"))
	assert.False(t, ok, "GetLocal must not consult the prototype")
}

func TestStructContentHash(t *testing.T) {
	s1 := value.NewStruct(map[value.Value]value.Value{value.Keyword("a"): value.Number(1)})
	s2 := value.NewStruct(map[value.Value]value.Value{value.Keyword("a"): value.Number(1)})
	assert.Equal(t, s1.ContentKey(), s2.ContentKey())

	s3 := value.NewStruct(map[value.Value]value.Value{value.Keyword("a"): value.Number(2)})
	assert.NotEqual(t, s1.ContentKey(), s3.ContentKey())
}

func TestFuncDefSyncFlags(t *testing.T) {
	fd := &value.FuncDef{Name: "f", Defs: []*value.FuncDef{{}}}
	fd.SyncFlags()
	assert.True(t, fd.HasName())
	assert.True(t, fd.Flags&value.FlagHasDefs != 0)
	assert.False(t, fd.HasSource())
}
