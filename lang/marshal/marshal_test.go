package marshal_test

import (
	"testing"

	"github.com/mna/corevm/lang/asm"
	"github.com/mna/corevm/lang/marshal"
	"github.com/mna/corevm/lang/value"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v value.Value) value.Value {
	t.Helper()
	b, err := marshal.Marshal(v, nil)
	require.NoError(t, err)
	got, _, err := marshal.Unmarshal(b, nil)
	require.NoError(t, err)
	return got
}

func TestMarshalNumbers(t *testing.T) {
	cases := []value.Number{0, 1, 127, 128, -1, -8192, 8191, 100000, 1.5, -0.25}
	for _, n := range cases {
		got := roundTrip(t, n)
		require.Equal(t, n, got)
	}
}

func TestMarshalStrings(t *testing.T) {
	require.Equal(t, value.String("hello"), roundTrip(t, value.String("hello")))
	require.Equal(t, value.Symbol("sym"), roundTrip(t, value.Symbol("sym")))
	require.Equal(t, value.Keyword("kw"), roundTrip(t, value.Keyword("kw")))
}

func TestMarshalBoolAndNil(t *testing.T) {
	require.Equal(t, value.True, roundTrip(t, value.True))
	require.Equal(t, value.False, roundTrip(t, value.False))
	require.Equal(t, value.Nil, roundTrip(t, value.Nil))
}

func TestMarshalArraySharing(t *testing.T) {
	buf := value.NewBuffer(make([]byte, 1024))
	inner := value.NewArray([]value.Value{buf, buf})
	b, err := marshal.Marshal(inner, nil)
	require.NoError(t, err)

	got, _, err := marshal.Unmarshal(b, nil)
	require.NoError(t, err)
	arr, ok := got.(*value.Array)
	require.True(t, ok)
	require.Equal(t, 2, arr.Len())
	require.Same(t, arr.Index(0), arr.Index(1))
}

func TestMarshalTuple(t *testing.T) {
	tup := value.NewTuple([]value.Value{value.Number(1), value.String("x")}, value.TupleBracket)
	got := roundTrip(t, tup)
	gt, ok := got.(value.Tuple)
	require.True(t, ok)
	require.Equal(t, 2, gt.Len())
	require.Equal(t, value.TupleBracket, gt.Flags())
}

func TestMarshalTableWithPrototype(t *testing.T) {
	proto := value.NewTable(1)
	proto.Put(value.Keyword("inherited"), value.Number(7))
	tbl := value.NewTable(1)
	tbl.Put(value.Keyword("own"), value.String("v"))
	tbl.SetPrototype(proto)

	got := roundTrip(t, tbl)
	gt, ok := got.(*value.Table)
	require.True(t, ok)
	v, ok := gt.Get(value.Keyword("inherited"))
	require.True(t, ok)
	require.Equal(t, value.Number(7), v)
	require.NotNil(t, gt.Prototype())
}

func TestMarshalStruct(t *testing.T) {
	s := value.NewStruct(map[value.Value]value.Value{
		value.Keyword("a"): value.Number(1),
		value.Keyword("b"): value.Number(2),
	})
	got := roundTrip(t, s)
	gs, ok := got.(*value.Struct)
	require.True(t, ok)
	v, ok := gs.Get(value.Keyword("a"))
	require.True(t, ok)
	require.Equal(t, value.Number(1), v)
}

func TestMarshalFunction(t *testing.T) {
	d := value.NewTable(2)
	d.Put(value.Keyword("name"), value.String("id"))
	d.Put(value.Keyword("arity"), value.Number(1))
	d.Put(value.Keyword("slots"), value.NewTuple([]value.Value{value.Symbol("x")}, 0))
	d.Put(value.Keyword("bytecode"), value.NewTuple([]value.Value{
		value.NewTuple([]value.Value{value.Symbol("ret"), value.Symbol("x")}, 0),
	}, 0))
	fd, err := asm.Assemble(d)
	require.NoError(t, err)

	fn := &value.Function{Def: fd}
	got := roundTrip(t, fn)
	gf, ok := got.(*value.Function)
	require.True(t, ok)
	require.Equal(t, fd.Bytecode, gf.Def.Bytecode)
	require.Equal(t, fd.Name, gf.Def.Name)
}

func TestUnmarshalTruncatedString(t *testing.T) {
	b, err := marshal.Marshal(value.String("hello world"), nil)
	require.NoError(t, err)
	truncated := b[:len(b)-4] // keep tag + length, drop part of the payload
	_, _, err = marshal.Unmarshal(truncated, nil)
	require.ErrorContains(t, err, "unexpected end of source")
}

func TestUnmarshalUnknownReference(t *testing.T) {
	b, err := marshal.Marshal(value.Number(1), nil)
	require.NoError(t, err)
	// Version byte + a REFERENCE tag (200+18) pointing to a nonexistent id.
	bad := append([]byte{b[0]}, byte(218))
	bad = append(bad, 99)
	_, _, err = marshal.Unmarshal(bad, nil)
	require.Error(t, err)
}

func TestUnmarshalNextByteOffset(t *testing.T) {
	// Two independently marshalled values packed back to back in one buffer;
	// Unmarshal's next-byte pointer (spec §4.7) lets a caller decode the
	// first without needing to know its length up front, then resume at the
	// second.
	first, err := marshal.Marshal(value.Number(42), nil)
	require.NoError(t, err)
	second, err := marshal.Marshal(value.String("tail"), nil)
	require.NoError(t, err)

	buf := append(append([]byte{}, first...), second...)
	v1, next, err := marshal.Unmarshal(buf, nil)
	require.NoError(t, err)
	require.Equal(t, value.Number(42), v1)
	require.Equal(t, len(first), next)

	v2, next2, err := marshal.Unmarshal(buf[next:], nil)
	require.NoError(t, err)
	require.Equal(t, value.String("tail"), v2)
	require.Equal(t, len(second), next2)
}
