package peg_test

import (
	"testing"

	"github.com/mna/corevm/lang/marshal"
	"github.com/mna/corevm/lang/peg"
	"github.com/mna/corevm/lang/value"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeProgramRoundTrip(t *testing.T) {
	expr := tup(value.Symbol("capture"),
		tup(value.Symbol("sequence"), value.String("foo"), value.String("bar")),
		value.Keyword("whole"))
	prog, err := peg.Compile(expr)
	require.NoError(t, err)

	b, err := peg.EncodeProgram(prog)
	require.NoError(t, err)

	got, err := peg.DecodeProgram(b)
	require.NoError(t, err)
	require.Equal(t, prog.Bytecode, got.Bytecode)
	require.Equal(t, prog.Tags, got.Tags)
	require.Equal(t, prog.Entry, got.Entry)

	res, err := got.Match([]byte("foobar"), peg.Options{})
	require.NoError(t, err)
	require.True(t, res.Matched)
	require.Equal(t, 6, res.End)
	require.Len(t, res.Captures, 1)
	require.Equal(t, "whole", res.Captures[0].Tag)
}

func TestDecodeProgramRejectsOutOfRangeReference(t *testing.T) {
	expr := value.String("x")
	prog, err := peg.Compile(expr)
	require.NoError(t, err)

	prog.Bytecode[prog.Entry+1] = 0xff // bogus constant index

	b, err := peg.EncodeProgram(prog)
	require.NoError(t, err)

	_, err = peg.DecodeProgram(b)
	require.Error(t, err)
	require.ErrorContains(t, err, "constant reference")
}

func TestProgramAsMarshalledAbstract(t *testing.T) {
	expr := value.String("hi")
	prog, err := peg.Compile(expr)
	require.NoError(t, err)

	reg := &marshal.Registry{Abstracts: map[string]marshal.AbstractCodec{
		peg.AbstractTypeName: peg.AbstractCodec(),
	}}

	b, err := marshal.Marshal(&value.Abstract{TypeName: peg.AbstractTypeName, Data: prog}, reg)
	require.NoError(t, err)

	v, _, err := marshal.Unmarshal(b, reg)
	require.NoError(t, err)
	abs, ok := v.(*value.Abstract)
	require.True(t, ok)
	require.Equal(t, peg.AbstractTypeName, abs.TypeName)
	got, ok := abs.Data.(*peg.Program)
	require.True(t, ok)

	res, err := got.Match([]byte("hi"), peg.Options{})
	require.NoError(t, err)
	require.True(t, res.Matched)
}
