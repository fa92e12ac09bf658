package asm_test

import (
	"testing"

	"github.com/mna/corevm/lang/asm"
	"github.com/mna/corevm/lang/value"
	"github.com/stretchr/testify/require"
)

func tup(elems ...value.Value) value.Tuple { return value.NewTuple(elems, 0) }

func desc(pairs ...value.Value) *value.Table {
	t := value.NewTable(len(pairs) / 2)
	for i := 0; i+1 < len(pairs); i += 2 {
		t.Put(pairs[i], value.Value(pairs[i+1]))
	}
	return t
}

func TestAssembleIdentity(t *testing.T) {
	d := desc(
		value.Keyword("name"), value.String("identity"),
		value.Keyword("arity"), value.Number(1),
		value.Keyword("slots"), tup(value.Symbol("x")),
		value.Keyword("bytecode"), tup(
			tup(value.Symbol("ret"), value.Symbol("x")),
		),
	)
	fd, err := asm.Assemble(d)
	require.NoError(t, err)
	require.Equal(t, 1, fd.Arity)
	require.Equal(t, 1, fd.SlotCount)
	require.Len(t, fd.Bytecode, 1)
	require.NoError(t, asm.Verify(fd))
}

func TestAssembleRelativeJump(t *testing.T) {
	d := desc(
		value.Keyword("arity"), value.Number(0),
		value.Keyword("slots"), tup(value.Symbol("tmp")),
		value.Keyword("constants"), tup(value.Number(99)),
		value.Keyword("bytecode"), tup(
			tup(value.Symbol("jmp"), value.Keyword("skip")),
			tup(value.Symbol("ldc"), value.Symbol("tmp"), value.Number(0)),
			value.Keyword("skip"),
			tup(value.Symbol("ret"), value.Symbol("tmp")),
		),
	)
	fd, err := asm.Assemble(d)
	require.NoError(t, err)
	require.Len(t, fd.Bytecode, 3)

	mnemonic, _, args, err := asm.DecodeInsn(fd.Bytecode[0])
	require.NoError(t, err)
	require.Equal(t, "jmp", mnemonic)
	require.Equal(t, []int64{2}, args) // target index 2, current index 0

	require.NoError(t, asm.Verify(fd))
}

func TestAssembleOperandOutOfRange(t *testing.T) {
	d := desc(
		value.Keyword("arity"), value.Number(0),
		value.Keyword("slots"), tup(value.Symbol("tmp")),
		value.Keyword("bytecode"), tup(
			tup(value.Symbol("ldi"), value.Symbol("tmp"), value.Number(1<<20)),
		),
	)
	_, err := asm.Assemble(d)
	require.Error(t, err)
	var aerr *asm.Error
	require.ErrorAs(t, err, &aerr)
	require.True(t, aerr.HasInsnIdx)
	require.Equal(t, 0, aerr.InsnIndex)
}

func TestAssembleUnknownMnemonic(t *testing.T) {
	d := desc(
		value.Keyword("arity"), value.Number(0),
		value.Keyword("bytecode"), tup(
			tup(value.Symbol("frobnicate")),
		),
	)
	_, err := asm.Assemble(d)
	require.ErrorContains(t, err, "unknown mnemonic")
}

func TestAssembleUnknownLabel(t *testing.T) {
	d := desc(
		value.Keyword("arity"), value.Number(0),
		value.Keyword("bytecode"), tup(
			tup(value.Symbol("jmp"), value.Keyword("nowhere")),
		),
	)
	_, err := asm.Assemble(d)
	require.ErrorContains(t, err, "unknown label")
}

func TestAssembleBreakpointFlag(t *testing.T) {
	d := desc(
		value.Keyword("arity"), value.Number(0),
		value.Keyword("slots"), tup(value.Symbol("tmp")),
		value.Keyword("bytecode"), tup(
			value.NewTuple([]value.Value{value.Symbol("ret"), value.Symbol("tmp")}, value.TupleBracket),
		),
	)
	fd, err := asm.Assemble(d)
	require.NoError(t, err)
	_, bp, _, err := asm.DecodeInsn(fd.Bytecode[0])
	require.NoError(t, err)
	require.True(t, bp)
}

func TestUpvalueEnvironmentResolution(t *testing.T) {
	inner := desc(
		value.Keyword("name"), value.String("inner"),
		value.Keyword("arity"), value.Number(0),
		value.Keyword("slots"), tup(value.Symbol("tmp")),
		value.Keyword("bytecode"), tup(
			tup(value.Symbol("ldu"), value.Symbol("tmp"), value.Symbol("outer"), value.Number(0)),
			tup(value.Symbol("ret"), value.Symbol("tmp")),
		),
	)
	outer := desc(
		value.Keyword("name"), value.String("outer"),
		value.Keyword("arity"), value.Number(0),
		value.Keyword("closures"), tup(inner),
		value.Keyword("bytecode"), tup(
			tup(value.Symbol("retnil")),
		),
	)
	fd, err := asm.Assemble(outer)
	require.NoError(t, err)
	require.Len(t, fd.Defs, 1)
	child := fd.Defs[0]
	require.Len(t, child.Environments, 1)
	require.Equal(t, value.ParentEnv, child.Environments[0])
	require.NoError(t, asm.Verify(fd))
}

func TestAssembleDisassembleRoundTrip(t *testing.T) {
	d := desc(
		value.Keyword("name"), value.String("roundtrip"),
		value.Keyword("arity"), value.Number(1),
		value.Keyword("slots"), tup(value.Symbol("x"), value.Symbol("tmp")),
		value.Keyword("constants"), tup(value.Number(7)),
		value.Keyword("bytecode"), tup(
			tup(value.Symbol("jmp"), value.Keyword("body")),
			value.Keyword("body"),
			tup(value.Symbol("ldc"), value.Symbol("tmp"), value.Number(0)),
			tup(value.Symbol("add"), value.Symbol("tmp"), value.Symbol("tmp"), value.Symbol("x")),
			tup(value.Symbol("ret"), value.Symbol("tmp")),
		),
	)
	fd, err := asm.Assemble(d)
	require.NoError(t, err)
	require.NoError(t, asm.Verify(fd))

	rebuilt, err := asm.Assemble(asm.Disassemble(fd))
	require.NoError(t, err)
	require.Equal(t, fd.Bytecode, rebuilt.Bytecode)
	require.Equal(t, fd.SlotCount, rebuilt.SlotCount)
	require.Equal(t, fd.Constants, rebuilt.Constants)
	require.NoError(t, asm.Verify(rebuilt))
}

func TestVerifyRejectsOutOfRangeSlot(t *testing.T) {
	// Craft a RET (shape S) instruction referencing slot 5 in a 1-slot func
	// directly, bypassing the assembler (which would grow SlotCount to cover
	// slot 5).
	w, err := asm.EncodeInsn("ret", false, []int64{5})
	require.NoError(t, err)
	fd := &value.FuncDef{SlotCount: 1, Bytecode: []uint32{w}}
	err = asm.Verify(fd)
	require.Error(t, err)
	var verr *asm.VerifyError
	require.ErrorAs(t, err, &verr)
}

func TestVerifyRejectsBadJumpTarget(t *testing.T) {
	w, err := asm.EncodeInsn("jmp", false, []int64{100})
	require.NoError(t, err)
	fd := &value.FuncDef{Bytecode: []uint32{w}}
	require.Error(t, asm.Verify(fd))
}

func TestVerifyRejectsFlagMismatch(t *testing.T) {
	fd := &value.FuncDef{Name: "leaky"} // Name set but FlagHasName not synced
	require.Error(t, asm.Verify(fd))
}
