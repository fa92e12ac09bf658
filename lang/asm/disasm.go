package asm

import (
	"fmt"

	"github.com/mna/corevm/lang/value"
)

// Disassemble is the inverse of Assemble: it rebuilds a description table
// from a FuncDef such that re-assembling it produces bytecode identical to
// the original (spec §4.2's "assemble(disassemble(fd)) byte-for-byte"
// round-trip property). Disassembly always emits numeric slot/constant/
// funcdef/environment operands rather than symbolic names: a FuncDef
// carries no record of the symbolic names used to originally assemble it
// (only SymbolMap entries, which are diagnostic, not operand syntax).
func Disassemble(fd *value.FuncDef) *value.Table {
	t := value.NewTable(8)
	if fd.HasName() {
		t.Put(keyName, value.String(fd.Name))
	}
	if fd.HasSource() {
		t.Put(keySource, value.String(fd.Source))
	}
	t.Put(keyArity, value.Number(fd.Arity))
	t.Put(keyMinArity, value.Number(fd.MinArity))
	t.Put(keyMaxArity, value.Number(fd.MaxArity))
	if fd.IsVararg() {
		t.Put(keyVararg, value.True)
	}
	if fd.Flags&value.FlagStructArg != 0 {
		t.Put(keyStructarg, value.True)
	}
	// Slot names aren't preserved across assemble/disassemble (a FuncDef has
	// no record of them), so emit one placeholder symbol per slot: this
	// still pins SlotCount exactly on re-assembly, which is what round-trip
	// identity actually requires.
	slots := make([]value.Value, fd.SlotCount)
	for i := range slots {
		slots[i] = value.Symbol(fmt.Sprintf("_s%d", i))
	}
	t.Put(keySlots, value.NewTuple(slots, 0))

	consts := make([]value.Value, len(fd.Constants))
	copy(consts, fd.Constants)
	t.Put(keyConstants, value.NewTuple(consts, 0))

	if len(fd.Defs) > 0 {
		defs := make([]value.Value, len(fd.Defs))
		for i, d := range fd.Defs {
			defs[i] = Disassemble(d)
		}
		t.Put(keyDefs, value.NewTuple(defs, 0))
	}

	if len(fd.Environments) > 0 {
		envs := make([]value.Value, len(fd.Environments))
		for i, e := range fd.Environments {
			envs[i] = value.Number(e)
		}
		t.Put(keyEnvironments, value.NewTuple(envs, 0))
	}

	insns := make([]value.Value, len(fd.Bytecode))
	for i, w := range fd.Bytecode {
		insns[i] = disasmInsn(w, i)
	}
	t.Put(keyBytecode, value.NewTuple(insns, 0))

	if fd.HasSourceMap() {
		spans := make([]value.Value, len(fd.SourceMap))
		for i, sp := range fd.SourceMap {
			spans[i] = value.NewTuple([]value.Value{value.Number(sp.Start), value.Number(sp.End)}, 0)
		}
		t.Put(keySourcemap, value.NewTuple(spans, 0))
	}

	if fd.HasSymbolMap() {
		entries := make([]value.Value, len(fd.SymbolMap))
		for i, se := range fd.SymbolMap {
			var birth value.Value
			if se.BirthPC == value.UpvalueScope {
				birth = value.Keyword("upvalue")
			} else {
				birth = value.Number(se.BirthPC)
			}
			entries[i] = value.NewTuple([]value.Value{
				birth,
				value.Number(se.DeathPC),
				value.Number(se.Slot),
				value.String(se.Symbol),
			}, 0)
		}
		t.Put(keySymbolmap, value.NewTuple(entries, 0))
	}

	return t
}

// disasmInsn decodes one bytecode word into its (mnemonic, operand...)
// tuple, restoring the breakpoint flag as the tuple's bracket flag (the
// same convention Assemble reads it from). idx is the word's own bytecode
// index, needed to render a label operand as an absolute target offset
// rather than the relative offset the word actually encodes (spec §4.2).
func disasmInsn(w uint32, idx int) value.Tuple {
	op, breakpoint, payload := DecodeWord(w)
	shape, _ := shapeOf(op)
	roles := shapeRoles[shape]
	raw := decodeOperand(shape, payload)

	elems := make([]value.Value, 0, len(raw)+1)
	elems = append(elems, value.Symbol(op.String()))
	for i, n := range raw {
		elems = append(elems, disasmOperand(roles[i], n, idx))
	}

	var flags value.TupleFlag
	if breakpoint {
		flags = value.TupleBracket
	}
	return value.NewTuple(elems, flags)
}

func disasmOperand(r role, n int64, idx int) value.Value {
	switch r {
	case roleType:
		names := typeMaskNames(uint16(n))
		if len(names) == 1 {
			return names[0]
		}
		return value.NewTuple(names, 0)
	case roleLabel:
		return value.Number(int64(idx) + n)
	default:
		return value.Number(n)
	}
}
