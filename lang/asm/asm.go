package asm

import (
	"fmt"

	"github.com/mna/corevm/lang/value"
)

// mapping is the minimal shape a description value must have to be read by
// Assemble: either a *value.Table or a *value.Struct (spec §4.1 says the
// input is "a mapping with the recognized keys"). Both already implement
// this method set.
type mapping interface {
	Get(value.Value) (value.Value, bool)
}

// Recognized top-level keys, per spec §4.1.
const (
	keyName         = value.Keyword("name")
	keyArity        = value.Keyword("arity")
	keyMinArity     = value.Keyword("min-arity")
	keyMaxArity     = value.Keyword("max-arity")
	keyVararg       = value.Keyword("vararg")
	keyStructarg    = value.Keyword("structarg")
	keySource       = value.Keyword("source")
	keySlots        = value.Keyword("slots")
	keyConstants    = value.Keyword("constants")
	keyClosures     = value.Keyword("closures")
	keyDefs         = value.Keyword("defs")
	keyBytecode     = value.Keyword("bytecode")
	keySourcemap    = value.Keyword("sourcemap")
	keySymbolmap    = value.Keyword("symbolmap")
	keyEnvironments = value.Keyword("environments")
)

// Error is the error type Assemble produces. It carries the failing
// instruction index when the failure occurred while emitting one bytecode
// word, per spec §4.1's "instruction-indexed message".
type Error struct {
	Msg        string
	InsnIndex  int
	HasInsnIdx bool
}

func (e *Error) Error() string {
	if e.HasInsnIdx {
		return fmt.Sprintf("asm: %s (instruction %d)", e.Msg, e.InsnIndex)
	}
	return fmt.Sprintf("asm: %s", e.Msg)
}

func errf(format string, args ...any) error { return &Error{Msg: fmt.Sprintf(format, args...)} }

func errAt(idx int, format string, args ...any) error {
	return &Error{Msg: fmt.Sprintf(format, args...), InsnIndex: idx, HasInsnIdx: true}
}

// assembler accumulates the state needed to assemble one FuncDef: its own
// slot/label/constant/def name tables plus a link to the enclosing
// assembler, consulted for upvalue-environment resolution (spec §4.1's
// "Upvalue environment resolution" note).
type assembler struct {
	parent *assembler
	fd     *value.FuncDef

	slotNames  map[string]int64
	labelAt    map[string]int // label name -> bytecode index
	constNames map[string]int64
	defNames   map[string]int64
	envNames   map[string]int32
	maxSlot    int // highest slot index referenced anywhere, declared or not
}

// Assemble builds a FuncDef from a description value (spec §4.1). desc must
// be a *value.Table or *value.Struct.
func Assemble(desc value.Value) (*value.FuncDef, error) {
	return assembleOne(nil, desc)
}

func assembleOne(parent *assembler, desc value.Value) (*value.FuncDef, error) {
	m, ok := desc.(mapping)
	if !ok {
		return nil, errf("funcdef description must be a table or struct, got %s", desc.Type())
	}
	a := &assembler{
		parent:     parent,
		fd:         &value.FuncDef{},
		slotNames:  map[string]int64{},
		labelAt:    map[string]int{},
		constNames: map[string]int64{},
		defNames:   map[string]int64{},
		envNames:   map[string]int32{},
		maxSlot:    -1,
	}
	return a.build(m)
}

func (a *assembler) build(m mapping) (*value.FuncDef, error) {
	fd := a.fd

	if v, ok := m.Get(keyName); ok {
		s, err := asString(v, "name")
		if err != nil {
			return nil, err
		}
		fd.Name = s
	}
	if v, ok := m.Get(keySource); ok {
		s, err := asString(v, "source")
		if err != nil {
			return nil, err
		}
		fd.Source = s
	}
	if v, ok := m.Get(keyArity); ok {
		n, err := asInt(v, "arity")
		if err != nil {
			return nil, err
		}
		fd.Arity = int(n)
	}
	fd.MinArity, fd.MaxArity = fd.Arity, fd.Arity
	if v, ok := m.Get(keyMinArity); ok {
		n, err := asInt(v, "min-arity")
		if err != nil {
			return nil, err
		}
		fd.MinArity = int(n)
	}
	if v, ok := m.Get(keyMaxArity); ok {
		n, err := asInt(v, "max-arity")
		if err != nil {
			return nil, err
		}
		fd.MaxArity = int(n)
	}
	if v, ok := m.Get(keyVararg); ok && bool(v.Truth()) {
		fd.Flags |= value.FlagVararg
	}
	if v, ok := m.Get(keyStructarg); ok && bool(v.Truth()) {
		fd.Flags |= value.FlagStructArg
	}

	// Slots must be resolved before constants/defs/bytecode reference them by
	// name, and nested defs (closures) must exist before bytecode references
	// them by name or index, so those two come first.
	if v, ok := m.Get(keySlots); ok {
		if err := a.buildSlots(v); err != nil {
			return nil, err
		}
	}
	if v, ok := m.Get(keyConstants); ok {
		if err := a.buildConstants(v); err != nil {
			return nil, err
		}
	}
	defsVal, ok := m.Get(keyClosures)
	if !ok {
		defsVal, ok = m.Get(keyDefs)
	}
	if ok {
		if err := a.buildDefs(defsVal); err != nil {
			return nil, err
		}
	}
	if v, ok := m.Get(keyEnvironments); ok {
		if err := a.seedEnvironments(v); err != nil {
			return nil, err
		}
	}

	bcVal, ok := m.Get(keyBytecode)
	if !ok {
		return nil, errf("missing required key: bytecode")
	}
	insns, labelIdx, err := a.splitLabels(bcVal)
	if err != nil {
		return nil, err
	}
	a.labelAt = labelIdx
	if err := a.buildBytecode(insns); err != nil {
		return nil, err
	}

	if v, ok := m.Get(keySourcemap); ok {
		if err := a.buildSourceMap(v, len(fd.Bytecode)); err != nil {
			return nil, err
		}
	}
	if v, ok := m.Get(keySymbolmap); ok {
		if err := a.buildSymbolMap(v); err != nil {
			return nil, err
		}
	}

	if fd.SlotCount <= a.maxSlot {
		fd.SlotCount = a.maxSlot + 1
	}
	if minReq := fd.Arity; fd.SlotCount < minReq {
		fd.SlotCount = minReq
	}
	fd.SyncFlags()
	return fd, nil
}

// noteSlot records that slot index idx was referenced, growing the
// computed SlotCount accordingly (spec §4.1: SlotCount must be at least one
// more than the highest slot index referenced anywhere).
func (a *assembler) noteSlot(idx int64) {
	if int(idx) > a.maxSlot {
		a.maxSlot = int(idx)
	}
}

// elemsOf returns the ordered elements of v, which must be a value.Tuple or
// *value.Array (spec §4.1 accepts either for every list-valued key).
func elemsOf(v value.Value) ([]value.Value, bool) {
	switch t := v.(type) {
	case value.Tuple:
		return t.Slice(), true
	case *value.Array:
		return t.Slice(), true
	}
	return nil, false
}

func asString(v value.Value, field string) (string, error) {
	switch s := v.(type) {
	case value.String:
		return string(s), nil
	case value.Symbol:
		return string(s), nil
	}
	return "", errf("%s must be a string, got %s", field, v.Type())
}

func asInt(v value.Value, field string) (int64, error) {
	n, ok := v.(value.Number)
	if !ok {
		return 0, errf("%s must be a number, got %s", field, v.Type())
	}
	i, exact := n.Int32()
	if !exact {
		return 0, errf("%s must be an integer, got %v", field, n)
	}
	return int64(i), nil
}

func (a *assembler) buildSlots(v value.Value) error {
	elems, ok := elemsOf(v)
	if !ok {
		return errf("slots must be a tuple or array")
	}
	var idx int64
	for _, e := range elems {
		switch t := e.(type) {
		case value.Symbol:
			a.slotNames[string(t)] = idx
		default:
			aliases, ok := elemsOf(e)
			if !ok {
				return errf("slots entry must be a symbol or a tuple/array of symbols, got %s", e.Type())
			}
			for _, al := range aliases {
				sym, ok := al.(value.Symbol)
				if !ok {
					return errf("slot alias must be a symbol, got %s", al.Type())
				}
				a.slotNames[string(sym)] = idx
			}
		}
		a.noteSlot(idx)
		idx++
	}
	return nil
}

func (a *assembler) buildConstants(v value.Value) error {
	elems, ok := elemsOf(v)
	if !ok {
		return errf("constants must be a tuple or array")
	}
	for _, e := range elems {
		if pair, ok := elemsOf(e); ok && len(pair) == 2 {
			if sym, ok := pair[0].(value.Symbol); ok {
				a.constNames[string(sym)] = int64(len(a.fd.Constants))
				a.fd.Constants = append(a.fd.Constants, pair[1])
				continue
			}
		}
		a.fd.Constants = append(a.fd.Constants, e)
	}
	return nil
}

func (a *assembler) buildDefs(v value.Value) error {
	elems, ok := elemsOf(v)
	if !ok {
		return errf("closures/defs must be a tuple or array")
	}
	for _, e := range elems {
		child, err := assembleOne(a, e)
		if err != nil {
			return err
		}
		a.defNames[child.Name] = int64(len(a.fd.Defs))
		a.fd.Defs = append(a.fd.Defs, child)
	}
	return nil
}

// seedEnvironments pre-declares named upvalue environments from the
// "environments" key, so bytecode can reference them by name without first
// forcing a parent-chain resolution (spec §4.1).
func (a *assembler) seedEnvironments(v value.Value) error {
	elems, ok := elemsOf(v)
	if !ok {
		return errf("environments must be a tuple or array")
	}
	for _, e := range elems {
		switch t := e.(type) {
		case value.Symbol:
			if _, err := a.resolveEnvOperand(string(t)); err != nil {
				return err
			}
		case value.Number:
			// A plain integer directly appends a raw entry to Environments, as
			// produced by Disassemble (which has no names to re-emit).
			n, err := asInt(t, "environments entry")
			if err != nil {
				return err
			}
			a.fd.Environments = append(a.fd.Environments, int32(n))
		default:
			pair, ok := elemsOf(e)
			if !ok || len(pair) != 2 {
				return errf("environments entry must be a symbol, a number, or a (name, index) pair")
			}
			sym, ok := pair[0].(value.Symbol)
			if !ok {
				return errf("environments entry name must be a symbol, got %s", pair[0].Type())
			}
			n, err := asInt(pair[1], "environments entry index")
			if err != nil {
				return err
			}
			a.envNames[string(sym)] = int32(n)
		}
	}
	return nil
}

// resolveEnvOperand resolves name to an index in a.fd.Environments, growing
// that array (and recursing into the enclosing assembler) on a first
// reference, per spec §4.1's upvalue resolution algorithm.
func (a *assembler) resolveEnvOperand(name string) (int32, error) {
	if idx, ok := a.envNames[name]; ok {
		return idx, nil
	}
	if a.parent == nil {
		return 0, errf("unknown environment: %s", name)
	}
	parentIdx, err := a.parent.resolveAsParent(name)
	if err != nil {
		return 0, err
	}
	idx := int32(len(a.fd.Environments))
	a.fd.Environments = append(a.fd.Environments, parentIdx)
	a.envNames[name] = idx
	return idx, nil
}

// resolveAsParent is resolveEnvOperand's recursive step: it additionally
// recognizes when name refers to the assembler's own function (returning the
// ParentEnv sentinel), which terminates the chain one level before the final
// miss would.
func (a *assembler) resolveAsParent(name string) (int32, error) {
	if a.fd.Name != "" && a.fd.Name == name {
		return value.ParentEnv, nil
	}
	if idx, ok := a.envNames[name]; ok {
		return idx, nil
	}
	if a.parent == nil {
		return 0, errf("unknown environment: %s", name)
	}
	grand, err := a.parent.resolveAsParent(name)
	if err != nil {
		return 0, err
	}
	idx := int32(len(a.fd.Environments))
	a.fd.Environments = append(a.fd.Environments, grand)
	a.envNames[name] = idx
	return idx, nil
}

// splitLabels walks the bytecode list, recording each keyword's bytecode
// index as a label and returning the plain instruction tuples in order.
func (a *assembler) splitLabels(v value.Value) ([]value.Tuple, map[string]int, error) {
	elems, ok := elemsOf(v)
	if !ok {
		return nil, nil, errf("bytecode must be a tuple or array")
	}
	labels := map[string]int{}
	insns := make([]value.Tuple, 0, len(elems))
	for _, e := range elems {
		if kw, ok := e.(value.Keyword); ok {
			labels[string(kw)] = len(insns)
			continue
		}
		t, ok := e.(value.Tuple)
		if !ok {
			return nil, nil, errf("bytecode entry must be a label keyword or an instruction tuple, got %s", e.Type())
		}
		insns = append(insns, t)
	}
	return insns, labels, nil
}

func (a *assembler) buildBytecode(insns []value.Tuple) error {
	for i, insn := range insns {
		if insn.Len() == 0 {
			return errAt(i, "empty instruction")
		}
		mnemonicVal := insn.Index(0)
		mnemonic, err := asString(mnemonicVal, "mnemonic")
		if err != nil {
			return errAt(i, "%v", err)
		}
		_, shape, ok := lookupMnemonic(mnemonic)
		if !ok {
			return errAt(i, "unknown mnemonic: %s", mnemonic)
		}
		roles := shapeRoles[shape]
		operands := insn.Slice()[1:]
		if len(operands) != len(roles) {
			return errAt(i, "%s: expected %d operand(s), got %d", mnemonic, len(roles), len(operands))
		}
		args := make([]int64, len(operands))
		for j, opnd := range operands {
			n, err := a.resolveRole(roles[j], opnd, i)
			if err != nil {
				return errAt(i, "operand %d: %v", j, err)
			}
			args[j] = n
		}
		breakpoint := insn.Flags()&value.TupleBracket != 0
		word, err := EncodeInsn(mnemonic, breakpoint, args)
		if err != nil {
			return errAt(i, "%v", err)
		}
		a.fd.Bytecode = append(a.fd.Bytecode, word)
	}
	return nil
}

func (a *assembler) resolveRole(r role, v value.Value, insnIdx int) (int64, error) {
	switch r {
	case roleSlot:
		switch t := v.(type) {
		case value.Number:
			idx, err := asInt(t, "slot")
			if err != nil {
				return 0, err
			}
			a.noteSlot(idx)
			return idx, nil
		case value.Symbol:
			idx, ok := a.slotNames[string(t)]
			if !ok {
				return 0, errf("unknown slot: %s", t)
			}
			a.noteSlot(idx)
			return idx, nil
		}
		return 0, errf("slot operand must be a number or symbol, got %s", v.Type())
	case roleLabel:
		switch t := v.(type) {
		case value.Keyword:
			target, ok := a.labelAt[string(t)]
			if !ok {
				return 0, errf("unknown label: %s", t)
			}
			return int64(target - insnIdx), nil
		case value.Number:
			// A plain integer is an absolute target instruction index, as
			// produced by Disassemble; convert to the relative offset the word
			// actually encodes.
			abs, err := asInt(t, "label")
			if err != nil {
				return 0, err
			}
			return abs - int64(insnIdx), nil
		}
		return 0, errf("label operand must be a keyword or a number, got %s", v.Type())
	case roleConstant:
		switch t := v.(type) {
		case value.Number:
			return asInt(t, "constant")
		case value.Symbol:
			idx, ok := a.constNames[string(t)]
			if !ok {
				return 0, errf("unknown constant: %s", t)
			}
			return idx, nil
		}
		return 0, errf("constant operand must be a number or symbol, got %s", v.Type())
	case roleFuncdef:
		switch t := v.(type) {
		case value.Number:
			return asInt(t, "funcdef")
		case value.Symbol:
			idx, ok := a.defNames[string(t)]
			if !ok {
				return 0, errf("unknown closure: %s", t)
			}
			return idx, nil
		}
		return 0, errf("funcdef operand must be a number or symbol, got %s", v.Type())
	case roleEnv:
		switch t := v.(type) {
		case value.Symbol:
			idx, err := a.resolveEnvOperand(string(t))
			return int64(idx), err
		case value.Number:
			// Already a resolved index into this FuncDef's own Environments
			// table, as produced by Disassemble.
			return asInt(t, "environment")
		}
		return 0, errf("environment operand must be a symbol or a number, got %s", v.Type())
	case roleType:
		return resolveTypeMask(v)
	case roleInt:
		return asInt(v, "integer")
	}
	return 0, errf("internal: unknown operand role")
}

func (a *assembler) buildSourceMap(v value.Value, wantLen int) error {
	elems, ok := elemsOf(v)
	if !ok {
		return errf("sourcemap must be a tuple or array")
	}
	if len(elems) != wantLen {
		return errf("sourcemap must have exactly one entry per instruction (%d), got %d", wantLen, len(elems))
	}
	spans := make([]value.SourceSpan, len(elems))
	for i, e := range elems {
		pair, ok := elemsOf(e)
		if !ok || len(pair) != 2 {
			return errf("sourcemap entry %d must be a (start, end) pair", i)
		}
		start, err := asInt(pair[0], "sourcemap start")
		if err != nil {
			return err
		}
		end, err := asInt(pair[1], "sourcemap end")
		if err != nil {
			return err
		}
		spans[i] = value.SourceSpan{Start: uint32(start), End: uint32(end)}
	}
	a.fd.SourceMap = spans
	return nil
}

func (a *assembler) buildSymbolMap(v value.Value) error {
	elems, ok := elemsOf(v)
	if !ok {
		return errf("symbolmap must be a tuple or array")
	}
	entries := make([]value.SymbolEntry, len(elems))
	for i, e := range elems {
		fields, ok := elemsOf(e)
		if !ok || len(fields) != 4 {
			return errf("symbolmap entry %d must be a (birth, death, slot, symbol) tuple", i)
		}
		var birth uint32
		if kw, ok := fields[0].(value.Keyword); ok && string(kw) == "upvalue" {
			birth = value.UpvalueScope
		} else {
			n, err := asInt(fields[0], "symbolmap birth")
			if err != nil {
				return err
			}
			birth = uint32(n)
		}
		death, err := asInt(fields[1], "symbolmap death")
		if err != nil {
			return err
		}
		slot, err := asInt(fields[2], "symbolmap slot")
		if err != nil {
			return err
		}
		sym, err := asString(fields[3], "symbolmap symbol")
		if err != nil {
			return err
		}
		entries[i] = value.SymbolEntry{BirthPC: birth, DeathPC: uint32(death), Slot: uint32(slot), Symbol: sym}
	}
	a.fd.SymbolMap = entries
	return nil
}
