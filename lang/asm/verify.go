package asm

import (
	"fmt"

	"github.com/mna/corevm/lang/value"
)

// VerifyError is the single error code the verifier produces; the message is
// already human-readable, but callers that want to branch on "was this a
// verify failure" can type-assert for *VerifyError specifically (spec §4.3:
// "fails with a single error code").
type VerifyError struct {
	Msg string
}

func (e *VerifyError) Error() string { return "verify-error: " + e.Msg }

func vfail(format string, args ...any) error {
	return &VerifyError{Msg: fmt.Sprintf(format, args...)}
}

// Verify walks fd's bytecode linearly, checking every invariant listed in
// spec §3: operand bounds (slot/constant/funcdef/environment), jump target
// bounds, known opcodes, and the presence-flag/optional-array agreement. It
// recurses into nested defs, since a malformed inner FuncDef is just as
// fatal as a malformed outer one.
func Verify(fd *value.FuncDef) error {
	if fd.MinArity > fd.Arity || fd.Arity > fd.MaxArity {
		return vfail("arity %d not within [min_arity %d, max_arity %d]", fd.Arity, fd.MinArity, fd.MaxArity)
	}

	if err := verifySourceMap(fd); err != nil {
		return err
	}
	if err := verifyFlags(fd); err != nil {
		return err
	}

	for i, w := range fd.Bytecode {
		op, _, payload := DecodeWord(w)
		shape, ok := shapeOf(op)
		if !ok {
			return vfailAt(i, "unknown opcode %d", op)
		}
		roles := shapeRoles[shape]
		args := decodeOperand(shape, payload)
		for j, r := range roles {
			if err := verifyOperand(fd, r, args[j], i); err != nil {
				return err
			}
		}
	}

	for _, child := range fd.Defs {
		if err := Verify(child); err != nil {
			return err
		}
	}
	return nil
}

func verifyOperand(fd *value.FuncDef, r role, n int64, insnIdx int) error {
	switch r {
	case roleSlot:
		if n < 0 || n >= int64(fd.SlotCount) {
			return vfailAt(insnIdx, "slot operand %d out of range [0, %d)", n, fd.SlotCount)
		}
	case roleConstant:
		if n < 0 || n >= int64(len(fd.Constants)) {
			return vfailAt(insnIdx, "constant operand %d out of range [0, %d)", n, len(fd.Constants))
		}
	case roleFuncdef:
		if n < 0 || n >= int64(len(fd.Defs)) {
			return vfailAt(insnIdx, "funcdef operand %d out of range [0, %d)", n, len(fd.Defs))
		}
	case roleEnv:
		if n < 0 || n >= int64(len(fd.Environments)) {
			return vfailAt(insnIdx, "environment operand %d out of range [0, %d)", n, len(fd.Environments))
		}
	case roleLabel:
		target := int64(insnIdx) + n
		if target < 0 || target >= int64(len(fd.Bytecode)) {
			return vfailAt(insnIdx, "jump target %d out of range [0, %d)", target, len(fd.Bytecode))
		}
	case roleType, roleInt:
		// No further bounds beyond the field width already enforced by
		// encodeOperand at emission time.
	}
	return nil
}

func verifySourceMap(fd *value.FuncDef) error {
	if len(fd.SourceMap) != 0 && len(fd.SourceMap) != len(fd.Bytecode) {
		return vfail("sourcemap length %d must be 0 or %d", len(fd.SourceMap), len(fd.Bytecode))
	}
	return nil
}

func verifyFlags(fd *value.FuncDef) error {
	want := fd.Flags
	have := want
	have &^= value.FlagHasName | value.FlagHasSource | value.FlagHasDefs |
		value.FlagHasEnvs | value.FlagHasSourceMap | value.FlagHasSymbolMap
	if fd.Name != "" {
		have |= value.FlagHasName
	}
	if fd.Source != "" {
		have |= value.FlagHasSource
	}
	if len(fd.Defs) > 0 {
		have |= value.FlagHasDefs
	}
	if len(fd.Environments) > 0 {
		have |= value.FlagHasEnvs
	}
	if len(fd.SourceMap) > 0 {
		have |= value.FlagHasSourceMap
	}
	if len(fd.SymbolMap) > 0 {
		have |= value.FlagHasSymbolMap
	}
	if have != want {
		return vfail("flags %#x do not match the presence of the optional fields (want %#x)", want, have)
	}
	return nil
}

func vfailAt(insnIdx int, format string, args ...any) error {
	return &VerifyError{Msg: fmt.Sprintf("instruction %d: %s", insnIdx, fmt.Sprintf(format, args...))}
}
