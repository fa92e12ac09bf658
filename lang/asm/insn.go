package asm

import "fmt"

// Insn is one source-level instruction: a mnemonic plus up to three operand
// values, per spec §4.1's "(mnemonic, arg0, arg1, arg2)" tuple. Operand
// values have already been resolved to their numeric form (slot index,
// relative label offset, etc.) by the time they reach EncodeInsn; resolving
// symbolic operand syntax (slot/label/constant/funcdef/environment/type
// names) is the assembler's job (asm.go).
type Insn struct {
	Mnemonic   string
	Breakpoint bool
	Args       []int64
}

// EncodeInsn resolves mnemonic via the opcode table and packs args into one
// bytecode word.
func EncodeInsn(mnemonic string, breakpoint bool, args []int64) (uint32, error) {
	op, shape, ok := lookupMnemonic(mnemonic)
	if !ok {
		return 0, fmt.Errorf("unknown mnemonic: %s", mnemonic)
	}
	if len(args) != numOperands(shape) {
		return 0, fmt.Errorf("%s: expected %d operand(s), got %d", mnemonic, numOperands(shape), len(args))
	}
	payload, err := encodeOperand(shape, args)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", mnemonic, err)
	}
	return EncodeWord(op, breakpoint, payload), nil
}

// DecodeInsn is the inverse of EncodeInsn: given a bytecode word, it
// recovers the mnemonic, breakpoint flag and operand values.
func DecodeInsn(w uint32) (mnemonic string, breakpoint bool, args []int64, err error) {
	op, bp, payload := DecodeWord(w)
	shape, ok := shapeOf(op)
	if !ok {
		return "", false, nil, fmt.Errorf("unknown opcode: %d", op)
	}
	return byOpcode[op].name, bp, decodeOperand(shape, payload), nil
}

// isLabelShape reports whether shape's first field after the slot(s) (or
// its only field, for ShapeL) denotes a relative jump target, i.e. whether
// EncodeInsn expects that argument to already be target-current rather than
// an absolute index.
func isLabelShape(shape Shape) bool {
	return shape == ShapeL || shape == ShapeSL
}

// labelArgIndex returns the index within Insn.Args that holds the label
// operand for shape, or -1 if shape has no label operand.
func labelArgIndex(shape Shape) int {
	switch shape {
	case ShapeL:
		return 0
	case ShapeSL:
		return 1
	default:
		return -1
	}
}
