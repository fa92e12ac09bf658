package asm

import "fmt"

// field describes one packed operand field: its width in bytes and whether
// it is sign-extended, matching spec §4.1's range-check formula (for an
// n-byte field with sign σ: max = 2^(8n−σ)−1, min = σ ? −max−1 : 0).
type field struct {
	bytes  uint
	signed bool
}

func (f field) bits() uint { return f.bytes * 8 }

func (f field) bounds() (min, max int64) {
	max = 1<<(f.bits()-b2u(f.signed)) - 1
	if f.signed {
		min = -max - 1
	}
	return min, max
}

func b2u(b bool) uint {
	if b {
		return 1
	}
	return 0
}

// shapeFields gives the ordered operand fields for each Shape, per the
// table in spec §4.1. Fields are packed LSB-first within the 24-bit operand
// payload in the order listed: the first field occupies the low bits
// closest to the opcode byte.
var shapeFields = map[Shape][]field{
	Shape0:   {},
	ShapeS:   {{3, false}},
	ShapeL:   {{3, true}},
	ShapeSS:  {{1, false}, {2, false}},
	ShapeSL:  {{1, false}, {2, true}},
	ShapeST:  {{1, false}, {2, false}},
	ShapeSI:  {{1, false}, {2, true}},
	ShapeSU:  {{1, false}, {2, false}},
	ShapeSD:  {{1, false}, {2, false}},
	ShapeSC:  {{1, false}, {2, false}},
	ShapeSSS: {{1, false}, {1, false}, {1, false}},
	ShapeSES: {{1, false}, {1, false}, {1, false}},
	ShapeSSU: {{1, false}, {1, false}, {1, false}},
	ShapeSSI: {{1, false}, {1, false}, {1, true}},
}

// numOperands returns how many source-level operands a shape expects.
func numOperands(shape Shape) int { return len(shapeFields[shape]) }

// encodeOperand range-checks args against their fields and packs them into
// the 24-bit operand payload for shape.
func encodeOperand(shape Shape, args []int64) (uint32, error) {
	fields := shapeFields[shape]
	if len(args) != len(fields) {
		return 0, fmt.Errorf("asm: shape expects %d operand(s), got %d", len(fields), len(args))
	}
	var payload uint32
	var shift uint
	for i, f := range fields {
		min, max := f.bounds()
		if args[i] < min || args[i] > max {
			return 0, fmt.Errorf("operand %d too large: %d not in [%d, %d]", i, args[i], min, max)
		}
		payload |= (uint32(args[i]) & ((1 << f.bits()) - 1)) << shift
		shift += f.bits()
	}
	return payload, nil
}

// decodeOperand unpacks a 24-bit operand payload back into its fields,
// sign-extending signed fields.
func decodeOperand(shape Shape, payload uint32) []int64 {
	fields := shapeFields[shape]
	args := make([]int64, len(fields))
	var shift uint
	for i, f := range fields {
		raw := (payload >> shift) & ((1 << f.bits()) - 1)
		shift += f.bits()
		if f.signed {
			signBit := uint32(1) << (f.bits() - 1)
			if raw&signBit != 0 {
				raw |= ^uint32(0) << f.bits()
			}
			args[i] = int64(int32(raw))
		} else {
			args[i] = int64(raw)
		}
	}
	return args
}
