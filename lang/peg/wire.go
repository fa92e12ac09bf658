package peg

import (
	"encoding/binary"
	"fmt"

	"github.com/mna/corevm/lang/marshal"
	"github.com/mna/corevm/lang/value"
)

// wireVersion tags the byte layout produced by EncodeProgram, the PEG
// counterpart of the marshal package's own version byte.
const wireVersion = 1

// EncodeProgram serializes p in the dedicated format spec §6 describes for
// compiled grammars ("marshallable as abstracts"): a varint bytecode length,
// an i32 constants count, the raw bytecode words, then the constants
// themselves (each a self-delimiting marshalled value, so no length prefix
// is needed between them). Entry and Tags follow as a trailer: neither is
// named by §6's literal header, but both are required to reconstruct a
// Program that can actually run (Entry because rule 0 is not always the
// grammar's start rule once children are emitted before their parents, Tags
// because capture names are not otherwise recoverable from bytecode alone).
func EncodeProgram(p *Program) ([]byte, error) {
	var buf []byte
	buf = append(buf, wireVersion)

	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(p.Bytecode)))
	buf = append(buf, lenBuf[:n]...)

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(p.Constants)))
	buf = append(buf, countBuf[:]...)

	for _, w := range p.Bytecode {
		var wb [4]byte
		binary.LittleEndian.PutUint32(wb[:], w)
		buf = append(buf, wb[:]...)
	}

	for i, c := range p.Constants {
		enc, err := marshal.Marshal(c, nil)
		if err != nil {
			return nil, fmt.Errorf("peg: encoding constant %d: %w", i, err)
		}
		buf = append(buf, enc...)
	}

	n = binary.PutUvarint(lenBuf[:], uint64(p.Entry))
	buf = append(buf, lenBuf[:n]...)

	n = binary.PutUvarint(lenBuf[:], uint64(len(p.Tags)))
	buf = append(buf, lenBuf[:n]...)
	for _, tg := range p.Tags {
		n = binary.PutUvarint(lenBuf[:], uint64(len(tg)))
		buf = append(buf, lenBuf[:n]...)
		buf = append(buf, tg...)
	}

	return buf, nil
}

// DecodeProgram is the inverse of EncodeProgram. It runs Validate on the
// reconstructed Program before returning it, the PEG counterpart of
// lang/asm's Verify pass on an unmarshalled FuncDef (spec §6: "a validation
// pass identical to the verifier's for bytecode").
func DecodeProgram(b []byte) (*Program, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("peg: empty program wire data")
	}
	if b[0] != wireVersion {
		return nil, fmt.Errorf("peg: unsupported program wire version %d", b[0])
	}
	pos := 1

	bcLen, n := binary.Uvarint(b[pos:])
	if n <= 0 {
		return nil, fmt.Errorf("peg: malformed bytecode length varint")
	}
	pos += n

	if pos+4 > len(b) {
		return nil, fmt.Errorf("peg: truncated constants count")
	}
	numConstants := binary.LittleEndian.Uint32(b[pos : pos+4])
	pos += 4

	bytecode := make([]uint32, bcLen)
	for i := range bytecode {
		if pos+4 > len(b) {
			return nil, fmt.Errorf("peg: truncated bytecode word %d", i)
		}
		bytecode[i] = binary.LittleEndian.Uint32(b[pos : pos+4])
		pos += 4
	}

	constants := make([]value.Value, numConstants)
	for i := range constants {
		v, next, err := marshal.Unmarshal(b[pos:], nil)
		if err != nil {
			return nil, fmt.Errorf("peg: decoding constant %d: %w", i, err)
		}
		constants[i] = v
		pos += next
	}

	entry64, n := binary.Uvarint(b[pos:])
	if n <= 0 {
		return nil, fmt.Errorf("peg: malformed entry varint")
	}
	pos += n

	numTags, n := binary.Uvarint(b[pos:])
	if n <= 0 {
		return nil, fmt.Errorf("peg: malformed tags count varint")
	}
	pos += n

	tags := make([]string, numTags)
	for i := range tags {
		tagLen, n := binary.Uvarint(b[pos:])
		if n <= 0 {
			return nil, fmt.Errorf("peg: malformed tag %d length varint", i)
		}
		pos += n
		if pos+int(tagLen) > len(b) {
			return nil, fmt.Errorf("peg: truncated tag %d", i)
		}
		tags[i] = string(b[pos : pos+int(tagLen)])
		pos += int(tagLen)
	}

	p := &Program{Bytecode: bytecode, Constants: constants, Tags: tags, Entry: int(entry64)}
	if err := Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// AbstractTypeName is the symbolic name a compiled Program is registered
// under when carried as a marshal Abstract value (spec §6: "PEG programs
// are marshallable as abstracts").
const AbstractTypeName = "peg.program"

// AbstractCodec returns the codec that (de)serializes a compiled Program
// through EncodeProgram/DecodeProgram, for registration in a
// marshal.Registry.Abstracts map under AbstractTypeName. This lets a
// Program travel inside any marshalled value tree — e.g. as a FuncDef
// constant — not just as a standalone file.
func AbstractCodec() marshal.AbstractCodec {
	return marshal.AbstractCodec{
		Encode: func(data any) ([]byte, error) {
			p, ok := data.(*Program)
			if !ok {
				return nil, fmt.Errorf("peg: abstract data is not a *Program, got %T", data)
			}
			return EncodeProgram(p)
		},
		Decode: func(b []byte) (any, error) {
			return DecodeProgram(b)
		},
	}
}

// ValidateError reports a structural fault in a Program's bytecode, the PEG
// counterpart of asm.VerifyError.
type ValidateError struct{ Msg string }

func (e *ValidateError) Error() string { return "peg-validate: " + e.Msg }

func vfail(format string, args ...any) error {
	return &ValidateError{Msg: fmt.Sprintf(format, args...)}
}

// opWords is the number of 32-bit words each opcode occupies, including its
// own opcode word: n-ary ops (sequence/choice) carry their arity inline and
// are handled separately.
var opWords = map[Op]int{
	OpLiteral:    2,
	OpNChar:      2,
	OpRange:      2,
	OpSet:        2,
	OpIf:         3,
	OpIfNot:      3,
	OpNot:        2,
	OpLook:       3,
	OpBetween:    4,
	OpCapture:    3,
	OpGroup:      3,
	OpAccumulate: 3,
	OpReplace:    4,
	OpCmt:        4,
	OpPosition:   2,
	OpArgument:   3,
	OpConstant:   3,
	OpBackref:    3,
	OpBackmatch:  2,
	OpError:      2,
	OpDrop:       2,
	OpCall:       2,
}

// Validate walks every instruction in p.Bytecode in order, mirroring
// lang/asm.Verify: operand bounds, in-range sub-rule references and
// constant/tag indices, consistent with spec §6's requirement that
// unmarshalling a Program run "a validation pass identical to the
// verifier's for bytecode". A Program that fails validation is rejected
// rather than loaded.
func Validate(p *Program) error {
	bc := p.Bytecode
	nc := len(p.Constants)
	nt := len(p.Tags)

	checkRule := func(idx int) error {
		if idx < 0 || idx >= len(bc) {
			return vfail("rule reference %d out of range [0, %d)", idx, len(bc))
		}
		return nil
	}
	checkConst := func(idx uint32) error {
		if int(idx) >= nc {
			return vfail("constant reference %d out of range [0, %d)", idx, nc)
		}
		return nil
	}
	checkTag := func(tg uint8) error {
		if tg != untaggedTag && int(tg) >= nt {
			return vfail("tag reference %d out of range [0, %d)", tg, nt)
		}
		return nil
	}

	for idx := 0; idx < len(bc); {
		op := Op(bc[idx] & opMask)
		if op >= opCount {
			return vfail("unknown opcode %d at word %d", op, idx)
		}

		switch op {
		case OpSequence, OpChoice:
			if idx+1 >= len(bc) {
				return vfail("%s at word %d missing arity operand", op, idx)
			}
			n := int(bc[idx+1])
			if n < 0 || idx+2+n > len(bc) {
				return vfail("%s at word %d has out-of-range arity %d", op, idx, n)
			}
			for i := 0; i < n; i++ {
				if err := checkRule(int(bc[idx+2+i])); err != nil {
					return err
				}
			}
			idx += 2 + n
			continue
		}

		width, ok := opWords[op]
		if !ok {
			return vfail("unsized opcode %s at word %d", op, idx)
		}
		if idx+width > len(bc) {
			return vfail("%s at word %d overruns bytecode", op, idx)
		}

		switch op {
		case OpLiteral, OpSet:
			if err := checkConst(bc[idx+1]); err != nil {
				return err
			}
		case OpIf, OpIfNot:
			if err := checkRule(int(bc[idx+1])); err != nil {
				return err
			}
			if err := checkRule(int(bc[idx+2])); err != nil {
				return err
			}
		case OpNot, OpError, OpDrop, OpCall:
			if err := checkRule(int(bc[idx+1])); err != nil {
				return err
			}
		case OpLook:
			if err := checkRule(int(bc[idx+2])); err != nil {
				return err
			}
		case OpBetween:
			if err := checkRule(int(bc[idx+3])); err != nil {
				return err
			}
		case OpCapture, OpGroup, OpAccumulate:
			if err := checkRule(int(bc[idx+1])); err != nil {
				return err
			}
			if err := checkTag(uint8(bc[idx+2])); err != nil {
				return err
			}
		case OpReplace, OpCmt:
			if err := checkRule(int(bc[idx+1])); err != nil {
				return err
			}
			if err := checkConst(bc[idx+2]); err != nil {
				return err
			}
			if err := checkTag(uint8(bc[idx+3])); err != nil {
				return err
			}
		case OpPosition, OpBackmatch:
			if err := checkTag(uint8(bc[idx+1])); err != nil {
				return err
			}
		case OpArgument, OpConstant:
			if op == OpConstant {
				if err := checkConst(bc[idx+1]); err != nil {
					return err
				}
			}
			if err := checkTag(uint8(bc[idx+2])); err != nil {
				return err
			}
		case OpBackref:
			if err := checkTag(uint8(bc[idx+1])); err != nil {
				return err
			}
			if err := checkTag(uint8(bc[idx+2])); err != nil {
				return err
			}
		case OpRange, OpNChar:
			// no referential operands to validate
		}

		idx += width
	}

	if err := checkRule(p.Entry); err != nil {
		return fmt.Errorf("entry: %w", err)
	}
	return nil
}
