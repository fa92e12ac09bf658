// Package peg implements the PEG (Parsing Expression Grammar) compiler and
// virtual machine (spec §4.4–§4.5): it lowers a data-structured grammar
// expression into a flat array of 32-bit rule words plus a constants table,
// and executes that program against input bytes with backtracking,
// captures, accumulate-mode substitution and user callbacks.
//
// Grounded on the teacher runtime's lang/asm package for its general shape
// (an opcode-table-driven compiler producing a flat word array, a separate
// VM walking that array) since the teacher has no PEG engine of its own;
// the special forms, capture/tag semantics and VM state machine follow
// spec §4.4/§4.5 directly.
package peg

// Op identifies one PEG rule opcode. Spec §4.5: "decoded by its low 5-bit
// opcode", so a rule word's low 5 bits carry Op and the remaining bits are
// unused (operands, when more than fit inline, follow as whole words).
type Op uint8

const (
	OpLiteral Op = iota
	OpNChar
	OpRange
	OpSet
	OpSequence
	OpChoice
	OpIf
	OpIfNot
	OpNot
	OpLook
	OpBetween
	OpCapture
	OpGroup
	OpAccumulate
	OpReplace
	OpCmt
	OpPosition
	OpArgument
	OpConstant
	OpBackref
	OpBackmatch
	OpError
	OpDrop
	OpCall // indirection: one operand word, the real target rule index
	opCount
)

const opMask = 0x1f

var opNames = [opCount]string{
	OpLiteral:    "literal",
	OpNChar:      "nchar",
	OpRange:      "range",
	OpSet:        "set",
	OpSequence:   "sequence",
	OpChoice:     "choice",
	OpIf:         "if",
	OpIfNot:      "if-not",
	OpNot:        "not",
	OpLook:       "look",
	OpBetween:    "between",
	OpCapture:    "capture",
	OpGroup:      "group",
	OpAccumulate: "accumulate",
	OpReplace:    "replace",
	OpCmt:        "cmt",
	OpPosition:   "position",
	OpArgument:   "argument",
	OpConstant:   "constant",
	OpBackref:    "backref",
	OpBackmatch:  "backmatch",
	OpError:      "error",
	OpDrop:       "drop",
	OpCall:       "call",
}

func (op Op) String() string {
	if op < opCount {
		return opNames[op]
	}
	return "illegal-op"
}

// untaggedTag is the reserved "no tag" byte (spec §4.4: "A tag value of 0
// means untagged").
const untaggedTag = 0
