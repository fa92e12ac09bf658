// Package value implements the tagged value model shared by the
// assembler/disassembler, the PEG engine and the marshaller: the small,
// closed set of runtime types a host dynamic-language interpreter built on
// top of this module would pass around, plus the FuncDef record that the
// assembler produces and the PEG compiler's program format borrows the
// encoding conventions from.
//
// Hashing, full structural equality and a total order on keys are the
// responsibility of the surrounding host runtime (see spec §3); this
// package only implements what the three subsystems themselves need:
// enough identity and comparison to support table keys, capture
// back-references and marshal round-tripping.
package value

// Value is the interface implemented by every value the assembler, PEG
// engine and marshaller can produce or consume.
type Value interface {
	// String returns a human-readable representation of the value.
	String() string
	// Type returns the short name of the value's variant, as used in error
	// messages and in the type-mask encoding of the assembler's type operand
	// (see lang/asm).
	Type() string
	// Truth reports whether the value is considered true in a boolean
	// context. Nil, False, the number 0 and empty strings, symbols,
	// keywords, buffers, arrays, tuples, tables and structs are falsy.
	Truth() Bool
}

// Type name constants, shared by the assembler's type-mask operand decoding
// and by error messages across the three subsystems.
const (
	TypeNil       = "nil"
	TypeBoolean   = "boolean"
	TypeNumber    = "number"
	TypeString    = "string"
	TypeSymbol    = "symbol"
	TypeKeyword   = "keyword"
	TypeBuffer    = "buffer"
	TypeArray     = "array"
	TypeTuple     = "tuple"
	TypeTable     = "table"
	TypeStruct    = "struct"
	TypeFunction  = "function"
	TypeFiber     = "fiber"
	TypeCFunction = "cfunction"
	TypeAbstract  = "abstract"
)
