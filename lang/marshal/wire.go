// Package marshal implements the binary wire format for lang/value values
// and FuncDefs (spec §4.6–4.7): a structural-sharing byte encoding and its
// inverse, with every reconstructed FuncDef re-checked by the verifier
// (lang/asm) before it is handed back to the caller.
//
// Grounded on the teacher's encoding/binary usage in lang/compiler/asm.go
// (varint/fixed-width helpers) for the low-level byte-packing style; no
// marshal code exists in the teacher itself, only a doc comment noting an
// encoder that was never retrieved into this workspace.
package marshal

// Version is incremented whenever the wire format changes incompatibly,
// following the same "bump to force recompilation of saved output"
// convention as the teacher's lang/compiler/opcode.go Version constant.
const Version = 1

// tag identifies a marshalled value's wire representation once its leading
// byte falls outside the two compact integer ranges (spec §4.6).
type tag byte

// Compact leading-byte ranges: a byte in [0, smallIntMax] is a small
// unsigned integer literally; a byte in [twoByteMin, twoByteMax] begins a
// two-byte signed integer. Tags start at tagBase, leaving the reserved
// {200..220} range (spec §4.7's "wire format: bytes-exact" note) for the 21
// tags below.
const (
	smallIntMax = 127
	twoByteMin  = 128
	twoByteMax  = 191
	twoByteBias = 1 << 13 // two-byte payload covers a signed 14-bit range
	tagBase     = 200
)

const (
	tagNil tag = tagBase + iota
	tagFalse
	tagTrue
	tagReal
	tagInteger
	tagString
	tagSymbol
	tagKeyword
	tagBuffer
	tagArray
	tagTuple
	tagTable
	tagTableProto
	tagStruct
	tagFiber
	tagFunction
	tagRegistry
	tagAbstract
	tagReference
	tagFuncenvRef
	tagFuncdefRef
)

var tagNames = map[tag]string{
	tagNil: "nil", tagFalse: "false", tagTrue: "true", tagReal: "real",
	tagInteger: "integer", tagString: "string", tagSymbol: "symbol",
	tagKeyword: "keyword", tagBuffer: "buffer", tagArray: "array",
	tagTuple: "tuple", tagTable: "table", tagTableProto: "table_proto",
	tagStruct: "struct", tagFiber: "fiber", tagFunction: "function",
	tagRegistry: "registry", tagAbstract: "abstract", tagReference: "reference",
	tagFuncenvRef: "funcenv_ref", tagFuncdefRef: "funcdef_ref",
}

func (t tag) String() string {
	if n, ok := tagNames[t]; ok {
		return n
	}
	return "unknown-tag"
}

// Error is the single error type both Marshal and Unmarshal produce,
// mirroring the verifier's "fails with a single error code" style (spec
// §4.3, reused here per §4.7).
type Error struct{ Msg string }

func (e *Error) Error() string { return "marshal-error: " + e.Msg }
