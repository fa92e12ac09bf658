package value

// Flag is the FuncDef bit-set named by spec §3.
type Flag uint32

const (
	FlagVararg Flag = 1 << iota
	FlagStructArg
	FlagHasName
	FlagHasSource
	FlagHasDefs
	FlagHasEnvs
	FlagHasSourceMap
	FlagHasSymbolMap
)

// ParentEnv is the Environments-array sentinel meaning "the immediate
// parent function's environment at this index", per spec §3.
const ParentEnv int32 = -1

// UpvalueScope is the symbolmap BirthPC sentinel meaning "this symbol names
// an upvalue, not a local slot with a birth/death range", per spec §3.
const UpvalueScope uint32 = ^uint32(0)

// SourceSpan is a (start, end) byte-offset pair. FuncDef.SourceMap uses this
// representation rather than (line, column) pairs, resolving the Open
// Question recorded in spec §9(a) in favor of byte offsets.
type SourceSpan struct {
	Start, End uint32
}

// SymbolEntry describes the lifetime of one named local slot, or (when
// BirthPC == UpvalueScope) one upvalue, per spec §3.
type SymbolEntry struct {
	BirthPC, DeathPC uint32
	Slot             uint32
	Symbol           string
}

// FuncDef is the unit the assembler produces and the (external) runtime
// executes: an immutable record of a function's constants, bytecode, nested
// function definitions and upvalue-environment map, per spec §3.
//
// A FuncDef is produced by the assembler (lang/asm) or the unmarshaller
// (lang/marshal) and is immutable thereafter; nested Defs are exclusively
// owned by their parent.
type FuncDef struct {
	Arity, MinArity, MaxArity int
	Flags                     Flag
	SlotCount                 int

	Constants []Value
	Bytecode  []uint32
	Defs      []*FuncDef

	// Environments maps a local upvalue-environment index to the enclosing
	// environment index to use; ParentEnv denotes the immediate parent's own
	// environment (see lang/asm's upvalue resolution).
	Environments []int32

	SourceMap []SourceSpan  // len 0 or len(Bytecode)
	SymbolMap []SymbolEntry

	Name, Source string
}

// HasName reports whether the FuncDef carries a name, keeping Flags and the
// Name field in sync as spec §3 requires.
func (fd *FuncDef) HasName() bool { return fd.Flags&FlagHasName != 0 }

// HasSource reports whether the FuncDef carries a source string.
func (fd *FuncDef) HasSource() bool { return fd.Flags&FlagHasSource != 0 }

// HasSourceMap reports whether the FuncDef carries a source map.
func (fd *FuncDef) HasSourceMap() bool { return fd.Flags&FlagHasSourceMap != 0 }

// HasSymbolMap reports whether the FuncDef carries a symbol map.
func (fd *FuncDef) HasSymbolMap() bool { return fd.Flags&FlagHasSymbolMap != 0 }

// IsVararg reports whether the function accepts a variadic tail argument.
func (fd *FuncDef) IsVararg() bool { return fd.Flags&FlagVararg != 0 }

// SyncFlags recomputes the presence flags (HASDEFS, HASENVS, HASSOURCEMAP,
// HASSYMBOLMAP, HASNAME, HASSOURCE) from the FuncDef's actual fields,
// leaving VARARG/STRUCTARG untouched since those aren't derivable from
// presence of a slice. Called by the assembler after building a FuncDef; the
// unmarshaller keeps the flags read from the wire and lets the verifier
// reject any that disagree with the fields.
func (fd *FuncDef) SyncFlags() {
	const derived = FlagHasName | FlagHasSource | FlagHasDefs | FlagHasEnvs | FlagHasSourceMap | FlagHasSymbolMap
	fd.Flags &^= derived
	if fd.Name != "" {
		fd.Flags |= FlagHasName
	}
	if fd.Source != "" {
		fd.Flags |= FlagHasSource
	}
	if len(fd.Defs) > 0 {
		fd.Flags |= FlagHasDefs
	}
	if len(fd.Environments) > 0 {
		fd.Flags |= FlagHasEnvs
	}
	if len(fd.SourceMap) > 0 {
		fd.Flags |= FlagHasSourceMap
	}
	if len(fd.SymbolMap) > 0 {
		fd.Flags |= FlagHasSymbolMap
	}
}
