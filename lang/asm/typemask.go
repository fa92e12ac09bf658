package asm

import "github.com/mna/corevm/lang/value"

// Type-check bitmask, one bit per concrete value type plus three composite
// shorthands (indexed/dictionary/callable) that OR together the concrete
// bits they stand for. Exactly 16 concrete bits to fit ShapeST's 16-bit
// typemask field (spec §4.1).
const (
	tmNil uint16 = 1 << iota
	tmBoolean
	tmNumber
	tmString
	tmSymbol
	tmKeyword
	tmBuffer
	tmArray
	tmTuple
	tmStruct
	tmTable
	tmFunction
	tmCFunction
	tmFiber
	tmPointer
	tmAbstract
)

var simpleTypeMask = map[value.Keyword]uint16{
	"nil":      tmNil,
	"boolean":  tmBoolean,
	"number":   tmNumber,
	"string":   tmString,
	"symbol":   tmSymbol,
	"keyword":  tmKeyword,
	"buffer":   tmBuffer,
	"array":    tmArray,
	"tuple":    tmTuple,
	"struct":   tmStruct,
	"table":    tmTable,
	"function": tmFunction,
	"cfunction": tmCFunction,
	"fiber":    tmFiber,
	"pointer":  tmPointer,
	"abstract": tmAbstract,

	// composite shorthands, per spec §4.1's type-check operand syntax.
	"indexed":    tmArray | tmTuple | tmBuffer | tmString,
	"dictionary": tmTable | tmStruct,
	"callable":   tmFunction | tmCFunction,
}

var maskToNames = func() map[uint16]string {
	m := map[uint16]string{}
	for k, v := range simpleTypeMask {
		if _, exists := m[v]; !exists {
			m[v] = string(k)
		}
	}
	return m
}()

// resolveTypeMask turns a type-check operand (a keyword, or a tuple/array of
// keywords OR-ed together) into its 16-bit mask.
func resolveTypeMask(v value.Value) (int64, error) {
	if kw, ok := v.(value.Keyword); ok {
		mask, ok := simpleTypeMask[kw]
		if !ok {
			return 0, errf("unknown type name: %s", kw)
		}
		return int64(mask), nil
	}
	elems, ok := elemsOf(v)
	if !ok {
		return 0, errf("type operand must be a keyword or a tuple/array of keywords, got %s", v.Type())
	}
	var mask uint16
	for _, e := range elems {
		kw, ok := e.(value.Keyword)
		if !ok {
			return 0, errf("type operand entry must be a keyword, got %s", e.Type())
		}
		m, ok := simpleTypeMask[kw]
		if !ok {
			return 0, errf("unknown type name: %s", kw)
		}
		mask |= m
	}
	return int64(mask), nil
}

// typeMaskNames decomposes mask into keyword names whose masks union to it,
// for disassembly: a single name when mask exactly matches one (composites
// included), otherwise one concrete name per set bit.
func typeMaskNames(mask uint16) []value.Value {
	if name, ok := maskToNames[mask]; ok {
		return []value.Value{value.Keyword(name)}
	}
	var names []value.Value
	for bit := uint16(1); bit != 0; bit <<= 1 {
		if mask&bit == 0 {
			continue
		}
		if name, ok := maskToNames[bit]; ok {
			names = append(names, value.Keyword(name))
		}
	}
	return names
}
