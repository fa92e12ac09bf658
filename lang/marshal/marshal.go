package marshal

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mna/corevm/lang/value"
)

// AbstractCodec lets a host register how to serialize one Abstract type
// name (spec §4.6: "recognized by the marshaller only via a registered
// symbolic reference").
type AbstractCodec struct {
	Encode func(data any) ([]byte, error)
	Decode func(b []byte) (any, error)
}

// Registry supplies the host-specific lookups Marshal/Unmarshal need for
// the two value kinds this package cannot serialize generically: CFunctions
// (by name) and Abstracts (by type name).
type Registry struct {
	CFunctions map[string]*value.CFunction
	Abstracts  map[string]AbstractCodec
}

func errf(format string, args ...any) error { return &Error{Msg: fmt.Sprintf(format, args...)} }

// Marshal encodes v into the wire format described by spec §4.6. A nil
// Registry is fine for values that contain no cfunction or abstract.
func Marshal(v value.Value, reg *Registry) (b []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			if me, ok := r.(*Error); ok {
				err = me
				return
			}
			panic(r)
		}
	}()
	m := &marshaler{reg: reg, seen: map[value.Value]int{}, tupleIDs: map[string]int{}, structIDs: map[string]int{}, defIDs: map[*value.FuncDef]int{}, envIDs: map[*value.Environment]int{}}
	m.put(byte(Version))
	m.marshalValue(v)
	return m.buf, nil
}

type marshaler struct {
	buf         []byte
	reg         *Registry
	seen        map[value.Value]int // array/table/buffer/function/fiber/abstract/cfunction by identity, string/symbol/keyword by content
	tupleIDs    map[string]int      // content-keyed, registered after children
	structIDs   map[string]int
	nextValueID int
	defIDs      map[*value.FuncDef]int
	nextDefID   int
	envIDs      map[*value.Environment]int
	nextEnvID   int
}

func (m *marshaler) fail(format string, args ...any) {
	panic(errf(format, args...))
}

func (m *marshaler) put(b ...byte) { m.buf = append(m.buf, b...) }

func (m *marshaler) putUvarint(n uint64) {
	var tmp [binary.MaxVarintLen64]byte
	w := binary.PutUvarint(tmp[:], n)
	m.buf = append(m.buf, tmp[:w]...)
}

func (m *marshaler) putString(s string) {
	m.putUvarint(uint64(len(s)))
	m.buf = append(m.buf, s...)
}

func (m *marshaler) allocValueID() int {
	id := m.nextValueID
	m.nextValueID++
	return id
}

// marshalValue writes one value, emitting a REFERENCE instead if an
// identical reference-type value was already emitted (spec §4.6's
// structural sharing rule).
func (m *marshaler) marshalValue(v value.Value) {
	switch v.(type) {
	case value.String, value.Symbol, value.Keyword, *value.CFunction:
		if id, ok := m.seen[v]; ok {
			m.emitReference(id)
			return
		}
		m.seen[v] = m.allocValueID()
	}
	switch t := v.(type) {
	case value.NilType:
		m.put(byte(tagNil))
	case value.Bool:
		if t {
			m.put(byte(tagTrue))
		} else {
			m.put(byte(tagFalse))
		}
	case value.Number:
		m.marshalNumber(t)
	case value.String:
		m.put(byte(tagString))
		m.putString(string(t))
	case value.Symbol:
		m.put(byte(tagSymbol))
		m.putString(string(t))
	case value.Keyword:
		m.put(byte(tagKeyword))
		m.putString(string(t))
	case *value.Buffer:
		if id, ok := m.seen[v]; ok {
			m.emitReference(id)
			return
		}
		m.seen[v] = m.allocValueID()
		m.put(byte(tagBuffer))
		b := t.Bytes()
		m.putUvarint(uint64(len(b)))
		m.buf = append(m.buf, b...)
	case *value.Array:
		if id, ok := m.seen[v]; ok {
			m.emitReference(id)
			return
		}
		m.seen[v] = m.allocValueID()
		m.put(byte(tagArray))
		elems := t.Slice()
		m.putUvarint(uint64(len(elems)))
		for _, e := range elems {
			m.marshalValue(e)
		}
	case value.Tuple:
		m.marshalTuple(t)
	case *value.Table:
		m.marshalTable(t)
	case *value.Struct:
		m.marshalStruct(t)
	case *value.Function:
		m.marshalFunction(t)
	case *value.Fiber:
		m.marshalFiber(t)
	case *value.CFunction:
		m.put(byte(tagRegistry))
		m.putString(t.Name)
	case *value.Abstract:
		m.marshalAbstract(t)
	default:
		m.fail("cannot marshal value of type %s", v.Type())
	}
}

func (m *marshaler) emitReference(id int) {
	m.put(byte(tagReference))
	m.putUvarint(uint64(id))
}

// marshalNumber emits the compact small-int form, the two-byte signed
// form, the 4-byte-big-endian INTEGER tag, or an 8-byte little-endian REAL,
// in that preference order (spec §4.6/§4.7).
func (m *marshaler) marshalNumber(n value.Number) {
	if iv, ok := n.Int32(); ok {
		switch {
		case iv >= 0 && iv <= smallIntMax:
			m.put(byte(iv))
			return
		case iv >= -twoByteBias && iv < twoByteBias:
			raw := uint16(int32(iv) + twoByteBias)
			m.put(byte(twoByteMin+int(raw>>8)), byte(raw))
			return
		default:
			m.put(byte(tagInteger))
			var tmp [4]byte
			binary.BigEndian.PutUint32(tmp[:], uint32(iv))
			m.buf = append(m.buf, tmp[:]...)
			return
		}
	}
	m.put(byte(tagReal))
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(float64(n)))
	m.buf = append(m.buf, tmp[:]...)
}

// marshalTuple registers t for structural sharing only after its elements
// are emitted: tuples hash by content, so an in-progress tuple cannot
// alias itself or a sibling (spec §4.6).
func (m *marshaler) marshalTuple(t value.Tuple) {
	key := t.String()
	if id, ok := m.tupleIDs[key]; ok {
		m.emitReference(id)
		return
	}
	m.put(byte(tagTuple), byte(t.Flags()))
	elems := t.Slice()
	m.putUvarint(uint64(len(elems)))
	for _, e := range elems {
		m.marshalValue(e)
	}
	m.tupleIDs[key] = m.allocValueID()
}

func (m *marshaler) marshalStruct(s *value.Struct) {
	key := s.ContentKey()
	if id, ok := m.structIDs[key]; ok {
		m.emitReference(id)
		return
	}
	m.put(byte(tagStruct))
	m.putUvarint(uint64(s.Len()))
	s.Each(func(k, v value.Value) {
		m.marshalValue(k)
		m.marshalValue(v)
	})
	m.structIDs[key] = m.allocValueID()
}

func (m *marshaler) marshalTable(t *value.Table) {
	if id, ok := m.seen[t]; ok {
		m.emitReference(id)
		return
	}
	m.seen[t] = m.allocValueID()
	if proto := t.Prototype(); proto != nil {
		m.put(byte(tagTableProto))
		m.marshalValue(proto)
	} else {
		m.put(byte(tagTable))
	}
	m.putUvarint(uint64(t.Len()))
	t.Each(func(k, v value.Value) {
		m.marshalValue(k)
		m.marshalValue(v)
	})
}

// marshalFuncDef writes tag+id always; if id was not seen before, the full
// body follows immediately after and the unmarshaller (which assigns ids in
// the same ascending order) knows to read it inline. A previously-seen id
// is a pure back-reference with no further bytes (spec §4.6/§4.7's
// "defs by def-id" lookup array).
func (m *marshaler) marshalFuncDef(fd *value.FuncDef) {
	if id, ok := m.defIDs[fd]; ok {
		m.put(byte(tagFuncdefRef))
		m.putUvarint(uint64(id))
		return
	}
	m.put(byte(tagFuncdefRef))
	id := m.nextDefID
	m.nextDefID++
	m.putUvarint(uint64(id))

	m.putUvarint(uint64(fd.Arity))
	m.putUvarint(uint64(fd.MinArity))
	m.putUvarint(uint64(fd.MaxArity))
	m.putUvarint(uint64(fd.Flags))
	m.putUvarint(uint64(fd.SlotCount))
	m.putString(fd.Name)
	m.putString(fd.Source)

	m.putUvarint(uint64(len(fd.Constants)))
	for _, c := range fd.Constants {
		m.marshalValue(c)
	}
	m.putUvarint(uint64(len(fd.Bytecode)))
	for _, w := range fd.Bytecode {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], w)
		m.buf = append(m.buf, tmp[:]...)
	}
	m.putUvarint(uint64(len(fd.Defs)))
	m.defIDs[fd] = id
	for _, d := range fd.Defs {
		m.marshalFuncDef(d)
	}
	m.putUvarint(uint64(len(fd.Environments)))
	for _, e := range fd.Environments {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(e))
		m.buf = append(m.buf, tmp[:]...)
	}
	m.putUvarint(uint64(len(fd.SourceMap)))
	for _, sp := range fd.SourceMap {
		m.putUvarint(uint64(sp.Start))
		m.putUvarint(uint64(sp.End))
	}
	m.putUvarint(uint64(len(fd.SymbolMap)))
	for _, se := range fd.SymbolMap {
		m.putUvarint(uint64(se.BirthPC))
		m.putUvarint(uint64(se.DeathPC))
		m.putUvarint(uint64(se.Slot))
		m.putString(se.Symbol)
	}
}

func (m *marshaler) marshalEnv(e *value.Environment) {
	if id, ok := m.envIDs[e]; ok {
		m.put(byte(tagFuncenvRef))
		m.putUvarint(uint64(id))
		return
	}
	m.put(byte(tagFuncenvRef))
	id := m.nextEnvID
	m.nextEnvID++
	m.envIDs[e] = id
	m.putUvarint(uint64(id))
	m.putUvarint(uint64(len(e.Cells)))
	for _, c := range e.Cells {
		m.marshalValue(c.Get())
	}
}

// marshalFunction: the function's FuncDef is emitted (or referenced) first,
// then the function value itself is registered for sharing, then its
// environments (spec §4.6: "Functions are registered after their def but
// before their envs.").
func (m *marshaler) marshalFunction(fn *value.Function) {
	if id, ok := m.seen[fn]; ok {
		m.emitReference(id)
		return
	}
	m.put(byte(tagFunction))
	m.marshalFuncDef(fn.Def)
	m.seen[fn] = m.allocValueID()
	m.putUvarint(uint64(len(fn.Envs)))
	for _, e := range fn.Envs {
		m.marshalEnv(e)
	}
}

func (m *marshaler) marshalFiber(f *value.Fiber) {
	if id, ok := m.seen[f]; ok {
		m.emitReference(id)
		return
	}
	if f.Alive() {
		m.fail("cannot marshal a live fiber")
	}
	m.seen[f] = m.allocValueID()
	m.put(byte(tagFiber))
	m.put(byte(f.Status))
	m.putUvarint(uint64(f.FramePointer))
	m.putUvarint(uint64(len(f.Frames)))
	for _, fr := range f.Frames {
		if fr.CFunc != nil {
			m.fail("cannot marshal a fiber with a host-function frame")
		}
		if fr.Func == nil {
			m.fail("fiber frame has neither a function nor a cfunction")
		}
		m.marshalValue(fr.Func)
		if fr.Env != nil {
			m.put(1)
			m.marshalEnv(fr.Env)
		} else {
			m.put(0)
		}
		m.putUvarint(uint64(len(fr.Locals)))
		for _, l := range fr.Locals {
			m.marshalValue(l)
		}
		m.putUvarint(uint64(fr.PC))
	}
}

func (m *marshaler) marshalAbstract(a *value.Abstract) {
	if id, ok := m.seen[a]; ok {
		m.emitReference(id)
		return
	}
	if m.reg == nil {
		m.fail("no registry supplied to marshal abstract type %s", a.TypeName)
	}
	codec, ok := m.reg.Abstracts[a.TypeName]
	if !ok {
		m.fail("no codec registered for abstract type %s", a.TypeName)
	}
	data, err := codec.Encode(a.Data)
	if err != nil {
		m.fail("encoding abstract %s: %s", a.TypeName, err)
	}
	m.seen[a] = m.allocValueID()
	m.put(byte(tagAbstract))
	m.putString(a.TypeName)
	m.putUvarint(uint64(len(data)))
	m.buf = append(m.buf, data...)
}
