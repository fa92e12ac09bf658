package marshal

import (
	"encoding/binary"
	"math"

	"github.com/mna/corevm/lang/asm"
	"github.com/mna/corevm/lang/value"
)

// Unmarshal decodes one value from the front of b per spec §4.7, invoking
// the verifier (lang/asm) on every reconstructed FuncDef. It returns the
// decoded value and the offset of the first unconsumed byte (spec §6:
// "unmarshal(bytes, forwardRegistry?) → (value, nextByte) | panic"), so a
// caller can decode a sequence of values packed back-to-back in one buffer.
// On any failure the operation fails without returning a partial value.
func Unmarshal(b []byte, reg *Registry) (v value.Value, next int, err error) {
	defer func() {
		if r := recover(); r != nil {
			if me, ok := r.(*Error); ok {
				v, next, err = nil, 0, me
				return
			}
			panic(r)
		}
	}()
	u := &unmarshaler{buf: b, reg: reg}
	ver := u.byte()
	if ver != Version {
		u.fail("unsupported wire format version %d", ver)
	}
	result := u.value()
	return result, u.pos, nil
}

type unmarshaler struct {
	buf  []byte
	pos  int
	reg  *Registry
	vals []value.Value
	defs []*value.FuncDef
	envs []*value.Environment
}

func (u *unmarshaler) fail(format string, args ...any) {
	panic(errf(format, args...))
}

func (u *unmarshaler) need(n int) {
	if u.pos+n > len(u.buf) {
		u.fail("unexpected end of source")
	}
}

func (u *unmarshaler) byte() byte {
	u.need(1)
	b := u.buf[u.pos]
	u.pos++
	return b
}

func (u *unmarshaler) bytes(n int) []byte {
	u.need(n)
	b := u.buf[u.pos : u.pos+n]
	u.pos += n
	return b
}

func (u *unmarshaler) uvarint() uint64 {
	n, w := binary.Uvarint(u.buf[u.pos:])
	if w <= 0 {
		u.fail("malformed varint")
	}
	u.pos += w
	return n
}

func (u *unmarshaler) string() string {
	n := u.uvarint()
	return string(u.bytes(int(n)))
}

// registerValue records v at the next ascending value id and returns v,
// mirroring the marshaller's own sequential id assignment (spec §4.7's
// "values by id" lookup array).
func (u *unmarshaler) registerValue(v value.Value) value.Value {
	u.vals = append(u.vals, v)
	return v
}

func (u *unmarshaler) reference(id uint64) value.Value {
	if id >= uint64(len(u.vals)) {
		u.fail("reference to unknown value id %d", id)
	}
	return u.vals[id]
}

func (u *unmarshaler) value() value.Value {
	lead := u.byte()
	switch {
	case lead <= smallIntMax:
		return value.Number(lead)
	case lead >= twoByteMin && lead <= twoByteMax:
		second := u.byte()
		raw := uint16(lead-twoByteMin)<<8 | uint16(second)
		return value.Number(int32(raw) - twoByteBias)
	}

	switch tag(lead) {
	case tagNil:
		return value.Nil
	case tagFalse:
		return value.False
	case tagTrue:
		return value.True
	case tagInteger:
		raw := binary.BigEndian.Uint32(u.bytes(4))
		return value.Number(int32(raw))
	case tagReal:
		raw := binary.LittleEndian.Uint64(u.bytes(8))
		return value.Number(math.Float64frombits(raw))
	case tagString:
		return u.registerValue(value.String(u.string()))
	case tagSymbol:
		return u.registerValue(value.Symbol(u.string()))
	case tagKeyword:
		return u.registerValue(value.Keyword(u.string()))
	case tagBuffer:
		n := u.uvarint()
		return u.registerValue(value.NewBuffer(u.bytes(int(n))))
	case tagArray:
		n := int(u.uvarint())
		elems := make([]value.Value, n)
		arr := value.NewArray(elems)
		u.registerValue(arr)
		for i := 0; i < n; i++ {
			elems[i] = u.value()
		}
		return arr
	case tagTuple:
		flags := value.TupleFlag(u.byte())
		n := int(u.uvarint())
		elems := make([]value.Value, n)
		for i := 0; i < n; i++ {
			elems[i] = u.value()
		}
		return u.registerValue(value.NewTuple(elems, flags))
	case tagStruct:
		n := int(u.uvarint())
		pairs := make(map[value.Value]value.Value, n)
		for i := 0; i < n; i++ {
			k := u.value()
			v := u.value()
			pairs[k] = v
		}
		return u.registerValue(value.NewStruct(pairs))
	case tagTable:
		return u.unmarshalTable(nil)
	case tagTableProto:
		proto := u.value()
		pt, ok := proto.(*value.Table)
		if !ok {
			u.fail("table prototype is not a table")
		}
		return u.unmarshalTable(pt)
	case tagFunction:
		return u.unmarshalFunction()
	case tagFiber:
		return u.unmarshalFiber()
	case tagRegistry:
		name := u.string()
		if u.reg == nil {
			u.fail("no registry supplied to resolve cfunction %s", name)
		}
		fn, ok := u.reg.CFunctions[name]
		if !ok {
			u.fail("unknown registered cfunction %s", name)
		}
		return u.registerValue(fn)
	case tagAbstract:
		return u.unmarshalAbstract()
	case tagReference:
		id := u.uvarint()
		return u.reference(id)
	}
	u.fail("unexpected leading byte %d", lead)
	return nil
}

func (u *unmarshaler) unmarshalTable(proto *value.Table) *value.Table {
	t := value.NewTable(1)
	if proto != nil {
		t.SetPrototype(proto)
	}
	u.registerValue(t)
	n := int(u.uvarint())
	for i := 0; i < n; i++ {
		k := u.value()
		v := u.value()
		t.Put(k, v)
	}
	return t
}

// unmarshalFuncDef mirrors marshalFuncDef's tag+id framing: an id not yet
// in u.defs is a new definition whose body follows; a known id is a pure
// back-reference.
func (u *unmarshaler) unmarshalFuncDef() *value.FuncDef {
	tg := tag(u.byte())
	if tg != tagFuncdefRef {
		u.fail("expected funcdef_ref tag, got %s", tg)
	}
	id := int(u.uvarint())
	if id < len(u.defs) {
		return u.defs[id]
	}
	if id != len(u.defs) {
		u.fail("out-of-order funcdef id %d", id)
	}

	fd := &value.FuncDef{}
	u.defs = append(u.defs, fd) // register under its id before reading constants or nested defs
	fd.Arity = int(u.uvarint())
	fd.MinArity = int(u.uvarint())
	fd.MaxArity = int(u.uvarint())
	fd.Flags = value.Flag(u.uvarint())
	fd.SlotCount = int(u.uvarint())
	fd.Name = u.string()
	fd.Source = u.string()

	nc := int(u.uvarint())
	fd.Constants = make([]value.Value, nc)
	for i := 0; i < nc; i++ {
		fd.Constants[i] = u.value()
	}
	nb := int(u.uvarint())
	fd.Bytecode = make([]uint32, nb)
	for i := 0; i < nb; i++ {
		fd.Bytecode[i] = binary.LittleEndian.Uint32(u.bytes(4))
	}
	nd := int(u.uvarint())
	fd.Defs = make([]*value.FuncDef, nd)
	for i := 0; i < nd; i++ {
		fd.Defs[i] = u.unmarshalFuncDef()
	}
	ne := int(u.uvarint())
	fd.Environments = make([]int32, ne)
	for i := 0; i < ne; i++ {
		fd.Environments[i] = int32(binary.LittleEndian.Uint32(u.bytes(4)))
	}
	nsm := int(u.uvarint())
	fd.SourceMap = make([]value.SourceSpan, nsm)
	for i := 0; i < nsm; i++ {
		fd.SourceMap[i] = value.SourceSpan{Start: uint32(u.uvarint()), End: uint32(u.uvarint())}
	}
	nsym := int(u.uvarint())
	fd.SymbolMap = make([]value.SymbolEntry, nsym)
	for i := 0; i < nsym; i++ {
		fd.SymbolMap[i] = value.SymbolEntry{
			BirthPC: uint32(u.uvarint()),
			DeathPC: uint32(u.uvarint()),
			Slot:    uint32(u.uvarint()),
			Symbol:  u.string(),
		}
	}

	if err := asm.Verify(fd); err != nil {
		u.fail("reconstructed funcdef failed verification: %s", err)
	}
	return fd
}

func (u *unmarshaler) unmarshalEnv() *value.Environment {
	tg := tag(u.byte())
	if tg != tagFuncenvRef {
		u.fail("expected funcenv_ref tag, got %s", tg)
	}
	id := int(u.uvarint())
	if id < len(u.envs) {
		return u.envs[id]
	}
	if id != len(u.envs) {
		u.fail("out-of-order funcenv id %d", id)
	}
	n := int(u.uvarint())
	env := &value.Environment{Cells: make([]*value.Cell, n)}
	u.envs = append(u.envs, env)
	for i := 0; i < n; i++ {
		env.Cells[i] = value.NewCell(u.value())
	}
	return env
}

func (u *unmarshaler) unmarshalFunction() *value.Function {
	fd := u.unmarshalFuncDef()
	fn := &value.Function{Def: fd}
	u.registerValue(fn)
	n := int(u.uvarint())
	fn.Envs = make([]*value.Environment, n)
	for i := 0; i < n; i++ {
		fn.Envs[i] = u.unmarshalEnv()
	}
	return fn
}

func (u *unmarshaler) unmarshalFiber() *value.Fiber {
	f := &value.Fiber{}
	u.registerValue(f)
	f.Status = value.FiberStatus(u.byte())
	f.FramePointer = int(u.uvarint())
	n := int(u.uvarint())
	f.Frames = make([]value.FiberFrame, n)
	for i := 0; i < n; i++ {
		fnv := u.value()
		fn, ok := fnv.(*value.Function)
		if !ok {
			u.fail("fiber frame function is not a function value")
		}
		var env *value.Environment
		if u.byte() != 0 {
			env = u.unmarshalEnv()
		}
		nl := int(u.uvarint())
		locals := make([]value.Value, nl)
		for j := 0; j < nl; j++ {
			locals[j] = u.value()
		}
		pc := uint32(u.uvarint())
		f.Frames[i] = value.FiberFrame{Func: fn, Env: env, Locals: locals, PC: pc}
	}
	return f
}

func (u *unmarshaler) unmarshalAbstract() *value.Abstract {
	typeName := u.string()
	n := int(u.uvarint())
	data := u.bytes(int(n))
	if u.reg == nil {
		u.fail("no registry supplied to decode abstract type %s", typeName)
	}
	codec, ok := u.reg.Abstracts[typeName]
	if !ok {
		u.fail("no codec registered for abstract type %s", typeName)
	}
	decoded, err := codec.Decode(data)
	if err != nil {
		u.fail("decoding abstract %s: %s", typeName, err)
	}
	return u.registerValue(&value.Abstract{TypeName: typeName, Data: decoded}).(*value.Abstract)
}
