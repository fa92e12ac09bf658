package peg

import (
	"fmt"

	"github.com/mna/corevm/lang/value"
)

// Host lets the VM call back into the embedding runtime for replace/cmt
// rules, whose operand constant is a callable value rather than a literal
// or a lookup table (spec §4.4).
type Host interface {
	Call(fn value.Value, args []value.Value) (value.Value, error)
}

// Capture is one value produced by a successful match: either a plain text
// span of the input (IsValue false) or a computed value (position,
// argument, constant, replace/cmt result — IsValue true).
type Capture struct {
	Tag     string
	Text    string
	Value   value.Value
	IsValue bool
}

// Result is the outcome of a top-level Match.
type Result struct {
	Matched  bool
	End      int
	Captures []Capture
}

// Options configures one Match call.
type Options struct {
	MaxDepth int // 0 uses defaultMaxDepth
	Host     Host
	Args     []value.Value
}

const defaultMaxDepth = 4000

// Error is a fatal VM fault: malformed bytecode, a recursion budget
// exceeded, an out-of-range argument index, a missing host callback, or an
// error rule whose sub-rule failed, as opposed to an ordinary (non-fatal)
// backtracking failure to match.
type Error struct{ Msg string }

func (e *Error) Error() string { return "peg-vm-error: " + e.Msg }

func verr(format string, args ...any) error { return &Error{Msg: fmt.Sprintf(format, args...)} }

const (
	modeNormal uint8 = iota
	modeAccumulate
)

type icapture struct {
	tag     uint8
	start   int
	end     int
	val     value.Value
	isVal   bool
}

type machine struct {
	prog     *Program
	input    []byte
	host     Host
	args     []value.Value
	maxDepth int
	depth    int
	mode     uint8
	bufs     [][]byte
	caps     []icapture
}

// Match runs prog against input starting at its Entry rule. A returned
// *Error is fatal (malformed program or recursion budget exceeded); a nil
// error with Result.Matched false is an ordinary failed match.
func (p *Program) Match(input []byte, opts Options) (*Result, error) {
	maxDepth := opts.MaxDepth
	if maxDepth == 0 {
		maxDepth = defaultMaxDepth
	}
	m := &machine{prog: p, input: input, host: opts.Host, args: opts.Args, maxDepth: maxDepth}
	end, ok, err := m.match(p.Entry, 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Result{Matched: false}, nil
	}
	caps := make([]Capture, len(m.caps))
	for i, c := range m.caps {
		caps[i] = Capture{Tag: p.tagName(c.tag), IsValue: c.isVal}
		if c.isVal {
			caps[i].Value = c.val
		} else {
			caps[i].Text = string(input[c.start:c.end])
		}
	}
	return &Result{Matched: true, End: end, Captures: caps}, nil
}

func (p *Program) tagName(tag uint8) string {
	if tag == untaggedTag || int(tag) >= len(p.Tags) {
		return ""
	}
	return p.Tags[tag]
}

// match executes the rule whose opcode word sits at bytecode index idx,
// starting from input offset pos. It returns the new offset on success.
func (m *machine) match(idx, pos int) (int, bool, error) {
	m.depth++
	if m.depth > m.maxDepth {
		return pos, false, verr("recursed too deeply")
	}
	defer func() { m.depth-- }()

	bc := m.prog.Bytecode
	if idx < 0 || idx >= len(bc) {
		return pos, false, verr("rule index %d out of range", idx)
	}
	op := Op(bc[idx] & opMask)
	switch op {
	case OpLiteral:
		s, ok := m.prog.Constants[bc[idx+1]].(value.String)
		if !ok {
			return pos, false, verr("literal operand is not a string")
		}
		return m.matchBytes(pos, []byte(s))
	case OpNChar:
		n := int(int32(bc[idx+1]))
		return m.matchN(pos, n)
	case OpRange:
		lo := byte(bc[idx+1] >> 8)
		hi := byte(bc[idx+1])
		if pos >= len(m.input) || m.input[pos] < lo || m.input[pos] > hi {
			return pos, false, nil
		}
		m.emit(pos, pos+1)
		return pos + 1, true, nil
	case OpSet:
		buf, ok := m.prog.Constants[bc[idx+1]].(*value.Buffer)
		if !ok {
			return pos, false, verr("set operand is not a buffer")
		}
		mask := buf.Bytes()
		if pos >= len(m.input) {
			return pos, false, nil
		}
		b := m.input[pos]
		if mask[b/8]&(1<<uint(b%8)) == 0 {
			return pos, false, nil
		}
		m.emit(pos, pos+1)
		return pos + 1, true, nil
	case OpSequence:
		return m.matchSequence(idx, pos)
	case OpChoice:
		return m.matchChoice(idx, pos)
	case OpIf:
		return m.matchIf(idx, pos, true)
	case OpIfNot:
		return m.matchIf(idx, pos, false)
	case OpNot:
		mark := len(m.caps)
		_, ok, err := m.match(int(bc[idx+1]), pos)
		if err != nil {
			return pos, false, err
		}
		m.caps = m.caps[:mark]
		return pos, !ok, nil
	case OpLook:
		offset := int(int32(bc[idx+1]))
		mark := len(m.caps)
		_, ok, err := m.match(int(bc[idx+2]), pos+offset)
		if err != nil {
			return pos, false, err
		}
		if !ok {
			m.caps = m.caps[:mark]
		}
		return pos, ok, nil
	case OpBetween:
		return m.matchBetween(idx, pos)
	case OpCapture:
		return m.matchCapture(idx, pos)
	case OpGroup:
		return m.matchGroup(idx, pos)
	case OpAccumulate:
		return m.matchAccumulate(idx, pos)
	case OpReplace:
		return m.matchReplace(idx, pos)
	case OpCmt:
		return m.matchCmt(idx, pos)
	case OpPosition:
		tag := uint8(bc[idx+1])
		m.caps = append(m.caps, icapture{tag: tag, val: value.Number(pos), isVal: true})
		return pos, true, nil
	case OpArgument:
		i := int(int32(bc[idx+1]))
		tag := uint8(bc[idx+2])
		if i < 0 || i >= len(m.args) {
			return pos, false, verr("argument index %d out of range [0, %d)", i, len(m.args))
		}
		m.caps = append(m.caps, icapture{tag: tag, val: m.args[i], isVal: true})
		return pos, true, nil
	case OpConstant:
		ci := bc[idx+1]
		tag := uint8(bc[idx+2])
		m.caps = append(m.caps, icapture{tag: tag, val: m.prog.Constants[ci], isVal: true})
		return pos, true, nil
	case OpBackref:
		return m.matchBackref(idx, pos)
	case OpBackmatch:
		return m.matchBackmatch(idx, pos)
	case OpError:
		newPos, ok, err := m.match(int(bc[idx+1]), pos)
		if err != nil {
			return pos, false, err
		}
		if !ok {
			return pos, false, verr("required rule failed to match at offset %d", pos)
		}
		return newPos, true, nil
	case OpDrop:
		mark := len(m.caps)
		newPos, ok, err := m.match(int(bc[idx+1]), pos)
		if err != nil {
			return pos, false, err
		}
		m.caps = m.caps[:mark]
		return newPos, ok, nil
	case OpCall:
		return m.match(int(bc[idx+1]), pos)
	}
	return pos, false, verr("unexpected opcode %d", op)
}

func (m *machine) emit(start, end int) {
	if m.mode == modeAccumulate {
		m.appendBuf(m.input[start:end])
	}
}

func (m *machine) matchBytes(pos int, want []byte) (int, bool, error) {
	if pos+len(want) > len(m.input) {
		return pos, false, nil
	}
	for i, b := range want {
		if m.input[pos+i] != b {
			return pos, false, nil
		}
	}
	m.emit(pos, pos+len(want))
	return pos + len(want), true, nil
}

func (m *machine) matchN(pos, n int) (int, bool, error) {
	if n >= 0 {
		if pos+n > len(m.input) {
			return pos, false, nil
		}
		m.emit(pos, pos+n)
		return pos + n, true, nil
	}
	// Negative n: "at least -n bytes remain" per nenuphar-style NChar.
	if pos-n > len(m.input) {
		return pos, false, nil
	}
	return pos, true, nil
}

func (m *machine) matchSequence(idx, pos int) (int, bool, error) {
	n := int(m.prog.Bytecode[idx+1])
	capMark, cur := len(m.caps), pos
	for i := 0; i < n; i++ {
		sub := int(m.prog.Bytecode[idx+2+i])
		next, ok, err := m.match(sub, cur)
		if err != nil {
			return pos, false, err
		}
		if !ok {
			m.caps = m.caps[:capMark]
			return pos, false, nil
		}
		cur = next
	}
	return cur, true, nil
}

func (m *machine) matchChoice(idx, pos int) (int, bool, error) {
	n := int(m.prog.Bytecode[idx+1])
	capMark := len(m.caps)
	top, bufMark := len(m.bufs)-1, 0
	if top >= 0 {
		bufMark = len(m.bufs[top])
	}
	for i := 0; i < n; i++ {
		sub := int(m.prog.Bytecode[idx+2+i])
		next, ok, err := m.match(sub, pos)
		if err != nil {
			return pos, false, err
		}
		if ok {
			return next, true, nil
		}
		m.caps = m.caps[:capMark]
		if top >= 0 {
			m.bufs[top] = m.bufs[top][:bufMark]
		}
	}
	return pos, false, nil
}

func (m *machine) matchIf(idx, pos int, wantPredicate bool) (int, bool, error) {
	capMark := len(m.caps)
	_, predOK, err := m.match(int(m.prog.Bytecode[idx+1]), pos)
	if err != nil {
		return pos, false, err
	}
	m.caps = m.caps[:capMark]
	if predOK != wantPredicate {
		return pos, false, nil
	}
	return m.match(int(m.prog.Bytecode[idx+2]), pos)
}

func (m *machine) matchBetween(idx, pos int) (int, bool, error) {
	lo := int(int32(m.prog.Bytecode[idx+1]))
	hi := int(int32(m.prog.Bytecode[idx+2]))
	sub := int(m.prog.Bytecode[idx+3])
	capMark, startPos := len(m.caps), pos
	cur := pos
	count := 0
	for hi < 0 || count < hi {
		next, ok, err := m.match(sub, cur)
		if err != nil {
			return pos, false, err
		}
		if !ok {
			break
		}
		count++
		if next == cur {
			cur = next
			break // zero-width match: stop to avoid looping forever
		}
		cur = next
	}
	if count < lo {
		m.caps = m.caps[:capMark]
		return startPos, false, nil
	}
	return cur, true, nil
}

func (m *machine) matchCapture(idx, pos int) (int, bool, error) {
	sub := int(m.prog.Bytecode[idx+1])
	tag := uint8(m.prog.Bytecode[idx+2])
	next, ok, err := m.match(sub, pos)
	if err != nil || !ok {
		return pos, ok, err
	}
	if m.mode == modeAccumulate && tag == untaggedTag {
		// Bytes already flowed into the active accumulate buffer via the
		// leaf matchers; no separate record needed.
		return next, true, nil
	}
	m.caps = append(m.caps, icapture{tag: tag, start: pos, end: next})
	return next, true, nil
}

// matchGroup implements (group r tag?): unlike capture, it does not record
// a text span of its own but collects the sub-captures r produced while
// matching into a single array-valued capture (spec §4.4).
func (m *machine) matchGroup(idx, pos int) (int, bool, error) {
	sub := int(m.prog.Bytecode[idx+1])
	tag := uint8(m.prog.Bytecode[idx+2])
	mark := len(m.caps)
	next, ok, err := m.match(sub, pos)
	if err != nil || !ok {
		return pos, ok, err
	}
	elems := make([]value.Value, len(m.caps)-mark)
	for i, c := range m.caps[mark:] {
		elems[i] = m.capValue(c)
	}
	m.caps = m.caps[:mark]
	m.caps = append(m.caps, icapture{tag: tag, val: value.NewArray(elems), isVal: true})
	return next, true, nil
}

func (m *machine) pushBuf() {
	m.bufs = append(m.bufs, nil)
}

func (m *machine) popBuf() []byte {
	n := len(m.bufs) - 1
	buf := m.bufs[n]
	m.bufs = m.bufs[:n]
	return buf
}

func (m *machine) appendBuf(b []byte) {
	n := len(m.bufs) - 1
	if n < 0 {
		return
	}
	m.bufs[n] = append(m.bufs[n], b...)
}

func (m *machine) matchAccumulate(idx, pos int) (int, bool, error) {
	sub := int(m.prog.Bytecode[idx+1])
	tag := uint8(m.prog.Bytecode[idx+2])

	wasNested := m.mode == modeAccumulate
	savedMode := m.mode
	m.mode = modeAccumulate
	m.pushBuf()

	next, ok, err := m.match(sub, pos)
	text := m.popBuf()
	m.mode = savedMode
	if err != nil {
		return pos, false, err
	}
	if !ok {
		return pos, false, nil
	}
	if wasNested {
		m.appendBuf(text)
	}
	// A nested, untagged accumulate only needs to feed its parent's buffer
	// (done above); a top-level accumulate always yields its own capture
	// regardless of tag, per spec §4.4/§8 scenario 5.
	if !wasNested || tag != untaggedTag {
		m.caps = append(m.caps, icapture{tag: tag, val: value.String(string(text)), isVal: true})
	}
	return next, true, nil
}

func (m *machine) matchReplace(idx, pos int) (int, bool, error) {
	sub := int(m.prog.Bytecode[idx+1])
	ci := m.prog.Bytecode[idx+2]
	tag := uint8(m.prog.Bytecode[idx+3])
	constVal := m.prog.Constants[ci]

	savedMode := m.mode
	m.mode = modeAccumulate
	m.pushBuf()
	next, ok, err := m.match(sub, pos)
	text := m.popBuf()
	m.mode = savedMode
	if err != nil {
		return pos, false, err
	}
	if !ok {
		return pos, false, nil
	}

	replaced, err := m.applyReplace(constVal, string(text))
	if err != nil {
		return pos, false, err
	}
	// If an enclosing accumulate was active before this node ran, the
	// substituted text must flow into its buffer; the literal matched bytes
	// went only into this node's own buffer above (spec §4.4/§8 scenario 5:
	// (accumulate (some (+ (/ "a" "A") 1))) on "banana").
	if savedMode == modeAccumulate {
		m.appendBuf(m.valueBytes(replaced))
		if tag == untaggedTag {
			// Already flowed into the buffer above; same fast path as
			// matchCapture's untagged-in-accumulate case.
			return next, true, nil
		}
	}
	m.caps = append(m.caps, icapture{tag: tag, val: replaced, isVal: true})
	return next, true, nil
}

func (m *machine) applyReplace(constVal value.Value, text string) (value.Value, error) {
	switch t := constVal.(type) {
	case *value.Table:
		if v, ok := t.Get(value.String(text)); ok {
			return v, nil
		}
		return value.String(text), nil
	case *value.Struct:
		if v, ok := t.Get(value.String(text)); ok {
			return v, nil
		}
		return value.String(text), nil
	case *value.Function, *value.CFunction:
		return m.callHost(t, []value.Value{value.String(text)})
	default:
		return constVal, nil
	}
}

func (m *machine) matchCmt(idx, pos int) (int, bool, error) {
	sub := int(m.prog.Bytecode[idx+1])
	ci := m.prog.Bytecode[idx+2]
	tag := uint8(m.prog.Bytecode[idx+3])
	fn := m.prog.Constants[ci]

	capMark := len(m.caps)
	next, ok, err := m.match(sub, pos)
	if err != nil {
		return pos, false, err
	}
	if !ok {
		return pos, false, nil
	}
	argv := make([]value.Value, 0, 1+len(m.caps)-capMark)
	argv = append(argv, value.String(string(m.input[pos:next])))
	for _, c := range m.caps[capMark:] {
		if c.isVal {
			argv = append(argv, c.val)
		} else {
			argv = append(argv, value.String(string(m.input[c.start:c.end])))
		}
	}
	result, err := m.callHost(fn, argv)
	if err != nil {
		return pos, false, err
	}
	if !truthy(result) {
		m.caps = m.caps[:capMark]
		return pos, false, nil
	}
	m.caps = m.caps[:capMark]
	m.caps = append(m.caps, icapture{tag: tag, val: result, isVal: true})
	return next, true, nil
}

func (m *machine) callHost(fn value.Value, args []value.Value) (value.Value, error) {
	if m.host == nil {
		return nil, verr("no host callback registered to call %s", fn.Type())
	}
	return m.host.Call(fn, args)
}

func truthy(v value.Value) bool {
	if v == nil {
		return false
	}
	return bool(v.Truth())
}

// findTag scans captures newest-to-oldest for the most recent entry with
// the given tag, optionally only among captures recorded before a prior
// occurrence of searchTag (0 disables that restriction).
func (m *machine) findTag(tag, searchTag uint8) (icapture, bool) {
	end := len(m.caps)
	if searchTag != untaggedTag {
		for i := end - 1; i >= 0; i-- {
			if m.caps[i].tag == searchTag {
				end = i
				break
			}
		}
	}
	for i := end - 1; i >= 0; i-- {
		if m.caps[i].tag == tag {
			return m.caps[i], true
		}
	}
	return icapture{}, false
}

// capValue renders a capture as the Value it would appear as in
// Result.Captures: the already-computed value for a value-capture, or a
// fresh String over its text span otherwise. Used by matchGroup to collect
// sub-captures into an array.
func (m *machine) capValue(c icapture) value.Value {
	if c.isVal {
		return c.val
	}
	return value.String(m.input[c.start:c.end])
}

// valueBytes is the byte-serialization of v used to feed an enclosing
// accumulate buffer (spec §4.5's "byte-serialization is appended to
// scratch"): the raw bytes for a string-shaped value, its String() form
// otherwise.
func (m *machine) valueBytes(v value.Value) []byte {
	switch t := v.(type) {
	case value.String:
		return []byte(t)
	case value.Symbol:
		return []byte(t)
	case value.Keyword:
		return []byte(t)
	case *value.Buffer:
		return t.Bytes()
	default:
		return []byte(v.String())
	}
}

func (m *machine) textOf(c icapture) string {
	if c.isVal {
		if s, ok := c.val.(value.String); ok {
			return string(s)
		}
		return c.val.String()
	}
	return string(m.input[c.start:c.end])
}

func (m *machine) matchBackref(idx, pos int) (int, bool, error) {
	tag := uint8(m.prog.Bytecode[idx+1])
	searchTag := uint8(m.prog.Bytecode[idx+2])
	c, ok := m.findTag(tag, searchTag)
	if !ok {
		return pos, false, nil
	}
	m.caps = append(m.caps, icapture{tag: tag, val: value.String(m.textOf(c)), isVal: true})
	return pos, true, nil
}

func (m *machine) matchBackmatch(idx, pos int) (int, bool, error) {
	tag := uint8(m.prog.Bytecode[idx+1])
	c, ok := m.findTag(tag, untaggedTag)
	if !ok {
		return pos, false, nil
	}
	text := m.textOf(c)
	return m.matchBytes(pos, []byte(text))
}
