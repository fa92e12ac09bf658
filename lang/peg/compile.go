package peg

import (
	"fmt"

	"github.com/mna/corevm/lang/value"
)

// Program is a compiled PEG program: immutable after Compile returns, and
// the read-only input to the VM (spec §3's "PEG program").
type Program struct {
	Bytecode  []uint32
	Constants []value.Value
	Tags      []string // tag byte i (i>=1) -> its source name; index 0 unused (untagged)
	Entry     int       // rule index to start matching at
}

// CompileError is the error type Compile produces.
type CompileError struct{ Msg string }

func (e *CompileError) Error() string { return "peg-compile-error: " + e.Msg }

func cerrf(format string, args ...any) error { return &CompileError{Msg: fmt.Sprintf(format, args...)} }

// aliases maps the short operator spellings to their canonical special-form
// name (spec §4.4's "selected subset" table lists both for several forms).
var aliases = map[string]string{
	"*":  "sequence",
	"+":  "choice",
	"!":  "not",
	">":  "look",
	"<-": "capture",
	"%":  "accumulate",
	"/":  "replace",
	"->": "backref",
	"$":  "position",
}

// scope is one grammar's rule-name table and its enclosing grammar link;
// keyword references resolve here first, then recurse to parent, per spec
// §4.4's "grammars chain through a prototype link to an enclosing grammar,
// and to a global default".
type scope struct {
	parent *scope
	names  map[string]int // rule name -> bytecode index (possibly a reserved OpCall slot)
	cache  map[string]int // memoized non-primitive expr (by String()) -> rule index, this scope only
	depth  int            // nesting depth, for the cycle-detection bound
}

const maxScopeDepth = 200

// DefaultGrammar is consulted, as a last resort, for a keyword rule
// reference that misses in every enclosing scope (spec §4.4's "global
// default"). Empty by default; host programs may populate it.
var DefaultGrammar *value.Table

type compiler struct {
	bytecode    []uint32
	constants   []value.Value
	tags        map[string]uint8
	nextTag     int // tracked as int so it can exceed 255 without wrapping, for the cap check below
	tagOverflow bool
	primCache   map[string]int // numbers/strings/sets cache at the compiler root regardless of scope
}

// MaxTags is the compiler's cap on distinct capture tags in one grammar
// (spec §8's "more than 255 distinct capture tags fails"): tag byte 0 is
// reserved for "untagged", leaving 255 usable values by default. A host
// program may lower it before calling Compile (e.g. from an environment
// override); since a tag is stored in one byte, a value above 255 still
// caps the count at 255.
var MaxTags = 255

// Compile lowers a grammar expression into a Program, per spec §4.4.
func Compile(expr value.Value) (*Program, error) {
	c := &compiler{tags: map[string]uint8{}, nextTag: 1, primCache: map[string]int{}}
	root := &scope{names: map[string]int{}, cache: map[string]int{}}
	entry, err := c.compileTop(expr, root)
	if err != nil {
		return nil, err
	}
	if c.tagOverflow {
		return nil, cerrf("too many tags")
	}
	names := make([]string, c.nextTag)
	for name, b := range c.tags {
		names[b] = name
	}
	return &Program{Bytecode: c.bytecode, Constants: c.constants, Tags: names, Entry: entry}, nil
}

// compileTop handles the two top-level forms: a bare expression, or a
// mapping/struct grammar with a distinguished "main" rule and other named
// rules (spec §4.4).
func (c *compiler) compileTop(expr value.Value, sc *scope) (int, error) {
	m, isGrammar := asMapping(expr)
	if !isGrammar {
		return c.compileExpr(expr, sc)
	}
	if err := c.compileGrammar(m, sc); err != nil {
		return 0, err
	}
	idx, ok := sc.names["main"]
	if !ok {
		return 0, cerrf("grammar has no main rule")
	}
	return idx, nil
}

// compileGrammar reserves an OpCall indirection slot for every named rule
// (the "reserve" pattern of spec §4.4, letting recursive/mutually-recursive
// rules reference each other during their own compilation), then compiles
// each rule body and patches its slot to the body's real start index.
func (c *compiler) compileGrammar(m mapping, sc *scope) error {
	names := m.Keys()
	for _, name := range names {
		idx := len(c.bytecode)
		c.bytecode = append(c.bytecode, word(OpCall, 0))
		c.bytecode = append(c.bytecode, 0) // patched below
		sc.names[name] = idx
	}
	for _, name := range names {
		body, _ := m.Get(value.Keyword(name))
		bodyIdx, err := c.compileExpr(body, sc)
		if err != nil {
			return err
		}
		slot := sc.names[name]
		c.bytecode[slot+1] = uint32(bodyIdx)
	}
	return nil
}

// mapping is the minimal interface a grammar scope needs: lookup by
// keyword and an enumeration of its keys (order doesn't matter; rule
// resolution is by name).
type mapping interface {
	Get(value.Value) (value.Value, bool)
	Keys() []string
}

type tableMapping struct{ t *value.Table }

func (m tableMapping) Get(k value.Value) (value.Value, bool) { return m.t.Get(k) }
func (m tableMapping) Keys() []string {
	var ks []string
	m.t.Each(func(k, _ value.Value) {
		if kw, ok := k.(value.Keyword); ok {
			ks = append(ks, string(kw))
		}
	})
	return ks
}

type structMapping struct{ s *value.Struct }

func (m structMapping) Get(k value.Value) (value.Value, bool) { return m.s.Get(k) }
func (m structMapping) Keys() []string {
	var ks []string
	m.s.Each(func(k, _ value.Value) {
		if kw, ok := k.(value.Keyword); ok {
			ks = append(ks, string(kw))
		}
	})
	return ks
}

func asMapping(v value.Value) (mapping, bool) {
	switch t := v.(type) {
	case *value.Table:
		return tableMapping{t}, true
	case *value.Struct:
		return structMapping{t}, true
	}
	return nil, false
}

// compileExpr compiles one grammar expression, returning the bytecode
// index of the rule word it produced (or an already-compiled rule's index,
// for references and memoized/cached expressions).
func (c *compiler) compileExpr(expr value.Value, sc *scope) (int, error) {
	switch t := expr.(type) {
	case value.Number:
		return c.primitive(fmt.Sprintf("n:%v", t), func() int { return c.emitNChar(t) })
	case value.String:
		return c.primitive(fmt.Sprintf("s:%s", string(t)), func() int { return c.emitLiteral(string(t)) })
	case value.Keyword:
		return c.resolveRule(string(t), sc)
	case value.Tuple:
		return c.compileTuple(t, sc)
	}
	if m, ok := asMapping(expr); ok {
		if sc.depth >= maxScopeDepth {
			return 0, cerrf("grammar nesting recursed too deeply")
		}
		child := &scope{parent: sc, names: map[string]int{}, cache: map[string]int{}, depth: sc.depth + 1}
		if err := c.compileGrammar(m, child); err != nil {
			return 0, err
		}
		idx, ok := child.names["main"]
		if !ok {
			return 0, cerrf("nested grammar has no main rule")
		}
		return idx, nil
	}
	return 0, cerrf("invalid grammar expression of type %s", expr.Type())
}

func (c *compiler) primitive(key string, emit func() int) (int, error) {
	if idx, ok := c.primCache[key]; ok {
		return idx, nil
	}
	idx := emit()
	c.primCache[key] = idx
	return idx, nil
}

func (c *compiler) resolveRule(name string, sc *scope) (int, error) {
	for s := sc; s != nil; s = s.parent {
		if idx, ok := s.names[name]; ok {
			return idx, nil
		}
	}
	if DefaultGrammar != nil {
		if _, ok := DefaultGrammar.Get(value.Keyword(name)); ok {
			// Compile the default grammar lazily into its own fresh
			// top-level scope; each such reference compiles it again.
			defScope := &scope{names: map[string]int{}, cache: map[string]int{}}
			if err := c.compileGrammar(tableMapping{DefaultGrammar}, defScope); err != nil {
				return 0, err
			}
			return defScope.names[name], nil
		}
	}
	return 0, cerrf("unknown rule: %s", name)
}

func word(op Op, hi uint32) uint32 { return uint32(op)&opMask | (hi << 5) }

func (c *compiler) addConst(v value.Value) int {
	c.constants = append(c.constants, v)
	return len(c.constants) - 1
}

func (c *compiler) tagOf(name string) uint8 {
	if name == "" {
		return untaggedTag
	}
	if b, ok := c.tags[name]; ok {
		return b
	}
	if c.nextTag > MaxTags || c.nextTag > 255 {
		c.tagOverflow = true
		return untaggedTag
	}
	b := uint8(c.nextTag)
	c.nextTag++
	c.tags[name] = b
	return b
}

func (c *compiler) emitLiteral(s string) int {
	idx := len(c.bytecode)
	ci := c.addConst(value.String(s))
	c.bytecode = append(c.bytecode, word(OpLiteral, 0), uint32(ci))
	return idx
}

func (c *compiler) emitNChar(n value.Number) int {
	idx := len(c.bytecode)
	iv, _ := n.Int32()
	c.bytecode = append(c.bytecode, word(OpNChar, 0), uint32(iv))
	return idx
}
