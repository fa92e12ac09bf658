package peg_test

import (
	"testing"

	"github.com/mna/corevm/lang/peg"
	"github.com/mna/corevm/lang/value"
	"github.com/stretchr/testify/require"
)

func tup(elems ...value.Value) value.Tuple { return value.NewTuple(elems, 0) }

func mustMatch(t *testing.T, prog *peg.Program, input string) *peg.Result {
	t.Helper()
	res, err := prog.Match([]byte(input), peg.Options{})
	require.NoError(t, err)
	return res
}

func TestCompileLiteralSequence(t *testing.T) {
	expr := tup(value.Symbol("sequence"), value.String("foo"), value.String("bar"))
	prog, err := peg.Compile(expr)
	require.NoError(t, err)

	res := mustMatch(t, prog, "foobar")
	require.True(t, res.Matched)
	require.Equal(t, 6, res.End)

	res = mustMatch(t, prog, "foobaz")
	require.False(t, res.Matched)
}

func TestCompileChoice(t *testing.T) {
	expr := tup(value.Symbol("choice"), value.String("cat"), value.String("dog"))
	prog, err := peg.Compile(expr)
	require.NoError(t, err)

	require.True(t, mustMatch(t, prog, "dog").Matched)
	require.True(t, mustMatch(t, prog, "cat").Matched)
	require.False(t, mustMatch(t, prog, "cow").Matched)
}

func TestCompileRangeDigits(t *testing.T) {
	digit := tup(value.Symbol("range"), value.String("09"))
	expr := tup(value.Symbol("some"), digit)
	prog, err := peg.Compile(expr)
	require.NoError(t, err)

	res := mustMatch(t, prog, "12349")
	require.True(t, res.Matched)
	require.Equal(t, 5, res.End)

	require.False(t, mustMatch(t, prog, "abc").Matched)
}

func TestCompileSet(t *testing.T) {
	vowel := tup(value.Symbol("set"), value.String("aeiou"))
	expr := tup(value.Symbol("some"), vowel)
	prog, err := peg.Compile(expr)
	require.NoError(t, err)

	res := mustMatch(t, prog, "aeiou!")
	require.True(t, res.Matched)
	require.Equal(t, 5, res.End)
}

func TestCompileCaptureTagged(t *testing.T) {
	digit := tup(value.Symbol("range"), value.String("09"))
	digits := tup(value.Symbol("some"), digit)
	captured := tup(value.Symbol("capture"), digits, value.Keyword("num"))
	prog, err := peg.Compile(captured)
	require.NoError(t, err)

	res := mustMatch(t, prog, "4217")
	require.True(t, res.Matched)
	require.Len(t, res.Captures, 1)
	require.Equal(t, "num", res.Captures[0].Tag)
	require.Equal(t, "4217", res.Captures[0].Text)
}

func TestCompileAccumulateSubstitution(t *testing.T) {
	// (accumulate (sequence (capture (range "09")) (capture (range "09"))) :joined)
	digit := tup(value.Symbol("capture"), tup(value.Symbol("range"), value.String("09")))
	expr := tup(value.Symbol("accumulate"),
		tup(value.Symbol("sequence"), digit, digit),
		value.Keyword("joined"),
	)
	prog, err := peg.Compile(expr)
	require.NoError(t, err)

	res := mustMatch(t, prog, "42")
	require.True(t, res.Matched)
	require.Len(t, res.Captures, 1)
	require.True(t, res.Captures[0].IsValue)
	require.Equal(t, value.String("42"), res.Captures[0].Value)
}

func TestCompileAccumulateReplaceSubstitution(t *testing.T) {
	// spec scenario 5: (accumulate (some (+ (/ "a" "A") 1))) on "banana"
	// yields the single untagged capture "bAnAnA" — the replace node's
	// substituted text, not the literal matched byte, must reach the
	// enclosing accumulate buffer.
	repl := tup(value.Symbol("replace"), value.String("a"), value.String("A"))
	alt := tup(value.Symbol("choice"), repl, value.Number(1))
	expr := tup(value.Symbol("accumulate"), tup(value.Symbol("some"), alt))
	prog, err := peg.Compile(expr)
	require.NoError(t, err)

	res := mustMatch(t, prog, "banana")
	require.True(t, res.Matched)
	require.Equal(t, 6, res.End)
	require.Len(t, res.Captures, 1)
	require.True(t, res.Captures[0].IsValue)
	require.Equal(t, value.String("bAnAnA"), res.Captures[0].Value)
}

func TestCompileGroupCollectsSubCaptures(t *testing.T) {
	// (group (sequence (capture (range "09") :a) (capture (range "az") :b)))
	digit := tup(value.Symbol("capture"), tup(value.Symbol("range"), value.String("09")), value.Keyword("a"))
	letter := tup(value.Symbol("capture"), tup(value.Symbol("range"), value.String("az")), value.Keyword("b"))
	grouped := tup(value.Symbol("group"), tup(value.Symbol("sequence"), digit, letter), value.Keyword("pair"))
	prog, err := peg.Compile(grouped)
	require.NoError(t, err)

	res := mustMatch(t, prog, "4z")
	require.True(t, res.Matched)
	require.Len(t, res.Captures, 1)
	require.Equal(t, "pair", res.Captures[0].Tag)
	require.True(t, res.Captures[0].IsValue)

	arr, ok := res.Captures[0].Value.(*value.Array)
	require.True(t, ok, "group capture must be array-valued")
	require.Equal(t, 2, arr.Len())
	require.Equal(t, value.String("4"), arr.Index(0))
	require.Equal(t, value.String("z"), arr.Index(1))
}

func TestCompileBackreference(t *testing.T) {
	// Match a quoted string delimited by the same character on both sides:
	// (sequence (capture (set "'\"") :q) <body...> (backmatch :q))
	quote := tup(value.Symbol("capture"), tup(value.Symbol("set"), value.String("'\"")), value.Keyword("q"))
	body := tup(value.Symbol("any"), tup(value.Symbol("range"), value.String("az")))
	expr := tup(value.Symbol("sequence"), quote, body, tup(value.Symbol("backmatch"), value.Keyword("q")))
	prog, err := peg.Compile(expr)
	require.NoError(t, err)

	res := mustMatch(t, prog, "'hello'")
	require.True(t, res.Matched)
	require.Equal(t, 7, res.End)

	require.False(t, mustMatch(t, prog, "'hello\"").Matched)
}

func TestCompileGrammarRecursion(t *testing.T) {
	// balanced parens: main <- "(" (main / "") ")"
	grammar := value.NewTable(1)
	grammar.Put(value.Keyword("main"), tup(
		value.Symbol("sequence"),
		value.String("("),
		tup(value.Symbol("choice"), value.Keyword("main"), value.String("")),
		value.String(")"),
	))
	prog, err := peg.Compile(grammar)
	require.NoError(t, err)

	require.True(t, mustMatch(t, prog, "(())").Matched)
	require.False(t, mustMatch(t, prog, "(()").Matched)
}

func TestCompileNot(t *testing.T) {
	// "a" not followed by "b": (sequence "a" (not "b"))
	expr := tup(value.Symbol("sequence"), value.String("a"), tup(value.Symbol("not"), value.String("b")))
	prog, err := peg.Compile(expr)
	require.NoError(t, err)

	res := mustMatch(t, prog, "ac")
	require.True(t, res.Matched)
	require.Equal(t, 1, res.End)

	require.False(t, mustMatch(t, prog, "ab").Matched)
}

func TestCompilePositionAndConstant(t *testing.T) {
	expr := tup(value.Symbol("sequence"),
		value.String("x"),
		tup(value.Symbol("position"), value.Keyword("pos")),
		tup(value.Symbol("constant"), value.Number(42), value.Keyword("answer")),
	)
	prog, err := peg.Compile(expr)
	require.NoError(t, err)

	res := mustMatch(t, prog, "x")
	require.True(t, res.Matched)
	require.Len(t, res.Captures, 2)
	require.Equal(t, value.Number(1), res.Captures[0].Value)
	require.Equal(t, value.Number(42), res.Captures[1].Value)
}

func TestCompileUnknownForm(t *testing.T) {
	_, err := peg.Compile(tup(value.Symbol("bogus-form"), value.String("x")))
	require.Error(t, err)
	var cerr *peg.CompileError
	require.ErrorAs(t, err, &cerr)
}

func TestCompileUnknownRule(t *testing.T) {
	_, err := peg.Compile(value.Keyword("nonexistent"))
	require.Error(t, err)
}
