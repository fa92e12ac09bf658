package peg_test

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mna/corevm/internal/filetest"
	"github.com/mna/corevm/lang/peg"
	"github.com/mna/corevm/lang/value"
)

var updateGoldenTests = flag.Bool("test.update-peg-tests", false, "update the golden .peg.want files")

// balancedParensGrammar matches balanced parentheses, the same grammar
// TestCompileGrammarRecursion exercises directly: main <- "(" (main / "") ")".
func balancedParensGrammar() *peg.Program {
	grammar := value.NewTable(1)
	grammar.Put(value.Keyword("main"), tup(
		value.Symbol("sequence"),
		value.String("("),
		tup(value.Symbol("choice"), value.Keyword("main"), value.String("")),
		value.String(")"),
	))
	prog, err := peg.Compile(grammar)
	if err != nil {
		panic(err)
	}
	return prog
}

// TestGoldenFiles runs the balanced-parens grammar against every .peg input
// in testdata/in and diffs the result against testdata/out, exercising
// internal/filetest's golden-file helper the way lang/parser and
// lang/scanner do in the teacher tree.
func TestGoldenFiles(t *testing.T) {
	const inDir, outDir = "testdata/in", "testdata/out"
	prog := balancedParensGrammar()

	for _, fi := range filetest.SourceFiles(t, inDir, ".peg") {
		fi := fi
		t.Run(fi.Name(), func(t *testing.T) {
			input, err := os.ReadFile(filepath.Join(inDir, fi.Name()))
			if err != nil {
				t.Fatal(err)
			}
			res, err := prog.Match(input, peg.Options{})
			if err != nil {
				t.Fatal(err)
			}

			var output string
			if res.Matched {
				output = fmt.Sprintf("matched end=%d\n", res.End)
			} else {
				output = "no match\n"
			}
			filetest.DiffOutput(t, fi, output, outDir, updateGoldenTests)
		})
	}
}
