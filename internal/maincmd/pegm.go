package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"

	"github.com/mna/corevm/lang/marshal"
	"github.com/mna/corevm/lang/peg"
	"github.com/mna/corevm/lang/value"
)

// Pegm reads a wire-encoded Program from args[0] (as written by Pegc),
// matches it against the raw bytes of the file at args[1], and prints
// whether it matched, the end offset, and any captures.
func (c *Cmd) Pegm(ctx context.Context, stdio mainer.Stdio, args []string) error {
	progBytes, err := os.ReadFile(args[0])
	if err != nil {
		return printError(stdio, err)
	}
	progVal, _, err := marshal.Unmarshal(progBytes, pegRegistry())
	if err != nil {
		return printError(stdio, fmt.Errorf("pegm: decoding program: %w", err))
	}
	abs, ok := progVal.(*value.Abstract)
	if !ok || abs.TypeName != peg.AbstractTypeName {
		return printError(stdio, fmt.Errorf("pegm: %s is not a compiled program", args[0]))
	}
	prog, ok := abs.Data.(*peg.Program)
	if !ok {
		return printError(stdio, fmt.Errorf("pegm: %s is not a compiled program", args[0]))
	}

	input, err := os.ReadFile(args[1])
	if err != nil {
		return printError(stdio, err)
	}

	opts := peg.Options{}
	if c.env.MaxRecursion > 0 {
		opts.MaxDepth = c.env.MaxRecursion
	}

	res, err := prog.Match(input, opts)
	if err != nil {
		return printError(stdio, err)
	}

	if !res.Matched {
		fmt.Fprintln(stdio.Stdout, "no match")
		return nil
	}
	fmt.Fprintf(stdio.Stdout, "matched, end=%d\n", res.End)
	for _, cap := range res.Captures {
		if cap.IsValue {
			fmt.Fprintf(stdio.Stdout, "  %s = %s\n", cap.Tag, cap.Value.String())
		} else {
			fmt.Fprintf(stdio.Stdout, "  %s = %q\n", cap.Tag, cap.Text)
		}
	}
	return nil
}
