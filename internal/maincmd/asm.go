package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"

	"github.com/mna/corevm/lang/asm"
	"github.com/mna/corevm/lang/marshal"
	"github.com/mna/corevm/lang/value"
)

// Asm reads a wire-encoded description table from args[0], assembles it
// into a FuncDef, and writes the resulting Function back out in the wire
// format.
func (c *Cmd) Asm(ctx context.Context, stdio mainer.Stdio, args []string) error {
	b, err := os.ReadFile(args[0])
	if err != nil {
		return printError(stdio, err)
	}
	desc, _, err := marshal.Unmarshal(b, nil)
	if err != nil {
		return printError(stdio, fmt.Errorf("asm: decoding description: %w", err))
	}
	fd, err := asm.Assemble(desc)
	if err != nil {
		return printError(stdio, err)
	}
	out, err := marshal.Marshal(&value.Function{Def: fd}, nil)
	if err != nil {
		return printError(stdio, fmt.Errorf("asm: encoding result: %w", err))
	}
	if _, err := stdio.Stdout.Write(out); err != nil {
		return printError(stdio, err)
	}
	return nil
}
