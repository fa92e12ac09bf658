package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"

	"github.com/mna/corevm/lang/marshal"
)

// Unmarshal reads a wire-encoded file at args[0] and prints the resulting
// value tree's string representation, a debugging aid for the output of
// Asm, Disasm, Pegc, and Marshal alike.
func (c *Cmd) Unmarshal(ctx context.Context, stdio mainer.Stdio, args []string) error {
	b, err := os.ReadFile(args[0])
	if err != nil {
		return printError(stdio, err)
	}
	v, _, err := marshal.Unmarshal(b, pegRegistry())
	if err != nil {
		return printError(stdio, fmt.Errorf("unmarshal: %w", err))
	}
	fmt.Fprintln(stdio.Stdout, v.String())
	return nil
}
