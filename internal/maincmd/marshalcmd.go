package maincmd

import (
	"context"
	"fmt"
	"os"

	"github.com/mna/mainer"

	"github.com/mna/corevm/lang/marshal"
	"github.com/mna/corevm/lang/value"
)

// Marshal reads the raw bytes of args[0], wraps them in a Buffer value, and
// writes that value out in the wire format — a way to embed an arbitrary
// blob for consumption by Asm/Pegc/Pegm without a surface-syntax reader.
func (c *Cmd) Marshal(ctx context.Context, stdio mainer.Stdio, args []string) error {
	b, err := os.ReadFile(args[0])
	if err != nil {
		return printError(stdio, err)
	}
	out, err := marshal.Marshal(value.NewBuffer(b), nil)
	if err != nil {
		return printError(stdio, fmt.Errorf("marshal: %w", err))
	}
	if _, err := stdio.Stdout.Write(out); err != nil {
		return printError(stdio, err)
	}
	return nil
}
