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

// Disasm reads a wire-encoded Function from args[0] and writes its
// disassembled description table back out in the wire format.
func (c *Cmd) Disasm(ctx context.Context, stdio mainer.Stdio, args []string) error {
	b, err := os.ReadFile(args[0])
	if err != nil {
		return printError(stdio, err)
	}
	v, _, err := marshal.Unmarshal(b, nil)
	if err != nil {
		return printError(stdio, fmt.Errorf("disasm: decoding function: %w", err))
	}
	fn, ok := v.(*value.Function)
	if !ok {
		return printError(stdio, fmt.Errorf("disasm: %s is not a function", args[0]))
	}
	desc := asm.Disassemble(fn.Def)
	out, err := marshal.Marshal(desc, nil)
	if err != nil {
		return printError(stdio, fmt.Errorf("disasm: encoding result: %w", err))
	}
	if _, err := stdio.Stdout.Write(out); err != nil {
		return printError(stdio, err)
	}
	return nil
}
