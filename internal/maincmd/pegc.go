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

// pegRegistry lets a compiled Program travel through the ordinary marshal
// wire format as an abstract value (spec §6).
func pegRegistry() *marshal.Registry {
	return &marshal.Registry{Abstracts: map[string]marshal.AbstractCodec{
		peg.AbstractTypeName: peg.AbstractCodec(),
	}}
}

// Pegc reads a wire-encoded grammar expression from args[0], compiles it,
// and writes the resulting Program, wrapped as an abstract value (see
// peg.AbstractCodec), back out in the wire format.
func (c *Cmd) Pegc(ctx context.Context, stdio mainer.Stdio, args []string) error {
	b, err := os.ReadFile(args[0])
	if err != nil {
		return printError(stdio, err)
	}
	expr, _, err := marshal.Unmarshal(b, nil)
	if err != nil {
		return printError(stdio, fmt.Errorf("pegc: decoding grammar: %w", err))
	}

	if c.env.MaxTags > 0 {
		peg.MaxTags = c.env.MaxTags
	}

	prog, err := peg.Compile(expr)
	if err != nil {
		return printError(stdio, err)
	}
	abs := &value.Abstract{TypeName: peg.AbstractTypeName, Data: prog}
	out, err := marshal.Marshal(abs, pegRegistry())
	if err != nil {
		return printError(stdio, fmt.Errorf("pegc: encoding result: %w", err))
	}
	if _, err := stdio.Stdout.Write(out); err != nil {
		return printError(stdio, err)
	}
	return nil
}
