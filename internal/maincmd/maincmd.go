package maincmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/mna/mainer"
)

const binName = "corevm"

var (
	shortUsage = fmt.Sprintf(`
usage: %s [<option>...] <command> <file>...
Run '%[1]s --help' for details.
`, binName)

	longUsage = fmt.Sprintf(`usage: %s [<option>...] <command> <file>...
       %[1]s -h|--help
       %[1]s -v|--version

Assembler, PEG compiler/matcher and marshaller for the %[1]s bytecode
runtime. Every command reads and writes values in the marshal wire format
(lang/marshal) unless noted otherwise.

The <command> can be one of:
       asm <file>                Assemble a wire-encoded description table
                                 into a FuncDef, written as a Function.
       disasm <file>             Disassemble a wire-encoded Function back
                                 into its description table.
       pegc <file>                Compile a wire-encoded grammar expression
                                 into a Program, written as an abstract value.
       pegm <prog> <input>        Match a wire-encoded Program (from pegc)
                                 against the raw bytes of <input>, printing
                                 the match result and captures.
       marshal <file>             Wrap the raw bytes of <file> in a Buffer
                                 value and write it in the wire format.
       unmarshal <file>           Decode a wire-encoded file and print the
                                 resulting value tree.

Valid flag options are:
       -h --help                 Show this help and exit.
       -v --version              Print version and exit.

Environment overrides:
       COREVM_MAX_RECURSION       PEG VM recursion depth guard (default 4000).
       COREVM_MAX_TAGS            PEG compiler's distinct capture tag cap (default 255).

More information on the %[1]s repository:
       https://github.com/mna/corevm
`, binName)
)

// envConfig holds the operator-facing knobs promoted to direct use from
// github.com/caarlos0/env/v6 (SPEC_FULL.md's domain stack: the teacher only
// pulls this in transitively through mainer).
type envConfig struct {
	MaxRecursion int `env:"COREVM_MAX_RECURSION" envDefault:"4000"`
	MaxTags      int `env:"COREVM_MAX_TAGS" envDefault:"255"`
}

type Cmd struct {
	BuildVersion string
	BuildDate    string

	Help    bool `flag:"h,help"`
	Version bool `flag:"v,version"`

	args  []string
	flags map[string]bool
	cmdFn func(context.Context, mainer.Stdio, []string) error
	env   envConfig
}

func (c *Cmd) SetArgs(args []string) {
	c.args = args
}

func (c *Cmd) SetFlags(flags map[string]bool) {
	c.flags = flags
}

func (c *Cmd) Validate() error {
	if c.Help || c.Version {
		return nil
	}

	if err := env.Parse(&c.env); err != nil {
		return fmt.Errorf("reading environment overrides: %w", err)
	}

	if len(c.args) == 0 {
		return errors.New("no command specified")
	}

	cmdName := c.args[0]

	commands := buildCmds(c)
	c.cmdFn = commands[cmdName]
	if c.cmdFn == nil {
		return fmt.Errorf("unknown command: %s", c.args[0])
	}

	switch cmdName {
	case "asm", "disasm", "pegc", "marshal", "unmarshal":
		if len(c.args[1:]) != 1 {
			return fmt.Errorf("%s: exactly one file must be provided", cmdName)
		}
	case "pegm":
		if len(c.args[1:]) != 2 {
			return fmt.Errorf("%s: a program file and an input file must be provided", cmdName)
		}
	}

	return nil
}

func printError(stdio mainer.Stdio, err error) error {
	if err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n", err)
	}
	return err
}

func (c *Cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	p := mainer.Parser{
		EnvVars:   false,
		EnvPrefix: binName + "_",
	}
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid arguments: %s\n%s", err, shortUsage)
		return mainer.InvalidArgs
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success

	case c.Version:
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
		return mainer.Success
	}

	ctx := mainer.CancelOnSignal(context.Background(), os.Interrupt)
	if err := c.cmdFn(ctx, stdio, c.args[1:]); err != nil {
		return mainer.Failure
	}
	return mainer.Success
}

// valid commands are those that take a mainer.Stdio and a slice of strings
// as input, and return an error as output.
func buildCmds(v interface{}) map[string]func(context.Context, mainer.Stdio, []string) error {
	cmds := make(map[string]func(context.Context, mainer.Stdio, []string) error)

	vv := reflect.ValueOf(v)
	vt := vv.Type()
	for i := 0; i < vt.NumMethod(); i++ {
		m := vt.Method(i)
		mt := m.Type

		if mt.NumIn() != 4 || mt.NumOut() != 1 {
			continue
		}
		if rt := mt.Out(0); rt.Kind() != reflect.Interface || rt.Name() != "error" {
			continue
		}
		if p0 := mt.In(0); p0.Kind() != reflect.Ptr || p0.Elem().Name() != "Cmd" {
			continue
		}
		if p1 := mt.In(1); p1.Kind() != reflect.Interface || p1.Name() != "Context" {
			continue
		}
		if p2 := mt.In(2); p2.Kind() != reflect.Struct || p2.Name() != "Stdio" {
			continue
		}
		if p3 := mt.In(3); p3.Kind() != reflect.Slice || p3.Elem().Name() != "string" {
			continue
		}
		cmds[strings.ToLower(m.Name)] = vv.Method(i).Interface().(func(context.Context, mainer.Stdio, []string) error)
	}
	return cmds
}
