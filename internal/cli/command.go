// Package cli implements the iohub command-line tool.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"
)

// errUsage marks argument errors that should be followed by the help text.
var errUsage = errors.New("wrong arguments")

// Env holds the output streams of one invocation.
type Env struct {
	Out    io.Writer
	ErrOut io.Writer
}

func (e *Env) Printf(format string, a ...any) {
	_, _ = fmt.Fprintf(e.Out, format, a...)
}

func (e *Env) Errorln(a ...any) {
	_, _ = fmt.Fprintln(e.ErrOut, a...)
}

// Command defines a subcommand with its flags and help text.
type Command struct {
	// Flags defines command-specific flags.
	Flags *flag.FlagSet

	// Usage is shown after "iohub" in help, starting with the command
	// name. Example: "info <location>".
	Usage string

	// Short is a one-line description for the command listing.
	Short string

	// Long is the full description shown in command help. If empty,
	// Short is used instead.
	Long string

	// Exec runs the command after flags are parsed.
	Exec func(ctx context.Context, e *Env, args []string) error
}

// Name returns the command name (first word of Usage).
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

// HelpLine returns the line shown in the command listing.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-40s %s", c.Usage, c.Short)
}

// PrintHelp prints the full help of the command to w.
func (c *Command) PrintHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: iohub", c.Usage)
	fmt.Fprintln(w)
	desc := c.Long
	if desc == "" {
		desc = c.Short
	}
	fmt.Fprintln(w, desc)

	if c.Flags != nil && c.Flags.HasFlags() {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Flags:")
		var buf strings.Builder
		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		fmt.Fprint(w, buf.String())
	}
}

// Run parses flags and executes the command. Returns the exit code.
func (c *Command) Run(ctx context.Context, e *Env, args []string) int {
	c.Flags.SetOutput(&strings.Builder{}) // discard pflag output

	if err := c.Flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(e.Out)
			return 0
		}
		e.Errorln("error:", err)
		e.Errorln()
		c.PrintHelp(e.ErrOut)
		return 1
	}

	if err := c.Exec(ctx, e, c.Flags.Args()); err != nil {
		e.Errorln("error:", err)
		if errors.Is(err, errUsage) {
			e.Errorln()
			c.PrintHelp(e.ErrOut)
		}
		return 1
	}
	return 0
}
