package cli

import (
	"context"
	"fmt"
	"io"
)

func commands() []*Command {
	return []*Command{convertCommand(), infoCommand()}
}

// Run is the entry point of the iohub tool. args holds the program name
// followed by the command and its arguments. Returns the exit code.
func Run(ctx context.Context, out, errOut io.Writer, args []string) int {
	e := &Env{Out: out, ErrOut: errOut}
	cmds := commands()
	if len(args) < 2 {
		printUsage(out, cmds)
		return 0
	}

	name := args[1]
	if name == "-h" || name == "--help" || name == "help" {
		printUsage(out, cmds)
		return 0
	}
	for _, c := range cmds {
		if c.Name() == name {
			return c.Run(ctx, e, args[2:])
		}
	}
	e.Errorln("error: unknown command:", name)
	printUsage(errOut, cmds)
	return 1
}

func printUsage(w io.Writer, cmds []*Command) {
	fmt.Fprintln(w, "iohub reads, writes and converts microscopy datasets.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: iohub <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range cmds {
		fmt.Fprintln(w, c.HelpLine())
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, `Run "iohub <command> --help" for the flags of a command.`)
}
