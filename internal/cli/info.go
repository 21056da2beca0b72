package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"

	"github.com/aliddell/go-iohub/internal/logx"
	"github.com/aliddell/go-iohub/iohub"
)

func infoCommand() *Command {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	logLevel := fs.String("log-level", "warn", "log level: debug, info, warn or error")

	return &Command{
		Flags: fs,
		Usage: "info <location>",
		Short: "Show the layout and metadata of a dataset",
		Exec: func(_ context.Context, e *Env, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("%w: info needs one location", errUsage)
			}
			log, err := logx.New(e.ErrOut, *logLevel)
			if err != nil {
				return err
			}
			ds, err := iohub.OpenDataset(args[0], iohub.WithLogger(log))
			if err != nil {
				return err
			}
			defer ds.Close()
			printInfo(e, ds)
			return nil
		},
	}
}

func printInfo(e *Env, ds *iohub.Dataset) {
	md := ds.Metadata()
	row := func(key, format string, a ...any) {
		e.Printf("%-10s %s\n", key, fmt.Sprintf(format, a...))
	}

	row("location", "%s", ds.Location())
	row("kind", "%s", ds.Kind())
	row("version", "%d", md.Version)
	row("dtype", "%s", md.DType)

	axes := make([]string, len(md.Axes))
	for i, a := range md.Axes {
		desc := string(a.Type)
		if a.Unit != "" {
			desc += ", " + a.Unit
		}
		if a.Step != 0 {
			desc += fmt.Sprintf(" %g", a.Step)
		}
		axes[i] = fmt.Sprintf("%s=%d (%s)", a.Name, a.Size, desc)
	}
	row("axes", "%s", strings.Join(axes, " "))
	if names := md.ChannelNames(); len(names) > 0 {
		row("channels", "%s", strings.Join(names, ", "))
	}
	row("planes", "%d of %d written, %s each", ds.NumWritten(), ds.ExpectedPlanes(),
		humanize.Bytes(uint64(md.PlaneBytes())))
	if md.Producer != nil {
		row("producer", "%s %s", md.Producer.Name, md.Producer.Version)
	}
	if len(md.Timestamps) > 0 {
		first, last := md.Timestamps[0].Time, md.Timestamps[len(md.Timestamps)-1].Time
		row("acquired", "%s to %s", first.Format("2006-01-02 15:04:05"), last.Format("2006-01-02 15:04:05"))
	}
}
