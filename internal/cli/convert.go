package cli

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/aliddell/go-iohub/internal/config"
	"github.com/aliddell/go-iohub/internal/filter"
	"github.com/aliddell/go-iohub/internal/logx"
	"github.com/aliddell/go-iohub/iohub"
)

type convertFlags struct {
	profile     string
	kind        string
	overwrite   bool
	dtype       string
	subset      []string
	chunks      []int
	compressor  string
	maxFileSize string
	deflate     int
	logLevel    string
}

func convertCommand() *Command {
	var f convertFlags
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	fs.StringVarP(&f.profile, "profile", "p", "", "TOML conversion profile")
	fs.StringVarP(&f.kind, "kind", "k", "", "destination layout: chunked, paged or multipage (default chunked)")
	fs.BoolVar(&f.overwrite, "overwrite", false, "replace an existing destination")
	fs.StringVar(&f.dtype, "dtype", "", "coerce planes to this dtype, e.g. uint8")
	fs.StringArrayVar(&f.subset, "subset", nil, "keep only these indices of an axis, e.g. C=0,2 (repeatable)")
	fs.IntSliceVar(&f.chunks, "chunks", nil, "chunk shape of a chunked destination, one size per axis")
	fs.StringVar(&f.compressor, "compressor", "", "chunk compressor as id[:level], e.g. zstd:3, or none")
	fs.StringVar(&f.maxFileSize, "max-file-size", "", "size at which a paged destination starts a new file, e.g. 2GiB")
	fs.IntVar(&f.deflate, "deflate", -1, "zlib level for TIFF-based destinations (-1 for uncompressed)")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error (default info)")

	return &Command{
		Flags: fs,
		Usage: "convert <source> <destination> [flags]",
		Short: "Copy a dataset into a new layout",
		Long: `Copy every written plane of <source> into a new dataset at <destination>.

The source layout is detected. Settings come from the profile given with
--profile; flags override the profile. Planes that cannot be read or
written are reported and skipped, and the command then exits with status 1.`,
		Exec: func(ctx context.Context, e *Env, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("%w: convert needs a source and a destination", errUsage)
			}
			p, err := f.resolve(fs)
			if err != nil {
				return err
			}
			return runConvert(ctx, e, args[0], args[1], p)
		},
	}
}

// resolve loads the profile and applies the flags that were set.
func (f *convertFlags) resolve(fs *flag.FlagSet) (*config.Profile, error) {
	p := &config.Profile{}
	if f.profile != "" {
		var err error
		if p, err = config.Load(f.profile); err != nil {
			return nil, err
		}
	}
	if fs.Changed("kind") {
		p.Destination.Kind = f.kind
	}
	if fs.Changed("overwrite") {
		p.Destination.Overwrite = f.overwrite
	}
	if fs.Changed("dtype") {
		p.Convert.DType = f.dtype
	}
	if fs.Changed("subset") {
		subset, err := parseSubsets(f.subset)
		if err != nil {
			return nil, err
		}
		p.Convert.Subset = subset
	}
	if fs.Changed("chunks") {
		p.Chunked.Chunks = f.chunks
	}
	if fs.Changed("compressor") {
		c, err := parseCompressor(f.compressor)
		if err != nil {
			return nil, err
		}
		p.Chunked.Compressor = c
		p.Chunked.NoCompression = c == nil
	}
	if fs.Changed("max-file-size") {
		p.Paged.MaxFileSize = f.maxFileSize
	}
	if fs.Changed("deflate") {
		p.TIFF.Deflate = &f.deflate
	}
	if fs.Changed("log-level") {
		p.Log.Level = f.logLevel
	}
	if err := p.Check(); err != nil {
		return nil, err
	}
	return p, nil
}

// parseSubsets parses AXIS=i,j,... values.
func parseSubsets(values []string) (map[string][]int, error) {
	subset := make(map[string][]int, len(values))
	for _, v := range values {
		axis, list, ok := strings.Cut(v, "=")
		if !ok || axis == "" || list == "" {
			return nil, fmt.Errorf("%w: subset %q, want AXIS=i,j,...", errUsage, v)
		}
		var indices []int
		for _, s := range strings.Split(list, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return nil, fmt.Errorf("%w: subset %q: %v", errUsage, v, err)
			}
			indices = append(indices, n)
		}
		subset[axis] = indices
	}
	return subset, nil
}

// parseCompressor parses id[:level]; "none" disables compression.
func parseCompressor(s string) (*filter.Config, error) {
	if s == "none" {
		return nil, nil
	}
	id, level, hasLevel := strings.Cut(s, ":")
	c := &filter.Config{ID: id}
	if hasLevel {
		n, err := strconv.Atoi(level)
		if err != nil {
			return nil, fmt.Errorf("%w: compressor level %q", errUsage, level)
		}
		c.Level = n
	}
	return c, nil
}

// plan turns a profile into the destination and conversion options.
func plan(p *config.Profile, location string) (iohub.Destination, []iohub.ConvertOption, error) {
	dst := iohub.Destination{Location: location, Kind: iohub.Kind(p.Destination.Kind)}
	if p.Destination.Overwrite {
		dst.Options = append(dst.Options, iohub.WithOverwrite())
	}
	if len(p.Chunked.Chunks) > 0 {
		dst.Options = append(dst.Options, iohub.WithChunks(p.Chunked.Chunks...))
	}
	if p.Chunked.Compressor != nil {
		dst.Options = append(dst.Options, iohub.WithCompressor(*p.Chunked.Compressor))
	} else if p.Chunked.NoCompression {
		dst.Options = append(dst.Options, iohub.WithoutCompression())
	}
	if p.Chunked.Filters != nil {
		dst.Options = append(dst.Options, iohub.WithFilters(p.Chunked.Filters...))
	}
	size, err := p.MaxFileSize()
	if err != nil {
		return dst, nil, err
	}
	if size > 0 {
		dst.Options = append(dst.Options, iohub.WithMaxFileSize(size))
	}
	if p.Paged.Prefix != "" {
		dst.Options = append(dst.Options, iohub.WithPrefix(p.Paged.Prefix))
	}
	if p.TIFF.Deflate != nil && *p.TIFF.Deflate >= 0 {
		dst.Options = append(dst.Options, iohub.WithDeflate(*p.TIFF.Deflate))
	}

	var opts []iohub.ConvertOption
	dt, err := p.DType()
	if err != nil {
		return dst, nil, err
	}
	if dt.Valid() {
		opts = append(opts, iohub.WithDType(dt))
	}
	axes := make([]string, 0, len(p.Convert.Subset))
	for axis := range p.Convert.Subset {
		axes = append(axes, axis)
	}
	slices.Sort(axes)
	for _, axis := range axes {
		opts = append(opts, iohub.WithSubset(axis, p.Convert.Subset[axis]...))
	}
	return dst, opts, nil
}

func runConvert(ctx context.Context, e *Env, source, destination string, p *config.Profile) error {
	log, err := logx.New(e.ErrOut, p.Log.Level)
	if err != nil {
		return err
	}
	dst, opts, err := plan(p, destination)
	if err != nil {
		return err
	}
	dst.Options = append(dst.Options, iohub.WithLogger(log))
	opts = append(opts, iohub.WithConvertLogger(log))

	src, err := iohub.OpenDataset(source, iohub.WithLogger(log))
	if err != nil {
		return err
	}
	defer src.Close()

	report, err := iohub.Convert(ctx, src, dst, opts...)
	if report != nil && report.Succeeded+len(report.Skipped) > 0 {
		e.Printf("%s\n", report)
		for _, s := range report.Skipped {
			e.Printf("  skipped %s: %v\n", s.Coord, s.Err)
		}
	}
	if err != nil {
		return err
	}
	if n := len(report.Skipped); n > 0 {
		return fmt.Errorf("%d planes skipped", n)
	}
	return nil
}
