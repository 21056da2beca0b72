package iohub

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Destination describes where a conversion writes to.
type Destination struct {
	Location string
	Kind     Kind     // defaults to KindChunked
	Options  []Option // passed to CreateDataset
}

// ConvertOption configures a conversion.
type ConvertOption func(*convertOptions)

type convertOptions struct {
	subset map[string][]int
	order  []string
	dtype  DType
	logger *zerolog.Logger
}

// WithSubset keeps only the given indices of the named axis, in the given
// order. The destination axis shrinks to len(indices).
func WithSubset(axis string, indices ...int) ConvertOption {
	return func(o *convertOptions) {
		if o.subset == nil {
			o.subset = make(map[string][]int)
		}
		if _, ok := o.subset[axis]; !ok {
			o.order = append(o.order, axis)
		}
		o.subset[axis] = slices.Clone(indices)
	}
}

// WithDType coerces every plane to dt. Values outside the range of dt
// saturate.
func WithDType(dt DType) ConvertOption {
	return func(o *convertOptions) {
		o.dtype = dt
	}
}

// WithConvertLogger sets the logger for the conversion summary and
// skipped planes. The source dataset's logger is used by default.
func WithConvertLogger(l zerolog.Logger) ConvertOption {
	return func(o *convertOptions) {
		o.logger = &l
	}
}

// SkippedPlane records a plane a conversion could not copy.
type SkippedPlane struct {
	Coord Coord
	Kind  error // one of the Err* kinds, nil when unknown
	Err   error
}

// Report summarizes one conversion run.
type Report struct {
	ID           uuid.UUID
	Source       string
	Destination  string
	Succeeded    int
	Skipped      []SkippedPlane
	Complete     bool // every enumerated plane was attempted
	BytesWritten int64
	Elapsed      time.Duration
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "conversion %s: %d planes (%s) from %s to %s in %s",
		r.ID, r.Succeeded, humanize.Bytes(uint64(r.BytesWritten)),
		r.Source, r.Destination, r.Elapsed.Round(time.Millisecond))
	if len(r.Skipped) > 0 {
		fmt.Fprintf(&b, ", %d skipped", len(r.Skipped))
	}
	if !r.Complete {
		b.WriteString(", incomplete")
	}
	return b.String()
}

// axisMap maps source indices of one axis to destination indices.
type axisMap struct {
	axis int
	to   map[int]int
}

// applySubset shrinks the axes of md named in o and returns the index
// mapping for each of them.
func applySubset(md *Metadata, o *convertOptions) ([]axisMap, error) {
	var maps []axisMap
	planeAxes := len(md.PlaneAxes())
	for _, name := range o.order {
		indices := o.subset[name]
		ax := md.AxisByName(name)
		if ax < 0 || ax >= planeAxes {
			return nil, kindErr(ErrSchema, "subset axis %q is not a plane index axis", name)
		}
		if len(indices) == 0 {
			return nil, kindErr(ErrSchema, "empty subset for axis %q", name)
		}
		to := make(map[int]int, len(indices))
		for i, src := range indices {
			if src < 0 || src >= md.Axes[ax].Size {
				return nil, kindErr(ErrOutOfBounds, "subset index %d outside axis %q of size %d", src, name, md.Axes[ax].Size)
			}
			if _, dup := to[src]; dup {
				return nil, kindErr(ErrSchema, "duplicate subset index %d for axis %q", src, name)
			}
			to[src] = i
		}

		switch md.Axes[ax].Type {
		case AxisChannel:
			channels := make([]Channel, len(indices))
			for i, src := range indices {
				channels[i] = md.Channels[src]
			}
			md.Channels = channels
		case AxisTime, AxisPosition:
			kept := md.Timestamps[:0:0]
			for _, ts := range md.Timestamps {
				idx := ts.T
				if md.Axes[ax].Type == AxisPosition {
					idx = ts.P
				}
				n, ok := to[idx]
				if !ok {
					continue
				}
				if md.Axes[ax].Type == AxisPosition {
					ts.P = n
				} else {
					ts.T = n
				}
				kept = append(kept, ts)
			}
			slices.SortStableFunc(kept, func(a, b Timestamp) int {
				if a.T != b.T {
					return a.T - b.T
				}
				return a.P - b.P
			})
			md.Timestamps = kept
			if md.Axes[ax].Type == AxisPosition && len(md.Positions) > 0 {
				positions := make([]StagePosition, len(indices))
				for i, src := range indices {
					positions[i] = md.Positions[src]
				}
				md.Positions = positions
			}
		}
		md.Axes[ax].Size = len(indices)
		maps = append(maps, axisMap{axis: ax, to: to})
	}
	return maps, nil
}

// checkDisjoint fails when creating dst could remove or overwrite src:
// the same path, or one nested in the other.
func checkDisjoint(src, dst string) error {
	a, err := resolvePath(src)
	if err != nil {
		return err
	}
	b, err := resolvePath(dst)
	if err != nil {
		return err
	}
	if within(a, b) || within(b, a) {
		return kindErr(ErrAlreadyExists, "destination %s overlaps source %s", dst, src)
	}
	return nil
}

// resolvePath returns the absolute path of p with symlinks in its longest
// existing prefix resolved.
func resolvePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	var rest []string
	for dir := abs; ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			slices.Reverse(rest)
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		rest = append(rest, filepath.Base(dir))
	}
}

// within reports whether path is root or below it.
func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// remap returns the destination coordinate of c, or false when c is
// filtered out.
func remap(c Coord, maps []axisMap) (Coord, bool) {
	out := c.Clone()
	for _, m := range maps {
		n, ok := m.to[c[m.axis]]
		if !ok {
			return nil, false
		}
		out[m.axis] = n
	}
	return out, true
}

// Convert copies the written planes of src into a new dataset at dst.
// Metadata is migrated once before any plane is copied; metadata and
// destination failures abort the run. Planes that fail to read or write
// are recorded in the report and skipped. When ctx is cancelled the
// partial report is returned with the context error and the destination
// is closed, not removed.
func Convert(ctx context.Context, src *Dataset, dst Destination, opts ...ConvertOption) (*Report, error) {
	o := &convertOptions{}
	for _, opt := range opts {
		opt(o)
	}
	log := src.log
	if o.logger != nil {
		log = *o.logger
	}
	start := time.Now()
	report := &Report{
		ID:          uuid.New(),
		Source:      src.Location(),
		Destination: dst.Location,
	}
	log = log.With().Str("run", report.ID.String()).Logger()

	md, err := migrate(src.Engine(), src.Metadata())
	if err != nil {
		return report, wrapErr("convert", src.Location(), nil, err)
	}
	maps, err := applySubset(md, o)
	if err != nil {
		return report, wrapErr("convert", src.Location(), nil, err)
	}
	if o.dtype.Valid() {
		md.DType = o.dtype
	}
	md.Producer = &Producer{Name: "iohub", Version: Version}
	if err := src.Engine().Check(md); err != nil {
		return report, wrapErr("convert", src.Location(), nil, err)
	}

	if err := checkDisjoint(src.Location(), dst.Location); err != nil {
		return report, wrapErr("convert", dst.Location, nil, err)
	}

	kind := dst.Kind
	if kind == "" {
		kind = KindChunked
	}
	dopts := append(slices.Clone(dst.Options), WithBackend(kind), WithEngine(src.Engine()))
	out, err := CreateDataset(dst.Location, md, dopts...)
	if err != nil {
		return report, err
	}
	log.Debug().Str("source", src.Location()).Str("destination", dst.Location).Str("kind", string(kind)).Msg("conversion started")

	err = copyPlanes(ctx, src, out, maps, md.DType, report, log)
	report.Elapsed = time.Since(start)
	if cerr := out.Close(); cerr != nil {
		log.Warn().Err(cerr).Msg("closing conversion destination")
		err = withCleanup(err, cerr)
	}

	ev := log.Info()
	if !report.Complete {
		ev = log.Warn()
	}
	ev.Int("succeeded", report.Succeeded).
		Int("skipped", len(report.Skipped)).
		Str("bytes", humanize.Bytes(uint64(report.BytesWritten))).
		Dur("elapsed", report.Elapsed).
		Bool("complete", report.Complete).
		Msg("conversion finished")
	return report, err
}

// copyPlanes streams planes from src to out, one at a time.
func copyPlanes(ctx context.Context, src, out *Dataset, maps []axisMap, dt DType, report *Report, log zerolog.Logger) error {
	skip := func(c Coord, err error) {
		report.Skipped = append(report.Skipped, SkippedPlane{Coord: c.Clone(), Kind: KindOf(err), Err: err})
		log.Warn().Stringer("coord", c).Err(err).Msg("plane skipped")
	}

	for c, err := range src.Written() {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			return wrapErr("convert", src.Location(), nil, err)
		}
		to, ok := remap(c, maps)
		if !ok {
			continue
		}

		p, err := src.Read(c)
		if err != nil {
			skip(c, err)
			continue
		}
		if p.DType != dt {
			if p, err = p.Convert(dt); err != nil {
				skip(c, err)
				continue
			}
		}
		p.Coord = to
		if err := out.Write(to, p); err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			skip(c, err)
			continue
		}
		report.Succeeded++
		report.BytesWritten += int64(len(p.Data))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	report.Complete = true
	return nil
}
