package iohub

import (
	"iter"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Dataset is an open microscopy dataset: validated metadata plus one
// backend handle. Read-only datasets may be read from several goroutines;
// writable datasets have a single owner.
type Dataset struct {
	handle Handle
	engine *Engine
	log    zerolog.Logger

	mu       sync.Mutex
	mapper   *Mapper
	written  map[int]struct{}
	expected int // -1 when derived from the metadata

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// OpenDataset opens an existing dataset read-only, detecting its layout.
func OpenDataset(location string, opts ...Option) (*Dataset, error) {
	return OpenDatasetMode(location, ModeRead, opts...)
}

// CreateDataset creates a dataset with the given metadata. The backend
// is chosen with WithBackend and defaults to a chunked store.
func CreateDataset(location string, md *Metadata, opts ...Option) (*Dataset, error) {
	o := buildOptions(opts)
	eng, err := o.engineOrNew()
	if err != nil {
		return nil, wrapErr("create", location, nil, err)
	}
	if md == nil {
		return nil, wrapErr("create", location, nil, kindErr(ErrSchema, "no metadata"))
	}
	checked, err := migrate(eng, md)
	if err != nil {
		return nil, wrapErr("create", location, nil, err)
	}
	fillDisplay(checked)

	b, err := o.registryOrDefault().Lookup(o.backend)
	if err != nil {
		return nil, wrapErr("create", location, nil, err)
	}
	h, err := b.Open(location, ModeWrite, checked, append(opts, WithEngine(eng))...)
	if err != nil {
		return nil, wrapErr("create", location, nil, err)
	}
	return newDataset(h, eng, o)
}

// OpenDatasetMode opens an existing location in read or append mode,
// detecting its layout. Use CreateDataset for write mode and
// AppendDataset to append to a location that may not exist yet.
func OpenDatasetMode(location string, mode Mode, opts ...Option) (*Dataset, error) {
	o := buildOptions(opts)
	eng, err := o.engineOrNew()
	if err != nil {
		return nil, wrapErr("open", location, nil, err)
	}
	if mode == ModeWrite {
		return nil, wrapErr("open", location, nil, kindErr(ErrSchema, "write mode needs metadata, use CreateDataset"))
	}
	b, err := o.registryOrDefault().Detect(location)
	if err != nil {
		return nil, wrapErr("open", location, nil, err)
	}
	h, err := b.Open(location, mode, nil, append(opts, WithEngine(eng))...)
	if err != nil {
		return nil, wrapErr("open", location, nil, err)
	}
	return newDataset(h, eng, o)
}

// AppendDataset opens location for appending. A missing location is
// created from md with the backend chosen by WithBackend; an existing one
// must have the same layout as md when md is not nil.
func AppendDataset(location string, md *Metadata, opts ...Option) (*Dataset, error) {
	o := buildOptions(opts)
	eng, err := o.engineOrNew()
	if err != nil {
		return nil, wrapErr("append", location, nil, err)
	}
	reg := o.registryOrDefault()
	b, err := reg.Detect(location)
	if err != nil && md != nil && creatable(location) {
		b, err = reg.Lookup(o.backend)
	}
	if err != nil {
		return nil, wrapErr("append", location, nil, err)
	}
	if md != nil {
		if md, err = migrate(eng, md); err != nil {
			return nil, wrapErr("append", location, nil, err)
		}
		fillDisplay(md)
	}
	h, err := b.Open(location, ModeAppend, md, append(opts, WithEngine(eng))...)
	if err != nil {
		return nil, wrapErr("append", location, nil, err)
	}
	return newDataset(h, eng, o)
}

func newDataset(h Handle, eng *Engine, o *options) (*Dataset, error) {
	d := &Dataset{
		handle:   h,
		engine:   eng,
		log:      o.logger,
		written:  make(map[int]struct{}),
		expected: o.expected,
	}
	var err error
	if d.mapper, err = NewMapper(h.Metadata(), FlatIndex{}); err != nil {
		return nil, withCleanup(wrapErr("open", h.Location(), nil, err), h.Close())
	}
	for c, err := range h.Written() {
		if err != nil {
			return nil, withCleanup(wrapErr("open", h.Location(), nil, err), h.Close())
		}
		d.written[d.mapper.flatIndex(c)] = struct{}{}
	}
	d.log.Debug().
		Str("location", h.Location()).
		Str("kind", string(h.Kind())).
		Stringer("mode", h.Mode()).
		Int("written", len(d.written)).
		Msg("opened dataset")
	return d, nil
}

// Kind returns the backend kind.
func (d *Dataset) Kind() Kind { return d.handle.Kind() }

// Location returns the path the dataset was opened at.
func (d *Dataset) Location() string { return d.handle.Location() }

// Mode returns the access mode.
func (d *Dataset) Mode() Mode { return d.handle.Mode() }

// Engine returns the metadata engine of the dataset.
func (d *Dataset) Engine() *Engine { return d.engine }

// Metadata returns a copy of the current metadata.
func (d *Dataset) Metadata() *Metadata {
	return d.handle.Metadata()
}

// Mapper returns the flat-index mapper of the plane index axes.
func (d *Dataset) Mapper() *Mapper {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mapper
}

func (d *Dataset) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Read returns the plane at c.
func (d *Dataset) Read(c Coord) (*Plane, error) {
	if d.isClosed() {
		return nil, wrapErr("read", d.Location(), c, ErrClosed)
	}
	if err := d.Mapper().Validate(c); err != nil {
		return nil, wrapErr("read", d.Location(), c, err)
	}
	p, err := d.handle.ReadPlane(c)
	if err != nil {
		return nil, wrapErr("read", d.Location(), c, err)
	}
	return p, nil
}

// ReadRegion yields the planes of r in axis-major order, reading each one
// when it is requested. A failed plane is yielded as an error; iteration
// continues while the consumer keeps asking.
func (d *Dataset) ReadRegion(r Region) iter.Seq2[*Plane, error] {
	return func(yield func(*Plane, error) bool) {
		m := d.Mapper()
		if err := r.check(m.Shape()); err != nil {
			yield(nil, wrapErr("read region", d.Location(), nil, err))
			return
		}
		for c := range m.region(r) {
			if !yield(d.Read(c)) {
				return
			}
		}
	}
}

// Write stores p at c. The plane must match the plane shape and dtype of
// the metadata.
func (d *Dataset) Write(c Coord, p *Plane) error {
	if d.isClosed() {
		return wrapErr("write", d.Location(), c, ErrClosed)
	}
	if !d.Mode().Writable() {
		return wrapErr("write", d.Location(), c, ErrReadOnly)
	}
	m := d.Mapper()
	if err := m.Validate(c); err != nil {
		return wrapErr("write", d.Location(), c, err)
	}
	if err := p.checkShape(d.handle.Metadata()); err != nil {
		return wrapErr("write", d.Location(), c, err)
	}
	if err := d.handle.WritePlane(c, p); err != nil {
		return wrapErr("write", d.Location(), c, err)
	}
	d.mu.Lock()
	d.written[m.flatIndex(c)] = struct{}{}
	d.mu.Unlock()
	return nil
}

// Written yields the coordinates of stored planes in axis-major order.
func (d *Dataset) Written() iter.Seq2[Coord, error] {
	return d.handle.Written()
}

// NumWritten returns the number of distinct planes stored.
func (d *Dataset) NumWritten() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.written)
}

// ExpectedPlanes returns the plane count IsComplete compares against.
func (d *Dataset) ExpectedPlanes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.expected >= 0 {
		return d.expected
	}
	return d.mapper.NumPlanes()
}

// IsComplete reports whether every expected plane has been stored.
func (d *Dataset) IsComplete() bool {
	return d.NumWritten() >= d.ExpectedPlanes()
}

// UpdateMetadata applies fn to a copy of the metadata and stores the
// result. Axis sizes and dtype cannot change after the first write.
func (d *Dataset) UpdateMetadata(fn func(md *Metadata) error) error {
	if d.isClosed() {
		return wrapErr("update metadata", d.Location(), nil, ErrClosed)
	}
	if !d.Mode().Writable() {
		return wrapErr("update metadata", d.Location(), nil, ErrReadOnly)
	}
	current := d.handle.Metadata()
	md := current.Clone()
	if err := fn(md); err != nil {
		return wrapErr("update metadata", d.Location(), nil, err)
	}
	if !current.SameLayout(md) && d.NumWritten() > 0 {
		return wrapErr("update metadata", d.Location(), nil, ErrImmutableLayout)
	}
	if err := d.handle.SetMetadata(md); err != nil {
		return wrapErr("update metadata", d.Location(), nil, err)
	}
	m, err := NewMapper(d.handle.Metadata(), FlatIndex{})
	if err != nil {
		return wrapErr("update metadata", d.Location(), nil, err)
	}
	d.mu.Lock()
	d.mapper = m
	d.mu.Unlock()
	return nil
}

// SetTimestamp records the acquisition time of time index t at position p.
func (d *Dataset) SetTimestamp(t, p int, at time.Time) error {
	return d.UpdateMetadata(func(md *Metadata) error {
		return md.SetTimestamp(t, p, at)
	})
}

// Close releases the backend handle. Only the first call closes it;
// later calls return the same result.
func (d *Dataset) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		if err := d.handle.Close(); err != nil {
			d.log.Warn().Err(err).Str("location", d.Location()).Msg("closing dataset")
			d.closeErr = wrapErr("close", d.Location(), nil, err)
		}
		d.log.Debug().Str("location", d.Location()).Int("written", d.NumWritten()).Msg("closed dataset")
	})
	return d.closeErr
}

// displayColors cycles through the default channel colors.
var displayColors = []string{"00FF00", "FF00FF", "00FFFF", "FFFF00", "FF0000", "0000FF", "FFFFFF"}

// fillDisplay gives channels without display settings a color and an
// intensity window covering the dtype range.
func fillDisplay(md *Metadata) {
	lo, hi := md.DType.Range()
	if md.DType.IsFloat() {
		lo, hi = 0, 1
	}
	for i := range md.Channels {
		if len(md.Channels[i].Display) > 0 {
			continue
		}
		md.Channels[i].Display = map[string]any{
			"color":  displayColors[i%len(displayColors)],
			"active": true,
			"window": map[string]any{"start": lo, "end": hi},
		}
	}
}
