package iohub

import (
	"errors"
	"io/fs"
	"iter"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Kind names a backend variant.
type Kind string

// Backend kinds.
const (
	KindChunked   Kind = "chunked"
	KindPaged     Kind = "paged"
	KindMultiPage Kind = "multipage"
)

// Mode is the access mode of a handle.
type Mode int

// Access modes.
const (
	// ModeRead opens an existing location read-only.
	ModeRead Mode = iota
	// ModeWrite creates a new location. An existing non-empty location is
	// replaced only with WithOverwrite.
	ModeWrite
	// ModeAppend opens an existing location for reading and writing, or
	// creates it when missing.
	ModeAppend
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeAppend:
		return "append"
	}
	return "unknown"
}

// Writable reports whether the mode allows writing planes.
func (m Mode) Writable() bool {
	return m == ModeWrite || m == ModeAppend
}

// Backend opens one on-disk layout.
type Backend interface {
	// Kind returns the variant name.
	Kind() Kind

	// Detect reports whether location looks like this layout.
	Detect(location string) (bool, error)

	// Open opens location. md is required to create a location (write
	// mode, or append on a missing location) and is otherwise only
	// compared with the stored layout.
	Open(location string, mode Mode, md *Metadata, opts ...Option) (Handle, error)
}

// Handle is one open store. A handle is owned by a single Dataset; read
// handles may serve concurrent ReadPlane calls when ConcurrentReads
// reports true.
type Handle interface {
	Kind() Kind
	Mode() Mode
	Location() string

	// Metadata returns a copy of the current metadata.
	Metadata() *Metadata

	// SetMetadata replaces the metadata. Axis sizes and dtype cannot change
	// once a plane was written.
	SetMetadata(md *Metadata) error

	ReadPlane(c Coord) (*Plane, error)
	WritePlane(c Coord, p *Plane) error

	// Written yields the coordinates of stored planes in axis-major order.
	// The sequence is finite and may be iterated again.
	Written() iter.Seq2[Coord, error]

	ConcurrentReads() bool

	// Close releases the handle. Calls after the first return nil.
	Close() error
}

// Registry is the set of backends a dataset can be opened with.
type Registry struct {
	backends []Backend
}

// NewRegistry returns a registry trying backends in the given order.
func NewRegistry(backends ...Backend) *Registry {
	return &Registry{backends: append([]Backend(nil), backends...)}
}

// DefaultRegistry returns a new registry of the multi-page image, chunked
// store and paged acquisition backends.
func DefaultRegistry() *Registry {
	return NewRegistry(MultiPageImage{}, ChunkedStore{}, PagedAcquisition{})
}

// Kinds returns the registered kinds in detection order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, len(r.backends))
	for i, b := range r.backends {
		kinds[i] = b.Kind()
	}
	return kinds
}

// Lookup returns the backend of the given kind.
func (r *Registry) Lookup(k Kind) (Backend, error) {
	for _, b := range r.backends {
		if b.Kind() == k {
			return b, nil
		}
	}
	return nil, kindErr(ErrUnsupportedLayout, "no %q backend registered", k)
}

// Detect returns the first backend recognizing location.
func (r *Registry) Detect(location string) (Backend, error) {
	if _, err := os.Stat(location); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, kindErr(ErrNotFound, "%s", location)
		}
		return nil, err
	}
	for _, b := range r.backends {
		ok, err := b.Detect(location)
		if err != nil {
			return nil, err
		}
		if ok {
			return b, nil
		}
	}
	return nil, kindErr(ErrUnsupportedLayout, "%s matches no known layout", location)
}

// handleBase holds the state every handle shares.
type handleBase struct {
	kind     Kind
	mode     Mode
	location string
	log      zerolog.Logger
	engine   *Engine

	mu      sync.RWMutex
	md      *Metadata
	mapper  *Mapper
	written int // planes written through this handle
	closed  bool
}

func (h *handleBase) Kind() Kind       { return h.kind }
func (h *handleBase) Mode() Mode       { return h.mode }
func (h *handleBase) Location() string { return h.location }

func (h *handleBase) Metadata() *Metadata {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.md.Clone()
}

func (h *handleBase) ConcurrentReads() bool {
	return h.mode == ModeRead
}

// setMetadata installs md, checked by the engine. stored reports whether
// the location already holds planes.
func (h *handleBase) setMetadata(md *Metadata, stored bool) (layoutChanged bool, err error) {
	if !h.mode.Writable() {
		return false, ErrReadOnly
	}
	if h.closed {
		return false, ErrClosed
	}
	checked, err := migrate(h.engine, md)
	if err != nil {
		return false, err
	}
	layoutChanged = !h.md.SameLayout(checked)
	if layoutChanged && (stored || h.written > 0) {
		return false, ErrImmutableLayout
	}
	if layoutChanged {
		m, err := NewMapper(checked, FlatIndex{})
		if err != nil {
			return false, err
		}
		h.mapper = m
	}
	h.md = checked
	return layoutChanged, nil
}

// checkRead validates a read of c. The caller holds h.mu.
func (h *handleBase) checkRead(c Coord) error {
	if h.closed {
		return ErrClosed
	}
	return h.mapper.Validate(c)
}

// checkWrite validates a write of p at c. The caller holds h.mu.
func (h *handleBase) checkWrite(c Coord, p *Plane) error {
	if h.closed {
		return ErrClosed
	}
	if !h.mode.Writable() {
		return ErrReadOnly
	}
	if err := h.mapper.Validate(c); err != nil {
		return err
	}
	return p.checkShape(h.md)
}

// openMetadata resolves the metadata to create a location with.
func openMetadata(eng *Engine, md *Metadata, location string) (*Metadata, error) {
	if md == nil {
		return nil, kindErr(ErrNotFound, "%s does not exist and no metadata was given", location)
	}
	return migrate(eng, md)
}

// checkAppendLayout verifies that md, when given, matches the stored layout.
func checkAppendLayout(stored, md *Metadata) error {
	if md != nil && !stored.SameLayout(md) {
		return kindErr(ErrUnsupportedLayout, "stored layout differs from the requested metadata")
	}
	return nil
}

// locationState classifies a location before opening it.
type locationState int

const (
	locMissing locationState = iota
	locEmpty
	locPresent
)

func statLocation(location string, dir bool) (locationState, error) {
	st, err := os.Stat(location)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return locMissing, nil
		}
		return 0, err
	}
	if st.IsDir() != dir {
		return locPresent, nil
	}
	if !dir {
		if st.Size() == 0 {
			return locEmpty, nil
		}
		return locPresent, nil
	}
	entries, err := os.ReadDir(location)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return locEmpty, nil
	}
	return locPresent, nil
}

// creatable reports whether location is missing, an empty directory or
// an empty file.
func creatable(location string) bool {
	st, err := os.Stat(location)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	state, err := statLocation(location, st.IsDir())
	return err == nil && state == locEmpty
}

// prepareCreate applies the write mode rules to location.
func prepareCreate(location string, dir bool, o *options) error {
	state, err := statLocation(location, dir)
	if err != nil {
		return err
	}
	if state != locPresent {
		return nil
	}
	if !o.overwrite {
		return kindErr(ErrAlreadyExists, "%s", location)
	}
	o.logger.Debug().Str("location", location).Msg("overwriting existing dataset")
	return os.RemoveAll(location)
}
