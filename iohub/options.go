package iohub

import (
	"github.com/rs/zerolog"
)

// Option configures opening or creating a dataset.
type Option func(*options)

type options struct {
	logger    zerolog.Logger
	overwrite bool
	backend   Kind
	expected  int
	registry  *Registry
	engine    *Engine

	// chunked store
	chunks        []int
	compressor    *CodecConfig
	compressorSet bool
	filters       []CodecConfig
	filtersSet    bool

	// paged acquisition
	maxFileSize int64
	prefix      string

	// multi-page image
	deflate int
}

// defaultMaxFileSize keeps classic TIFF offsets below 4 GiB.
const defaultMaxFileSize = 4<<30 - 1<<20

func defaultOptions() *options {
	return &options{
		logger:      zerolog.Nop(),
		backend:     KindChunked,
		expected:    -1,
		maxFileSize: defaultMaxFileSize,
		deflate:     -1,
	}
}

func buildOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// engineOrNew returns the configured engine or compiles a new one.
func (o *options) engineOrNew() (*Engine, error) {
	if o.engine != nil {
		return o.engine, nil
	}
	eng, err := NewEngine()
	if err != nil {
		return nil, err
	}
	o.engine = eng
	return eng, nil
}

func (o *options) registryOrDefault() *Registry {
	if o.registry != nil {
		return o.registry
	}
	return DefaultRegistry()
}

// WithLogger sets the logger for open, close and per-plane events.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithOverwrite allows write mode to replace an existing, non-empty
// destination.
func WithOverwrite() Option {
	return func(o *options) {
		o.overwrite = true
	}
}

// WithBackend selects the backend used when creating a dataset, or when
// appending to a location that does not exist yet. The default is
// KindChunked.
func WithBackend(k Kind) Option {
	return func(o *options) {
		o.backend = k
	}
}

// WithExpectedPlanes overrides the number of planes IsComplete expects.
func WithExpectedPlanes(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.expected = n
		}
	}
}

// WithRegistry sets the backends available for detection and creation.
func WithRegistry(r *Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithEngine shares a metadata engine between datasets.
func WithEngine(e *Engine) Option {
	return func(o *options) {
		o.engine = e
	}
}

// WithChunks sets the chunk shape of a new chunked store, one size per
// axis including Y and X.
func WithChunks(chunks ...int) Option {
	return func(o *options) {
		o.chunks = chunks
	}
}

// WithCompressor sets the chunk compressor of a new chunked store.
func WithCompressor(c CodecConfig) Option {
	return func(o *options) {
		o.compressor = &c
		o.compressorSet = true
	}
}

// WithoutCompression stores chunks uncompressed.
func WithoutCompression() Option {
	return func(o *options) {
		o.compressor = nil
		o.compressorSet = true
	}
}

// WithFilters sets the filters applied before compression. A shuffle
// filter without an element size uses the dtype size.
func WithFilters(filters ...CodecConfig) Option {
	return func(o *options) {
		o.filters = filters
		o.filtersSet = true
	}
}

// WithMaxFileSize sets the size at which a paged acquisition continues in
// a new file.
func WithMaxFileSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFileSize = n
		}
	}
}

// WithPrefix sets the file name prefix of a paged acquisition. The default
// is the directory name.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithDeflate compresses the pages of TIFF-based backends with zlib at the
// given level (0 for the default level).
func WithDeflate(level int) Option {
	return func(o *options) {
		if level >= 0 && level <= 9 {
			o.deflate = level
		}
	}
}
