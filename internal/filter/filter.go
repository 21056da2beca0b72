package filter

import (
	"fmt"
	"sort"
)

// Codec is the interface implemented by all chunk codecs.
type Codec interface {
	// ID returns the numcodecs identifier.
	ID() string

	// Encode transforms decoded data to its stored form.
	Encode(input []byte) ([]byte, error)

	// Decode transforms stored data back to decoded form.
	Decode(input []byte) ([]byte, error)
}

// Config is the serialized form of a codec as it appears in an array
// record, e.g. {"id":"zstd","level":1}.
type Config struct {
	ID          string `json:"id" toml:"id"`
	Level       int    `json:"level,omitempty" toml:"level"`
	ElementSize int    `json:"elementsize,omitempty" toml:"elementsize"`
}

// registry maps codec IDs to codec constructors.
var registry = map[string]func(Config) (Codec, error){
	"zlib":       func(c Config) (Codec, error) { return NewZlib(c.Level) },
	"gzip":       func(c Config) (Codec, error) { return NewGzip(c.Level) },
	"zstd":       func(c Config) (Codec, error) { return NewZstd(c.Level) },
	"lz4":        func(c Config) (Codec, error) { return NewLZ4(), nil },
	"s2":         func(c Config) (Codec, error) { return NewS2(), nil },
	"shuffle":    func(c Config) (Codec, error) { return NewShuffle(c.ElementSize), nil },
	"fletcher32": func(c Config) (Codec, error) { return NewFletcher32(), nil },
}

// New creates a codec from its configuration.
func New(cfg Config) (Codec, error) {
	constructor, ok := registry[cfg.ID]
	if !ok {
		return nil, fmt.Errorf("unsupported codec: %q", cfg.ID)
	}
	return constructor(cfg)
}

// IDs returns the identifiers of all supported codecs in sorted order.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
