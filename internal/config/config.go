// Package config loads conversion profiles from TOML files.
//
// A profile describes the destination of a conversion and how it is
// written:
//
//	[destination]
//	kind = "chunked"          # chunked, paged or multipage
//	overwrite = true
//
//	[chunked]
//	chunks = [1, 1, 1, 512, 512]
//	compressor = { id = "zstd", level = 3 }
//	filters = [{ id = "shuffle" }]
//
//	[paged]
//	max_file_size = "2 GiB"
//
//	[tiff]
//	deflate = 6               # zlib level of paged and multipage pages
//
//	[convert]
//	dtype = "uint16"
//	subset = { C = [0, 2] }
//
//	[log]
//	level = "debug"
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"

	"github.com/aliddell/go-iohub/internal/dtype"
	"github.com/aliddell/go-iohub/internal/filter"
)

// ErrConfig is returned for profiles that decode but make no sense.
var ErrConfig = errors.New("invalid conversion profile")

// Profile is a decoded conversion profile.
type Profile struct {
	Destination Destination `toml:"destination"`
	Chunked     Chunked     `toml:"chunked"`
	Paged       Paged       `toml:"paged"`
	TIFF        TIFF        `toml:"tiff"`
	Convert     Convert     `toml:"convert"`
	Log         Log         `toml:"log"`
}

// Destination selects the backend written to.
type Destination struct {
	Kind      string `toml:"kind"`
	Overwrite bool   `toml:"overwrite"`
}

// Chunked holds chunked store settings. A nil Compressor keeps the
// default unless NoCompression is set.
type Chunked struct {
	Chunks        []int           `toml:"chunks"`
	Compressor    *filter.Config  `toml:"compressor"`
	NoCompression bool            `toml:"no_compression"`
	Filters       []filter.Config `toml:"filters"`
}

// Paged holds paged acquisition settings.
type Paged struct {
	MaxFileSize string `toml:"max_file_size"`
	Prefix      string `toml:"prefix"`
}

// TIFF holds page settings of the TIFF-based backends.
type TIFF struct {
	Deflate *int `toml:"deflate"`
}

// Convert holds per-plane conversion settings.
type Convert struct {
	DType  string           `toml:"dtype"`
	Subset map[string][]int `toml:"subset"`
}

// Log holds logger settings.
type Log struct {
	Level string `toml:"level"`
}

// Load decodes and checks the profile at path.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes and checks a profile held in memory.
func Parse(data string) (*Profile, error) {
	var p Profile
	md, err := toml.Decode(data, &p)
	if err != nil {
		return nil, fmt.Errorf("could not decode TOML profile: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %q", ErrConfig, undecoded[0].String())
	}
	if err := p.Check(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Check reports ErrConfig for settings no conversion can use. Parse
// calls it; callers that change a profile afterwards call it again.
func (p *Profile) Check() error {
	switch p.Destination.Kind {
	case "", "chunked", "paged", "multipage":
	default:
		return fmt.Errorf("%w: destination kind %q", ErrConfig, p.Destination.Kind)
	}
	for i, c := range p.Chunked.Chunks {
		if c <= 0 {
			return fmt.Errorf("%w: chunk size %d at axis %d", ErrConfig, c, i)
		}
	}
	if p.Chunked.Compressor != nil {
		if _, err := filter.New(*p.Chunked.Compressor); err != nil {
			return fmt.Errorf("%w: compressor: %v", ErrConfig, err)
		}
	}
	for _, f := range p.Chunked.Filters {
		if _, err := filter.New(f); err != nil {
			return fmt.Errorf("%w: filter: %v", ErrConfig, err)
		}
	}
	if p.Chunked.Compressor != nil && p.Chunked.NoCompression {
		return fmt.Errorf("%w: compressor set together with no_compression", ErrConfig)
	}
	if d := p.TIFF.Deflate; d != nil && (*d < -1 || *d > 9) {
		return fmt.Errorf("%w: deflate level %d", ErrConfig, *d)
	}
	if _, err := p.MaxFileSize(); err != nil {
		return err
	}
	if _, err := p.DType(); err != nil {
		return err
	}
	return nil
}

// MaxFileSize returns the paged file size threshold in bytes, or 0 when
// the profile leaves it unset.
func (p *Profile) MaxFileSize() (int64, error) {
	if p.Paged.MaxFileSize == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(p.Paged.MaxFileSize)
	if err != nil {
		return 0, fmt.Errorf("%w: max_file_size: %v", ErrConfig, err)
	}
	return int64(n), nil
}

// DType returns the requested output dtype, or dtype.Invalid when the
// profile keeps the source dtype.
func (p *Profile) DType() (dtype.DType, error) {
	if p.Convert.DType == "" {
		return dtype.Invalid, nil
	}
	dt, err := dtype.Parse(p.Convert.DType)
	if err != nil {
		return dtype.Invalid, fmt.Errorf("%w: dtype: %v", ErrConfig, err)
	}
	return dt, nil
}
