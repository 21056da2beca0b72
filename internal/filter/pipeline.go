package filter

import (
	"fmt"
)

// Pipeline represents the codecs applied to every chunk of an array.
type Pipeline struct {
	filters    []Codec
	compressor Codec
}

// NewPipeline creates a pipeline from a compressor configuration (nil for
// none) and an ordered list of filter configurations.
func NewPipeline(compressor *Config, filters []Config) (*Pipeline, error) {
	p := &Pipeline{
		filters: make([]Codec, 0, len(filters)),
	}

	for _, cfg := range filters {
		f, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating filter %q: %w", cfg.ID, err)
		}
		p.filters = append(p.filters, f)
	}

	if compressor != nil {
		c, err := New(*compressor)
		if err != nil {
			return nil, fmt.Errorf("creating compressor %q: %w", compressor.ID, err)
		}
		p.compressor = c
	}

	return p, nil
}

// Encode applies the filters in order, then the compressor.
func (p *Pipeline) Encode(input []byte) ([]byte, error) {
	data := input
	for _, f := range p.filters {
		var err error
		data, err = f.Encode(data)
		if err != nil {
			return nil, fmt.Errorf("filter %s encode: %w", f.ID(), err)
		}
	}

	if p.compressor != nil {
		var err error
		data, err = p.compressor.Encode(data)
		if err != nil {
			return nil, fmt.Errorf("compressor %s encode: %w", p.compressor.ID(), err)
		}
	}

	return data, nil
}

// Decode applies the compressor, then the filters in reverse order.
func (p *Pipeline) Decode(input []byte) ([]byte, error) {
	data := input

	if p.compressor != nil {
		var err error
		data, err = p.compressor.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("compressor %s decode: %w", p.compressor.ID(), err)
		}
	}

	for i := len(p.filters) - 1; i >= 0; i-- {
		var err error
		data, err = p.filters[i].Decode(data)
		if err != nil {
			return nil, fmt.Errorf("filter %s decode: %w", p.filters[i].ID(), err)
		}
	}

	return data, nil
}

// Empty returns true if the pipeline has no codecs.
func (p *Pipeline) Empty() bool {
	return len(p.filters) == 0 && p.compressor == nil
}

// Len returns the number of codecs in the pipeline, compressor included.
func (p *Pipeline) Len() int {
	n := len(p.filters)
	if p.compressor != nil {
		n++
	}
	return n
}
