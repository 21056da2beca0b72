package iohub

import (
	"iter"
	"slices"

	"github.com/aliddell/go-iohub/internal/layout"
)

// StorageKey is the physical address of a plane. Chunked layouts use Grid
// (chunk position over the index axes) and Offset (plane position inside
// the chunk, row-major); page-indexed layouts use Offset alone as a flat
// page index.
type StorageKey struct {
	Grid   []int
	Offset int64
}

// KeyStrategy selects how a Mapper builds storage keys.
type KeyStrategy interface {
	keyStrategy()
}

// FlatIndex keys planes by their row-major position, first axis slowest.
type FlatIndex struct{}

// ChunkGrid keys planes by chunk-grid position and in-chunk offset.
// Chunks holds one chunk size per plane index axis.
type ChunkGrid struct {
	Chunks []int
}

func (FlatIndex) keyStrategy() {}
func (ChunkGrid) keyStrategy() {}

// Mapper translates plane coordinates to storage keys and back. It is a
// bijection over the valid coordinates of one metadata layout.
type Mapper struct {
	shape []int
	grid  *layout.Grid // nil for FlatIndex or rank 0
	flat  bool
}

// NewMapper returns a mapper for the plane index axes of md.
func NewMapper(md *Metadata, strategy KeyStrategy) (*Mapper, error) {
	m := &Mapper{shape: md.IndexShape()}
	for d, s := range m.shape {
		if s <= 0 {
			return nil, kindErr(ErrSchema, "axis %d has size %d", d, s)
		}
	}
	switch s := strategy.(type) {
	case nil, FlatIndex:
		m.flat = true
	case ChunkGrid:
		if len(s.Chunks) != len(m.shape) {
			return nil, kindErr(ErrShapeMismatch, "%d chunk sizes for %d index axes", len(s.Chunks), len(m.shape))
		}
		if len(m.shape) > 0 {
			g, err := layout.NewGrid(m.shape, s.Chunks)
			if err != nil {
				return nil, kindErr(ErrShapeMismatch, "%v", err)
			}
			m.grid = g
		}
	default:
		return nil, kindErr(ErrUnsupportedLayout, "unknown key strategy %T", strategy)
	}
	return m, nil
}

// Shape returns the sizes of the plane index axes.
func (m *Mapper) Shape() []int {
	return slices.Clone(m.shape)
}

// NumPlanes returns the number of valid coordinates.
func (m *Mapper) NumPlanes() int {
	return layout.Product(m.shape)
}

// Validate reports ErrOutOfBounds unless every component of c is inside
// its axis.
func (m *Mapper) Validate(c Coord) error {
	if len(c) != len(m.shape) {
		return kindErr(ErrOutOfBounds, "coordinate %s has %d components, want %d", c, len(c), len(m.shape))
	}
	for d, v := range c {
		if v < 0 || v >= m.shape[d] {
			return kindErr(ErrOutOfBounds, "coordinate %s: axis %d index %d outside [0, %d)", c, d, v, m.shape[d])
		}
	}
	return nil
}

// ToStorageKey returns the storage key of c.
func (m *Mapper) ToStorageKey(c Coord) (StorageKey, error) {
	if err := m.Validate(c); err != nil {
		return StorageKey{}, err
	}
	if m.flat {
		return StorageKey{Offset: int64(layout.Flatten(c, m.shape))}, nil
	}
	if m.grid == nil {
		return StorageKey{Grid: []int{}}, nil
	}
	chunk, inner := m.grid.Locate(c)
	return StorageKey{Grid: chunk, Offset: int64(layout.Flatten(inner, m.grid.Chunks))}, nil
}

// ToAxisCoordinate returns the coordinate addressed by k. Keys that do not
// address a valid coordinate, including positions in the padding of an
// edge chunk, fail with ErrOutOfBounds.
func (m *Mapper) ToAxisCoordinate(k StorageKey) (Coord, error) {
	if m.flat {
		if len(k.Grid) != 0 {
			return nil, kindErr(ErrOutOfBounds, "flat key with grid position %v", k.Grid)
		}
		if k.Offset < 0 || k.Offset >= int64(m.NumPlanes()) {
			return nil, kindErr(ErrOutOfBounds, "flat index %d outside [0, %d)", k.Offset, m.NumPlanes())
		}
		return Coord(layout.Unflatten(int(k.Offset), m.shape)), nil
	}

	if m.grid == nil {
		if len(k.Grid) != 0 || k.Offset != 0 {
			return nil, kindErr(ErrOutOfBounds, "key %v/%d for a single-plane layout", k.Grid, k.Offset)
		}
		return Coord{}, nil
	}
	if !m.grid.ValidChunk(k.Grid) {
		return nil, kindErr(ErrOutOfBounds, "chunk %v outside grid %v", k.Grid, m.grid.Extent())
	}
	if k.Offset < 0 || k.Offset >= int64(m.grid.ChunkElements()) {
		return nil, kindErr(ErrOutOfBounds, "chunk offset %d outside [0, %d)", k.Offset, m.grid.ChunkElements())
	}
	c := Coord(m.grid.Origin(k.Grid))
	for d, v := range layout.Unflatten(int(k.Offset), m.grid.Chunks) {
		c[d] += v
	}
	if !m.grid.Contains(c) {
		return nil, kindErr(ErrOutOfBounds, "key %v/%d addresses %s in chunk padding", k.Grid, k.Offset, c)
	}
	return c, nil
}

// flatIndex returns the row-major position of a valid coordinate.
func (m *Mapper) flatIndex(c Coord) int {
	return layout.Flatten(c, m.shape)
}

// All yields every valid coordinate in axis-major order.
func (m *Mapper) All() iter.Seq[Coord] {
	return func(yield func(Coord) bool) {
		for n := range m.NumPlanes() {
			if !yield(Coord(layout.Unflatten(n, m.shape))) {
				return
			}
		}
	}
}

// Next returns the coordinate following c in axis-major order, or false
// when c is the last one.
func (m *Mapper) Next(c Coord) (Coord, bool) {
	if m.Validate(c) != nil {
		return nil, false
	}
	next := c.Clone()
	for d := len(next) - 1; d >= 0; d-- {
		next[d]++
		if next[d] < m.shape[d] {
			return next, true
		}
		next[d] = 0
	}
	return nil, false
}

// region yields the coordinates of r in axis-major order.
func (m *Mapper) region(r Region) iter.Seq[Coord] {
	return func(yield func(Coord) bool) {
		if r.empty() {
			return
		}
		c := Coord(slices.Clone(r.Start))
		for {
			if !yield(c.Clone()) {
				return
			}
			d := len(c) - 1
			for ; d >= 0; d-- {
				c[d]++
				if c[d] < r.Stop[d] {
					break
				}
				c[d] = r.Start[d]
			}
			if d < 0 {
				return
			}
		}
	}
}
