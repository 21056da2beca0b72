package layout

import (
	"fmt"
)

// Grid describes an array shape split into regular chunks.
type Grid struct {
	Shape  []int
	Chunks []int
	extent []int
}

// NewGrid validates shape and chunk shape and returns the grid.
func NewGrid(shape, chunks []int) (*Grid, error) {
	if len(shape) == 0 {
		return nil, fmt.Errorf("empty shape")
	}
	if len(shape) != len(chunks) {
		return nil, fmt.Errorf("chunk rank %d does not match array rank %d", len(chunks), len(shape))
	}

	g := &Grid{
		Shape:  append([]int(nil), shape...),
		Chunks: append([]int(nil), chunks...),
		extent: make([]int, len(shape)),
	}
	for d := range shape {
		if shape[d] <= 0 {
			return nil, fmt.Errorf("dimension %d: non-positive size %d", d, shape[d])
		}
		if chunks[d] <= 0 {
			return nil, fmt.Errorf("dimension %d: non-positive chunk size %d", d, chunks[d])
		}
		g.extent[d] = (shape[d] + chunks[d] - 1) / chunks[d]
	}
	return g, nil
}

// Rank returns the number of dimensions.
func (g *Grid) Rank() int {
	return len(g.Shape)
}

// Extent returns the number of chunks along each dimension.
func (g *Grid) Extent() []int {
	return append([]int(nil), g.extent...)
}

// NumChunks returns the total number of chunk positions.
func (g *Grid) NumChunks() int {
	n := 1
	for _, e := range g.extent {
		n *= e
	}
	return n
}

// ChunkElements returns the number of elements in one full chunk.
func (g *Grid) ChunkElements() int {
	n := 1
	for _, c := range g.Chunks {
		n *= c
	}
	return n
}

// Locate returns the chunk position containing the element at idx and the
// element's offset inside that chunk. idx must be in bounds.
func (g *Grid) Locate(idx []int) (chunk, offset []int) {
	chunk = make([]int, len(idx))
	offset = make([]int, len(idx))
	for d, i := range idx {
		chunk[d] = i / g.Chunks[d]
		offset[d] = i % g.Chunks[d]
	}
	return chunk, offset
}

// Origin returns the element index of the first element of a chunk.
func (g *Grid) Origin(chunk []int) []int {
	origin := make([]int, len(chunk))
	for d, c := range chunk {
		origin[d] = c * g.Chunks[d]
	}
	return origin
}

// Contains reports whether idx is a valid element index.
func (g *Grid) Contains(idx []int) bool {
	return inBounds(idx, g.Shape)
}

// ValidChunk reports whether chunk is a valid chunk position.
func (g *Grid) ValidChunk(chunk []int) bool {
	return inBounds(chunk, g.extent)
}

// Overlapping returns the positions of every chunk that intersects the box
// [start, start+count), in row-major order.
func (g *Grid) Overlapping(start, count []int) ([][]int, error) {
	if len(start) != g.Rank() || len(count) != g.Rank() {
		return nil, fmt.Errorf("selection rank does not match array rank %d", g.Rank())
	}
	first := make([]int, g.Rank())
	span := make([]int, g.Rank())
	for d := range start {
		if start[d] < 0 || count[d] <= 0 || start[d]+count[d] > g.Shape[d] {
			return nil, fmt.Errorf("dimension %d: selection [%d, %d) outside [0, %d)",
				d, start[d], start[d]+count[d], g.Shape[d])
		}
		first[d] = start[d] / g.Chunks[d]
		last := (start[d] + count[d] - 1) / g.Chunks[d]
		span[d] = last - first[d] + 1
	}

	total := 1
	for _, s := range span {
		total *= s
	}
	chunks := make([][]int, 0, total)
	for n := 0; n < total; n++ {
		pos := Unflatten(n, span)
		for d := range pos {
			pos[d] += first[d]
		}
		chunks = append(chunks, pos)
	}
	return chunks, nil
}

// Intersect returns the part of the box [start, start+count) that falls
// inside chunk, as a start and count in array coordinates.
func (g *Grid) Intersect(chunk, start, count []int) (oStart, oCount []int) {
	oStart = make([]int, len(chunk))
	oCount = make([]int, len(chunk))
	for d := range chunk {
		lo := max(chunk[d]*g.Chunks[d], start[d])
		hi := min((chunk[d]+1)*g.Chunks[d], start[d]+count[d], g.Shape[d])
		oStart[d] = lo
		oCount[d] = max(hi-lo, 0)
	}
	return oStart, oCount
}

// Flatten converts a multi-dimensional index into a row-major flat index.
// The first dimension varies slowest.
func Flatten(idx, dims []int) int {
	n := 0
	for d := range dims {
		n = n*dims[d] + idx[d]
	}
	return n
}

// Unflatten converts a row-major flat index into a multi-dimensional index.
func Unflatten(n int, dims []int) []int {
	idx := make([]int, len(dims))
	for d := len(dims) - 1; d >= 0; d-- {
		idx[d] = n % dims[d]
		n /= dims[d]
	}
	return idx
}

// Product returns the product of dims; 1 for an empty slice.
func Product(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

func inBounds(idx, dims []int) bool {
	if len(idx) != len(dims) {
		return false
	}
	for d, i := range idx {
		if i < 0 || i >= dims[d] {
			return false
		}
	}
	return true
}
