package iohub

import (
	"slices"
	"strconv"
	"strings"
)

// Coord addresses one plane: one index per plane index axis, in axis order.
type Coord []int

func (c Coord) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, v := range c {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Itoa(v))
	}
	b.WriteByte(')')
	return b.String()
}

// Equal reports whether c and o address the same plane.
func (c Coord) Equal(o Coord) bool {
	return slices.Equal(c, o)
}

// Clone returns a copy of c; nil stays nil.
func (c Coord) Clone() Coord {
	if c == nil {
		return nil
	}
	return slices.Clone(c)
}

// Region selects planes by a half-open range [Start[i], Stop[i]) on every
// plane index axis.
type Region struct {
	Start []int
	Stop  []int
}

// FullRegion returns the region covering every plane of md.
func FullRegion(md *Metadata) Region {
	shape := md.IndexShape()
	return Region{Start: make([]int, len(shape)), Stop: shape}
}

func (r Region) check(shape []int) error {
	if len(r.Start) != len(shape) || len(r.Stop) != len(shape) {
		return kindErr(ErrOutOfBounds, "region rank %d/%d does not match %d index axes",
			len(r.Start), len(r.Stop), len(shape))
	}
	for d := range shape {
		if r.Start[d] < 0 || r.Stop[d] > shape[d] || r.Start[d] > r.Stop[d] {
			return kindErr(ErrOutOfBounds, "axis %d: range [%d, %d) outside [0, %d)",
				d, r.Start[d], r.Stop[d], shape[d])
		}
	}
	return nil
}

func (r Region) empty() bool {
	for d := range r.Start {
		if r.Start[d] == r.Stop[d] {
			return true
		}
	}
	return false
}
