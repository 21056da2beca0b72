package iohub

import (
	"fmt"

	"github.com/aliddell/go-iohub/internal/dtype"
)

// Plane is one 2-D image. Data holds Height*Width little-endian samples
// of DType in row-major order. A Plane returned by a read belongs to the
// caller.
type Plane struct {
	Coord  Coord
	DType  DType
	Height int
	Width  int
	Data   []byte
}

// NewPlane returns a zero-filled plane.
func NewPlane(dt DType, height, width int) *Plane {
	return &Plane{
		DType:  dt,
		Height: height,
		Width:  width,
		Data:   make([]byte, height*width*dt.Size()),
	}
}

// PlaneOf builds a plane from typed samples.
func PlaneOf[T dtype.Number](height, width int, values []T) (*Plane, error) {
	if len(values) != height*width {
		return nil, kindErr(ErrShapeMismatch, "%d values for a %dx%d plane", len(values), height, width)
	}
	data, dt := dtype.Encode(values)
	return &Plane{DType: dt, Height: height, Width: width, Data: data}, nil
}

// Values returns the samples of p as a typed slice. T must match p.DType.
func Values[T dtype.Number](p *Plane) ([]T, error) {
	return dtype.Decode[T](p.DType, p.Data)
}

// Clone returns a deep copy of p.
func (p *Plane) Clone() *Plane {
	c := *p
	c.Coord = p.Coord.Clone()
	c.Data = append([]byte(nil), p.Data...)
	return &c
}

// Convert returns a copy of p with samples coerced to dt. Out-of-range
// values saturate; floats are rounded to the nearest integer.
func (p *Plane) Convert(dt DType) (*Plane, error) {
	data, err := dtype.Convert(p.Data, p.DType, dt)
	if err != nil {
		return nil, err
	}
	return &Plane{Coord: p.Coord.Clone(), DType: dt, Height: p.Height, Width: p.Width, Data: data}, nil
}

// checkShape reports ErrShapeMismatch unless p matches the plane shape
// and dtype of md.
func (p *Plane) checkShape(md *Metadata) error {
	if p == nil {
		return kindErr(ErrShapeMismatch, "nil plane")
	}
	h, w := md.PlaneShape()
	if p.Height != h || p.Width != w {
		return kindErr(ErrShapeMismatch, "plane is %dx%d, dataset planes are %dx%d", p.Height, p.Width, h, w)
	}
	if p.DType != md.DType {
		return kindErr(ErrShapeMismatch, "plane dtype %s, dataset dtype %s", p.DType, md.DType)
	}
	if want := md.PlaneBytes(); len(p.Data) != want {
		return kindErr(ErrShapeMismatch, "plane has %d bytes, want %d", len(p.Data), want)
	}
	return nil
}

func (p *Plane) String() string {
	return fmt.Sprintf("plane %s %dx%d %s", p.Coord, p.Height, p.Width, p.DType)
}
