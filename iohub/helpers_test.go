package iohub

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var allKinds = []Kind{KindChunked, KindPaged, KindMultiPage}

// newMetadata returns a 2-time-point, 2-channel layout of 6x5 uint16 planes.
func newMetadata() *Metadata {
	md := NewMetadata(Uint16,
		Axis{Name: "T", Size: 2, Unit: "second"},
		Axis{Name: "C", Size: 2},
		Axis{Name: "Y", Size: 6, Unit: "micrometer", Step: 0.5},
		Axis{Name: "X", Size: 5, Unit: "micrometer", Step: 0.5},
	)
	md.Channels = []Channel{{Name: "GFP"}, {Name: "RFP"}}
	return md
}

// testPlane returns a plane whose samples identify its coordinate.
func testPlane(md *Metadata, c Coord) *Plane {
	h, w := md.PlaneShape()
	flat := 0
	for i, a := range md.PlaneAxes() {
		flat = flat*a.Size + c[i]
	}
	values := make([]uint16, h*w)
	for i := range values {
		values[i] = uint16(1000*(flat+1) + i)
	}
	p, err := PlaneOf(h, w, values)
	if err != nil {
		panic(err)
	}
	p.Coord = c.Clone()
	return p
}

// location returns a fresh location for a dataset of the given kind.
func location(t *testing.T, kind Kind) string {
	t.Helper()
	dir := t.TempDir()
	switch kind {
	case KindMultiPage:
		return filepath.Join(dir, "stack.tif")
	case KindPaged:
		return filepath.Join(dir, "acq")
	default:
		return filepath.Join(dir, "store.zarr")
	}
}

func allCoords(md *Metadata) []Coord {
	m, err := NewMapper(md, FlatIndex{})
	if err != nil {
		panic(err)
	}
	var coords []Coord
	for c := range m.All() {
		coords = append(coords, c)
	}
	return coords
}

// writeAll creates a dataset at loc and writes the given planes (all
// planes when coords is nil) in order.
func writeAll(t *testing.T, loc string, md *Metadata, coords []Coord, opts ...Option) {
	t.Helper()
	ds, err := CreateDataset(loc, md, opts...)
	require.NoError(t, err)
	if coords == nil {
		coords = allCoords(md)
	}
	for _, c := range coords {
		require.NoError(t, ds.Write(c, testPlane(md, c)))
	}
	require.NoError(t, ds.Close())
}

func writtenCoords(t *testing.T, ds *Dataset) []Coord {
	t.Helper()
	var got []Coord
	for c, err := range ds.Written() {
		require.NoError(t, err)
		got = append(got, c)
	}
	return got
}
