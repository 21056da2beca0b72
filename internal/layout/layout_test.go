package layout

import (
	"bytes"
	"reflect"
	"testing"
)

func TestNewGridErrors(t *testing.T) {
	tests := []struct {
		name   string
		shape  []int
		chunks []int
	}{
		{"empty", nil, nil},
		{"rank mismatch", []int{4, 4}, []int{4}},
		{"zero size", []int{0, 4}, []int{1, 4}},
		{"zero chunk", []int{4, 4}, []int{0, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewGrid(tt.shape, tt.chunks); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGridExtent(t *testing.T) {
	g, err := NewGrid([]int{3, 10, 7}, []int{2, 5, 7})
	if err != nil {
		t.Fatalf("NewGrid failed: %v", err)
	}
	if got := g.Extent(); !reflect.DeepEqual(got, []int{2, 2, 1}) {
		t.Errorf("Extent = %v, want [2 2 1]", got)
	}
	if g.NumChunks() != 4 {
		t.Errorf("NumChunks = %d, want 4", g.NumChunks())
	}
	if g.ChunkElements() != 70 {
		t.Errorf("ChunkElements = %d, want 70", g.ChunkElements())
	}
}

func TestLocateOrigin(t *testing.T) {
	g, _ := NewGrid([]int{2, 3, 512, 512}, []int{1, 1, 256, 256})

	chunk, offset := g.Locate([]int{1, 2, 300, 10})
	if !reflect.DeepEqual(chunk, []int{1, 2, 1, 0}) {
		t.Errorf("chunk = %v", chunk)
	}
	if !reflect.DeepEqual(offset, []int{0, 0, 44, 10}) {
		t.Errorf("offset = %v", offset)
	}
	if origin := g.Origin(chunk); !reflect.DeepEqual(origin, []int{1, 2, 256, 0}) {
		t.Errorf("origin = %v", origin)
	}
	if !g.ValidChunk([]int{1, 2, 1, 1}) {
		t.Error("expected chunk [1 2 1 1] to be valid")
	}
	if g.ValidChunk([]int{2, 0, 0, 0}) {
		t.Error("expected chunk [2 0 0 0] to be invalid")
	}
	if g.Contains([]int{1, 3, 0, 0}) {
		t.Error("expected index [1 3 0 0] to be out of bounds")
	}
}

func TestOverlapping(t *testing.T) {
	g, _ := NewGrid([]int{10, 10}, []int{4, 4})

	chunks, err := g.Overlapping([]int{3, 0}, []int{2, 10})
	if err != nil {
		t.Fatalf("Overlapping failed: %v", err)
	}
	want := [][]int{{0, 0}, {0, 1}, {0, 2}, {1, 0}, {1, 1}, {1, 2}}
	if !reflect.DeepEqual(chunks, want) {
		t.Errorf("Overlapping = %v, want %v", chunks, want)
	}

	if _, err := g.Overlapping([]int{8, 0}, []int{3, 1}); err == nil {
		t.Error("expected error for selection past the edge")
	}
}

func TestIntersect(t *testing.T) {
	g, _ := NewGrid([]int{10, 10}, []int{4, 4})
	start, count := g.Intersect([]int{2, 1}, []int{0, 2}, []int{10, 5})
	if !reflect.DeepEqual(start, []int{8, 4}) || !reflect.DeepEqual(count, []int{2, 3}) {
		t.Errorf("Intersect = %v %v, want [8 4] [2 3]", start, count)
	}
}

func TestFlattenUnflatten(t *testing.T) {
	dims := []int{2, 3, 4}
	for n := 0; n < Product(dims); n++ {
		idx := Unflatten(n, dims)
		if got := Flatten(idx, dims); got != n {
			t.Fatalf("Flatten(Unflatten(%d)) = %d", n, got)
		}
	}
	if got := Flatten([]int{1, 0, 0}, dims); got != 12 {
		t.Errorf("first dimension should vary slowest, got %d", got)
	}
	if Product(nil) != 1 {
		t.Error("Product of no dims should be 1")
	}
}

func TestStrides(t *testing.T) {
	if got := Strides([]int{3, 4, 5}, 2); !reflect.DeepEqual(got, []int{40, 10, 2}) {
		t.Errorf("Strides = %v", got)
	}
}

func TestCopyRegion2D(t *testing.T) {
	// 4x4 source of bytes 0..15
	src := make([]byte, 16)
	for i := range src {
		src[i] = byte(i)
	}

	// Copy the 2x2 box at (1,1) into the corner of a 3x3 destination
	dst := make([]byte, 9)
	err := CopyRegion(dst, []int{3, 3}, []int{0, 0}, src, []int{4, 4}, []int{1, 1}, []int{2, 2}, 1)
	if err != nil {
		t.Fatalf("CopyRegion failed: %v", err)
	}
	want := []byte{5, 6, 0, 9, 10, 0, 0, 0, 0}
	if !bytes.Equal(dst, want) {
		t.Errorf("got %v, want %v", dst, want)
	}
}

func TestCopyRegionMultiByte(t *testing.T) {
	// 2x3x2 uint16 source
	src := make([]byte, 2*3*2*2)
	for i := range src {
		src[i] = byte(i)
	}
	dst := make([]byte, len(src))
	err := CopyRegion(dst, []int{2, 3, 2}, []int{0, 0, 0}, src, []int{2, 3, 2}, []int{0, 0, 0}, []int{2, 3, 2}, 2)
	if err != nil {
		t.Fatalf("CopyRegion failed: %v", err)
	}
	if !bytes.Equal(dst, src) {
		t.Error("full copy should reproduce the source")
	}
}

func TestCopyRegionTilesRoundTrip(t *testing.T) {
	// Split a 5x7 plane into 2x3 tiles and reassemble it.
	shape := []int{5, 7}
	g, _ := NewGrid(shape, []int{2, 3})
	plane := make([]byte, 35)
	for i := range plane {
		plane[i] = byte(i + 1)
	}

	tiles := map[int][]byte{}
	chunks, _ := g.Overlapping([]int{0, 0}, shape)
	for _, c := range chunks {
		tile := make([]byte, g.ChunkElements())
		start, count := g.Intersect(c, []int{0, 0}, shape)
		origin := g.Origin(c)
		local := []int{start[0] - origin[0], start[1] - origin[1]}
		if err := CopyRegion(tile, g.Chunks, local, plane, shape, start, count, 1); err != nil {
			t.Fatalf("split chunk %v: %v", c, err)
		}
		tiles[Flatten(c, g.Extent())] = tile
	}

	out := make([]byte, 35)
	for _, c := range chunks {
		start, count := g.Intersect(c, []int{0, 0}, shape)
		origin := g.Origin(c)
		local := []int{start[0] - origin[0], start[1] - origin[1]}
		if err := CopyRegion(out, shape, start, tiles[Flatten(c, g.Extent())], g.Chunks, local, count, 1); err != nil {
			t.Fatalf("join chunk %v: %v", c, err)
		}
	}
	if !bytes.Equal(out, plane) {
		t.Errorf("reassembled plane mismatch:\ngot:  %v\nwant: %v", out, plane)
	}
}

func TestCopyRegionErrors(t *testing.T) {
	buf := make([]byte, 4)
	if err := CopyRegion(buf, []int{2, 2}, []int{0, 0}, buf, []int{2, 2}, []int{1, 1}, []int{2, 2}, 1); err == nil {
		t.Error("expected error for source out of range")
	}
	if err := CopyRegion(buf, []int{2, 2}, []int{0, 0}, buf[:2], []int{2, 2}, []int{0, 0}, []int{1, 1}, 1); err == nil {
		t.Error("expected error for short source buffer")
	}
	if err := CopyRegion(buf, []int{4}, []int{0}, buf, []int{2, 2}, []int{0, 0}, []int{1, 1}, 1); err == nil {
		t.Error("expected error for rank mismatch")
	}
}
