package iohub

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestRoundTrip(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(string(kind), func(t *testing.T) {
			md := newMetadata()
			loc := location(t, kind)

			// Written order must not depend on write order.
			coords := allCoords(md)
			slices.Reverse(coords)
			writeAll(t, loc, md, coords, WithBackend(kind))

			ds, err := OpenDataset(loc)
			require.NoError(t, err)
			defer ds.Close()

			require.Equal(t, kind, ds.Kind())
			require.Equal(t, ModeRead, ds.Mode())
			require.Equal(t, 4, ds.NumWritten())
			require.True(t, ds.IsComplete())

			want := []Coord{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
			if diff := cmp.Diff(want, writtenCoords(t, ds)); diff != "" {
				t.Fatalf("Written mismatch (-want +got):\n%s", diff)
			}
			for _, c := range want {
				p, err := ds.Read(c)
				require.NoError(t, err)
				require.Equal(t, c, p.Coord)
				require.Equal(t, Uint16, p.DType)
				require.Equal(t, testPlane(md, c).Data, p.Data, "plane %s", c)
			}

			got := ds.Metadata()
			require.Equal(t, CurrentVersion, got.Version)
			if diff := cmp.Diff(md.Axes, got.Axes); diff != "" {
				t.Fatalf("axes mismatch (-want +got):\n%s", diff)
			}
			require.Equal(t, []string{"GFP", "RFP"}, got.ChannelNames())
			require.Equal(t, "00FF00", got.Channels[0].Display["color"])
		})
	}
}

func TestReadBounds(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(string(kind), func(t *testing.T) {
			md := newMetadata()
			loc := location(t, kind)
			writeAll(t, loc, md, nil, WithBackend(kind))

			ds, err := OpenDataset(loc)
			require.NoError(t, err)
			defer ds.Close()

			_, err = ds.Read(Coord{1, 1})
			require.NoError(t, err)

			for _, c := range []Coord{{2, 0}, {0, 2}, {-1, 0}, {0}, {0, 0, 0}} {
				_, err := ds.Read(c)
				require.ErrorIs(t, err, ErrOutOfBounds, "coordinate %s", c)
				require.Equal(t, ErrOutOfBounds, KindOf(err))
			}
		})
	}
}

func TestSparseWrites(t *testing.T) {
	for _, kind := range []Kind{KindPaged, KindMultiPage} {
		t.Run(string(kind), func(t *testing.T) {
			md := newMetadata()
			loc := location(t, kind)
			writeAll(t, loc, md, []Coord{{1, 1}, {0, 0}, {0, 1}}, WithBackend(kind))

			ds, err := OpenDataset(loc)
			require.NoError(t, err)
			defer ds.Close()

			require.Equal(t, []Coord{{0, 0}, {0, 1}, {1, 1}}, writtenCoords(t, ds))
			require.False(t, ds.IsComplete())
			_, err = ds.Read(Coord{1, 0})
			require.ErrorIs(t, err, ErrNotFound)

			ds2, err := OpenDataset(loc, WithExpectedPlanes(3))
			require.NoError(t, err)
			defer ds2.Close()
			require.Equal(t, 3, ds2.ExpectedPlanes())
			require.True(t, ds2.IsComplete())
		})
	}
}

func TestChunkTiling(t *testing.T) {
	md := newMetadata()
	loc := location(t, KindChunked)
	writeAll(t, loc, md, nil, WithChunks(2, 1, 4, 3))

	ds, err := OpenDataset(loc)
	require.NoError(t, err)
	defer ds.Close()

	for _, c := range allCoords(md) {
		p, err := ds.Read(c)
		require.NoError(t, err)
		require.Equal(t, testPlane(md, c).Data, p.Data, "plane %s", c)
	}

	// One time chunk, two channel chunks, 2x2 tiles per plane.
	entries, err := os.ReadDir(filepath.Join(loc, "0", "0"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestChunkReshapeBeforeWrite(t *testing.T) {
	loc := location(t, KindChunked)
	ds, err := CreateDataset(loc, newMetadata(), WithChunks(2, 1, 3, 5))
	require.NoError(t, err)

	readArray := func() arrayRecord {
		raw, err := os.ReadFile(filepath.Join(loc, "0", ".zarray"))
		require.NoError(t, err)
		var rec arrayRecord
		require.NoError(t, json.Unmarshal(raw, &rec))
		return rec
	}

	require.NoError(t, ds.UpdateMetadata(func(md *Metadata) error {
		md.Axes[0].Size = 3
		md.Axes[2].Size = 4
		md.DType = Uint8
		return nil
	}))
	rec := readArray()
	require.Equal(t, []int{2, 1, 3, 5}, rec.Chunks)
	require.Equal(t, []int{3, 2, 4, 5}, rec.Shape)
	require.Equal(t, "|u1", rec.DType)
	require.Len(t, rec.Filters, 1)
	require.Equal(t, 1, rec.Filters[0].ElementSize)

	// A chunk larger than the new axis is clipped.
	require.NoError(t, ds.UpdateMetadata(func(md *Metadata) error {
		md.Axes[2].Size = 2
		return nil
	}))
	require.Equal(t, []int{2, 1, 2, 5}, readArray().Chunks)

	values := []uint8{1, 2, 3, 4, 5, 250, 251, 252, 253, 254}
	p, err := PlaneOf(2, 5, values)
	require.NoError(t, err)
	require.NoError(t, ds.Write(Coord{2, 1}, p))
	require.NoError(t, ds.Close())

	ro, err := OpenDataset(loc)
	require.NoError(t, err)
	defer ro.Close()
	got, err := ro.Read(Coord{2, 1})
	require.NoError(t, err)
	require.Equal(t, p.Data, got.Data)
}

func TestChunkWrittenCoversWholeChunk(t *testing.T) {
	md := newMetadata()
	loc := location(t, KindChunked)
	writeAll(t, loc, md, []Coord{{0, 0}}, WithChunks(2, 1, 6, 5))

	ds, err := OpenDataset(loc)
	require.NoError(t, err)
	defer ds.Close()

	require.Equal(t, []Coord{{0, 0}, {1, 0}}, writtenCoords(t, ds))

	p, err := ds.Read(Coord{1, 0})
	require.NoError(t, err)
	require.Equal(t, make([]byte, len(p.Data)), p.Data)

	_, err = ds.Read(Coord{0, 1})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestChunkCodecs(t *testing.T) {
	cases := map[string][]Option{
		"uncompressed": {WithoutCompression(), WithFilters()},
		"lz4":          {WithCompressor(CodecConfig{ID: "lz4"})},
		"gzip":         {WithCompressor(CodecConfig{ID: "gzip", Level: 6})},
		"zlib":         {WithCompressor(CodecConfig{ID: "zlib", Level: 1})},
		"fletcher32":   {WithFilters(CodecConfig{ID: "shuffle"}, CodecConfig{ID: "fletcher32"})},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			md := newMetadata()
			loc := location(t, KindChunked)
			writeAll(t, loc, md, nil, opts...)

			ds, err := OpenDataset(loc)
			require.NoError(t, err)
			defer ds.Close()
			for _, c := range allCoords(md) {
				p, err := ds.Read(c)
				require.NoError(t, err)
				require.Equal(t, testPlane(md, c).Data, p.Data)
			}
		})
	}
}

func TestCorruptChunk(t *testing.T) {
	md := newMetadata()
	loc := location(t, KindChunked)
	writeAll(t, loc, md, nil)
	require.NoError(t, os.WriteFile(filepath.Join(loc, "0", "1", "0", "0", "0"), []byte("garbage"), 0o644))

	ds, err := OpenDataset(loc)
	require.NoError(t, err)
	defer ds.Close()

	_, err = ds.Read(Coord{1, 0})
	require.ErrorIs(t, err, ErrCorruptData)
	var e *Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, "read", e.Op)
	require.Equal(t, Coord{1, 0}, e.Coord)

	_, err = ds.Read(Coord{1, 1})
	require.NoError(t, err)
}

func TestPagedContinuationFiles(t *testing.T) {
	md := newMetadata()
	loc := location(t, KindPaged)
	writeAll(t, loc, md, nil, WithBackend(KindPaged), WithMaxFileSize(256))

	names, err := filepath.Glob(filepath.Join(loc, "*.ome.tif"))
	require.NoError(t, err)
	require.Len(t, names, 4)
	require.FileExists(t, filepath.Join(loc, "acq_MMStack_3.ome.tif"))
	require.FileExists(t, filepath.Join(loc, "acq_metadata.txt"))

	ds, err := OpenDataset(loc)
	require.NoError(t, err)
	defer ds.Close()
	for _, c := range allCoords(md) {
		p, err := ds.Read(c)
		require.NoError(t, err)
		require.Equal(t, testPlane(md, c).Data, p.Data)
	}
}

func TestAppend(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(string(kind), func(t *testing.T) {
			md := newMetadata()
			loc := location(t, kind)
			writeAll(t, loc, md, []Coord{{0, 0}, {0, 1}}, WithBackend(kind))

			ds, err := AppendDataset(loc, nil)
			require.NoError(t, err)
			require.Equal(t, ModeAppend, ds.Mode())
			require.Equal(t, 2, ds.NumWritten())
			p, err := ds.Read(Coord{0, 1})
			require.NoError(t, err)
			require.Equal(t, testPlane(md, Coord{0, 1}).Data, p.Data)

			for _, c := range []Coord{{1, 0}, {1, 1}} {
				require.NoError(t, ds.Write(c, testPlane(md, c)))
			}
			// Read back a plane written in this session.
			p, err = ds.Read(Coord{1, 1})
			require.NoError(t, err)
			require.Equal(t, testPlane(md, Coord{1, 1}).Data, p.Data)
			require.NoError(t, ds.Close())

			ds, err = OpenDataset(loc)
			require.NoError(t, err)
			defer ds.Close()
			require.True(t, ds.IsComplete())
			for _, c := range allCoords(md) {
				p, err := ds.Read(c)
				require.NoError(t, err)
				require.Equal(t, testPlane(md, c).Data, p.Data)
			}
		})
	}
}

func TestAppendCreatesMissing(t *testing.T) {
	md := newMetadata()
	loc := location(t, KindPaged)

	ds, err := AppendDataset(loc, md, WithBackend(KindPaged))
	require.NoError(t, err)
	require.NoError(t, ds.Write(Coord{0, 0}, testPlane(md, Coord{0, 0})))
	require.NoError(t, ds.Close())

	_, err = AppendDataset(filepath.Join(t.TempDir(), "none"), nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAppendLayoutMismatch(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(string(kind), func(t *testing.T) {
			md := newMetadata()
			loc := location(t, kind)
			writeAll(t, loc, md, []Coord{{0, 0}}, WithBackend(kind))

			other := newMetadata()
			other.Axes[0].Size = 3
			_, err := AppendDataset(loc, other)
			require.ErrorIs(t, err, ErrUnsupportedLayout)
			require.NotErrorIs(t, err, ErrImmutableLayout)
		})
	}
}

func TestCreateErrors(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(string(kind), func(t *testing.T) {
			md := newMetadata()
			loc := location(t, kind)
			writeAll(t, loc, md, []Coord{{0, 0}}, WithBackend(kind))

			_, err := CreateDataset(loc, md, WithBackend(kind))
			require.ErrorIs(t, err, ErrAlreadyExists)

			ds, err := CreateDataset(loc, md, WithBackend(kind), WithOverwrite())
			require.NoError(t, err)
			require.Equal(t, 0, ds.NumWritten())
			require.NoError(t, ds.Close())
		})
	}
}

func TestCreateRejectsInvalidMetadata(t *testing.T) {
	md := newMetadata()
	md.Axes[0].Size = 0
	loc := location(t, KindChunked)
	_, err := CreateDataset(loc, md)
	require.ErrorIs(t, err, ErrSchema)
	require.NoDirExists(t, loc)

	_, err = CreateDataset(loc, nil)
	require.ErrorIs(t, err, ErrSchema)

	_, err = CreateDataset(loc, newMetadata(), WithBackend("hdf5"))
	require.ErrorIs(t, err, ErrUnsupportedLayout)
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenDataset(filepath.Join(dir, "missing.zarr"))
	require.ErrorIs(t, err, ErrNotFound)

	notes := filepath.Join(dir, "notes")
	require.NoError(t, os.MkdirAll(notes, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(notes, "readme.md"), []byte("hello"), 0o644))
	_, err = OpenDataset(notes)
	require.ErrorIs(t, err, ErrUnsupportedLayout)

	fake := filepath.Join(dir, "fake.tif")
	require.NoError(t, os.WriteFile(fake, []byte("not a tiff at all"), 0o644))
	_, err = OpenDataset(fake)
	require.ErrorIs(t, err, ErrUnsupportedLayout)

	_, err = OpenDatasetMode(notes, ModeWrite)
	require.ErrorIs(t, err, ErrSchema)
}

func TestWriteErrors(t *testing.T) {
	md := newMetadata()
	loc := location(t, KindChunked)
	ds, err := CreateDataset(loc, md)
	require.NoError(t, err)
	defer ds.Close()

	require.ErrorIs(t, ds.Write(Coord{2, 0}, testPlane(md, Coord{1, 0})), ErrOutOfBounds)

	small := NewPlane(Uint16, 5, 5)
	require.ErrorIs(t, ds.Write(Coord{0, 0}, small), ErrShapeMismatch)

	wrong := NewPlane(Uint8, 6, 5)
	require.ErrorIs(t, ds.Write(Coord{0, 0}, wrong), ErrShapeMismatch)
	require.Equal(t, 0, ds.NumWritten())

	require.NoError(t, ds.Write(Coord{0, 0}, testPlane(md, Coord{0, 0})))
	require.NoError(t, ds.Close())

	ro, err := OpenDataset(loc)
	require.NoError(t, err)
	defer ro.Close()
	require.ErrorIs(t, ro.Write(Coord{0, 1}, testPlane(md, Coord{0, 1})), ErrReadOnly)
	require.ErrorIs(t, ro.UpdateMetadata(func(*Metadata) error { return nil }), ErrReadOnly)
}

func TestImmutableLayout(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(string(kind), func(t *testing.T) {
			md := newMetadata()
			loc := location(t, kind)
			ds, err := CreateDataset(loc, md, WithBackend(kind))
			require.NoError(t, err)

			// Layout changes are allowed until the first plane is stored.
			require.NoError(t, ds.UpdateMetadata(func(md *Metadata) error {
				md.Axes[0].Size = 3
				return nil
			}))
			require.Equal(t, 6, ds.ExpectedPlanes())
			require.NoError(t, ds.Write(Coord{2, 1}, testPlane(ds.Metadata(), Coord{2, 1})))

			err = ds.UpdateMetadata(func(md *Metadata) error {
				md.Axes[0].Size = 4
				return nil
			})
			require.ErrorIs(t, err, ErrImmutableLayout)
			err = ds.UpdateMetadata(func(md *Metadata) error {
				md.DType = Float32
				return nil
			})
			require.ErrorIs(t, err, ErrImmutableLayout)

			require.NoError(t, ds.UpdateMetadata(func(md *Metadata) error {
				md.Channels[1].Name = "mCherry"
				return nil
			}))
			at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			require.NoError(t, ds.SetTimestamp(2, 0, at))
			require.NoError(t, ds.Close())

			ro, err := OpenDataset(loc)
			require.NoError(t, err)
			defer ro.Close()
			got := ro.Metadata()
			require.Equal(t, 3, got.Axes[0].Size)
			require.Equal(t, []string{"GFP", "mCherry"}, got.ChannelNames())
			ts, ok := got.Timestamp(2, 0)
			require.True(t, ok)
			require.True(t, at.Equal(ts))
		})
	}
}

func TestClose(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(string(kind), func(t *testing.T) {
			md := newMetadata()
			loc := location(t, kind)
			ds, err := CreateDataset(loc, md, WithBackend(kind))
			require.NoError(t, err)
			require.NoError(t, ds.Write(Coord{0, 0}, testPlane(md, Coord{0, 0})))

			require.NoError(t, ds.Close())
			require.NoError(t, ds.Close())

			_, err = ds.Read(Coord{0, 0})
			require.ErrorIs(t, err, ErrClosed)
			require.ErrorIs(t, ds.Write(Coord{0, 1}, testPlane(md, Coord{0, 1})), ErrClosed)
			require.ErrorIs(t, ds.UpdateMetadata(func(*Metadata) error { return nil }), ErrClosed)
		})
	}
}

func TestReadRegion(t *testing.T) {
	md := newMetadata()
	loc := location(t, KindChunked)
	writeAll(t, loc, md, nil)

	ds, err := OpenDataset(loc)
	require.NoError(t, err)
	defer ds.Close()

	var got []Coord
	for p, err := range ds.ReadRegion(Region{Start: []int{0, 1}, Stop: []int{2, 2}}) {
		require.NoError(t, err)
		require.Equal(t, testPlane(md, p.Coord).Data, p.Data)
		got = append(got, p.Coord)
	}
	require.Equal(t, []Coord{{0, 1}, {1, 1}}, got)

	n := 0
	for p, err := range ds.ReadRegion(FullRegion(md)) {
		require.NoError(t, err)
		require.NotNil(t, p)
		n++
	}
	require.Equal(t, 4, n)

	for _, err := range ds.ReadRegion(Region{Start: []int{0, 0}, Stop: []int{3, 1}}) {
		require.ErrorIs(t, err, ErrOutOfBounds)
	}
}

func TestConcurrentReaders(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(string(kind), func(t *testing.T) {
			md := newMetadata()
			loc := location(t, kind)
			writeAll(t, loc, md, nil, WithBackend(kind))

			a, err := OpenDataset(loc)
			require.NoError(t, err)
			defer a.Close()
			b, err := OpenDataset(loc)
			require.NoError(t, err)
			defer b.Close()

			var g errgroup.Group
			for range 4 {
				for _, ds := range []*Dataset{a, b} {
					for _, c := range allCoords(md) {
						g.Go(func() error {
							p, err := ds.Read(c)
							if err != nil {
								return err
							}
							if !slices.Equal(p.Data, testPlane(md, c).Data) {
								return fmt.Errorf("plane %s: wrong samples", c)
							}
							return nil
						})
					}
				}
			}
			require.NoError(t, g.Wait())
		})
	}
}

func TestMetadataStableAcrossReopen(t *testing.T) {
	loc := location(t, KindMultiPage)
	md := newMetadata()
	writeAll(t, loc, md, nil, WithBackend(KindMultiPage))

	ds, err := OpenDataset(loc)
	require.NoError(t, err)
	first := ds.Metadata()
	require.NoError(t, ds.Close())

	ds, err = AppendDataset(loc, nil)
	require.NoError(t, err)
	require.NoError(t, ds.Close())

	ds, err = OpenDataset(loc)
	require.NoError(t, err)
	defer ds.Close()
	if diff := cmp.Diff(first, ds.Metadata()); diff != "" {
		t.Fatalf("metadata changed across reopen (-want +got):\n%s", diff)
	}
}

func TestMigrateOnOpen(t *testing.T) {
	md := newMetadata()
	loc := location(t, KindChunked)
	writeAll(t, loc, md, nil)

	v2 := `{"iohub": {
		"version": 2,
		"axes": [
			{"name": "T", "size": 2, "unit": "second"},
			{"name": "C", "size": 2},
			{"name": "Y", "size": 6, "unit": "micrometer", "scale": 0.5},
			{"name": "X", "size": 5, "unit": "micrometer", "scale": 0.5}
		],
		"channel_names": ["GFP", "RFP"],
		"dtype": "uint16",
		"timestamps": [{"t": 1, "p": 0, "time": "2024-03-01T12:00:00Z"}]
	}}`
	require.NoError(t, os.WriteFile(filepath.Join(loc, ".zattrs"), []byte(v2), 0o644))

	ds, err := OpenDataset(loc)
	require.NoError(t, err)
	defer ds.Close()

	got := ds.Metadata()
	require.Equal(t, CurrentVersion, got.Version)
	if diff := cmp.Diff(md.Axes, got.Axes); diff != "" {
		t.Fatalf("axes after migration (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{"GFP", "RFP"}, got.ChannelNames())
	require.Equal(t, Uint16, got.DType)
	at, ok := got.Timestamp(1, 0)
	require.True(t, ok)
	require.True(t, at.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))

	for _, c := range allCoords(md) {
		p, err := ds.Read(c)
		require.NoError(t, err)
		require.Equal(t, testPlane(md, c).Data, p.Data)
	}
}
