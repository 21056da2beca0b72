package iohub

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aliddell/go-iohub/internal/dtype"
	"github.com/aliddell/go-iohub/internal/tiff"
)

// writeTIFF writes n 6x5 uint16 pages whose samples start at 1000*(i+1).
// desc is stored on the first page only.
func writeTIFF(t *testing.T, path string, n int, desc string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w, err := tiff.NewWriter(f)
	require.NoError(t, err)
	for i := range n {
		spec := tiff.PageSpec{Width: 5, Height: 6, DType: dtype.Uint16, Data: pageData(i)}
		if i == 0 {
			spec.Description = desc
		}
		require.NoError(t, w.WritePage(spec))
	}
	require.NoError(t, w.Close())
}

func pageData(i int) []byte {
	values := make([]uint16, 30)
	for j := range values {
		values[j] = uint16(1000*(i+1) + j)
	}
	data, _ := dtype.Encode(values)
	return data
}

func TestDetect(t *testing.T) {
	reg := DefaultRegistry()
	require.Equal(t, []Kind{KindMultiPage, KindChunked, KindPaged}, reg.Kinds())

	for _, kind := range allKinds {
		loc := location(t, kind)
		writeAll(t, loc, newMetadata(), []Coord{{0, 0}}, WithBackend(kind))
		b, err := reg.Detect(loc)
		require.NoError(t, err)
		require.Equal(t, kind, b.Kind())
	}

	only := NewRegistry(ChunkedStore{})
	loc := location(t, KindPaged)
	writeAll(t, loc, newMetadata(), []Coord{{0, 0}}, WithBackend(KindPaged))
	_, err := only.Detect(loc)
	require.ErrorIs(t, err, ErrUnsupportedLayout)
	_, err = OpenDataset(loc, WithRegistry(only))
	require.ErrorIs(t, err, ErrUnsupportedLayout)
	_, err = only.Lookup(KindPaged)
	require.ErrorIs(t, err, ErrUnsupportedLayout)
}

func TestModeString(t *testing.T) {
	require.Equal(t, "read", ModeRead.String())
	require.Equal(t, "append", ModeAppend.String())
	require.True(t, ModeWrite.Writable())
	require.False(t, ModeRead.Writable())
}

func TestPagedSummaryMetadata(t *testing.T) {
	loc := filepath.Join(t.TempDir(), "run1")
	require.NoError(t, os.MkdirAll(loc, 0o755))
	summary := `{
		"version": 1,
		"frames": 2, "channels": 2,
		"height": 6, "width": 5,
		"pixel_type": "GRAY16",
		"channel_names": ["DAPI", "GFP"],
		"pixel_size_um": 0.5
	}`
	require.NoError(t, os.WriteFile(filepath.Join(loc, "run1_metadata.txt"), []byte(summary), 0o644))
	writeTIFF(t, filepath.Join(loc, "run1_MMStack.ome.tif"), 4, "")

	ds, err := OpenDataset(loc)
	require.NoError(t, err)
	defer ds.Close()
	require.Equal(t, KindPaged, ds.Kind())

	md := ds.Metadata()
	require.Equal(t, CurrentVersion, md.Version)
	require.Equal(t, []int{2, 1, 2, 1}, md.IndexShape())
	require.Equal(t, []string{"DAPI", "GFP"}, md.ChannelNames())
	require.Equal(t, Uint16, md.DType)

	// Pages without coordinates fill planes in axis-major order.
	for i, c := range []Coord{{0, 0, 0, 0}, {0, 0, 1, 0}, {1, 0, 0, 0}, {1, 0, 1, 0}} {
		p, err := ds.Read(c)
		require.NoError(t, err)
		require.Equal(t, pageData(i), p.Data, "plane %s", c)
	}
	require.True(t, ds.IsComplete())
}

func TestPagedStagePositions(t *testing.T) {
	loc := filepath.Join(t.TempDir(), "grid")
	require.NoError(t, os.MkdirAll(loc, 0o755))
	summary := `{
		"version": 1,
		"positions": 2,
		"height": 6, "width": 5,
		"pixel_type": "GRAY16",
		"stage_positions": [
			{"Label": "1-Pos_000_000", "GridRow": 0, "GridCol": 0,
			 "DevicePositions": [{"Device": "XYStage", "Position_um": [100, 250.5]}]},
			{"Label": "1-Pos_000_001", "GridRow": 0, "GridCol": 1,
			 "DevicePositions": [{"Device": "XYStage", "Position_um": [400, 250.5]}]}
		]
	}`
	require.NoError(t, os.WriteFile(filepath.Join(loc, "grid_metadata.txt"), []byte(summary), 0o644))
	writeTIFF(t, filepath.Join(loc, "grid_MMStack.ome.tif"), 2, "")

	ds, err := OpenDataset(loc)
	require.NoError(t, err)
	defer ds.Close()
	want := []StagePosition{
		{Label: "1-Pos_000_000", Devices: map[string][]float64{"XYStage": {100, 250.5}}},
		{Label: "1-Pos_000_001", GridCol: 1, Devices: map[string][]float64{"XYStage": {400, 250.5}}},
	}
	require.Equal(t, want, ds.Metadata().Positions)

	// Positions follow a subset of the position axis into the copy.
	dstLoc := location(t, KindChunked)
	report, err := Convert(context.Background(), ds, Destination{Location: dstLoc}, WithSubset("P", 1))
	require.NoError(t, err)
	require.Equal(t, 1, report.Succeeded)
	dst, err := OpenDataset(dstLoc)
	require.NoError(t, err)
	defer dst.Close()
	require.Equal(t, want[1:], dst.Metadata().Positions)
}

func TestPagedSeveralAcquisitions(t *testing.T) {
	loc := filepath.Join(t.TempDir(), "mixed")
	require.NoError(t, os.MkdirAll(loc, 0o755))
	for _, name := range []string{"a_metadata.txt", "b_metadata.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(loc, name), []byte(`{}`), 0o644))
	}
	_, err := OpenDataset(loc)
	require.ErrorIs(t, err, ErrUnsupportedLayout)

	ds, err := OpenDataset(loc, WithPrefix("a"))
	if err == nil {
		ds.Close()
	}
	require.ErrorIs(t, err, ErrSchema)
}

func TestPagedCorruptFile(t *testing.T) {
	md := newMetadata()
	loc := location(t, KindPaged)
	writeAll(t, loc, md, nil, WithBackend(KindPaged))
	require.NoError(t, os.WriteFile(filepath.Join(loc, "acq_MMStack_1.ome.tif"), []byte("II*\x00\xff\xff\xff\x00"), 0o644))

	_, err := OpenDataset(loc)
	require.ErrorIs(t, err, ErrCorruptData)
}

func TestImageJHyperstack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hyper.tif")
	desc := "ImageJ=1.54f\nimages=6\nchannels=2\nslices=3\nhyperstack=true\nunit=micron\nspacing=0.25\n"
	writeTIFF(t, path, 6, desc)

	ds, err := OpenDataset(path)
	require.NoError(t, err)
	defer ds.Close()
	require.Equal(t, KindMultiPage, ds.Kind())

	md := ds.Metadata()
	require.Equal(t, []int{3, 2}, md.IndexShape())
	z := md.Axes[0]
	require.Equal(t, "Z", z.Name)
	require.Equal(t, AxisSpace, z.Type)
	require.Equal(t, "micrometer", z.Unit)
	require.InDelta(t, 0.25, z.Step, 1e-9)
	require.Equal(t, []string{"Channel 0", "Channel 1"}, md.ChannelNames())

	// Channels vary fastest.
	p, err := ds.Read(Coord{1, 0})
	require.NoError(t, err)
	require.Equal(t, pageData(2), p.Data)
	p, err = ds.Read(Coord{2, 1})
	require.NoError(t, err)
	require.Equal(t, pageData(5), p.Data)
}

func TestPlainTIFF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.tiff")
	writeTIFF(t, path, 3, "")

	ds, err := OpenDataset(path)
	require.NoError(t, err)
	defer ds.Close()

	md := ds.Metadata()
	require.Equal(t, "Z", md.Axes[0].Name)
	require.Equal(t, []int{3}, md.IndexShape())
	for i := range 3 {
		p, err := ds.Read(Coord{i})
		require.NoError(t, err)
		require.Equal(t, pageData(i), p.Data)
	}
}

func TestMultiPageDeflate(t *testing.T) {
	md := newMetadata()
	loc := location(t, KindMultiPage)
	writeAll(t, loc, md, nil, WithBackend(KindMultiPage), WithDeflate(6))

	ds, err := OpenDataset(loc)
	require.NoError(t, err)
	defer ds.Close()
	for _, c := range allCoords(md) {
		p, err := ds.Read(c)
		require.NoError(t, err)
		require.Equal(t, testPlane(md, c).Data, p.Data)
	}
}

func TestPageTimes(t *testing.T) {
	md := NewMetadata(Uint16,
		Axis{Name: "T", Size: 2},
		Axis{Name: "Y", Size: 6},
		Axis{Name: "X", Size: 5},
	)
	desc, err := md.Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "timed.tif")
	f, err := os.Create(path)
	require.NoError(t, err)
	w, err := tiff.NewWriter(f)
	require.NoError(t, err)
	for i, stamp := range []string{"yesterday", "2024-03-01T12:00:00Z"} {
		spec := tiff.PageSpec{Width: 5, Height: 6, DType: dtype.Uint16, Data: pageData(i)}
		if i == 0 {
			spec.Description = string(desc)
		}
		spec.MicroManager = fmt.Sprintf(`{"Coords":{"T":%d},"Time":%q}`, i, stamp)
		require.NoError(t, w.WritePage(spec))
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	var logs bytes.Buffer
	ds, err := OpenDataset(path, WithLogger(zerolog.New(&logs).Level(zerolog.DebugLevel)))
	require.NoError(t, err)
	defer ds.Close()

	got := ds.Metadata()
	_, ok := got.Timestamp(0, 0)
	require.False(t, ok)
	at, ok := got.Timestamp(1, 0)
	require.True(t, ok)
	require.True(t, at.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
	require.Contains(t, logs.String(), "unparsable page time")
	require.Contains(t, logs.String(), `"time":"yesterday"`)
}
