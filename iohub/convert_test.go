package iohub

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func openSource(t *testing.T, loc string) *Dataset {
	t.Helper()
	src, err := OpenDataset(loc)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src
}

func TestConvertPagedToChunked(t *testing.T) {
	md := newMetadata()
	srcLoc := location(t, KindPaged)
	writeAll(t, srcLoc, md, nil, WithBackend(KindPaged))
	src := openSource(t, srcLoc)

	var logs bytes.Buffer
	dstLoc := location(t, KindChunked)
	report, err := Convert(context.Background(), src, Destination{Location: dstLoc},
		WithConvertLogger(zerolog.New(&logs)))
	require.NoError(t, err)
	require.True(t, report.Complete)
	require.Equal(t, 4, report.Succeeded)
	require.Empty(t, report.Skipped)
	require.Equal(t, int64(4*md.PlaneBytes()), report.BytesWritten)
	require.NotEqual(t, uuid.Nil, report.ID)
	require.Contains(t, report.String(), "4 planes")
	require.Contains(t, logs.String(), "conversion finished")

	dst, err := OpenDataset(dstLoc)
	require.NoError(t, err)
	defer dst.Close()
	require.Equal(t, KindChunked, dst.Kind())

	got := dst.Metadata()
	require.Equal(t, CurrentVersion, got.Version)
	require.Equal(t, &Producer{Name: "iohub", Version: Version}, got.Producer)
	require.Equal(t, md.Axes, got.Axes)
	require.Equal(t, []string{"GFP", "RFP"}, got.ChannelNames())

	var order []Coord
	for c, err := range dst.Written() {
		require.NoError(t, err)
		p, err := dst.Read(c)
		require.NoError(t, err)
		require.Equal(t, testPlane(md, c).Data, p.Data)
		order = append(order, c)
	}
	require.Equal(t, []Coord{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, order)
}

func TestConvertAllKinds(t *testing.T) {
	for _, from := range allKinds {
		for _, to := range allKinds {
			t.Run(string(from)+"-"+string(to), func(t *testing.T) {
				md := newMetadata()
				srcLoc := location(t, from)
				writeAll(t, srcLoc, md, nil, WithBackend(from))
				src := openSource(t, srcLoc)

				dstLoc := location(t, to)
				report, err := Convert(context.Background(), src, Destination{Location: dstLoc, Kind: to})
				require.NoError(t, err)
				require.True(t, report.Complete)
				require.Equal(t, 4, report.Succeeded)

				dst, err := OpenDataset(dstLoc)
				require.NoError(t, err)
				defer dst.Close()
				require.Equal(t, to, dst.Kind())
				require.True(t, dst.IsComplete())
				for _, c := range allCoords(md) {
					p, err := dst.Read(c)
					require.NoError(t, err)
					require.Equal(t, testPlane(md, c).Data, p.Data)
				}
			})
		}
	}
}

func TestConvertSkipsCorruptChunk(t *testing.T) {
	md := newMetadata()
	srcLoc := location(t, KindChunked)
	writeAll(t, srcLoc, md, nil)
	require.NoError(t, os.WriteFile(filepath.Join(srcLoc, "0", "1", "0", "0", "0"), []byte("garbage"), 0o644))
	src := openSource(t, srcLoc)

	report, err := Convert(context.Background(), src, Destination{Location: location(t, KindChunked)})
	require.NoError(t, err)
	require.True(t, report.Complete)
	require.Equal(t, 3, report.Succeeded)
	require.Len(t, report.Skipped, 1)
	require.Equal(t, Coord{1, 0}, report.Skipped[0].Coord)
	require.Equal(t, ErrCorruptData, report.Skipped[0].Kind)
	require.Contains(t, report.String(), "1 skipped")
}

func TestConvertSkipsTruncatedPage(t *testing.T) {
	md := newMetadata()
	srcLoc := location(t, KindPaged)
	writeAll(t, srcLoc, md, nil, WithBackend(KindPaged))

	// The strip of the last page ends the file.
	name := filepath.Join(srcLoc, "acq_MMStack.ome.tif")
	st, err := os.Stat(name)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(name, st.Size()-8))
	src := openSource(t, srcLoc)

	dstLoc := location(t, KindChunked)
	report, err := Convert(context.Background(), src, Destination{Location: dstLoc})
	require.NoError(t, err)
	require.Equal(t, 3, report.Succeeded)
	require.Len(t, report.Skipped, 1)
	require.Equal(t, Coord{1, 1}, report.Skipped[0].Coord)
	require.ErrorIs(t, report.Skipped[0].Err, ErrCorruptData)

	dst, err := OpenDataset(dstLoc)
	require.NoError(t, err)
	defer dst.Close()
	require.False(t, dst.IsComplete())
	_, err = dst.Read(Coord{1, 1})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConvertSubset(t *testing.T) {
	md := newMetadata()
	srcLoc := location(t, KindChunked)
	writeAll(t, srcLoc, md, nil)
	src := openSource(t, srcLoc)

	dstLoc := location(t, KindMultiPage)
	report, err := Convert(context.Background(), src,
		Destination{Location: dstLoc, Kind: KindMultiPage},
		WithSubset("C", 1))
	require.NoError(t, err)
	require.Equal(t, 2, report.Succeeded)

	dst, err := OpenDataset(dstLoc)
	require.NoError(t, err)
	defer dst.Close()
	got := dst.Metadata()
	require.Equal(t, 1, got.Axes[1].Size)
	require.Equal(t, []string{"RFP"}, got.ChannelNames())
	for tp := range 2 {
		p, err := dst.Read(Coord{tp, 0})
		require.NoError(t, err)
		require.Equal(t, testPlane(md, Coord{tp, 1}).Data, p.Data)
	}
}

func TestConvertSubsetReorders(t *testing.T) {
	md := newMetadata()
	srcLoc := location(t, KindChunked)
	writeAll(t, srcLoc, md, nil)
	src := openSource(t, srcLoc)

	dstLoc := location(t, KindChunked)
	_, err := Convert(context.Background(), src, Destination{Location: dstLoc},
		WithSubset("T", 1, 0))
	require.NoError(t, err)

	dst, err := OpenDataset(dstLoc)
	require.NoError(t, err)
	defer dst.Close()
	p, err := dst.Read(Coord{0, 1})
	require.NoError(t, err)
	require.Equal(t, testPlane(md, Coord{1, 1}).Data, p.Data)
}

func TestConvertDType(t *testing.T) {
	md := newMetadata()
	srcLoc := location(t, KindChunked)
	writeAll(t, srcLoc, md, nil)
	src := openSource(t, srcLoc)

	dstLoc := location(t, KindChunked)
	report, err := Convert(context.Background(), src, Destination{Location: dstLoc}, WithDType(Uint8))
	require.NoError(t, err)
	require.Equal(t, int64(4*6*5), report.BytesWritten)

	dst, err := OpenDataset(dstLoc)
	require.NoError(t, err)
	defer dst.Close()
	require.Equal(t, Uint8, dst.Metadata().DType)

	p, err := dst.Read(Coord{0, 0})
	require.NoError(t, err)
	require.Equal(t, Uint8, p.DType)
	// Every source sample is at least 1000 and saturates.
	require.Equal(t, bytes.Repeat([]byte{255}, 30), p.Data)
}

func TestConvertCancelled(t *testing.T) {
	md := newMetadata()
	srcLoc := location(t, KindChunked)
	writeAll(t, srcLoc, md, nil)
	src := openSource(t, srcLoc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dstLoc := location(t, KindChunked)
	report, err := Convert(ctx, src, Destination{Location: dstLoc})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	require.False(t, report.Complete)
	require.Zero(t, report.Succeeded)
	require.Contains(t, report.String(), "incomplete")

	// The destination is closed, not removed.
	dst, err := OpenDataset(dstLoc)
	require.NoError(t, err)
	defer dst.Close()
	require.Zero(t, dst.NumWritten())
}

func TestConvertFatalErrors(t *testing.T) {
	md := newMetadata()
	srcLoc := location(t, KindChunked)
	writeAll(t, srcLoc, md, nil)
	src := openSource(t, srcLoc)

	cases := map[string]struct {
		opts []ConvertOption
		kind error
	}{
		"plane axis":      {[]ConvertOption{WithSubset("Y", 0)}, ErrSchema},
		"unknown axis":    {[]ConvertOption{WithSubset("Q", 0)}, ErrSchema},
		"empty subset":    {[]ConvertOption{WithSubset("C")}, ErrSchema},
		"duplicate index": {[]ConvertOption{WithSubset("C", 1, 1)}, ErrSchema},
		"bad index":       {[]ConvertOption{WithSubset("T", 2)}, ErrOutOfBounds},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			dstLoc := location(t, KindChunked)
			report, err := Convert(context.Background(), src, Destination{Location: dstLoc}, tc.opts...)
			require.ErrorIs(t, err, tc.kind)
			require.Zero(t, report.Succeeded)
			require.NoDirExists(t, dstLoc)
		})
	}

	t.Run("destination exists", func(t *testing.T) {
		_, err := Convert(context.Background(), src, Destination{Location: srcLoc})
		require.ErrorIs(t, err, ErrAlreadyExists)
	})
}

func TestConvertRefusesOverlappingDestination(t *testing.T) {
	md := newMetadata()
	srcLoc := location(t, KindChunked)
	writeAll(t, srcLoc, md, nil)
	src := openSource(t, srcLoc)

	for name, dst := range map[string]string{
		"same":      srcLoc,
		"unclean":   srcLoc + "/./0/..",
		"nested":    filepath.Join(srcLoc, "copy.zarr"),
		"enclosing": filepath.Dir(srcLoc),
	} {
		t.Run(name, func(t *testing.T) {
			opts := []Option{WithOverwrite()}
			_, err := Convert(context.Background(), src, Destination{Location: dst, Options: opts})
			require.ErrorIs(t, err, ErrAlreadyExists)

			ds, err := OpenDataset(srcLoc)
			require.NoError(t, err)
			require.Equal(t, 4, ds.NumWritten())
			require.NoError(t, ds.Close())
		})
	}

	// A sibling sharing the name as a prefix is a different location.
	report, err := Convert(context.Background(), src, Destination{Location: srcLoc + "2"})
	require.NoError(t, err)
	require.Equal(t, 4, report.Succeeded)
}
