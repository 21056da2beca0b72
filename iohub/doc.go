// Package iohub reads and writes multi-dimensional microscopy datasets
// through one API, whatever their on-disk layout.
//
// A dataset is a stack of 2-D planes addressed by a Coord over the plane
// index axes of its Metadata (for example T, C, Z), with the last two axes
// (Y, X) spanning each plane. Three layouts are supported:
//
//   - KindChunked: a zarr v2 directory store with compressed chunks
//   - KindPaged: a Micro-Manager style acquisition directory of multi-page
//     TIFF files with a metadata file, split at a size threshold
//   - KindMultiPage: a single multi-page TIFF file
//
// Metadata is versioned. Older records are migrated to CurrentVersion
// when a dataset is opened, and every record is validated before it is
// used or stored.
//
// # Reading
//
//	ds, err := iohub.OpenDataset("acq/")
//	if err != nil {
//		return err
//	}
//	defer ds.Close()
//	for c, err := range ds.Written() {
//		p, err := ds.Read(c)
//		...
//	}
//
// # Writing
//
//	md := iohub.NewMetadata(iohub.Uint16,
//		iohub.Axis{Name: "T", Size: 10},
//		iohub.Axis{Name: "C", Size: 2},
//		iohub.Axis{Name: "Y", Size: 512},
//		iohub.Axis{Name: "X", Size: 512},
//	)
//	md.Channels = []iohub.Channel{{Name: "GFP"}, {Name: "RFP"}}
//	ds, err := iohub.CreateDataset("out.zarr", md)
//	...
//	err = ds.Write(iohub.Coord{t, c}, plane)
//
// # Converting
//
//	report, err := iohub.Convert(ctx, src, iohub.Destination{Location: "out.zarr"},
//		iohub.WithSubset("C", 0),
//		iohub.WithDType(iohub.Uint8),
//	)
//
// Convert streams one plane at a time. Planes that cannot be copied are
// listed in the report instead of failing the run.
//
// # Errors
//
// Errors match one of the Err* kinds with errors.Is. Errors tied to a
// dataset are *Error values carrying the operation, location and plane
// coordinate; KindOf returns the kind of any error.
//
// # Concurrency
//
// Datasets opened read-only may be read from several goroutines, and
// several read-only datasets may be opened on the same location. A
// writable dataset must have a single owner, and a location must have at
// most one writer.
package iohub
