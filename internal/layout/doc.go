// Package layout provides chunk-grid arithmetic and strided region copies
// for N-dimensional arrays stored as row-major byte buffers.
//
// A chunked array of shape S is split into chunks of shape C. Chunk
// positions form a grid whose extent along dimension d is ceil(S[d]/C[d]).
// Edge chunks are stored at full chunk size; elements beyond the array
// boundary are padding and never read back.
//
// # Grid Math
//
// [Grid] maps between element indices, chunk positions and in-chunk
// offsets:
//
//	g, err := layout.NewGrid([]int{2, 3, 512, 512}, []int{1, 1, 256, 256})
//	chunk, offset := g.Locate([]int{1, 2, 300, 10})  // [1 2 1 0], [0 0 44 10]
//	origin := g.Origin(chunk)                          // [1 2 256 0]
//
// # Region Copying
//
// [CopyRegion] copies a rectangular box between two row-major buffers of
// different shapes. It works by recursively iterating through dimensions:
//
//  1. For each position in the current dimension, calculate the source and
//     destination offsets
//  2. Recurse to the next dimension until reaching the innermost dimension
//  3. At the innermost dimension, perform a contiguous memory copy
//
// This is used both to assemble a plane from the chunks that cover it and
// to splice a plane into a chunk before re-encoding it.
//
// # Key Types
//
//   - [Grid]: Array shape plus chunk shape
//   - [CopyRegion]: Strided box copy between buffers
//   - [Flatten], [Unflatten]: Row-major index conversion
package layout
