// Package alloc manages file space for the multi-page image writer.
//
// Every structure the writer emits (image file directories, out-of-line tag
// values, strip data) must be placed at a distinct file offset. TIFF
// additionally requires structures to start on a word boundary. The
// [Allocator] hands out those offsets and tracks file growth so a writer can
// decide whether the next page still fits under a size limit.
//
// # Allocator
//
//   - Append-only allocation at the current end-of-file address
//   - Aligned allocation for IFDs and tag values
//   - Freed blocks are reused first-fit by [Allocator.Reuse]
//   - A soft size limit checked with [Allocator.Fits]
//
// # Usage
//
//	a := alloc.New(8)                   // after the 8-byte TIFF header
//	ifd := a.Alloc(n, 2, "ifd")         // word-aligned directory
//	strip := a.Alloc(size, 2, "strip")
//	if !a.Fits(nextPage) { ... }        // start a continuation file
package alloc
