// Package tiff reads and writes multi-page TIFF files at the level of raw
// strips: it never decodes images, it only locates and returns the sample
// bytes of each page together with the page's shape and dtype.
//
// # Reading
//
// [Open] parses the header and walks the chain of image file directories
// (IFDs). Classic TIFF (4-byte offsets) and BigTIFF (8-byte offsets) are
// supported in either byte order:
//
//	f, err := tiff.Open(file, size)
//	for _, p := range f.Pages {
//	    raw, err := p.Read() // little-endian samples, row-major
//	}
//
// Reads go through io.ReaderAt at fixed offsets, so pages of one [File] can
// be read from several goroutines.
//
// # Writing
//
// [NewWriter] produces classic little-endian TIFF. Each page is written as
// one strip with its IFD placed before the pixel data:
//
//	w, err := tiff.NewWriter(file)
//	err = w.WritePage(tiff.PageSpec{Width: 512, Height: 512, DType: dtype.Uint16, Data: raw})
//	err = w.SetDescription(json)
//
// The first page always carries an ImageDescription tag so its text can be
// replaced after later pages were written.
//
// # Supported Tags
//
// ImageWidth, ImageLength, BitsPerSample, Compression (none, deflate),
// ImageDescription, StripOffsets, SamplesPerPixel (1), RowsPerStrip,
// StripByteCounts, SampleFormat and the Micro-Manager metadata tag 51123.
// Unknown tags are kept on the page as raw entries.
package tiff
