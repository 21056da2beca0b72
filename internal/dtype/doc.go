// Package dtype provides pixel datatype handling and conversion.
//
// Every plane moving through the library is a flat little-endian byte
// buffer tagged with a [DType]. This package maps that tag to and from the
// encodings used on disk and converts buffers between datatypes.
//
// # Type Mapping
//
//	DType    | Zarr   | TIFF (BitsPerSample, SampleFormat) | Go type
//	---------|--------|------------------------------------|--------
//	uint8    | |u1    | 8, 1                               | uint8
//	uint16   | <u2    | 16, 1                              | uint16
//	uint32   | <u4    | 32, 1                              | uint32
//	uint64   | <u8    | 64, 1                              | uint64
//	int8     | |i1    | 8, 2                               | int8
//	int16    | <i2    | 16, 2                              | int16
//	int32    | <i4    | 32, 2                              | int32
//	int64    | <i8    | 64, 2                              | int64
//	float32  | <f4    | 32, 3                              | float32
//	float64  | <f8    | 64, 3                              | float64
//
// Zarr records may also declare big-endian ('>') types; [ParseZarr] reports
// the byte order so callers can normalize with [SwapBytes].
//
// # Conversion
//
// [Convert] is a saturating cast: integers are clamped to the target range,
// floats are rounded half away from zero before clamping, and NaN becomes 0.
//
//	out, err := dtype.Convert(raw, dtype.Uint16, dtype.Uint8)
//
// [Decode] and [Encode] move between byte buffers and typed Go slices:
//
//	values, err := dtype.Decode[uint16](dtype.Uint16, raw)
//	raw, dt := dtype.Encode([]float32{1, 2, 3})
//
// # Key Functions
//
//   - [Parse]: Parses a dtype name or numpy-style string
//   - [ParseZarr]: Parses a zarr dtype string including byte order
//   - [FromTIFF]: Maps TIFF sample tags to a DType
//   - [Convert]: Saturating conversion between dtypes
//   - [Decode], [Encode], [Of]: Typed access to byte buffers
package dtype
