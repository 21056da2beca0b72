package tiff

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Tag numbers used by this package.
const (
	TagImageWidth       uint16 = 256
	TagImageLength      uint16 = 257
	TagBitsPerSample    uint16 = 258
	TagCompression      uint16 = 259
	TagPhotometric      uint16 = 262
	TagImageDescription uint16 = 270
	TagStripOffsets     uint16 = 273
	TagSamplesPerPixel  uint16 = 277
	TagRowsPerStrip     uint16 = 278
	TagStripByteCounts  uint16 = 279
	TagPlanarConfig     uint16 = 284
	TagPredictor        uint16 = 317
	TagSampleFormat     uint16 = 339
	TagMicroManager     uint16 = 51123
)

// Compression schemes.
const (
	CompressionNone        uint16 = 1
	CompressionDeflate     uint16 = 8
	CompressionDeflateOld  uint16 = 32946
	photometricBlackIsZero uint16 = 1
)

// Field types.
const (
	TypeByte      uint16 = 1
	TypeASCII     uint16 = 2
	TypeShort     uint16 = 3
	TypeLong      uint16 = 4
	TypeRational  uint16 = 5
	TypeSByte     uint16 = 6
	TypeUndefined uint16 = 7
	TypeSShort    uint16 = 8
	TypeSLong     uint16 = 9
	TypeSRational uint16 = 10
	TypeFloat     uint16 = 11
	TypeDouble    uint16 = 12
	TypeLong8     uint16 = 16
	TypeSLong8    uint16 = 17
	TypeIFD8      uint16 = 18
)

// typeSize returns the size in bytes of one value of a field type.
func typeSize(typ uint16) int {
	switch typ {
	case TypeByte, TypeASCII, TypeSByte, TypeUndefined:
		return 1
	case TypeShort, TypeSShort:
		return 2
	case TypeLong, TypeSLong, TypeFloat:
		return 4
	case TypeRational, TypeSRational, TypeDouble, TypeLong8, TypeSLong8, TypeIFD8:
		return 8
	default:
		return 0
	}
}

// Entry is one decoded IFD entry with its value bytes resolved.
type Entry struct {
	Tag   uint16
	Type  uint16
	Count uint64
	Raw   []byte // value bytes in file byte order

	order binary.ByteOrder
}

// Uints returns the entry values as unsigned integers. Only integer field
// types are accepted.
func (e *Entry) Uints() ([]uint64, error) {
	size := typeSize(e.Type)
	switch e.Type {
	case TypeByte, TypeShort, TypeLong, TypeLong8, TypeIFD8, TypeUndefined:
	default:
		return nil, fmt.Errorf("tag %d: type %d is not an unsigned integer", e.Tag, e.Type)
	}
	if size == 0 || uint64(len(e.Raw))/uint64(size) < e.Count {
		return nil, fmt.Errorf("tag %d: %d bytes for %d values", e.Tag, len(e.Raw), e.Count)
	}

	out := make([]uint64, e.Count)
	for i := range out {
		b := e.Raw[i*size : (i+1)*size]
		switch size {
		case 1:
			out[i] = uint64(b[0])
		case 2:
			out[i] = uint64(e.order.Uint16(b))
		case 4:
			out[i] = uint64(e.order.Uint32(b))
		case 8:
			out[i] = e.order.Uint64(b)
		}
	}
	return out, nil
}

// Uint returns the first value of an integer entry.
func (e *Entry) Uint() (uint64, error) {
	v, err := e.Uints()
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("tag %d: no values", e.Tag)
	}
	return v[0], nil
}

// String returns an ASCII or BYTE entry as text without trailing NULs.
func (e *Entry) String() string {
	return strings.TrimRight(string(e.Raw), "\x00")
}

// Float returns the first value of a FLOAT, DOUBLE or RATIONAL entry.
func (e *Entry) Float() (float64, error) {
	switch e.Type {
	case TypeFloat:
		if len(e.Raw) >= 4 {
			return float64(math.Float32frombits(e.order.Uint32(e.Raw))), nil
		}
	case TypeDouble:
		if len(e.Raw) >= 8 {
			return math.Float64frombits(e.order.Uint64(e.Raw)), nil
		}
	case TypeRational:
		if len(e.Raw) >= 8 {
			num, den := e.order.Uint32(e.Raw), e.order.Uint32(e.Raw[4:])
			if den == 0 {
				return 0, fmt.Errorf("tag %d: zero denominator", e.Tag)
			}
			return float64(num) / float64(den), nil
		}
	default:
		return 0, fmt.Errorf("tag %d: type %d is not a real number", e.Tag, e.Type)
	}
	return 0, fmt.Errorf("tag %d: short value", e.Tag)
}
