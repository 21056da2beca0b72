package dtype

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// DType identifies the numeric type of a pixel sample.
type DType uint8

// Supported pixel datatypes.
const (
	Invalid DType = iota
	Uint8
	Uint16
	Uint32
	Uint64
	Int8
	Int16
	Int32
	Int64
	Float32
	Float64
)

// TIFF SampleFormat values.
const (
	SampleFormatUint  = 1
	SampleFormatInt   = 2
	SampleFormatFloat = 3
)

var names = [...]string{
	Invalid: "invalid",
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Uint64:  "uint64",
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Int64:   "int64",
	Float32: "float32",
	Float64: "float64",
}

// String returns the dtype name, e.g. "uint16".
func (d DType) String() string {
	if int(d) < len(names) {
		return names[d]
	}
	return fmt.Sprintf("dtype(%d)", uint8(d))
}

// Valid reports whether d is a supported dtype.
func (d DType) Valid() bool {
	return d > Invalid && d <= Float64
}

// Size returns the size of one sample in bytes, or 0 for an invalid dtype.
func (d DType) Size() int {
	switch d {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Uint64, Int64, Float64:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether d is a floating-point dtype.
func (d DType) IsFloat() bool {
	return d == Float32 || d == Float64
}

// IsSigned reports whether d is a signed integer dtype.
func (d DType) IsSigned() bool {
	return d >= Int8 && d <= Int64
}

// Range returns the representable value range of d. Float dtypes report
// their finite extremes.
func (d DType) Range() (lo, hi float64) {
	switch d {
	case Uint8:
		return 0, math.MaxUint8
	case Uint16:
		return 0, math.MaxUint16
	case Uint32:
		return 0, math.MaxUint32
	case Uint64:
		return 0, math.MaxUint64
	case Int8:
		return math.MinInt8, math.MaxInt8
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Int32:
		return math.MinInt32, math.MaxInt32
	case Int64:
		return math.MinInt64, math.MaxInt64
	case Float32:
		return -math.MaxFloat32, math.MaxFloat32
	case Float64:
		return -math.MaxFloat64, math.MaxFloat64
	default:
		return 0, 0
	}
}

// Parse parses a dtype name ("uint16") or a numpy-style type string
// ("u2", "<u2", "|u1"). Byte order markers are accepted and ignored; use
// ParseZarr when the byte order matters.
func Parse(s string) (DType, error) {
	for d := Uint8; d <= Float64; d++ {
		if names[d] == s {
			return d, nil
		}
	}
	d, _, err := ParseZarr(s)
	return d, err
}

// ParseZarr parses a zarr v2 dtype string such as "<u2" or "|u1" and
// returns the dtype and the byte order of the stored samples.
func ParseZarr(s string) (DType, binary.ByteOrder, error) {
	var order binary.ByteOrder = binary.LittleEndian
	code := s
	if len(s) == 3 {
		switch s[0] {
		case '<', '|', '=':
		case '>':
			order = binary.BigEndian
		default:
			return Invalid, nil, fmt.Errorf("invalid dtype: %q", s)
		}
		code = s[1:]
	}
	if len(code) != 2 {
		return Invalid, nil, fmt.Errorf("invalid dtype: %q", s)
	}

	var d DType
	switch code {
	case "u1":
		d = Uint8
	case "u2":
		d = Uint16
	case "u4":
		d = Uint32
	case "u8":
		d = Uint64
	case "i1":
		d = Int8
	case "i2":
		d = Int16
	case "i4":
		d = Int32
	case "i8":
		d = Int64
	case "f4":
		d = Float32
	case "f8":
		d = Float64
	default:
		return Invalid, nil, fmt.Errorf("unsupported or unknown dtype: %q", s)
	}
	return d, order, nil
}

// Zarr returns the little-endian zarr v2 dtype string for d.
func (d DType) Zarr() string {
	var kind string
	switch {
	case d.IsFloat():
		kind = "f"
	case d.IsSigned():
		kind = "i"
	default:
		kind = "u"
	}
	prefix := "<"
	if d.Size() == 1 {
		prefix = "|"
	}
	return fmt.Sprintf("%s%s%d", prefix, kind, d.Size())
}

// TIFF returns the BitsPerSample and SampleFormat tag values for d.
func (d DType) TIFF() (bitsPerSample, sampleFormat uint16) {
	format := uint16(SampleFormatUint)
	switch {
	case d.IsFloat():
		format = SampleFormatFloat
	case d.IsSigned():
		format = SampleFormatInt
	}
	return uint16(d.Size() * 8), format
}

// FromTIFF maps TIFF BitsPerSample and SampleFormat tag values to a DType.
// A missing SampleFormat tag (0) means unsigned integer.
func FromTIFF(bitsPerSample, sampleFormat uint16) (DType, error) {
	if sampleFormat == 0 {
		sampleFormat = SampleFormatUint
	}
	for d := Uint8; d <= Float64; d++ {
		bits, format := d.TIFF()
		if bits == bitsPerSample && format == sampleFormat {
			return d, nil
		}
	}
	return Invalid, fmt.Errorf("unsupported TIFF sample: %d bits, format %d", bitsPerSample, sampleFormat)
}

// MarshalText implements encoding.TextMarshaler.
func (d DType) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid dtype %d", uint8(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DType) UnmarshalText(text []byte) error {
	parsed, err := Parse(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
