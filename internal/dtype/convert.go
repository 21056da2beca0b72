package dtype

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Number is the set of Go types that correspond to a DType.
type Number interface {
	uint8 | uint16 | uint32 | uint64 |
		int8 | int16 | int32 | int64 |
		float32 | float64
}

// Of returns the DType corresponding to T.
func Of[T Number]() DType {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case float32:
		return Float32
	case float64:
		return Float64
	default:
		return Invalid
	}
}

// sample holds one decoded value in the widest representation of its kind.
type sample struct {
	kind byte // 'u', 'i' or 'f'
	u    uint64
	i    int64
	f    float64
}

func load(b []byte, d DType) sample {
	switch d {
	case Uint8:
		return sample{kind: 'u', u: uint64(b[0])}
	case Uint16:
		return sample{kind: 'u', u: uint64(binary.LittleEndian.Uint16(b))}
	case Uint32:
		return sample{kind: 'u', u: uint64(binary.LittleEndian.Uint32(b))}
	case Uint64:
		return sample{kind: 'u', u: binary.LittleEndian.Uint64(b)}
	case Int8:
		return sample{kind: 'i', i: int64(int8(b[0]))}
	case Int16:
		return sample{kind: 'i', i: int64(int16(binary.LittleEndian.Uint16(b)))}
	case Int32:
		return sample{kind: 'i', i: int64(int32(binary.LittleEndian.Uint32(b)))}
	case Int64:
		return sample{kind: 'i', i: int64(binary.LittleEndian.Uint64(b))}
	case Float32:
		return sample{kind: 'f', f: float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))}
	default:
		return sample{kind: 'f', f: math.Float64frombits(binary.LittleEndian.Uint64(b))}
	}
}

// unsigned clamps s into [0, max].
func (s sample) unsigned(limit uint64) uint64 {
	switch s.kind {
	case 'u':
		return min(s.u, limit)
	case 'i':
		if s.i < 0 {
			return 0
		}
		return min(uint64(s.i), limit)
	default:
		if math.IsNaN(s.f) || s.f <= 0 {
			return 0
		}
		r := math.Round(s.f)
		if r >= float64(limit) {
			return limit
		}
		return uint64(r)
	}
}

// signed clamps s into [lo, hi].
func (s sample) signed(lo, hi int64) int64 {
	switch s.kind {
	case 'u':
		if s.u > uint64(hi) {
			return hi
		}
		return int64(s.u)
	case 'i':
		return max(lo, min(s.i, hi))
	default:
		if math.IsNaN(s.f) {
			return 0
		}
		r := math.Round(s.f)
		if r <= float64(lo) {
			return lo
		}
		if r >= float64(hi) {
			return hi
		}
		return int64(r)
	}
}

func (s sample) float() float64 {
	switch s.kind {
	case 'u':
		return float64(s.u)
	case 'i':
		return float64(s.i)
	default:
		return s.f
	}
}

func store(b []byte, d DType, s sample) {
	switch d {
	case Uint8:
		b[0] = uint8(s.unsigned(math.MaxUint8))
	case Uint16:
		binary.LittleEndian.PutUint16(b, uint16(s.unsigned(math.MaxUint16)))
	case Uint32:
		binary.LittleEndian.PutUint32(b, uint32(s.unsigned(math.MaxUint32)))
	case Uint64:
		binary.LittleEndian.PutUint64(b, s.unsigned(math.MaxUint64))
	case Int8:
		b[0] = uint8(int8(s.signed(math.MinInt8, math.MaxInt8)))
	case Int16:
		binary.LittleEndian.PutUint16(b, uint16(int16(s.signed(math.MinInt16, math.MaxInt16))))
	case Int32:
		binary.LittleEndian.PutUint32(b, uint32(int32(s.signed(math.MinInt32, math.MaxInt32))))
	case Int64:
		binary.LittleEndian.PutUint64(b, uint64(s.signed(math.MinInt64, math.MaxInt64)))
	case Float32:
		f := s.float()
		if !math.IsNaN(f) && !math.IsInf(f, 0) {
			f = max(-math.MaxFloat32, min(f, math.MaxFloat32))
		}
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(f)))
	case Float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(s.float()))
	}
}

// Convert converts a little-endian buffer of from samples into a new buffer
// of to samples. Values outside the target range saturate.
func Convert(src []byte, from, to DType) ([]byte, error) {
	if !from.Valid() || !to.Valid() {
		return nil, fmt.Errorf("invalid conversion %s -> %s", from, to)
	}
	fs := from.Size()
	if len(src)%fs != 0 {
		return nil, fmt.Errorf("buffer size %d not a multiple of %s sample size %d", len(src), from, fs)
	}
	if from == to {
		out := make([]byte, len(src))
		copy(out, src)
		return out, nil
	}

	n := len(src) / fs
	ts := to.Size()
	out := make([]byte, n*ts)
	for i := 0; i < n; i++ {
		store(out[i*ts:(i+1)*ts], to, load(src[i*fs:(i+1)*fs], from))
	}
	return out, nil
}

// SwapBytes reverses the byte order of every size-byte sample in b in place.
func SwapBytes(b []byte, size int) {
	if size <= 1 {
		return
	}
	for off := 0; off+size <= len(b); off += size {
		s := b[off : off+size]
		for i, j := 0, size-1; i < j; i, j = i+1, j-1 {
			s[i], s[j] = s[j], s[i]
		}
	}
}

// Decode interprets a little-endian buffer of d samples as a []T.
// d must match T exactly.
func Decode[T Number](d DType, raw []byte) ([]T, error) {
	if Of[T]() != d {
		return nil, fmt.Errorf("cannot decode %s into %T", d, *new(T))
	}
	size := d.Size()
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("buffer size %d not a multiple of %d", len(raw), size)
	}
	out := make([]T, len(raw)/size)
	for i := range out {
		b := raw[i*size : (i+1)*size]
		switch d {
		case Uint8:
			out[i] = T(b[0])
		case Int8:
			out[i] = T(int8(b[0]))
		case Uint16:
			out[i] = T(binary.LittleEndian.Uint16(b))
		case Int16:
			out[i] = T(int16(binary.LittleEndian.Uint16(b)))
		case Uint32:
			out[i] = T(binary.LittleEndian.Uint32(b))
		case Int32:
			out[i] = T(int32(binary.LittleEndian.Uint32(b)))
		case Uint64:
			out[i] = T(binary.LittleEndian.Uint64(b))
		case Int64:
			out[i] = T(int64(binary.LittleEndian.Uint64(b)))
		case Float32:
			out[i] = T(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case Float64:
			out[i] = T(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		}
	}
	return out, nil
}

// Encode serializes values into a little-endian buffer and returns the
// buffer together with its dtype.
func Encode[T Number](values []T) ([]byte, DType) {
	d := Of[T]()
	size := d.Size()
	out := make([]byte, len(values)*size)
	for i, v := range values {
		b := out[i*size : (i+1)*size]
		switch x := any(v).(type) {
		case uint8:
			b[0] = x
		case int8:
			b[0] = uint8(x)
		case uint16:
			binary.LittleEndian.PutUint16(b, x)
		case int16:
			binary.LittleEndian.PutUint16(b, uint16(x))
		case uint32:
			binary.LittleEndian.PutUint32(b, x)
		case int32:
			binary.LittleEndian.PutUint32(b, uint32(x))
		case uint64:
			binary.LittleEndian.PutUint64(b, x)
		case int64:
			binary.LittleEndian.PutUint64(b, uint64(x))
		case float32:
			binary.LittleEndian.PutUint32(b, math.Float32bits(x))
		case float64:
			binary.LittleEndian.PutUint64(b, math.Float64bits(x))
		}
	}
	return out, d
}
