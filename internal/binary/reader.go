// Package binary reads and writes the fixed-width integers of image
// container headers. The byte order and the width of offset fields come
// from the file header: classic TIFF stores 4-byte offsets, BigTIFF 8.
package binary

import (
	"encoding/binary"
	"errors"
	"io"
)

// Config describes the integer encoding of one file.
type Config struct {
	ByteOrder  binary.ByteOrder
	OffsetSize int // 4 or 8
}

func (c Config) normalize() Config {
	if c.ByteOrder == nil {
		c.ByteOrder = binary.LittleEndian
	}
	if c.OffsetSize == 0 {
		c.OffsetSize = 4
	}
	return c
}

// decode decodes len(buf) bytes as an unsigned integer.
func (c Config) decode(buf []byte) uint64 {
	switch len(buf) {
	case 2:
		return uint64(c.ByteOrder.Uint16(buf))
	case 4:
		return uint64(c.ByteOrder.Uint32(buf))
	case 8:
		return c.ByteOrder.Uint64(buf)
	}
	var v uint64
	for i := range buf {
		j := i
		if c.ByteOrder == binary.LittleEndian {
			j = len(buf) - 1 - i
		}
		v = v<<8 | uint64(buf[j])
	}
	return v
}

// encode encodes v into all of buf.
func (c Config) encode(buf []byte, v uint64) {
	switch len(buf) {
	case 2:
		c.ByteOrder.PutUint16(buf, uint16(v))
		return
	case 4:
		c.ByteOrder.PutUint32(buf, uint32(v))
		return
	case 8:
		c.ByteOrder.PutUint64(buf, v)
		return
	}
	for i := range buf {
		j := len(buf) - 1 - i
		if c.ByteOrder == binary.LittleEndian {
			j = i
		}
		buf[j] = byte(v >> (8 * i))
	}
}

// Reader is a cursor over an io.ReaderAt.
type Reader struct {
	r   io.ReaderAt
	cfg Config
	pos int64
}

// NewReader returns a Reader at offset 0. Zero fields in cfg default to
// little-endian with 4-byte offsets.
func NewReader(r io.ReaderAt, cfg Config) *Reader {
	return &Reader{r: r, cfg: cfg.normalize()}
}

// At returns a Reader over the same source with its own cursor at offset.
func (r *Reader) At(offset int64) *Reader {
	return &Reader{r: r.r, cfg: r.cfg, pos: offset}
}

func (r *Reader) Pos() int64 { return r.pos }

// OffsetSize is the width of offset fields in bytes.
func (r *Reader) OffsetSize() int { return r.cfg.OffsetSize }

// ReadBytes reads exactly n bytes. The cursor only moves on success and
// a short read reports io.ErrUnexpectedEOF.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	got, err := r.r.ReadAt(buf, r.pos)
	if got < n {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	r.pos += int64(n)
	return buf, nil
}

func (r *Reader) readUint(n int) (uint64, error) {
	buf, err := r.ReadBytes(n)
	if err != nil {
		return 0, err
	}
	return r.cfg.decode(buf), nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	v, err := r.readUint(2)
	return uint16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	v, err := r.readUint(4)
	return uint32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	return r.readUint(8)
}

// ReadOffset reads one offset field.
func (r *Reader) ReadOffset() (uint64, error) {
	return r.readUint(r.cfg.OffsetSize)
}

// DecodeUint decodes an already read field in the file's byte order.
func (r *Reader) DecodeUint(buf []byte) uint64 {
	return r.cfg.decode(buf)
}
