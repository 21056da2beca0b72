package binary

import "io"

// Writer is a cursor over an io.WriterAt.
type Writer struct {
	w   io.WriterAt
	cfg Config
	pos int64
}

// NewWriter returns a Writer at offset 0 with the same defaults as
// NewReader.
func NewWriter(w io.WriterAt, cfg Config) *Writer {
	return &Writer{w: w, cfg: cfg.normalize()}
}

// At returns a Writer over the same sink with its own cursor at offset.
func (w *Writer) At(offset int64) *Writer {
	return &Writer{w: w.w, cfg: w.cfg, pos: offset}
}

func (w *Writer) Pos() int64 { return w.pos }

func (w *Writer) WriteBytes(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	n, err := w.w.WriteAt(data, w.pos)
	w.pos += int64(n)
	return err
}

// WriteUintN writes v as an n-byte unsigned integer.
func (w *Writer) WriteUintN(v uint64, n int) error {
	buf := make([]byte, n)
	w.cfg.encode(buf, v)
	return w.WriteBytes(buf)
}

func (w *Writer) WriteUint16(v uint16) error { return w.WriteUintN(uint64(v), 2) }

func (w *Writer) WriteUint32(v uint32) error { return w.WriteUintN(uint64(v), 4) }

// WriteOffset writes one offset field.
func (w *Writer) WriteOffset(v uint64) error {
	return w.WriteUintN(v, w.cfg.OffsetSize)
}
