package tiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"

	"github.com/klauspost/compress/zlib"

	"github.com/aliddell/go-iohub/internal/alloc"
	binpkg "github.com/aliddell/go-iohub/internal/binary"
	"github.com/aliddell/go-iohub/internal/dtype"
)

const (
	headerSize = 8
	entrySize  = 12
)

// PageSpec describes one page to write. Data holds little-endian samples.
type PageSpec struct {
	Width        int
	Height       int
	DType        dtype.DType
	Data         []byte
	Description  string
	MicroManager string
}

// WriterOption configures a Writer.
type WriterOption func(*writerOptions)

type writerOptions struct {
	compression uint16
	level       int
	limit       uint64
}

// WithDeflate compresses strips with zlib at the given level.
func WithDeflate(level int) WriterOption {
	return func(o *writerOptions) {
		o.compression = CompressionDeflate
		o.level = level
	}
}

// WithSizeLimit sets the soft file size limit reported by Fits.
func WithSizeLimit(limit uint64) WriterOption {
	return func(o *writerOptions) {
		o.limit = limit
	}
}

// descriptionSlot tracks the ImageDescription entry of the first page.
type descriptionSlot struct {
	entryPos int64
	addr     uint64 // 0 when inline
	capacity uint64
	tracked  bool // block was allocated by this writer
}

// Writer appends pages to a classic little-endian TIFF file.
type Writer struct {
	mu      sync.Mutex
	w       *binpkg.Writer
	alloc   *alloc.Allocator
	opts    writerOptions
	pages   int
	nextPos int64 // where the next IFD offset must be patched
	desc    *descriptionSlot
	closed  bool
}

// NewWriter writes a TIFF header to w and returns a writer for new pages.
func NewWriter(w io.WriterAt, opts ...WriterOption) (*Writer, error) {
	tw := newWriter(w, headerSize, opts)
	header := []byte{'I', 'I', 42, 0, 0, 0, 0, 0}
	if err := tw.w.At(0).WriteBytes(header); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	tw.nextPos = 4
	return tw, nil
}

// Resume returns a writer that appends pages to an existing classic
// little-endian file previously parsed with Open.
func Resume(w io.WriterAt, f *File, opts ...WriterOption) (*Writer, error) {
	if f.BigTIFF || f.ByteOrder != binary.LittleEndian {
		return nil, fmt.Errorf("%w: appending requires classic little-endian TIFF", ErrUnsupported)
	}
	if len(f.Pages) == 0 {
		return nil, fmt.Errorf("%w: file has no pages", ErrCorrupt)
	}

	tw := newWriter(w, uint64(f.Size), opts)
	tw.pages = len(f.Pages)
	tw.nextPos = f.Pages[len(f.Pages)-1].nextPos

	first := f.Pages[0]
	if pos, ok := first.entryPos[TagImageDescription]; ok {
		e := first.Entries[TagImageDescription]
		slot := &descriptionSlot{entryPos: pos}
		if e.Count > 4 {
			field, err := readField(first, pos)
			if err != nil {
				return nil, err
			}
			slot.addr = uint64(binary.LittleEndian.Uint32(field))
			slot.capacity = e.Count
		}
		tw.desc = slot
	}
	return tw, nil
}

func readField(p *Page, entryPos int64) ([]byte, error) {
	field, err := p.file.r.At(entryPos + 8).ReadBytes(4)
	if err != nil {
		return nil, fmt.Errorf("%w: reading description entry: %v", ErrCorrupt, err)
	}
	return field, nil
}

func newWriter(w io.WriterAt, base uint64, opts []WriterOption) *Writer {
	o := writerOptions{compression: CompressionNone}
	for _, opt := range opts {
		opt(&o)
	}
	a := alloc.New(base)
	a.SetLimit(o.limit)
	return &Writer{
		w:     binpkg.NewWriter(w, binpkg.Config{ByteOrder: binary.LittleEndian, OffsetSize: 4}),
		alloc: a,
		opts:  o,
	}
}

// NumPages returns the number of pages in the file.
func (tw *Writer) NumPages() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.pages
}

// Size returns the current file size.
func (tw *Writer) Size() uint64 {
	return tw.alloc.EOF()
}

// Fits reports whether a page of planeBytes pixel bytes plus extra bytes of
// tag text stays under the size limit.
func (tw *Writer) Fits(planeBytes, extra int) bool {
	return tw.alloc.Fits(uint64(planeBytes+extra) + 2 + 13*entrySize + 4 + 16)
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte // little-endian value bytes
}

func shortEntry(tag, v uint16) ifdEntry {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return ifdEntry{tag: tag, typ: TypeShort, count: 1, data: b}
}

func longEntry(tag uint16, v uint32) ifdEntry {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return ifdEntry{tag: tag, typ: TypeLong, count: 1, data: b}
}

func asciiEntry(tag uint16, s string) ifdEntry {
	b := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: TypeASCII, count: uint32(len(b)), data: b}
}

// WritePage appends one page. The directory is written before the strip
// data, and the previous directory is linked to it last.
func (tw *Writer) WritePage(spec PageSpec) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return fmt.Errorf("write page: writer closed")
	}
	if spec.Width <= 0 || spec.Height <= 0 {
		return fmt.Errorf("write page: invalid shape %dx%d", spec.Height, spec.Width)
	}
	if !spec.DType.Valid() {
		return fmt.Errorf("write page: invalid dtype")
	}
	if want := spec.Width * spec.Height * spec.DType.Size(); len(spec.Data) != want {
		return fmt.Errorf("write page: %d bytes for %dx%d %s (want %d)",
			len(spec.Data), spec.Height, spec.Width, spec.DType, want)
	}

	strip := spec.Data
	if tw.opts.compression == CompressionDeflate {
		var err error
		strip, err = deflate(spec.Data, tw.opts.level)
		if err != nil {
			return fmt.Errorf("write page: %w", err)
		}
	}

	bits, format := spec.DType.TIFF()
	entries := []ifdEntry{
		longEntry(TagImageWidth, uint32(spec.Width)),
		longEntry(TagImageLength, uint32(spec.Height)),
		shortEntry(TagBitsPerSample, bits),
		shortEntry(TagCompression, tw.opts.compression),
		shortEntry(TagPhotometric, photometricBlackIsZero),
		longEntry(TagStripOffsets, 0), // patched below
		shortEntry(TagSamplesPerPixel, 1),
		longEntry(TagRowsPerStrip, uint32(spec.Height)),
		longEntry(TagStripByteCounts, uint32(len(strip))),
		shortEntry(TagSampleFormat, format),
	}
	first := tw.pages == 0
	if first || spec.Description != "" {
		entries = append(entries, asciiEntry(TagImageDescription, spec.Description))
	}
	if spec.MicroManager != "" {
		entries = append(entries, asciiEntry(TagMicroManager, spec.MicroManager))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdSize := uint64(2 + len(entries)*entrySize + 4)
	ifdAddr := tw.alloc.Alloc(ifdSize, 2, "ifd")

	// Out-of-line values follow the directory.
	valueAddr := make([]uint64, len(entries))
	for i, e := range entries {
		if len(e.data) > 4 {
			valueAddr[i] = tw.alloc.Alloc(uint64(len(e.data)), 2, "value")
		}
	}
	stripAddr := tw.alloc.Alloc(uint64(len(strip)), 2, "strip")
	if end := tw.alloc.EOF(); end > math.MaxUint32 {
		return fmt.Errorf("write page: %w (%d bytes)", ErrTooLarge, end)
	}

	var descPos int64 = -1
	var descEntry ifdEntry
	w := tw.w.At(int64(ifdAddr))
	if err := w.WriteUint16(uint16(len(entries))); err != nil {
		return fmt.Errorf("write page: %w", err)
	}
	for i, e := range entries {
		if e.tag == TagStripOffsets {
			binary.LittleEndian.PutUint32(e.data, uint32(stripAddr))
		}
		if e.tag == TagImageDescription {
			descPos = w.Pos()
			descEntry = e
		}
		if err := writeEntry(w, e, valueAddr[i]); err != nil {
			return fmt.Errorf("write page: %w", err)
		}
		if valueAddr[i] != 0 {
			if err := tw.w.At(int64(valueAddr[i])).WriteBytes(e.data); err != nil {
				return fmt.Errorf("write page: tag %d value: %w", e.tag, err)
			}
		}
	}
	if err := w.WriteUint32(0); err != nil {
		return fmt.Errorf("write page: %w", err)
	}
	nextPos := w.Pos() - 4

	if err := tw.w.At(int64(stripAddr)).WriteBytes(strip); err != nil {
		return fmt.Errorf("write page: strip: %w", err)
	}

	if err := tw.w.At(tw.nextPos).WriteUint32(uint32(ifdAddr)); err != nil {
		return fmt.Errorf("write page: linking IFD: %w", err)
	}
	tw.nextPos = nextPos

	if first {
		slot := &descriptionSlot{entryPos: descPos}
		if len(descEntry.data) > 4 {
			slot.addr = valueAddr[indexOfTag(entries, TagImageDescription)]
			slot.capacity = uint64(len(descEntry.data))
			slot.tracked = true
		}
		tw.desc = slot
	}
	tw.pages++
	return nil
}

func indexOfTag(entries []ifdEntry, tag uint16) int {
	for i, e := range entries {
		if e.tag == tag {
			return i
		}
	}
	return -1
}

func writeEntry(w *binpkg.Writer, e ifdEntry, valueAddr uint64) error {
	if err := w.WriteUint16(e.tag); err != nil {
		return err
	}
	if err := w.WriteUint16(e.typ); err != nil {
		return err
	}
	if err := w.WriteUint32(e.count); err != nil {
		return err
	}
	field := make([]byte, 4)
	if len(e.data) > 4 {
		binary.LittleEndian.PutUint32(field, uint32(valueAddr))
	} else {
		copy(field, e.data)
	}
	return w.WriteBytes(field)
}

// SetDescription replaces the ImageDescription text of the first page.
// Text that no longer fits its old block is moved to a freed or new block.
func (tw *Writer) SetDescription(desc string) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.desc == nil {
		if tw.pages == 0 {
			return fmt.Errorf("set description: no pages written")
		}
		return fmt.Errorf("%w: first page has no ImageDescription tag", ErrUnsupported)
	}

	data := append([]byte(desc), 0)
	n := uint64(len(data))
	slot := tw.desc
	field := make([]byte, 4)

	switch {
	case n <= 4:
		copy(field, data)
	case n <= slot.capacity:
		if err := tw.w.At(int64(slot.addr)).WriteBytes(data); err != nil {
			return fmt.Errorf("set description: %w", err)
		}
		binary.LittleEndian.PutUint32(field, uint32(slot.addr))
	default:
		if slot.tracked {
			if err := tw.alloc.Free(slot.addr, slot.capacity); err != nil {
				return fmt.Errorf("set description: %w", err)
			}
		}
		addr := tw.alloc.Reuse(n, 2, "description")
		if end := tw.alloc.EOF(); end > math.MaxUint32 {
			return fmt.Errorf("set description: %w", ErrTooLarge)
		}
		if err := tw.w.At(int64(addr)).WriteBytes(data); err != nil {
			return fmt.Errorf("set description: %w", err)
		}
		slot.addr, slot.capacity, slot.tracked = addr, n, true
		binary.LittleEndian.PutUint32(field, uint32(addr))
	}

	w := tw.w.At(slot.entryPos + 4)
	if err := w.WriteUint32(uint32(n)); err != nil {
		return fmt.Errorf("set description: %w", err)
	}
	if err := w.WriteBytes(field); err != nil {
		return fmt.Errorf("set description: %w", err)
	}
	return nil
}

// Close marks the writer closed. The underlying file is owned by the
// caller and is not closed.
func (tw *Writer) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.closed = true
	return tw.alloc.Validate()
}

func deflate(data []byte, level int) ([]byte, error) {
	if level == 0 {
		level = zlib.DefaultCompression
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
