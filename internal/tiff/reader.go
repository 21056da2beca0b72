package tiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/klauspost/compress/zlib"

	binpkg "github.com/aliddell/go-iohub/internal/binary"
	"github.com/aliddell/go-iohub/internal/dtype"
)

const (
	// maxEntries bounds the entry count of a single IFD.
	maxEntries = 4096
	// maxPlaneBytes bounds the decoded size of one page.
	maxPlaneBytes = 1 << 32
)

// File is an opened TIFF file with all of its pages indexed.
type File struct {
	ByteOrder binary.ByteOrder
	BigTIFF   bool
	Size      int64
	Pages     []*Page

	r *binpkg.Reader
}

// Page is one image file directory.
type Page struct {
	Index  int
	Offset int64 // IFD offset

	Width       int
	Height      int
	DType       dtype.DType
	Compression uint16

	StripOffsets    []uint64
	StripByteCounts []uint64

	// Entries holds every entry of the directory by tag.
	Entries map[uint16]*Entry

	// entryPos records the file offset of each entry, used to patch
	// values in place when appending.
	entryPos map[uint16]int64
	nextPos  int64

	file *File
}

// Open parses the TIFF header and every IFD of the file. size is the file
// size in bytes and is used to reject directories and strips that point
// past the end of the file.
func Open(r io.ReaderAt, size int64) (*File, error) {
	head := make([]byte, 16)
	n, err := r.ReadAt(head, 0)
	if n < 8 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: file too short", ErrNotTIFF)
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}

	var order binary.ByteOrder
	switch string(head[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad byte order mark %q", ErrNotTIFF, head[:2])
	}

	f := &File{ByteOrder: order, Size: size}
	var first uint64
	switch magic := order.Uint16(head[2:]); magic {
	case 42:
		f.r = binpkg.NewReader(r, binpkg.Config{ByteOrder: order, OffsetSize: 4})
		first = uint64(order.Uint32(head[4:]))
	case 43:
		if n < 16 {
			return nil, fmt.Errorf("%w: BigTIFF header too short", ErrNotTIFF)
		}
		if order.Uint16(head[4:]) != 8 {
			return nil, fmt.Errorf("%w: BigTIFF offset size %d", ErrUnsupported, order.Uint16(head[4:]))
		}
		f.BigTIFF = true
		f.r = binpkg.NewReader(r, binpkg.Config{ByteOrder: order, OffsetSize: 8})
		first = order.Uint64(head[8:])
	default:
		return nil, fmt.Errorf("%w: bad magic %d", ErrNotTIFF, magic)
	}

	seen := make(map[uint64]bool)
	for off := first; off != 0; {
		if seen[off] {
			return nil, fmt.Errorf("%w: IFD loop at offset %d", ErrCorrupt, off)
		}
		seen[off] = true

		p, next, err := f.readIFD(int64(off), len(f.Pages))
		if err != nil {
			return nil, err
		}
		f.Pages = append(f.Pages, p)
		off = next
	}

	return f, nil
}

// readIFD parses one directory and returns the offset of the next one.
func (f *File) readIFD(off int64, index int) (*Page, uint64, error) {
	if off < 8 || off >= f.Size {
		return nil, 0, fmt.Errorf("%w: IFD %d offset %d outside file of %d bytes", ErrCorrupt, index, off, f.Size)
	}

	r := f.r.At(off)
	var count uint64
	var err error
	if f.BigTIFF {
		count, err = r.ReadUint64()
	} else {
		var c16 uint16
		c16, err = r.ReadUint16()
		count = uint64(c16)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: IFD %d entry count: %v", ErrCorrupt, index, err)
	}
	if count == 0 || count > maxEntries {
		return nil, 0, fmt.Errorf("%w: IFD %d has %d entries", ErrCorrupt, index, count)
	}

	p := &Page{
		Index:    index,
		Offset:   off,
		Entries:  make(map[uint16]*Entry, count),
		entryPos: make(map[uint16]int64, count),
		file:     f,
	}

	for i := uint64(0); i < count; i++ {
		pos := r.Pos()
		e, err := f.readEntry(r)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: IFD %d entry %d: %v", ErrCorrupt, index, i, err)
		}
		p.Entries[e.Tag] = e
		p.entryPos[e.Tag] = pos
	}

	p.nextPos = r.Pos()
	next, err := r.ReadOffset()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: IFD %d next offset: %v", ErrCorrupt, index, err)
	}

	if err := p.decode(); err != nil {
		return nil, 0, fmt.Errorf("IFD %d: %w", index, err)
	}
	return p, next, nil
}

// readEntry reads one entry and resolves out-of-line values.
func (f *File) readEntry(r *binpkg.Reader) (*Entry, error) {
	tag, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	typ, err := r.ReadUint16()
	if err != nil {
		return nil, err
	}
	var count uint64
	if f.BigTIFF {
		count, err = r.ReadUint64()
	} else {
		var c32 uint32
		c32, err = r.ReadUint32()
		count = uint64(c32)
	}
	if err != nil {
		return nil, err
	}
	field, err := r.ReadBytes(r.OffsetSize())
	if err != nil {
		return nil, err
	}

	e := &Entry{Tag: tag, Type: typ, Count: count, order: f.ByteOrder}
	size := typeSize(typ)
	if size == 0 {
		// Unknown field type: keep the raw field only.
		e.Raw = field
		return e, nil
	}

	if count > math.MaxUint64/uint64(size) {
		return nil, fmt.Errorf("tag %d: %d values overflow", tag, count)
	}
	total := count * uint64(size)
	if total <= uint64(len(field)) {
		e.Raw = field[:total]
		return e, nil
	}

	valueOff := r.DecodeUint(field)
	if !f.contains(valueOff, total) {
		return nil, fmt.Errorf("tag %d: value at %d+%d past end of file", tag, valueOff, total)
	}
	e.Raw, err = r.At(int64(valueOff)).ReadBytes(int(total))
	if err != nil {
		return nil, err
	}
	return e, nil
}

// decode fills the typed page fields from the entries.
func (p *Page) decode() error {
	width, err := p.requireUint(TagImageWidth)
	if err != nil {
		return err
	}
	height, err := p.requireUint(TagImageLength)
	if err != nil {
		return err
	}
	if width == 0 || height == 0 || width > maxPlaneBytes || height > maxPlaneBytes {
		return fmt.Errorf("%w: shape %dx%d", ErrCorrupt, height, width)
	}
	p.Width, p.Height = int(width), int(height)

	if spp, ok := p.optionalUint(TagSamplesPerPixel, 1); ok && spp != 1 {
		return fmt.Errorf("%w: %d samples per pixel", ErrUnsupported, spp)
	}
	if pred, ok := p.optionalUint(TagPredictor, 1); ok && pred != 1 {
		return fmt.Errorf("%w: predictor %d", ErrUnsupported, pred)
	}

	bits, _ := p.optionalUint(TagBitsPerSample, 1)
	format, _ := p.optionalUint(TagSampleFormat, 1)
	p.DType, err = dtype.FromTIFF(uint16(bits), uint16(format))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if width > maxPlaneBytes/uint64(p.DType.Size())/height {
		return fmt.Errorf("%w: %dx%d %s page is larger than %d bytes", ErrUnsupported, height, width, p.DType, uint64(maxPlaneBytes))
	}

	comp, _ := p.optionalUint(TagCompression, uint64(CompressionNone))
	p.Compression = uint16(comp)
	switch p.Compression {
	case CompressionNone, CompressionDeflate, CompressionDeflateOld:
	default:
		return fmt.Errorf("%w: compression %d", ErrUnsupported, p.Compression)
	}

	offsets, ok := p.Entries[TagStripOffsets]
	if !ok {
		return fmt.Errorf("%w: missing StripOffsets", ErrCorrupt)
	}
	counts, ok := p.Entries[TagStripByteCounts]
	if !ok {
		return fmt.Errorf("%w: missing StripByteCounts", ErrCorrupt)
	}
	if p.StripOffsets, err = offsets.Uints(); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if p.StripByteCounts, err = counts.Uints(); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(p.StripOffsets) != len(p.StripByteCounts) || len(p.StripOffsets) == 0 {
		return fmt.Errorf("%w: %d strip offsets, %d strip byte counts",
			ErrCorrupt, len(p.StripOffsets), len(p.StripByteCounts))
	}
	return nil
}

func (p *Page) requireUint(tag uint16) (uint64, error) {
	e, ok := p.Entries[tag]
	if !ok {
		return 0, fmt.Errorf("%w: missing tag %d", ErrCorrupt, tag)
	}
	v, err := e.Uint()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return v, nil
}

// optionalUint returns the tag value or def when the tag is absent.
// ok is false only when the tag is present but unreadable.
func (p *Page) optionalUint(tag uint16, def uint64) (uint64, bool) {
	e, present := p.Entries[tag]
	if !present {
		return def, true
	}
	v, err := e.Uint()
	if err != nil {
		return def, false
	}
	return v, true
}

// Description returns the ImageDescription text, or "".
func (p *Page) Description() string {
	if e, ok := p.Entries[TagImageDescription]; ok {
		return e.String()
	}
	return ""
}

// MicroManager returns the Micro-Manager metadata tag text, or "".
func (p *Page) MicroManager() string {
	if e, ok := p.Entries[TagMicroManager]; ok {
		return e.String()
	}
	return ""
}

// Tags returns the tag numbers present on the page in ascending order.
func (p *Page) Tags() []uint16 {
	tags := make([]uint16, 0, len(p.Entries))
	for t := range p.Entries {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// PlaneBytes returns the decoded size of the page in bytes.
func (p *Page) PlaneBytes() int {
	return p.Width * p.Height * p.DType.Size()
}

// StoredBytes returns the sum of the strip byte counts.
func (p *Page) StoredBytes() uint64 {
	var n uint64
	for _, c := range p.StripByteCounts {
		n += c
	}
	return n
}

// Read returns the page samples as little-endian bytes in row-major order.
// Strips that point past the end of the file, fail to decompress, or do
// not add up to the declared shape yield ErrCorrupt.
func (p *Page) Read() ([]byte, error) {
	want := p.PlaneBytes()
	out := make([]byte, 0, min(uint64(want), p.StoredBytes(), uint64(p.file.Size)))

	for i, off := range p.StripOffsets {
		count := p.StripByteCounts[i]
		if !p.file.contains(off, count) {
			return nil, fmt.Errorf("%w: page %d strip %d at %d+%d past end of file (%d bytes)",
				ErrCorrupt, p.Index, i, off, count, p.file.Size)
		}
		raw, err := p.file.r.At(int64(off)).ReadBytes(int(count))
		if err != nil {
			return nil, fmt.Errorf("%w: page %d strip %d: %v", ErrCorrupt, p.Index, i, err)
		}

		if p.Compression != CompressionNone {
			raw, err = inflate(raw, max(want-len(out), 0))
			if err != nil {
				return nil, fmt.Errorf("%w: page %d strip %d: %v", ErrCorrupt, p.Index, i, err)
			}
		}
		out = append(out, raw...)
	}

	if len(out) < want {
		return nil, fmt.Errorf("%w: page %d has %d bytes, shape %dx%d %s needs %d",
			ErrCorrupt, p.Index, len(out), p.Height, p.Width, p.DType, want)
	}
	out = out[:want]

	if p.file.ByteOrder == binary.BigEndian {
		dtype.SwapBytes(out, p.DType.Size())
	}
	return out, nil
}

// contains reports whether n bytes at off lie inside the file.
func (f *File) contains(off, n uint64) bool {
	size := uint64(max(f.Size, 0))
	return n <= size && off <= size-n
}

// inflate decompresses one strip that may hold at most limit bytes.
func inflate(data []byte, limit int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(io.LimitReader(zr, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		return nil, fmt.Errorf("strip inflates past the %d bytes left in the plane", limit)
	}
	return out, nil
}
