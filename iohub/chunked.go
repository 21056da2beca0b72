package iohub

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/aliddell/go-iohub/internal/dtype"
	"github.com/aliddell/go-iohub/internal/filter"
	"github.com/aliddell/go-iohub/internal/layout"
	"github.com/aliddell/go-iohub/internal/store"
)

// Chunked store keys.
const (
	groupKey  = ".zgroup"
	attrsKey  = ".zattrs"
	arrayName = "0"
	arrayKey  = arrayName + "/.zarray"
	attrsRoot = "iohub"
)

// ChunkedStore is the chunked array store backend: a directory holding a
// zarr v2 group with one array named "0" of shape (index axes..., Y, X).
type ChunkedStore struct{}

func (ChunkedStore) Kind() Kind { return KindChunked }

func (ChunkedStore) Detect(location string) (bool, error) {
	st, err := os.Stat(location)
	if err != nil || !st.IsDir() {
		return false, nil
	}
	for _, key := range []string{groupKey, arrayKey} {
		if _, err := os.Stat(filepath.Join(location, filepath.FromSlash(key))); err == nil {
			return true, nil
		}
	}
	return false, nil
}

// arrayRecord is the .zarray record.
type arrayRecord struct {
	ZarrFormat         int             `json:"zarr_format"`
	Shape              []int           `json:"shape"`
	Chunks             []int           `json:"chunks"`
	DType              string          `json:"dtype"`
	Compressor         *filter.Config  `json:"compressor"`
	Filters            []filter.Config `json:"filters"`
	FillValue          any             `json:"fill_value"`
	Order              string          `json:"order"`
	DimensionSeparator string          `json:"dimension_separator,omitempty"`
}

func (ChunkedStore) Open(location string, mode Mode, md *Metadata, opts ...Option) (Handle, error) {
	o := buildOptions(opts)
	eng, err := o.engineOrNew()
	if err != nil {
		return nil, err
	}
	h := &chunkedHandle{
		handleBase: handleBase{
			kind:     KindChunked,
			mode:     mode,
			location: location,
			log:      o.logger.With().Str("backend", string(KindChunked)).Str("location", location).Logger(),
			engine:   eng,
		},
		st: store.NewDir(location),
	}

	state, err := statLocation(location, true)
	if err != nil {
		return nil, err
	}
	switch {
	case mode == ModeWrite:
		if err := prepareCreate(location, true, o); err != nil {
			return nil, err
		}
		err = h.create(md, o)
	case state == locMissing && mode == ModeRead:
		return nil, kindErr(ErrNotFound, "%s", location)
	case state != locPresent && mode == ModeAppend:
		err = h.create(md, o)
	default:
		err = h.load(md)
	}
	if err != nil {
		return nil, err
	}
	h.log.Debug().Stringer("mode", mode).Ints("shape", h.grid.Shape).Ints("chunks", h.grid.Chunks).Msg("opened chunked store")
	return h, nil
}

type chunkedHandle struct {
	handleBase
	st       store.Store
	grid     *layout.Grid
	pipeline *filter.Pipeline
	record   arrayRecord
	swap     bool // stored samples are big-endian
}

// create writes the group, attributes and array records of a new store.
func (h *chunkedHandle) create(md *Metadata, o *options) error {
	md, err := openMetadata(h.engine, md, h.location)
	if err != nil {
		return err
	}
	h.md = md
	if h.mapper, err = NewMapper(md, FlatIndex{}); err != nil {
		return err
	}

	rec := arrayRecord{
		ZarrFormat:         2,
		DType:              md.DType.Zarr(),
		Compressor:         &filter.Config{ID: "zstd", Level: 1},
		Filters:            []filter.Config{{ID: "shuffle", ElementSize: md.DType.Size()}},
		FillValue:          0,
		Order:              "C",
		DimensionSeparator: "/",
	}
	if o.compressorSet {
		rec.Compressor = o.compressor
	}
	if o.filtersSet {
		rec.Filters = nil
		for _, f := range o.filters {
			if f.ID == "shuffle" && f.ElementSize == 0 {
				f.ElementSize = md.DType.Size()
			}
			rec.Filters = append(rec.Filters, f)
		}
	}
	if err := h.setArray(rec, o.chunks); err != nil {
		return err
	}
	if err := h.st.Put(groupKey, []byte(`{"zarr_format":2}`)); err != nil {
		return err
	}
	if err := h.putArray(); err != nil {
		return err
	}
	return h.putAttrs()
}

// setArray fills the array record for the current metadata and builds
// the chunk grid and codec pipeline.
func (h *chunkedHandle) setArray(rec arrayRecord, chunks []int) error {
	height, width := h.md.PlaneShape()
	rec.Shape = append(h.md.IndexShape(), height, width)
	switch {
	case chunks != nil:
		rec.Chunks = slices.Clone(chunks)
	case rec.Chunks == nil:
		rec.Chunks = defaultChunks(rec.Shape)
	}
	grid, err := layout.NewGrid(rec.Shape, rec.Chunks)
	if err != nil {
		return kindErr(ErrShapeMismatch, "chunks %v: %v", rec.Chunks, err)
	}
	pipeline, err := filter.NewPipeline(rec.Compressor, rec.Filters)
	if err != nil {
		return kindErr(ErrUnsupportedLayout, "%v", err)
	}
	h.record, h.grid, h.pipeline = rec, grid, pipeline
	return nil
}

// defaultChunks is one plane per chunk.
func defaultChunks(shape []int) []int {
	chunks := make([]int, len(shape))
	for d := range chunks {
		chunks[d] = 1
	}
	copy(chunks[len(chunks)-2:], shape[len(shape)-2:])
	return chunks
}

// reshapeChunks fits the chunk shape of the current record to shape. A
// default chunk shape stays the default; a chosen one is kept and clipped.
func (h *chunkedHandle) reshapeChunks(shape []int) []int {
	old := h.record.Chunks
	if len(old) != len(shape) || slices.Equal(old, defaultChunks(h.record.Shape)) {
		return defaultChunks(shape)
	}
	chunks := make([]int, len(shape))
	for d, c := range old {
		chunks[d] = max(min(c, shape[d]), 1)
	}
	return chunks
}

func (h *chunkedHandle) putArray() error {
	raw, err := json.MarshalIndent(h.record, "", "    ")
	if err != nil {
		return err
	}
	return h.st.Put(arrayKey, raw)
}

func (h *chunkedHandle) putAttrs() error {
	raw, err := json.MarshalIndent(map[string]*Metadata{attrsRoot: h.md}, "", "    ")
	if err != nil {
		return err
	}
	return h.st.Put(attrsKey, raw)
}

// load reads the records of an existing store.
func (h *chunkedHandle) load(md *Metadata) error {
	if ok, _ := (ChunkedStore{}).Detect(h.location); !ok {
		return kindErr(ErrUnsupportedLayout, "%s is not a chunked store", h.location)
	}

	rawAttrs, err := h.st.Get(attrsKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return kindErr(ErrSchema, "%s has no metadata attributes", h.location)
		}
		return err
	}
	var attrs map[string]json.RawMessage
	if err := json.Unmarshal(rawAttrs, &attrs); err != nil {
		return kindErr(ErrSchema, "attributes: %v", err)
	}
	rawMD, ok := attrs[attrsRoot]
	if !ok {
		return kindErr(ErrSchema, "attributes have no %q record", attrsRoot)
	}
	h.md, err = h.engine.Migrate(rawMD, CurrentVersion)
	if err != nil {
		return err
	}
	if err := checkAppendLayout(h.md, md); err != nil {
		return err
	}
	if h.mapper, err = NewMapper(h.md, FlatIndex{}); err != nil {
		return err
	}

	rawArray, err := h.st.Get(arrayKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return kindErr(ErrUnsupportedLayout, "%s has no array %q", h.location, arrayName)
		}
		return err
	}
	var rec arrayRecord
	if err := json.Unmarshal(rawArray, &rec); err != nil {
		return kindErr(ErrUnsupportedLayout, "array record: %v", err)
	}
	if rec.ZarrFormat != 2 {
		return kindErr(ErrUnsupportedLayout, "zarr format %d", rec.ZarrFormat)
	}
	if rec.Order != "" && rec.Order != "C" {
		return kindErr(ErrUnsupportedLayout, "array order %q", rec.Order)
	}
	if rec.DimensionSeparator != "" && rec.DimensionSeparator != "/" {
		return kindErr(ErrUnsupportedLayout, "dimension separator %q", rec.DimensionSeparator)
	}
	dt, order, err := dtype.ParseZarr(rec.DType)
	if err != nil {
		return kindErr(ErrUnsupportedLayout, "%v", err)
	}
	if dt != h.md.DType {
		return kindErr(ErrUnsupportedLayout, "array dtype %s, metadata dtype %s", dt, h.md.DType)
	}
	h.swap = order == binary.BigEndian
	if len(rec.Chunks) != len(rec.Shape) {
		return kindErr(ErrUnsupportedLayout, "array chunks %v for shape %v", rec.Chunks, rec.Shape)
	}
	if err := h.setArray(rec, rec.Chunks); err != nil {
		return err
	}
	if !slices.Equal(rec.Shape, h.record.Shape) {
		return kindErr(ErrUnsupportedLayout, "array shape %v, metadata shape %v", rec.Shape, h.record.Shape)
	}
	return nil
}

func chunkKey(chunk []int) string {
	var b strings.Builder
	b.WriteString(arrayName)
	for _, c := range chunk {
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(c))
	}
	return b.String()
}

// parseChunkKey returns the chunk position of key, or false for keys that
// are not chunk blobs of the array.
func parseChunkKey(grid *layout.Grid, key string) ([]int, bool) {
	rest, ok := strings.CutPrefix(key, arrayName+"/")
	if !ok {
		return nil, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != grid.Rank() {
		return nil, false
	}
	chunk := make([]int, len(parts))
	for d, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		chunk[d] = v
	}
	if !grid.ValidChunk(chunk) {
		return nil, false
	}
	return chunk, true
}

// planeBox returns the array selection of the plane at c.
func (h *chunkedHandle) planeBox(c Coord) (start, count []int) {
	height, width := h.md.PlaneShape()
	start = append(slices.Clone(c), 0, 0)
	count = make([]int, len(start))
	for d := range c {
		count[d] = 1
	}
	count[len(count)-2], count[len(count)-1] = height, width
	return start, count
}

// decodeChunk decodes a stored chunk into little-endian samples.
func (h *chunkedHandle) decodeChunk(key string, blob []byte) ([]byte, error) {
	data, err := h.pipeline.Decode(blob)
	if err != nil {
		return nil, kindErr(ErrCorruptData, "chunk %s: %v", key, err)
	}
	want := h.grid.ChunkElements() * h.md.DType.Size()
	if len(data) != want {
		return nil, kindErr(ErrCorruptData, "chunk %s decodes to %d bytes, want %d", key, len(data), want)
	}
	if h.swap {
		dtype.SwapBytes(data, h.md.DType.Size())
	}
	return data, nil
}

func (h *chunkedHandle) ReadPlane(c Coord) (*Plane, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if err := h.checkRead(c); err != nil {
		return nil, err
	}

	start, count := h.planeBox(c)
	chunks, err := h.grid.Overlapping(start, count)
	if err != nil {
		return nil, kindErr(ErrOutOfBounds, "%v", err)
	}
	height, width := h.md.PlaneShape()
	p := NewPlane(h.md.DType, height, width)
	p.Coord = c.Clone()

	found := 0
	for _, chunk := range chunks {
		key := chunkKey(chunk)
		blob, err := h.st.Get(key)
		if errors.Is(err, store.ErrNotFound) {
			continue // fill value
		}
		if err != nil {
			return nil, err
		}
		data, err := h.decodeChunk(key, blob)
		if err != nil {
			return nil, err
		}
		oStart, oCount := h.grid.Intersect(chunk, start, count)
		origin := h.grid.Origin(chunk)
		if err := layout.CopyRegion(
			p.Data, count, sub(oStart, start),
			data, h.grid.Chunks, sub(oStart, origin),
			oCount, h.md.DType.Size(),
		); err != nil {
			return nil, kindErr(ErrCorruptData, "chunk %s: %v", key, err)
		}
		found++
	}
	if found == 0 {
		return nil, kindErr(ErrNotFound, "plane %s was never written", c)
	}
	return p, nil
}

func (h *chunkedHandle) WritePlane(c Coord, p *Plane) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkWrite(c, p); err != nil {
		return err
	}

	start, count := h.planeBox(c)
	chunks, err := h.grid.Overlapping(start, count)
	if err != nil {
		return kindErr(ErrOutOfBounds, "%v", err)
	}
	size := h.md.DType.Size()
	for _, chunk := range chunks {
		key := chunkKey(chunk)
		var data []byte
		blob, err := h.st.Get(key)
		switch {
		case err == nil:
			if data, err = h.decodeChunk(key, blob); err != nil {
				return err
			}
		case errors.Is(err, store.ErrNotFound):
			data = make([]byte, h.grid.ChunkElements()*size)
		default:
			return err
		}

		oStart, oCount := h.grid.Intersect(chunk, start, count)
		origin := h.grid.Origin(chunk)
		if err := layout.CopyRegion(
			data, h.grid.Chunks, sub(oStart, origin),
			p.Data, count, sub(oStart, start),
			oCount, size,
		); err != nil {
			return fmt.Errorf("chunk %s: %w", key, err)
		}
		if h.swap {
			dtype.SwapBytes(data, size)
		}
		encoded, err := h.pipeline.Encode(data)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", key, err)
		}
		if err := h.st.Put(key, encoded); err != nil {
			return err
		}
	}
	h.written++
	return nil
}

func sub(a, b []int) []int {
	out := make([]int, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

// hasChunks reports whether any chunk blob is stored.
func (h *chunkedHandle) hasChunks() (bool, error) {
	for key, err := range h.st.List(arrayName + "/") {
		if err != nil {
			return false, err
		}
		if _, ok := parseChunkKey(h.grid, key); ok {
			return true, nil
		}
	}
	return false, nil
}

// Written yields every plane inside a stored chunk.
func (h *chunkedHandle) Written() iter.Seq2[Coord, error] {
	return func(yield func(Coord, error) bool) {
		h.mu.RLock()
		rank := len(h.md.IndexShape())
		mapper, grid := h.mapper, h.grid
		h.mu.RUnlock()

		present := make(map[string]bool)
		for key, err := range h.st.List(arrayName + "/") {
			if err != nil {
				yield(nil, err)
				return
			}
			if chunk, ok := parseChunkKey(grid, key); ok {
				present[chunkKey(chunk[:rank])] = true
			}
		}
		if len(present) == 0 {
			return
		}
		for c := range mapper.All() {
			chunk, _ := grid.Locate(append(slices.Clone(c), 0, 0))
			if present[chunkKey(chunk[:rank])] && !yield(c, nil) {
				return
			}
		}
	}
}

func (h *chunkedHandle) SetMetadata(md *Metadata) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	stored, err := h.hasChunks()
	if err != nil {
		return err
	}
	oldSize := h.md.DType.Size()
	changed, err := h.setMetadata(md, stored)
	if err != nil {
		return err
	}
	if changed {
		rec := h.record
		rec.DType = h.md.DType.Zarr()
		rec.Filters = slices.Clone(rec.Filters)
		for i, f := range rec.Filters {
			if f.ID == "shuffle" && f.ElementSize == oldSize {
				rec.Filters[i].ElementSize = h.md.DType.Size()
			}
		}
		height, width := h.md.PlaneShape()
		chunks := h.reshapeChunks(append(h.md.IndexShape(), height, width))
		if err := h.setArray(rec, chunks); err != nil {
			return err
		}
		if err := h.putArray(); err != nil {
			return err
		}
	}
	return h.putAttrs()
}

func (h *chunkedHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	var err error
	if h.mode.Writable() {
		err = h.putAttrs()
	}
	h.log.Debug().Int("written", h.written).Msg("closed chunked store")
	return err
}
