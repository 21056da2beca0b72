package iohub

import (
	"bufio"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/aliddell/go-iohub/internal/tiff"
)

// MultiPageImage is the single multi-page TIFF backend. The metadata
// record is stored as JSON in the description of the first page; files
// written by other tools are read through their ImageJ header or as a
// plain Z stack.
type MultiPageImage struct{}

func (MultiPageImage) Kind() Kind { return KindMultiPage }

func (MultiPageImage) Detect(location string) (bool, error) {
	ext := strings.ToLower(filepath.Ext(location))
	if ext != ".tif" && ext != ".tiff" {
		return false, nil
	}
	f, err := os.Open(location)
	if err != nil {
		return false, nil
	}
	defer f.Close()
	head := make([]byte, 4)
	if _, err := f.ReadAt(head, 0); err != nil {
		return false, nil
	}
	switch string(head) {
	case "II*\x00", "MM\x00*", "II+\x00", "MM\x00+":
		return true, nil
	}
	return false, nil
}

type multiPageHandle struct {
	handleBase
	opts   *options
	f      *os.File
	tf     *tiff.File // nil until (re)indexed
	writer *tiff.Writer
	index  map[int]int // flat plane index -> page
	pages  int
	stored uint64 // fingerprint of the stored description
}

func (MultiPageImage) Open(location string, mode Mode, md *Metadata, opts ...Option) (Handle, error) {
	o := buildOptions(opts)
	eng, err := o.engineOrNew()
	if err != nil {
		return nil, err
	}
	h := &multiPageHandle{
		handleBase: handleBase{
			kind:     KindMultiPage,
			mode:     mode,
			location: location,
			log:      o.logger.With().Str("backend", string(KindMultiPage)).Str("location", location).Logger(),
			engine:   eng,
		},
		opts:  o,
		index: make(map[int]int),
	}

	state, err := statLocation(location, false)
	if err != nil {
		return nil, err
	}
	switch {
	case mode == ModeWrite:
		if err := prepareCreate(location, false, o); err != nil {
			return nil, err
		}
		err = h.create(md)
	case state == locMissing && mode == ModeRead:
		return nil, kindErr(ErrNotFound, "%s", location)
	case state != locPresent && mode == ModeAppend:
		err = h.create(md)
	default:
		err = h.load(md)
	}
	if err != nil {
		if h.f != nil {
			err = withCleanup(err, h.f.Close())
		}
		return nil, err
	}
	h.log.Debug().Stringer("mode", mode).Int("pages", h.pages).Msg("opened multi-page image")
	return h, nil
}

func (h *multiPageHandle) create(md *Metadata) error {
	md, err := openMetadata(h.engine, md, h.location)
	if err != nil {
		return err
	}
	h.md = md
	if h.mapper, err = NewMapper(md, FlatIndex{}); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(h.location), 0o755); err != nil {
		return err
	}
	if h.f, err = os.OpenFile(h.location, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644); err != nil {
		return err
	}
	h.writer, err = tiff.NewWriter(h.f, tiffOptions(h.opts, 0)...)
	return err
}

func (h *multiPageHandle) load(md *Metadata) error {
	flag := os.O_RDONLY
	if h.mode.Writable() {
		flag = os.O_RDWR
	}
	st, err := os.Stat(h.location)
	if err != nil {
		return err
	}
	if st.IsDir() {
		return kindErr(ErrUnsupportedLayout, "%s is a directory", h.location)
	}
	if h.f, err = os.OpenFile(h.location, flag, 0); err != nil {
		return err
	}
	if h.tf, err = tiff.Open(h.f, st.Size()); err != nil {
		return tiffErr(err)
	}
	if len(h.tf.Pages) == 0 {
		return kindErr(ErrUnsupportedLayout, "%s has no pages", h.location)
	}
	if err := h.loadMetadata(); err != nil {
		return err
	}
	if err := checkAppendLayout(h.md, md); err != nil {
		return err
	}

	h.pages = len(h.tf.Pages)
	seq := 0
	h.indexPages(filepath.Base(h.location), h.tf.Pages, &seq, func(flat, page int) {
		h.index[flat] = page
	})

	if h.mode.Writable() {
		h.writer, err = tiff.Resume(h.f, h.tf, tiffOptions(h.opts, 0)...)
		if err != nil {
			return kindErr(ErrUnsupportedLayout, "cannot append to %s: %v", h.location, err)
		}
	}
	return nil
}

// loadMetadata derives the metadata from the first page description.
func (h *multiPageHandle) loadMetadata() error {
	first := h.tf.Pages[0]
	desc := strings.TrimSpace(first.Description())

	var err error
	switch {
	case strings.HasPrefix(desc, "{"):
		if h.md, err = h.engine.Migrate([]byte(desc), CurrentVersion); err != nil {
			return err
		}
	case strings.HasPrefix(desc, "ImageJ="):
		md := imageJMetadata(desc, first.DType, first.Height, first.Width, len(h.tf.Pages))
		if h.md, err = migrate(h.engine, md); err != nil {
			return err
		}
	default:
		md := NewMetadata(first.DType,
			Axis{Name: "Z", Size: len(h.tf.Pages)},
			Axis{Name: "Y", Size: first.Height},
			Axis{Name: "X", Size: first.Width},
		)
		if h.md, err = migrate(h.engine, md); err != nil {
			return err
		}
	}
	raw, err := h.md.Marshal()
	if err != nil {
		return err
	}
	h.stored = xxhash.Sum64(raw)
	h.mapper, err = NewMapper(h.md, FlatIndex{})
	return err
}

// imageJMetadata builds metadata from an ImageJ hyperstack header.
// ImageJ stores channels fastest, then slices, then frames.
func imageJMetadata(desc string, dt DType, height, width, pages int) *Metadata {
	fields := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(desc))
	for sc.Scan() {
		if k, v, ok := strings.Cut(sc.Text(), "="); ok {
			fields[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	count := func(key string) int {
		n, err := strconv.Atoi(fields[key])
		if err != nil || n < 1 {
			return 1
		}
		return n
	}
	step := func(key string) float64 {
		f, err := strconv.ParseFloat(fields[key], 64)
		if err != nil || f < 0 {
			return 0
		}
		return f
	}
	unit := ""
	switch fields["unit"] {
	case "micron", "microns", "um", "\u00b5m":
		unit = "micrometer"
	case "nm", "nanometer":
		unit = "nanometer"
	}

	var axes []Axis
	if n := count("frames"); n > 1 {
		axes = append(axes, Axis{Name: "T", Size: n, Unit: "second", Step: step("finterval")})
	}
	if n := count("slices"); n > 1 {
		axes = append(axes, Axis{Name: "Z", Size: n, Unit: unit, Step: step("spacing")})
	}
	channels := count("channels")
	if channels > 1 {
		axes = append(axes, Axis{Name: "C", Size: channels})
	}
	if len(axes) == 0 {
		axes = append(axes, Axis{Name: "Z", Size: max(count("images"), pages), Unit: unit, Step: step("spacing")})
	}
	axes = append(axes, Axis{Name: "Y", Size: height, Unit: unit}, Axis{Name: "X", Size: width, Unit: unit})

	md := NewMetadata(dt, axes...)
	if channels > 1 {
		for i := range channels {
			md.Channels = append(md.Channels, Channel{Name: fmt.Sprintf("Channel %d", i)})
		}
	}
	return md
}

func (h *multiPageHandle) ReadPlane(c Coord) (*Plane, error) {
	page, md, err := h.lookup(c)
	if err != nil {
		return nil, err
	}
	return readPage(md, page, c)
}

func (h *multiPageHandle) lookup(c Coord) (*tiff.Page, *Metadata, error) {
	if h.mode == ModeRead {
		h.mu.RLock()
		defer h.mu.RUnlock()
	} else {
		h.mu.Lock()
		defer h.mu.Unlock()
	}
	if err := h.checkRead(c); err != nil {
		return nil, nil, err
	}
	pi, ok := h.index[h.mapper.flatIndex(c)]
	if !ok {
		return nil, nil, kindErr(ErrNotFound, "plane %s was never written", c)
	}
	if h.tf == nil {
		st, err := h.f.Stat()
		if err != nil {
			return nil, nil, err
		}
		if h.tf, err = tiff.Open(h.f, st.Size()); err != nil {
			return nil, nil, tiffErr(err)
		}
	}
	if pi >= len(h.tf.Pages) {
		return nil, nil, kindErr(ErrCorruptData, "file has %d pages, index points at page %d", len(h.tf.Pages), pi)
	}
	return h.tf.Pages[pi], h.md, nil
}

func (h *multiPageHandle) WritePlane(c Coord, p *Plane) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkWrite(c, p); err != nil {
		return err
	}
	info, err := encodePageInfo(h.md, c)
	if err != nil {
		return err
	}
	spec := tiff.PageSpec{
		Width:        p.Width,
		Height:       p.Height,
		DType:        p.DType,
		Data:         p.Data,
		MicroManager: info,
	}
	if h.pages == 0 {
		raw, err := h.md.Marshal()
		if err != nil {
			return err
		}
		spec.Description = string(raw)
		h.stored = xxhash.Sum64(raw)
	}
	if err := h.writer.WritePage(spec); err != nil {
		return tiffErr(err)
	}
	h.index[h.mapper.flatIndex(c)] = h.pages
	h.pages++
	h.tf = nil
	h.written++
	return nil
}

func (h *multiPageHandle) Written() iter.Seq2[Coord, error] {
	return func(yield func(Coord, error) bool) {
		h.mu.RLock()
		keys := make([]int, 0, len(h.index))
		for k := range h.index {
			keys = append(keys, k)
		}
		mapper := h.mapper
		h.mu.RUnlock()

		slices.Sort(keys)
		for _, k := range keys {
			c, err := mapper.ToAxisCoordinate(StorageKey{Offset: int64(k)})
			if !yield(c, err) {
				return
			}
		}
	}
}

func (h *multiPageHandle) SetMetadata(md *Metadata) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.setMetadata(md, h.pages > 0)
	return err
}

// syncDescription rewrites the first page description when the metadata
// changed since it was stored.
func (h *multiPageHandle) syncDescription() error {
	if h.pages == 0 {
		h.log.Warn().Msg("no pages written, metadata not stored")
		return nil
	}
	raw, err := h.md.Marshal()
	if err != nil {
		return err
	}
	sum := xxhash.Sum64(raw)
	if sum == h.stored {
		return nil
	}
	if err := h.writer.SetDescription(string(raw)); err != nil {
		return err
	}
	h.stored = sum
	h.log.Debug().Int("bytes", len(raw)).Msg("rewrote metadata description")
	return nil
}

func (h *multiPageHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	var errs []error
	if h.writer != nil {
		errs = append(errs, h.syncDescription(), h.writer.Close())
	}
	if err := h.f.Close(); err != nil {
		h.log.Warn().Err(err).Msg("closing image file")
		errs = append(errs, err)
	}
	h.log.Debug().Int("written", h.written).Int("pages", h.pages).Msg("closed multi-page image")
	return errors.Join(errs...)
}
