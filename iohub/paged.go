package iohub

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/maruel/natural"
	"golang.org/x/sync/errgroup"

	"github.com/aliddell/go-iohub/internal/store"
	"github.com/aliddell/go-iohub/internal/tiff"
)

// Paged acquisition file names.
const (
	metadataSuffix = "_metadata.txt"
	stackInfix     = "_MMStack"
	stackSuffix    = ".ome.tif"
)

// scanLimit bounds the number of files indexed in parallel.
const scanLimit = 8

// PagedAcquisition is the Micro-Manager style acquisition backend: a
// directory with a metadata file and one or more multi-page TIFF files
// holding planes in acquisition order.
type PagedAcquisition struct{}

func (PagedAcquisition) Kind() Kind { return KindPaged }

func (PagedAcquisition) Detect(location string) (bool, error) {
	entries, err := os.ReadDir(location)
	if err != nil {
		return false, nil
	}
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && (strings.HasSuffix(name, metadataSuffix) ||
			(strings.Contains(name, stackInfix) && strings.HasSuffix(name, stackSuffix))) {
			return true, nil
		}
	}
	return false, nil
}

// stackName returns the name of the n-th TIFF file of an acquisition.
func stackName(prefix string, n int) string {
	if n == 0 {
		return prefix + stackInfix + stackSuffix
	}
	return fmt.Sprintf("%s%s_%d%s", prefix, stackInfix, n, stackSuffix)
}

type pagedFile struct {
	name string
	f    *os.File
	tf   *tiff.File // nil until (re)indexed
}

type pageRef struct {
	file int
	page int
}

type pagedHandle struct {
	handleBase
	meta   *store.Dir
	prefix string
	opts   *options

	files  []*pagedFile
	index  map[int]pageRef // flat plane index -> page
	writer *tiff.Writer
	wfile  int
	next   int // number of the next continuation file
}

func (PagedAcquisition) Open(location string, mode Mode, md *Metadata, opts ...Option) (Handle, error) {
	o := buildOptions(opts)
	eng, err := o.engineOrNew()
	if err != nil {
		return nil, err
	}
	h := &pagedHandle{
		handleBase: handleBase{
			kind:     KindPaged,
			mode:     mode,
			location: location,
			log:      o.logger.With().Str("backend", string(KindPaged)).Str("location", location).Logger(),
			engine:   eng,
		},
		meta:  store.NewDir(location),
		opts:  o,
		index: make(map[int]pageRef),
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
		err = h.create(md)
	case state == locMissing && mode == ModeRead:
		return nil, kindErr(ErrNotFound, "%s", location)
	case state != locPresent && mode == ModeAppend:
		err = h.create(md)
	default:
		err = h.load(md)
	}
	if err != nil {
		return nil, withCleanup(err, h.closeFiles())
	}
	h.log.Debug().Stringer("mode", mode).Int("files", len(h.files)).Int("planes", len(h.index)).Msg("opened paged acquisition")
	return h, nil
}

func (h *pagedHandle) create(md *Metadata) error {
	md, err := openMetadata(h.engine, md, h.location)
	if err != nil {
		return err
	}
	h.md = md
	if h.mapper, err = NewMapper(md, FlatIndex{}); err != nil {
		return err
	}
	h.prefix = h.opts.prefix
	if h.prefix == "" {
		h.prefix = filepath.Base(filepath.Clean(h.location))
	}
	if err := os.MkdirAll(h.location, 0o755); err != nil {
		return err
	}
	return h.putMetadata()
}

func (h *pagedHandle) putMetadata() error {
	raw, err := json.MarshalIndent(h.md, "", "  ")
	if err != nil {
		return err
	}
	return h.meta.Put(h.prefix+metadataSuffix, raw)
}

// findPrefix returns the acquisition prefix of an existing directory.
func (h *pagedHandle) findPrefix(entries []os.DirEntry) (string, error) {
	if h.opts.prefix != "" {
		return h.opts.prefix, nil
	}
	var prefixes []string
	for _, e := range entries {
		if p, ok := strings.CutSuffix(e.Name(), metadataSuffix); ok && e.Type().IsRegular() {
			prefixes = append(prefixes, p)
		}
	}
	switch len(prefixes) {
	case 0:
		return "", kindErr(ErrUnsupportedLayout, "%s has no *%s file", h.location, metadataSuffix)
	case 1:
		return prefixes[0], nil
	}
	return "", kindErr(ErrUnsupportedLayout, "%s holds several acquisitions %v", h.location, prefixes)
}

// load reads the metadata and indexes every page of an existing
// acquisition.
func (h *pagedHandle) load(md *Metadata) error {
	entries, err := os.ReadDir(h.location)
	if err != nil {
		return kindErr(ErrUnsupportedLayout, "%v", err)
	}
	if h.prefix, err = h.findPrefix(entries); err != nil {
		return err
	}

	raw, err := h.meta.Get(h.prefix + metadataSuffix)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return kindErr(ErrUnsupportedLayout, "%s has no %s%s", h.location, h.prefix, metadataSuffix)
		}
		return err
	}
	if h.md, err = h.engine.Migrate(raw, CurrentVersion); err != nil {
		return err
	}
	if err := checkAppendLayout(h.md, md); err != nil {
		return err
	}
	if h.mapper, err = NewMapper(h.md, FlatIndex{}); err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, h.prefix+stackInfix) && strings.HasSuffix(name, stackSuffix) {
			names = append(names, name)
		}
	}
	sort.Sort(natural.StringSlice(names))
	h.next = len(names)
	h.files = make([]*pagedFile, len(names))
	for i, name := range names {
		h.files[i] = &pagedFile{name: name}
	}

	if err := h.scan(); err != nil {
		return err
	}
	h.buildIndex()
	return nil
}

// scan opens and parses every file concurrently.
func (h *pagedHandle) scan() error {
	var g errgroup.Group
	g.SetLimit(scanLimit)
	for _, pf := range h.files {
		g.Go(func() error {
			f, err := os.Open(filepath.Join(h.location, pf.name))
			if err != nil {
				return err
			}
			pf.f = f
			st, err := f.Stat()
			if err != nil {
				return err
			}
			tf, err := tiff.Open(f, st.Size())
			if err != nil {
				return &Error{Op: "scan", Location: pf.name, Kind: KindOf(tiffErr(err)), Err: err}
			}
			pf.tf = tf
			return nil
		})
	}
	return g.Wait()
}

// buildIndex maps every page to its plane, files in natural order. A
// later page replaces an earlier one at the same coordinate.
func (h *pagedHandle) buildIndex() {
	seq := 0
	for fi, pf := range h.files {
		h.indexPages(pf.name, pf.tf.Pages, &seq, func(flat, page int) {
			h.index[flat] = pageRef{file: fi, page: page}
		})
	}
}

func (h *pagedHandle) ReadPlane(c Coord) (*Plane, error) {
	page, md, err := h.lookup(c)
	if err != nil {
		return nil, err
	}
	return readPage(md, page, c)
}

// lookup returns the page holding c. Files written since they were last
// indexed are parsed again.
func (h *pagedHandle) lookup(c Coord) (*tiff.Page, *Metadata, error) {
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
	ref, ok := h.index[h.mapper.flatIndex(c)]
	if !ok {
		return nil, nil, kindErr(ErrNotFound, "plane %s was never written", c)
	}
	pf := h.files[ref.file]
	if pf.tf == nil {
		st, err := pf.f.Stat()
		if err != nil {
			return nil, nil, err
		}
		tf, err := tiff.Open(pf.f, st.Size())
		if err != nil {
			return nil, nil, tiffErr(err)
		}
		pf.tf = tf
	}
	if ref.page >= len(pf.tf.Pages) {
		return nil, nil, kindErr(ErrCorruptData, "%s has %d pages, index points at page %d", pf.name, len(pf.tf.Pages), ref.page)
	}
	return pf.tf.Pages[ref.page], h.md, nil
}

// startFile creates the next TIFF file of the acquisition.
func (h *pagedHandle) startFile() error {
	for {
		name := stackName(h.prefix, h.next)
		h.next++
		f, err := os.OpenFile(filepath.Join(h.location, name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return err
		}
		w, err := tiff.NewWriter(f, tiffOptions(h.opts, h.opts.maxFileSize)...)
		if err != nil {
			return withCleanup(err, f.Close())
		}
		h.files = append(h.files, &pagedFile{name: name, f: f})
		h.writer, h.wfile = w, len(h.files)-1
		h.log.Debug().Str("file", name).Msg("started acquisition file")
		return nil
	}
}

func (h *pagedHandle) WritePlane(c Coord, p *Plane) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkWrite(c, p); err != nil {
		return err
	}
	info, err := encodePageInfo(h.md, c)
	if err != nil {
		return err
	}

	if h.writer != nil && h.writer.NumPages() > 0 && !h.writer.Fits(len(p.Data), len(info)) {
		if err := h.writer.Close(); err != nil {
			return err
		}
		h.writer = nil
	}
	if h.writer == nil {
		if err := h.startFile(); err != nil {
			return err
		}
	}

	if err := h.writer.WritePage(tiff.PageSpec{
		Width:        p.Width,
		Height:       p.Height,
		DType:        p.DType,
		Data:         p.Data,
		MicroManager: info,
	}); err != nil {
		return err
	}
	h.index[h.mapper.flatIndex(c)] = pageRef{file: h.wfile, page: h.writer.NumPages() - 1}
	h.files[h.wfile].tf = nil
	h.written++
	return nil
}

// Written yields the indexed planes in axis-major order.
func (h *pagedHandle) Written() iter.Seq2[Coord, error] {
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

func (h *pagedHandle) SetMetadata(md *Metadata) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.setMetadata(md, len(h.index) > 0); err != nil {
		return err
	}
	return h.putMetadata()
}

func (h *pagedHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	var errs []error
	if h.writer != nil {
		errs = append(errs, h.writer.Close())
		h.writer = nil
	}
	if h.mode.Writable() {
		errs = append(errs, h.putMetadata())
	}
	errs = append(errs, h.closeFiles())
	h.log.Debug().Int("written", h.written).Int("files", len(h.files)).Msg("closed paged acquisition")
	return errors.Join(errs...)
}

func (h *pagedHandle) closeFiles() error {
	var errs []error
	for _, pf := range h.files {
		if pf.f == nil {
			continue
		}
		if err := pf.f.Close(); err != nil {
			h.log.Warn().Err(err).Str("file", pf.name).Msg("closing acquisition file")
			errs = append(errs, err)
		}
		pf.f = nil
	}
	return errors.Join(errs...)
}
