package iohub

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/aliddell/go-iohub/internal/tiff"
)

// pageInfo is the per-page record stored in the Micro-Manager metadata
// tag of TIFF-based layouts.
type pageInfo struct {
	Coords map[string]int `json:"Coords"`
	Time   string         `json:"Time,omitempty"`
}

// timeIndex returns the time and position indices of c, 0 for axes the
// layout does not have.
func timeIndex(md *Metadata, c Coord) (t, p int) {
	if i := md.AxisIndex(AxisTime); i >= 0 && i < len(c) {
		t = c[i]
	}
	if i := md.AxisIndex(AxisPosition); i >= 0 && i < len(c) {
		p = c[i]
	}
	return t, p
}

func encodePageInfo(md *Metadata, c Coord) (string, error) {
	info := pageInfo{Coords: make(map[string]int, len(c))}
	for i, a := range md.PlaneAxes() {
		info.Coords[a.Name] = c[i]
	}
	if at, ok := md.Timestamp(timeIndex(md, c)); ok {
		info.Time = at.Format(time.RFC3339Nano)
	}
	raw, err := json.Marshal(info)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// decodePageInfo parses a page record. ok is false when the text is not a
// page record; axes missing from it are taken as index 0. stamp is the
// unparsed page time.
func decodePageInfo(md *Metadata, text string) (c Coord, stamp string, ok bool) {
	if text == "" {
		return nil, "", false
	}
	var info pageInfo
	if err := json.Unmarshal([]byte(text), &info); err != nil || info.Coords == nil {
		return nil, "", false
	}
	axes := md.PlaneAxes()
	c = make(Coord, len(axes))
	for i, a := range axes {
		c[i] = info.Coords[a.Name]
	}
	return c, info.Time, true
}

// tiffErr maps page reader errors to error kinds.
func tiffErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tiff.ErrNotTIFF):
		return kindErr(ErrUnsupportedLayout, "%v", err)
	case errors.Is(err, tiff.ErrCorrupt), errors.Is(err, tiff.ErrUnsupported):
		return kindErr(ErrCorruptData, "%v", err)
	}
	return err
}

// readPage reads a page and checks it against the plane shape of md.
func readPage(md *Metadata, page *tiff.Page, c Coord) (*Plane, error) {
	h, w := md.PlaneShape()
	if page.Height != h || page.Width != w || page.DType != md.DType {
		return nil, kindErr(ErrCorruptData, "page %d is %dx%d %s, dataset planes are %dx%d %s",
			page.Index, page.Height, page.Width, page.DType, h, w, md.DType)
	}
	data, err := page.Read()
	if err != nil {
		return nil, tiffErr(err)
	}
	return &Plane{Coord: c.Clone(), DType: md.DType, Height: h, Width: w, Data: data}, nil
}

// tiffOptions returns the page writer options of o.
func tiffOptions(o *options, limit int64) []tiff.WriterOption {
	var opts []tiff.WriterOption
	if o.deflate >= 0 {
		opts = append(opts, tiff.WithDeflate(o.deflate))
	}
	if limit > 0 {
		opts = append(opts, tiff.WithSizeLimit(uint64(limit)))
	}
	return opts
}

// indexPages assigns a plane to every page of one file. Pages without a
// coordinate record take the next flat position from seq; pages outside
// the declared axes are logged and skipped. Page times fill timestamps
// the metadata does not have yet.
func (h *handleBase) indexPages(name string, pages []*tiff.Page, seq *int, add func(flat, page int)) {
	for pi, page := range pages {
		c, stamp, ok := decodePageInfo(h.md, page.MicroManager())
		if !ok {
			var err error
			c, err = h.mapper.ToAxisCoordinate(StorageKey{Offset: int64(*seq)})
			*seq++
			if err != nil {
				h.log.Warn().Str("file", name).Int("page", pi).Msg("page beyond the declared axes, ignored")
				continue
			}
		}
		if err := h.mapper.Validate(c); err != nil {
			h.log.Warn().Str("file", name).Int("page", pi).Err(err).Msg("page coordinate outside the declared axes, ignored")
			continue
		}
		add(h.mapper.flatIndex(c), pi)
		if stamp != "" {
			h.pageTime(name, pi, c, stamp)
		}
	}
}

// pageTime records the time of the page at c unless the metadata already
// has one for its time point and position.
func (h *handleBase) pageTime(name string, page int, c Coord, stamp string) {
	at, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		h.log.Debug().Str("file", name).Int("page", page).Str("time", stamp).Err(err).Msg("unparsable page time")
		return
	}
	t, p := timeIndex(h.md, c)
	if _, ok := h.md.Timestamp(t, p); ok {
		return
	}
	if err := h.md.SetTimestamp(t, p, at); err != nil {
		h.log.Debug().Str("file", name).Int("page", page).Int("t", t).Int("p", p).Err(err).Msg("page time not recorded")
	}
}
