package schema

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/blang/semver"

	"github.com/aliddell/go-iohub/internal/dtype"
)

// CurrentVersion is the metadata version written by this library.
const CurrentVersion = 3

// AxisType classifies an axis.
type AxisType string

// Axis types.
const (
	AxisTime     AxisType = "time"
	AxisPosition AxisType = "position"
	AxisChannel  AxisType = "channel"
	AxisSpace    AxisType = "space"
	AxisOther    AxisType = "other"
)

// Valid reports whether t is a known axis type.
func (t AxisType) Valid() bool {
	switch t {
	case AxisTime, AxisPosition, AxisChannel, AxisSpace, AxisOther:
		return true
	}
	return false
}

// InferAxisType guesses the type of an axis from its name.
func InferAxisType(name string) AxisType {
	switch strings.ToLower(name) {
	case "t", "time", "frame", "frames":
		return AxisTime
	case "p", "position", "positions", "pos":
		return AxisPosition
	case "c", "channel", "channels":
		return AxisChannel
	case "z", "y", "x", "slice", "slices":
		return AxisSpace
	default:
		return AxisOther
	}
}

// Axis describes one dimension of a dataset.
type Axis struct {
	Name string   `json:"name"`
	Type AxisType `json:"type"`
	Size int      `json:"size"`
	Unit string   `json:"unit,omitempty"`
	Step float64  `json:"step,omitempty"`
}

// Channel describes one channel. Display holds free-form rendering hints
// such as color and intensity window.
type Channel struct {
	Name    string         `json:"name"`
	Display map[string]any `json:"display,omitempty"`
}

// Timestamp maps a (time index, position index) pair to wall-clock time.
type Timestamp struct {
	T    int       `json:"t"`
	P    int       `json:"p"`
	Time time.Time `json:"time"`
}

// StagePosition is where the stage sat for one acquisition position.
// Devices maps a stage device name to its coordinates in micrometers.
type StagePosition struct {
	Label   string               `json:"label,omitempty"`
	GridRow int                  `json:"grid_row"`
	GridCol int                  `json:"grid_col"`
	Devices map[string][]float64 `json:"devices,omitempty"`
}

// Producer identifies the software that wrote a dataset.
type Producer struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Metadata is the current-version dataset metadata record. The last two
// axes are the plane axes (Y, X); every leading axis indexes planes.
type Metadata struct {
	Version    int             `json:"version"`
	Axes       []Axis          `json:"axes"`
	Channels   []Channel       `json:"channels,omitempty"`
	DType      dtype.DType     `json:"dtype"`
	Timestamps []Timestamp     `json:"timestamps,omitempty"`
	Positions  []StagePosition `json:"positions,omitempty"`
	Producer   *Producer       `json:"producer,omitempty"`
}

// New returns current-version metadata with the given dtype and axes.
// Axis types left empty are inferred from the axis names.
func New(dt dtype.DType, axes ...Axis) *Metadata {
	md := &Metadata{
		Version: CurrentVersion,
		DType:   dt,
		Axes:    make([]Axis, len(axes)),
	}
	for i, a := range axes {
		if a.Type == "" {
			a.Type = InferAxisType(a.Name)
		}
		md.Axes[i] = a
	}
	return md
}

// Marshal encodes the record as JSON.
func (m *Metadata) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// Clone returns a deep copy, display values included.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	c := *m
	c.Axes = append([]Axis(nil), m.Axes...)
	if m.Channels != nil {
		c.Channels = make([]Channel, len(m.Channels))
		for i, ch := range m.Channels {
			c.Channels[i] = Channel{Name: ch.Name}
			if ch.Display != nil {
				c.Channels[i].Display = copyValue(ch.Display).(map[string]any)
			}
		}
	}
	c.Timestamps = append([]Timestamp(nil), m.Timestamps...)
	if m.Positions != nil {
		c.Positions = make([]StagePosition, len(m.Positions))
		for i, p := range m.Positions {
			c.Positions[i] = p
			if p.Devices != nil {
				c.Positions[i].Devices = make(map[string][]float64, len(p.Devices))
				for name, v := range p.Devices {
					c.Positions[i].Devices[name] = slices.Clone(v)
				}
			}
		}
	}
	if m.Producer != nil {
		p := *m.Producer
		c.Producer = &p
	}
	return &c
}

// copyValue copies the maps and slices of a decoded JSON value.
func copyValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = copyValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = copyValue(e)
		}
		return out
	}
	return v
}

// PlaneAxes returns the axes that index planes (all but the last two).
func (m *Metadata) PlaneAxes() []Axis {
	if len(m.Axes) < 2 {
		return nil
	}
	return m.Axes[:len(m.Axes)-2]
}

// IndexShape returns the sizes of the plane index axes.
func (m *Metadata) IndexShape() []int {
	axes := m.PlaneAxes()
	shape := make([]int, len(axes))
	for i, a := range axes {
		shape[i] = a.Size
	}
	return shape
}

// PlaneShape returns the height and width of one plane.
func (m *Metadata) PlaneShape() (height, width int) {
	if len(m.Axes) < 2 {
		return 0, 0
	}
	return m.Axes[len(m.Axes)-2].Size, m.Axes[len(m.Axes)-1].Size
}

// PlaneBytes returns the size of one plane in bytes.
func (m *Metadata) PlaneBytes() int {
	h, w := m.PlaneShape()
	return h * w * m.DType.Size()
}

// NumPlanes returns the number of planes the index axes describe.
func (m *Metadata) NumPlanes() int {
	n := 1
	for _, a := range m.PlaneAxes() {
		n *= a.Size
	}
	return n
}

// AxisIndex returns the position of the first axis of the given type, or -1.
func (m *Metadata) AxisIndex(typ AxisType) int {
	for i, a := range m.Axes {
		if a.Type == typ {
			return i
		}
	}
	return -1
}

// AxisByName returns the position of the named axis, or -1. Names are
// compared case-insensitively.
func (m *Metadata) AxisByName(name string) int {
	for i, a := range m.Axes {
		if strings.EqualFold(a.Name, name) {
			return i
		}
	}
	return -1
}

// ChannelNames returns the channel names in order.
func (m *Metadata) ChannelNames() []string {
	names := make([]string, len(m.Channels))
	for i, c := range m.Channels {
		names[i] = c.Name
	}
	return names
}

// Timestamp returns the wall-clock time recorded for (t, p).
func (m *Metadata) Timestamp(t, p int) (time.Time, bool) {
	for _, ts := range m.Timestamps {
		if ts.T == t && ts.P == p {
			return ts.Time, true
		}
	}
	return time.Time{}, false
}

// SetTimestamp records the wall-clock time of (t, p), replacing any
// previous value. Timestamps stay ordered by t, then p.
func (m *Metadata) SetTimestamp(t, p int, at time.Time) error {
	if err := m.checkTimestamp(t, p); err != nil {
		return err
	}
	for i := range m.Timestamps {
		if m.Timestamps[i].T == t && m.Timestamps[i].P == p {
			m.Timestamps[i].Time = at
			return nil
		}
	}
	m.Timestamps = append(m.Timestamps, Timestamp{T: t, P: p, Time: at})
	sort.SliceStable(m.Timestamps, func(i, j int) bool {
		a, b := m.Timestamps[i], m.Timestamps[j]
		if a.T != b.T {
			return a.T < b.T
		}
		return a.P < b.P
	})
	return nil
}

func (m *Metadata) checkTimestamp(t, p int) error {
	tSize, pSize := 1, 1
	if i := m.AxisIndex(AxisTime); i >= 0 {
		tSize = m.Axes[i].Size
	}
	if i := m.AxisIndex(AxisPosition); i >= 0 {
		pSize = m.Axes[i].Size
	}
	if t < 0 || t >= tSize || p < 0 || p >= pSize {
		return fmt.Errorf("%w: timestamp (t=%d, p=%d) outside (%d, %d)", ErrSchema, t, p, tSize, pSize)
	}
	return nil
}

// SameLayout reports whether other has the same axis names, sizes and
// dtype, i.e. whether planes written under one are valid under the other.
func (m *Metadata) SameLayout(other *Metadata) bool {
	if other == nil || len(m.Axes) != len(other.Axes) || m.DType != other.DType {
		return false
	}
	for i := range m.Axes {
		if m.Axes[i].Name != other.Axes[i].Name || m.Axes[i].Size != other.Axes[i].Size {
			return false
		}
	}
	return true
}

// Check applies the semantic rules of the current version.
func (m *Metadata) Check() error {
	if m.Version != CurrentVersion {
		return fmt.Errorf("%w: version %d, want %d", ErrUnsupportedVersion, m.Version, CurrentVersion)
	}
	if len(m.Axes) < 2 {
		return fmt.Errorf("%w: need at least the Y and X axes, got %d axes", ErrSchema, len(m.Axes))
	}

	seen := make(map[string]bool, len(m.Axes))
	for i, a := range m.Axes {
		if a.Name == "" {
			return fmt.Errorf("%w: axis %d has no name", ErrSchema, i)
		}
		key := strings.ToLower(a.Name)
		if seen[key] {
			return fmt.Errorf("%w: duplicate axis %q", ErrSchema, a.Name)
		}
		seen[key] = true
		if a.Size <= 0 {
			return fmt.Errorf("%w: axis %q has non-positive size %d", ErrSchema, a.Name, a.Size)
		}
		if !a.Type.Valid() {
			return fmt.Errorf("%w: axis %q has unknown type %q", ErrSchema, a.Name, a.Type)
		}
		if a.Step < 0 {
			return fmt.Errorf("%w: axis %q has negative step", ErrSchema, a.Name)
		}
	}
	for _, a := range m.Axes[len(m.Axes)-2:] {
		if a.Type != AxisSpace {
			return fmt.Errorf("%w: plane axis %q must be a space axis, got %q", ErrSchema, a.Name, a.Type)
		}
	}
	for _, typ := range []AxisType{AxisTime, AxisPosition, AxisChannel} {
		count := 0
		for _, a := range m.Axes {
			if a.Type == typ {
				count++
			}
		}
		if count > 1 {
			return fmt.Errorf("%w: %d %s axes", ErrSchema, count, typ)
		}
	}

	if !m.DType.Valid() {
		return fmt.Errorf("%w: invalid dtype", ErrSchema)
	}

	if c := m.AxisIndex(AxisChannel); c >= 0 {
		if len(m.Channels) != m.Axes[c].Size {
			return fmt.Errorf("%w: %d channel descriptors for channel axis of size %d",
				ErrSchema, len(m.Channels), m.Axes[c].Size)
		}
	} else if len(m.Channels) > 1 {
		return fmt.Errorf("%w: %d channel descriptors without a channel axis", ErrSchema, len(m.Channels))
	}
	names := make(map[string]bool, len(m.Channels))
	for i, ch := range m.Channels {
		if ch.Name == "" {
			return fmt.Errorf("%w: channel %d has no name", ErrSchema, i)
		}
		if names[ch.Name] {
			return fmt.Errorf("%w: duplicate channel %q", ErrSchema, ch.Name)
		}
		names[ch.Name] = true
	}

	if p := m.AxisIndex(AxisPosition); p >= 0 {
		if len(m.Positions) > 0 && len(m.Positions) != m.Axes[p].Size {
			return fmt.Errorf("%w: %d stage positions for position axis of size %d",
				ErrSchema, len(m.Positions), m.Axes[p].Size)
		}
	} else if len(m.Positions) > 1 {
		return fmt.Errorf("%w: %d stage positions without a position axis", ErrSchema, len(m.Positions))
	}

	for _, ts := range m.Timestamps {
		if err := m.checkTimestamp(ts.T, ts.P); err != nil {
			return err
		}
	}

	if m.Producer != nil {
		if _, err := semver.Make(m.Producer.Version); err != nil {
			return fmt.Errorf("%w: producer version %q: %v", ErrSchema, m.Producer.Version, err)
		}
	}
	return nil
}
