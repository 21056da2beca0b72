package iohub

import (
	"github.com/aliddell/go-iohub/internal/dtype"
	"github.com/aliddell/go-iohub/internal/filter"
	"github.com/aliddell/go-iohub/internal/schema"
)

// Version is the library version stamped into converted datasets.
const Version = "0.4.0"

// CurrentVersion is the metadata version written by this package.
const CurrentVersion = schema.CurrentVersion

type (
	Metadata  = schema.Metadata
	Axis      = schema.Axis
	AxisType  = schema.AxisType
	Channel   = schema.Channel
	Timestamp = schema.Timestamp
	Producer  = schema.Producer

	// StagePosition is the recorded stage location of one position.
	StagePosition = schema.StagePosition

	// Engine validates and migrates metadata records.
	Engine = schema.Engine

	// DType is a pixel sample type.
	DType = dtype.DType

	// CodecConfig configures one chunk codec, e.g. {ID: "zstd", Level: 3}.
	CodecConfig = filter.Config
)

// Axis types.
const (
	AxisTime     = schema.AxisTime
	AxisPosition = schema.AxisPosition
	AxisChannel  = schema.AxisChannel
	AxisSpace    = schema.AxisSpace
	AxisOther    = schema.AxisOther
)

// Pixel types.
const (
	Uint8   = dtype.Uint8
	Uint16  = dtype.Uint16
	Uint32  = dtype.Uint32
	Uint64  = dtype.Uint64
	Int8    = dtype.Int8
	Int16   = dtype.Int16
	Int32   = dtype.Int32
	Int64   = dtype.Int64
	Float32 = dtype.Float32
	Float64 = dtype.Float64
)

// NewMetadata returns current-version metadata. Axis types left empty are
// inferred from the axis names; the last two axes must be Y and X.
func NewMetadata(dt DType, axes ...Axis) *Metadata {
	return schema.New(dt, axes...)
}

// NewEngine returns a metadata engine for every known version.
func NewEngine() (*Engine, error) {
	return schema.NewEngine()
}

// ParseDType parses a dtype name such as "uint16" or "<u2".
func ParseDType(s string) (DType, error) {
	return dtype.Parse(s)
}

// migrate validates md through the engine, upgrading it when it was built
// for an older version.
func migrate(eng *Engine, md *Metadata) (*Metadata, error) {
	raw, err := md.Marshal()
	if err != nil {
		return nil, kindErr(ErrSchema, "encoding metadata: %v", err)
	}
	return eng.Migrate(raw, CurrentVersion)
}
