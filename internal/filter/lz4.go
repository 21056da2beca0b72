package filter

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// maxLZ4Size bounds the decoded size accepted from a block header.
const maxLZ4Size = 1 << 30

var lz4CompressorPool = sync.Pool{
	New: func() any {
		return &lz4.Compressor{}
	},
}

// LZ4 implements the lz4 codec. Blocks are prefixed with the decoded size
// as a little-endian uint32, matching numcodecs.
type LZ4 struct{}

// NewLZ4 creates a new LZ4 codec.
func NewLZ4() *LZ4 {
	return &LZ4{}
}

func (f *LZ4) ID() string {
	return "lz4"
}

func (f *LZ4) Encode(input []byte) ([]byte, error) {
	dst := make([]byte, 4+lz4.CompressBlockBound(len(input)))
	binary.LittleEndian.PutUint32(dst, uint32(len(input)))
	if len(input) == 0 {
		return dst[:4], nil
	}

	lc := lz4CompressorPool.Get().(*lz4.Compressor)
	defer lz4CompressorPool.Put(lc)

	n, err := lc.CompressBlock(input, dst[4:])
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("lz4 compress: block not compressible")
	}

	return dst[:4+n], nil
}

func (f *LZ4) Decode(input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("lz4: input too short for size header")
	}
	size := binary.LittleEndian.Uint32(input)
	if size > maxLZ4Size {
		return nil, fmt.Errorf("lz4: decoded size %d exceeds limit", size)
	}
	if size == 0 {
		return []byte{}, nil
	}

	output := make([]byte, size)
	n, err := lz4.UncompressBlock(input[4:], output)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if n != int(size) {
		return nil, fmt.Errorf("lz4: decoded %d bytes, header says %d", n, size)
	}

	return output, nil
}
