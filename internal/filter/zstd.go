package filter

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdDecoderPool pools zstd decoders for reuse. Decoders operate without
// allocations after warmup.
var zstdDecoderPool = sync.Pool{
	New: func() any {
		decoder, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderLowmem(false),
		)
		if err != nil {
			panic(fmt.Sprintf("failed to create zstd decoder for pool: %v", err))
		}
		return decoder
	},
}

// zstdEncoderPools holds one encoder pool per encoder speed.
var (
	zstdEncoderMu    sync.Mutex
	zstdEncoderPools = map[zstd.EncoderLevel]*sync.Pool{}
)

func zstdEncoderPool(level zstd.EncoderLevel) *sync.Pool {
	zstdEncoderMu.Lock()
	defer zstdEncoderMu.Unlock()

	if p, ok := zstdEncoderPools[level]; ok {
		return p
	}
	p := &sync.Pool{
		New: func() any {
			encoder, err := zstd.NewWriter(nil,
				zstd.WithEncoderLevel(level),
				zstd.WithEncoderConcurrency(1),
			)
			if err != nil {
				panic(fmt.Sprintf("failed to create zstd encoder for pool: %v", err))
			}
			return encoder
		},
	}
	zstdEncoderPools[level] = p
	return p
}

// Zstd implements the Zstandard codec.
type Zstd struct {
	level int
	pool  *sync.Pool
}

// NewZstd creates a zstd codec for a numeric zstd level (1-22).
// Level 0 selects the library default.
func NewZstd(level int) (*Zstd, error) {
	if level < 0 || level > 22 {
		return nil, fmt.Errorf("zstd: invalid level %d", level)
	}
	speed := zstd.SpeedDefault
	if level > 0 {
		speed = zstd.EncoderLevelFromZstd(level)
	}
	return &Zstd{level: level, pool: zstdEncoderPool(speed)}, nil
}

func (f *Zstd) ID() string {
	return "zstd"
}

// Encode compresses input with a pooled encoder. EncodeAll is stateless, so
// the encoder is safe to return to the pool afterwards.
func (f *Zstd) Encode(input []byte) ([]byte, error) {
	encoder := f.pool.Get().(*zstd.Encoder)
	defer f.pool.Put(encoder)

	return encoder.EncodeAll(input, nil), nil
}

func (f *Zstd) Decode(input []byte) ([]byte, error) {
	if len(input) == 0 {
		return nil, fmt.Errorf("zstd: empty input")
	}

	decoder := zstdDecoderPool.Get().(*zstd.Decoder)
	defer zstdDecoderPool.Put(decoder)

	output, err := decoder.DecodeAll(input, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}

	return output, nil
}
