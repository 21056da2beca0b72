package filter

import (
	"fmt"

	"github.com/klauspost/compress/s2"
)

// S2 implements the S2 block codec.
type S2 struct{}

// NewS2 creates a new S2 codec.
func NewS2() *S2 {
	return &S2{}
}

func (f *S2) ID() string {
	return "s2"
}

func (f *S2) Encode(input []byte) ([]byte, error) {
	return s2.Encode(nil, input), nil
}

func (f *S2) Decode(input []byte) ([]byte, error) {
	output, err := s2.Decode(nil, input)
	if err != nil {
		return nil, fmt.Errorf("s2 decompress: %w", err)
	}
	return output, nil
}
