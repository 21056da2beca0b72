package filter

import (
	"encoding/binary"
	"fmt"
)

// Fletcher32 appends a Fletcher-32 checksum to each chunk as 4
// little-endian bytes and verifies it on decode.
type Fletcher32 struct{}

// NewFletcher32 creates a new Fletcher-32 filter.
func NewFletcher32() *Fletcher32 {
	return &Fletcher32{}
}

func (f *Fletcher32) ID() string {
	return "fletcher32"
}

func (f *Fletcher32) Encode(input []byte) ([]byte, error) {
	output := make([]byte, len(input)+4)
	copy(output, input)
	binary.LittleEndian.PutUint32(output[len(input):], fletcher32(input))
	return output, nil
}

// Decode verifies the checksum and returns the data without it.
func (f *Fletcher32) Decode(input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("fletcher32: %d bytes is too short for a checksum", len(input))
	}
	data := input[:len(input)-4]
	stored := binary.LittleEndian.Uint32(input[len(input)-4:])
	if sum := fletcher32(data); sum != stored {
		return nil, fmt.Errorf("fletcher32: checksum mismatch (stored=0x%08x, computed=0x%08x)", stored, sum)
	}
	return data, nil
}

// fletcher32 sums data as little-endian 16-bit words; an odd trailing
// byte is zero-padded.
func fletcher32(data []byte) uint32 {
	var sum1, sum2 uint32
	for len(data) >= 2 {
		sum1 = (sum1 + uint32(binary.LittleEndian.Uint16(data))) % 65535
		sum2 = (sum2 + sum1) % 65535
		data = data[2:]
	}
	if len(data) == 1 {
		sum1 = (sum1 + uint32(data[0])) % 65535
		sum2 = (sum2 + sum1) % 65535
	}
	return sum2<<16 | sum1
}
