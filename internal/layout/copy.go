package layout

import (
	"fmt"
)

// Strides returns the byte stride of each dimension of a row-major buffer.
func Strides(dims []int, elementSize int) []int {
	strides := make([]int, len(dims))
	if len(dims) == 0 {
		return strides
	}
	strides[len(dims)-1] = elementSize
	for d := len(dims) - 2; d >= 0; d-- {
		strides[d] = strides[d+1] * dims[d+1]
	}
	return strides
}

// CopyRegion copies a box of count elements from src, starting at srcStart
// in a buffer of shape srcDims, into dst at dstStart in a buffer of shape
// dstDims. All slices must have the same rank.
func CopyRegion(
	dst []byte, dstDims, dstStart []int,
	src []byte, srcDims, srcStart []int,
	count []int, elementSize int,
) error {
	ndims := len(count)
	if ndims == 0 {
		return fmt.Errorf("cannot copy a zero-rank region")
	}
	if len(dstDims) != ndims || len(dstStart) != ndims || len(srcDims) != ndims || len(srcStart) != ndims {
		return fmt.Errorf("rank mismatch in region copy")
	}
	for d := 0; d < ndims; d++ {
		if count[d] == 0 {
			return nil
		}
		if srcStart[d] < 0 || srcStart[d]+count[d] > srcDims[d] {
			return fmt.Errorf("dimension %d: source range [%d, %d) outside [0, %d)",
				d, srcStart[d], srcStart[d]+count[d], srcDims[d])
		}
		if dstStart[d] < 0 || dstStart[d]+count[d] > dstDims[d] {
			return fmt.Errorf("dimension %d: destination range [%d, %d) outside [0, %d)",
				d, dstStart[d], dstStart[d]+count[d], dstDims[d])
		}
	}
	if need := Product(srcDims) * elementSize; len(src) < need {
		return fmt.Errorf("source buffer has %d bytes, shape needs %d", len(src), need)
	}
	if need := Product(dstDims) * elementSize; len(dst) < need {
		return fmt.Errorf("destination buffer has %d bytes, shape needs %d", len(dst), need)
	}

	srcStrides := Strides(srcDims, elementSize)
	dstStrides := Strides(dstDims, elementSize)

	copyRecursive(dst, src, dstStart, srcStart, count, dstStrides, srcStrides, 0, 0, 0)
	return nil
}

// copyRecursive walks the leading dimensions and copies contiguous rows at
// the innermost one.
func copyRecursive(
	dst, src []byte,
	dstStart, srcStart, count []int,
	dstStrides, srcStrides []int,
	dstOffset, srcOffset int,
	dim int,
) {
	if dim == len(count)-1 {
		rowBytes := count[dim] * srcStrides[dim]
		s := srcOffset + srcStart[dim]*srcStrides[dim]
		t := dstOffset + dstStart[dim]*dstStrides[dim]
		copy(dst[t:t+rowBytes], src[s:s+rowBytes])
		return
	}

	for i := 0; i < count[dim]; i++ {
		copyRecursive(
			dst, src,
			dstStart, srcStart, count,
			dstStrides, srcStrides,
			dstOffset+(dstStart[dim]+i)*dstStrides[dim],
			srcOffset+(srcStart[dim]+i)*srcStrides[dim],
			dim+1,
		)
	}
}
