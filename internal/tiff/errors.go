package tiff

import "errors"

var (
	// ErrNotTIFF is returned when the header is not a TIFF header.
	ErrNotTIFF = errors.New("not a TIFF file")

	// ErrCorrupt is returned when directory or strip bytes are missing or
	// inconsistent with the declared page shape.
	ErrCorrupt = errors.New("corrupt TIFF data")

	// ErrUnsupported is returned for valid TIFF features this package does
	// not handle (multiple samples per pixel, predictors, JPEG, ...).
	ErrUnsupported = errors.New("unsupported TIFF feature")

	// ErrTooLarge is returned when a write would exceed 32-bit offsets.
	ErrTooLarge = errors.New("classic TIFF size limit exceeded")
)
