// Package tiff implements page-level access to grayscale TIFF files: a
// reader that indexes every page of a classic or BigTIFF file and decodes
// individual pages on demand, and an incremental BigTIFF writer that
// appends one page at a time.
//
// Only the subset of TIFF produced by microscope acquisition software is
// supported: single-sample grayscale, 8 or 16 bits per sample, strip-based
// storage, compression none/LZW/deflate. Tiled, planar-separate, palette
// and predictor-encoded files are rejected.
package tiff

import "errors"

// Common errors
var (
	ErrNotTIFF     = errors.New("not a TIFF file")
	ErrUnsupported = errors.New("unsupported TIFF feature")
	ErrPageRange   = errors.New("page index out of range")
	ErrCorrupt     = errors.New("corrupt TIFF structure")
	ErrClosed      = errors.New("file is closed")
)

// TIFF tag identifiers used by the reader and writer.
const (
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagImageDescription = 270
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagPredictor        = 317
	tagSampleFormat     = 339
)

// TIFF field types.
const (
	typeByte  = 1
	typeASCII = 2
	typeShort = 3
	typeLong  = 4
	typeLong8 = 16
)

// Compression schemes.
const (
	compressionNone       = 1
	compressionLZW        = 5
	compressionDeflate    = 8
	compressionOldDeflate = 32946
)

// typeSizes maps a field type to its size in bytes. Unknown types map to 0
// and are skipped during directory parsing.
var typeSizes = map[int]int{
	typeByte:  1,
	typeASCII: 1,
	typeShort: 2,
	typeLong:  4,
	5:         8, // RATIONAL
	typeLong8: 8,
	17:        8, // SLONG8
	18:        8, // IFD8
}
