package models

// Page represents a single 2D image plane read from or written to a TIFF
// file. It is the atomic addressable unit of source data moved during
// reassembly.
type Page struct {
	// Width and Height are the page dimensions in pixels
	Width  int
	Height int

	// BitsPerSample is the grayscale sample depth, 8 or 16
	BitsPerSample int

	// Data holds the raw samples in row-major order, little-endian for
	// 16-bit pages. Its length is Width * Height * BitsPerSample / 8.
	Data []byte
}

// SampleBytes returns the number of bytes per sample.
func (p *Page) SampleBytes() int {
	return p.BitsPerSample / 8
}

// PageAddress locates one source page within a reassembly request.
type PageAddress struct {
	// Global is the page index within the virtual concatenation of all
	// resolved source files, in file-listing order
	Global int

	// TimeIdx is the 0-based position the page occupies in the
	// time-ordered output stream
	TimeIdx int
}
