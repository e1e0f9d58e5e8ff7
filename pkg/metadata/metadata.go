// Package metadata locates a PrairieView scan descriptor XML file and
// extracts a normalized record of the acquisition: channel and plane sets,
// page and timepoint counts, timing, scan geometry and per-plane Z
// positions. The record drives the downstream file resolution and page
// addressing in pkg/stitch.
package metadata

import "time"

// ScanMetadata describes one acquisition as recorded by its XML scan
// descriptor. It is immutable once constructed.
type ScanMetadata struct {
	// NumChannels is the number of distinct detection channels
	NumChannels int

	// Channels holds the distinct channel identifiers, ascending
	Channels []int

	// NumPlanes is the number of optical scanning depths
	NumPlanes int

	// PlaneIndices holds the distinct plane identifiers, ascending
	PlaneIndices []int

	// NumPages is the total page count across the acquisition, one page
	// per channel x plane x timepoint combination
	NumPages int

	// NumTimepoints is the number of time steps, NumPages / NumPlanes.
	// "Frame" is overloaded between the page-level and timepoint-level
	// meanings; this field always carries the timepoint-level count.
	NumTimepoints int

	// FramePeriod is the seconds per timepoint reported by the scanner
	FramePeriod float64

	// FrameRate is NumTimepoints / ScanDuration, in timepoints per second
	FrameRate float64

	// IsMultipage is true when a single source file stores multiple
	// pages; false for the legacy one-page-per-file layout
	IsMultipage bool

	// PixelHeight and PixelWidth are the frame dimensions in pixels.
	// The instrument only produces square frames, so they are equal.
	PixelHeight int
	PixelWidth  int

	// UmPerPixel is the pixel pitch in microns
	UmPerPixel float64

	// HeightUm and WidthUm are the field dimensions in microns
	HeightUm float64
	WidthUm  float64

	// FieldX and FieldY are the scan-center coordinates
	FieldX float64
	FieldY float64

	// ZPositions holds one Z position per plane, ordered to match
	// PlaneIndices
	ZPositions []float64

	// BidirectionalZ is true when depth is scanned in both directions
	BidirectionalZ bool

	// ScanDatetime is the acquisition start date and time
	ScanDatetime time.Time

	// UsecPerLine is the scan line period in microseconds
	UsecPerLine float64

	// ScanDuration is the total acquisition duration in seconds
	ScanDuration float64

	// RecordingStartTime is the wall-clock start time of the first cycle,
	// verbatim from the descriptor
	RecordingStartTime string
}
