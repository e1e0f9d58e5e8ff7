package stitch

import (
	"prairiestack/pkg/metadata"
)

// PageIndices computes the global page-sequence positions belonging to the
// output stream for the given plane and channel, one per timepoint in time
// order.
//
// Source pages are interleaved with the channel varying fastest, then the
// plane, then time: for timepoint t, plane position p and channel position
// c the global page index is t*(channels*planes) + p*channels + c. Plane
// and channel positions are taken within the ascending PlaneIndices and
// Channels sets. Transposing the plane/channel nesting would silently
// deliver frames from the wrong depth or wavelength, so this order is
// fixed.
func PageIndices(meta *metadata.ScanMetadata, plane, channel int) ([]int, error) {
	plane, channel, err := normalizeSelection(meta, plane, channel)
	if err != nil {
		return nil, err
	}

	planeStep := meta.NumChannels
	timeStep := meta.NumChannels * meta.NumPlanes
	planePos := indexOf(meta.PlaneIndices, plane)
	chanPos := indexOf(meta.Channels, channel)

	indices := make([]int, meta.NumTimepoints)
	for t := 0; t < meta.NumTimepoints; t++ {
		indices[t] = t*timeStep + planePos*planeStep + chanPos
	}
	return indices, nil
}
