package stitch

import (
	"fmt"

	"prairiestack/pkg/metadata"
)

// Unset marks an omitted plane or channel selection. Plane indices and
// channel identifiers are never negative in practice.
const Unset = -1

// normalizeSelection applies the defaulting and validation rules shared by
// the resolver, the page-index calculator and the stitcher: an omitted
// plane or channel defaults to the sole one when only one exists and is
// ambiguous otherwise; a supplied value must be present in the metadata.
func normalizeSelection(meta *metadata.ScanMetadata, plane, channel int) (int, int, error) {
	if plane == Unset {
		if meta.NumPlanes > 1 {
			return 0, 0, fmt.Errorf("plane omitted, plane indices are %v: %w",
				meta.PlaneIndices, ErrAmbiguousSelection)
		}
		plane = meta.PlaneIndices[0]
	} else if indexOf(meta.PlaneIndices, plane) < 0 {
		return 0, 0, fmt.Errorf("plane %d, plane indices are %v: %w",
			plane, meta.PlaneIndices, ErrInvalidSelection)
	}

	if channel == Unset {
		if meta.NumChannels > 1 {
			return 0, 0, fmt.Errorf("channel omitted, channels are %v: %w",
				meta.Channels, ErrAmbiguousSelection)
		}
		channel = meta.Channels[0]
	} else if indexOf(meta.Channels, channel) < 0 {
		return 0, 0, fmt.Errorf("channel %d, channels are %v: %w",
			channel, meta.Channels, ErrInvalidSelection)
	}

	return plane, channel, nil
}

// indexOf returns the position of v in s, or -1.
func indexOf(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
