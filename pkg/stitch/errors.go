package stitch

import "errors"

// Common errors
var (
	// ErrAmbiguousSelection is returned when the plane or channel is
	// omitted while more than one exists in the acquisition.
	ErrAmbiguousSelection = errors.New("ambiguous plane/channel selection")

	// ErrInvalidSelection is returned when the supplied plane or channel
	// is not present in the scan metadata.
	ErrInvalidSelection = errors.New("invalid plane/channel selection")

	// ErrCorruptSourcePage is returned when a source file violates the
	// page-count invariant of its storage layout.
	ErrCorruptSourcePage = errors.New("source file violates page layout")
)
