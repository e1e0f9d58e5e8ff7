package metadata

import "errors"

// Common errors
var (
	// ErrDescriptorNotFound is returned when no XML file carrying a
	// Sequence element exists in the target directory.
	ErrDescriptorNotFound = errors.New("no scan descriptor XML file found")

	// ErrMalformedDescriptor is returned when a required descriptor field
	// is absent, the page count is not divisible by the plane count, or
	// the varying Z-axis controller cannot be determined unambiguously.
	ErrMalformedDescriptor = errors.New("malformed scan descriptor")
)
