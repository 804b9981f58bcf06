package shot

import "errors"

var (
	// ErrInvalidPaste is returned by Normalize when the plain-text flavour of
	// the clipboard payload is blank.
	ErrInvalidPaste = errors.New("shot: invalid paste content")

	// ErrImageDecode is returned when the synthesized SVG document cannot be
	// decoded into a bitmap.
	ErrImageDecode = errors.New("shot: image decode failed")

	// ErrEmptyNode is returned when a capture is requested for a nil node or a
	// node that is not an element.
	ErrEmptyNode = errors.New("shot: nothing to capture")

	// ErrBadDimensions is returned for captures with a non-positive size.
	ErrBadDimensions = errors.New("shot: width and height must be positive")

	// ErrCanvasTooLarge is returned when a canvas without a snapshot source
	// declares a size no blank snapshot can be allocated for.
	ErrCanvasTooLarge = errors.New("shot: canvas too large")
)
