package capture

import "errors"

var (
	// ErrCaptureInProgress is returned by Shoot while another capture runs.
	ErrCaptureInProgress = errors.New("capture: capture already in progress")
	// ErrSaveCancelled is returned by Host.SavePath when the user dismisses
	// the save dialog.
	ErrSaveCancelled = errors.New("capture: save cancelled")
	// ErrClosed is returned once the preview session has been closed.
	ErrClosed = errors.New("capture: session closed")
	// ErrUnknownMessage is returned for message types outside the protocol.
	ErrUnknownMessage = errors.New("capture: unknown message type")
)
