package stream

import "errors"

var (
	// ErrNotFound is returned for an unknown stream id or a missing file
	// inside a stream's output directory.
	ErrNotFound = errors.New("stream not found")

	// ErrInvalidSource is returned when a conversion request carries a
	// missing or non-rtsp:// source URL.
	ErrInvalidSource = errors.New("source URL must use the rtsp:// scheme")

	// ErrDuplicateID is returned by Registry.Register when the generated
	// identifier is already present. With UUID generation this indicates
	// a bug, not an expected runtime condition.
	ErrDuplicateID = errors.New("duplicate stream id")

	// ErrLaunch is returned when the encoder process could not be started.
	ErrLaunch = errors.New("failed to launch encoder")
)
