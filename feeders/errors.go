package feeders

import "errors"

// Feeder errors
var (
	ErrUnsupportedFormat = errors.New("unsupported configuration file format")
	ErrReadSource        = errors.New("failed to read configuration source")
)
