package file

import "errors"

// ErrInvalidFile is returned when a queue file fails its checksum or is truncated.
var ErrInvalidFile = errors.New("invalid queue file")
