package block_device

import "errors"

var (
	ErrShortBuffer      = errors.New("buffer smaller than one sector")
	ErrSectorOutOfRange = errors.New("sector out of device range")
)
