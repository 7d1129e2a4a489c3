package volume

import "errors"

var (
	ErrNotFormatted       = errors.New("device does not hold a volume")
	ErrCorruptHeader      = errors.New("volume header checksum mismatch")
	ErrUnsupportedVersion = errors.New("unsupported volume format version")
	ErrDeviceTooSmall     = errors.New("device too small for a volume")
	ErrGeometryMismatch   = errors.New("volume header does not match device size")
	ErrBusy               = errors.New("volume has open inodes")
	ErrUnmounted          = errors.New("volume is not mounted")
)
