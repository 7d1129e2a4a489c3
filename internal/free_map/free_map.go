package free_map

import (
	"errors"

	"github.com/AnishMulay/sectorfs/internal/block_device"
)

var (
	ErrNoSpace       = errors.New("no free sectors left on device")
	ErrDoubleFree    = errors.New("sector is already free")
	ErrInvalidSector = errors.New("sector is outside the free map")
)

// FreeMap tracks which device sectors are in use.
type FreeMap interface {
	Allocate() (block_device.Sector, error)
	Release(sector block_device.Sector) error
	IsAllocated(sector block_device.Sector) bool
	FreeCount() uint32
}
