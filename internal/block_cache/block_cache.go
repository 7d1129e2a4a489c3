package block_cache

import (
	"github.com/AnishMulay/sectorfs/internal/block_device"
)

// DefaultCapacity is the number of sector slots a cache holds unless
// configured otherwise.
const DefaultCapacity = 64

// BlockCache is a write-back sector cache in front of a Device. Read and
// Write always move a whole sector.
type BlockCache interface {
	Read(sector block_device.Sector, buf []byte) error
	Write(sector block_device.Sector, buf []byte) error
	FlushAll() error
	Stats() Stats
}

type Stats struct {
	Capacity   int
	Resident   int
	Dirty      int
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	WriteBacks uint64
}
