package inode_store

import (
	"github.com/AnishMulay/sectorfs/internal/block_device"
)

const (
	// DirectPointers is the number of data sectors addressed straight from
	// the inode record.
	DirectPointers = 124
	// PointersPerBlock is the number of sector addresses in an indirect block.
	PointersPerBlock = block_device.SectorSize / 4
	// InodeMagic identifies a valid on-disk inode record.
	InodeMagic uint32 = 0x494e4f44

	MaxSectors = DirectPointers + PointersPerBlock + PointersPerBlock*PointersPerBlock
	MaxLength  = int64(MaxSectors) * block_device.SectorSize
)

// InodeStore creates inode records on disk and hands out shared in-memory
// handles for them.
type InodeStore interface {
	// Create writes a new inode of length bytes at sector and allocates
	// every data sector it needs, zero-filled.
	Create(sector block_device.Sector, length int64) error
	// Open returns the handle for the inode at sector. Opening the same
	// sector twice yields the same handle.
	Open(sector block_device.Sector) (Inode, error)
	// OpenCount is the number of distinct inodes currently open.
	OpenCount() int
}

type Inode interface {
	Sector() block_device.Sector
	Length() int64

	// ReadAt follows io.ReaderAt: a read that stops at end of file
	// returns the bytes copied and io.EOF.
	ReadAt(p []byte, off int64) (int, error)
	// WriteAt overwrites bytes inside the file. Files never grow, so a
	// write that reaches past the end of the file panics.
	WriteAt(p []byte, off int64) (int, error)

	Reopen() Inode
	Close() error
	Remove()
	IsRemoved() bool

	DenyWrite() error
	AllowWrite() error
}

// SectorsFor returns the number of data sectors a file of length bytes
// occupies.
func SectorsFor(length int64) uint32 {
	return uint32((length + block_device.SectorSize - 1) / block_device.SectorSize)
}
