package memory

import (
	"sync"

	"github.com/AnishMulay/sectorfs/internal/block_device"
)

// FaultFunc decides whether an access should fail. Returning a non-nil error
// aborts the access with that error.
type FaultFunc func(op string, sector block_device.Sector) error

// MemoryBlockDevice is a RAM disk. It also counts device accesses so callers
// can tell cached from uncached I/O.
type MemoryBlockDevice struct {
	mu      sync.Mutex
	data    []byte
	sectors uint32
	fault   FaultFunc

	reads  int
	writes int
}

func NewMemoryBlockDevice(sectors uint32) *MemoryBlockDevice {
	return &MemoryBlockDevice{
		data:    make([]byte, int(sectors)*block_device.SectorSize),
		sectors: sectors,
	}
}

// SetFault installs a fault hook. Pass nil to clear it.
func (d *MemoryBlockDevice) SetFault(fn FaultFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fault = fn
}

func (d *MemoryBlockDevice) ReadSector(sector block_device.Sector, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := block_device.CheckAccess(sector, buf, d.sectors); err != nil {
		return err
	}
	if d.fault != nil {
		if err := d.fault("read", sector); err != nil {
			return err
		}
	}

	off := int(sector) * block_device.SectorSize
	copy(buf[:block_device.SectorSize], d.data[off:off+block_device.SectorSize])
	d.reads++
	return nil
}

func (d *MemoryBlockDevice) WriteSector(sector block_device.Sector, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := block_device.CheckAccess(sector, buf, d.sectors); err != nil {
		return err
	}
	if d.fault != nil {
		if err := d.fault("write", sector); err != nil {
			return err
		}
	}

	off := int(sector) * block_device.SectorSize
	copy(d.data[off:off+block_device.SectorSize], buf[:block_device.SectorSize])
	d.writes++
	return nil
}

func (d *MemoryBlockDevice) SectorCount() uint32 {
	return d.sectors
}

func (d *MemoryBlockDevice) Close() error {
	return nil
}

// Counters reports how many sector reads and writes reached the device.
func (d *MemoryBlockDevice) Counters() (reads, writes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads, d.writes
}

// Peek returns a copy of a sector's raw content without counting an access.
func (d *MemoryBlockDevice) Peek(sector block_device.Sector) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]byte, block_device.SectorSize)
	off := int(sector) * block_device.SectorSize
	copy(out, d.data[off:off+block_device.SectorSize])
	return out
}

var _ block_device.Device = (*MemoryBlockDevice)(nil)
