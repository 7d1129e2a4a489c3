package block_device

// SectorSize is the size in bytes of the smallest addressable unit.
const SectorSize = 512

// Sector is a flat sector address on a device.
type Sector uint32

// NoSector is the reserved "no sector" value. It is never a valid address.
const NoSector Sector = 0xFFFFFFFF

// Device is a synchronous sector-addressed block device. ReadSector and
// WriteSector move exactly SectorSize bytes.
type Device interface {
	ReadSector(sector Sector, buf []byte) error
	WriteSector(sector Sector, buf []byte) error
	SectorCount() uint32
	Close() error
}

// CheckAccess validates a sector address and buffer against a device of
// count sectors.
func CheckAccess(sector Sector, buf []byte, count uint32) error {
	if len(buf) < SectorSize {
		return ErrShortBuffer
	}
	if uint32(sector) >= count {
		return ErrSectorOutOfRange
	}
	return nil
}
