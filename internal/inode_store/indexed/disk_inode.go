package indexed

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/AnishMulay/sectorfs/internal/block_device"
	"github.com/AnishMulay/sectorfs/internal/inode_store"
)

// diskInode is the on-disk inode record. It fills exactly one sector.
type diskInode struct {
	Length         int32
	Magic          uint32
	Direct         [inode_store.DirectPointers]block_device.Sector
	Indirect       block_device.Sector
	DoublyIndirect block_device.Sector
}

// indirectBlock is a sector full of sector addresses.
type indirectBlock [inode_store.PointersPerBlock]block_device.Sector

func init() {
	if n := binary.Size(diskInode{}); n != block_device.SectorSize {
		panic(fmt.Sprintf("disk inode is %d bytes, want %d", n, block_device.SectorSize))
	}
}

func encodeSector(v any) []byte {
	var buf bytes.Buffer
	buf.Grow(block_device.SectorSize)
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		panic(fmt.Sprintf("encode sector: %v", err))
	}
	return buf.Bytes()
}

func decodeSector(b []byte, v any) error {
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, v)
}

func (d *diskInode) encode() []byte { return encodeSector(d) }

func (d *diskInode) decode(b []byte) error {
	if err := decodeSector(b, d); err != nil {
		return err
	}
	if d.Magic != inode_store.InodeMagic {
		return fmt.Errorf("magic %#x: %w", d.Magic, inode_store.ErrCorruptInode)
	}
	return nil
}

func (blk *indirectBlock) encode() []byte { return encodeSector(blk) }

func (blk *indirectBlock) decode(b []byte) error { return decodeSector(b, blk) }
