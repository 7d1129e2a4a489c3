package indexed

import (
	"fmt"

	"github.com/AnishMulay/sectorfs/internal/block_cache"
	"github.com/AnishMulay/sectorfs/internal/block_device"
	"github.com/AnishMulay/sectorfs/internal/free_map"
	"github.com/AnishMulay/sectorfs/internal/inode_store"
)

const (
	direct = inode_store.DirectPointers
	perBlk = inode_store.PointersPerBlock
)

var zeroSector [block_device.SectorSize]byte

// pointerTree maps logical block indexes onto sectors and allocates or
// releases the sectors of an inode record.
type pointerTree struct {
	cache block_cache.BlockCache
	fm    free_map.FreeMap
}

func (t *pointerTree) readIndirect(sector block_device.Sector) (*indirectBlock, error) {
	buf := make([]byte, block_device.SectorSize)
	if err := t.cache.Read(sector, buf); err != nil {
		return nil, err
	}
	blk := new(indirectBlock)
	if err := blk.decode(buf); err != nil {
		return nil, fmt.Errorf("decode indirect block %d: %w", sector, err)
	}
	return blk, nil
}

// resolve returns the sector holding logical block index, or NoSector when
// the index lies beyond the double-indirect tier.
func (t *pointerTree) resolve(d *diskInode, index uint32) (block_device.Sector, error) {
	if index < direct {
		return d.Direct[index], nil
	}
	index -= direct

	if index < perBlk {
		blk, err := t.readIndirect(d.Indirect)
		if err != nil {
			return block_device.NoSector, err
		}
		return blk[index], nil
	}
	index -= perBlk

	if index < perBlk*perBlk {
		outer, err := t.readIndirect(d.DoublyIndirect)
		if err != nil {
			return block_device.NoSector, err
		}
		inner, err := t.readIndirect(outer[index/perBlk])
		if err != nil {
			return block_device.NoSector, err
		}
		return inner[index%perBlk], nil
	}
	return block_device.NoSector, nil
}

// allocation records every sector taken while building one record so a
// failed attempt can hand them all back.
type allocation struct {
	t     *pointerTree
	taken []block_device.Sector
}

func (a *allocation) take() (block_device.Sector, error) {
	s, err := a.t.fm.Allocate()
	if err != nil {
		return block_device.NoSector, err
	}
	a.taken = append(a.taken, s)
	if err := a.t.cache.Write(s, zeroSector[:]); err != nil {
		return block_device.NoSector, fmt.Errorf("zero sector %d: %w", s, err)
	}
	return s, nil
}

func (a *allocation) rollback() error {
	var first error
	for i := len(a.taken) - 1; i >= 0; i-- {
		if err := a.t.fm.Release(a.taken[i]); err != nil && first == nil {
			first = err
		}
	}
	a.taken = nil
	return first
}

// allocate fills the pointer tiers of d in order until every data sector
// of the record's length is present.
func (t *pointerTree) allocate(d *diskInode) ([]block_device.Sector, error) {
	a := &allocation{t: t}
	if err := a.allocateRecord(d); err != nil {
		if rerr := a.rollback(); rerr != nil {
			return nil, fmt.Errorf("%w (rollback: %v)", err, rerr)
		}
		return nil, err
	}
	return a.taken, nil
}

func (a *allocation) allocateRecord(d *diskInode) error {
	sectors := inode_store.SectorsFor(int64(d.Length))

	n := min(sectors, direct)
	for i := uint32(0); i < n; i++ {
		if d.Direct[i] != 0 {
			continue
		}
		s, err := a.take()
		if err != nil {
			return err
		}
		d.Direct[i] = s
	}
	sectors -= n
	if sectors == 0 {
		return nil
	}

	n = min(sectors, perBlk)
	if err := a.allocateIndirect(&d.Indirect, n, 1); err != nil {
		return err
	}
	sectors -= n
	if sectors == 0 {
		return nil
	}

	n = min(sectors, perBlk*perBlk)
	return a.allocateIndirect(&d.DoublyIndirect, n, 2)
}

// allocateIndirect allocates nsectors data sectors below *entry. Depth 0 is
// a data sector, depth 1 an indirect block of data sectors and depth 2 an
// indirect block of indirect blocks. The block itself is written after its
// children.
func (a *allocation) allocateIndirect(entry *block_device.Sector, nsectors uint32, depth int) error {
	if *entry == 0 {
		s, err := a.take()
		if err != nil {
			return err
		}
		*entry = s
	}
	if depth == 0 {
		return nil
	}

	blk, err := a.t.readIndirect(*entry)
	if err != nil {
		return err
	}

	per := uint32(1)
	if depth == 2 {
		per = perBlk
	}
	children := (nsectors + per - 1) / per
	for i := uint32(0); i < children; i++ {
		sub := min(nsectors, per)
		if err := a.allocateIndirect(&blk[i], sub, depth-1); err != nil {
			return err
		}
		nsectors -= sub
	}

	if err := a.t.cache.Write(*entry, blk.encode()); err != nil {
		return fmt.Errorf("write indirect block %d: %w", *entry, err)
	}
	return nil
}

// deallocate releases every data and indirect sector of d. The record's own
// sector is left to the caller.
func (t *pointerTree) deallocate(d *diskInode) error {
	sectors := inode_store.SectorsFor(int64(d.Length))

	n := min(sectors, direct)
	for i := uint32(0); i < n; i++ {
		if err := t.fm.Release(d.Direct[i]); err != nil {
			return err
		}
	}
	sectors -= n
	if sectors == 0 {
		return nil
	}

	n = min(sectors, perBlk)
	if err := t.deallocateIndirect(d.Indirect, n, 1); err != nil {
		return err
	}
	sectors -= n
	if sectors == 0 {
		return nil
	}

	n = min(sectors, perBlk*perBlk)
	return t.deallocateIndirect(d.DoublyIndirect, n, 2)
}

func (t *pointerTree) deallocateIndirect(entry block_device.Sector, nsectors uint32, depth int) error {
	if depth == 0 {
		return t.fm.Release(entry)
	}

	blk, err := t.readIndirect(entry)
	if err != nil {
		return err
	}

	per := uint32(1)
	if depth == 2 {
		per = perBlk
	}
	children := (nsectors + per - 1) / per
	for i := uint32(0); i < children; i++ {
		sub := min(nsectors, per)
		if err := t.deallocateIndirect(blk[i], sub, depth-1); err != nil {
			return err
		}
		nsectors -= sub
	}
	return t.fm.Release(entry)
}
