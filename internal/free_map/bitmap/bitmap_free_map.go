package bitmap

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/AnishMulay/sectorfs/internal/block_cache"
	"github.com/AnishMulay/sectorfs/internal/block_device"
	"github.com/AnishMulay/sectorfs/internal/free_map"
	"github.com/AnishMulay/sectorfs/internal/log_service"
)

// BitsPerSector is the number of device sectors one bitmap sector covers.
const BitsPerSector = block_device.SectorSize * 8

// SectorsNeeded returns how many bitmap sectors a device of n sectors needs.
func SectorsNeeded(n uint32) uint32 {
	return (n + BitsPerSector - 1) / BitsPerSector
}

// BitmapFreeMap keeps one bit per device sector, set when the sector is in
// use. The bitmap lives in a run of sectors starting at start and every
// change is written through the block cache.
type BitmapFreeMap struct {
	mu      sync.Mutex
	cache   block_cache.BlockCache
	ls      log_service.LogService
	start   block_device.Sector
	sectors uint32
	bits    []byte
	free    uint32
	search  uint32
}

// Create builds an empty free map for a device of the given size, marks
// sectors [0, reserved) as used and writes the whole bitmap.
func Create(cache block_cache.BlockCache, sectors uint32, start block_device.Sector, reserved uint32, ls log_service.LogService) (*BitmapFreeMap, error) {
	if reserved > sectors {
		return nil, fmt.Errorf("reserve %d of %d sectors: %w", reserved, sectors, free_map.ErrNoSpace)
	}

	fm := newBitmapFreeMap(cache, sectors, start, ls)
	for s := uint32(0); s < reserved; s++ {
		fm.set(s)
	}
	fm.free = sectors - reserved
	fm.search = reserved

	for i := uint32(0); i < SectorsNeeded(sectors); i++ {
		if err := fm.persist(i * BitsPerSector); err != nil {
			return nil, err
		}
	}

	ls.Info(log_service.LogEvent{
		Message:  "Created free map",
		Metadata: map[string]any{"sectors": sectors, "reserved": reserved, "bitmapStart": start},
	})
	return fm, nil
}

// Load reads an existing bitmap from the device through the cache.
func Load(cache block_cache.BlockCache, sectors uint32, start block_device.Sector, ls log_service.LogService) (*BitmapFreeMap, error) {
	fm := newBitmapFreeMap(cache, sectors, start, ls)

	buf := make([]byte, block_device.SectorSize)
	for i := uint32(0); i < SectorsNeeded(sectors); i++ {
		if err := cache.Read(start+block_device.Sector(i), buf); err != nil {
			return nil, fmt.Errorf("load free map sector %d: %w", i, err)
		}
		copy(fm.bits[i*block_device.SectorSize:], buf)
	}

	used := uint32(0)
	for s := uint32(0); s < sectors; s++ {
		if fm.test(s) {
			used++
		}
	}
	fm.free = sectors - used

	ls.Info(log_service.LogEvent{
		Message:  "Loaded free map",
		Metadata: map[string]any{"sectors": sectors, "free": fm.free},
	})
	return fm, nil
}

func newBitmapFreeMap(cache block_cache.BlockCache, sectors uint32, start block_device.Sector, ls log_service.LogService) *BitmapFreeMap {
	return &BitmapFreeMap{
		cache:   cache,
		ls:      ls,
		start:   start,
		sectors: sectors,
		bits:    make([]byte, SectorsNeeded(sectors)*block_device.SectorSize),
	}
}

func (fm *BitmapFreeMap) Allocate() (block_device.Sector, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	s, ok := fm.findFree()
	if !ok {
		fm.ls.Warn(log_service.LogEvent{
			Message:  "Free map exhausted",
			Metadata: map[string]any{"sectors": fm.sectors},
		})
		return block_device.NoSector, free_map.ErrNoSpace
	}

	fm.set(s)
	if err := fm.persist(s); err != nil {
		fm.clear(s)
		return block_device.NoSector, err
	}

	fm.free--
	fm.search = s + 1
	return block_device.Sector(s), nil
}

func (fm *BitmapFreeMap) Release(sector block_device.Sector) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	s := uint32(sector)
	if s >= fm.sectors {
		return fmt.Errorf("release sector %d: %w", sector, free_map.ErrInvalidSector)
	}
	if !fm.test(s) {
		fm.ls.Error(log_service.LogEvent{
			Message:  "Release of free sector",
			Metadata: map[string]any{"sector": sector},
		})
		return fmt.Errorf("release sector %d: %w", sector, free_map.ErrDoubleFree)
	}

	fm.clear(s)
	if err := fm.persist(s); err != nil {
		fm.set(s)
		return err
	}

	fm.free++
	if s < fm.search {
		fm.search = s
	}
	return nil
}

func (fm *BitmapFreeMap) IsAllocated(sector block_device.Sector) bool {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return uint32(sector) < fm.sectors && fm.test(uint32(sector))
}

func (fm *BitmapFreeMap) FreeCount() uint32 {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.free
}

// findFree scans whole bytes from the search hint, wrapping once.
func (fm *BitmapFreeMap) findFree() (uint32, bool) {
	if fm.free == 0 {
		return 0, false
	}

	nbytes := (fm.sectors + 7) / 8
	first := (fm.search % fm.sectors) / 8
	for i := uint32(0); i < nbytes; i++ {
		idx := (first + i) % nbytes
		b := fm.bits[idx]
		if b == 0xFF {
			continue
		}
		s := idx*8 + uint32(bits.TrailingZeros8(^b))
		if s < fm.sectors {
			return s, true
		}
	}
	return 0, false
}

func (fm *BitmapFreeMap) persist(s uint32) error {
	idx := s / BitsPerSector
	off := idx * block_device.SectorSize
	sector := fm.start + block_device.Sector(idx)
	if err := fm.cache.Write(sector, fm.bits[off:off+block_device.SectorSize]); err != nil {
		return fmt.Errorf("persist free map sector %d: %w", sector, err)
	}
	return nil
}

func (fm *BitmapFreeMap) test(s uint32) bool {
	return fm.bits[s/8]&(1<<(s%8)) != 0
}

func (fm *BitmapFreeMap) set(s uint32) {
	fm.bits[s/8] |= 1 << (s % 8)
}

func (fm *BitmapFreeMap) clear(s uint32) {
	fm.bits[s/8] &^= 1 << (s % 8)
}

var _ free_map.FreeMap = (*BitmapFreeMap)(nil)
