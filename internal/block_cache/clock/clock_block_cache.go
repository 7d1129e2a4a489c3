package clock

import (
	"fmt"
	"sync"

	"github.com/AnishMulay/sectorfs/internal/block_cache"
	"github.com/AnishMulay/sectorfs/internal/block_device"
	"github.com/AnishMulay/sectorfs/internal/log_service"
)

type cacheEntry struct {
	sector   block_device.Sector
	data     [block_device.SectorSize]byte
	accessed bool
	dirty    bool
	free     bool
}

// ClockBlockCache is a fixed array of sector slots replaced with the clock
// (second chance) algorithm. A single mutex covers the slots and the hand.
type ClockBlockCache struct {
	mu      sync.Mutex
	dev     block_device.Device
	ls      log_service.LogService
	entries []cacheEntry
	hand    int

	hits       uint64
	misses     uint64
	evictions  uint64
	writeBacks uint64
}

func NewClockBlockCache(dev block_device.Device, capacity int, ls log_service.LogService) *ClockBlockCache {
	if capacity <= 0 {
		capacity = block_cache.DefaultCapacity
	}

	entries := make([]cacheEntry, capacity)
	for i := range entries {
		entries[i].free = true
	}

	ls.Info(log_service.LogEvent{
		Message:  "Initialized block cache",
		Metadata: map[string]any{"capacity": capacity, "sectors": dev.SectorCount()},
	})

	return &ClockBlockCache{
		dev:     dev,
		ls:      ls,
		entries: entries,
	}
}

func (c *ClockBlockCache) Read(sector block_device.Sector, buf []byte) error {
	if len(buf) < block_device.SectorSize {
		return block_device.ErrShortBuffer
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.lookup(sector)
	if e == nil {
		var err error
		if e, err = c.load(sector, true); err != nil {
			return err
		}
	}

	e.accessed = true
	copy(buf, e.data[:])
	return nil
}

func (c *ClockBlockCache) Write(sector block_device.Sector, buf []byte) error {
	if len(buf) < block_device.SectorSize {
		return block_device.ErrShortBuffer
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.lookup(sector)
	if e == nil {
		// the whole sector is replaced, so its old content is not read
		var err error
		if e, err = c.load(sector, false); err != nil {
			return err
		}
	}

	e.accessed = true
	e.dirty = true
	copy(e.data[:], buf[:block_device.SectorSize])
	return nil
}

// FlushAll writes every dirty slot back to the device. Slots stay resident.
// The first device error stops the flush and is returned.
func (c *ClockBlockCache) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	flushed := 0
	for i := range c.entries {
		e := &c.entries[i]
		if e.free || !e.dirty {
			continue
		}
		if err := c.writeBack(e); err != nil {
			return err
		}
		flushed++
	}

	c.ls.Debug(log_service.LogEvent{
		Message:  "Flushed block cache",
		Metadata: map[string]any{"flushed": flushed},
	})
	return nil
}

func (c *ClockBlockCache) Stats() block_cache.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := block_cache.Stats{
		Capacity:   len(c.entries),
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		WriteBacks: c.writeBacks,
	}
	for i := range c.entries {
		if c.entries[i].free {
			continue
		}
		s.Resident++
		if c.entries[i].dirty {
			s.Dirty++
		}
	}
	return s
}

func (c *ClockBlockCache) lookup(sector block_device.Sector) *cacheEntry {
	for i := range c.entries {
		e := &c.entries[i]
		if !e.free && e.sector == sector {
			c.hits++
			return e
		}
	}
	c.misses++
	return nil
}

// load binds a slot to sector, evicting if needed. With fill set the
// sector's content is read from the device.
func (c *ClockBlockCache) load(sector block_device.Sector, fill bool) (*cacheEntry, error) {
	if uint32(sector) >= c.dev.SectorCount() {
		return nil, fmt.Errorf("cache access to sector %d: %w", sector, block_device.ErrSectorOutOfRange)
	}

	e, err := c.evict()
	if err != nil {
		return nil, err
	}

	if fill {
		if err := c.dev.ReadSector(sector, e.data[:]); err != nil {
			c.ls.Error(log_service.LogEvent{
				Message:  "Failed to load sector into cache",
				Metadata: map[string]any{"sector": sector, "error": err.Error()},
			})
			return nil, fmt.Errorf("load sector %d: %w", sector, err)
		}
	}

	e.sector = sector
	e.free = false
	e.dirty = false
	e.accessed = true
	return e, nil
}

// evict runs the clock hand until it finds a free slot or one whose accessed
// bit is already clear. The victim is written back if dirty and returned
// free.
func (c *ClockBlockCache) evict() (*cacheEntry, error) {
	for {
		e := &c.entries[c.hand]
		c.hand = (c.hand + 1) % len(c.entries)

		if e.free {
			return e, nil
		}
		if e.accessed {
			e.accessed = false
			continue
		}

		if e.dirty {
			if err := c.writeBack(e); err != nil {
				return nil, err
			}
		}

		c.evictions++
		c.ls.Debug(log_service.LogEvent{
			Message:  "Evicted sector",
			Metadata: map[string]any{"sector": e.sector},
		})
		e.free = true
		return e, nil
	}
}

func (c *ClockBlockCache) writeBack(e *cacheEntry) error {
	if err := c.dev.WriteSector(e.sector, e.data[:]); err != nil {
		c.ls.Error(log_service.LogEvent{
			Message:  "Failed to write back sector",
			Metadata: map[string]any{"sector": e.sector, "error": err.Error()},
		})
		return fmt.Errorf("write back sector %d: %w", e.sector, err)
	}
	e.dirty = false
	c.writeBacks++
	return nil
}

var _ block_cache.BlockCache = (*ClockBlockCache)(nil)
