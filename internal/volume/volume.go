package volume

import (
	"fmt"
	"sync"
	"time"

	"github.com/AnishMulay/sectorfs/internal/block_cache"
	"github.com/AnishMulay/sectorfs/internal/block_cache/clock"
	"github.com/AnishMulay/sectorfs/internal/block_device"
	"github.com/AnishMulay/sectorfs/internal/free_map/bitmap"
	"github.com/AnishMulay/sectorfs/internal/inode_store"
	"github.com/AnishMulay/sectorfs/internal/inode_store/indexed"
	"github.com/AnishMulay/sectorfs/internal/log_service"
	"github.com/google/uuid"
)

// formatCacheCapacity is the cache size used while laying out a fresh
// volume.
const formatCacheCapacity = 8

// Volume owns the cache, free map and inode store of one mounted device.
// They live from Mount until Unmount.
type Volume struct {
	mu      sync.Mutex
	mounted bool

	dev    block_device.Device
	cache  block_cache.BlockCache
	fm     *bitmap.BitmapFreeMap
	store  *indexed.IndexedInodeStore
	header *header
	ls     log_service.LogService
}

type Info struct {
	ID          uuid.UUID
	Version     uint32
	FormattedAt time.Time
	Sectors     uint32
	FreeSectors uint32
	OpenInodes  int
	Cache       block_cache.Stats
}

// Format lays out an empty volume on dev: the header in sector 0 followed by
// the free map. Existing content is ignored.
func Format(dev block_device.Device, ls log_service.LogService) (uuid.UUID, error) {
	sectors := dev.SectorCount()
	bm := bitmap.SectorsNeeded(sectors)
	h := newHeader(sectors, bm)
	if sectors <= h.reserved() {
		return uuid.Nil, fmt.Errorf("format %d sectors: %w", sectors, ErrDeviceTooSmall)
	}

	cache := clock.NewClockBlockCache(dev, formatCacheCapacity, ls)
	if _, err := bitmap.Create(cache, sectors, BitmapStart, h.reserved(), ls); err != nil {
		return uuid.Nil, fmt.Errorf("format free map: %w", err)
	}
	if err := cache.Write(HeaderSector, h.encode()); err != nil {
		return uuid.Nil, fmt.Errorf("format header: %w", err)
	}
	if err := cache.FlushAll(); err != nil {
		return uuid.Nil, fmt.Errorf("format flush: %w", err)
	}

	ls.Info(log_service.LogEvent{
		Message:  "Formatted volume",
		Metadata: map[string]any{"id": h.ID.String(), "sectors": sectors, "bitmapSectors": bm},
	})
	return h.ID, nil
}

// Mount validates the header on dev and brings up a cache of the given
// capacity, the free map and the inode store.
func Mount(dev block_device.Device, capacity int, ls log_service.LogService) (*Volume, error) {
	cache := clock.NewClockBlockCache(dev, capacity, ls)

	buf := make([]byte, block_device.SectorSize)
	if err := cache.Read(HeaderSector, buf); err != nil {
		return nil, fmt.Errorf("read volume header: %w", err)
	}
	h, err := decodeHeader(buf)
	if err != nil {
		ls.Error(log_service.LogEvent{
			Message:  "Failed to mount volume",
			Metadata: map[string]any{"error": err.Error()},
		})
		return nil, fmt.Errorf("mount: %w", err)
	}
	if h.Sectors != dev.SectorCount() || h.BitmapSectors != bitmap.SectorsNeeded(h.Sectors) {
		return nil, fmt.Errorf("header says %d sectors, device has %d: %w", h.Sectors, dev.SectorCount(), ErrGeometryMismatch)
	}

	fm, err := bitmap.Load(cache, h.Sectors, block_device.Sector(h.BitmapStart), ls)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}

	v := &Volume{
		mounted: true,
		dev:     dev,
		cache:   cache,
		fm:      fm,
		store:   indexed.NewIndexedInodeStore(cache, fm, ls),
		header:  h,
		ls:      ls,
	}

	ls.Info(log_service.LogEvent{
		Message:  "Mounted volume",
		Metadata: map[string]any{"id": h.ID.String(), "sectors": h.Sectors, "free": fm.FreeCount(), "cacheCapacity": capacity},
	})
	return v, nil
}

func (v *Volume) check() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.mounted {
		return ErrUnmounted
	}
	return nil
}

func (v *Volume) ID() uuid.UUID { return v.header.ID }

// Store exposes the inode store for callers that manage sectors themselves.
func (v *Volume) Store() inode_store.InodeStore { return v.store }

// CreateFile allocates an inode sector and creates a file of length bytes
// in it. The returned sector is the file's inode number.
func (v *Volume) CreateFile(length int64) (block_device.Sector, error) {
	if err := v.check(); err != nil {
		return block_device.NoSector, err
	}

	sector, err := v.fm.Allocate()
	if err != nil {
		return block_device.NoSector, fmt.Errorf("allocate inode sector: %w", err)
	}
	if err := v.store.Create(sector, length); err != nil {
		if rerr := v.fm.Release(sector); rerr != nil {
			v.ls.Error(log_service.LogEvent{
				Message:  "Failed to release inode sector after failed create",
				Metadata: map[string]any{"sector": sector, "error": rerr.Error()},
			})
		}
		return block_device.NoSector, err
	}

	v.ls.Info(log_service.LogEvent{
		Message:  "Created file",
		Metadata: map[string]any{"inode": sector, "length": length},
	})
	return sector, nil
}

func (v *Volume) Open(sector block_device.Sector) (inode_store.Inode, error) {
	if err := v.check(); err != nil {
		return nil, err
	}
	return v.store.Open(sector)
}

// RemoveFile marks the file removed. Its storage goes back to the free map
// once every open handle is closed.
func (v *Volume) RemoveFile(sector block_device.Sector) error {
	in, err := v.Open(sector)
	if err != nil {
		return err
	}
	in.Remove()

	v.ls.Info(log_service.LogEvent{
		Message:  "Removed file",
		Metadata: map[string]any{"inode": sector},
	})
	return in.Close()
}

func (v *Volume) Info() Info {
	return Info{
		ID:          v.header.ID,
		Version:     v.header.Version,
		FormattedAt: time.Unix(v.header.FormattedAt, 0),
		Sectors:     v.header.Sectors,
		FreeSectors: v.fm.FreeCount(),
		OpenInodes:  v.store.OpenCount(),
		Cache:       v.cache.Stats(),
	}
}

// Sync writes every dirty cached sector to the device.
func (v *Volume) Sync() error {
	if err := v.check(); err != nil {
		return err
	}
	return v.cache.FlushAll()
}

// Unmount flushes the cache and closes the device. It refuses while any
// inode is open.
func (v *Volume) Unmount() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.mounted {
		return ErrUnmounted
	}
	if n := v.store.OpenCount(); n > 0 {
		return fmt.Errorf("unmount with %d open inodes: %w", n, ErrBusy)
	}

	if err := v.cache.FlushAll(); err != nil {
		v.ls.Error(log_service.LogEvent{
			Message:  "Failed to flush cache on unmount",
			Metadata: map[string]any{"error": err.Error()},
		})
		return fmt.Errorf("unmount: %w", err)
	}
	v.mounted = false

	stats := v.cache.Stats()
	v.ls.Info(log_service.LogEvent{
		Message: "Unmounted volume",
		Metadata: map[string]any{
			"id":         v.header.ID.String(),
			"hits":       stats.Hits,
			"misses":     stats.Misses,
			"writeBacks": stats.WriteBacks,
		},
	})
	return v.dev.Close()
}
