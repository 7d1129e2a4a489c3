package bitmap

import (
	"testing"

	"github.com/AnishMulay/sectorfs/internal/block_cache/clock"
	"github.com/AnishMulay/sectorfs/internal/block_device"
	"github.com/AnishMulay/sectorfs/internal/block_device/memory"
	"github.com/AnishMulay/sectorfs/internal/free_map"
	logdisc "github.com/AnishMulay/sectorfs/internal/log_service/localdisc"
	"github.com/stretchr/testify/require"
)

func newTestFreeMap(t *testing.T, sectors uint32, reserved uint32) (*memory.MemoryBlockDevice, *clock.ClockBlockCache, *BitmapFreeMap) {
	t.Helper()
	ls := logdisc.NewLocalDiscLogService(t.TempDir(), "freemap-test")
	dev := memory.NewMemoryBlockDevice(sectors)
	cache := clock.NewClockBlockCache(dev, 8, ls)
	fm, err := Create(cache, sectors, 1, reserved, ls)
	require.NoError(t, err)
	return dev, cache, fm
}

func TestSectorsNeeded(t *testing.T) {
	tests := []struct {
		sectors uint32
		want    uint32
	}{
		{sectors: 1, want: 1},
		{sectors: BitsPerSector, want: 1},
		{sectors: BitsPerSector + 1, want: 2},
		{sectors: 3 * BitsPerSector, want: 3},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, SectorsNeeded(tt.sectors), "sectors=%d", tt.sectors)
	}
}

func TestBitmapFreeMap_CreateReservesPrefix(t *testing.T) {
	_, _, fm := newTestFreeMap(t, 100, 5)

	for s := block_device.Sector(0); s < 5; s++ {
		require.True(t, fm.IsAllocated(s), "sector %d", s)
	}
	require.False(t, fm.IsAllocated(5))
	require.False(t, fm.IsAllocated(1000))
	require.Equal(t, uint32(95), fm.FreeCount())
}

func TestBitmapFreeMap_AllocateFirstFit(t *testing.T) {
	_, _, fm := newTestFreeMap(t, 100, 2)

	for want := block_device.Sector(2); want < 10; want++ {
		got, err := fm.Allocate()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	require.Equal(t, uint32(90), fm.FreeCount())

	require.NoError(t, fm.Release(4))
	require.False(t, fm.IsAllocated(4))

	got, err := fm.Allocate()
	require.NoError(t, err)
	require.Equal(t, block_device.Sector(4), got)

	got, err = fm.Allocate()
	require.NoError(t, err)
	require.Equal(t, block_device.Sector(10), got)
}

func TestBitmapFreeMap_Exhaustion(t *testing.T) {
	_, _, fm := newTestFreeMap(t, 64, 2)

	seen := make(map[block_device.Sector]bool)
	for i := 0; i < 62; i++ {
		s, err := fm.Allocate()
		require.NoError(t, err)
		require.False(t, seen[s], "sector %d handed out twice", s)
		seen[s] = true
	}
	require.Zero(t, fm.FreeCount())

	_, err := fm.Allocate()
	require.ErrorIs(t, err, free_map.ErrNoSpace)

	require.NoError(t, fm.Release(40))
	s, err := fm.Allocate()
	require.NoError(t, err)
	require.Equal(t, block_device.Sector(40), s)
}

func TestBitmapFreeMap_ReleaseErrors(t *testing.T) {
	_, _, fm := newTestFreeMap(t, 64, 2)

	require.ErrorIs(t, fm.Release(10), free_map.ErrDoubleFree)
	require.ErrorIs(t, fm.Release(64), free_map.ErrInvalidSector)
	require.Equal(t, uint32(62), fm.FreeCount())
}

func TestBitmapFreeMap_CreateRejectsOversizedReservation(t *testing.T) {
	ls := logdisc.NewLocalDiscLogService(t.TempDir(), "freemap-test")
	dev := memory.NewMemoryBlockDevice(8)
	cache := clock.NewClockBlockCache(dev, 4, ls)

	_, err := Create(cache, 8, 1, 9, ls)
	require.ErrorIs(t, err, free_map.ErrNoSpace)
}

func TestBitmapFreeMap_PersistsAcrossLoad(t *testing.T) {
	const sectors = 2*BitsPerSector + 100

	ls := logdisc.NewLocalDiscLogService(t.TempDir(), "freemap-test")
	dev := memory.NewMemoryBlockDevice(sectors)
	cache := clock.NewClockBlockCache(dev, 8, ls)

	reserved := 1 + SectorsNeeded(sectors)
	fm, err := Create(cache, sectors, 1, reserved, ls)
	require.NoError(t, err)

	var allocated []block_device.Sector
	for i := 0; i < BitsPerSector+10; i++ {
		s, err := fm.Allocate()
		require.NoError(t, err)
		allocated = append(allocated, s)
	}
	require.NoError(t, fm.Release(allocated[7]))
	require.NoError(t, cache.FlushAll())

	fresh := clock.NewClockBlockCache(dev, 8, ls)
	loaded, err := Load(fresh, sectors, 1, ls)
	require.NoError(t, err)

	require.Equal(t, fm.FreeCount(), loaded.FreeCount())
	for i, s := range allocated {
		require.Equal(t, i != 7, loaded.IsAllocated(s), "sector %d", s)
	}

	s, err := loaded.Allocate()
	require.NoError(t, err)
	require.Equal(t, allocated[7], s)
}

func TestBitmapFreeMap_BitmapOutsideDevice(t *testing.T) {
	ls := logdisc.NewLocalDiscLogService(t.TempDir(), "freemap-test")
	dev := memory.NewMemoryBlockDevice(64)
	cache := clock.NewClockBlockCache(dev, 4, ls)

	_, err := Create(cache, 64, 64, 2, ls)
	require.ErrorIs(t, err, block_device.ErrSectorOutOfRange)

	_, err = Load(cache, 64, 70, ls)
	require.ErrorIs(t, err, block_device.ErrSectorOutOfRange)
}
