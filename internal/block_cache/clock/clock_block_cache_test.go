package clock

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/AnishMulay/sectorfs/internal/block_device"
	"github.com/AnishMulay/sectorfs/internal/block_device/memory"
	logdisc "github.com/AnishMulay/sectorfs/internal/log_service/localdisc"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func newTestCache(t *testing.T, sectors uint32, capacity int) (*memory.MemoryBlockDevice, *ClockBlockCache) {
	t.Helper()
	ls := logdisc.NewLocalDiscLogService(t.TempDir(), "cache-test")
	dev := memory.NewMemoryBlockDevice(sectors)
	return dev, NewClockBlockCache(dev, capacity, ls)
}

func fill(b byte) []byte {
	return bytes.Repeat([]byte{b}, block_device.SectorSize)
}

func TestClockBlockCache_WriteVisibility(t *testing.T) {
	tests := []struct {
		name     string
		resident bool
	}{
		{name: "sector not resident", resident: false},
		{name: "sector already resident", resident: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c := newTestCache(t, 16, 4)
			buf := make([]byte, block_device.SectorSize)
			if tt.resident {
				require.NoError(t, c.Read(5, buf))
			}

			require.NoError(t, c.Write(5, fill(0x42)))
			require.NoError(t, c.Read(5, buf))
			require.Equal(t, fill(0x42), buf)
		})
	}
}

func TestClockBlockCache_ServesHitsFromMemory(t *testing.T) {
	dev, c := newTestCache(t, 16, 4)
	buf := make([]byte, block_device.SectorSize)

	require.NoError(t, c.Read(3, buf))
	require.NoError(t, c.Read(3, buf))
	require.NoError(t, c.Read(3, buf))

	reads, _ := dev.Counters()
	require.Equal(t, 1, reads)

	stats := c.Stats()
	require.Equal(t, uint64(2), stats.Hits)
	require.Equal(t, uint64(1), stats.Misses)
	require.Equal(t, 1, stats.Resident)
}

func TestClockBlockCache_WriteMissSkipsDeviceRead(t *testing.T) {
	dev, c := newTestCache(t, 16, 4)

	require.NoError(t, c.Write(7, fill(1)))

	reads, writes := dev.Counters()
	require.Equal(t, 0, reads)
	require.Equal(t, 0, writes, "write-back cache must not write through")
}

func TestClockBlockCache_SecondChanceOrder(t *testing.T) {
	_, c := newTestCache(t, 16, 3)
	buf := make([]byte, block_device.SectorSize)

	for _, s := range []block_device.Sector{0, 1, 2} {
		require.NoError(t, c.Read(s, buf))
	}
	// every slot is accessed: the hand clears all three and takes slot 0
	require.NoError(t, c.Read(3, buf))
	// sector 1 gets its accessed bit back, so the next victim is sector 2
	require.NoError(t, c.Read(1, buf))
	require.NoError(t, c.Read(4, buf))

	before := c.Stats()
	require.NoError(t, c.Read(1, buf))
	require.NoError(t, c.Read(3, buf))
	require.NoError(t, c.Read(4, buf))
	after := c.Stats()
	require.Equal(t, before.Hits+3, after.Hits)
	require.Equal(t, before.Misses, after.Misses)

	require.NoError(t, c.Read(2, buf))
	require.Equal(t, after.Misses+1, c.Stats().Misses)
}

func TestClockBlockCache_EvictionKeepsDirtyData(t *testing.T) {
	dev, c := newTestCache(t, 64, 4)

	for i := 0; i < 32; i++ {
		require.NoError(t, c.Write(block_device.Sector(i), fill(byte(i+1))))
	}

	stats := c.Stats()
	require.Equal(t, 4, stats.Resident)
	require.Equal(t, uint64(28), stats.Evictions)
	require.Equal(t, uint64(28), stats.WriteBacks)

	buf := make([]byte, block_device.SectorSize)
	for i := 0; i < 32; i++ {
		require.NoError(t, c.Read(block_device.Sector(i), buf))
		require.Equal(t, fill(byte(i+1)), buf, "sector %d", i)
	}

	require.NoError(t, c.FlushAll())
	for i := 0; i < 32; i++ {
		require.Equal(t, fill(byte(i+1)), dev.Peek(block_device.Sector(i)), "sector %d on device", i)
	}
}

func TestClockBlockCache_FlushAll(t *testing.T) {
	dev, c := newTestCache(t, 16, 8)

	require.NoError(t, c.Write(1, fill(9)))
	require.NoError(t, c.Write(2, fill(8)))
	require.Equal(t, make([]byte, block_device.SectorSize), dev.Peek(1))

	require.NoError(t, c.FlushAll())
	require.Equal(t, fill(9), dev.Peek(1))
	require.Equal(t, fill(8), dev.Peek(2))
	require.Equal(t, 0, c.Stats().Dirty)

	_, writes := dev.Counters()
	require.NoError(t, c.FlushAll())
	_, writesAfter := dev.Counters()
	require.Equal(t, writes, writesAfter, "clean slots are not written again")
}

func TestClockBlockCache_DeviceErrors(t *testing.T) {
	boom := errors.New("media error")

	t.Run("load failure", func(t *testing.T) {
		dev, c := newTestCache(t, 16, 2)
		dev.SetFault(func(op string, sector block_device.Sector) error {
			if op == "read" {
				return boom
			}
			return nil
		})

		err := c.Read(4, make([]byte, block_device.SectorSize))
		require.ErrorIs(t, err, boom)
		require.Equal(t, 0, c.Stats().Resident)
	})

	t.Run("write-back failure keeps dirty data", func(t *testing.T) {
		dev, c := newTestCache(t, 16, 1)
		require.NoError(t, c.Write(1, fill(0x77)))

		dev.SetFault(func(op string, sector block_device.Sector) error {
			if op == "write" {
				return boom
			}
			return nil
		})
		buf := make([]byte, block_device.SectorSize)
		require.ErrorIs(t, c.Read(2, buf), boom)
		require.ErrorIs(t, c.FlushAll(), boom)

		dev.SetFault(nil)
		require.NoError(t, c.Read(1, buf))
		require.Equal(t, fill(0x77), buf)
		require.NoError(t, c.FlushAll())
		require.Equal(t, fill(0x77), dev.Peek(1))
	})

	t.Run("out of range", func(t *testing.T) {
		_, c := newTestCache(t, 16, 2)
		err := c.Write(16, fill(1))
		require.ErrorIs(t, err, block_device.ErrSectorOutOfRange)
	})

	t.Run("short buffer", func(t *testing.T) {
		_, c := newTestCache(t, 16, 2)
		require.ErrorIs(t, c.Read(0, make([]byte, 3)), block_device.ErrShortBuffer)
		require.ErrorIs(t, c.Write(0, make([]byte, 3)), block_device.ErrShortBuffer)
	})
}

func TestClockBlockCache_RandomWorkload(t *testing.T) {
	const sectors = 64
	dev, c := newTestCache(t, sectors, 8)
	rng := rand.New(rand.NewSource(20240611))

	shadow := make(map[block_device.Sector][]byte)
	buf := make([]byte, block_device.SectorSize)

	for i := 0; i < 4000; i++ {
		s := block_device.Sector(rng.Intn(sectors))
		if rng.Intn(3) == 0 {
			data := fill(byte(rng.Intn(256)))
			require.NoError(t, c.Write(s, data))
			shadow[s] = data
			continue
		}

		require.NoError(t, c.Read(s, buf))
		want, ok := shadow[s]
		if !ok {
			want = make([]byte, block_device.SectorSize)
		}
		require.Equal(t, want, buf, "op %d sector %d", i, s)
	}

	require.NoError(t, c.FlushAll())
	for s, want := range shadow {
		require.Equal(t, want, dev.Peek(s), "sector %d on device", s)
	}
}

func TestClockBlockCache_ConcurrentClients(t *testing.T) {
	_, c := newTestCache(t, 128, 8)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			buf := make([]byte, block_device.SectorSize)
			for round := 0; round < 50; round++ {
				for k := 0; k < 4; k++ {
					s := block_device.Sector(w*16 + k)
					data := fill(byte(w*4 + k + round))
					if err := c.Write(s, data); err != nil {
						t.Error(err)
						return
					}
					if err := c.Read(s, buf); err != nil {
						t.Error(err)
						return
					}
					if !bytes.Equal(buf, data) {
						t.Errorf("worker %d sector %d: stale data", w, s)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()
}
