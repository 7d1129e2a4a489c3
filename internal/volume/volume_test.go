package volume

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/AnishMulay/sectorfs/internal/block_cache"
	"github.com/AnishMulay/sectorfs/internal/block_device"
	"github.com/AnishMulay/sectorfs/internal/block_device/localdisc"
	"github.com/AnishMulay/sectorfs/internal/block_device/memory"
	"github.com/AnishMulay/sectorfs/internal/free_map"
	"github.com/AnishMulay/sectorfs/internal/inode_store"
	"github.com/AnishMulay/sectorfs/internal/log_service"
	logdisc "github.com/AnishMulay/sectorfs/internal/log_service/localdisc"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) log_service.LogService {
	t.Helper()
	return logdisc.NewLocalDiscLogService(t.TempDir(), "volume-test")
}

func formatAndMount(t *testing.T, sectors uint32) (*memory.MemoryBlockDevice, *Volume) {
	t.Helper()
	ls := newTestLogger(t)
	dev := memory.NewMemoryBlockDevice(sectors)
	_, err := Format(dev, ls)
	require.NoError(t, err)
	v, err := Mount(dev, block_cache.DefaultCapacity, ls)
	require.NoError(t, err)
	return dev, v
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name    string
		sectors uint32
		wantErr error
		free    uint32
	}{
		{name: "too small", sectors: 2, wantErr: ErrDeviceTooSmall},
		{name: "single bitmap sector", sectors: 1024, free: 1022},
		{name: "two bitmap sectors", sectors: 5000, free: 4997},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ls := newTestLogger(t)
			dev := memory.NewMemoryBlockDevice(tt.sectors)

			id, err := Format(dev, ls)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotEqual(t, uuid.Nil, id)
			require.Equal(t, []byte("SFSV"), dev.Peek(HeaderSector)[:4])

			v, err := Mount(dev, 16, ls)
			require.NoError(t, err)
			info := v.Info()
			require.Equal(t, id, info.ID)
			require.Equal(t, tt.sectors, info.Sectors)
			require.Equal(t, tt.free, info.FreeSectors)
			require.Equal(t, FormatVersion, info.Version)
			require.Equal(t, 16, info.Cache.Capacity)
			require.NoError(t, v.Unmount())
		})
	}
}

func TestMountRejects(t *testing.T) {
	ls := newTestLogger(t)

	blank := memory.NewMemoryBlockDevice(64)
	_, err := Mount(blank, 8, ls)
	require.ErrorIs(t, err, ErrNotFormatted)

	small := memory.NewMemoryBlockDevice(64)
	_, err = Format(small, ls)
	require.NoError(t, err)
	hdr := make([]byte, block_device.SectorSize)
	require.NoError(t, small.ReadSector(HeaderSector, hdr))

	larger := memory.NewMemoryBlockDevice(128)
	require.NoError(t, larger.WriteSector(HeaderSector, hdr))
	_, err = Mount(larger, 8, ls)
	require.ErrorIs(t, err, ErrGeometryMismatch)

	flipped := bytes.Clone(hdr)
	flipped[30] ^= 0x01
	require.NoError(t, small.WriteSector(HeaderSector, flipped))
	_, err = Mount(small, 8, ls)
	require.ErrorIs(t, err, ErrCorruptHeader)

	h, err := decodeHeader(hdr)
	require.NoError(t, err)
	h.Version = 9
	require.NoError(t, small.WriteSector(HeaderSector, h.encode()))
	_, err = Mount(small, 8, ls)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestVolume_FileLifecycle(t *testing.T) {
	_, v := formatAndMount(t, 2048)
	free := v.Info().FreeSectors

	sector, err := v.CreateFile(3*block_device.SectorSize + 10)
	require.NoError(t, err)
	require.Equal(t, free-5, v.Info().FreeSectors)

	in, err := v.Open(sector)
	require.NoError(t, err)
	require.Equal(t, sector, in.Sector())
	_, err = in.WriteAt([]byte("hello"), 1000)
	require.NoError(t, err)
	require.Equal(t, 1, v.Info().OpenInodes)

	require.ErrorIs(t, v.Unmount(), ErrBusy)

	require.NoError(t, v.RemoveFile(sector))
	require.True(t, in.IsRemoved())
	require.Equal(t, free-5, v.Info().FreeSectors)

	require.NoError(t, in.Close())
	require.Equal(t, free, v.Info().FreeSectors)
	require.NoError(t, v.Unmount())

	_, err = v.CreateFile(10)
	require.ErrorIs(t, err, ErrUnmounted)
	require.ErrorIs(t, v.Unmount(), ErrUnmounted)
}

func TestVolume_CreateFileFailureReleasesInodeSector(t *testing.T) {
	_, v := formatAndMount(t, 64)
	free := v.Info().FreeSectors

	_, err := v.CreateFile(int64(free) * block_device.SectorSize)
	require.ErrorIs(t, err, free_map.ErrNoSpace)
	require.Equal(t, free, v.Info().FreeSectors)

	_, err = v.CreateFile(-1)
	require.ErrorIs(t, err, inode_store.ErrInvalidLength)
	require.Equal(t, free, v.Info().FreeSectors)

	sector, err := v.CreateFile(int64(free-1) * block_device.SectorSize)
	require.NoError(t, err)
	require.Zero(t, v.Info().FreeSectors)
	require.NoError(t, v.RemoveFile(sector))
	require.Equal(t, free, v.Info().FreeSectors)
}

func TestVolume_RemountImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	ls := newTestLogger(t)

	dev, err := localdisc.NewLocalDiscBlockDevice(path, 4096, ls)
	require.NoError(t, err)
	id, err := Format(dev, ls)
	require.NoError(t, err)

	v, err := Mount(dev, 8, ls)
	require.NoError(t, err)

	length := int64(200 * block_device.SectorSize)
	sector, err := v.CreateFile(length)
	require.NoError(t, err)
	data := bytes.Repeat([]byte("sectorfs"), int(length)/8)

	in, err := v.Open(sector)
	require.NoError(t, err)
	n, err := in.WriteAt(data, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, in.Close())
	free := v.Info().FreeSectors
	require.NoError(t, v.Unmount())

	dev, err = localdisc.NewLocalDiscBlockDevice(path, 0, ls)
	require.NoError(t, err)
	v, err = Mount(dev, 8, ls)
	require.NoError(t, err)
	require.Equal(t, id, v.ID())
	require.Equal(t, free, v.Info().FreeSectors)

	in, err = v.Open(sector)
	require.NoError(t, err)
	got := make([]byte, length)
	_, err = in.ReadAt(got, 0)
	require.NoError(t, err)
	require.Equal(t, data, got)
	require.NoError(t, in.Close())
	require.NoError(t, v.Unmount())
}
