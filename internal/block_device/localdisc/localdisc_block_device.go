package localdisc

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/AnishMulay/sectorfs/internal/block_device"
	"github.com/AnishMulay/sectorfs/internal/log_service"
)

// LocalDiscBlockDevice stores sectors in a single image file.
type LocalDiscBlockDevice struct {
	path    string
	file    *os.File
	sectors uint32
	ls      log_service.LogService

	closeOnce sync.Once
}

// NewLocalDiscBlockDevice opens the image at path. A missing image is
// created with the given number of sectors. An existing image keeps its own
// size and sectors is ignored.
func NewLocalDiscBlockDevice(path string, sectors uint32, ls log_service.LogService) (*LocalDiscBlockDevice, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	if info.Size() == 0 {
		if sectors == 0 {
			file.Close()
			return nil, fmt.Errorf("image %s is empty and no size was given", path)
		}
		if err := file.Truncate(int64(sectors) * block_device.SectorSize); err != nil {
			file.Close()
			return nil, err
		}
		ls.Info(log_service.LogEvent{
			Message:  "Created disk image",
			Metadata: map[string]any{"path": path, "sectors": sectors},
		})
	} else {
		if info.Size()%block_device.SectorSize != 0 {
			file.Close()
			return nil, fmt.Errorf("image %s size %d is not a multiple of %d", path, info.Size(), block_device.SectorSize)
		}
		sectors = uint32(info.Size() / block_device.SectorSize)
	}

	return &LocalDiscBlockDevice{
		path:    path,
		file:    file,
		sectors: sectors,
		ls:      ls,
	}, nil
}

func (d *LocalDiscBlockDevice) ReadSector(sector block_device.Sector, buf []byte) error {
	if err := block_device.CheckAccess(sector, buf, d.sectors); err != nil {
		return err
	}

	_, err := d.file.ReadAt(buf[:block_device.SectorSize], int64(sector)*block_device.SectorSize)
	if err != nil {
		d.ls.Error(log_service.LogEvent{
			Message:  "Failed to read sector",
			Metadata: map[string]any{"path": d.path, "sector": sector, "error": err.Error()},
		})
		return fmt.Errorf("read sector %d: %w", sector, err)
	}
	return nil
}

func (d *LocalDiscBlockDevice) WriteSector(sector block_device.Sector, buf []byte) error {
	if err := block_device.CheckAccess(sector, buf, d.sectors); err != nil {
		return err
	}

	_, err := d.file.WriteAt(buf[:block_device.SectorSize], int64(sector)*block_device.SectorSize)
	if err != nil {
		d.ls.Error(log_service.LogEvent{
			Message:  "Failed to write sector",
			Metadata: map[string]any{"path": d.path, "sector": sector, "error": err.Error()},
		})
		return fmt.Errorf("write sector %d: %w", sector, err)
	}
	return nil
}

func (d *LocalDiscBlockDevice) SectorCount() uint32 {
	return d.sectors
}

// Close syncs and closes the image. Only the first call has an effect.
func (d *LocalDiscBlockDevice) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if err = d.file.Sync(); err != nil {
			d.file.Close()
			return
		}
		err = d.file.Close()
	})
	return err
}

var _ block_device.Device = (*LocalDiscBlockDevice)(nil)
