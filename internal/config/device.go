package config

import (
	"context"
	"fmt"

	"github.com/AnishMulay/sectorfs/internal/block_device"
	"github.com/AnishMulay/sectorfs/internal/block_device/grpcdisk"
	"github.com/AnishMulay/sectorfs/internal/block_device/localdisc"
	"github.com/AnishMulay/sectorfs/internal/block_device/memory"
	"github.com/AnishMulay/sectorfs/internal/log_service"
)

// OpenDevice opens the block device the configuration selects.
func (c *Config) OpenDevice(ctx context.Context, ls log_service.LogService) (block_device.Device, error) {
	switch c.Device.Type {
	case DeviceMemory:
		return memory.NewMemoryBlockDevice(c.Device.Sectors), nil
	case DeviceFile:
		dev, err := localdisc.NewLocalDiscBlockDevice(c.Device.Image, c.Device.Sectors, ls)
		if err != nil {
			return nil, err
		}
		return dev, nil
	case DeviceRemote:
		dev, err := grpcdisk.Dial(ctx, c.Device.Address, ls)
		if err != nil {
			return nil, err
		}
		return dev, nil
	default:
		return nil, fmt.Errorf("%w: unknown device type %q", ErrInvalidConfig, c.Device.Type)
	}
}
